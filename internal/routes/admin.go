package routes

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/doorlink/doorlink/internal/identity"
)

const adminUser = "superuser"

// RegisterAdminRoutes wires the force-confirm endpoint. It authenticates with
// HTTP Basic against the superuser secret and replies with plain ok/ko text.
// Extra handlers run before the endpoint itself.
func RegisterAdminRoutes(app fiber.Router, identities *identity.Service, superSecret string, logger *slog.Logger, pre ...fiber.Handler) {
	handler := func(c *fiber.Ctx) error {
		user, password, ok := basicCredentials(c.Get(fiber.HeaderAuthorization))
		if !ok || user != adminUser || subtle.ConstantTimeCompare([]byte(password), []byte(superSecret)) != 1 {
			return c.Status(http.StatusUnauthorized).SendString("Unauthorized")
		}

		var req struct {
			DoorID   string `json:"uuid"`
			PersonID string `json:"pid"`
		}
		if err := c.BodyParser(&req); err != nil || req.DoorID == "" || req.PersonID == "" {
			return c.Status(http.StatusBadRequest).SendString("ko")
		}

		if _, err := identities.Confirm(c.UserContext(), req.DoorID, req.PersonID, true); err != nil {
			logger.Error("admin confirm failed", slog.String("door_id", req.DoorID), slog.String("person_id", req.PersonID), slog.Any("error", err))
			return c.Status(http.StatusInternalServerError).SendString("ko")
		}
		return c.SendString("ok")
	}

	app.Post("/confirm", append(pre, handler)...)
}

func basicCredentials(header string) (string, string, bool) {
	const prefix = "basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return user, password, true
}
