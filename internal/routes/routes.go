package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/doorlink/doorlink/internal/authz"
	"github.com/doorlink/doorlink/internal/config"
	"github.com/doorlink/doorlink/internal/identity"
	"github.com/doorlink/doorlink/internal/middleware"
	"github.com/doorlink/doorlink/internal/notification"
	"github.com/doorlink/doorlink/internal/referral"
	"github.com/doorlink/doorlink/internal/registry"
	"github.com/doorlink/doorlink/internal/relay"
	"github.com/doorlink/doorlink/internal/store"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares, the relay websocket endpoint and all HTTP routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce Postgres presence outside of dev, even though main also checks.
	if d.DB == nil && !d.Cfg.IsDev() {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	// Document store
	var docs store.Store
	if d.DB != nil {
		pg := store.NewPostgres(d.DB)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			return err
		}
		docs = pg
	} else {
		docs = store.NewMemory()
	}

	// Core services
	identities := identity.NewService(docs, identity.NewCache(d.Cfg.CacheTTL))
	auth := authz.New(d.Cfg.GeneralSecret, d.Cfg.DeviceSecret, d.Cfg.SuperuserSecret, identities)
	notifier := notification.NewLoggerNotifier(d.Logger)
	referrals := referral.NewService(docs, notifier, d.Logger)
	router := relay.NewRouter(auth, identities, referrals, registry.New(), d.Cfg.Anonymous, d.Cfg.ForwardTimeout, d.Logger)

	// Health
	RegisterHealthRoutes(app, d)

	// Duplex command channel
	app.Use("/ws", relay.Upgrade)
	app.Get("/ws", router.Handler())

	// Admin surface: audited and throttled.
	RegisterAdminRoutes(app, identities, d.Cfg.SuperuserSecret, d.Logger,
		middleware.Audit(d.Logger), middleware.AdminRateLimit(d.Cache, 5))

	// Phone web app
	app.Static("/", "./public")

	return nil
}
