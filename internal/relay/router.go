package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/doorlink/doorlink/internal/authz"
	"github.com/doorlink/doorlink/internal/identity"
	"github.com/doorlink/doorlink/internal/referral"
	"github.com/doorlink/doorlink/internal/registry"
)

// StatusGatewayTimeout is returned when a registered device never
// acknowledges a forwarded command within the forward timeout.
const StatusGatewayTimeout = http.StatusGatewayTimeout

type role int

const (
	roleNone role = iota
	roleDevice
	roleRemote
)

// session is the per-connection protocol state. A connection registers at
// most once; its role is terminal for the life of the connection.
type session struct {
	mu     sync.Mutex
	conn   *wsConn
	role   role
	doorID string
}

// Response is the reply payload for one command.
type Response struct {
	Status   int `json:"status"`
	Response any `json:"response,omitempty"`
}

// Router authorizes inbound commands and moves them between the phones and
// the door controller through the connection registry.
type Router struct {
	auth           *authz.Authorizer
	identities     *identity.Service
	referrals      *referral.Service
	registry       *registry.Registry
	anonymous      bool
	forwardTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewRouter builds the command router.
func NewRouter(auth *authz.Authorizer, identities *identity.Service, referrals *referral.Service, reg *registry.Registry, anonymous bool, forwardTimeout time.Duration, logger *slog.Logger) *Router {
	return &Router{
		auth:           auth,
		identities:     identities,
		referrals:      referrals,
		registry:       reg,
		anonymous:      anonymous,
		forwardTimeout: forwardTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// handle runs one command and returns its reply, or nil for commands that
// never reply (notify).
func (r *Router) handle(ctx context.Context, sess *session, cmd string, raw json.RawMessage) *Response {
	switch cmd {
	case "register":
		return r.handleRegister(ctx, sess, raw)
	case "open", "close", "ping":
		var p actionPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" {
			return &Response{Status: http.StatusBadRequest}
		}
		resp := r.forward(ctx, cmd, p.Token, p.DoorID, p.PersonID, forwardPayload{})
		if cmd == "open" && resp.Status == http.StatusOK {
			// Reward bookkeeping runs detached: the open reply must not wait
			// on store writes, and their failures never reach the caller.
			go r.referrals.RecordOpen(context.WithoutCancel(ctx), p.DoorID, p.PersonID)
		}
		return resp
	case "keepOpen":
		return r.handleKeepOpen(ctx, raw)
	case "notify":
		return r.handleNotify(ctx, sess, raw)
	case "confirm":
		return r.handleConfirm(ctx, raw)
	case "registerPid":
		return r.handleRegisterPID(ctx, raw)
	case "invitations":
		return r.handleInvitations(ctx, raw)
	case "rights":
		return r.handleRights(ctx, raw)
	default:
		return &Response{Status: http.StatusBadRequest}
	}
}

func (r *Router) handleRegister(ctx context.Context, sess *session, raw json.RawMessage) *Response {
	var p registerPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" {
		return &Response{Status: http.StatusBadRequest}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.role != roleNone {
		return &Response{Status: http.StatusBadRequest}
	}

	switch {
	case r.auth.IsDeviceToken(p.Token):
		r.registry.RegisterDevice(p.DoorID, sess.conn)
		sess.role = roleDevice
		sess.doorID = p.DoorID
		r.logger.Info("device registered", "door_id", p.DoorID)
	case p.PersonID != "" && r.auth.IsGeneralToken(p.Token) && r.auth.IsAuthorizedIdentity(ctx, p.DoorID, p.PersonID, nil):
		r.registry.RegisterRemote(p.DoorID, sess.conn)
		sess.role = roleRemote
		sess.doorID = p.DoorID
		r.logger.Info("remote registered", "door_id", p.DoorID, "person_id", p.PersonID)
	default:
		r.logger.Info("registration refused", "door_id", p.DoorID)
		return &Response{Status: http.StatusUnauthorized}
	}
	return &Response{Status: http.StatusOK, Response: registeredResponse{DoorID: sess.doorID}}
}

// forward relays one command to the door's device and waits for its single
// acknowledgment. The payload always carries the server timestamp.
func (r *Router) forward(ctx context.Context, cmd, token, doorID, personID string, payload forwardPayload) *Response {
	if !r.auth.IsGeneralToken(token) || personID == "" {
		return &Response{Status: http.StatusUnauthorized}
	}
	if !r.anonymous && !r.auth.IsAuthorizedIdentity(ctx, doorID, personID, nil) {
		return &Response{Status: http.StatusUnauthorized}
	}

	payload.TS = r.now().UnixMilli()
	r.logger.Info("forwarding", "cmd", cmd, "door_id", doorID, "person_id", personID)

	fctx, cancel := context.WithTimeout(ctx, r.forwardTimeout)
	defer cancel()
	ack, err := r.registry.Forward(fctx, doorID, cmd, payload)
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		return &Response{Status: http.StatusNotFound}
	case errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("device did not acknowledge", "cmd", cmd, "door_id", doorID)
		return &Response{Status: StatusGatewayTimeout}
	case err != nil:
		r.logger.Error("forward failed", "cmd", cmd, "door_id", doorID, "error", err)
		return &Response{Status: http.StatusInternalServerError}
	}
	return &Response{Status: http.StatusOK, Response: ack}
}

func (r *Router) handleKeepOpen(ctx context.Context, raw json.RawMessage) *Response {
	var p keepOpenPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" || p.PersonID == "" {
		return &Response{Status: http.StatusBadRequest}
	}
	// Holding the door open needs the lock right on a confirmed identity,
	// regardless of anonymous mode. The inner confirmation check in forward
	// still applies; it is weaker and intentionally kept.
	if !r.auth.IsAuthorizedIdentity(ctx, p.DoorID, p.PersonID, func(ident identity.PhoneIdentity) bool {
		return ident.CanLock
	}) {
		return &Response{Status: http.StatusUnauthorized}
	}
	return r.forward(ctx, "keepOpen", p.Token, p.DoorID, p.PersonID, forwardPayload{Duration: p.Duration})
}

func (r *Router) handleNotify(ctx context.Context, sess *session, raw json.RawMessage) *Response {
	var p notifyPayload
	if err := json.Unmarshal(raw, &p); err != nil || len(p.Msg) == 0 || !r.auth.IsDeviceToken(p.Token) {
		// Unauthorized or malformed state reports are dropped silently.
		return nil
	}
	r.registry.Broadcast(p.DoorID, "notify", p.Msg)
	return nil
}

func (r *Router) handleConfirm(ctx context.Context, raw json.RawMessage) *Response {
	var p confirmPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" || p.PersonID == "" {
		return &Response{Status: http.StatusBadRequest}
	}
	if !r.auth.IsSuperToken(p.Token) {
		return &Response{Status: http.StatusUnauthorized}
	}
	if _, err := r.identities.Confirm(ctx, p.DoorID, p.PersonID, p.Confirmed); err != nil {
		r.logger.Error("confirm failed", "door_id", p.DoorID, "person_id", p.PersonID, "error", err)
		return &Response{Status: http.StatusInternalServerError}
	}
	return &Response{Status: http.StatusOK}
}

func (r *Router) handleRegisterPID(ctx context.Context, raw json.RawMessage) *Response {
	var p registerPIDPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" || p.PersonID == "" {
		return &Response{Status: http.StatusBadRequest}
	}
	if !r.auth.IsGeneralToken(p.Token) {
		return &Response{Status: http.StatusUnauthorized}
	}
	ident, err := r.identities.Register(ctx, identity.RegisterInput{
		DoorID:       p.DoorID,
		PersonID:     p.PersonID,
		Name:         p.Name,
		Phone:        p.Phone,
		InvitationID: p.Invitation,
	})
	if err != nil {
		r.logger.Error("register pid failed", "door_id", p.DoorID, "person_id", p.PersonID, "error", err)
		return &Response{Status: http.StatusInternalServerError}
	}
	return &Response{Status: http.StatusOK, Response: ident}
}

func (r *Router) handleInvitations(ctx context.Context, raw json.RawMessage) *Response {
	var p queryPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" || p.PersonID == "" {
		return &Response{Status: http.StatusBadRequest}
	}
	if !r.auth.IsGeneralToken(p.Token) {
		return &Response{Status: http.StatusUnauthorized}
	}
	invitations, err := r.identities.Invitations(ctx, p.DoorID, p.PersonID)
	if err != nil {
		r.logger.Error("list invitations failed", "door_id", p.DoorID, "person_id", p.PersonID, "error", err)
		return &Response{Status: http.StatusInternalServerError}
	}
	return &Response{Status: http.StatusOK, Response: invitations}
}

func (r *Router) handleRights(ctx context.Context, raw json.RawMessage) *Response {
	var p queryPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.DoorID == "" || p.PersonID == "" {
		return &Response{Status: http.StatusBadRequest}
	}
	if !r.auth.IsGeneralToken(p.Token) {
		return &Response{Status: http.StatusUnauthorized}
	}
	canLock := true
	if !r.auth.IsSuperToken(p.Token) {
		// Lookup failures read as no right, not as an error.
		canLock, _ = r.identities.CanLock(ctx, p.DoorID, p.PersonID)
	}
	return &Response{Status: http.StatusOK, Response: rightsResponse{CanLock: canLock}}
}
