package relay

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Handler returns the fiber handler hosting the duplex command channel.
func (r *Router) Handler() fiber.Handler {
	return websocket.New(func(ws *websocket.Conn) {
		r.serve(ws)
	})
}

// Upgrade gates the websocket endpoint behind the upgrade check.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (r *Router) serve(ws *websocket.Conn) {
	conn := newWSConn(ws)
	sess := &session{conn: conn}
	defer func() {
		r.registry.Drop(conn)
		_ = ws.Close()
	}()

	// A connection may register straight from the upgrade request's query
	// string instead of sending a register frame.
	if token := ws.Query("token"); token != "" {
		r.handshakeRegister(sess, token, ws.Query("uuid"), ws.Query("pid"))
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			r.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if env.Cmd == "" {
			if env.ID != 0 {
				var ack ackFrame
				if err := json.Unmarshal(data, &ack); err == nil {
					conn.deliverAck(env.ID, ack.Response)
				}
			}
			continue
		}

		// Commands run concurrently so a pending forward cannot stall the
		// read loop that delivers its acknowledgment.
		go r.dispatch(sess, env, json.RawMessage(data))
	}
}

func (r *Router) dispatch(sess *session, env envelope, raw json.RawMessage) {
	resp := r.handle(context.Background(), sess, env.Cmd, raw)
	if resp == nil || env.ID == 0 {
		return
	}
	if err := sess.conn.writeJSON(reply{ID: env.ID, Status: resp.Status, Response: resp.Response}); err != nil {
		r.logger.Warn("reply write failed", "cmd", env.Cmd, "error", err)
	}
}

func (r *Router) handshakeRegister(sess *session, token, doorID, personID string) {
	payload, err := json.Marshal(registerPayload{Token: token, DoorID: doorID, PersonID: personID})
	if err != nil {
		return
	}
	resp := r.handle(context.Background(), sess, "register", payload)
	if resp != nil && resp.Status != fiber.StatusOK {
		r.logger.Info("handshake registration refused", "door_id", doorID, "status", resp.Status)
	}
}
