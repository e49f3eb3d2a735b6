package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
)

// startRelay serves the duplex endpoint on a loopback listener and returns
// the websocket URL.
func startRelay(t *testing.T, f *fixture) string {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", Upgrade)
	app.Get("/ws", f.router.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return fmt.Sprintf("ws://%s/ws", ln.Addr().String())
}

// wsClient drives one phone-side connection: synchronous calls plus a side
// channel for pushed frames.
type wsClient struct {
	t      *testing.T
	conn   *fws.Conn
	nextID uint64
	pushes chan map[string]any
}

func dialClient(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, _, err := fws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn, pushes: make(chan map[string]any, 8)}
}

func (c *wsClient) call(cmd string, fields map[string]any) (int, json.RawMessage) {
	c.t.Helper()
	c.nextID++
	frame := map[string]any{"cmd": cmd, "id": c.nextID}
	for k, v := range fields {
		frame[k] = v
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("write %s: %v", cmd, err)
	}

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("read reply to %s: %v", cmd, err)
		}
		var in struct {
			Cmd      string          `json:"cmd"`
			ID       uint64          `json:"id"`
			Status   int             `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			c.t.Fatalf("decode frame %s: %v", data, err)
		}
		if in.Cmd != "" {
			var push map[string]any
			_ = json.Unmarshal(data, &push)
			c.pushes <- push
			continue
		}
		if in.ID == c.nextID {
			return in.Status, in.Response
		}
	}
}

func (c *wsClient) waitPush(cmd string) map[string]any {
	c.t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var push map[string]any
		if json.Unmarshal(data, &push) == nil {
			c.pushes <- push
		}
	}()

	select {
	case push := <-c.pushes:
		if push["cmd"] != cmd {
			c.t.Fatalf("push = %v, want cmd %s", push, cmd)
		}
		return push
	case <-time.After(5 * time.Second):
		c.t.Fatalf("no %s push arrived", cmd)
		return nil
	}
}

// runDevice connects as the door controller through the handshake query and
// acknowledges every forwarded command.
func runDevice(t *testing.T, url, doorID string) *frameCapture {
	t.Helper()
	conn, _, err := fws.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s&uuid=%s", url, testDeviceSecret, doorID), nil)
	if err != nil {
		t.Fatalf("dial device: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	seen := &frameCapture{}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if json.Unmarshal(data, &env) != nil || env.Cmd == "" {
				continue
			}
			_ = seen.WriteMessage(textMessage, data)
			if env.ID != 0 {
				_ = conn.WriteJSON(map[string]any{
					"id":       env.ID,
					"response": map[string]any{"state": "done"},
				})
			}
		}
	}()
	return seen
}

func TestRelayEndToEnd(t *testing.T) {
	f := newFixture(false)
	url := startRelay(t, f)

	device := runDevice(t, url, testDoorID)
	waitFor(t, func() bool {
		_, ok := f.registry.Device(testDoorID)
		return ok
	}, "device handshake registration never landed")
	phone := dialClient(t, url)

	// A fresh phone can enroll but holds no rights yet.
	status, response := phone.call("registerPid", map[string]any{
		"token": testGeneralSecret, "uuid": testDoorID, "pid": testPersonID,
		"name": "Lina", "phone": "+33612345678",
	})
	if status != fiber.StatusOK {
		t.Fatalf("registerPid: got %d, want 200", status)
	}
	var ident struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.Unmarshal(response, &ident); err != nil || ident.Confirmed {
		t.Fatalf("fresh identity = %s, want unconfirmed", response)
	}

	openFields := map[string]any{"token": testGeneralSecret, "uuid": testDoorID, "pid": testPersonID}
	if status, _ = phone.call("open", openFields); status != fiber.StatusUnauthorized {
		t.Fatalf("open before confirmation: got %d, want 401", status)
	}

	// The caretaker confirms the phone, which mints an invitation.
	admin := dialClient(t, url)
	if status, _ = admin.call("confirm", map[string]any{
		"token": testSuperSecret, "uuid": testDoorID, "pid": testPersonID, "confirmed": true,
	}); status != fiber.StatusOK {
		t.Fatalf("confirm: got %d, want 200", status)
	}

	status, response = phone.call("open", openFields)
	if status != fiber.StatusOK {
		t.Fatalf("open after confirmation: got %d, want 200", status)
	}
	var ack struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(response, &ack); err != nil || ack.State != "done" {
		t.Fatalf("open ack = %s, want device state", response)
	}
	waitFor(t, func() bool { return device.count() == 1 }, "device never saw the open")
	if frame := device.frame(t, 0); frame["cmd"] != "open" || frame["ts"] == nil {
		t.Fatalf("device frame = %v", frame)
	}

	// The minted invitation confirms the next enrollment, once.
	status, response = phone.call("invitations", openFields)
	if status != fiber.StatusOK {
		t.Fatalf("invitations: got %d, want 200", status)
	}
	var invitations []struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(response, &invitations); err != nil || len(invitations) != 1 {
		t.Fatalf("invitations = %s, want exactly one", response)
	}

	friend := dialClient(t, url)
	status, response = friend.call("registerPid", map[string]any{
		"token": testGeneralSecret, "uuid": testDoorID, "pid": "44dd",
		"name": "Sam", "invitation": invitations[0].ID,
	})
	if status != fiber.StatusOK {
		t.Fatalf("invited registerPid: got %d, want 200", status)
	}
	if err := json.Unmarshal(response, &ident); err != nil || !ident.Confirmed {
		t.Fatalf("invited identity = %s, want confirmed", response)
	}

	freeloader := dialClient(t, url)
	status, response = freeloader.call("registerPid", map[string]any{
		"token": testGeneralSecret, "uuid": testDoorID, "pid": "66ff",
		"name": "Rex", "invitation": invitations[0].ID,
	})
	if status != fiber.StatusOK {
		t.Fatalf("reused invitation registerPid: got %d, want 200", status)
	}
	if err := json.Unmarshal(response, &ident); err != nil || ident.Confirmed {
		t.Fatalf("identity on spent invitation = %s, want unconfirmed", response)
	}
}

func TestRelayNotifyReachesRegisteredRemotes(t *testing.T) {
	f := newFixture(false)
	seedIdentity(f.store, testDoorID, testPersonID, true, false)
	url := startRelay(t, f)

	phone := dialClient(t, url)
	if status, _ := phone.call("register", map[string]any{
		"token": testGeneralSecret, "uuid": testDoorID, "pid": testPersonID,
	}); status != fiber.StatusOK {
		t.Fatalf("remote registration failed")
	}

	device, _, err := fws.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s&uuid=%s", url, testDeviceSecret, testDoorID), nil)
	if err != nil {
		t.Fatalf("dial device: %v", err)
	}
	defer device.Close()

	if err := device.WriteJSON(map[string]any{
		"cmd": "notify", "token": testDeviceSecret, "uuid": testDoorID,
		"msg": map[string]any{"state": "open"},
	}); err != nil {
		t.Fatalf("device notify: %v", err)
	}

	push := phone.waitPush("notify")
	if push["state"] != "open" {
		t.Fatalf("push = %v, want state open", push)
	}

	timeout := time.After(200 * time.Millisecond)
	select {
	case extra := <-phone.pushes:
		t.Fatalf("unexpected extra push %v", extra)
	case <-timeout:
	}
}
