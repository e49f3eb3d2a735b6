package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// messageWriter is the slice of a websocket connection the wire layer needs.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

const textMessage = 1

// wsConn adapts one websocket connection to registry.Conn. Writes are
// serialized behind a mutex; forwarded commands carry a connection-scoped id
// and park a channel in pending until the matching ack frame arrives.
type wsConn struct {
	ws      messageWriter
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan json.RawMessage
	nextID    atomic.Uint64
}

func newWSConn(ws messageWriter) *wsConn {
	return &wsConn{
		ws:      ws,
		pending: make(map[uint64]chan json.RawMessage),
	}
}

// Request forwards cmd with payload and blocks until the peer acknowledges it
// or ctx expires.
func (c *wsConn) Request(ctx context.Context, cmd string, payload any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ack := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(cmd, id, payload); err != nil {
		return nil, err
	}

	select {
	case raw := <-ack:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Push sends cmd with payload without waiting for an acknowledgment.
func (c *wsConn) Push(cmd string, payload any) error {
	return c.writeFrame(cmd, 0, payload)
}

// deliverAck routes an inbound ack frame to the forward waiting on its id.
// Unmatched acks are dropped.
func (c *wsConn) deliverAck(id uint64, raw json.RawMessage) {
	c.pendingMu.Lock()
	ack, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		ack <- raw
	}
}

func (c *wsConn) writeFrame(cmd string, id uint64, payload any) error {
	frame := map[string]any{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", cmd, err)
		}
		if err := json.Unmarshal(b, &frame); err != nil {
			return fmt.Errorf("encode %s payload: %w", cmd, err)
		}
	}
	frame["cmd"] = cmd
	if id != 0 {
		frame["id"] = id
	}
	return c.writeJSON(frame)
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(textMessage, data)
}
