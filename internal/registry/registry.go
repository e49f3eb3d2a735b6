package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrNotRegistered occurs when a door has no live device connection.
var ErrNotRegistered = errors.New("no device registered")

// Conn is one live duplex connection. Request forwards a command and blocks
// for the single acknowledgment (or ctx expiry); Push is fire-and-forget.
type Conn interface {
	Request(ctx context.Context, cmd string, payload any) (json.RawMessage, error)
	Push(cmd string, payload any) error
}

// Registry tracks the live connections per door: at most one device and any
// number of remotes. It is shared mutable state for every command handler and
// is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Conn
	remotes map[string][]Conn
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]Conn),
		remotes: make(map[string][]Conn),
	}
}

// RegisterDevice installs conn as the door's device connection, silently
// replacing any previous one (last writer wins).
func (r *Registry) RegisterDevice(doorID string, conn Conn) {
	r.mu.Lock()
	r.devices[doorID] = conn
	r.mu.Unlock()
}

// RegisterRemote appends conn to the door's remote list.
func (r *Registry) RegisterRemote(doorID string, conn Conn) {
	r.mu.Lock()
	r.remotes[doorID] = append(r.remotes[doorID], conn)
	r.mu.Unlock()
}

// Device returns the door's live device connection, if any.
func (r *Registry) Device(doorID string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.devices[doorID]
	r.mu.RUnlock()
	return conn, ok
}

// Forward sends cmd to the door's device and returns its single reply.
func (r *Registry) Forward(ctx context.Context, doorID, cmd string, payload any) (json.RawMessage, error) {
	conn, ok := r.Device(doorID)
	if !ok {
		return nil, ErrNotRegistered
	}
	return conn.Request(ctx, cmd, payload)
}

// Broadcast fans an event out to every remote of the door. Individual send
// failures do not abort the broadcast.
func (r *Registry) Broadcast(doorID, cmd string, payload any) {
	r.mu.RLock()
	conns := make([]Conn, len(r.remotes[doorID]))
	copy(conns, r.remotes[doorID])
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Push(cmd, payload)
	}
}

// Drop removes conn from the device slot and every remote list it appears in.
// Every connection close path must call it, or the registry leaks dead
// connections.
func (r *Registry) Drop(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for doorID, device := range r.devices {
		if device == conn {
			delete(r.devices, doorID)
		}
	}
	for doorID, conns := range r.remotes {
		kept := conns[:0]
		for _, c := range conns {
			if c != conn {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(r.remotes, doorID)
		} else {
			r.remotes[doorID] = kept
		}
	}
}

// RemoteCount reports the number of live remotes for a door.
func (r *Registry) RemoteCount(doorID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.remotes[doorID])
}
