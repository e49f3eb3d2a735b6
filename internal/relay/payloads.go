package relay

import "encoding/json"

// Wire field names follow the device/phone protocol: doorId travels as "uuid"
// and personId as "pid". Every command carries token and uuid; all except
// register and notify carry pid.

type envelope struct {
	Cmd string `json:"cmd"`
	ID  uint64 `json:"id"`
}

type reply struct {
	ID       uint64 `json:"id"`
	Status   int    `json:"status"`
	Response any    `json:"response,omitempty"`
}

// ackFrame is a device acknowledgment of a forwarded command: no cmd, the
// forwarded id, and the device's reply under response.
type ackFrame struct {
	ID       uint64          `json:"id"`
	Response json.RawMessage `json:"response"`
}

type registerPayload struct {
	Token    string `json:"token"`
	DoorID   string `json:"uuid"`
	PersonID string `json:"pid"`
}

type actionPayload struct {
	Token    string `json:"token"`
	DoorID   string `json:"uuid"`
	PersonID string `json:"pid"`
}

type keepOpenPayload struct {
	Token    string `json:"token"`
	DoorID   string `json:"uuid"`
	PersonID string `json:"pid"`
	Duration int64  `json:"duration"`
}

type notifyPayload struct {
	Token  string          `json:"token"`
	DoorID string          `json:"uuid"`
	Msg    json.RawMessage `json:"msg"`
}

type confirmPayload struct {
	Token     string `json:"token"`
	DoorID    string `json:"uuid"`
	PersonID  string `json:"pid"`
	Confirmed bool   `json:"confirmed"`
}

type registerPIDPayload struct {
	Token      string `json:"token"`
	DoorID     string `json:"uuid"`
	PersonID   string `json:"pid"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Invitation string `json:"invitation"`
}

type queryPayload struct {
	Token    string `json:"token"`
	DoorID   string `json:"uuid"`
	PersonID string `json:"pid"`
}

// forwardPayload is what the device receives: the server timestamp plus the
// optional keepOpen duration.
type forwardPayload struct {
	TS       int64 `json:"ts"`
	Duration int64 `json:"duration,omitempty"`
}

type registeredResponse struct {
	DoorID string `json:"uuid"`
}

type rightsResponse struct {
	CanLock bool `json:"canLock"`
}
