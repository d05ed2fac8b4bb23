package types

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Action is the kind of change carried by a ChangeEvent.
type Action string

const (
	ActionCreated Action = "CREATED"
	ActionUpdated Action = "UPDATED"
	ActionDeleted Action = "DELETED"
)

// Normalize maps the accepted spellings onto the canonical action.
// Unknown actions normalize to "".
func (a Action) Normalize() Action {
	switch strings.ToUpper(string(a)) {
	case "CREATED", "CREATE":
		return ActionCreated
	case "UPDATED", "UPDATE":
		return ActionUpdated
	case "DELETED", "DELETE":
		return ActionDeleted
	}
	return ""
}

// ChangeEvent is a server-pushed notification about an entity.
type ChangeEvent struct {
	Action Action          `json:"action"`
	Entity string          `json:"entity"`
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data,omitempty"`
	Actor  string          `json:"actor,omitempty"`
	TS     int64           `json:"ts"`
}

// Time returns the event timestamp.
func (e ChangeEvent) Time() time.Time {
	return time.UnixMilli(e.TS)
}

// HasData reports whether the event carries an entity payload.
func (e ChangeEvent) HasData() bool {
	s := strings.TrimSpace(string(e.Data))
	return s != "" && s != "null"
}

// Envelope is the wire wrapper around a ChangeEvent.
type Envelope struct {
	Event *ChangeEvent `json:"event"`
}

// Response is the standard API success envelope.
type Response[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

// Message is a payload delivered on a broker destination.
type Message struct {
	Destination  string            `json:"destination"`
	Subscription string            `json:"subscription,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"body"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// MessageHandler handles a message delivered on a subscribed destination.
type MessageHandler func(msg Message)

// Subscription is a live registration of a handler on a destination.
type Subscription interface {
	ID() string
	Destination() string
	Unsubscribe()
}

// ConnectionInfo holds metadata about the realtime connection.
type ConnectionInfo struct {
	State       string         `json:"state"`
	URL         string         `json:"url"`
	Transport   string         `json:"transport"`
	ConnectedAt time.Time      `json:"connected_at"`
	Reconnects  int            `json:"reconnects"`
	Topics      map[string]int `json:"topics"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}
