package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("transport closed")
	ErrStaleConnection = errors.New("connection stale (no heartbeat)")
)

// Frame types exchanged with the broker.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FrameMessage     = "message"
)

// Frame is the JSON text frame carried over the WebSocket. Body content
// is snake_cased on the wire by the wire codec.
type Frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Destinations used by the coordinator.
const (
	DestMatchResults = "/user/queue/match-results"
	DestSignals      = "/user/queue/signals"
	DestSendSignal   = "/app/signal"
)

// RoomTopic returns the broadcast topic for a chat room.
func RoomTopic(roomID int64) string {
	return "/topic/rooms/" + strconv.FormatInt(roomID, 10)
}

// RoomSendDestination returns the outbound send destination for a room.
func RoomSendDestination(roomID int64) string {
	return "/app/chat.sendMessage/" + strconv.FormatInt(roomID, 10)
}

// clientConfig configures a single physical connection attempt.
type clientConfig struct {
	URL              string
	Header           http.Header
	Heartbeat        time.Duration // symmetric ping interval
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// Config configures the Manager.
type Config struct {
	URL              string        // WebSocket endpoint (resolved by the environment)
	Heartbeat        time.Duration // ping interval; stale after two missed intervals
	ReconnectDelay   time.Duration // fixed delay before automatic reconnection
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // inbound frame buffer per connection
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Heartbeat:        10 * time.Second,
		ReconnectDelay:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// Credentials supplies the auth material attached to each connection
// attempt. Implemented by auth.TokenSource.
type Credentials interface {
	Token() string
	GuestPID() string
}

// Handler receives the body of an inbound message frame. The body is
// normalized to the internal camelCase convention when it parses as
// JSON; otherwise the raw payload is passed through unchanged.
type Handler func(body []byte)
