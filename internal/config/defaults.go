package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL          = "http://localhost:8080/api"
	DefaultWSURL            = "ws://localhost:8080/ws"
	DefaultAPITimeout       = 30 * time.Second
	DefaultHeartbeat        = 10 * time.Second
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferSize       = 256
	DefaultICEServer        = "stun:stun.l.google.com:19302"
)

func (c *AgentConfig) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}

	// Realtime defaults
	if c.Realtime.WSURL == "" {
		c.Realtime.WSURL = DefaultWSURL
	}
	if c.Realtime.Heartbeat == 0 {
		c.Realtime.Heartbeat = DefaultHeartbeat
	}
	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.BufferSize == 0 {
		c.Realtime.BufferSize = DefaultBufferSize
	}

	// Peer defaults
	if len(c.Peer.ICEServers) == 0 {
		c.Peer.ICEServers = []string{DefaultICEServer}
	}
}
