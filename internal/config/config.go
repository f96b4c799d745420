package config

import "time"

// AgentConfig is the root configuration for a session agent.
type AgentConfig struct {
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
	Peer     PeerConfig     `yaml:"peer"`
}

// APIConfig holds the HTTP boundary settings.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RealtimeConfig holds the shared realtime connection settings.
type RealtimeConfig struct {
	WSURL            string        `yaml:"ws_url"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// AuthConfig holds login credentials. Guest mode needs neither field.
type AuthConfig struct {
	LoginID  string `yaml:"login_id"`
	Password string `yaml:"password"`
	Guest    bool   `yaml:"guest"`
}

// PeerConfig holds peer link settings.
type PeerConfig struct {
	ICEServers []string `yaml:"ice_servers"`
}
