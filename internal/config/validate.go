package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *AgentConfig) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Realtime.WSURL == "" {
		return errors.New("realtime.ws_url is required")
	}
	if !strings.HasPrefix(c.Realtime.WSURL, "ws://") && !strings.HasPrefix(c.Realtime.WSURL, "wss://") {
		return fmt.Errorf("realtime.ws_url must use ws:// or wss://, got %q", c.Realtime.WSURL)
	}

	if c.Realtime.Heartbeat <= 0 {
		return errors.New("realtime.heartbeat must be positive")
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return errors.New("realtime.reconnect_delay must be positive")
	}
	if c.Realtime.BufferSize < 1 {
		return errors.New("realtime.buffer_size must be >= 1")
	}

	if c.Auth.Guest && c.Auth.LoginID != "" {
		return errors.New("auth.guest excludes auth.login_id")
	}
	if c.Auth.LoginID != "" && c.Auth.Password == "" {
		return errors.New("auth.password is required with auth.login_id")
	}
	if !c.Auth.Guest && c.Auth.LoginID == "" {
		return errors.New("auth.login_id is required unless auth.guest is set")
	}

	return nil
}
