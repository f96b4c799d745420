package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matcha-chat/realtime/internal/wire"
)

// Manager owns the process-wide physical connection. Exactly one
// connection exists at a time; concurrent Connect callers collapse onto
// the same in-flight attempt.
type Manager struct {
	cfg    Config
	creds  Credentials
	logger *slog.Logger

	// Single-slot pending attempt: concurrent dials share one result.
	connectGroup singleflight.Group

	mu     sync.Mutex
	active *client
	closed bool

	registry *Registry
}

// NewManager creates a transport manager. The connection is not dialed
// until the first Connect, Publish, or Subscribe call.
func NewManager(cfg Config, creds Credentials, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		creds:  creds,
		logger: logger,
	}
	m.registry = newRegistry(m, logger.With("component", "registry"))
	return m
}

// Registry returns the subscription registry bound to this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect ensures the live connection, creating it if absent. If an
// attempt is already in flight the caller suspends on the same result
// instead of dialing a second socket. A failed attempt clears the
// pending slot so a later call may retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.active != nil && m.active.isConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.connectGroup.Do("connect", func() (any, error) {
		return nil, m.dial(ctx)
	})
	return err
}

// IsConnected reports whether the physical connection is currently up.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.isConnected()
}

// Publish serializes body through the wire codec and sends it to
// destination, connecting first if necessary.
func (m *Manager) Publish(ctx context.Context, destination string, body any) error {
	if err := m.Connect(ctx); err != nil {
		return err
	}

	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}

	return m.sendFrame(Frame{Type: FrameSend, Destination: destination, Body: raw})
}

// Disconnect tears the connection down permanently. The manager cannot
// be reused afterwards; later calls fail with ErrClosed.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	c := m.active
	m.active = nil
	m.mu.Unlock()

	if c != nil {
		return c.close()
	}
	return nil
}

// dial performs one physical connection attempt. Auth material is
// fetched fresh every time so token rotation between reconnects is
// honored.
func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.active != nil && m.active.isConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if m.creds != nil {
		if tok := m.creds.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		} else if pid := m.creds.GuestPID(); pid != "" {
			header.Set("X-USER-PID", pid)
		}
	}

	c := newClient(clientConfig{
		URL:              m.cfg.URL,
		Header:           header,
		Heartbeat:        m.cfg.Heartbeat,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", m.cfg.URL, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.close()
		return ErrClosed
	}
	m.active = c
	m.mu.Unlock()

	go m.readLoop(c)
	m.registry.replay()
	return nil
}

// readLoop routes inbound frames until the connection drops.
func (m *Manager) readLoop(c *client) {
	for {
		select {
		case <-c.done:
			return

		case err := <-c.errors:
			m.logger.Warn("connection dropped", "error", err)
			m.handleDrop(c)
			return

		case data, ok := <-c.messages:
			if !ok {
				m.handleDrop(c)
				return
			}
			m.dispatch(data)
		}
	}
}

// handleDrop retires a dead connection and schedules silent
// reconnection. Explicit Disconnect never reaches here.
func (m *Manager) handleDrop(c *client) {
	c.close()

	m.mu.Lock()
	if m.closed || m.active != c {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.mu.Unlock()

	go m.reconnectLoop()
}

// reconnectLoop retries at a fixed delay until the connection is back
// or the manager is closed. Failures are logged, never surfaced to
// subscribers.
func (m *Manager) reconnectLoop() {
	for {
		time.Sleep(m.cfg.ReconnectDelay)

		m.mu.Lock()
		closed := m.closed
		up := m.active != nil
		m.mu.Unlock()
		if closed || up {
			return
		}

		if err := m.Connect(context.Background()); err != nil {
			m.logger.Warn("reconnect attempt failed", "error", err)
			continue
		}

		m.logger.Info("reconnected", "url", m.cfg.URL)
		return
	}
}

// dispatch normalizes an inbound frame and hands message bodies to the
// registry. Frames that do not parse are dropped with a log line.
func (m *Manager) dispatch(data []byte) {
	normalized, err := wire.CamelizeJSON(data)
	if err != nil {
		m.logger.Warn("unparseable frame", "error", err)
		return
	}

	var f Frame
	if err := json.Unmarshal(normalized, &f); err != nil {
		m.logger.Warn("malformed frame", "error", err)
		return
	}

	if f.Type != FrameMessage {
		m.logger.Debug("ignoring frame", "type", f.Type)
		return
	}

	m.registry.dispatch(f.Destination, f.Body)
}

// sendFrame serializes a frame through the wire codec and writes it to
// the active connection.
func (m *Manager) sendFrame(f Frame) error {
	data, err := wire.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.mu.Lock()
	c := m.active
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if c == nil {
		return ErrNotConnected
	}
	return c.send(data)
}
