package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Registry maps logical destinations to active subscriptions over the
// Manager. It holds subscription handles but never the connection
// itself.
type Registry struct {
	m      *Manager
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[string]Handler // destination → subscription id → handler
}

func newRegistry(m *Manager, logger *slog.Logger) *Registry {
	return &Registry{
		m:      m,
		logger: logger,
		subs:   make(map[string]map[string]Handler),
	}
}

// Subscribe ensures a connection, attaches handler to destination, and
// returns an unsubscribe function. Calling the returned function more
// than once is a no-op.
func (r *Registry) Subscribe(ctx context.Context, destination string, h Handler) (func(), error) {
	if err := r.m.Connect(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()

	r.mu.Lock()
	byID, ok := r.subs[destination]
	if !ok {
		byID = make(map[string]Handler)
		r.subs[destination] = byID
	}
	byID[id] = h
	r.mu.Unlock()

	if err := r.m.sendFrame(Frame{Type: FrameSubscribe, ID: id, Destination: destination}); err != nil {
		r.detach(destination, id)
		return nil, err
	}

	r.logger.Debug("subscribed", "destination", destination, "id", id)

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(destination, id) })
	}, nil
}

// ActiveSubscriptions returns the number of attached handlers across
// all destinations.
func (r *Registry) ActiveSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, byID := range r.subs {
		n += len(byID)
	}
	return n
}

// unsubscribe detaches the handler synchronously, then tells the broker
// best-effort. Detachment is the correctness boundary: once it returns,
// no payload from this destination can reach the old handler, so a
// caller that unsubscribes and immediately re-subscribes elsewhere
// cannot receive stale-topic data under the new topic.
func (r *Registry) unsubscribe(destination, id string) {
	if !r.detach(destination, id) {
		return
	}

	if err := r.m.sendFrame(Frame{Type: FrameUnsubscribe, ID: id, Destination: destination}); err != nil {
		r.logger.Debug("unsubscribe frame not sent",
			"destination", destination,
			"error", err,
		)
	}
}

func (r *Registry) detach(destination, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.subs[destination]
	if !ok {
		return false
	}
	if _, exists := byID[id]; !exists {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(r.subs, destination)
	}
	return true
}

// dispatch forwards a message body to every handler attached to the
// destination. A body that is a bare JSON string degrades to its raw
// content instead of failing the subscription.
func (r *Registry) dispatch(destination string, body []byte) {
	r.mu.Lock()
	byID := r.subs[destination]
	handlers := make([]Handler, 0, len(byID))
	for _, h := range byID {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		r.logger.Debug("message for destination without subscribers", "destination", destination)
		return
	}

	payload := body
	var s string
	if json.Unmarshal(body, &s) == nil {
		payload = []byte(s)
	}

	for _, h := range handlers {
		h(payload)
	}
}

// replay re-issues subscribe frames for every attached handler after a
// reconnect. Missed messages are not replayed; consumers re-fetch state
// instead of assuming continuity.
func (r *Registry) replay() {
	r.mu.Lock()
	frames := make([]Frame, 0, len(r.subs))
	for destination, byID := range r.subs {
		for id := range byID {
			frames = append(frames, Frame{Type: FrameSubscribe, ID: id, Destination: destination})
		}
	}
	r.mu.Unlock()

	for _, f := range frames {
		if err := r.m.sendFrame(f); err != nil {
			r.logger.Warn("resubscribe failed",
				"destination", f.Destination,
				"error", err,
			)
		}
	}
}
