package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/matcha-chat/realtime/internal/transport"
)

// ErrAlreadySubscribed is returned when Subscribe is called while an
// inbound subscription is still active.
var ErrAlreadySubscribed = errors.New("signal: already subscribed")

// Envelope is the routed signaling payload. Data is opaque to the
// relay and forwarded verbatim.
type Envelope struct {
	Type            string          `json:"type"`
	SenderLoginID   string          `json:"senderLoginId,omitempty"`
	ReceiverLoginID string          `json:"receiverLoginId,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// Handler receives inbound envelopes.
type Handler func(Envelope)

// Subscriber is the slice of the subscription registry the relay
// needs.
type Subscriber interface {
	Subscribe(ctx context.Context, destination string, h transport.Handler) (func(), error)
}

// Publisher sends payloads over the shared transport.
type Publisher interface {
	Publish(ctx context.Context, destination string, body any) error
}

// Identity exposes the current login id for sender injection.
type Identity interface {
	Identity() string
}

// Relay forwards signaling envelopes over the shared transport without
// interpreting them.
type Relay struct {
	subs   Subscriber
	pub    Publisher
	ident  Identity
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewRelay creates a relay with no active subscription.
func NewRelay(subs Subscriber, pub Publisher, ident Identity, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		subs:   subs,
		pub:    pub,
		ident:  ident,
		logger: logger,
	}
}

// Subscribe attaches h to the per-identity inbound signal queue. A
// session holds at most one signal subscription at a time.
func (r *Relay) Subscribe(ctx context.Context, h Handler) error {
	r.mu.Lock()
	if r.unsubscribe != nil {
		r.mu.Unlock()
		return ErrAlreadySubscribed
	}
	r.mu.Unlock()

	unsub, err := r.subs.Subscribe(ctx, transport.DestSignals, func(body []byte) {
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			r.logger.Warn("undecodable signal envelope", "error", err)
			return
		}
		h(env)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.unsubscribe != nil {
		r.mu.Unlock()
		unsub()
		return ErrAlreadySubscribed
	}
	r.unsubscribe = unsub
	r.mu.Unlock()
	return nil
}

// Send publishes env to the signaling destination. The sender login id
// is filled from the current identity when the caller left it blank.
func (r *Relay) Send(ctx context.Context, env Envelope) error {
	if env.SenderLoginID == "" && r.ident != nil {
		env.SenderLoginID = r.ident.Identity()
	}
	return r.pub.Publish(ctx, transport.DestSendSignal, env)
}

// Close drops the inbound subscription. Idempotent.
func (r *Relay) Close() {
	r.mu.Lock()
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
