package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/matcha-chat/realtime/internal/transport"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]transport.Handler
	unsubs   int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]transport.Handler)}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, destination string, h transport.Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[destination] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
		delete(f.handlers, destination)
	}, nil
}

func (f *fakeSubscriber) push(t *testing.T, destination string, body []byte) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[destination]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", destination)
	}
	h(body)
}

type fakePublisher struct {
	mu        sync.Mutex
	sent      []string
	envelopes []Envelope
}

func (f *fakePublisher) Publish(_ context.Context, destination string, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, destination)
	if env, ok := body.(Envelope); ok {
		f.envelopes = append(f.envelopes, env)
	}
	return nil
}

type staticIdentity string

func (s staticIdentity) Identity() string { return string(s) }

func TestSubscribeDeliversEnvelopes(t *testing.T) {
	subs := newFakeSubscriber()
	r := NewRelay(subs, &fakePublisher{}, staticIdentity("alice"), nil)

	var got []Envelope
	if err := r.Subscribe(context.Background(), func(env Envelope) {
		got = append(got, env)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	body, _ := json.Marshal(Envelope{
		Type:            "offer",
		SenderLoginID:   "bob",
		ReceiverLoginID: "alice",
		Data:            json.RawMessage(`{"sdp":"v=0"}`),
	})
	subs.push(t, transport.DestSignals, body)

	if len(got) != 1 {
		t.Fatalf("delivered %d envelopes, want 1", len(got))
	}
	if got[0].Type != "offer" || got[0].SenderLoginID != "bob" {
		t.Fatalf("envelope = %+v", got[0])
	}
	if string(got[0].Data) != `{"sdp":"v=0"}` {
		t.Fatalf("data not passed through verbatim: %s", got[0].Data)
	}
}

func TestSubscribeRejectsSecondSubscription(t *testing.T) {
	subs := newFakeSubscriber()
	r := NewRelay(subs, &fakePublisher{}, staticIdentity("alice"), nil)

	if err := r.Subscribe(context.Background(), func(Envelope) {}); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := r.Subscribe(context.Background(), func(Envelope) {}); err != ErrAlreadySubscribed {
		t.Fatalf("second subscribe error = %v, want ErrAlreadySubscribed", err)
	}
}

func TestSendInjectsSenderIdentity(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRelay(newFakeSubscriber(), pub, staticIdentity("alice"), nil)

	err := r.Send(context.Background(), Envelope{
		Type:            "candidate",
		ReceiverLoginID: "bob",
		Data:            json.RawMessage(`{"candidate":"..."}`),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(pub.sent) != 1 || pub.sent[0] != transport.DestSendSignal {
		t.Fatalf("published to %v, want [%s]", pub.sent, transport.DestSendSignal)
	}
	if pub.envelopes[0].SenderLoginID != "alice" {
		t.Fatalf("sender = %q, want alice", pub.envelopes[0].SenderLoginID)
	}
}

func TestSendKeepsExplicitSender(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRelay(newFakeSubscriber(), pub, staticIdentity("alice"), nil)

	if err := r.Send(context.Background(), Envelope{Type: "answer", SenderLoginID: "carol"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.envelopes[0].SenderLoginID != "carol" {
		t.Fatalf("sender = %q, want carol", pub.envelopes[0].SenderLoginID)
	}
}

func TestUndecodableEnvelopeDropped(t *testing.T) {
	subs := newFakeSubscriber()
	r := NewRelay(subs, &fakePublisher{}, staticIdentity("alice"), nil)

	delivered := 0
	if err := r.Subscribe(context.Background(), func(Envelope) { delivered++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	subs.push(t, transport.DestSignals, []byte("not json"))
	if delivered != 0 {
		t.Fatalf("delivered %d envelopes from garbage input", delivered)
	}
}

func TestCloseIdempotent(t *testing.T) {
	subs := newFakeSubscriber()
	r := NewRelay(subs, &fakePublisher{}, staticIdentity("alice"), nil)

	if err := r.Subscribe(context.Background(), func(Envelope) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r.Close()
	r.Close()

	subs.mu.Lock()
	unsubs := subs.unsubs
	subs.mu.Unlock()
	if unsubs != 1 {
		t.Fatalf("unsubscribe called %d times, want 1", unsubs)
	}

	// A fresh subscription is allowed after Close.
	if err := r.Subscribe(context.Background(), func(Envelope) {}); err != nil {
		t.Fatalf("resubscribe after close: %v", err)
	}
}
