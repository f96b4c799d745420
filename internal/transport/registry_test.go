package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer keeps connected clients and lets the test push message
// frames to them.
type echoServer struct {
	mu    sync.Mutex
	conns []*websocket.Conn
	subs  chan []byte
}

func newEchoServer() *echoServer {
	return &echoServer{subs: make(chan []byte, 16)}
}

func (s *echoServer) handle(conn *websocket.Conn, _ *http.Request) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.subs <- msg
	}
}

func (s *echoServer) push(t *testing.T, frame string) {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no connected client to push to")
	}
	conn := s.conns[len(s.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func TestRegistry_SubscribeReceivesNormalizedBody(t *testing.T) {
	srv := newEchoServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	defer m.Disconnect()

	got := make(chan []byte, 1)
	unsub, err := m.Registry().Subscribe(context.Background(), "/topic/rooms/5", func(body []byte) {
		got <- body
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	srv.push(t, `{"type":"message","destination":"/topic/rooms/5","body":{"sender_login_id":"bob","content":"hi"}}`)

	select {
	case body := <-got:
		var msg map[string]any
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Fatalf("handler body not JSON: %v", err)
		}
		if msg["senderLoginId"] != "bob" {
			t.Errorf("body keys not camelized: %s", body)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	srv := newEchoServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	defer m.Disconnect()

	unsub, err := m.Registry().Subscribe(context.Background(), "/topic/rooms/1", func([]byte) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	unsub()
	unsub()
	unsub()

	if got := m.Registry().ActiveSubscriptions(); got != 0 {
		t.Errorf("ActiveSubscriptions() = %d after unsubscribe, want 0", got)
	}
}

func TestRegistry_NoDeliveryAfterUnsubscribe(t *testing.T) {
	srv := newEchoServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	defer m.Disconnect()

	delivered := make(chan []byte, 4)
	unsub, err := m.Registry().Subscribe(context.Background(), "/topic/rooms/1", func(body []byte) {
		delivered <- body
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	unsub()
	srv.push(t, `{"type":"message","destination":"/topic/rooms/1","body":{"content":"stale"}}`)

	select {
	case body := <-delivered:
		t.Errorf("handler invoked after unsubscribe with %s", body)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRegistry_DecodeFailureDegradesToRaw(t *testing.T) {
	srv := newEchoServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	defer m.Disconnect()

	got := make(chan []byte, 1)
	unsub, err := m.Registry().Subscribe(context.Background(), "/topic/rooms/9", func(body []byte) {
		got <- body
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	// Body is a bare string, not an object: the handler receives the
	// raw content instead of the subscription failing.
	srv.push(t, `{"type":"message","destination":"/topic/rooms/9","body":"plain text payload"}`)

	select {
	case body := <-got:
		if string(body) != "plain text payload" {
			t.Errorf("handler body = %q, want raw passthrough", body)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestRegistry_ResubscribesAfterReconnect(t *testing.T) {
	srv := newEchoServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	defer m.Disconnect()

	unsub, err := m.Registry().Subscribe(context.Background(), "/user/queue/match-results", func([]byte) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	// First subscribe frame.
	select {
	case <-srv.subs:
	case <-time.After(time.Second):
		t.Fatal("no subscribe frame on first connection")
	}

	srv.dropAll()

	// After the silent reconnect the registry must re-issue the
	// subscribe frame on the new connection.
	select {
	case raw := <-srv.subs:
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if f.Type != FrameSubscribe || f.Destination != "/user/queue/match-results" {
			t.Errorf("resubscribe frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe frame after reconnect")
	}
}

func TestRegistry_MultipleSubscribersSameTopic(t *testing.T) {
	srv := newEchoServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	defer m.Disconnect()

	a := make(chan []byte, 1)
	b := make(chan []byte, 1)
	unsubA, err := m.Registry().Subscribe(context.Background(), "/topic/rooms/3", func(body []byte) { a <- body })
	if err != nil {
		t.Fatal(err)
	}
	defer unsubA()
	unsubB, err := m.Registry().Subscribe(context.Background(), "/topic/rooms/3", func(body []byte) { b <- body })
	if err != nil {
		t.Fatal(err)
	}
	defer unsubB()

	srv.push(t, `{"type":"message","destination":"/topic/rooms/3","body":{"content":"x"}}`)

	for name, ch := range map[string]chan []byte{"a": a, "b": b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never invoked", name)
		}
	}
}
