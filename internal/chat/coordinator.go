package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matcha-chat/realtime/internal/api"
	"github.com/matcha-chat/realtime/internal/transport"
)

// maxPendingEchoes bounds the set of correlation ids kept for echo
// suppression.
const maxPendingEchoes = 64

// Subscriber is the slice of the subscription registry the coordinator
// needs.
type Subscriber interface {
	Subscribe(ctx context.Context, destination string, h transport.Handler) (func(), error)
}

// Publisher sends payloads over the shared transport.
type Publisher interface {
	Publish(ctx context.Context, destination string, body any) error
}

// RoomAPI is the HTTP boundary for room and history operations.
// Satisfied by *api.Client.
type RoomAPI interface {
	ListRooms(ctx context.Context) ([]api.Room, error)
	ListMessages(ctx context.Context, roomID int64) ([]api.Message, error)
	CreateGroupRoom(ctx context.Context) (*api.Room, error)
}

// Identity exposes the current user identity for tagging own messages.
type Identity interface {
	Identity() string
}

// Message is a chat message as consumers see it. Mine is derived by
// comparing the sender identity to the current user.
type Message struct {
	ID                string
	RoomID            int64
	Sender            string
	SenderLoginID     string
	Content           string
	TranslatedContent string
	SentAt            time.Time
	Mine              bool
}

// Coordinator owns the active-room chat state exclusively.
type Coordinator struct {
	subs   Subscriber
	pub    Publisher
	api    RoomAPI
	ident  Identity
	logger *slog.Logger

	mu          sync.Mutex
	rooms       []api.Room
	activeRoom  int64
	unsubscribe func()
	history     []Message

	// Correlation ids of optimistic sends whose broadcast echo should
	// be suppressed, oldest first.
	pendingEchoes []string
}

// NewCoordinator creates a coordinator with no active room.
func NewCoordinator(subs Subscriber, pub Publisher, roomAPI RoomAPI, ident Identity, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		subs:   subs,
		pub:    pub,
		api:    roomAPI,
		ident:  ident,
		logger: logger,
	}
}

// LoadRooms fetches the room list.
func (c *Coordinator) LoadRooms(ctx context.Context) ([]api.Room, error) {
	rooms, err := c.api.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.rooms = rooms
	c.mu.Unlock()
	return rooms, nil
}

// CreateGroupRoom creates a group room and adds it to the local list.
func (c *Coordinator) CreateGroupRoom(ctx context.Context) (*api.Room, error) {
	room, err := c.api.CreateGroupRoom(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.rooms = append(c.rooms, *room)
	c.mu.Unlock()
	return room, nil
}

// SelectRoom switches the live subscription to roomID. The previous
// room's topic is unsubscribed strictly before the new subscription is
// attached, then history is loaded and replaces the in-memory state
// entirely.
func (c *Coordinator) SelectRoom(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.activeRoom = roomID
	c.history = nil
	c.mu.Unlock()

	unsub, err := c.subs.Subscribe(ctx, transport.RoomTopic(roomID), func(body []byte) {
		c.handleInbound(roomID, body)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.activeRoom != roomID {
		// The caller switched again while we were subscribing.
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsubscribe = unsub
	c.mu.Unlock()

	messages, err := c.api.ListMessages(ctx, roomID)
	if err != nil {
		return err
	}

	me := c.identity()
	normalized := make([]Message, 0, len(messages))
	for _, msg := range messages {
		normalized = append(normalized, normalize(msg, me))
	}

	c.mu.Lock()
	if c.activeRoom == roomID {
		c.history = normalized
	}
	c.mu.Unlock()
	return nil
}

// SendMessage publishes content to the active room and appends a local
// echo tagged as mine. With no active room or blank content it is a
// no-op: nothing is published, nothing is appended.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	c.mu.Lock()
	roomID := c.activeRoom
	c.mu.Unlock()
	if roomID == 0 {
		return nil
	}

	clientID := uuid.NewString()
	payload := api.Message{
		RoomID:          roomID,
		Content:         content,
		SenderLoginID:   c.identity(),
		ClientMessageID: clientID,
	}

	if err := c.pub.Publish(ctx, transport.RoomSendDestination(roomID), payload); err != nil {
		return err
	}

	echo := Message{
		ID:            clientID,
		RoomID:        roomID,
		Sender:        c.identity(),
		SenderLoginID: c.identity(),
		Content:       content,
		SentAt:        time.Now(),
		Mine:          true,
	}

	c.mu.Lock()
	if c.activeRoom == roomID {
		c.history = append(c.history, echo)
	}
	c.pendingEchoes = append(c.pendingEchoes, clientID)
	if len(c.pendingEchoes) > maxPendingEchoes {
		c.pendingEchoes = c.pendingEchoes[len(c.pendingEchoes)-maxPendingEchoes:]
	}
	c.mu.Unlock()
	return nil
}

// History returns a copy of the active room's messages in arrival
// order. Duplicate delivery from the broker is tolerated, not deduped;
// only the echo of our own optimistic sends is suppressed.
func (c *Coordinator) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// ActiveRoom returns the selected room id, 0 when none.
func (c *Coordinator) ActiveRoom() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// Rooms returns the last fetched room list.
func (c *Coordinator) Rooms() []api.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// Cleanup unsubscribes the active room topic. Idempotent.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// handleInbound appends a pushed message to history when it belongs to
// the active room; messages for any other room are dropped.
func (c *Coordinator) handleInbound(roomID int64, body []byte) {
	var msg api.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("undecodable room message", "room_id", roomID, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeRoom != roomID {
		return
	}

	if msg.ClientMessageID != "" && c.consumeEcho(msg.ClientMessageID) {
		// Broadcast echo of our own optimistic send.
		return
	}

	c.history = append(c.history, normalize(msg, c.identity()))
}

// consumeEcho removes id from the pending echo set, reporting whether
// it was present. Caller holds the lock.
func (c *Coordinator) consumeEcho(id string) bool {
	for i, pending := range c.pendingEchoes {
		if pending == id {
			c.pendingEchoes = append(c.pendingEchoes[:i], c.pendingEchoes[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) identity() string {
	if c.ident == nil {
		return ""
	}
	return c.ident.Identity()
}

// normalize converts an API message to the consumer model.
func normalize(msg api.Message, me string) Message {
	sender := msg.SenderNickName
	if sender == "" {
		sender = msg.SenderLoginID
	}

	id := msg.ClientMessageID
	if msg.ID != 0 {
		id = strconv.FormatInt(msg.ID, 10)
	}
	if id == "" {
		id = uuid.NewString()
	}

	sentAt := time.Now()
	if msg.SentAt != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.SentAt); err == nil {
			sentAt = parsed
		}
	}

	var translated string
	if msg.TranslatedContent != nil {
		translated = *msg.TranslatedContent
	}

	return Message{
		ID:                id,
		RoomID:            msg.RoomID,
		Sender:            sender,
		SenderLoginID:     msg.SenderLoginID,
		Content:           msg.Content,
		TranslatedContent: translated,
		SentAt:            sentAt,
		Mine:              me != "" && msg.SenderLoginID == me,
	}
}
