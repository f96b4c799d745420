package match

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/matcha-chat/realtime/internal/api"
)

// ErrNoActiveRequest is returned when accept or decline is issued
// without a current request id.
var ErrNoActiveRequest = errors.New("no active match request")

// Status is the canonical match negotiation state.
type Status string

const (
	StatusIdle           Status = "IDLE"
	StatusWaiting        Status = "WAITING"
	StatusAlreadyWaiting Status = "ALREADY_WAITING"
	StatusMatched        Status = "MATCHED"
	StatusConfirmed      Status = "CONFIRMED"
	StatusDeclined       Status = "DECLINED"
	StatusCancelled      Status = "CANCELLED"
)

// Decision is a side's recorded accept/decline choice.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionAccepted Decision = "ACCEPTED"
	DecisionDeclined Decision = "DECLINED"
)

// Server-pushed event types. Unrecognized types are ignored for
// forward compatibility.
const (
	EventMatchFound      = "MATCH_FOUND"
	EventPartnerAccepted = "PARTNER_ACCEPTED"
	EventPartnerDeclined = "PARTNER_DECLINED"
	EventBothConfirmed   = "BOTH_CONFIRMED"
	EventMatchCancelled  = "MATCH_CANCELLED"
)

// Event is an asynchronously pushed match notification. Pointer fields
// distinguish "absent" from zero so an event only overrides what it
// carries.
type Event struct {
	EventType         string  `json:"eventType"`
	RoomID            *int64  `json:"roomId,omitempty"`
	MyRequestID       *int64  `json:"myRequestId,omitempty"`
	PartnerRequestID  *int64  `json:"partnerRequestId,omitempty"`
	PartnerLoginID    *string `json:"partnerLoginId,omitempty"`
	PartnerNickName   *string `json:"partnerNickName,omitempty"`
	PartnerUserPID    *int64  `json:"partnerUserPid,omitempty"`
	Message           string  `json:"message,omitempty"`
	ShouldCreateOffer bool    `json:"shouldCreateOffer,omitempty"`
}

// Session is a read-only snapshot of the negotiation state. A zero
// request id means no request is in flight.
type Session struct {
	Status            Status
	MyRequestID       int64
	PartnerRequestID  int64
	RoomID            int64
	PartnerLoginID    string
	PartnerNickName   string
	PartnerUserPID    int64
	WaitingCount      int64
	ShouldCreateOffer bool
	StatusMessage     string
	MyDecision        Decision
	PartnerDecision   Decision
}

// API is the HTTP boundary the machine issues commands through.
// Satisfied by *api.Client.
type API interface {
	StartMatch(ctx context.Context, criteria api.MatchCriteria) (*api.StartResponse, error)
	AcceptMatch(ctx context.Context, requestID int64) (*api.DecisionResponse, error)
	DeclineMatch(ctx context.Context, requestID int64) (*api.DecisionResponse, error)
}

// Machine owns the match session state exclusively and exposes it
// read-only through Snapshot.
type Machine struct {
	api    API
	logger *slog.Logger

	mu   sync.Mutex
	sess Session
}

// NewMachine creates a machine in the IDLE state.
func NewMachine(apiClient API, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		api:    apiClient,
		logger: logger,
		sess:   Session{Status: StatusIdle},
	}
}

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// IsMatched reports whether a pairing has been found.
func (m *Machine) IsMatched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Status == StatusMatched
}

// IsWaiting reports whether the user is queued for a pairing.
func (m *Machine) IsWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Status == StatusWaiting || m.sess.Status == StatusAlreadyWaiting
}

// Start issues a start-match command and applies its response. On
// failure only the status message changes and the error is returned to
// the caller.
func (m *Machine) Start(ctx context.Context, criteria api.MatchCriteria) error {
	resp, err := m.api.StartMatch(ctx, criteria)
	if err != nil {
		m.surfaceError(err)
		return err
	}
	m.ApplyResponse(resp)
	return nil
}

// Accept accepts the current pairing. Requires an active request id.
func (m *Machine) Accept(ctx context.Context) error {
	requestID, err := m.currentRequestID()
	if err != nil {
		return err
	}

	resp, err := m.api.AcceptMatch(ctx, requestID)
	if err != nil {
		m.surfaceError(err)
		return err
	}
	m.applyDecision(resp, DecisionAccepted)
	return nil
}

// Decline declines the current pairing. The local status is forced to
// DECLINED regardless of the response content, so a slow or lost server
// echo cannot leave the session stuck.
func (m *Machine) Decline(ctx context.Context) error {
	requestID, err := m.currentRequestID()
	if err != nil {
		return err
	}

	resp, err := m.api.DeclineMatch(ctx, requestID)
	if err != nil {
		m.surfaceError(err)
		return err
	}
	m.applyDecision(resp, DecisionDeclined)

	m.mu.Lock()
	m.sess.Status = StatusDeclined
	m.mu.Unlock()
	return nil
}

// Reset returns the machine to IDLE, discarding all session fields.
// Used on logout or navigation away from matching.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.sess = Session{Status: StatusIdle}
	m.mu.Unlock()
}

// ApplyResponse applies a direct command result. Fields present in the
// payload win over current values; absent fields are left untouched.
// A waiting-state response that raced a MATCH_FOUND event for the same
// or an older request never reverts the MATCHED status.
func (m *Machine) ApplyResponse(resp *api.StartResponse) {
	if resp == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Message != "" {
		m.sess.StatusMessage = resp.Message
	}

	if resp.State != "" {
		next := Status(resp.State)
		if !m.staleWaitingResponse(next, resp.MyRequestID) {
			m.sess.Status = next
		}
	}

	if resp.MyRequestID != nil {
		m.sess.MyRequestID = *resp.MyRequestID
	}
	if resp.PartnerRequestID != nil {
		m.sess.PartnerRequestID = *resp.PartnerRequestID
	}
	if resp.RoomID != nil {
		m.sess.RoomID = *resp.RoomID
	}
	if resp.PartnerLoginID != nil {
		m.sess.PartnerLoginID = *resp.PartnerLoginID
	}
	if resp.PartnerNickName != nil {
		m.sess.PartnerNickName = *resp.PartnerNickName
	}
	if resp.PartnerUserPID != nil {
		m.sess.PartnerUserPID = *resp.PartnerUserPID
	}
	if resp.WaitingCount != nil {
		m.sess.WaitingCount = *resp.WaitingCount
	}
	if resp.ShouldCreateOffer != nil {
		m.sess.ShouldCreateOffer = *resp.ShouldCreateOffer
	}
}

// staleWaitingResponse reports whether a WAITING/ALREADY_WAITING status
// from a command response belongs to a request that a MATCH_FOUND event
// already resolved.
func (m *Machine) staleWaitingResponse(next Status, requestID *int64) bool {
	if m.sess.Status != StatusMatched {
		return false
	}
	if next != StatusWaiting && next != StatusAlreadyWaiting {
		return false
	}
	return requestID == nil || *requestID <= m.sess.MyRequestID
}

// ApplyEvent applies a server-pushed notification, independent of any
// pending command.
func (m *Machine) ApplyEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Message != "" {
		m.sess.StatusMessage = ev.Message
	}

	switch ev.EventType {
	case EventMatchFound:
		m.sess.Status = StatusMatched
		if ev.MyRequestID != nil {
			m.sess.MyRequestID = *ev.MyRequestID
		}
		if ev.PartnerRequestID != nil {
			m.sess.PartnerRequestID = *ev.PartnerRequestID
		}
		if ev.RoomID != nil {
			m.sess.RoomID = *ev.RoomID
		}
		if ev.PartnerLoginID != nil {
			m.sess.PartnerLoginID = *ev.PartnerLoginID
		}
		if ev.PartnerNickName != nil {
			m.sess.PartnerNickName = *ev.PartnerNickName
		}
		if ev.PartnerUserPID != nil {
			m.sess.PartnerUserPID = *ev.PartnerUserPID
		}
		m.sess.ShouldCreateOffer = ev.ShouldCreateOffer
		m.sess.MyDecision = DecisionNone
		m.sess.PartnerDecision = DecisionNone

	case EventPartnerAccepted:
		// Status unchanged, informational only.
		m.sess.PartnerDecision = DecisionAccepted

	case EventPartnerDeclined:
		m.sess.Status = StatusDeclined
		m.sess.PartnerDecision = DecisionDeclined

	case EventBothConfirmed:
		m.sess.Status = StatusConfirmed
		// Peer connection setup is not re-initiated once both sides
		// confirmed.
		m.sess.ShouldCreateOffer = false
		if m.sess.MyDecision == DecisionNone {
			m.sess.MyDecision = DecisionAccepted
		}
		if m.sess.PartnerDecision == DecisionNone {
			m.sess.PartnerDecision = DecisionAccepted
		}

	case EventMatchCancelled:
		m.sess.Status = StatusCancelled
		m.sess.RoomID = 0
		m.sess.PartnerRequestID = 0
		m.sess.PartnerLoginID = ""
		m.sess.PartnerNickName = ""
		m.sess.PartnerUserPID = 0

	default:
		m.logger.Debug("ignoring unrecognized match event", "event_type", ev.EventType)
	}
}

// HandleEvent is the subscription handler for the match results queue.
// The body arrives already normalized to the internal convention.
func (m *Machine) HandleEvent(body []byte) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		m.logger.Warn("undecodable match event", "error", err)
		return
	}
	m.ApplyEvent(ev)
}

// applyDecision applies an accept/decline command response.
func (m *Machine) applyDecision(resp *api.DecisionResponse, mine Decision) {
	if resp == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sess.MyDecision = mine
	if resp.Message != "" {
		m.sess.StatusMessage = resp.Message
	}
	if resp.RoomID != nil {
		m.sess.RoomID = *resp.RoomID
	}
	if resp.MyRequestID != nil {
		m.sess.MyRequestID = *resp.MyRequestID
	}
	if resp.PartnerRequestID != nil {
		m.sess.PartnerRequestID = *resp.PartnerRequestID
	}
	if resp.ShouldCreateOffer != nil {
		m.sess.ShouldCreateOffer = *resp.ShouldCreateOffer
	}
	if resp.BothAccepted {
		m.sess.Status = StatusConfirmed
		if m.sess.PartnerDecision == DecisionNone {
			m.sess.PartnerDecision = DecisionAccepted
		}
	}
}

func (m *Machine) currentRequestID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.MyRequestID == 0 {
		return 0, ErrNoActiveRequest
	}
	return m.sess.MyRequestID, nil
}

func (m *Machine) surfaceError(err error) {
	m.mu.Lock()
	m.sess.StatusMessage = err.Error()
	m.mu.Unlock()
}
