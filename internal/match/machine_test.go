package match

import (
	"context"
	"errors"
	"testing"

	"github.com/matcha-chat/realtime/internal/api"
)

func i64(v int64) *int64   { return &v }
func str(v string) *string { return &v }

// fakeAPI returns canned responses for match commands.
type fakeAPI struct {
	startResp   *api.StartResponse
	startErr    error
	decisionIDs []int64
	decision    *api.DecisionResponse
	decisionErr error
}

func (f *fakeAPI) StartMatch(_ context.Context, _ api.MatchCriteria) (*api.StartResponse, error) {
	return f.startResp, f.startErr
}

func (f *fakeAPI) AcceptMatch(_ context.Context, id int64) (*api.DecisionResponse, error) {
	f.decisionIDs = append(f.decisionIDs, id)
	return f.decision, f.decisionErr
}

func (f *fakeAPI) DeclineMatch(_ context.Context, id int64) (*api.DecisionResponse, error) {
	f.decisionIDs = append(f.decisionIDs, id)
	return f.decision, f.decisionErr
}

func TestStartWaiting(t *testing.T) {
	fake := &fakeAPI{
		startResp: &api.StartResponse{
			State:        api.StateWaiting,
			MyRequestID:  i64(11),
			WaitingCount: i64(3),
			Message:      "queued",
		},
	}
	m := NewMachine(fake, nil)

	if err := m.Start(context.Background(), api.MatchCriteria{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sess := m.Snapshot()
	if sess.Status != StatusWaiting {
		t.Errorf("Status = %q, want WAITING", sess.Status)
	}
	if !m.IsWaiting() {
		t.Error("IsWaiting() should be true")
	}
	if m.IsMatched() {
		t.Error("IsMatched() should be false")
	}
	if sess.WaitingCount != 3 {
		t.Errorf("WaitingCount = %d, want 3", sess.WaitingCount)
	}
	if sess.MyRequestID != 11 {
		t.Errorf("MyRequestID = %d, want 11", sess.MyRequestID)
	}
}

func TestStartFailureLeavesStateUnchanged(t *testing.T) {
	fake := &fakeAPI{startErr: errors.New("queue unavailable")}
	m := NewMachine(fake, nil)

	err := m.Start(context.Background(), api.MatchCriteria{})
	if err == nil {
		t.Fatal("Start should propagate the command failure")
	}

	sess := m.Snapshot()
	if sess.Status != StatusIdle {
		t.Errorf("Status = %q after failed start, want IDLE", sess.Status)
	}
	if sess.StatusMessage == "" {
		t.Error("failure should surface an error message")
	}
}

func TestMatchFoundEvent(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)

	// Prior decisions must be cleared by a fresh MATCH_FOUND.
	m.ApplyEvent(Event{EventType: EventPartnerAccepted})

	m.HandleEvent([]byte(`{"eventType":"MATCH_FOUND","roomId":42,"partnerLoginId":"bob","myRequestId":5,"shouldCreateOffer":true}`))

	sess := m.Snapshot()
	if sess.Status != StatusMatched {
		t.Errorf("Status = %q, want MATCHED", sess.Status)
	}
	if sess.RoomID != 42 {
		t.Errorf("RoomID = %d, want 42", sess.RoomID)
	}
	if sess.PartnerLoginID != "bob" {
		t.Errorf("PartnerLoginID = %q, want bob", sess.PartnerLoginID)
	}
	if !sess.ShouldCreateOffer {
		t.Error("ShouldCreateOffer should be true")
	}
	if sess.MyDecision != DecisionNone || sess.PartnerDecision != DecisionNone {
		t.Error("prior decisions must be cleared")
	}
}

func TestMatchCancelledEvent(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)
	m.ApplyEvent(Event{
		EventType:      EventMatchFound,
		RoomID:         i64(42),
		PartnerLoginID: str("bob"),
	})

	m.ApplyEvent(Event{EventType: EventMatchCancelled})

	sess := m.Snapshot()
	if sess.Status != StatusCancelled {
		t.Errorf("Status = %q, want CANCELLED", sess.Status)
	}
	if sess.RoomID != 0 {
		t.Errorf("RoomID = %d, want cleared", sess.RoomID)
	}
	if sess.PartnerLoginID != "" {
		t.Errorf("PartnerLoginID = %q, want cleared", sess.PartnerLoginID)
	}
}

func TestStaleResponseCannotRevertMatched(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)

	m.ApplyEvent(Event{EventType: EventMatchFound, MyRequestID: i64(5), RoomID: i64(42)})

	// The start command's own response arrives late, still claiming
	// WAITING for the same request.
	m.ApplyResponse(&api.StartResponse{State: api.StateWaiting, MyRequestID: i64(5), WaitingCount: i64(1)})

	if got := m.Snapshot().Status; got != StatusMatched {
		t.Errorf("Status = %q after stale response, want MATCHED", got)
	}

	// A genuinely newer request may move the machine back to WAITING.
	m.ApplyResponse(&api.StartResponse{State: api.StateWaiting, MyRequestID: i64(6)})
	if got := m.Snapshot().Status; got != StatusWaiting {
		t.Errorf("Status = %q for newer request, want WAITING", got)
	}
}

func TestEventResponseOrderingConverges(t *testing.T) {
	event := Event{EventType: EventMatchFound, MyRequestID: i64(7), RoomID: i64(9), PartnerLoginID: str("eve")}
	resp := &api.StartResponse{State: api.StateWaiting, MyRequestID: i64(7), WaitingCount: i64(2)}

	first := NewMachine(&fakeAPI{}, nil)
	first.ApplyResponse(resp)
	first.ApplyEvent(event)

	second := NewMachine(&fakeAPI{}, nil)
	second.ApplyEvent(event)
	second.ApplyResponse(resp)

	a, b := first.Snapshot(), second.Snapshot()
	if a.Status != StatusMatched || b.Status != StatusMatched {
		t.Fatalf("statuses = %q / %q, both want MATCHED", a.Status, b.Status)
	}
	if a.RoomID != b.RoomID || a.MyRequestID != b.MyRequestID || a.PartnerLoginID != b.PartnerLoginID {
		t.Errorf("orderings diverged: %+v vs %+v", a, b)
	}
}

func TestAcceptRequiresRequestID(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)

	if err := m.Accept(context.Background()); !errors.Is(err, ErrNoActiveRequest) {
		t.Errorf("Accept without request = %v, want ErrNoActiveRequest", err)
	}
	if err := m.Decline(context.Background()); !errors.Is(err, ErrNoActiveRequest) {
		t.Errorf("Decline without request = %v, want ErrNoActiveRequest", err)
	}
}

func TestAcceptBothAccepted(t *testing.T) {
	fake := &fakeAPI{
		decision: &api.DecisionResponse{
			Decision:     api.DecisionAccepted,
			BothAccepted: true,
			RoomID:       i64(42),
		},
	}
	m := NewMachine(fake, nil)
	m.ApplyEvent(Event{EventType: EventMatchFound, MyRequestID: i64(5)})

	if err := m.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	if got := fake.decisionIDs; len(got) != 1 || got[0] != 5 {
		t.Errorf("accept issued for request ids %v, want [5]", got)
	}

	sess := m.Snapshot()
	if sess.Status != StatusConfirmed {
		t.Errorf("Status = %q, want CONFIRMED", sess.Status)
	}
	if sess.MyDecision != DecisionAccepted || sess.PartnerDecision != DecisionAccepted {
		t.Errorf("decisions = %q/%q, want ACCEPTED/ACCEPTED", sess.MyDecision, sess.PartnerDecision)
	}
}

func TestDeclineForcesDeclinedLocally(t *testing.T) {
	// Server echo claims nothing useful; local status must still land
	// on DECLINED.
	fake := &fakeAPI{decision: &api.DecisionResponse{}}
	m := NewMachine(fake, nil)
	m.ApplyEvent(Event{EventType: EventMatchFound, MyRequestID: i64(5)})

	if err := m.Decline(context.Background()); err != nil {
		t.Fatalf("Decline failed: %v", err)
	}

	sess := m.Snapshot()
	if sess.Status != StatusDeclined {
		t.Errorf("Status = %q, want DECLINED", sess.Status)
	}
	if sess.MyDecision != DecisionDeclined {
		t.Errorf("MyDecision = %q, want DECLINED", sess.MyDecision)
	}
}

func TestPartnerEvents(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)
	m.ApplyEvent(Event{EventType: EventMatchFound, MyRequestID: i64(5)})

	m.ApplyEvent(Event{EventType: EventPartnerAccepted, Message: "partner accepted"})
	sess := m.Snapshot()
	if sess.Status != StatusMatched {
		t.Errorf("PARTNER_ACCEPTED changed status to %q", sess.Status)
	}
	if sess.PartnerDecision != DecisionAccepted {
		t.Errorf("PartnerDecision = %q, want ACCEPTED", sess.PartnerDecision)
	}
	if sess.StatusMessage != "partner accepted" {
		t.Errorf("StatusMessage = %q", sess.StatusMessage)
	}

	m.ApplyEvent(Event{EventType: EventPartnerDeclined})
	if got := m.Snapshot().Status; got != StatusDeclined {
		t.Errorf("Status = %q after PARTNER_DECLINED, want DECLINED", got)
	}
}

func TestBothConfirmedForcesOfferFlagOff(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)
	m.HandleEvent([]byte(`{"eventType":"MATCH_FOUND","myRequestId":5,"shouldCreateOffer":true}`))

	m.ApplyEvent(Event{EventType: EventBothConfirmed})

	sess := m.Snapshot()
	if sess.Status != StatusConfirmed {
		t.Errorf("Status = %q, want CONFIRMED", sess.Status)
	}
	if sess.ShouldCreateOffer {
		t.Error("ShouldCreateOffer must be forced off after BOTH_CONFIRMED")
	}
	if sess.MyDecision != DecisionAccepted || sess.PartnerDecision != DecisionAccepted {
		t.Error("BOTH_CONFIRMED should fill in missing decisions as ACCEPTED")
	}
}

func TestUnrecognizedEventIgnored(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)
	m.ApplyEvent(Event{EventType: EventMatchFound, MyRequestID: i64(5), RoomID: i64(42)})
	before := m.Snapshot()

	m.HandleEvent([]byte(`{"eventType":"SOMETHING_NEW","roomId":999}`))

	after := m.Snapshot()
	if after.Status != before.Status || after.RoomID != before.RoomID {
		t.Errorf("unknown event mutated session: %+v → %+v", before, after)
	}
}

func TestUndecodableEventIgnored(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)
	m.HandleEvent([]byte(`not json at all`))

	if got := m.Snapshot().Status; got != StatusIdle {
		t.Errorf("Status = %q after garbage event, want IDLE", got)
	}
}

func TestReset(t *testing.T) {
	m := NewMachine(&fakeAPI{}, nil)
	m.ApplyEvent(Event{EventType: EventMatchFound, MyRequestID: i64(5), RoomID: i64(42), PartnerLoginID: str("bob")})

	m.Reset()

	sess := m.Snapshot()
	if sess.Status != StatusIdle || sess.MyRequestID != 0 || sess.RoomID != 0 || sess.PartnerLoginID != "" {
		t.Errorf("Reset left state behind: %+v", sess)
	}
}
