package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pairline/relay/internal/protocol"
	"github.com/pairline/relay/internal/report"
)

// fakeTransport records every frame written to it, decoded as JSON events.
type fakeTransport struct {
	mu     sync.Mutex
	frames []map[string]interface{}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, m)
	f.mu.Unlock()
	return nil
}

// eventsOfType returns the recorded events with the given wire type.
func (f *fakeTransport) eventsOfType(msgType string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]interface{}
	for _, m := range f.frames {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) lastOfType(msgType string) map[string]interface{} {
	events := f.eventsOfType(msgType)
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func newTestService(cfg Config) *Service {
	return NewService(cfg, report.NewIntake(nil), nil, nil, nil)
}

// connect registers a user with a fresh fake transport.
func connect(s *Service, userID string) *fakeTransport {
	t := &fakeTransport{}
	s.HandleConnect(userID, t)
	return t
}

// pairUp joins two users into a video session and returns the session ID.
func pairUp(t *testing.T, s *Service, userA, userB string, ta, tb *fakeTransport) string {
	t.Helper()
	s.JoinQueue(ta, userA, protocol.JoinQueueMsg{DisplayName: userA})
	s.JoinQueue(tb, userB, protocol.JoinQueueMsg{DisplayName: userB})

	matched := ta.lastOfType(protocol.TypeMatchFoundVideo)
	if matched == nil {
		t.Fatalf("%s never received %s", userA, protocol.TypeMatchFoundVideo)
	}
	return matched["sessionId"].(string)
}

func TestJoinQueue_PairsInJoinOrderWithOneInitiator(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")

	s.JoinQueue(ta, "userA", protocol.JoinQueueMsg{DisplayName: "Alice", Preferences: []string{"music"}})

	// Alone in the queue: told no match, but still waiting.
	if ta.lastOfType(protocol.TypeNoMatchFound) == nil {
		t.Error("lone user was not told no-match-found")
	}

	s.JoinQueue(tb, "userB", protocol.JoinQueueMsg{DisplayName: "Bob"})

	ma := ta.lastOfType(protocol.TypeMatchFoundVideo)
	mb := tb.lastOfType(protocol.TypeMatchFoundVideo)
	if ma == nil || mb == nil {
		t.Fatal("both users must receive match_found")
	}

	if ma["isInitiator"] != true {
		t.Error("earlier-joined userA must be the initiator")
	}
	if mb["isInitiator"] != false {
		t.Error("userB must not be the initiator")
	}
	if ma["partnerId"] != "userB" || mb["partnerId"] != "userA" {
		t.Errorf("partner ids = (%v, %v), want (userB, userA)", ma["partnerId"], mb["partnerId"])
	}
	if ma["sessionId"] != mb["sessionId"] {
		t.Error("both sides must share one session id")
	}

	profile, ok := mb["partnerProfile"].(map[string]interface{})
	if !ok || profile["displayName"] != "Alice" {
		t.Errorf("userB's partnerProfile = %v, want Alice's profile", mb["partnerProfile"])
	}

	if s.Sessions().Len() != 1 {
		t.Errorf("session table holds %d sessions, want 1", s.Sessions().Len())
	}
}

func TestJoinQueue_FIFOAcrossFourUsers(t *testing.T) {
	s := newTestService(DefaultConfig())

	transports := make(map[string]*fakeTransport)
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		transports[id] = connect(s, id)
		s.JoinQueue(transports[id], id, protocol.JoinQueueMsg{})
	}

	// u1+u2 pair first, then u3+u4.
	m1 := transports["u1"].lastOfType(protocol.TypeMatchFoundVideo)
	m3 := transports["u3"].lastOfType(protocol.TypeMatchFoundVideo)
	if m1 == nil || m1["partnerId"] != "u2" {
		t.Errorf("u1 matched with %v, want u2", m1)
	}
	if m3 == nil || m3["partnerId"] != "u4" {
		t.Errorf("u3 matched with %v, want u4", m3)
	}
}

func TestJoinQueue_RejoinWhileMatchedRedirects(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.JoinQueue(ta, "userA", protocol.JoinQueueMsg{DisplayName: "Alice"})

	redirected := ta.lastOfType(protocol.TypeMatchFoundVideo)
	if redirected["sessionId"] != sessionID {
		t.Errorf("redirect sessionId = %v, want existing %s", redirected["sessionId"], sessionID)
	}
	if redirected["isInitiator"] != true {
		t.Error("redirect flipped the initiator flag")
	}
	if s.Sessions().Len() != 1 {
		t.Errorf("rejoin created a duplicate session: table holds %d", s.Sessions().Len())
	}
}

func TestChatMessage_RelayedAndBuffered(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.ChatMessage(ta, "userA", protocol.ChatMessageMsg{SessionID: sessionID, Content: "hello there"})

	got := tb.lastOfType(protocol.TypeChatMessage)
	if got == nil {
		t.Fatal("userB never received the chat message")
	}
	if got["content"] != "hello there" || got["from"] != "userA" {
		t.Errorf("relayed message = %v", got)
	}

	transcript := s.Transcripts().Get(sessionID)
	if len(transcript) != 1 || transcript[0].Content != "hello there" {
		t.Errorf("transcript = %+v, want the one relayed message", transcript)
	}
}

func TestChatMessage_NoSession_NoBufferNoPanic(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta := connect(s, "userA")

	s.ChatMessage(ta, "userA", protocol.ChatMessageMsg{To: "ghost", Content: "anyone?"})

	if ta.lastOfType(protocol.TypeError) == nil {
		t.Error("sender was not told there is no session")
	}
	if s.Sessions().Len() != 0 {
		t.Error("a session appeared out of nowhere")
	}
	if s.Transcripts().Len() != 0 {
		t.Error("a transcript buffer appeared without a session")
	}
}

func TestChatMessage_PartnerUnreachable_SilentDrop(t *testing.T) {
	s := newTestService(Config{GracePeriod: time.Hour, TranscriptRetention: time.Hour})
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	// userB drops; the session survives inside the grace window but the
	// transport is gone.
	s.HandleDisconnect("userB", tb)

	s.ChatMessage(ta, "userA", protocol.ChatMessageMsg{SessionID: sessionID, Content: "you there?"})

	if ta.lastOfType(protocol.TypeError) != nil {
		t.Error("silent drop must not produce an error event")
	}
	if got := s.Transcripts().Get(sessionID); len(got) != 0 {
		t.Errorf("dropped message was buffered: %+v", got)
	}
}

func TestChatMessage_InvalidContentRejected(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.ChatMessage(ta, "userA", protocol.ChatMessageMsg{SessionID: sessionID, Content: ""})

	if ta.lastOfType(protocol.TypeError) == nil {
		t.Error("empty message was not rejected")
	}
	if tb.lastOfType(protocol.TypeChatMessage) != nil {
		t.Error("rejected message reached the partner")
	}
}

func TestSignal_RelayedVerbatimAndUnbuffered(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	payload := json.RawMessage(`{"sdp":"v=0 fake offer","type":"offer"}`)
	s.Signal(ta, "userA", protocol.SignalMsg{Type: protocol.TypeOffer, To: "userB", Payload: payload})

	got := tb.lastOfType(protocol.TypeOffer)
	if got == nil {
		t.Fatal("userB never received the offer")
	}
	if got["from"] != "userA" {
		t.Errorf("offer from = %v, want userA", got["from"])
	}
	inner, _ := json.Marshal(got["payload"])
	var want, have map[string]interface{}
	json.Unmarshal(payload, &want)
	json.Unmarshal(inner, &have)
	if fmt.Sprint(have) != fmt.Sprint(want) {
		t.Errorf("payload = %v, want %v verbatim", have, want)
	}

	if got := s.Transcripts().Get(sessionID); len(got) != 0 {
		t.Error("signaling payload leaked into the moderation transcript")
	}
}

func TestSignal_RecipientGone_Silent(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta := connect(s, "userA")

	s.Signal(ta, "userA", protocol.SignalMsg{Type: protocol.TypeICECandidate, To: "ghost"})

	if ta.lastOfType(protocol.TypeError) != nil {
		t.Error("silent drop must not produce an error event")
	}
}

func TestEndCall_RemovesSessionAndNotifiesBoth(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.EndCall(ta, "userA", protocol.EndChatMsg{SessionID: sessionID})

	for name, tr := range map[string]*fakeTransport{"userA": ta, "userB": tb} {
		if tr.lastOfType(protocol.TypeCallEnded) == nil {
			t.Errorf("%s never received call_ended", name)
		}
	}
	if s.Sessions().Find("userA") != nil || s.Sessions().Find("userB") != nil {
		t.Error("participants still resolve to a session after end")
	}
}

func TestEndCall_ByPartnerIDEitherOrder(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	pairUp(t, s, "userA", "userB", ta, tb)

	// Legacy clients know both ends but not the session id; userB names the
	// pair from its side.
	s.EndCall(tb, "userB", protocol.EndChatMsg{PartnerID: "userA"})

	if s.Sessions().Len() != 0 {
		t.Error("endByParticipants did not remove the session")
	}
}

func TestNextMatch_RequiresSessionID(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta := connect(s, "userA")

	s.NextMatch(ta, "userA", protocol.NextMatchMsg{})

	errEvent := ta.lastOfType(protocol.TypeError)
	if errEvent == nil || errEvent["code"] != "missing_session_id" {
		t.Errorf("malformed next_match got %v, want missing_session_id error", errEvent)
	}
}

func TestNextMatch_SkipsAndRequeues(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.NextMatch(ta, "userA", protocol.NextMatchMsg{SessionID: sessionID})

	ended := tb.lastOfType(protocol.TypeCallEnded)
	if ended == nil || ended["reason"] != ReasonSkipped {
		t.Errorf("partner teardown event = %v, want reason %q", ended, ReasonSkipped)
	}
	if s.Sessions().Len() != 0 {
		t.Error("skipped session still in the table")
	}

	// The skipper is waiting again; a third user pairs with them.
	tc := connect(s, "userC")
	s.JoinQueue(tc, "userC", protocol.JoinQueueMsg{})
	if m := ta.lastOfType(protocol.TypeMatchFoundVideo); m == nil || m["partnerId"] != "userC" {
		t.Errorf("skipper re-pair = %v, want userC", m)
	}
}

func TestDisconnect_ReconnectWithinGraceKeepsSession(t *testing.T) {
	s := newTestService(Config{GracePeriod: 60 * time.Millisecond, TranscriptRetention: time.Hour})
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.HandleDisconnect("userA", ta)

	// Reconnect at "59 seconds" — well inside the window.
	time.Sleep(20 * time.Millisecond)
	connect(s, "userA")

	time.Sleep(100 * time.Millisecond)

	if got := tb.eventsOfType(protocol.TypePartnerDisconnect); len(got) != 0 {
		t.Errorf("partner received %d disconnect notifications, want 0", len(got))
	}
	if s.Sessions().Get(sessionID) == nil {
		t.Error("session was torn down despite the reconnect")
	}
}

func TestDisconnect_GraceExpiryTearsDownOnce(t *testing.T) {
	s := newTestService(Config{GracePeriod: 40 * time.Millisecond, TranscriptRetention: time.Hour})
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.HandleDisconnect("userA", ta)
	time.Sleep(120 * time.Millisecond)

	notifications := tb.eventsOfType(protocol.TypePartnerDisconnect)
	if len(notifications) != 1 {
		t.Fatalf("partner received %d disconnect notifications, want exactly 1", len(notifications))
	}
	if notifications[0]["reason"] != ReasonDisconnected {
		t.Errorf("reason = %v, want %q", notifications[0]["reason"], ReasonDisconnected)
	}
	if s.Sessions().Get(sessionID) != nil {
		t.Error("session survived the grace expiry")
	}
}

func TestDisconnect_StaleTransportIgnored(t *testing.T) {
	s := newTestService(Config{GracePeriod: 40 * time.Millisecond, TranscriptRetention: time.Hour})
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	// userA reconnects first; the old socket's close arrives afterwards.
	connect(s, "userA")
	s.HandleDisconnect("userA", ta)

	time.Sleep(100 * time.Millisecond)

	if s.Sessions().Get(sessionID) == nil {
		t.Error("stale transport close tore down the successor's session")
	}
	if len(tb.eventsOfType(protocol.TypePartnerDisconnect)) != 0 {
		t.Error("partner was notified for a stale close")
	}
}

func TestInstantChat_PairsFirstEligibleLiveUser(t *testing.T) {
	s := newTestService(DefaultConfig())

	// Registration order: userA, userB, userC. userA+userB go into a video
	// session, making them ineligible instant-chat partners.
	ta, tb := connect(s, "userA"), connect(s, "userB")
	tc := connect(s, "userC")
	pairUp(t, s, "userA", "userB", ta, tb)

	td := connect(s, "userD")
	s.JoinInstantChat(td, "userD", protocol.JoinInstantChatMsg{DisplayName: "Dee"})

	md := td.lastOfType(protocol.TypeMatchFoundInstant)
	if md == nil {
		t.Fatal("requester never received match-found")
	}
	if md["partnerId"] != "userC" {
		t.Errorf("instant partner = %v, want userC (first eligible in registration order)", md["partnerId"])
	}
	if md["isInitiator"] != true {
		t.Error("instant chat requester must be the initiator")
	}

	mc := tc.lastOfType(protocol.TypeMatchFoundInstant)
	if mc == nil || mc["isInitiator"] != false {
		t.Errorf("partner's match-found = %v, want isInitiator=false", mc)
	}
}

func TestInstantChat_NoEligiblePartner(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta := connect(s, "userA")

	s.JoinInstantChat(ta, "userA", protocol.JoinInstantChatMsg{})

	if ta.lastOfType(protocol.TypeNoMatchFound) == nil {
		t.Error("lone instant-chat requester was not told no-match-found")
	}
}

func TestActiveUsersCount_BroadcastOnConnectAndDisconnect(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta := connect(s, "userA")
	connect(s, "userB")

	counts := ta.eventsOfType(protocol.TypeActiveUsersCount)
	if len(counts) == 0 {
		t.Fatal("no active_users_count broadcasts observed")
	}
	if last := counts[len(counts)-1]; last["count"] != float64(2) {
		t.Errorf("count = %v, want 2", last["count"])
	}
}

// failingDurable simulates an unreachable reports database.
type failingDurable struct{}

func (failingDurable) Insert(context.Context, *report.Report) error { return errors.New("down") }
func (failingDurable) UpdateStatus(context.Context, string, string, string) error {
	return errors.New("down")
}
func (failingDurable) ListAll(context.Context) ([]report.Report, error) {
	return nil, errors.New("down")
}

func TestReport_StorageDownStillAcknowledged(t *testing.T) {
	intake := report.NewIntake(failingDurable{})
	s := NewService(DefaultConfig(), intake, nil, nil, nil)

	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	for i := 0; i < 5; i++ {
		s.ChatMessage(tb, "userB", protocol.ChatMessageMsg{
			SessionID: sessionID,
			Content:   fmt.Sprintf("rude message %d", i),
		})
	}

	s.Report(ta, "userA", protocol.ReportUserMsg{
		ReportedUserID: "userB",
		SessionID:      sessionID,
		Reason:         "harassment",
		Description:    "see transcript",
	})

	ack := ta.lastOfType(protocol.TypeReportSubmitted)
	if ack == nil {
		t.Fatal("reporter never acknowledged")
	}
	if ack["persisted"] != false {
		t.Error("ack claims persistence with storage down")
	}

	all := intake.ListAll(context.Background())
	if len(all) != 1 {
		t.Fatalf("ListAll returned %d reports, want 1 from the fallback", len(all))
	}
	r := all[0]
	if r.Status != report.StatusPending {
		t.Errorf("report status = %q, want pending", r.Status)
	}
	if len(r.Transcript) != 5 {
		t.Errorf("report transcript has %d messages, want 5", len(r.Transcript))
	}

	// Reporting the partner ends the session.
	if s.Sessions().Get(sessionID) != nil {
		t.Error("session survived the report")
	}
	if ended := ta.lastOfType(protocol.TypeCallEnded); ended == nil || ended["reason"] != ReasonReported {
		t.Errorf("teardown event = %v, want reason %q", ended, ReasonReported)
	}
}

func TestReport_InvalidReasonRejected(t *testing.T) {
	s := newTestService(DefaultConfig())
	ta := connect(s, "userA")

	s.Report(ta, "userA", protocol.ReportUserMsg{ReportedUserID: "userB", Reason: "vibes"})

	if ta.lastOfType(protocol.TypeError) == nil {
		t.Error("invalid reason was not rejected")
	}
	if s.Reports().Len() != 0 {
		t.Error("invalid report was stored")
	}
}

func TestTranscript_EvictedAfterRetentionWindow(t *testing.T) {
	s := newTestService(Config{GracePeriod: time.Hour, TranscriptRetention: 30 * time.Millisecond})
	ta, tb := connect(s, "userA"), connect(s, "userB")
	sessionID := pairUp(t, s, "userA", "userB", ta, tb)

	s.ChatMessage(ta, "userA", protocol.ChatMessageMsg{SessionID: sessionID, Content: "hi"})
	s.EndCall(ta, "userA", protocol.EndChatMsg{SessionID: sessionID})

	// Still there right after the end, for trailing reports.
	if got := s.Transcripts().Get(sessionID); len(got) != 1 {
		t.Fatalf("transcript gone immediately after end: %d messages", len(got))
	}

	time.Sleep(100 * time.Millisecond)
	if got := s.Transcripts().Get(sessionID); len(got) != 0 {
		t.Errorf("transcript survived the retention window: %d messages", len(got))
	}
}
