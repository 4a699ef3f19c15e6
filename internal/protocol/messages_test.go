package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_queue message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinQueue(t *testing.T) {
	input := []byte(`{"type":"join_queue","displayName":"ana","preferences":["music","gaming"]}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinQueue {
		t.Fatalf("expected type %q, got %q", TypeJoinQueue, msgType)
	}

	jq, ok := msg.(JoinQueueMsg)
	if !ok {
		t.Fatalf("expected JoinQueueMsg, got %T", msg)
	}
	if jq.DisplayName != "ana" {
		t.Errorf("expected displayName %q, got %q", "ana", jq.DisplayName)
	}
	if len(jq.Preferences) != 2 {
		t.Fatalf("expected 2 preferences, got %d", len(jq.Preferences))
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a chat message, both spellings
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMessage(t *testing.T) {
	for _, wireType := range []string{"chat_message", "chat-message"} {
		input := []byte(`{"type":"` + wireType + `","sessionId":"abc-123","content":"Hello!"}`)

		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", wireType, err)
		}
		if msgType != TypeChatMessage {
			t.Fatalf("%s: expected canonical type %q, got %q", wireType, TypeChatMessage, msgType)
		}

		cm, ok := msg.(ChatMessageMsg)
		if !ok {
			t.Fatalf("%s: expected ChatMessageMsg, got %T", wireType, msg)
		}
		if cm.SessionID != "abc-123" {
			t.Errorf("%s: expected sessionId %q, got %q", wireType, "abc-123", cm.SessionID)
		}
		if cm.Content != "Hello!" {
			t.Errorf("%s: expected content %q, got %q", wireType, "Hello!", cm.Content)
		}
	}
}

func TestParseClientMessage_LegacyAliases(t *testing.T) {
	tests := []struct {
		wire      string
		canonical string
	}{
		{"end-chat", TypeEndCall},
		{"end_call", TypeEndCall},
		{"skip-chat", TypeNextMatch},
		{"next_match", TypeNextMatch},
		{"report-user", TypeReportUser},
		{"report_user", TypeReportUser},
	}

	for _, tt := range tests {
		input := []byte(`{"type":"` + tt.wire + `","sessionId":"s1","reportedUserId":"u2","reason":"spam"}`)
		msgType, _, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.wire, err)
		}
		if msgType != tt.canonical {
			t.Errorf("%s: expected canonical %q, got %q", tt.wire, tt.canonical, msgType)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Signaling payloads pass through untouched
// ---------------------------------------------------------------------------

func TestParseClientMessage_SignalPayloadVerbatim(t *testing.T) {
	payload := `{"sdp":"v=0\r\no=- 1 2 IN IP4 0.0.0.0","custom":[1,2,3]}`
	input := []byte(`{"type":"offer","to":"user-b","payload":` + payload + `}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeOffer {
		t.Fatalf("expected type %q, got %q", TypeOffer, msgType)
	}

	sig, ok := msg.(SignalMsg)
	if !ok {
		t.Fatalf("expected SignalMsg, got %T", msg)
	}
	if sig.To != "user-b" {
		t.Errorf("expected to %q, got %q", "user-b", sig.To)
	}
	if string(sig.Payload) != payload {
		t.Errorf("payload was not preserved verbatim:\n got: %s\nwant: %s", sig.Payload, payload)
	}
}

func TestParseClientMessage_AllSignalKinds(t *testing.T) {
	for _, kind := range []string{
		TypeOffer, TypeAnswer, TypeICECandidate,
		TypeConnectionRequest, TypeConnectionAccepted, TypeConnectionRejected,
	} {
		input := []byte(`{"type":"` + kind + `","to":"peer","payload":{}}`)
		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if msgType != kind {
			t.Errorf("expected type %q, got %q", kind, msgType)
		}
		if _, ok := msg.(SignalMsg); !ok {
			t.Errorf("%s: expected SignalMsg, got %T", kind, msg)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed and unknown inputs
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"content":"hi"}`))
	if err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"teleport"}`))
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	// Server-to-client names must not be accepted as client input.
	_, _, err := ParseClientMessage([]byte(`{"type":"match_found"}`))
	if err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Server message construction
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeMatchFoundVideo, MatchFoundMsg{
		SessionID:   "sess-1",
		PartnerID:   "user-b",
		IsInitiator: true,
		PartnerProfile: Profile{
			DisplayName: "ben",
		},
		TimerSeconds: 180,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeMatchFoundVideo {
		t.Errorf("expected type %q, got %v", TypeMatchFoundVideo, m["type"])
	}
	if m["partnerId"] != "user-b" {
		t.Errorf("expected partnerId %q, got %v", "user-b", m["partnerId"])
	}
	if m["isInitiator"] != true {
		t.Errorf("expected isInitiator true, got %v", m["isInitiator"])
	}
	if m["timerSeconds"] != float64(180) {
		t.Errorf("expected timerSeconds 180, got %v", m["timerSeconds"])
	}
}

func TestEventNames_PerKindVocabulary(t *testing.T) {
	if VideoEvents.MatchFound != "match_found" {
		t.Errorf("video match event: got %q", VideoEvents.MatchFound)
	}
	if VideoEvents.SessionEnded != "call_ended" {
		t.Errorf("video end event: got %q", VideoEvents.SessionEnded)
	}
	if InstantChatEvents.MatchFound != "match-found" {
		t.Errorf("instant chat match event: got %q", InstantChatEvents.MatchFound)
	}
	if InstantChatEvents.SessionEnded != "chat-ended" {
		t.Errorf("instant chat end event: got %q", InstantChatEvents.SessionEnded)
	}
}

func TestCanonical_PassThrough(t *testing.T) {
	if got := Canonical("offer"); got != "offer" {
		t.Errorf("Canonical(offer) = %q", got)
	}
	if got := Canonical("chat-message"); got != TypeChatMessage {
		t.Errorf("Canonical(chat-message) = %q", got)
	}
}
