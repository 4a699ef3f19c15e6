// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the relay server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. Legacy event names from the two historical client generations
// are accepted on input via an alias table and canonicalized before dispatch.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types (canonical names).
const (
	TypeJoinQueue            = "join_queue"
	TypeJoinInstantChatQueue = "join_instant_chat_queue"
	TypeLeaveQueue           = "leave_queue"
	TypeChatMessage          = "chat_message"
	TypeEndCall              = "end_call"
	TypeNextMatch            = "next_match"
	TypeReportUser           = "report_user"
	TypeOffer                = "offer"
	TypeAnswer               = "answer"
	TypeICECandidate         = "ice-candidate"
	TypeConnectionRequest    = "connection-request"
	TypeConnectionAccepted   = "connection-accepted"
	TypeConnectionRejected   = "connection-rejected"
	TypePing                 = "ping"
)

// Server -> Client message types. Events that differ between the video flow
// and the instant-chat flow are grouped in EventNames (see events.go).
const (
	TypeMatchFoundVideo   = "match_found"
	TypeMatchFoundInstant = "match-found"
	TypeNoMatchFound      = "no-match-found"
	TypeCallEnded         = "call_ended"
	TypeChatEnded         = "chat-ended"
	TypePartnerDisconnect = "partner-disconnected"
	TypeActiveUsersCount  = "active_users_count"
	TypeReportSubmitted   = "report_submitted"
	TypeReportReceived    = "report-received"
	TypeBanned            = "banned"
	TypeRateLimited       = "rate_limited"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// Profile is the public slice of a user shared with a matched partner.
type Profile struct {
	DisplayName string   `json:"displayName,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
}

// JoinQueueMsg is sent by the client to enter the video matchmaking queue.
type JoinQueueMsg struct {
	Type        string   `json:"type"`
	DisplayName string   `json:"displayName,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
}

// JoinInstantChatMsg is sent by the client to request an instant text-chat
// pairing against the pool of live connections.
type JoinInstantChatMsg struct {
	Type        string `json:"type"`
	DisplayName string `json:"displayName,omitempty"`
}

// LeaveQueueMsg is sent by the client to leave the matchmaking queue.
type LeaveQueueMsg struct {
	Type string `json:"type"`
}

// ChatMessageMsg is a text message sent by the client within a session. The
// client may address it by session ID or by the partner's user ID; at least
// one of the two must be present.
type ChatMessageMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content"`
}

// EndChatMsg is sent by the client to end the current session. SessionID is
// preferred; PartnerID supports the legacy clients that only track both ends.
type EndChatMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
}

// NextMatchMsg is sent by the client to skip the current partner and
// immediately look for a new one. SessionID is required.
type NextMatchMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ReportUserMsg is sent by the client to report the session partner.
type ReportUserMsg struct {
	Type           string `json:"type"`
	ReportedUserID string `json:"reportedUserId"`
	SessionID      string `json:"sessionId,omitempty"`
	Reason         string `json:"reason"`
	Description    string `json:"description,omitempty"`
}

// SignalMsg carries a WebRTC signaling payload (offer, answer, ICE candidate)
// or a connection negotiation event. The payload is relayed to the addressed
// peer verbatim and is never inspected or buffered by the server.
type SignalMsg struct {
	Type    string          `json:"type"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// MatchFoundMsg is sent to both parties when a pairing succeeds. Exactly one
// side receives IsInitiator=true, which breaks symmetry in the client's
// WebRTC negotiation.
type MatchFoundMsg struct {
	Type           string  `json:"type"`
	SessionID      string  `json:"sessionId"`
	PartnerID      string  `json:"partnerId"`
	IsInitiator    bool    `json:"isInitiator"`
	PartnerProfile Profile `json:"partnerProfile"`
	TimerSeconds   int     `json:"timerSeconds,omitempty"`
}

// NoMatchFoundMsg tells the requester that no eligible partner is available.
type NoMatchFoundMsg struct {
	Type string `json:"type"`
}

// SessionEndedMsg is sent to both participants when a session is torn down.
// The wire type is call_ended for video sessions and chat-ended for instant
// chat sessions.
type SessionEndedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// PartnerDisconnectedMsg is sent to the surviving participant when the
// partner's disconnect grace window elapses without a reconnect.
type PartnerDisconnectedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// ServerChatMsg is a chat message relayed from the partner.
type ServerChatMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	Content   string `json:"content"`
	SentAt    int64  `json:"sentAt"`
}

// ServerSignalMsg wraps a relayed signaling payload with the sender identity.
type ServerSignalMsg struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActiveUsersCountMsg is broadcast to all connections whenever the number of
// live connections changes.
type ActiveUsersCountMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ReportAckMsg acknowledges a submitted report. Persisted is false when the
// durable store was unreachable and the report is held in the in-process
// fallback only.
type ReportAckMsg struct {
	Type      string `json:"type"`
	ReportID  string `json:"reportId"`
	Persisted bool   `json:"persisted"`
}

// BannedMsg is sent when the client is refused service due to an active ban.
type BannedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"` // remaining seconds
	Reason   string `json:"reason"`
}

// RateLimitedMsg is sent when the client exceeded a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// Legacy aliases are resolved to their canonical type first. It returns the
// canonical type string, the decoded struct, and any error encountered during
// parsing. An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	msgType := Canonical(env.Type)

	var (
		msg interface{}
		err error
	)

	switch msgType {
	case TypeJoinQueue:
		var m JoinQueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinInstantChatQueue:
		var m JoinInstantChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveQueue:
		var m LeaveQueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndCall:
		var m EndChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNextMatch:
		var m NextMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportUser:
		var m ReportUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer, TypeAnswer, TypeICECandidate,
		TypeConnectionRequest, TypeConnectionAccepted, TypeConnectionRejected:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		m.Type = msgType
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return msgType, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", msgType, err)
	}
	return msgType, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
