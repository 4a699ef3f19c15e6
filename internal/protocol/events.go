package protocol

// aliases maps legacy wire event names to their canonical type. The two
// historical client generations named several operations differently
// (hyphenated vs. snake_case); both spellings remain valid on the wire.
var aliases = map[string]string{
	"chat-message": TypeChatMessage,
	"end-chat":     TypeEndCall,
	"skip-chat":    TypeNextMatch,
	"report-user":  TypeReportUser,
}

// Canonical resolves a wire event name to its canonical type. Names without
// a registered alias are returned unchanged.
func Canonical(msgType string) string {
	if canonical, ok := aliases[msgType]; ok {
		return canonical
	}
	return msgType
}

// EventNames selects the outbound event vocabulary for a session kind. The
// video flow speaks the snake_case generation of the protocol while the
// instant-chat flow speaks the hyphenated one; both carry identical payloads.
type EventNames struct {
	MatchFound   string
	SessionEnded string
	ChatMessage  string
	ReportAck    string
}

// VideoEvents is the outbound vocabulary for video sessions.
var VideoEvents = EventNames{
	MatchFound:   TypeMatchFoundVideo,
	SessionEnded: TypeCallEnded,
	ChatMessage:  TypeChatMessage,
	ReportAck:    TypeReportSubmitted,
}

// InstantChatEvents is the outbound vocabulary for instant chat sessions.
var InstantChatEvents = EventNames{
	MatchFound:   TypeMatchFoundInstant,
	SessionEnded: TypeChatEnded,
	ChatMessage:  "chat-message",
	ReportAck:    TypeReportReceived,
}
