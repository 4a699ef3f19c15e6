package moderation

import "github.com/pairline/relay/internal/chat"

// ReportEvent is published on relay.report.submitted when the relay accepts
// an abuse report. The moderation sidecar screens the transcript snapshot and
// may answer with an Action.
type ReportEvent struct {
	ReportID       string         `json:"report_id"`
	ReporterID     string         `json:"reporter_id"`
	ReportedUserID string         `json:"reported_user_id"`
	Reason         string         `json:"reason"`
	Transcript     []chat.Message `json:"transcript,omitempty"`
	SubmittedAt    int64          `json:"submitted_at"`
}

// Action is a moderation decision pushed back to the relay on
// relay.moderation.action, either by the sidecar or by the admin surface.
type Action struct {
	Action   string `json:"action"` // ActionBan or ActionKick
	UserID   string `json:"user_id"`
	Reason   string `json:"reason"`
	Term     string `json:"term,omitempty"`     // blocked term, when filter-driven
	Duration int    `json:"duration,omitempty"` // ban duration in seconds
}

// Action verbs accepted by the relay.
const (
	ActionBan  = "ban"
	ActionKick = "kick"
)
