// Package report implements abuse report intake. Every accepted report lives
// in an in-process list so intake keeps working when the durable store is
// down; PostgreSQL is the system of record whenever it is reachable.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/pairline/relay/internal/chat"
)

// ErrInvalidStatus is returned when a status mutation names a value outside
// the allowed set.
var ErrInvalidStatus = errors.New("report: invalid status")

// Report statuses. A report is created as pending; every later status is set
// by moderation actions coming from the external admin surface, never by the
// relay itself.
const (
	StatusPending       = "pending"
	StatusReviewed      = "reviewed"
	StatusIgnored       = "ignored"
	StatusWarningIssued = "warning_issued"
	StatusBanned        = "banned"
)

// validStatuses mirrors the CHECK constraint on the reports table.
var validStatuses = map[string]bool{
	StatusPending:       true,
	StatusReviewed:      true,
	StatusIgnored:       true,
	StatusWarningIssued: true,
	StatusBanned:        true,
}

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the reports table.
var validReasons = map[string]bool{
	"harassment":    true,
	"spam":          true,
	"explicit":      true,
	"inappropriate": true,
	"other":         true,
}

// ValidReason reports whether reason is in the allowed set.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// ValidStatus reports whether status is in the allowed set.
func ValidStatus(status string) bool {
	return validStatuses[status]
}

// Report is one user-submitted abuse report with its transcript snapshot.
type Report struct {
	ID             string         `json:"id"`
	ReporterID     string         `json:"reporterId"`
	ReportedUserID string         `json:"reportedUserId"`
	Reason         string         `json:"reason"`
	Description    string         `json:"description,omitempty"`
	Transcript     []chat.Message `json:"transcript,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	Status         string         `json:"status"`
	Notes          string         `json:"notes,omitempty"`
}

// Validate checks the fields the relay is responsible for before intake.
func (r *Report) Validate() error {
	if r.ReporterID == "" {
		return fmt.Errorf("report: missing reporter id")
	}
	if r.ReportedUserID == "" {
		return fmt.Errorf("report: missing reported user id")
	}
	if r.ReporterID == r.ReportedUserID {
		return fmt.Errorf("report: cannot report yourself")
	}
	if !ValidReason(r.Reason) {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}
	return nil
}
