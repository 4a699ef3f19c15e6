package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pairline/relay/internal/chat"
)

// Store persists reports in PostgreSQL. It satisfies Durable; the Intake
// layer decides when to fall back to its in-memory list.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes a report row. The transcript snapshot is marshalled to JSONB.
func (s *Store) Insert(ctx context.Context, r *Report) error {
	var transcriptJSON []byte
	if len(r.Transcript) > 0 {
		var err error
		transcriptJSON, err = json.Marshal(r.Transcript)
		if err != nil {
			return fmt.Errorf("report: marshal transcript: %w", err)
		}
	}

	const query = `
		INSERT INTO reports (id, reporter_id, reported_user_id, reason, description, transcript, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.ReporterID,
		r.ReportedUserID,
		r.Reason,
		r.Description,
		transcriptJSON,
		r.Status,
		r.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// UpdateStatus sets the status (and optional moderator notes) on a report row.
func (s *Store) UpdateStatus(ctx context.Context, reportID, status, notes string) error {
	const query = `
		UPDATE reports
		SET status = $2, notes = $3, updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, reportID, status, notes)
	if err != nil {
		return fmt.Errorf("report: update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("report: unknown report id %q", reportID)
	}
	return nil
}

// ListAll returns every report ordered by recency (newest first).
func (s *Store) ListAll(ctx context.Context) ([]Report, error) {
	const query = `
		SELECT id, reporter_id, reported_user_id, reason, description, transcript, status, COALESCE(notes, ''), submitted_at
		FROM reports
		ORDER BY submitted_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r              Report
			transcriptJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.ReportedUserID, &r.Reason,
			&r.Description, &transcriptJSON, &r.Status, &r.Notes, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		if len(transcriptJSON) > 0 {
			var transcript []chat.Message
			if err := json.Unmarshal(transcriptJSON, &transcript); err != nil {
				return nil, fmt.Errorf("report: unmarshal transcript for %s: %w", r.ID, err)
			}
			r.Transcript = transcript
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: list rows: %w", err)
	}
	return out, nil
}

// CountRecent returns the number of reports filed against a user within the
// given window. Useful for moderation dashboards; the live auto-ban counter
// is kept in Redis by the ban store.
func (s *Store) CountRecent(ctx context.Context, reportedUserID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reports
		WHERE reported_user_id = $1
		  AND submitted_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedUserID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
