package report

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pairline/relay/internal/chat"
)

// failingDurable simulates an unreachable database: every call errors.
type failingDurable struct {
	inserts int
	updates int
	lists   int
}

func (f *failingDurable) Insert(ctx context.Context, r *Report) error {
	f.inserts++
	return errors.New("connection refused")
}

func (f *failingDurable) UpdateStatus(ctx context.Context, reportID, status, notes string) error {
	f.updates++
	return errors.New("connection refused")
}

func (f *failingDurable) ListAll(ctx context.Context) ([]Report, error) {
	f.lists++
	return nil, errors.New("connection refused")
}

// memDurable is a healthy fake store.
type memDurable struct {
	rows map[string]Report
}

func newMemDurable() *memDurable {
	return &memDurable{rows: make(map[string]Report)}
}

func (m *memDurable) Insert(ctx context.Context, r *Report) error {
	m.rows[r.ID] = *r
	return nil
}

func (m *memDurable) UpdateStatus(ctx context.Context, reportID, status, notes string) error {
	r, ok := m.rows[reportID]
	if !ok {
		return fmt.Errorf("unknown report %s", reportID)
	}
	r.Status = status
	r.Notes = notes
	m.rows[reportID] = r
	return nil
}

func (m *memDurable) ListAll(ctx context.Context) ([]Report, error) {
	out := make([]Report, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func transcript(n int) []chat.Message {
	msgs := make([]chat.Message, n)
	for i := range msgs {
		msgs[i] = chat.Message{
			ID:       fmt.Sprintf("m%d", i),
			SenderID: "userB",
			Content:  fmt.Sprintf("message %d", i),
			SentAt:   int64(1700000000 + i),
		}
	}
	return msgs
}

func TestSubmit_StorageDown_FallbackServesReport(t *testing.T) {
	durable := &failingDurable{}
	intake := NewIntake(durable)

	r, persisted := intake.Submit(context.Background(), &Report{
		ReporterID:     "userA",
		ReportedUserID: "userB",
		Reason:         "harassment",
		Transcript:     transcript(5),
	})

	if persisted {
		t.Error("Submit reported persisted=true with storage down")
	}
	if r.ID == "" {
		t.Fatal("Submit did not assign an ID")
	}
	if r.Status != StatusPending {
		t.Errorf("new report status = %q, want %q", r.Status, StatusPending)
	}

	// listAll must fall back to the in-memory list.
	all := intake.ListAll(context.Background())
	if len(all) != 1 {
		t.Fatalf("ListAll returned %d reports, want 1", len(all))
	}
	got := all[0]
	if got.ID != r.ID || got.Status != StatusPending {
		t.Errorf("fallback report = {id:%s status:%s}, want {id:%s status:%s}",
			got.ID, got.Status, r.ID, StatusPending)
	}
	if len(got.Transcript) != 5 {
		t.Errorf("fallback transcript has %d messages, want 5", len(got.Transcript))
	}
	if durable.lists == 0 {
		t.Error("ListAll never attempted the durable store")
	}
}

func TestSubmit_StorageHealthy(t *testing.T) {
	durable := newMemDurable()
	intake := NewIntake(durable)

	r, persisted := intake.Submit(context.Background(), &Report{
		ReporterID:     "userA",
		ReportedUserID: "userB",
		Reason:         "spam",
	})

	if !persisted {
		t.Error("Submit reported persisted=false with healthy storage")
	}
	if _, ok := durable.rows[r.ID]; !ok {
		t.Error("report not written to the durable store")
	}
	if intake.Len() != 1 {
		t.Errorf("in-memory list holds %d reports, want 1", intake.Len())
	}
}

func TestSubmit_NoDurableConfigured(t *testing.T) {
	intake := NewIntake(nil)

	_, persisted := intake.Submit(context.Background(), &Report{
		ReporterID:     "userA",
		ReportedUserID: "userB",
		Reason:         "other",
	})
	if persisted {
		t.Error("Submit reported persisted=true without a durable store")
	}
	if got := intake.ListAll(context.Background()); len(got) != 1 {
		t.Errorf("ListAll returned %d reports, want 1", len(got))
	}
}

func TestUpdateStatus_DegradedStillSucceeds(t *testing.T) {
	durable := &failingDurable{}
	intake := NewIntake(durable)

	r, _ := intake.Submit(context.Background(), &Report{
		ReporterID:     "userA",
		ReportedUserID: "userB",
		Reason:         "explicit",
	})

	persisted, err := intake.UpdateStatus(context.Background(), r.ID, StatusReviewed, "checked")
	if err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if persisted {
		t.Error("UpdateStatus reported persisted=true with storage down")
	}

	all := intake.ListAll(context.Background())
	if len(all) != 1 || all[0].Status != StatusReviewed {
		t.Errorf("in-memory status = %q, want %q", all[0].Status, StatusReviewed)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	intake := NewIntake(nil)
	if _, err := intake.UpdateStatus(context.Background(), "some-id", "obliterated", ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("UpdateStatus error = %v, want ErrInvalidStatus", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		ok     bool
	}{
		{"valid", Report{ReporterID: "a", ReportedUserID: "b", Reason: "spam"}, true},
		{"self report", Report{ReporterID: "a", ReportedUserID: "a", Reason: "spam"}, false},
		{"missing reporter", Report{ReportedUserID: "b", Reason: "spam"}, false},
		{"missing reported", Report{ReporterID: "a", Reason: "spam"}, false},
		{"bad reason", Report{ReporterID: "a", ReportedUserID: "b", Reason: "vibes"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
