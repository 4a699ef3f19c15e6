package report

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// storeTimeout bounds every call to the durable store so a slow database can
// never stall the relay's message handlers.
const storeTimeout = 3 * time.Second

// Durable is the external system of record for reports. *Store implements it
// against PostgreSQL; tests substitute failing fakes.
type Durable interface {
	Insert(ctx context.Context, r *Report) error
	UpdateStatus(ctx context.Context, reportID, status, notes string) error
	ListAll(ctx context.Context) ([]Report, error)
}

// Intake accepts reports and keeps them available regardless of external
// storage health. The in-process list is always written first; the durable
// store is best-effort and its failures degrade, never propagate.
type Intake struct {
	mu      sync.RWMutex
	reports []*Report
	durable Durable // nil when no database is configured
}

// NewIntake creates an Intake. durable may be nil, in which case reports live
// only in process memory.
func NewIntake(durable Durable) *Intake {
	return &Intake{durable: durable}
}

// Submit records a new report. It returns the stored report and whether the
// durable store accepted it. The in-memory record always exists by the time
// Submit returns, so the caller can acknowledge unconditionally.
func (i *Intake) Submit(ctx context.Context, r *Report) (*Report, bool) {
	r.ID = uuid.New().String()
	r.Status = StatusPending
	r.SubmittedAt = time.Now()

	i.mu.Lock()
	i.reports = append(i.reports, r)
	i.mu.Unlock()

	persisted := false
	if i.durable != nil {
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := i.durable.Insert(storeCtx, r); err != nil {
			log.Printf("report: durable insert failed for %s (kept in memory): %v", r.ID, err)
		} else {
			persisted = true
		}
	}
	return r, persisted
}

// UpdateStatus mutates a report's status. The in-memory copy is updated
// first; the durable store is attempted afterwards. The returned bool is
// false when persistence is degraded (durable store absent or unreachable).
func (i *Intake) UpdateStatus(ctx context.Context, reportID, status, notes string) (bool, error) {
	if !ValidStatus(status) {
		return false, ErrInvalidStatus
	}

	i.mu.Lock()
	for _, r := range i.reports {
		if r.ID == reportID {
			r.Status = status
			r.Notes = notes
			break
		}
	}
	i.mu.Unlock()

	if i.durable == nil {
		return false, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := i.durable.UpdateStatus(storeCtx, reportID, status, notes); err != nil {
		log.Printf("report: durable status update failed for %s (memory updated): %v", reportID, err)
		return false, nil
	}
	return true, nil
}

// ListAll returns every known report, newest first. The durable store is
// preferred; when it is absent or the read fails, the in-memory fallback list
// is returned instead.
func (i *Intake) ListAll(ctx context.Context) []Report {
	if i.durable != nil {
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if reports, err := i.durable.ListAll(storeCtx); err == nil {
			return reports
		} else {
			log.Printf("report: durable list failed, serving in-memory fallback: %v", err)
		}
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]Report, 0, len(i.reports))
	for idx := len(i.reports) - 1; idx >= 0; idx-- {
		out = append(out, *i.reports[idx])
	}
	return out
}

// Len returns the size of the in-memory fallback list.
func (i *Intake) Len() int {
	i.mu.RLock()
	n := len(i.reports)
	i.mu.RUnlock()
	return n
}
