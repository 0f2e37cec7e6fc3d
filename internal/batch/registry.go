package batch

import (
	"context"
	"sync"
	"time"

	"github.com/example/sms-dispatch/internal/models"
)

// Status is a point-in-time snapshot of one batch: the per-recipient records
// plus distinct success/failure/still-pending counts. Snapshots taken while
// reconciliation is running report the in-flight picture.
type Status struct {
	BatchID     string                 `json:"batch_id"`
	Records     []models.MessageRecord `json:"records"`
	Summary     models.BatchSummary    `json:"summary"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Done        bool                   `json:"done"`
}

// Registry is the shared result collection for batches. The sender writes
// record slots, reconciliation loops stream updates into them through the
// Observer interface, and the HTTP API reads snapshots.
type Registry struct {
	mu      sync.RWMutex
	batches map[string]*batchState
	index   map[string]recordRef
}

type batchState struct {
	records     []models.MessageRecord
	startedAt   time.Time
	completedAt time.Time
	done        bool
}

type recordRef struct {
	batchID string
	idx     int
}

// NewRegistry constructs an empty batch registry.
func NewRegistry() *Registry {
	return &Registry{
		batches: map[string]*batchState{},
		index:   map[string]recordRef{},
	}
}

// Begin registers a batch with one pending record slot per recipient.
func (r *Registry) Begin(batchID string, size int, startedAt time.Time) {
	records := make([]models.MessageRecord, size)
	for i := range records {
		records[i].Outcome = models.OutcomePending
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batchID] = &batchState{records: records, startedAt: startedAt}
}

// SetRecord stores a record snapshot in its batch slot. Records carrying a
// message identifier are indexed so observer events can be routed back.
func (r *Registry) SetRecord(batchID string, idx int, rec models.MessageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.batches[batchID]
	if !ok || idx < 0 || idx >= len(state.records) {
		return
	}
	state.records[idx] = rec
	if rec.MessageID != "" {
		r.index[rec.MessageID] = recordRef{batchID: batchID, idx: idx}
	}
}

// Complete marks a batch as finished.
func (r *Registry) Complete(batchID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.batches[batchID]; ok {
		state.completedAt = at
		state.done = true
	}
}

// ObserveStatus routes a reconciliation status event into the record slot of
// the message it concerns. Unknown identifiers are ignored; events are
// idempotent snapshots so replays are harmless.
func (r *Registry) ObserveStatus(_ context.Context, event models.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.index[event.MessageID]
	if !ok {
		return nil
	}
	state, ok := r.batches[ref.batchID]
	if !ok {
		return nil
	}

	rec := &state.records[ref.idx]
	rec.CurrentState = event.State
	rec.AttemptsMade = event.Attempt
	rec.Outcome = event.Outcome
	rec.Reason = event.Reason
	rec.ErrorCode = event.ErrorCode
	rec.ErrorDetail = event.ErrorDetail
	rec.LastObservedAt = event.Timestamp
	rec.ObservationSource = event.Source
	return nil
}

// Get returns a snapshot of a batch with freshly computed summary counts.
func (r *Registry) Get(batchID string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.batches[batchID]
	if !ok {
		return Status{}, false
	}

	records := make([]models.MessageRecord, len(state.records))
	copy(records, state.records)

	summary := models.BatchSummary{Total: len(records)}
	for _, rec := range records {
		switch rec.Outcome {
		case models.OutcomeSuccess:
			summary.Succeeded++
		case models.OutcomeFailure:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	return Status{
		BatchID:     batchID,
		Records:     records,
		Summary:     summary,
		StartedAt:   state.startedAt,
		CompletedAt: state.completedAt,
		Done:        state.done,
	}, true
}
