package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/example/sms-dispatch/internal/batch"
	"github.com/example/sms-dispatch/internal/models"
)

func TestRegistrySnapshotsWhileInFlight(t *testing.T) {
	registry := batch.NewRegistry()
	started := time.Unix(1700000000, 0).UTC()

	registry.Begin("batch-1", 2, started)

	status, ok := registry.Get("batch-1")
	if !ok {
		t.Fatal("expected batch after Begin")
	}
	if status.Done {
		t.Fatal("batch must not be done before Complete")
	}
	if status.Summary.Pending != 2 {
		t.Fatalf("expected 2 pending slots, got %+v", status.Summary)
	}

	registry.SetRecord("batch-1", 0, models.MessageRecord{
		Recipient:    "+50255551111",
		MessageID:    "SM-1",
		CurrentState: models.StateQueued,
		Outcome:      models.OutcomePending,
	})

	err := registry.ObserveStatus(context.Background(), models.StatusEvent{
		MessageID: "SM-1",
		State:     models.StateDelivered,
		Outcome:   models.OutcomeSuccess,
		Attempt:   3,
		Source:    models.SourceDirectQuery,
		Timestamp: started.Add(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("unexpected observe error: %v", err)
	}

	status, _ = registry.Get("batch-1")
	if status.Summary.Succeeded != 1 || status.Summary.Pending != 1 {
		t.Fatalf("unexpected summary after event: %+v", status.Summary)
	}
	rec := status.Records[0]
	if rec.CurrentState != models.StateDelivered || rec.AttemptsMade != 3 {
		t.Fatalf("event was not routed into the record slot: %+v", rec)
	}

	registry.Complete("batch-1", started.Add(time.Minute))
	status, _ = registry.Get("batch-1")
	if !status.Done || !status.CompletedAt.Equal(started.Add(time.Minute)) {
		t.Fatalf("unexpected completion state: %+v", status)
	}
}

func TestRegistryIgnoresUnknownEvents(t *testing.T) {
	registry := batch.NewRegistry()
	registry.Begin("batch-2", 1, time.Unix(1700000000, 0).UTC())

	err := registry.ObserveStatus(context.Background(), models.StatusEvent{
		MessageID: "SM-untracked",
		State:     models.StateDelivered,
		Outcome:   models.OutcomeSuccess,
	})
	if err != nil {
		t.Fatalf("unknown events must be dropped silently, got %v", err)
	}

	status, _ := registry.Get("batch-2")
	if status.Summary.Pending != 1 {
		t.Fatalf("unexpected summary: %+v", status.Summary)
	}
}

func TestRegistryGetMissingBatch(t *testing.T) {
	registry := batch.NewRegistry()
	if _, ok := registry.Get("missing"); ok {
		t.Fatal("expected miss for unknown batch id")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	registry := batch.NewRegistry()
	registry.Begin("batch-3", 1, time.Unix(1700000000, 0).UTC())
	registry.SetRecord("batch-3", 0, models.MessageRecord{
		Recipient: "+50255551111",
		MessageID: "SM-2",
		Outcome:   models.OutcomePending,
	})

	status, _ := registry.Get("batch-3")
	status.Records[0].Outcome = models.OutcomeFailure

	fresh, _ := registry.Get("batch-3")
	if fresh.Records[0].Outcome != models.OutcomePending {
		t.Fatal("snapshot mutation must not leak into the registry")
	}
}
