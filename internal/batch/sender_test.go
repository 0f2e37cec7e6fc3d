package batch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/batch"
	"github.com/example/sms-dispatch/internal/carrier"
	"github.com/example/sms-dispatch/internal/models"
	"github.com/example/sms-dispatch/internal/reconcile"
	"github.com/example/sms-dispatch/internal/statuscache"
)

type watcherStub struct {
	mu    sync.Mutex
	calls []string
	final func(recipient, messageID string, initial models.DeliveryState) *models.MessageRecord
}

func (w *watcherStub) Watch(ctx context.Context, recipient, messageID string, initial models.DeliveryState) *models.MessageRecord {
	w.mu.Lock()
	w.calls = append(w.calls, messageID)
	w.mu.Unlock()

	if w.final != nil {
		return w.final(recipient, messageID, initial)
	}
	return &models.MessageRecord{
		Recipient:    recipient,
		MessageID:    messageID,
		CurrentState: models.StateDelivered,
		AttemptsMade: 1,
		Outcome:      models.OutcomeSuccess,
	}
}

func (w *watcherStub) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

type scriptedCarrier struct {
	mu       sync.Mutex
	sendErrs []error
	counter  int
}

func (s *scriptedCarrier) Send(ctx context.Context, recipient, body string) (*carrier.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.counter++
	return &carrier.SendResult{
		MessageID:    fmt.Sprintf("SM-scripted-%d", s.counter),
		InitialState: models.StateQueued,
	}, nil
}

func (s *scriptedCarrier) FetchState(ctx context.Context, messageID string) (*carrier.StateResult, error) {
	return nil, carrier.WrapTransient(errors.New("not scripted"))
}

func fastSenderConfig() batch.Config {
	return batch.Config{
		MaxNumbers:         50,
		SendInterval:       0,
		SendMaxAttempts:    3,
		SendBaseBackoff:    0,
		SendMaxBackoff:     0,
		WatcherConcurrency: 10,
		DefaultBody:        "hola",
	}
}

func newSender(t *testing.T, cfg batch.Config, client carrier.Client, watcher batch.Watcher, registry *batch.Registry) *batch.Sender {
	t.Helper()
	sender, err := batch.NewSender(cfg, batch.Dependencies{
		Carrier:  client,
		Watcher:  watcher,
		Registry: registry,
		Logger:   zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("unexpected sender error: %v", err)
	}
	return sender
}

func TestRunAllDelivered(t *testing.T) {
	registry := batch.NewRegistry()
	watcher := &watcherStub{}
	sender := newSender(t, fastSenderConfig(), carrier.NewMockClient(zerolog.New(io.Discard)), watcher, registry)

	status, err := sender.Run(context.Background(), []string{"+50255551111", "+502 5555 2222"}, "")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if !status.Done {
		t.Fatal("expected batch to be marked done")
	}
	if status.Summary.Total != 2 || status.Summary.Succeeded != 2 {
		t.Fatalf("unexpected summary: %+v", status.Summary)
	}
	if watcher.callCount() != 2 {
		t.Fatalf("expected one watcher per accepted send, got %d", watcher.callCount())
	}
	for _, rec := range status.Records {
		if rec.MessageID == "" {
			t.Fatalf("expected message id on record: %+v", rec)
		}
		if rec.Outcome != models.OutcomeSuccess {
			t.Fatalf("expected success record: %+v", rec)
		}
	}
}

func TestRunInvalidNumberFailsWithoutReconciliation(t *testing.T) {
	registry := batch.NewRegistry()
	watcher := &watcherStub{}
	sender := newSender(t, fastSenderConfig(), carrier.NewMockClient(zerolog.New(io.Discard)), watcher, registry)

	status, err := sender.Run(context.Background(), []string{"12345", "+50255551111"}, "")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if status.Summary.Failed != 1 || status.Summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", status.Summary)
	}
	if watcher.callCount() != 1 {
		t.Fatalf("invalid recipient must not start reconciliation, got %d watchers", watcher.callCount())
	}

	rejected := status.Records[0]
	if rejected.Outcome != models.OutcomeFailure || rejected.MessageID != "" {
		t.Fatalf("unexpected rejected record: %+v", rejected)
	}
	if rejected.Reason == "" {
		t.Fatal("expected a rejection reason")
	}
}

func TestRunSendRejectionFailsImmediately(t *testing.T) {
	registry := batch.NewRegistry()
	watcher := &watcherStub{}
	client := carrier.NewMockClient(zerolog.New(io.Discard),
		carrier.WithSendError(fmt.Errorf("%w: twilio 21211: invalid number", carrier.ErrInvalidRecipient)))
	sender := newSender(t, fastSenderConfig(), client, watcher, registry)

	status, err := sender.Run(context.Background(), []string{"+50255551111"}, "")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if status.Summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", status.Summary)
	}
	if watcher.callCount() != 0 {
		t.Fatal("rejected send must not start reconciliation")
	}
}

func TestRunRetriesTransientSendErrors(t *testing.T) {
	registry := batch.NewRegistry()
	watcher := &watcherStub{}
	client := &scriptedCarrier{sendErrs: []error{
		carrier.WrapTransient(errors.New("connection reset")),
		carrier.WrapTransient(errors.New("connection reset")),
		nil,
	}}
	sender := newSender(t, fastSenderConfig(), client, watcher, registry)

	status, err := sender.Run(context.Background(), []string{"+50255551111"}, "")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if status.Summary.Succeeded != 1 {
		t.Fatalf("expected transient errors to be retried, summary: %+v", status.Summary)
	}
}

func TestRunTransientSendErrorsExhaustBudget(t *testing.T) {
	registry := batch.NewRegistry()
	watcher := &watcherStub{}
	client := &scriptedCarrier{sendErrs: []error{
		carrier.WrapTransient(errors.New("connection reset")),
		carrier.WrapTransient(errors.New("connection reset")),
		carrier.WrapTransient(errors.New("connection reset")),
	}}
	sender := newSender(t, fastSenderConfig(), client, watcher, registry)

	status, err := sender.Run(context.Background(), []string{"+50255551111"}, "")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if status.Summary.Failed != 1 {
		t.Fatalf("expected failure after retry budget, summary: %+v", status.Summary)
	}
	if watcher.callCount() != 0 {
		t.Fatal("failed send must not start reconciliation")
	}
}

func TestStartRejectsOversizedBatch(t *testing.T) {
	registry := batch.NewRegistry()
	cfg := fastSenderConfig()
	cfg.MaxNumbers = 1
	sender := newSender(t, cfg, carrier.NewMockClient(zerolog.New(io.Discard)), &watcherStub{}, registry)

	if _, err := sender.Start(context.Background(), []string{"+50255551111", "+50255552222"}, ""); err == nil {
		t.Fatal("expected oversized batch to be rejected")
	}
	if _, err := sender.Start(context.Background(), nil, ""); err == nil {
		t.Fatal("expected empty batch to be rejected")
	}
}

func TestRunWithReconcileEngine(t *testing.T) {
	registry := batch.NewRegistry()
	cache := statuscache.New(time.Hour, zerolog.New(io.Discard))
	client := carrier.NewMockClient(zerolog.New(io.Discard))

	engine, err := reconcile.NewEngine(reconcile.Config{
		InitialDelay:  0,
		CheckInterval: 0,
		MaxAttempts:   30,
	}, reconcile.Dependencies{
		Fetcher:  client,
		Cache:    cache,
		Observer: registry,
		Logger:   zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}

	sender := newSender(t, fastSenderConfig(), client, engine, registry)
	status, err := sender.Run(context.Background(), []string{"+50255551111"}, "")
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if status.Summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", status.Summary)
	}
	rec := status.Records[0]
	if rec.CurrentState != models.StateDelivered {
		t.Fatalf("expected delivered record, got %s", rec.CurrentState)
	}
	if rec.AttemptsMade != 2 {
		t.Fatalf("expected queued->sent->delivered in 2 attempts, got %d", rec.AttemptsMade)
	}
	if rec.ObservationSource != models.SourceDirectQuery {
		t.Fatalf("unexpected observation source: %s", rec.ObservationSource)
	}
}
