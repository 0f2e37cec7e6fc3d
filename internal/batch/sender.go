// Package batch sends one notification per recipient through the carrier
// and hands each accepted message to the reconciliation engine, collecting
// the results in a shared registry. Sends are paced, transient send errors
// are retried with backoff, and rejected sends fail their batch item
// immediately without starting reconciliation.
package batch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/example/sms-dispatch/internal/carrier"
	"github.com/example/sms-dispatch/internal/metrics"
	"github.com/example/sms-dispatch/internal/models"
	"github.com/example/sms-dispatch/internal/util"
)

// Config contains the runtime settings for batch sending.
type Config struct {
	MaxNumbers         int
	SendInterval       time.Duration
	SendMaxAttempts    int
	SendBaseBackoff    time.Duration
	SendMaxBackoff     time.Duration
	WatcherConcurrency int
	DefaultBody        string
}

// Watcher reconciles one sent message to a terminal outcome.
type Watcher interface {
	Watch(ctx context.Context, recipient, messageID string, initialState models.DeliveryState) *models.MessageRecord
}

// Dependencies collects the collaborators required by the sender.
type Dependencies struct {
	Carrier  carrier.Client
	Watcher  Watcher
	Registry *Registry
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Sender runs notification batches.
type Sender struct {
	cfg      Config
	carrier  carrier.Client
	watcher  Watcher
	registry *Registry
	logger   zerolog.Logger
	now      func() time.Time

	limiter *rate.Limiter
	sem     *semaphore.Weighted

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewSender constructs a batch sender using the supplied configuration and
// collaborators.
func NewSender(cfg Config, deps Dependencies) (*Sender, error) {
	if cfg.MaxNumbers < 1 {
		return nil, errors.New("batch: max numbers must be >= 1")
	}
	if cfg.SendMaxAttempts < 1 {
		return nil, errors.New("batch: send max attempts must be >= 1")
	}
	if cfg.WatcherConcurrency < 1 {
		return nil, errors.New("batch: watcher concurrency must be >= 1")
	}
	if deps.Carrier == nil {
		return nil, errors.New("batch: carrier dependency is required")
	}
	if deps.Watcher == nil {
		return nil, errors.New("batch: watcher dependency is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("batch: registry dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "batch_sender").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.SendInterval), 1)
	}

	return &Sender{
		cfg:      cfg,
		carrier:  deps.Carrier,
		watcher:  deps.Watcher,
		registry: deps.Registry,
		logger:   logger,
		now:      nowFunc,
		limiter:  limiter,
		sem:      semaphore.NewWeighted(int64(cfg.WatcherConcurrency)),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Start validates and registers a batch, then runs it in the background.
// The returned identifier can be polled through the registry while
// reconciliation is still in flight.
func (s *Sender) Start(ctx context.Context, recipients []string, body string) (string, error) {
	batchID, err := s.begin(recipients)
	if err != nil {
		return "", err
	}
	go s.run(ctx, batchID, recipients, body)
	return batchID, nil
}

// Run executes a batch synchronously and returns its final status.
func (s *Sender) Run(ctx context.Context, recipients []string, body string) (Status, error) {
	batchID, err := s.begin(recipients)
	if err != nil {
		return Status{}, err
	}
	s.run(ctx, batchID, recipients, body)
	status, _ := s.registry.Get(batchID)
	return status, nil
}

func (s *Sender) begin(recipients []string) (string, error) {
	if len(recipients) == 0 {
		return "", errors.New("batch: at least one recipient is required")
	}
	if len(recipients) > s.cfg.MaxNumbers {
		return "", errors.New("batch: recipient count exceeds configured maximum")
	}

	batchID := uuid.NewString()
	s.registry.Begin(batchID, len(recipients), s.now())
	return batchID, nil
}

func (s *Sender) run(ctx context.Context, batchID string, recipients []string, body string) {
	if body == "" {
		body = s.cfg.DefaultBody
	}

	log := s.logger.With().Str("batch_id", batchID).Logger()
	log.Info().Int("recipients", len(recipients)).Msg("batch started")

	var wg sync.WaitGroup

	for i, raw := range recipients {
		if ctx.Err() != nil {
			s.registry.SetRecord(batchID, i, canceledRecord(raw))
			continue
		}

		recipient, err := util.NormalizeGuatemalaNumber(raw)
		if err != nil {
			log.Warn().Str("recipient", raw).Err(err).Msg("recipient rejected before send")
			metrics.SendFailuresTotal.Inc()
			s.registry.SetRecord(batchID, i, rejectedRecord(raw, err))
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			s.registry.SetRecord(batchID, i, canceledRecord(recipient))
			continue
		}

		result, err := s.send(ctx, recipient, body)
		if err != nil {
			log.Warn().Str("recipient", recipient).Err(err).Msg("carrier rejected send")
			metrics.SendFailuresTotal.Inc()
			s.registry.SetRecord(batchID, i, rejectedRecord(recipient, err))
			continue
		}

		metrics.SendsTotal.Inc()
		s.registry.SetRecord(batchID, i, models.MessageRecord{
			Recipient:    recipient,
			MessageID:    result.MessageID,
			CurrentState: result.InitialState,
			Outcome:      models.OutcomePending,
		})

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.registry.SetRecord(batchID, i, canceledRecord(recipient))
			continue
		}

		wg.Add(1)
		go func(idx int, recipient, messageID string, initial models.DeliveryState) {
			defer wg.Done()
			defer s.sem.Release(1)

			final := s.watcher.Watch(ctx, recipient, messageID, initial)
			s.registry.SetRecord(batchID, idx, *final)
		}(i, recipient, result.MessageID, result.InitialState)
	}

	wg.Wait()
	s.registry.Complete(batchID, s.now())

	if status, ok := s.registry.Get(batchID); ok {
		log.Info().
			Int("succeeded", status.Summary.Succeeded).
			Int("failed", status.Summary.Failed).
			Int("pending", status.Summary.Pending).
			Msg("batch finished")
	}
}

// send attempts one carrier send, retrying transient errors with
// exponential backoff and full jitter up to the configured budget.
func (s *Sender) send(ctx context.Context, recipient, body string) (*carrier.SendResult, error) {
	attempt := 1
	for {
		result, err := s.carrier.Send(ctx, recipient, body)
		if err == nil {
			return result, nil
		}
		if !carrier.Retryable(err) || attempt >= s.cfg.SendMaxAttempts {
			return nil, err
		}

		backoff := s.computeBackoff(attempt)
		s.logger.Debug().
			Str("recipient", recipient).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("retrying send after transient error")

		if !s.wait(ctx, backoff) {
			return nil, ctx.Err()
		}
		attempt++
	}
}

func (s *Sender) computeBackoff(attempt int) time.Duration {
	if s.cfg.SendBaseBackoff <= 0 {
		return 0
	}

	multiplier := math.Pow(2, float64(attempt-1))
	raw := time.Duration(float64(s.cfg.SendBaseBackoff) * multiplier)
	if s.cfg.SendMaxBackoff > 0 && raw > s.cfg.SendMaxBackoff {
		raw = s.cfg.SendMaxBackoff
	}

	return s.fullJitter(raw)
}

func (s *Sender) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	s.randMu.Lock()
	defer s.randMu.Unlock()

	n := s.rnd.Int63n(int64(max) + 1)
	return time.Duration(n)
}

func (s *Sender) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func rejectedRecord(recipient string, err error) models.MessageRecord {
	return models.MessageRecord{
		Recipient:    recipient,
		CurrentState: models.StateFailed,
		Outcome:      models.OutcomeFailure,
		Reason:       err.Error(),
	}
}

func canceledRecord(recipient string) models.MessageRecord {
	return models.MessageRecord{
		Recipient:    recipient,
		CurrentState: models.StateCanceled,
		Outcome:      models.OutcomeFailure,
		Reason:       models.ReasonCanceled,
	}
}
