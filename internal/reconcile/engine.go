// Package reconcile implements the per-message delivery status
// reconciliation loop. For each sent message it repeatedly refreshes the
// known state, preferring a direct carrier query and falling back to the
// shared status cache, until a terminal state is observed or the attempt
// budget runs out.
package reconcile

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/carrier"
	"github.com/example/sms-dispatch/internal/metrics"
	"github.com/example/sms-dispatch/internal/models"
	"github.com/example/sms-dispatch/internal/statuscache"
)

// Config contains the runtime settings for the reconciliation loop.
type Config struct {
	// InitialDelay is the quiet period before the first status check,
	// giving the carrier time to process the send.
	InitialDelay time.Duration
	// CheckInterval is the pause between consecutive status checks.
	CheckInterval time.Duration
	// MaxAttempts bounds the number of status checks per message.
	MaxAttempts int
	// TrustUnconfirmedSent names the timeout classification rule: when a
	// message is still "sent" after the attempt budget, the default policy
	// classifies it as a failure ("sent but unconfirmed after timeout").
	// Setting this treats the lingering "sent" as delivered instead. The
	// rule is a product policy, not a carrier fact, which is why it is an
	// explicit knob rather than an inference.
	TrustUnconfirmedSent bool
}

// StateFetcher is the subset of the carrier client the loop queries.
type StateFetcher interface {
	FetchState(ctx context.Context, messageID string) (*carrier.StateResult, error)
}

// Cache is the read side of the shared status cache the loop falls back to
// when a direct query fails.
type Cache interface {
	Get(messageID string) (statuscache.Entry, bool)
}

// Observer receives an idempotent status snapshot on every accepted
// observation and on finalization. Replayed events carry identical data.
type Observer interface {
	ObserveStatus(ctx context.Context, event models.StatusEvent) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event models.StatusEvent) error

// ObserveStatus implements Observer.
func (f ObserverFunc) ObserveStatus(ctx context.Context, event models.StatusEvent) error {
	return f(ctx, event)
}

// MultiObserver fans one event out to several observers. Individual failures
// are joined but never stop the remaining observers.
func MultiObserver(observers ...Observer) Observer {
	return ObserverFunc(func(ctx context.Context, event models.StatusEvent) error {
		var errs []error
		for _, obs := range observers {
			if obs == nil {
				continue
			}
			if err := obs.ObserveStatus(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Fetcher  StateFetcher
	Cache    Cache
	Observer Observer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Engine runs independent reconciliation loops, one per watched message.
// Loops share nothing beyond the status cache; there is no cross-message
// coordination.
type Engine struct {
	cfg      Config
	fetcher  StateFetcher
	cache    Cache
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine constructs a reconciliation engine using the supplied
// configuration and collaborators.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("reconcile: max attempts must be >= 1")
	}
	if cfg.InitialDelay < 0 {
		return nil, errors.New("reconcile: initial delay cannot be negative")
	}
	if cfg.CheckInterval < 0 {
		return nil, errors.New("reconcile: check interval cannot be negative")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("reconcile: state fetcher dependency is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("reconcile: cache dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "reconcile_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		cache:    deps.Cache,
		observer: deps.Observer,
		logger:   logger,
		now:      nowFunc,
	}, nil
}

// observation is one accepted state reading from either channel.
type observation struct {
	state       models.DeliveryState
	errorCode   int
	errorDetail string
	source      models.ObservationSource
	at          time.Time
}

// Watch reconciles one message to a terminal outcome and returns its final
// record. It blocks for the lifetime of the loop; callers run it in its own
// goroutine. Query failures are swallowed and retried on the next tick; the
// loop always terminates via a terminal state, attempts exhaustion, or
// context cancellation.
func (e *Engine) Watch(ctx context.Context, recipient, messageID string, initialState models.DeliveryState) *models.MessageRecord {
	rec := &models.MessageRecord{
		Recipient:    recipient,
		MessageID:    messageID,
		CurrentState: initialState,
		Outcome:      models.OutcomePending,
	}

	log := e.logger.With().
		Str("message_id", messageID).
		Str("recipient", recipient).
		Logger()

	if !e.wait(ctx, e.cfg.InitialDelay) {
		e.finalize(ctx, log, rec, models.OutcomeFailure, models.ReasonCanceled)
		return rec
	}

	for {
		if ctx.Err() != nil {
			e.finalize(ctx, log, rec, models.OutcomeFailure, models.ReasonCanceled)
			return rec
		}

		rec.AttemptsMade++
		metrics.ReconcileTicksTotal.Inc()

		obs, ok := e.observe(ctx, messageID, log)
		if ok {
			rec.CurrentState = obs.state
			rec.ErrorCode = obs.errorCode
			rec.ErrorDetail = obs.errorDetail
			rec.LastObservedAt = obs.at
			rec.ObservationSource = obs.source

			log.Debug().
				Str("state", string(obs.state)).
				Str("source", string(obs.source)).
				Int("attempt", rec.AttemptsMade).
				Msg("accepted state observation")

			if obs.state.Terminal() {
				outcome := models.OutcomeFailure
				if obs.state == models.StateDelivered {
					outcome = models.OutcomeSuccess
				}
				e.finalize(ctx, log, rec, outcome, "")
				return rec
			}

			e.emit(ctx, log, rec)
		}

		if rec.AttemptsMade >= e.cfg.MaxAttempts {
			e.classifyTimeout(ctx, log, rec)
			return rec
		}

		if !e.wait(ctx, e.cfg.CheckInterval) {
			e.finalize(ctx, log, rec, models.OutcomeFailure, models.ReasonCanceled)
			return rec
		}
	}
}

// observe refreshes the message state, preferring a direct carrier query and
// falling back to the status cache. A miss on both channels yields no
// observation for this tick.
func (e *Engine) observe(ctx context.Context, messageID string, log zerolog.Logger) (observation, bool) {
	result, err := e.fetcher.FetchState(ctx, messageID)
	if err == nil {
		return observation{
			state:       result.State,
			errorCode:   result.ErrorCode,
			errorDetail: result.ErrorDetail,
			source:      models.SourceDirectQuery,
			at:          e.now(),
		}, true
	}

	log.Debug().Err(err).Msg("carrier query failed, falling back to status cache")

	if entry, ok := e.cache.Get(messageID); ok {
		return observation{
			state:       entry.State,
			errorCode:   entry.ErrorCode,
			errorDetail: entry.ErrorDetail,
			source:      models.SourceCacheFallback,
			at:          entry.ObservedAt,
		}, true
	}

	log.Debug().Msg("no observation available this tick")
	return observation{}, false
}

// classifyTimeout resolves a message whose attempt budget ran out while
// still non-terminal. A lingering "sent" is classified by the named policy
// rule; any other state maps literally.
func (e *Engine) classifyTimeout(ctx context.Context, log zerolog.Logger, rec *models.MessageRecord) {
	if rec.CurrentState == models.StateSent {
		if e.cfg.TrustUnconfirmedSent {
			e.finalize(ctx, log, rec, models.OutcomeSuccess, models.ReasonSentAssumedDelivered)
			return
		}
		e.finalize(ctx, log, rec, models.OutcomeFailure, models.ReasonSentUnconfirmed)
		return
	}

	e.finalize(ctx, log, rec, models.OutcomeFailure, models.ReasonChecksExhausted)
}

// finalize resolves the record's outcome exactly once. Later calls are
// no-ops, so replayed ticks after termination cannot mutate the record.
func (e *Engine) finalize(ctx context.Context, log zerolog.Logger, rec *models.MessageRecord, outcome models.Outcome, reason string) {
	if rec.Outcome != models.OutcomePending {
		return
	}
	rec.Outcome = outcome
	rec.Reason = reason
	metrics.OutcomesTotal.WithLabelValues(string(outcome)).Inc()

	log.Info().
		Str("state", string(rec.CurrentState)).
		Str("outcome", string(outcome)).
		Str("reason", reason).
		Int("attempts", rec.AttemptsMade).
		Msg("message reconciliation finished")

	e.emit(ctx, log, rec)
}

// emit publishes an idempotent status snapshot to the observer.
func (e *Engine) emit(ctx context.Context, log zerolog.Logger, rec *models.MessageRecord) {
	if e.observer == nil {
		return
	}

	event := models.StatusEvent{
		MessageID:   rec.MessageID,
		Recipient:   rec.Recipient,
		State:       rec.CurrentState,
		StateLabel:  rec.CurrentState.Label(),
		Outcome:     rec.Outcome,
		Attempt:     rec.AttemptsMade,
		Source:      rec.ObservationSource,
		ErrorCode:   rec.ErrorCode,
		ErrorDetail: rec.ErrorDetail,
		Reason:      rec.Reason,
		Timestamp:   e.now(),
	}

	if err := e.observer.ObserveStatus(ctx, event); err != nil {
		log.Error().Err(err).Msg("failed to publish status event")
	}
}

func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
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
