// Package statuscache holds the last known delivery state for in-flight
// messages, keyed by carrier message identifier. It is written by both the
// webhook receiver and the reconciliation loop's direct queries, and read by
// the loop's cache-fallback path and the status query endpoint.
package statuscache

import (
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/models"
)

// DefaultMaxAge bounds how long an entry survives without being refreshed.
const DefaultMaxAge = 24 * time.Hour

// Entry is the cache's unit of storage, one per message identifier.
type Entry struct {
	State       models.DeliveryState     `json:"state"`
	Recipient   string                   `json:"recipient"`
	ErrorCode   int                      `json:"error_code,omitempty"`
	ErrorDetail string                   `json:"error_detail,omitempty"`
	ObservedAt  time.Time                `json:"observed_at"`
	Source      models.ObservationSource `json:"source"`
}

// Option customises the cache during construction.
type Option func(*Cache)

// WithClock overrides the clock used for eviction decisions (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is a mutex-guarded map. Writes are last-write-wins with one
// exception: a recorded terminal state is never downgraded to a non-terminal
// one, so a late-arriving "sent" webhook cannot regress a polled
// "delivered".
type Cache struct {
	logger zerolog.Logger
	maxAge time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs a status cache with the supplied maximum entry age.
func New(maxAge time.Duration, logger zerolog.Logger, opts ...Option) *Cache {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	c := &Cache{
		logger:  logger,
		maxAge:  maxAge,
		now:     time.Now,
		entries: map[string]Entry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Put stores the entry for a message identifier, overwriting any previous
// one unless that would downgrade a terminal state. Stale entries are evicted
// opportunistically on the way out.
func (c *Cache) Put(messageID string, entry Entry) {
	if messageID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[messageID]; ok &&
		existing.State.Terminal() && !entry.State.Terminal() {
		c.logger.Debug().
			Str("message_id", messageID).
			Str("recorded_state", string(existing.State)).
			Str("incoming_state", string(entry.State)).
			Msg("statuscache: ignoring non-terminal update for terminal entry")
		return
	}

	c.entries[messageID] = entry
	c.evictLocked(c.now().Add(-c.maxAge))
}

// Get returns the entry for a message identifier, if present.
func (c *Cache) Get(messageID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[messageID]
	return entry, ok
}

// EvictOlderThan removes entries observed before now minus maxAge and
// returns how many were dropped.
func (c *Cache) EvictOlderThan(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = c.maxAge
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(c.now().Add(-maxAge))
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evictLocked(cutoff time.Time) int {
	evicted := 0
	for id, entry := range c.entries {
		if entry.ObservedAt.Before(cutoff) {
			delete(c.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		c.logger.Debug().Int("evicted", evicted).Msg("statuscache: dropped stale entries")
	}
	return evicted
}
