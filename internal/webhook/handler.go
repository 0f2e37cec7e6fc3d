// Package webhook receives carrier-pushed delivery status callbacks and
// serves status queries, both backed by the shared status cache. The
// receiver runs independently of, and concurrently with, any reconciliation
// loop ticking on the same message; the cache is the only synchronization
// point between them.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/metrics"
	"github.com/example/sms-dispatch/internal/models"
	"github.com/example/sms-dispatch/internal/statuscache"
)

// twimlAck is the empty acknowledgment envelope the carrier expects.
const twimlAck = "<Response></Response>"

// Option customises the handler.
type Option func(*Handler)

// WithClock overrides the clock used to timestamp observations.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler processes carrier status callbacks and status queries.
type Handler struct {
	cache  *statuscache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

// NewHandler constructs a webhook handler backed by the supplied cache.
func NewHandler(cache *statuscache.Cache, logger zerolog.Logger, opts ...Option) (*Handler, error) {
	if cache == nil {
		return nil, errors.New("webhook: status cache dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	h := &Handler{
		cache:  cache,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// HandleStatusCallback accepts a form-encoded carrier status push and writes
// it to the status cache. The carrier only needs a success response code, so
// the reply is always the empty TwiML envelope unless the message identifier
// is missing.
func (h *Handler) HandleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metrics.WebhookRejectedTotal.Inc()
		h.logger.Warn().Err(err).Msg("malformed status callback body")
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	messageID := strings.TrimSpace(r.PostFormValue("MessageSid"))
	if messageID == "" {
		metrics.WebhookRejectedTotal.Inc()
		h.logger.Warn().Msg("status callback missing MessageSid")
		http.Error(w, "MessageSid is required", http.StatusBadRequest)
		return
	}

	state := models.DeliveryState(strings.ToLower(strings.TrimSpace(r.PostFormValue("MessageStatus"))))
	errorCode, _ := strconv.Atoi(strings.TrimSpace(r.PostFormValue("ErrorCode")))

	entry := statuscache.Entry{
		State:       state,
		Recipient:   strings.TrimSpace(r.PostFormValue("To")),
		ErrorCode:   errorCode,
		ErrorDetail: strings.TrimSpace(r.PostFormValue("ErrorMessage")),
		ObservedAt:  h.now(),
		Source:      models.SourceWebhook,
	}
	h.cache.Put(messageID, entry)
	metrics.WebhookCallbacksTotal.Inc()

	h.logger.Debug().
		Str("message_id", messageID).
		Str("state", string(state)).
		Str("recipient", entry.Recipient).
		Int("error_code", errorCode).
		Msg("status callback applied")

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, twimlAck)
}

// statusResponse is the JSON shape returned by the status query endpoint.
type statusResponse struct {
	MessageID   string                   `json:"message_id"`
	State       models.DeliveryState     `json:"state"`
	StateLabel  string                   `json:"state_label"`
	Recipient   string                   `json:"recipient"`
	ErrorCode   int                      `json:"error_code,omitempty"`
	ErrorDetail string                   `json:"error_detail,omitempty"`
	ObservedAt  time.Time                `json:"observed_at"`
	Source      models.ObservationSource `json:"source"`
}

// HandleStatusQuery serves the last known state for a message identifier.
func (h *Handler) HandleStatusQuery(w http.ResponseWriter, r *http.Request) {
	messageID := strings.TrimSpace(r.PathValue("id"))
	if messageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message id is required"})
		return
	}

	entry, ok := h.cache.Get(messageID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		MessageID:   messageID,
		State:       entry.State,
		StateLabel:  entry.State.Label(),
		Recipient:   entry.Recipient,
		ErrorCode:   entry.ErrorCode,
		ErrorDetail: entry.ErrorDetail,
		ObservedAt:  entry.ObservedAt,
		Source:      entry.Source,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
