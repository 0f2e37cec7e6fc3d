// Package api wires the HTTP surface: batch submission and inspection,
// per-message status queries, the carrier webhook, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/batch"
	"github.com/example/sms-dispatch/internal/metrics"
	"github.com/example/sms-dispatch/internal/webhook"
)

// Dependencies collects the collaborators required by the API.
type Dependencies struct {
	Sender   *batch.Sender
	Registry *batch.Registry
	Webhook  *webhook.Handler
	Logger   zerolog.Logger
	// Ready optionally gates readiness on a downstream dependency, e.g. the
	// Kafka producer's metadata refresh.
	Ready func() bool
}

// API exposes the dispatch service over HTTP.
type API struct {
	sender   *batch.Sender
	registry *batch.Registry
	webhook  *webhook.Handler
	logger   zerolog.Logger
	ready    func() bool

	// Batches outlive the originating request, so they run on the process
	// lifecycle context rather than the request context.
	runCtx context.Context
}

// New constructs the API. The supplied context bounds background batch runs.
func New(runCtx context.Context, deps Dependencies) (*API, error) {
	if deps.Sender == nil {
		return nil, errors.New("api: batch sender dependency is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("api: batch registry dependency is required")
	}
	if deps.Webhook == nil {
		return nil, errors.New("api: webhook handler dependency is required")
	}
	if runCtx == nil {
		runCtx = context.Background()
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	return &API{
		sender:   deps.Sender,
		registry: deps.Registry,
		webhook:  deps.Webhook,
		logger:   logger.With().Str("component", "http_api").Logger(),
		ready:    deps.Ready,
		runCtx:   runCtx,
	}, nil
}

// Handler returns the routed HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /webhooks/sms-status", a.webhook.HandleStatusCallback)
	mux.HandleFunc("GET /api/messages/{id}", a.webhook.HandleStatusQuery)

	mux.HandleFunc("POST /api/batches", a.handleCreateBatch)
	mux.HandleFunc("GET /api/batches/{id}", a.handleGetBatch)

	return a.logRequests(mux)
}

type createBatchRequest struct {
	Numbers []string `json:"numbers"`
	Body    string   `json:"body,omitempty"`
}

type createBatchResponse struct {
	BatchID string `json:"batch_id"`
}

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if len(req.Numbers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "numbers is required"})
		return
	}

	batchID, err := a.sender.Start(a.runCtx, req.Numbers, req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	a.logger.Info().Str("batch_id", batchID).Int("recipients", len(req.Numbers)).Msg("batch accepted")
	writeJSON(w, http.StatusAccepted, createBatchResponse{BatchID: batchID})
}

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	status, ok := a.registry.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if a.ready != nil && !a.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
