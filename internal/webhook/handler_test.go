package webhook_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/models"
	"github.com/example/sms-dispatch/internal/statuscache"
	"github.com/example/sms-dispatch/internal/webhook"
)

func newHandler(t *testing.T, cache *statuscache.Cache, now time.Time) *webhook.Handler {
	t.Helper()
	h, err := webhook.NewHandler(cache, zerolog.New(io.Discard),
		webhook.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	return h
}

func postCallback(h *webhook.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms-status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleStatusCallback(rec, req)
	return rec
}

func TestStatusCallbackWritesCacheAndAcks(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cache := statuscache.New(time.Hour, zerolog.New(io.Discard))
	h := newHandler(t, cache, now)

	rec := postCallback(h, url.Values{
		"MessageSid":    {"SM42"},
		"MessageStatus": {"Delivered"},
		"To":            {"+50255551234"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/xml" {
		t.Fatalf("expected text/xml content type, got %q", got)
	}
	if body := rec.Body.String(); body != "<Response></Response>" {
		t.Fatalf("expected empty TwiML envelope, got %q", body)
	}

	entry, ok := cache.Get("SM42")
	if !ok {
		t.Fatal("expected cache entry after callback")
	}
	if entry.State != models.StateDelivered {
		t.Fatalf("expected delivered state (lowercased), got %s", entry.State)
	}
	if entry.Recipient != "+50255551234" {
		t.Fatalf("unexpected recipient: %q", entry.Recipient)
	}
	if entry.Source != models.SourceWebhook {
		t.Fatalf("unexpected source: %s", entry.Source)
	}
	if !entry.ObservedAt.Equal(now) {
		t.Fatalf("expected observation timestamp %v, got %v", now, entry.ObservedAt)
	}
}

func TestStatusCallbackCarriesErrorDetails(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cache := statuscache.New(time.Hour, zerolog.New(io.Discard))
	h := newHandler(t, cache, now)

	postCallback(h, url.Values{
		"MessageSid":    {"SM43"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"30005"},
		"ErrorMessage":  {"unknown destination handset"},
	})

	entry, ok := cache.Get("SM43")
	if !ok {
		t.Fatal("expected cache entry after callback")
	}
	if entry.ErrorCode != 30005 {
		t.Fatalf("unexpected error code: %d", entry.ErrorCode)
	}
	if entry.ErrorDetail != "unknown destination handset" {
		t.Fatalf("unexpected error detail: %q", entry.ErrorDetail)
	}
}

func TestStatusCallbackMissingMessageSid(t *testing.T) {
	cache := statuscache.New(time.Hour, zerolog.New(io.Discard))
	h := newHandler(t, cache, time.Unix(1700000000, 0).UTC())

	rec := postCallback(h, url.Values{"MessageStatus": {"sent"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if cache.Len() != 0 {
		t.Fatal("rejected callback must not touch the cache")
	}
}

func TestStatusQuery(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cache := statuscache.New(time.Hour, zerolog.New(io.Discard))
	cache.Put("SM44", statuscache.Entry{
		State:      models.StateSent,
		Recipient:  "+50255551234",
		ObservedAt: now,
		Source:     models.SourceWebhook,
	})
	h := newHandler(t, cache, now)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages/{id}", h.HandleStatusQuery)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/SM44", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		MessageID  string `json:"message_id"`
		State      string `json:"state"`
		StateLabel string `json:"state_label"`
		Recipient  string `json:"recipient"`
		Source     string `json:"source"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.MessageID != "SM44" || payload.State != "sent" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.StateLabel == "" {
		t.Fatal("expected a human readable state label")
	}
	if payload.Source != string(models.SourceWebhook) {
		t.Fatalf("unexpected source: %q", payload.Source)
	}
}

func TestStatusQueryNotFound(t *testing.T) {
	cache := statuscache.New(time.Hour, zerolog.New(io.Discard))
	h := newHandler(t, cache, time.Unix(1700000000, 0).UTC())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages/{id}", h.HandleStatusQuery)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/SM-missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
