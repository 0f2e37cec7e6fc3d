package models

import "time"

// DeliveryState enumerates the carrier-reported lifecycle states an outbound
// SMS moves through: queued -> sending -> sent -> {delivered | undelivered |
// failed | canceled}. The last four are terminal.
type DeliveryState string

const (
	StateQueued      DeliveryState = "queued"
	StateSending     DeliveryState = "sending"
	StateSent        DeliveryState = "sent"
	StateDelivered   DeliveryState = "delivered"
	StateUndelivered DeliveryState = "undelivered"
	StateFailed      DeliveryState = "failed"
	StateCanceled    DeliveryState = "canceled"
)

// Terminal reports whether no further state change is expected from the
// carrier for a message in this state.
func (s DeliveryState) Terminal() bool {
	switch s {
	case StateDelivered, StateUndelivered, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Label returns the operator-facing description for a delivery state.
func (s DeliveryState) Label() string {
	switch s {
	case StateQueued:
		return "queued for sending"
	case StateSending:
		return "handing off to carrier"
	case StateSent:
		return "sent to carrier, awaiting handset confirmation"
	case StateDelivered:
		return "delivered to handset"
	case StateUndelivered:
		return "not delivered - number inactive or switched off"
	case StateFailed:
		return "failed - network or carrier error"
	case StateCanceled:
		return "canceled"
	}
	return string(s)
}

// Outcome is the authoritative per-message result the reconciliation loop
// produces. It transitions pending -> {success | failure} exactly once.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ObservationSource identifies which channel produced the last accepted
// state observation for a message.
type ObservationSource string

const (
	SourceDirectQuery   ObservationSource = "direct-query"
	SourceCacheFallback ObservationSource = "cache-fallback"
	SourceWebhook       ObservationSource = "webhook"
)

// Distinguished reasons attached to failure outcomes.
const (
	// ReasonSentUnconfirmed classifies a message that stayed in "sent"
	// until the status-check budget ran out. Treating prolonged
	// sent-without-confirmation as non-delivery is a product policy, not a
	// carrier fact; the rule is configurable at the reconciliation engine.
	ReasonSentUnconfirmed = "sent but unconfirmed after timeout"

	// ReasonSentAssumedDelivered is the success-side counterpart used when
	// the engine is configured to trust a lingering "sent" state.
	ReasonSentAssumedDelivered = "sent and assumed delivered after timeout"

	// ReasonChecksExhausted classifies a message whose status checks ran
	// out while the last observed state was neither terminal nor "sent".
	ReasonChecksExhausted = "status checks exhausted"

	// ReasonCanceled classifies a message whose reconciliation was
	// aborted before a terminal state was observed.
	ReasonCanceled = "reconciliation canceled"
)

// MessageRecord tracks one outbound message attempt from the moment the
// carrier assigns an identifier until a terminal outcome is reached.
type MessageRecord struct {
	Recipient         string            `json:"recipient"`
	MessageID         string            `json:"message_id,omitempty"`
	CurrentState      DeliveryState     `json:"current_state"`
	AttemptsMade      int               `json:"attempts_made"`
	Outcome           Outcome           `json:"outcome"`
	Reason            string            `json:"reason,omitempty"`
	ErrorCode         int               `json:"error_code,omitempty"`
	ErrorDetail       string            `json:"error_detail,omitempty"`
	LastObservedAt    time.Time         `json:"last_observed_at"`
	ObservationSource ObservationSource `json:"observation_source,omitempty"`
}

// BatchSummary reports the distinct per-batch result counts. Partial batch
// failure never hides the rest: still-pending messages are counted
// separately from resolved ones.
type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}
