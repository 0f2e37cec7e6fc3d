package models

import "time"

// StatusEvent is the per-tick observer update emitted while a message is
// being reconciled. Replaying the same state is safe; consumers must treat
// events as idempotent snapshots rather than deltas.
type StatusEvent struct {
	MessageID   string            `json:"message_id"`
	Recipient   string            `json:"recipient"`
	State       DeliveryState     `json:"state"`
	StateLabel  string            `json:"state_label"`
	Outcome     Outcome           `json:"outcome"`
	Attempt     int               `json:"attempt,omitempty"`
	Source      ObservationSource `json:"source,omitempty"`
	ErrorCode   int               `json:"error_code,omitempty"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
