package carrier

import (
	"context"

	"github.com/example/sms-dispatch/internal/models"
)

// SendResult is returned by a successful send: the carrier-assigned message
// identifier plus the initial state the carrier reported for it.
type SendResult struct {
	MessageID    string
	InitialState models.DeliveryState
}

// StateResult is the carrier's answer to a direct state query.
type StateResult struct {
	State       models.DeliveryState
	ErrorCode   int
	ErrorDetail string
}

// Client is the carrier gateway: it accepts outbound sends and answers
// direct "fetch current state" queries by message identifier.
//
// Send errors other than ErrTransient are terminal at send time; no message
// identifier exists, so reconciliation never starts for that recipient.
// FetchState fails with ErrNotFound when the carrier has no record of the
// identifier, or a transient error on transport failure; callers must fall
// back to the status cache before surfacing either upward.
type Client interface {
	Send(ctx context.Context, recipient, body string) (*SendResult, error)
	FetchState(ctx context.Context, messageID string) (*StateResult, error)
}
