package carrier

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/models"
)

// MockOption customises the mock carrier.
type MockOption func(*MockClient)

// WithSendError makes every Send fail with the supplied error.
func WithSendError(err error) MockOption {
	return func(m *MockClient) {
		m.sendErr = err
	}
}

// WithStateSequence sets the default state progression a message walks
// through on successive FetchState calls. The last state is sticky.
func WithStateSequence(states ...models.DeliveryState) MockOption {
	return func(m *MockClient) {
		if len(states) > 0 {
			m.defaultSequence = append([]models.DeliveryState(nil), states...)
		}
	}
}

// WithRecipientSequence overrides the state progression for one recipient.
func WithRecipientSequence(recipient string, states ...models.DeliveryState) MockOption {
	return func(m *MockClient) {
		if recipient != "" && len(states) > 0 {
			m.perRecipient[recipient] = append([]models.DeliveryState(nil), states...)
		}
	}
}

// WithFetchError makes every FetchState fail with the supplied error,
// forcing callers onto their cache fallback path.
func WithFetchError(err error) MockOption {
	return func(m *MockClient) {
		m.fetchErr = err
	}
}

// MockClient is a deterministic in-memory carrier used in tests and in the
// mock provider backend. Each sent message advances through a scripted state
// sequence as it is queried.
type MockClient struct {
	logger zerolog.Logger

	sendErr         error
	fetchErr        error
	defaultSequence []models.DeliveryState
	perRecipient    map[string][]models.DeliveryState

	mu       sync.Mutex
	counter  int
	messages map[string]*mockMessage
}

type mockMessage struct {
	recipient string
	sequence  []models.DeliveryState
	index     int
}

// NewMockClient constructs a mock carrier client.
func NewMockClient(logger zerolog.Logger, opts ...MockOption) *MockClient {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	m := &MockClient{
		logger:          logger,
		defaultSequence: []models.DeliveryState{models.StateQueued, models.StateSent, models.StateDelivered},
		perRecipient:    map[string][]models.DeliveryState{},
		messages:        map[string]*mockMessage{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Send registers a scripted message and returns its identifier along with
// the first state of its sequence.
func (m *MockClient) Send(ctx context.Context, recipient, body string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapTransient(err)
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidRecipient)
	}
	if m.sendErr != nil {
		return nil, m.sendErr
	}

	sequence := m.defaultSequence
	if seq, ok := m.perRecipient[recipient]; ok {
		sequence = seq
	}

	m.mu.Lock()
	m.counter++
	id := fmt.Sprintf("SM-mock-%04d", m.counter)
	m.messages[id] = &mockMessage{recipient: recipient, sequence: sequence}
	m.mu.Unlock()

	m.logger.Debug().Str("recipient", recipient).Str("message_id", id).Msg("mock carrier send accepted")

	return &SendResult{MessageID: id, InitialState: sequence[0]}, nil
}

// FetchState advances the scripted sequence one step per call and returns
// the resulting state, sticking on the final entry.
func (m *MockClient) FetchState(ctx context.Context, messageID string) (*StateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapTransient(err)
	}
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	if msg.index < len(msg.sequence)-1 {
		msg.index++
	}
	state := msg.sequence[msg.index]

	result := &StateResult{State: state}
	if state == models.StateUndelivered || state == models.StateFailed {
		result.ErrorCode = 30005
		result.ErrorDetail = "mock: destination handset unreachable"
	}
	return result, nil
}
