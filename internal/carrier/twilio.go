package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/config"
	"github.com/example/sms-dispatch/internal/models"
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TwilioOption customises the behaviour of the Twilio carrier client.
type TwilioOption func(*TwilioClient)

// WithTwilioHTTPClient overrides the HTTP client used to talk to Twilio.
func WithTwilioHTTPClient(client HTTPClient) TwilioOption {
	return func(c *TwilioClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTwilioBaseURL sets the base Twilio API URL. Useful for tests.
func WithTwilioBaseURL(baseURL string) TwilioOption {
	return func(c *TwilioClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTwilioBodyLimit adjusts how many bytes are retained from the HTTP
// response body.
func WithTwilioBodyLimit(limit int64) TwilioOption {
	return func(c *TwilioClient) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// TwilioClient implements Client against Twilio's REST messaging API.
type TwilioClient struct {
	logger         zerolog.Logger
	accountSID     string
	authToken      string
	fromNumber     string
	statusCallback string
	httpClient     HTTPClient
	baseURL        string
	maxBodyBytes   int64
}

// NewTwilioClient constructs a Twilio-backed carrier client.
func NewTwilioClient(cfg config.TwilioConfig, timeout time.Duration, logger zerolog.Logger, opts ...TwilioOption) (*TwilioClient, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilio carrier: account SID is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio carrier: auth token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumber) == "" {
		return nil, errors.New("twilio carrier: phone number is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &TwilioClient{
		logger:         logger,
		accountSID:     strings.TrimSpace(cfg.AccountSID),
		authToken:      strings.TrimSpace(cfg.AuthToken),
		fromNumber:     strings.TrimSpace(cfg.PhoneNumber),
		statusCallback: strings.TrimSpace(cfg.StatusCallbackURL),
		baseURL:        "https://api.twilio.com/2010-04-01",
		httpClient:     &http.Client{Timeout: timeout},
		maxBodyBytes:   16 * 1024,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// Send delivers one SMS via Twilio and returns the assigned message SID plus
// the initial carrier-reported state.
func (c *TwilioClient) Send(ctx context.Context, recipient, body string) (*SendResult, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidRecipient)
	}

	params := url.Values{}
	params.Set("To", recipient)
	params.Set("From", c.fromNumber)
	params.Set("Body", body)
	if c.statusCallback != "" {
		params.Set("StatusCallback", c.statusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	status, parsed, err := c.do(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, WrapTransient(err)
	}

	if status < 200 || status >= 300 {
		mapped := mapSendError(status, parsed)
		c.logger.Warn().
			Str("recipient", recipient).
			Int("http_status", status).
			Int("twilio_code", parsed.Code).
			Err(mapped).
			Msg("twilio carrier send rejected")
		return nil, mapped
	}

	if parsed.SID == "" {
		return nil, fmt.Errorf("%w: response missing message sid", ErrTransient)
	}

	initial := models.StateQueued
	if parsed.Status != "" {
		initial = models.DeliveryState(strings.ToLower(parsed.Status))
	}

	c.logger.Debug().
		Str("recipient", recipient).
		Str("message_id", parsed.SID).
		Str("initial_state", string(initial)).
		Msg("twilio carrier send accepted")

	return &SendResult{MessageID: parsed.SID, InitialState: initial}, nil
}

// FetchState queries Twilio for the current state of a message.
func (c *TwilioClient) FetchState(ctx context.Context, messageID string) (*StateResult, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("%w: message id is required", ErrNotFound)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages/%s.json",
		c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(messageID))
	status, parsed, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, WrapTransient(err)
	}

	switch {
	case status == http.StatusNotFound || parsed.Code == twilioCodeNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("%w: http %d: %s", ErrTransient, status, parsed.Message)
	}

	return &StateResult{
		State:       models.DeliveryState(strings.ToLower(parsed.Status)),
		ErrorCode:   parsed.ErrorCode,
		ErrorDetail: parsed.ErrorMessage,
	}, nil
}

func (c *TwilioClient) do(ctx context.Context, method, endpoint string, payload io.Reader) (int, twilioBody, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return 0, twilioBody{}, fmt.Errorf("twilio carrier: new request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, twilioBody{}, fmt.Errorf("twilio carrier: http do: %w", err)
	}
	defer resp.Body.Close()

	limit := c.maxBodyBytes
	if limit <= 0 {
		limit = 16 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, twilioBody{}, fmt.Errorf("twilio carrier: read body: %w", err)
	}

	return resp.StatusCode, parseTwilioBody(data), nil
}

// Twilio REST error codes the send path maps onto the carrier taxonomy.
const (
	twilioCodeInvalidNumber  = 21211
	twilioCodeRegionBlocked  = 21408
	twilioCodeStopFiltered   = 21610
	twilioCodeLandline       = 21612
	twilioCodeNotSMSCapable  = 21614
	twilioCodeAuthentication = 20003
	twilioCodeNotFound       = 20404
)

func mapSendError(httpStatus int, parsed twilioBody) error {
	detail := parsed.Message
	if detail == "" {
		detail = http.StatusText(httpStatus)
	}

	switch parsed.Code {
	case twilioCodeInvalidNumber:
		return fmt.Errorf("%w: twilio %d: %s", ErrInvalidRecipient, parsed.Code, detail)
	case twilioCodeStopFiltered:
		return fmt.Errorf("%w: twilio %d: %s", ErrRecipientBlocked, parsed.Code, detail)
	case twilioCodeLandline, twilioCodeNotSMSCapable:
		return fmt.Errorf("%w: twilio %d: %s", ErrUnsupportedRecipientType, parsed.Code, detail)
	case twilioCodeRegionBlocked, twilioCodeAuthentication:
		return fmt.Errorf("%w: twilio %d: %s", ErrUnauthorized, parsed.Code, detail)
	}

	switch {
	case httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", ErrUnauthorized, httpStatus, detail)
	case httpStatus == http.StatusTooManyRequests || httpStatus >= http.StatusInternalServerError:
		return fmt.Errorf("%w: http %d: %s", ErrTransient, httpStatus, detail)
	}

	return fmt.Errorf("%w: http %d: %s", ErrSendRejected, httpStatus, detail)
}

type twilioBody struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func parseTwilioBody(data []byte) twilioBody {
	if len(strings.TrimSpace(string(data))) == 0 {
		return twilioBody{}
	}

	var parsed twilioBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return twilioBody{}
	}
	return parsed
}
