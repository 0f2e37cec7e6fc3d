package carrier

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/config"
)

// New selects and constructs the carrier backend named by the configuration.
func New(cfg config.ProviderConfig, logger zerolog.Logger) (Client, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "twilio":
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		return NewTwilioClient(cfg.Twilio, timeout, logger)
	case "mock":
		return NewMockClient(logger), nil
	default:
		return nil, fmt.Errorf("carrier: unknown provider backend %q", backend)
	}
}
