package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default institutional notification body used when a batch does not supply
// its own text. Carried over from the original campaign.
const defaultMessageBody = "Hola. Mensaje de verificación institucional. Por favor ignore este mensaje."

// Config captures all runtime configuration for the dispatch service.
type Config struct {
	App       AppConfig
	Provider  ProviderConfig
	Reconcile ReconcileConfig
	Cache     CacheConfig
	Batch     BatchConfig
	Kafka     KafkaConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// TwilioConfig stores the carrier credentials and callback wiring.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	StatusCallbackURL string
}

// ProviderConfig selects and configures the carrier backend.
type ProviderConfig struct {
	Backend        string
	Twilio         TwilioConfig
	TimeoutSeconds int
}

// ReconcileConfig controls the per-message status reconciliation loop.
type ReconcileConfig struct {
	InitialDelayMs  int
	CheckIntervalMs int
	MaxAttempts     int
	// TrustUnconfirmedSent flips the timeout classification rule: when set,
	// a message still in "sent" after the attempt budget counts as
	// delivered instead of failed.
	TrustUnconfirmedSent bool
}

// CacheConfig controls the shared status cache.
type CacheConfig struct {
	MaxAgeHours int
}

// BatchConfig controls batch sending: size limit, pacing, send retries and
// watcher concurrency.
type BatchConfig struct {
	MaxNumbers         int
	SendIntervalMs     int
	SendMaxAttempts    int
	SendBaseBackoffMs  int
	SendMaxBackoffMs   int
	WatcherConcurrency int
	MessageBody        string
}

// KafkaConfig enables the optional status event stream. Publishing is
// skipped entirely when no brokers are configured.
type KafkaConfig struct {
	Brokers     []string
	StatusTopic string
}

// Enabled reports whether status events should be published to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Provider.Backend = strings.ToLower(ldr.getString("SMS_PROVIDER", "twilio", false))
	cfg.Provider.TimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)

	twilioRequired := cfg.Provider.Backend == "twilio"
	cfg.Provider.Twilio.AccountSID = ldr.getString("TWILIO_ACCOUNT_SID", "", twilioRequired)
	cfg.Provider.Twilio.AuthToken = ldr.getString("TWILIO_AUTH_TOKEN", "", twilioRequired)
	cfg.Provider.Twilio.PhoneNumber = ldr.getString("TWILIO_PHONE_NUMBER", "", twilioRequired)
	cfg.Provider.Twilio.StatusCallbackURL = ldr.getString("TWILIO_STATUS_CALLBACK_URL", "", false)

	cfg.Reconcile.InitialDelayMs = ldr.getInt("STATUS_INITIAL_DELAY_MS", 5000, false)
	cfg.Reconcile.CheckIntervalMs = ldr.getInt("STATUS_CHECK_INTERVAL_MS", 10000, false)
	cfg.Reconcile.MaxAttempts = ldr.getInt("STATUS_MAX_ATTEMPTS", 30, false)
	cfg.Reconcile.TrustUnconfirmedSent = ldr.getBool("STATUS_TRUST_UNCONFIRMED_SENT", false, false)

	cfg.Cache.MaxAgeHours = ldr.getInt("STATUS_CACHE_MAX_AGE_HOURS", 24, false)

	cfg.Batch.MaxNumbers = ldr.getInt("BATCH_MAX_NUMBERS", 50, false)
	cfg.Batch.SendIntervalMs = ldr.getInt("BATCH_SEND_INTERVAL_MS", 500, false)
	cfg.Batch.SendMaxAttempts = ldr.getInt("SEND_MAX_ATTEMPTS", 3, false)
	cfg.Batch.SendBaseBackoffMs = ldr.getInt("SEND_BASE_BACKOFF_MS", 500, false)
	cfg.Batch.SendMaxBackoffMs = ldr.getInt("SEND_MAX_BACKOFF_MS", 5000, false)
	cfg.Batch.WatcherConcurrency = ldr.getInt("WATCHER_CONCURRENCY", 10, false)
	cfg.Batch.MessageBody = ldr.getString("BATCH_MESSAGE_BODY", defaultMessageBody, false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	kafkaTopicRequired := len(cfg.Kafka.Brokers) > 0
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "", kafkaTopicRequired)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid boolean", key))
			return def
		}
		return parsed
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
