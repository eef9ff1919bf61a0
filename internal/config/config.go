package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment variables.
// It is shared by the API and worker binaries; each reads the parts it needs.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/birthday.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error

	// Worker scheduling and retry budget.
	WorkerSchedule      string `envconfig:"WORKER_SCHEDULE" default:"@every 1m"`
	BatchSize           int    `envconfig:"WORKER_BATCH_SIZE" default:"200"`
	MaxBatchesPerRun    int    `envconfig:"WORKER_MAX_BATCHES" default:"10"`
	MaxDeliveryAttempts int    `envconfig:"WORKER_MAX_DELIVERY_ATTEMPTS" default:"3"`
	RetryDelayMinutes   int    `envconfig:"WORKER_RETRY_DELAY_MINUTES" default:"15"`
	SendTimeoutSeconds  int    `envconfig:"WORKER_SEND_TIMEOUT_SECONDS" default:"10"`

	// Message delivery provider: mock|sendgrid|twilio.
	MessageProvider   string `envconfig:"BIRTHDAY_MESSAGE_PROVIDER" default:"mock"`
	SendGridAPIKey    string `envconfig:"SENDGRID_API_KEY"`
	SendGridFromEmail string `envconfig:"SENDGRID_FROM_EMAIL"`
	TwilioAccountSID  string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `envconfig:"TWILIO_PHONE_NUMBER"`
}

// Load reads environment variables into Config. Worker integers must be
// positive; anything else silently falls back to the documented default
// rather than poisoning the retry state machine.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}

	fallbackPositive(&cfg.BatchSize, 200)
	fallbackPositive(&cfg.MaxBatchesPerRun, 10)
	fallbackPositive(&cfg.MaxDeliveryAttempts, 3)
	fallbackPositive(&cfg.RetryDelayMinutes, 15)
	fallbackPositive(&cfg.SendTimeoutSeconds, 10)

	return cfg, nil
}

func fallbackPositive(value *int, fallback int) {
	if *value <= 0 {
		*value = fallback
	}
}
