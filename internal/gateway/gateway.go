// Package gateway holds the message-delivery boundary: a small Send contract
// the worker calls, plus the concrete providers behind it. Retries are the
// worker's job; a provider reports a single error per attempt and must make
// repeated sends with the same idempotency key externally invisible.
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bigfood2010/birthday-reminder-service/internal/config"
)

// Payload carries everything a provider needs for one birthday message.
type Payload struct {
	UserID   string
	Name     string
	Email    string
	Phone    string // optional; required only by the SMS provider
	Timezone string
	Birthday string

	SentAtUTC      time.Time
	IdempotencyKey string
}

// Result is a successful (or replayed) delivery.
type Result struct {
	ProviderMessageID  string
	IsIdempotentReplay bool
}

// Gateway delivers one birthday message. Calling Send twice with the same
// idempotency key must not produce two externally visible messages: the
// second call either fails at the provider or returns the original message
// id with IsIdempotentReplay set.
type Gateway interface {
	Send(ctx context.Context, p Payload) (Result, error)
}

// New builds the provider selected by BIRTHDAY_MESSAGE_PROVIDER.
func New(cfg config.Config, log *zap.Logger) (Gateway, error) {
	switch cfg.MessageProvider {
	case "", "mock":
		return NewMock(log), nil
	case "sendgrid":
		return NewSendGrid(cfg.SendGridAPIKey, cfg.SendGridFromEmail, log)
	case "twilio":
		return NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, log)
	default:
		return nil, fmt.Errorf("unknown message provider %q", cfg.MessageProvider)
	}
}

func greeting(name string) string {
	return "Happy Birthday, " + name + "!"
}
