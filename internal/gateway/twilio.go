package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Twilio delivers birthday greetings as SMS. Twilio has no idempotency-key
// support on message creation, so the directory's last_sent_year guard is the
// effective duplicate barrier for this provider.
type Twilio struct {
	client *twilio.RestClient
	from   string
	log    *zap.Logger
}

// NewTwilio creates the Twilio SMS provider. All three credentials are required.
func NewTwilio(accountSID, authToken, fromNumber string, log *zap.Logger) (*Twilio, error) {
	if accountSID == "" || authToken == "" || fromNumber == "" {
		return nil, errors.New("twilio provider requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER")
	}
	return &Twilio{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from: fromNumber,
		log:  log,
	}, nil
}

// Send creates an SMS for the user's phone number. Users without a phone
// number fail like any other gateway error and follow the retry path.
func (t *Twilio) Send(ctx context.Context, p Payload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if p.Phone == "" {
		return Result{}, fmt.Errorf("user %s has no phone number for SMS delivery", p.UserID)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(p.Phone)
	params.SetFrom(t.from)
	params.SetBody(greeting(p.Name))

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return Result{}, fmt.Errorf("twilio send: %w", err)
	}

	var id string
	if resp.Sid != nil {
		id = *resp.Sid
	}
	t.log.Info("happy birthday sent via twilio",
		zap.String("userID", p.UserID),
		zap.String("idempotencyKey", p.IdempotencyKey),
		zap.String("providerMessageID", id),
	)
	return Result{ProviderMessageID: id, IsIdempotentReplay: false}, nil
}
