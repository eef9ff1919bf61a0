package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const sendGridBaseURL = "https://api.sendgrid.com"

// SendGrid delivers birthday greetings over the SendGrid v3 mail API.
// The idempotency key travels in the Idempotency-Key header so the provider
// deduplicates retried sends.
type SendGrid struct {
	apiKey    string
	fromEmail string
	baseURL   string
	client    *http.Client
	log       *zap.Logger
}

// NewSendGrid creates the SendGrid provider. Both credentials are required.
func NewSendGrid(apiKey, fromEmail string, log *zap.Logger) (*SendGrid, error) {
	if apiKey == "" || fromEmail == "" {
		return nil, errors.New("sendgrid provider requires SENDGRID_API_KEY and SENDGRID_FROM_EMAIL")
	}
	return &SendGrid{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		baseURL:   sendGridBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}, nil
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Send posts the mail request. The provider message id comes back in the
// X-Message-Id response header.
func (s *SendGrid) Send(ctx context.Context, p Payload) (Result, error) {
	body, err := json.Marshal(sendGridRequest{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: p.Email, Name: p.Name}}},
		},
		From:    sendGridAddress{Email: s.fromEmail},
		Subject: "Happy Birthday!",
		Content: []sendGridContent{{Type: "text/plain", Value: greeting(p.Name)}},
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.IdempotencyKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("sendgrid responded %s: %s", resp.Status, string(detail))
	}

	id := resp.Header.Get("X-Message-Id")
	s.log.Info("happy birthday sent via sendgrid",
		zap.String("userID", p.UserID),
		zap.String("email", p.Email),
		zap.String("idempotencyKey", p.IdempotencyKey),
		zap.String("providerMessageID", id),
	)
	return Result{ProviderMessageID: id, IsIdempotentReplay: false}, nil
}
