package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mock is the default provider: it logs the greeting instead of sending it
// and keeps idempotency state in memory. Good enough for development and
// tests; a real provider must persist or delegate that state.
type Mock struct {
	log *zap.Logger

	mu        sync.Mutex
	delivered map[string]string // idempotency key -> provider message id
}

// NewMock creates an in-memory mock gateway.
func NewMock(log *zap.Logger) *Mock {
	return &Mock{
		log:       log,
		delivered: make(map[string]string),
	}
}

// Send logs the birthday greeting. A repeated idempotency key returns the
// original provider message id with IsIdempotentReplay set.
func (m *Mock) Send(ctx context.Context, p Payload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.delivered[p.IdempotencyKey]; ok {
		m.log.Info("happy birthday replay accepted",
			zap.String("userID", p.UserID),
			zap.String("idempotencyKey", p.IdempotencyKey),
			zap.String("providerMessageID", id),
		)
		return Result{ProviderMessageID: id, IsIdempotentReplay: true}, nil
	}

	id := "sim-" + uuid.NewString()
	m.delivered[p.IdempotencyKey] = id

	m.log.Info("happy birthday sent",
		zap.String("userID", p.UserID),
		zap.String("name", p.Name),
		zap.String("email", p.Email),
		zap.String("timezone", p.Timezone),
		zap.String("birthday", p.Birthday),
		zap.Time("sentAt", p.SentAtUTC),
		zap.String("idempotencyKey", p.IdempotencyKey),
		zap.String("providerMessageID", id),
	)
	return Result{ProviderMessageID: id, IsIdempotentReplay: false}, nil
}
