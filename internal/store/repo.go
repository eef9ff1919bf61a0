package store

import (
	"context"
	"errors"
	"time"

	"github.com/bigfood2010/birthday-reminder-service/internal/domain"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// UserPatch is a partial update of a user record. Nil fields are left
// untouched. ResetDeliveryState clears every sent/attempt/error field and is
// set whenever birthday or timezone changes invalidate the old schedule.
type UserPatch struct {
	Name     *string
	Email    *string
	Phone    *string
	Birthday *string
	Timezone *string

	NextBirthdayAt     *time.Time
	ResetDeliveryState bool
}

// IsEmpty reports whether the patch would change nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil &&
		p.Birthday == nil && p.Timezone == nil &&
		p.NextBirthdayAt == nil && !p.ResetDeliveryState
}

// MarkProcessedInput records a successful delivery for one send year.
type MarkProcessedInput struct {
	ID                string
	SendYear          int
	SentAt            time.Time
	NextBirthdayAt    time.Time
	ProviderMessageID string
}

// MarkDeliveryFailedInput records a failed delivery attempt, either with a
// retry scheduled (NextDeliveryAttemptAt set) or exhausted for the year
// (attempt count reset and NextBirthdayAt advanced).
type MarkDeliveryFailedInput struct {
	ID                    string
	SendYear              int
	DeliveryAttemptCount  int
	NextDeliveryAttemptAt *time.Time
	NextBirthdayAt        time.Time
	LastDeliveryError     string
	LastDeliveryAttemptAt time.Time
}

// Repo defines storage operations for user records and delivery scheduling.
//
// MarkProcessed and MarkDeliveryFailed are single conditional updates guarded
// by last_sent_year: when another writer already recorded a send for the same
// year, they match nothing and return (nil, nil). That guard is the sole
// at-most-once mechanism; callers must treat a nil result as a no-op.
type Repo interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error

	FindDue(ctx context.Context, nowUTC time.Time, limit int) ([]domain.User, error)
	MarkProcessed(ctx context.Context, in MarkProcessedInput) (*domain.User, error)
	MarkDeliveryFailed(ctx context.Context, in MarkDeliveryFailedInput) (*domain.User, error)

	Close() error
}
