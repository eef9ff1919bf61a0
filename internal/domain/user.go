package domain

import "time"

// User is the schedule record the delivery worker operates on.
// Optional delivery-state fields are nil until the worker touches them.
type User struct {
	ID       string
	Name     string
	Email    string
	Phone    string // E.164, optional; empty means SMS delivery is unavailable
	Birthday string // YYYY-MM-DD; the year only matters for leap-day handling
	Timezone string // IANA zone name, validated on create/update

	NextBirthdayAt time.Time // UTC instant of the next scheduled send

	LastSentAt            *time.Time
	LastSentYear          *int
	LastProviderMessageID *string

	DeliveryAttemptCount  int
	NextDeliveryAttemptAt *time.Time // nil means eligible now
	LastDeliveryError     *string
	LastDeliveryAttemptAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
