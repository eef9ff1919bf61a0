package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigfood2010/birthday-reminder-service/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestUser(email string, nextBirthdayAt time.Time) *domain.User {
	return &domain.User{
		ID:             uuid.NewString(),
		Name:           "Jane",
		Email:          email,
		Birthday:       "1990-01-11",
		Timezone:       "Asia/Tokyo",
		NextBirthdayAt: nextBirthdayAt,
	}
}

func TestCreateAndGetUser(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	next := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	u := newTestUser("jane@example.com", next)
	require.NoError(t, repo.CreateUser(ctx, u))

	got, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "1990-01-11", got.Birthday)
	assert.True(t, got.NextBirthdayAt.Equal(next))
	assert.Nil(t, got.LastSentYear)
	assert.Nil(t, got.NextDeliveryAttemptAt)
	assert.Zero(t, got.DeliveryAttemptCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetUser_NotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetUser(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	next := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateUser(ctx, newTestUser("jane@example.com", next)))

	err := repo.CreateUser(ctx, newTestUser("jane@example.com", next))
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestFindDue_FiltersAndOrders(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.January, 11, 12, 0, 0, 0, time.UTC)

	overdue := newTestUser("overdue@example.com", now.Add(-2*time.Hour))
	justDue := newTestUser("justdue@example.com", now.Add(-time.Minute))
	notDue := newTestUser("notdue@example.com", now.Add(time.Hour))
	backoff := newTestUser("backoff@example.com", now.Add(-time.Hour))
	expired := newTestUser("expired@example.com", now.Add(-90*time.Minute))

	for _, u := range []*domain.User{overdue, justDue, notDue, backoff, expired} {
		require.NoError(t, repo.CreateUser(ctx, u))
	}

	// backoff is mid-retry until later; expired's backoff has passed.
	futureRetry := now.Add(10 * time.Minute)
	_, err := repo.MarkDeliveryFailed(ctx, MarkDeliveryFailedInput{
		ID: backoff.ID, SendYear: 2026, DeliveryAttemptCount: 1,
		NextDeliveryAttemptAt: &futureRetry, NextBirthdayAt: backoff.NextBirthdayAt,
		LastDeliveryError: "x", LastDeliveryAttemptAt: now.Add(-5 * time.Minute),
	})
	require.NoError(t, err)

	pastRetry := now.Add(-time.Minute)
	_, err = repo.MarkDeliveryFailed(ctx, MarkDeliveryFailedInput{
		ID: expired.ID, SendYear: 2026, DeliveryAttemptCount: 1,
		NextDeliveryAttemptAt: &pastRetry, NextBirthdayAt: expired.NextBirthdayAt,
		LastDeliveryError: "x", LastDeliveryAttemptAt: now.Add(-16 * time.Minute),
	})
	require.NoError(t, err)

	due, err := repo.FindDue(ctx, now, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, u := range due {
		ids = append(ids, u.ID)
	}
	// Ascending next_birthday_at: overdue (-2h), expired (-90m), justDue (-1m).
	assert.Equal(t, []string{overdue.ID, expired.ID, justDue.ID}, ids)
}

func TestFindDue_RespectsLimit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.January, 11, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		u := newTestUser(uuid.NewString()+"@example.com", now.Add(-time.Duration(i+1)*time.Minute))
		require.NoError(t, repo.CreateUser(ctx, u))
	}

	due, err := repo.FindDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, due, 3)
}

func TestMarkProcessed_GuardAllowsOnePerSendYear(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	due := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	nextYear := time.Date(2027, time.January, 11, 0, 0, 0, 0, time.UTC)
	sentAt := due.Add(5 * time.Minute)

	u := newTestUser("jane@example.com", due)
	require.NoError(t, repo.CreateUser(ctx, u))

	updated, err := repo.MarkProcessed(ctx, MarkProcessedInput{
		ID: u.ID, SendYear: 2026, SentAt: sentAt,
		NextBirthdayAt: nextYear, ProviderMessageID: "sim-1",
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.NotNil(t, updated.LastSentYear)
	assert.Equal(t, 2026, *updated.LastSentYear)
	require.NotNil(t, updated.LastSentAt)
	assert.True(t, updated.LastSentAt.Equal(sentAt))
	assert.True(t, updated.NextBirthdayAt.Equal(nextYear))
	require.NotNil(t, updated.LastProviderMessageID)
	assert.Equal(t, "sim-1", *updated.LastProviderMessageID)
	assert.Zero(t, updated.DeliveryAttemptCount)
	assert.Nil(t, updated.NextDeliveryAttemptAt)

	// Same send year again: the guard matches nothing, a silent no-op.
	again, err := repo.MarkProcessed(ctx, MarkProcessedInput{
		ID: u.ID, SendYear: 2026, SentAt: sentAt.Add(time.Minute),
		NextBirthdayAt: nextYear, ProviderMessageID: "sim-2",
	})
	require.NoError(t, err)
	assert.Nil(t, again)

	got, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "sim-1", *got.LastProviderMessageID)

	// A different year passes the guard.
	later, err := repo.MarkProcessed(ctx, MarkProcessedInput{
		ID: u.ID, SendYear: 2027, SentAt: nextYear.Add(time.Minute),
		NextBirthdayAt: nextYear.AddDate(1, 0, 0), ProviderMessageID: "sim-3",
	})
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.Equal(t, 2027, *later.LastSentYear)
}

func TestMarkDeliveryFailed_PersistsRetryState(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	due := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	u := newTestUser("jane@example.com", due)
	require.NoError(t, repo.CreateUser(ctx, u))

	attemptAt := due.Add(5 * time.Minute)
	retryAt := attemptAt.Add(15 * time.Minute)
	updated, err := repo.MarkDeliveryFailed(ctx, MarkDeliveryFailedInput{
		ID: u.ID, SendYear: 2026, DeliveryAttemptCount: 1,
		NextDeliveryAttemptAt: &retryAt, NextBirthdayAt: due,
		LastDeliveryError: "provider unavailable", LastDeliveryAttemptAt: attemptAt,
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 1, updated.DeliveryAttemptCount)
	require.NotNil(t, updated.NextDeliveryAttemptAt)
	assert.True(t, updated.NextDeliveryAttemptAt.Equal(retryAt))
	require.NotNil(t, updated.LastDeliveryError)
	assert.Equal(t, "provider unavailable", *updated.LastDeliveryError)
	assert.True(t, updated.NextBirthdayAt.Equal(due))
	assert.Nil(t, updated.LastSentYear)
}

func TestMarkDeliveryFailed_GuardBlocksAfterSuccessSameYear(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	due := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	u := newTestUser("jane@example.com", due)
	require.NoError(t, repo.CreateUser(ctx, u))

	_, err := repo.MarkProcessed(ctx, MarkProcessedInput{
		ID: u.ID, SendYear: 2026, SentAt: due,
		NextBirthdayAt: due.AddDate(1, 0, 0), ProviderMessageID: "sim-1",
	})
	require.NoError(t, err)

	// A stale failure writer for the same year must not clobber the success.
	updated, err := repo.MarkDeliveryFailed(ctx, MarkDeliveryFailedInput{
		ID: u.ID, SendYear: 2026, DeliveryAttemptCount: 1,
		NextBirthdayAt: due, LastDeliveryError: "late failure",
		LastDeliveryAttemptAt: due,
	})
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestUpdateUser_PatchAndResetDeliveryState(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	due := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	u := newTestUser("jane@example.com", due)
	require.NoError(t, repo.CreateUser(ctx, u))

	// Seed some delivery state first.
	retryAt := due.Add(15 * time.Minute)
	_, err := repo.MarkDeliveryFailed(ctx, MarkDeliveryFailedInput{
		ID: u.ID, SendYear: 2026, DeliveryAttemptCount: 2,
		NextDeliveryAttemptAt: &retryAt, NextBirthdayAt: due,
		LastDeliveryError: "x", LastDeliveryAttemptAt: due,
	})
	require.NoError(t, err)

	timezone := "America/New_York"
	newNext := time.Date(2027, time.January, 11, 14, 0, 0, 0, time.UTC)
	updated, err := repo.UpdateUser(ctx, u.ID, UserPatch{
		Timezone:           &timezone,
		NextBirthdayAt:     &newNext,
		ResetDeliveryState: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", updated.Timezone)
	assert.True(t, updated.NextBirthdayAt.Equal(newNext))
	assert.Zero(t, updated.DeliveryAttemptCount)
	assert.Nil(t, updated.NextDeliveryAttemptAt)
	assert.Nil(t, updated.LastDeliveryError)
	assert.Nil(t, updated.LastDeliveryAttemptAt)
	assert.Nil(t, updated.LastSentYear)
}

func TestUpdateUser_DuplicateEmail(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	due := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateUser(ctx, newTestUser("jane@example.com", due)))
	other := newTestUser("other@example.com", due)
	require.NoError(t, repo.CreateUser(ctx, other))

	taken := "jane@example.com"
	_, err := repo.UpdateUser(ctx, other.ID, UserPatch{Email: &taken})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUpdateUser_NotFound(t *testing.T) {
	repo := openTestRepo(t)

	name := "Someone"
	_, err := repo.UpdateUser(context.Background(), uuid.NewString(), UserPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	due := time.Date(2026, time.January, 11, 0, 0, 0, 0, time.UTC)
	u := newTestUser("jane@example.com", due)
	require.NoError(t, repo.CreateUser(ctx, u))

	require.NoError(t, repo.DeleteUser(ctx, u.ID))

	_, err := repo.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteUser(ctx, u.ID), ErrNotFound)
}
