// Package worker implements the recurring birthday delivery job: find due
// users in bounded batches, send through the gateway, and persist success or
// retry state. One user's failure never aborts a batch; correctness under
// concurrent workers rests entirely on the directory's conditional writes
// and the gateway's idempotency key.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bigfood2010/birthday-reminder-service/internal/domain"
	"github.com/bigfood2010/birthday-reminder-service/internal/gateway"
	"github.com/bigfood2010/birthday-reminder-service/internal/store"
)

// Defaults for options left zero or negative.
const (
	DefaultBatchSize           = 200
	DefaultMaxBatchesPerRun    = 10
	DefaultMaxDeliveryAttempts = 3
	DefaultRetryDelay          = 15 * time.Minute
	DefaultSendTimeout         = 10 * time.Second
)

// Directory is the slice of the user store the worker needs.
type Directory interface {
	FindDue(ctx context.Context, nowUTC time.Time, limit int) ([]domain.User, error)
	MarkProcessed(ctx context.Context, in store.MarkProcessedInput) (*domain.User, error)
	MarkDeliveryFailed(ctx context.Context, in store.MarkDeliveryFailedInput) (*domain.User, error)
}

// Options bound one run of the worker.
type Options struct {
	BatchSize           int           // users fetched per page
	MaxBatchesPerRun    int           // pages drained per tick
	MaxDeliveryAttempts int           // retry budget per send year
	RetryDelay          time.Duration // fixed backoff between attempts
	SendTimeout         time.Duration // per-call gateway timeout
}

// Worker drains due users on each tick.
type Worker struct {
	dir  Directory
	gw   gateway.Gateway
	log  *zap.Logger
	opts Options

	now func() time.Time
}

// New creates a Worker. Non-positive options fall back to defaults.
func New(dir Directory, gw gateway.Gateway, log *zap.Logger, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatchesPerRun <= 0 {
		opts.MaxBatchesPerRun = DefaultMaxBatchesPerRun
	}
	if opts.MaxDeliveryAttempts <= 0 {
		opts.MaxDeliveryAttempts = DefaultMaxDeliveryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Worker{
		dir:  dir,
		gw:   gw,
		log:  log,
		opts: opts,
		now:  time.Now,
	}
}

// IdempotencyKey is deterministic across retries of the same send year so the
// gateway can deduplicate.
func IdempotencyKey(userID string, sendYear int) string {
	return fmt.Sprintf("birthday:%s:%d", userID, sendYear)
}

// ProcessDueBirthdays performs one scheduling tick. It drains up to
// MaxBatchesPerRun pages of due users, stopping early on an empty fetch.
func (w *Worker) ProcessDueBirthdays(ctx context.Context) {
	nowUTC := w.now().UTC()
	sent := 0

	for i := 0; i < w.opts.MaxBatchesPerRun; i++ {
		due, err := w.dir.FindDue(ctx, nowUTC, w.opts.BatchSize)
		if err != nil {
			w.log.Error("find due users failed", zap.Error(err))
			return
		}
		if len(due) == 0 {
			break
		}
		for j := range due {
			if w.processSingleUser(ctx, &due[j], nowUTC) {
				sent++
			}
		}
	}

	if sent > 0 {
		w.log.Info("birthday worker run complete", zap.Int("sent", sent))
	}
}

// processSingleUser runs one user to a terminal outcome and reports whether a
// send was credited. Every failure mode is contained here.
func (w *Worker) processSingleUser(ctx context.Context, u *domain.User, sentAtUTC time.Time) bool {
	sendYear, err := domain.SendYear(u.Timezone, u.NextBirthdayAt)
	var nextBirthdayAt time.Time
	if err == nil {
		// Advance strictly past the current due instant so the next computed
		// occurrence is the one a year later, not the same instant.
		nextBirthdayAt, err = domain.NextBirthdayAtUTC(
			u.Birthday, u.Timezone, u.NextBirthdayAt.Add(time.Millisecond))
	}
	if err != nil {
		// Malformed stored data needs operator intervention, not a retry loop.
		w.log.Error("failed to compute delivery schedule",
			zap.String("userID", u.ID), zap.Error(err))
		return false
	}

	key := IdempotencyKey(u.ID, sendYear)

	sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
	result, err := w.gw.Send(sendCtx, gateway.Payload{
		UserID:         u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		Timezone:       u.Timezone,
		Birthday:       u.Birthday,
		SentAtUTC:      sentAtUTC,
		IdempotencyKey: key,
	})
	cancel()
	if err != nil {
		w.handleDeliveryFailure(ctx, u, sendYear, nextBirthdayAt, sentAtUTC, key, err)
		return false
	}

	updated, err := w.dir.MarkProcessed(ctx, store.MarkProcessedInput{
		ID:                u.ID,
		SendYear:          sendYear,
		SentAt:            sentAtUTC,
		NextBirthdayAt:    nextBirthdayAt,
		ProviderMessageID: result.ProviderMessageID,
	})
	if err != nil {
		// The message is already out; there is no safe automatic resend.
		w.log.Error("delivery sent but success state could not be persisted",
			zap.String("userID", u.ID),
			zap.Int("sendYear", sendYear),
			zap.String("idempotencyKey", key),
			zap.String("providerMessageID", result.ProviderMessageID),
			zap.Error(err))
		return false
	}
	if updated == nil {
		w.log.Warn("delivery success already recorded for this send year",
			zap.String("userID", u.ID),
			zap.Int("sendYear", sendYear),
			zap.String("idempotencyKey", key),
			zap.String("providerMessageID", result.ProviderMessageID))
		return false
	}
	if result.IsIdempotentReplay {
		w.log.Info("delivery persisted from idempotent replay",
			zap.String("userID", u.ID),
			zap.Int("sendYear", sendYear),
			zap.String("idempotencyKey", key),
			zap.String("providerMessageID", result.ProviderMessageID))
	}
	return true
}

// handleDeliveryFailure converts a gateway error into persisted retry state,
// or gives up on the year once the attempt budget is spent.
func (w *Worker) handleDeliveryFailure(ctx context.Context, u *domain.User, sendYear int, nextBirthdayAt, sentAtUTC time.Time, key string, sendErr error) {
	attempt := u.DeliveryAttemptCount + 1
	exhausted := attempt >= w.opts.MaxDeliveryAttempts

	in := store.MarkDeliveryFailedInput{
		ID:                    u.ID,
		SendYear:              sendYear,
		LastDeliveryError:     sendErr.Error(),
		LastDeliveryAttemptAt: sentAtUTC,
	}
	if exhausted {
		// Give up on this year: reset the counter and wait for next year.
		in.DeliveryAttemptCount = 0
		in.NextDeliveryAttemptAt = nil
		in.NextBirthdayAt = nextBirthdayAt
	} else {
		retryAt := sentAtUTC.Add(w.opts.RetryDelay)
		in.DeliveryAttemptCount = attempt
		in.NextDeliveryAttemptAt = &retryAt
		in.NextBirthdayAt = u.NextBirthdayAt
	}

	updated, err := w.dir.MarkDeliveryFailed(ctx, in)
	if err != nil {
		// Swallowed: the next tick re-derives from unchanged persisted state.
		w.log.Error("delivery failed and retry state could not be persisted",
			zap.String("userID", u.ID),
			zap.Int("sendYear", sendYear),
			zap.String("idempotencyKey", key),
			zap.Error(err))
		return
	}
	if updated == nil {
		w.log.Warn("delivery failure state not persisted; send already recorded for this year",
			zap.String("userID", u.ID),
			zap.Int("sendYear", sendYear),
			zap.String("idempotencyKey", key))
		return
	}

	if exhausted {
		w.log.Error("delivery failed and exhausted retries; rescheduled for next year",
			zap.String("userID", u.ID),
			zap.Int("sendYear", sendYear),
			zap.Int("maxAttempts", w.opts.MaxDeliveryAttempts),
			zap.String("idempotencyKey", key),
			zap.Error(sendErr))
		return
	}
	w.log.Error("delivery failed; retry scheduled",
		zap.String("userID", u.ID),
		zap.Int("sendYear", sendYear),
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", w.opts.MaxDeliveryAttempts),
		zap.Timep("nextAttemptAt", in.NextDeliveryAttemptAt),
		zap.String("idempotencyKey", key),
		zap.Error(sendErr))
}
