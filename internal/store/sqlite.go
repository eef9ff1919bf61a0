package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bigfood2010/birthday-reminder-service/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const userColumns = `id, name, email, phone, birthday, timezone,
	next_birthday_at, last_sent_at, last_sent_year, last_provider_message_id,
	delivery_attempt_count, next_delivery_attempt_at, last_delivery_error,
	last_delivery_attempt_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u            domain.User
		nextBirthday int64
		lastSentNS   sql.NullInt64
		lastYearNS   sql.NullInt64
		providerNS   sql.NullString
		nextAttempt  sql.NullInt64
		lastErrorNS  sql.NullString
		lastAttempt  sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)

	if err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.Birthday, &u.Timezone,
		&nextBirthday, &lastSentNS, &lastYearNS, &providerNS,
		&u.DeliveryAttemptCount, &nextAttempt, &lastErrorNS,
		&lastAttempt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	u.NextBirthdayAt = fromMilli(nextBirthday)
	u.LastSentAt = fromNullMilli(lastSentNS)
	u.LastSentYear = fromNullInt(lastYearNS)
	u.LastProviderMessageID = fromNullString(providerNS)
	u.NextDeliveryAttemptAt = fromNullMilli(nextAttempt)
	u.LastDeliveryError = fromNullString(lastErrorNS)
	u.LastDeliveryAttemptAt = fromNullMilli(lastAttempt)
	u.CreatedAt = fromMilli(createdAt)
	u.UpdatedAt = fromMilli(updatedAt)
	return &u, nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint error.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// CreateUser inserts a new user record. CreatedAt/UpdatedAt are set here.
func (r *SQLiteRepo) CreateUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, email, phone, birthday, timezone,
			next_birthday_at, last_sent_at, last_sent_year, last_provider_message_id,
			delivery_attempt_count, next_delivery_attempt_at, last_delivery_error,
			last_delivery_attempt_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Phone, u.Birthday, u.Timezone,
		toMilli(u.NextBirthdayAt), toNullMilli(u.LastSentAt), toNullInt(u.LastSentYear),
		toNullString(u.LastProviderMessageID), u.DeliveryAttemptCount,
		toNullMilli(u.NextDeliveryAttemptAt), toNullString(u.LastDeliveryError),
		toNullMilli(u.LastDeliveryAttemptAt), toMilli(u.CreatedAt), toMilli(u.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

// GetUser returns a user by id or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUser applies a partial update and returns the updated record.
func (r *SQLiteRepo) UpdateUser(ctx context.Context, id string, patch UserPatch) (*domain.User, error) {
	if patch.IsEmpty() {
		return r.GetUser(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.Phone != nil {
		set("phone", *patch.Phone)
	}
	if patch.Birthday != nil {
		set("birthday", *patch.Birthday)
	}
	if patch.Timezone != nil {
		set("timezone", *patch.Timezone)
	}
	if patch.NextBirthdayAt != nil {
		set("next_birthday_at", toMilli(*patch.NextBirthdayAt))
	}
	if patch.ResetDeliveryState {
		sets = append(sets,
			"last_sent_at = NULL",
			"last_sent_year = NULL",
			"last_provider_message_id = NULL",
			"delivery_attempt_count = 0",
			"next_delivery_attempt_at = NULL",
			"last_delivery_error = NULL",
			"last_delivery_attempt_at = NULL",
		)
	}
	set("updated_at", toMilli(time.Now()))
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetUser(ctx, id)
}

// DeleteUser removes a user by id or returns ErrNotFound.
func (r *SQLiteRepo) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDue returns up to `limit` users whose scheduled send has passed and
// whose retry backoff, if any, has expired. Results are ordered by
// next_birthday_at ascending so the longest-overdue users go first.
func (r *SQLiteRepo) FindDue(ctx context.Context, nowUTC time.Time, limit int) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE next_birthday_at <= ?
		  AND (next_delivery_attempt_at IS NULL OR next_delivery_attempt_at <= ?)
		ORDER BY next_birthday_at ASC
		LIMIT ?`,
		toMilli(nowUTC), toMilli(nowUTC), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// MarkProcessed records a successful delivery for the given send year and
// advances the schedule. The update is conditional on last_sent_year not
// already holding that year; a guard miss returns (nil, nil).
func (r *SQLiteRepo) MarkProcessed(ctx context.Context, in MarkProcessedInput) (*domain.User, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			last_sent_year = ?,
			last_sent_at = ?,
			next_birthday_at = ?,
			last_provider_message_id = ?,
			delivery_attempt_count = 0,
			next_delivery_attempt_at = NULL,
			last_delivery_error = NULL,
			last_delivery_attempt_at = NULL,
			updated_at = ?
		WHERE id = ?
		  AND (last_sent_year IS NULL OR last_sent_year != ?)`,
		in.SendYear, toMilli(in.SentAt), toMilli(in.NextBirthdayAt),
		in.ProviderMessageID, toMilli(time.Now()),
		in.ID, in.SendYear,
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return r.GetUser(ctx, in.ID)
}

// MarkDeliveryFailed records a failed attempt (retry scheduled or exhausted).
// Guarded the same way as MarkProcessed so a failure writer can never clobber
// a success another worker recorded for the same year.
func (r *SQLiteRepo) MarkDeliveryFailed(ctx context.Context, in MarkDeliveryFailedInput) (*domain.User, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			delivery_attempt_count = ?,
			next_delivery_attempt_at = ?,
			next_birthday_at = ?,
			last_delivery_error = ?,
			last_delivery_attempt_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND (last_sent_year IS NULL OR last_sent_year != ?)`,
		in.DeliveryAttemptCount, toNullMilli(in.NextDeliveryAttemptAt),
		toMilli(in.NextBirthdayAt), in.LastDeliveryError,
		toMilli(in.LastDeliveryAttemptAt), toMilli(time.Now()),
		in.ID, in.SendYear,
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return r.GetUser(ctx, in.ID)
}
