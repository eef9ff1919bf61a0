package store

import (
	"database/sql"
	"time"
)

// Timestamps are stored as unix milliseconds: the worker advances schedules
// by a single millisecond, so second precision would alias distinct instants.

func toMilli(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMilli(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMilli(*t), Valid: true}
}

func fromNullMilli(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromMilli(ns.Int64)
	return &t
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func toNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func fromNullInt(ns sql.NullInt64) *int {
	if !ns.Valid {
		return nil
	}
	i := int(ns.Int64)
	return &i
}
