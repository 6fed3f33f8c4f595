package model

import (
	"time"

	"github.com/google/uuid"
)

// Quota accumulates per-user per-day debits. MintedTotal is monotonic
// non-decreasing; rows are created lazily and never deleted.
type Quota struct {
	ID           uuid.UUID `db:"id"`
	UserID       uuid.UUID `db:"user_id"`
	Day          string    `db:"day"` // YYYY-MM-DD, UTC
	MintedTotal  int64     `db:"minted_total"`
	SuccessCount int64     `db:"success_count"`
}

// DayOf formats t as the UTC calendar day quotas are keyed by.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Today is the current UTC quota day.
func Today() string {
	return DayOf(time.Now())
}
