// Package store defines the capability interfaces the faucet persists
// through. A backend may implement a subset; the composite Store is what
// the service layer and the pipeline are wired with.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/faucetgw/faucetgw/internal/model"
)

// ErrUnavailable marks connectivity loss to a backend. Callers must not
// assume partial writes: every operation below is atomic at the storage
// layer.
var ErrUnavailable = errors.New("storage unavailable")

// Users is the identity capability. UpsertUser is idempotent on
// (channel, handle); concurrent upserts for the same key resolve
// last-writer-wins by completion order.
type Users interface {
	UpsertUser(ctx context.Context, user model.User) error
	FindUser(ctx context.Context, channel model.Channel, handle string) (*model.User, error)
	SetRole(ctx context.Context, userID uuid.UUID, role model.Role) error
}

// MintLedger is the request ledger capability.
//
// ClaimNextPending atomically selects the oldest claimable request
// (pending, or processing past the backend's visibility timeout),
// transitions it to processing, stamps processed_at, increments attempt and
// returns it. No two concurrent callers ever receive the same request.
// It returns (nil, nil) when nothing is claimable.
type MintLedger interface {
	// Enqueue is idempotent by request id.
	Enqueue(ctx context.Context, req model.MintRequest) error
	ClaimNextPending(ctx context.Context) (*model.MintRequest, error)
	UpdateStatus(ctx context.Context, requestID string, status model.MintStatus) error
	// RecordOutcome overwrites status, tx_ref, error, processed_at and
	// attempt in one atomic write, and bumps the day's quota
	// success_count for completed requests. Redelivered calls for a row
	// that is already terminal are no-ops, so the bump happens at most
	// once per request. The request write and the quota bump are
	// separate atomic writes; a crash between them can undercount
	// successes for the day.
	RecordOutcome(ctx context.Context, outcome model.MintOutcome) error
}

// Quotas is the per-user per-day debit ledger.
type Quotas interface {
	// RecordMint atomically increments minted_total, creating the row on
	// first use for the day.
	RecordMint(ctx context.Context, userID uuid.UUID, day string, amount int64) error
	FetchQuota(ctx context.Context, userID uuid.UUID, day string) (*model.Quota, error)
}

// DailyReportRow aggregates one channel's requests for a calendar day.
type DailyReportRow struct {
	Channel      string `db:"channel"`
	TotalAmount  int64  `db:"total_amount"`
	SuccessCount int64  `db:"success_count"`
	FailureCount int64  `db:"failure_count"`
}

// Reporting aggregates over requests whose requested_at falls within
// [day 00:00, day+1 00:00) UTC.
type Reporting interface {
	DailySummary(ctx context.Context, day string) ([]DailyReportRow, error)
	// LogFailure is an append-only insert.
	LogFailure(ctx context.Context, requestID string, when time.Time, reason string) error
}

// Configs is the optional runtime-override store. Last write wins per key.
type Configs interface {
	GetConfig(ctx context.Context, key string) (*model.SystemConfig, error)
	SetConfig(ctx context.Context, key, value string) error
	ListConfigs(ctx context.Context) ([]model.SystemConfig, error)
}

// Store is the full capability set, implemented by every backend.
type Store interface {
	Users
	MintLedger
	Quotas
	Reporting
	Configs

	Close(ctx context.Context) error
}
