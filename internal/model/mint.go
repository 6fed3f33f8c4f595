package model

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type MintStatus string

const (
	StatusPending    MintStatus = "pending"
	StatusProcessing MintStatus = "processing"
	StatusCompleted  MintStatus = "completed"
	StatusFailed     MintStatus = "failed"
)

func (s MintStatus) String() string { return string(s) }

func (s MintStatus) Valid() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusCompleted || s == StatusFailed
}

// Terminal reports whether no further transition is permitted.
func (s MintStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseMintStatus normalizes input. Returns (value, true) if valid;
// otherwise (pending, false).
func ParseMintStatus(s string) (MintStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "processing":
		return StatusProcessing, true
	case "completed":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	default:
		return StatusPending, false
	}
}

// MintRequest is the ledger entity driven through the
// pending -> processing -> {completed, failed} state machine.
// TxRef is set iff status=completed; Error is set iff status=failed;
// ProcessedAt is set iff the status is terminal (or the request is
// mid-claim in processing).
type MintRequest struct {
	ID          string     `db:"id"` // ULID, time-ordered
	UserID      uuid.UUID  `db:"user_id"`
	Channel     Channel    `db:"channel"`
	Amount      int64      `db:"amount"`
	Status      MintStatus `db:"status"`
	TxRef       string     `db:"tx_ref"` // empty = unset
	Error       string     `db:"error"`  // empty = unset
	RequestedAt time.Time  `db:"requested_at"`
	ProcessedAt *time.Time `db:"processed_at"`
	Attempt     int        `db:"attempt"`
}

// MintOutcome carries a terminal request back to callers and into
// RecordOutcome.
type MintOutcome struct {
	Request MintRequest
	TxRef   string // empty on failure
}

// MintFailure is an append-only audit row.
type MintFailure struct {
	RequestID string    `db:"request_id"`
	FailedAt  time.Time `db:"failed_at"`
	Reason    string    `db:"reason"`
}

// NewMintRequest builds a pending request with a fresh ULID.
func NewMintRequest(userID uuid.UUID, channel Channel, amount int64) MintRequest {
	return MintRequest{
		ID:          NewID(),
		UserID:      userID,
		Channel:     channel,
		Amount:      amount,
		Status:      StatusPending,
		RequestedAt: time.Now().UTC(),
	}
}

// NewID generates a new ULID string.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
