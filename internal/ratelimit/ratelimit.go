// Package ratelimit decides whether a requested amount is admissible for a
// user's role and records the debit against the quota ledger.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
)

var (
	ErrAmountExceedsRoleLimit = errors.New("amount exceeds role limit")
	ErrDailyCapReached        = errors.New("daily cap reached")
)

type counterKey struct {
	userID uuid.UUID
	day    string
}

// Limiter holds the configured role limits plus a process-scoped counter
// map. The counter is a fast-reject optimization covering the current
// process's lifetime only; the durable quota ledger stays authoritative
// across restarts and multiple processes.
type Limiter struct {
	quotas store.Quotas
	limits config.LimitConfig

	mu      sync.Mutex
	counter map[counterKey]int64
}

func New(quotas store.Quotas, limits config.LimitConfig) *Limiter {
	return &Limiter{
		quotas:  quotas,
		limits:  limits,
		counter: make(map[counterKey]int64),
	}
}

// MaxAmount is the per-request ceiling for a role.
func (l *Limiter) MaxAmount(role model.Role) int64 {
	switch role {
	case model.RoleAdmin, model.RolePrivileged:
		return l.limits.PrivilegedAmount
	default:
		return l.limits.DefaultAmount
	}
}

// DailyCap returns (cap, true) when the role has a configured daily cap;
// privileged_daily_cap = 0 leaves privileged and admin uncapped.
func (l *Limiter) DailyCap(role model.Role) (int64, bool) {
	switch role {
	case model.RoleAdmin, model.RolePrivileged:
		if l.limits.PrivilegedDailyCap > 0 {
			return l.limits.PrivilegedDailyCap, true
		}
		return 0, false
	default:
		return l.limits.DefaultDailyCap, true
	}
}

// CheckAndRecord authorizes the amount and records the debit. On rejection
// no durable or in-process state changes; on success exactly one durable
// debit is written via RecordMint.
func (l *Limiter) CheckAndRecord(ctx context.Context, user model.User, amount int64) error {
	today := model.Today()

	if amount > l.MaxAmount(user.Role) {
		return ErrAmountExceedsRoleLimit
	}

	if limit, ok := l.DailyCap(user.Role); ok {
		key := counterKey{userID: user.ID, day: today}

		l.mu.Lock()
		if l.counter[key]+amount > limit {
			l.mu.Unlock()
			return ErrDailyCapReached
		}
		l.counter[key] += amount
		l.mu.Unlock()

		if err := l.quotas.RecordMint(ctx, user.ID, today, amount); err != nil {
			// release the reservation so a retry is not double counted
			l.mu.Lock()
			l.counter[key] -= amount
			l.mu.Unlock()
			return fmt.Errorf("record mint: %w", err)
		}
		return nil
	}

	if err := l.quotas.RecordMint(ctx, user.ID, today, amount); err != nil {
		return fmt.Errorf("record mint: %w", err)
	}
	return nil
}
