// Package service composes identity resolution, the rate-limit engine and
// the request pipeline into the operations exposed to front ends.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/pipeline"
	"github.com/faucetgw/faucetgw/internal/ratelimit"
	"github.com/faucetgw/faucetgw/internal/store"
	"github.com/faucetgw/faucetgw/internal/transfer"
)

var (
	ErrForbidden     = errors.New("only admins may change roles")
	ErrInvalidAmount = errors.New("amount must be greater than zero")
)

// Identity is the externally-asserted (channel, handle, domain) tuple
// presented by an auth collaborator.
type Identity struct {
	Channel model.Channel
	Handle  string
	Domain  string
}

type Faucet struct {
	store             store.Store
	limiter           *ratelimit.Limiter
	exec              *pipeline.Executor
	limits            config.LimitConfig
	privilegedDomains map[string]struct{}
}

// New builds the faucet service. Limit overrides stored in system_config
// are applied over the static configuration before the limiter is built.
func New(ctx context.Context, st store.Store, client transfer.Client, limits config.LimitConfig, auth config.AuthConfig) (*Faucet, error) {
	merged, err := LoadLimitOverrides(ctx, st, limits)
	if err != nil {
		return nil, fmt.Errorf("load limit overrides: %w", err)
	}

	domains := make(map[string]struct{}, len(auth.PrivilegedDomains))
	for _, d := range auth.PrivilegedDomains {
		domains[strings.ToLower(d)] = struct{}{}
	}

	return &Faucet{
		store:             st,
		limiter:           ratelimit.New(st, merged),
		exec:              pipeline.NewExecutor(st, st, client),
		limits:            merged,
		privilegedDomains: domains,
	}, nil
}

// Limits returns the effective limit configuration.
func (f *Faucet) Limits() config.LimitConfig { return f.limits }

// MaxAmount is the per-request ceiling for a role.
func (f *Faucet) MaxAmount(role model.Role) int64 { return f.limiter.MaxAmount(role) }

// Executor exposes the pipeline for decoupled-mode wiring.
func (f *Faucet) Executor() *pipeline.Executor { return f.exec }

// determineRole re-derives a user's role. Admin is sticky and never
// downgraded automatically; a privileged domain upgrades to privileged;
// otherwise the existing role is preserved, defaulting to user.
func (f *Faucet) determineRole(existing model.Role, hasExisting bool, domain string) model.Role {
	if hasExisting && existing == model.RoleAdmin {
		return model.RoleAdmin
	}
	if domain != "" {
		if _, ok := f.privilegedDomains[strings.ToLower(domain)]; ok {
			return model.RolePrivileged
		}
	}
	if hasExisting {
		return existing
	}
	return model.RoleUser
}

// TouchIdentity loads or creates the user for an identity, re-derives the
// role, refreshes last_seen_at and persists on every call.
func (f *Faucet) TouchIdentity(ctx context.Context, identity Identity) (model.User, error) {
	existing, err := f.store.FindUser(ctx, identity.Channel, identity.Handle)
	if err != nil {
		return model.User{}, fmt.Errorf("find user: %w", err)
	}

	var user model.User
	if existing != nil {
		user = *existing
		user.Role = f.determineRole(existing.Role, true, identity.Domain)
		user.Domain = identity.Domain
	} else {
		user = model.NewUser(identity.Channel, identity.Handle, identity.Domain)
		user.Role = f.determineRole("", false, identity.Domain)
	}
	user.LastSeenAt = time.Now().UTC()

	if err := f.store.UpsertUser(ctx, user); err != nil {
		return model.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// SetRole applies a role to the target user, creating it if absent. Only
// admins may call this.
func (f *Faucet) SetRole(ctx context.Context, actor model.User, targetChannel model.Channel, targetHandle string, role model.Role) (model.User, error) {
	if actor.Role != model.RoleAdmin {
		return model.User{}, ErrForbidden
	}

	existing, err := f.store.FindUser(ctx, targetChannel, targetHandle)
	if err != nil {
		return model.User{}, fmt.Errorf("find user: %w", err)
	}

	var user model.User
	if existing != nil {
		user = *existing
	} else {
		user = model.NewUser(targetChannel, targetHandle, "")
	}
	user.Role = role
	user.LastSeenAt = time.Now().UTC()

	if err := f.store.UpsertUser(ctx, user); err != nil {
		return model.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// Mint authorizes and debits the amount, then drives a request through the
// inline pipeline. Rejections mutate no state; transfer errors are durably
// recorded before they propagate.
func (f *Faucet) Mint(ctx context.Context, user model.User, amount int64) (model.MintOutcome, error) {
	if amount <= 0 {
		return model.MintOutcome{}, ErrInvalidAmount
	}

	if err := f.limiter.CheckAndRecord(ctx, user, amount); err != nil {
		return model.MintOutcome{}, err
	}

	req := model.NewMintRequest(user.ID, user.Channel, amount)
	outcome, err := f.exec.RunInline(ctx, req)
	if err != nil {
		return outcome, err
	}
	if logger.Log != nil {
		logger.Log.Info("mint_success",
			zap.String("user", user.Handle),
			zap.String("tx_ref", outcome.TxRef),
		)
	}
	return outcome, nil
}

// Submit is the decoupled counterpart of Mint: it authorizes and debits,
// then hands the pending request to the queue for workers to finish.
func (f *Faucet) Submit(ctx context.Context, queue *pipeline.Queue, user model.User, amount int64) (model.MintRequest, error) {
	if amount <= 0 {
		return model.MintRequest{}, ErrInvalidAmount
	}

	if err := f.limiter.CheckAndRecord(ctx, user, amount); err != nil {
		return model.MintRequest{}, err
	}

	req := model.NewMintRequest(user.ID, user.Channel, amount)
	if err := queue.Submit(ctx, req); err != nil {
		return model.MintRequest{}, err
	}
	return req, nil
}

// QuotaSnapshot reports today's durable debit total against the role's cap.
type QuotaSnapshot struct {
	MintedToday int64
	Cap         int64
	Capped      bool
	Remaining   int64 // meaningful only when Capped
}

func (f *Faucet) QuotaSnapshot(ctx context.Context, user model.User) (QuotaSnapshot, error) {
	quota, err := f.store.FetchQuota(ctx, user.ID, model.Today())
	if err != nil {
		return QuotaSnapshot{}, fmt.Errorf("fetch quota: %w", err)
	}

	var minted int64
	if quota != nil {
		minted = quota.MintedTotal
	}

	snap := QuotaSnapshot{MintedToday: minted}
	if limit, ok := f.limiter.DailyCap(user.Role); ok {
		snap.Cap = limit
		snap.Capped = true
		if remaining := limit - minted; remaining > 0 {
			snap.Remaining = remaining
		}
	}
	return snap, nil
}

func (f *Faucet) FindUser(ctx context.Context, channel model.Channel, handle string) (*model.User, error) {
	return f.store.FindUser(ctx, channel, handle)
}

// DailySummary passes reporting through for the report renderer.
func (f *Faucet) DailySummary(ctx context.Context, day string) ([]store.DailyReportRow, error) {
	return f.store.DailySummary(ctx, day)
}

// UpdateLimits persists limit overrides to the config store; they take
// effect for processes started afterwards.
func (f *Faucet) UpdateLimits(ctx context.Context, actor model.User, overrides map[string]int64) error {
	if actor.Role != model.RoleAdmin {
		return ErrForbidden
	}
	for key, value := range overrides {
		switch key {
		case model.ConfigDefaultAmount, model.ConfigDefaultDailyCap,
			model.ConfigPrivilegedAmount, model.ConfigPrivilegedDailyCap:
		default:
			return fmt.Errorf("unknown limit key: %s", key)
		}
		if err := f.store.SetConfig(ctx, key, strconv.FormatInt(value, 10)); err != nil {
			return fmt.Errorf("set config %s: %w", key, err)
		}
	}
	return nil
}

// LoadLimitOverrides merges system_config limit overrides over the static
// configuration. Unparsable values are ignored.
func LoadLimitOverrides(ctx context.Context, configs store.Configs, limits config.LimitConfig) (config.LimitConfig, error) {
	apply := func(key string, dst *int64) error {
		c, err := configs.GetConfig(ctx, key)
		if err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		if v, err := strconv.ParseInt(c.Value, 10, 64); err == nil {
			*dst = v
		}
		return nil
	}

	if err := apply(model.ConfigDefaultAmount, &limits.DefaultAmount); err != nil {
		return limits, err
	}
	if err := apply(model.ConfigDefaultDailyCap, &limits.DefaultDailyCap); err != nil {
		return limits, err
	}
	if err := apply(model.ConfigPrivilegedAmount, &limits.PrivilegedAmount); err != nil {
		return limits, err
	}
	if err := apply(model.ConfigPrivilegedDailyCap, &limits.PrivilegedDailyCap); err != nil {
		return limits, err
	}
	return limits, nil
}
