// Package postgres is the durable relational backend. Claim exclusivity is
// implemented with a row-level lock and SKIP LOCKED so concurrent workers
// never select the same request.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
)

type Store struct {
	db         *sqlx.DB
	visibility time.Duration
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection. visibility bounds how long a processing
// request stays invisible to ClaimNextPending; zero disables reclaim.
func New(db *sqlx.DB, visibility time.Duration) *Store {
	return &Store{db: db, visibility: visibility}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			channel TEXT NOT NULL,
			handle TEXT NOT NULL,
			role TEXT NOT NULL,
			domain TEXT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			UNIQUE (channel, handle)
		)`,
		`CREATE TABLE IF NOT EXISTS mint_requests (
			id TEXT PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			channel TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			tx_ref TEXT NULL,
			error TEXT NULL,
			requested_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ NULL,
			attempt INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS mint_requests_claim_idx
			ON mint_requests (status, requested_at)`,
		`CREATE TABLE IF NOT EXISTS quotas (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			day TEXT NOT NULL,
			minted_total BIGINT NOT NULL,
			success_count BIGINT NOT NULL,
			UNIQUE (user_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS mint_failures (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES mint_requests(id),
			failed_at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("ensure schema", err)
		}
	}
	return nil
}

// wrap tags connectivity failures with store.ErrUnavailable so callers can
// distinguish them from data errors.
func wrap(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) UpsertUser(ctx context.Context, user model.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, channel, handle, role, domain, last_seen_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (channel, handle) DO UPDATE SET
			role = EXCLUDED.role,
			domain = EXCLUDED.domain,
			last_seen_at = EXCLUDED.last_seen_at
	`, user.ID, user.Channel.String(), model.NormalizeHandle(user.Handle),
		user.Role.String(), user.Domain, user.LastSeenAt)
	if err != nil {
		return wrap("upsert user", err)
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, channel model.Channel, handle string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, channel, handle, role, COALESCE(domain, '') AS domain, last_seen_at
		  FROM users
		 WHERE channel = $1 AND handle = $2
		 LIMIT 1
	`, channel.String(), model.NormalizeHandle(handle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find user", err)
	}
	return &u, nil
}

func (s *Store) SetRole(ctx context.Context, userID uuid.UUID, role model.Role) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = $2 WHERE id = $1`, userID, role.String())
	if err != nil {
		return wrap("set role", err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, req model.MintRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mint_requests
			(id, user_id, channel, amount, status, tx_ref, error, requested_at, processed_at, attempt)
		VALUES
			($1, $2, $3, $4, 'pending', NULL, NULL, $5, NULL, 0)
		ON CONFLICT (id) DO NOTHING
	`, req.ID, req.UserID, req.Channel.String(), req.Amount, req.RequestedAt)
	if err != nil {
		return wrap("enqueue", err)
	}
	return nil
}

const selectRequest = `
	SELECT id, user_id, channel, amount, status,
	       COALESCE(tx_ref, '') AS tx_ref,
	       COALESCE(error, '') AS error,
	       requested_at, processed_at, attempt
	  FROM mint_requests`

func (s *Store) ClaimNextPending(ctx context.Context) (*model.MintRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrap("claim begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A processing row whose claim stamp is older than the visibility
	// timeout belongs to a crashed worker and is claimable again.
	cutoff := time.Now().UTC()
	if s.visibility > 0 {
		cutoff = cutoff.Add(-s.visibility)
	}

	var req model.MintRequest
	err = tx.GetContext(ctx, &req, selectRequest+`
		 WHERE status = 'pending'
		    OR ($1 AND status = 'processing' AND processed_at < $2)
		 ORDER BY requested_at ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1
	`, s.visibility > 0, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("claim select", err)
	}

	now := time.Now().UTC()
	req.Status = model.StatusProcessing
	req.ProcessedAt = &now
	req.Attempt++

	_, err = tx.ExecContext(ctx, `
		UPDATE mint_requests
		   SET status = $2, processed_at = $3, attempt = $4
		 WHERE id = $1
	`, req.ID, req.Status.String(), req.ProcessedAt, req.Attempt)
	if err != nil {
		return nil, wrap("claim update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("claim commit", err)
	}
	return &req, nil
}

func (s *Store) UpdateStatus(ctx context.Context, requestID string, status model.MintStatus) error {
	// the processing stamp doubles as the claim stamp, so a row marked
	// processing inline is reclaimable after the visibility timeout
	var processedAt *time.Time
	if status == model.StatusProcessing || status.Terminal() {
		now := time.Now().UTC()
		processedAt = &now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE mint_requests
		   SET status = $2,
		       processed_at = COALESCE($3, processed_at)
		 WHERE id = $1
	`, requestID, status.String(), processedAt)
	if err != nil {
		return wrap("update status", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, outcome model.MintOutcome) error {
	req := outcome.Request
	// the status guard makes a redelivered outcome a no-op: the quota
	// bump below happens at most once per request
	res, err := s.db.ExecContext(ctx, `
		UPDATE mint_requests
		   SET status = $2,
		       tx_ref = NULLIF($3, ''),
		       error = NULLIF($4, ''),
		       processed_at = $5,
		       attempt = $6
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, req.ID, req.Status.String(), outcome.TxRef, req.Error, req.ProcessedAt, req.Attempt)
	if err != nil {
		return wrap("record outcome", err)
	}

	if req.Status == model.StatusCompleted {
		n, err := res.RowsAffected()
		if err != nil {
			return wrap("record outcome", err)
		}
		if n == 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE quotas
			   SET success_count = success_count + 1
			 WHERE user_id = $1 AND day = $2
		`, req.UserID, model.DayOf(req.RequestedAt))
		if err != nil {
			return wrap("record outcome quota", err)
		}
	}
	return nil
}

func (s *Store) RecordMint(ctx context.Context, userID uuid.UUID, day string, amount int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotas (id, user_id, day, minted_total, success_count)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (user_id, day) DO UPDATE SET
			minted_total = quotas.minted_total + EXCLUDED.minted_total
	`, uuid.New(), userID, day, amount)
	if err != nil {
		return wrap("record mint", err)
	}
	return nil
}

func (s *Store) FetchQuota(ctx context.Context, userID uuid.UUID, day string) (*model.Quota, error) {
	var q model.Quota
	err := s.db.GetContext(ctx, &q, `
		SELECT id, user_id, day, minted_total, success_count
		  FROM quotas
		 WHERE user_id = $1 AND day = $2
	`, userID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("fetch quota", err)
	}
	return &q, nil
}

func (s *Store) DailySummary(ctx context.Context, day string) ([]store.DailyReportRow, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("daily summary: invalid day %q: %w", day, err)
	}
	end := start.Add(24 * time.Hour)

	var rows []store.DailyReportRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT channel,
		       COALESCE(SUM(amount), 0) AS total_amount,
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS success_count,
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failure_count
		  FROM mint_requests
		 WHERE requested_at >= $1 AND requested_at < $2
		 GROUP BY channel
		 ORDER BY channel
	`, start, end)
	if err != nil {
		return nil, wrap("daily summary", err)
	}
	return rows, nil
}

func (s *Store) LogFailure(ctx context.Context, requestID string, when time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mint_failures (request_id, failed_at, reason)
		VALUES ($1, $2, $3)
	`, requestID, when, reason)
	if err != nil {
		return wrap("log failure", err)
	}
	return nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (*model.SystemConfig, error) {
	var c model.SystemConfig
	err := s.db.GetContext(ctx, &c, `
		SELECT key, value, updated_at FROM system_config WHERE key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get config", err)
	}
	return &c, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return wrap("set config", err)
	}
	return nil
}

func (s *Store) ListConfigs(ctx context.Context) ([]model.SystemConfig, error) {
	var out []model.SystemConfig
	err := s.db.SelectContext(ctx, &out, `
		SELECT key, value, updated_at FROM system_config ORDER BY key
	`)
	if err != nil {
		return nil, wrap("list configs", err)
	}
	return out, nil
}

func (s *Store) Close(context.Context) error { return s.db.Close() }
