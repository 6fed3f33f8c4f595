// Package memory is the in-process store backend. It is used in tests and
// for development without a database; it preserves the same consistency
// contract as the durable backends (claim-exactly-once via a single mutex).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
)

type userKey struct {
	channel string
	handle  string
}

type quotaKey struct {
	userID uuid.UUID
	day    string
}

type Store struct {
	mu         sync.Mutex
	users      map[userKey]model.User
	mints      map[string]model.MintRequest
	quotas     map[quotaKey]model.Quota
	configs    map[string]model.SystemConfig
	failures   []model.MintFailure
	visibility time.Duration
}

var _ store.Store = (*Store)(nil)

// New builds an empty store. visibility bounds how long a processing
// request stays invisible to ClaimNextPending before it is reclaimed;
// zero disables reclaim.
func New(visibility time.Duration) *Store {
	return &Store{
		users:      make(map[userKey]model.User),
		mints:      make(map[string]model.MintRequest),
		quotas:     make(map[quotaKey]model.Quota),
		configs:    make(map[string]model.SystemConfig),
		visibility: visibility,
	}
}

func key(channel model.Channel, handle string) userKey {
	return userKey{channel: channel.String(), handle: model.NormalizeHandle(handle)}
}

func (s *Store) UpsertUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Handle = model.NormalizeHandle(user.Handle)
	s.users[key(user.Channel, user.Handle)] = user
	return nil
}

func (s *Store) FindUser(_ context.Context, channel model.Channel, handle string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key(channel, handle)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) SetRole(_ context.Context, userID uuid.UUID, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, u := range s.users {
		if u.ID == userID {
			u.Role = role
			s.users[k] = u
			break
		}
	}
	return nil
}

func (s *Store) Enqueue(_ context.Context, req model.MintRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mints[req.ID]; ok {
		return nil
	}
	req.Status = model.StatusPending
	s.mints[req.ID] = req
	return nil
}

// claimable: pending, or processing whose claim stamp is older than the
// visibility timeout (crashed worker reclaim).
func (s *Store) claimable(req model.MintRequest, now time.Time) bool {
	switch req.Status {
	case model.StatusPending:
		return true
	case model.StatusProcessing:
		return s.visibility > 0 && req.ProcessedAt != nil &&
			now.Sub(*req.ProcessedAt) > s.visibility
	default:
		return false
	}
}

func (s *Store) ClaimNextPending(_ context.Context) (*model.MintRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	ids := make([]string, 0, len(s.mints))
	for id, req := range s.mints {
		if s.claimable(req, now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.mints[ids[i]].RequestedAt.Before(s.mints[ids[j]].RequestedAt)
	})

	req := s.mints[ids[0]]
	req.Status = model.StatusProcessing
	req.ProcessedAt = &now
	req.Attempt++
	s.mints[req.ID] = req
	return &req, nil
}

func (s *Store) UpdateStatus(_ context.Context, requestID string, status model.MintStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.mints[requestID]
	if !ok {
		return nil
	}
	req.Status = status
	// the processing stamp doubles as the claim stamp, so a row marked
	// processing inline is reclaimable after the visibility timeout
	if status == model.StatusProcessing || status.Terminal() {
		now := time.Now().UTC()
		req.ProcessedAt = &now
	}
	s.mints[requestID] = req
	return nil
}

func (s *Store) RecordOutcome(_ context.Context, outcome model.MintOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := outcome.Request
	req.TxRef = outcome.TxRef

	// a redelivered outcome for a settled row is a no-op
	if prev, ok := s.mints[req.ID]; ok && prev.Status.Terminal() {
		return nil
	}
	s.mints[req.ID] = req

	if req.Status == model.StatusCompleted {
		k := quotaKey{userID: req.UserID, day: model.DayOf(req.RequestedAt)}
		q, ok := s.quotas[k]
		if !ok {
			q = model.Quota{ID: uuid.New(), UserID: req.UserID, Day: k.day}
		}
		q.SuccessCount++
		s.quotas[k] = q
	}
	return nil
}

func (s *Store) RecordMint(_ context.Context, userID uuid.UUID, day string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := quotaKey{userID: userID, day: day}
	q, ok := s.quotas[k]
	if !ok {
		q = model.Quota{ID: uuid.New(), UserID: userID, Day: day}
	}
	q.MintedTotal += amount
	s.quotas[k] = q
	return nil
}

func (s *Store) FetchQuota(_ context.Context, userID uuid.UUID, day string) (*model.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotas[quotaKey{userID: userID, day: day}]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (s *Store) DailySummary(_ context.Context, day string) ([]store.DailyReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[string]*store.DailyReportRow)
	for _, req := range s.mints {
		if model.DayOf(req.RequestedAt) != day {
			continue
		}
		row, ok := totals[req.Channel.String()]
		if !ok {
			row = &store.DailyReportRow{Channel: req.Channel.String()}
			totals[req.Channel.String()] = row
		}
		row.TotalAmount += req.Amount
		switch req.Status {
		case model.StatusCompleted:
			row.SuccessCount++
		case model.StatusFailed:
			row.FailureCount++
		}
	}

	rows := make([]store.DailyReportRow, 0, len(totals))
	for _, row := range totals {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Channel < rows[j].Channel })
	return rows, nil
}

func (s *Store) LogFailure(_ context.Context, requestID string, when time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, model.MintFailure{
		RequestID: requestID,
		FailedAt:  when,
		Reason:    reason,
	})
	return nil
}

// Failures returns a copy of the failure log, oldest first.
func (s *Store) Failures() []model.MintFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MintFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

// Request returns a copy of a ledger row for inspection in tests.
func (s *Store) Request(id string) (model.MintRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.mints[id]
	return req, ok
}

func (s *Store) GetConfig(_ context.Context, key string) (*model.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[key] = model.SystemConfig{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *Store) ListConfigs(_ context.Context) ([]model.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SystemConfig, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Close(context.Context) error { return nil }
