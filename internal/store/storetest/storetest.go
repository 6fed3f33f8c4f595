// Package storetest is the shared conformance suite every store backend
// must pass. The in-memory backend runs it in CI; the durable backends run
// it behind the integration build tag.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against a backend.
func Run(t *testing.T, factory Factory) {
	t.Run("UpsertAndFindUser", func(t *testing.T) { testUpsertAndFindUser(t, factory(t)) })
	t.Run("UpsertPreservesID", func(t *testing.T) { testUpsertPreservesID(t, factory(t)) })
	t.Run("SetRole", func(t *testing.T) { testSetRole(t, factory(t)) })
	t.Run("EnqueueIdempotent", func(t *testing.T) { testEnqueueIdempotent(t, factory(t)) })
	t.Run("ClaimOldestFirst", func(t *testing.T) { testClaimOldestFirst(t, factory(t)) })
	t.Run("ClaimExactlyOnce", func(t *testing.T) { testClaimExactlyOnce(t, factory(t)) })
	t.Run("ClaimSkipsTerminal", func(t *testing.T) { testClaimSkipsTerminal(t, factory(t)) })
	t.Run("OutcomeCompleted", func(t *testing.T) { testOutcomeCompleted(t, factory(t)) })
	t.Run("OutcomeFailed", func(t *testing.T) { testOutcomeFailed(t, factory(t)) })
	t.Run("OutcomeRedelivered", func(t *testing.T) { testOutcomeRedelivered(t, factory(t)) })
	t.Run("QuotaAccumulates", func(t *testing.T) { testQuotaAccumulates(t, factory(t)) })
	t.Run("DailySummary", func(t *testing.T) { testDailySummary(t, factory(t)) })
	t.Run("FailureLogAppendOnly", func(t *testing.T) { testFailureLog(t, factory(t)) })
	t.Run("ConfigLastWriteWins", func(t *testing.T) { testConfigLastWriteWins(t, factory(t)) })
}

// RunReclaim exercises the visibility-timeout reclaim path. factory must
// return a store built with the given visibility; keep it to tens of
// milliseconds so the window elapses within the test.
func RunReclaim(t *testing.T, visibility time.Duration, factory Factory) {
	t.Run("ReclaimClaimed", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		user := seedUser(t, s, model.ChannelWeb, "alice")
		req := enqueue(t, s, user, 10, time.Now().UTC())

		first, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)
		require.Equal(t, req.ID, first.ID)

		// invisible inside the window
		hidden, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.Nil(t, hidden)

		time.Sleep(visibility + visibility/2)

		reclaimed, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, reclaimed)
		require.Equal(t, req.ID, reclaimed.ID)
		require.Equal(t, 2, reclaimed.Attempt)
	})

	t.Run("ReclaimInlineMarked", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		user := seedUser(t, s, model.ChannelWeb, "alice")
		req := enqueue(t, s, user, 10, time.Now().UTC())

		// a caller that crashes after marking processing leaves the row
		// stamped; it must become claimable once the window elapses
		require.NoError(t, s.UpdateStatus(ctx, req.ID, model.StatusProcessing))

		hidden, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.Nil(t, hidden)

		time.Sleep(visibility + visibility/2)

		reclaimed, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, reclaimed)
		require.Equal(t, req.ID, reclaimed.ID)
		require.Equal(t, model.StatusProcessing, reclaimed.Status)
	})
}

func seedUser(t *testing.T, s store.Store, channel model.Channel, handle string) model.User {
	t.Helper()
	user := model.NewUser(channel, handle, "")
	require.NoError(t, s.UpsertUser(context.Background(), user))
	return user
}

func enqueue(t *testing.T, s store.Store, user model.User, amount int64, at time.Time) model.MintRequest {
	t.Helper()
	req := model.NewMintRequest(user.ID, user.Channel, amount)
	req.RequestedAt = at
	require.NoError(t, s.Enqueue(context.Background(), req))
	return req
}

func testUpsertAndFindUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := model.NewUser(model.ChannelWeb, "Alice@Example.ORG", "example.org")
	require.NoError(t, s.UpsertUser(ctx, user))

	// lookup is case-insensitive on handle
	found, err := s.FindUser(ctx, model.ChannelWeb, "ALICE@example.org")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, user.ID, found.ID)
	require.Equal(t, "alice@example.org", found.Handle)
	require.Equal(t, "example.org", found.Domain)

	// same handle on another channel is a different identity
	other, err := s.FindUser(ctx, model.ChannelTelegram, "alice@example.org")
	require.NoError(t, err)
	require.Nil(t, other)

	missing, err := s.FindUser(ctx, model.ChannelWeb, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func testUpsertPreservesID(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelDiscord, "carol#2044")

	update := user
	update.Role = model.RolePrivileged
	update.LastSeenAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.UpsertUser(ctx, update))

	found, err := s.FindUser(ctx, model.ChannelDiscord, "carol#2044")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, user.ID, found.ID)
	require.Equal(t, model.RolePrivileged, found.Role)
}

func testSetRole(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "bob@example.org")

	require.NoError(t, s.SetRole(ctx, user.ID, model.RoleAdmin))

	found, err := s.FindUser(ctx, model.ChannelWeb, "bob@example.org")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, model.RoleAdmin, found.Role)
}

func testEnqueueIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")
	req := enqueue(t, s, user, 10, time.Now().UTC())

	// a redelivered enqueue with the same id must not duplicate the row
	require.NoError(t, s.Enqueue(ctx, req))

	first, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, req.ID, first.ID)
	require.Equal(t, model.StatusProcessing, first.Status)
	require.NotNil(t, first.ProcessedAt)
	require.Equal(t, 1, first.Attempt)

	second, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, second)
}

func testClaimOldestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")

	base := time.Now().UTC().Add(-time.Hour)
	newer := enqueue(t, s, user, 5, base.Add(10*time.Minute))
	older := enqueue(t, s, user, 5, base)

	first, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, older.ID, first.ID)

	second, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, newer.ID, second.ID)
}

func testClaimExactlyOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelTelegram, "bob")

	const total = 20
	now := time.Now().UTC()
	for i := 0; i < total; i++ {
		enqueue(t, s, user, 1, now.Add(time.Duration(i)*time.Millisecond))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		errs    []error
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, err := s.ClaimNextPending(ctx)
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if req == nil {
					return
				}
				mu.Lock()
				claimed[req.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)

	require.Len(t, claimed, total)
	for id, n := range claimed {
		require.Equalf(t, 1, n, "request %s claimed %d times", id, n)
	}
}

func testClaimSkipsTerminal(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")

	done := enqueue(t, s, user, 3, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.UpdateStatus(ctx, done.ID, model.StatusFailed))

	open := enqueue(t, s, user, 4, time.Now().UTC())

	req, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, open.ID, req.ID)
}

func testOutcomeCompleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")
	day := model.Today()

	require.NoError(t, s.RecordMint(ctx, user.ID, day, 25))

	enqueue(t, s, user, 25, time.Now().UTC())
	req, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, req)

	now := time.Now().UTC()
	req.Status = model.StatusCompleted
	req.TxRef = "tx-abc"
	req.ProcessedAt = &now
	require.NoError(t, s.RecordOutcome(ctx, model.MintOutcome{Request: *req, TxRef: "tx-abc"}))

	// completed outcome bumps the day's success count
	quota, err := s.FetchQuota(ctx, user.ID, day)
	require.NoError(t, err)
	require.NotNil(t, quota)
	require.Equal(t, int64(25), quota.MintedTotal)
	require.Equal(t, int64(1), quota.SuccessCount)

	// a settled request is never claimable again
	next, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}

func testOutcomeFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelDiscord, "carol")
	day := model.Today()

	require.NoError(t, s.RecordMint(ctx, user.ID, day, 10))

	enqueue(t, s, user, 10, time.Now().UTC())
	req, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, req)

	now := time.Now().UTC()
	req.Status = model.StatusFailed
	req.Error = "rpc timeout"
	req.ProcessedAt = &now
	require.NoError(t, s.RecordOutcome(ctx, model.MintOutcome{Request: *req}))

	// failure never counts toward successes
	quota, err := s.FetchQuota(ctx, user.ID, day)
	require.NoError(t, err)
	require.NotNil(t, quota)
	require.Equal(t, int64(0), quota.SuccessCount)

	next, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}

func testOutcomeRedelivered(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")
	day := model.Today()

	require.NoError(t, s.RecordMint(ctx, user.ID, day, 25))

	enqueue(t, s, user, 25, time.Now().UTC())
	req, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, req)

	now := time.Now().UTC()
	req.Status = model.StatusCompleted
	req.TxRef = "tx-abc"
	req.ProcessedAt = &now
	outcome := model.MintOutcome{Request: *req, TxRef: "tx-abc"}
	require.NoError(t, s.RecordOutcome(ctx, outcome))

	// a redelivered outcome must not double count the success
	require.NoError(t, s.RecordOutcome(ctx, outcome))

	quota, err := s.FetchQuota(ctx, user.ID, day)
	require.NoError(t, err)
	require.NotNil(t, quota)
	require.Equal(t, int64(1), quota.SuccessCount)
}

func testQuotaAccumulates(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")
	day := model.Today()

	missing, err := s.FetchQuota(ctx, user.ID, day)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, s.RecordMint(ctx, user.ID, day, 30))
	require.NoError(t, s.RecordMint(ctx, user.ID, day, 12))

	quota, err := s.FetchQuota(ctx, user.ID, day)
	require.NoError(t, err)
	require.NotNil(t, quota)
	require.Equal(t, int64(42), quota.MintedTotal)

	// a different day is a separate ledger row
	otherDay := model.DayOf(time.Now().UTC().AddDate(0, 0, -1))
	require.NoError(t, s.RecordMint(ctx, user.ID, otherDay, 7))

	quota, err = s.FetchQuota(ctx, user.ID, day)
	require.NoError(t, err)
	require.Equal(t, int64(42), quota.MintedTotal)
}

func testDailySummary(t *testing.T, s store.Store) {
	ctx := context.Background()
	web := seedUser(t, s, model.ChannelWeb, "alice")
	tg := seedUser(t, s, model.ChannelTelegram, "bob")

	now := time.Now().UTC()
	day := model.DayOf(now)

	settle := func(req model.MintRequest, status model.MintStatus) {
		claimed, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, req.ID, claimed.ID)
		claimed.Status = status
		when := time.Now().UTC()
		claimed.ProcessedAt = &when
		if status == model.StatusCompleted {
			claimed.TxRef = "tx-" + claimed.ID
		} else {
			claimed.Error = "boom"
		}
		require.NoError(t, s.RecordOutcome(ctx, model.MintOutcome{Request: *claimed, TxRef: claimed.TxRef}))
	}

	// web: 20 completed, 15 completed, 10 failed
	settle(enqueue(t, s, web, 20, now), model.StatusCompleted)
	settle(enqueue(t, s, web, 15, now.Add(time.Millisecond)), model.StatusCompleted)
	settle(enqueue(t, s, web, 10, now.Add(2*time.Millisecond)), model.StatusFailed)
	// telegram: 5 completed
	settle(enqueue(t, s, tg, 5, now.Add(3*time.Millisecond)), model.StatusCompleted)

	rows, err := s.DailySummary(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byChannel := make(map[string]store.DailyReportRow, len(rows))
	for _, r := range rows {
		byChannel[r.Channel] = r
	}

	webRow := byChannel["web"]
	require.Equal(t, int64(45), webRow.TotalAmount)
	require.Equal(t, int64(2), webRow.SuccessCount)
	require.Equal(t, int64(1), webRow.FailureCount)

	tgRow := byChannel["telegram"]
	require.Equal(t, int64(5), tgRow.TotalAmount)
	require.Equal(t, int64(1), tgRow.SuccessCount)
	require.Equal(t, int64(0), tgRow.FailureCount)

	empty, err := s.DailySummary(ctx, model.DayOf(now.AddDate(0, 0, -2)))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testFailureLog(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := seedUser(t, s, model.ChannelWeb, "alice")
	req := enqueue(t, s, user, 10, time.Now().UTC())

	// duplicates are permitted; the log is append-only
	require.NoError(t, s.LogFailure(ctx, req.ID, time.Now().UTC(), "first attempt"))
	require.NoError(t, s.LogFailure(ctx, req.ID, time.Now().UTC(), "second attempt"))
}

func testConfigLastWriteWins(t *testing.T, s store.Store) {
	ctx := context.Background()

	missing, err := s.GetConfig(ctx, model.ConfigDefaultAmount)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, s.SetConfig(ctx, model.ConfigDefaultAmount, "100"))
	require.NoError(t, s.SetConfig(ctx, model.ConfigDefaultAmount, "250"))
	require.NoError(t, s.SetConfig(ctx, model.ConfigDefaultDailyCap, "1000"))

	got, err := s.GetConfig(ctx, model.ConfigDefaultAmount)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "250", got.Value)

	all, err := s.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
