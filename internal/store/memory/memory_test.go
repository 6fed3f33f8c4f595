package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
	"github.com/faucetgw/faucetgw/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New(30 * time.Second)
	})
}

func TestReclaim(t *testing.T) {
	storetest.RunReclaim(t, 20*time.Millisecond, func(t *testing.T) store.Store {
		return New(20 * time.Millisecond)
	})
}

func TestVisibilityReclaim(t *testing.T) {
	ctx := context.Background()
	s := New(20 * time.Millisecond)

	user := model.NewUser(model.ChannelWeb, "alice", "")
	require.NoError(t, s.UpsertUser(ctx, user))

	req := model.NewMintRequest(user.ID, user.Channel, 10)
	require.NoError(t, s.Enqueue(ctx, req))

	first, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, 1, first.Attempt)

	// still invisible inside the timeout window
	hidden, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, hidden)

	time.Sleep(30 * time.Millisecond)

	reclaimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, req.ID, reclaimed.ID)
	require.Equal(t, 2, reclaimed.Attempt)
}

func TestNoReclaimWhenDisabled(t *testing.T) {
	ctx := context.Background()
	s := New(0)

	user := model.NewUser(model.ChannelWeb, "alice", "")
	require.NoError(t, s.UpsertUser(ctx, user))

	req := model.NewMintRequest(user.ID, user.Channel, 10)
	require.NoError(t, s.Enqueue(ctx, req))

	_, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	again, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestFailureLogReadBack(t *testing.T) {
	ctx := context.Background()
	s := New(0)

	when := time.Now().UTC()
	require.NoError(t, s.LogFailure(ctx, "01ABC", when, "timeout"))
	require.NoError(t, s.LogFailure(ctx, "01ABC", when.Add(time.Second), "timeout again"))

	failures := s.Failures()
	require.Len(t, failures, 2)
	require.Equal(t, "timeout", failures[0].Reason)
	require.Equal(t, "timeout again", failures[1].Reason)
}
