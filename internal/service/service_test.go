package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/ratelimit"
	"github.com/faucetgw/faucetgw/internal/store/memory"
	"github.com/faucetgw/faucetgw/internal/transfer"
)

var testLimits = config.LimitConfig{
	DefaultAmount:      100,
	DefaultDailyCap:    150,
	PrivilegedAmount:   1000,
	PrivilegedDailyCap: 0,
}

var testAuth = config.AuthConfig{
	PrivilegedDomains: []string{"Partner.example"},
}

func newFaucet(t *testing.T) (*Faucet, *memory.Store) {
	t.Helper()
	st := memory.New(0)
	faucet, err := New(context.Background(), st, transfer.LoggingClient{}, testLimits, testAuth)
	require.NoError(t, err)
	return faucet, st
}

func TestTouchIdentityCreatesUser(t *testing.T) {
	faucet, st := newFaucet(t)
	ctx := context.Background()

	user, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "Alice@Example.org", Domain: "example.org"})
	require.NoError(t, err)
	require.Equal(t, "alice@example.org", user.Handle)
	require.Equal(t, model.RoleUser, user.Role)

	stored, err := st.FindUser(ctx, model.ChannelWeb, "alice@example.org")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, user.ID, stored.ID)

	// a later touch keeps the id stable
	again, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "ALICE@example.org", Domain: "example.org"})
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)
}

func TestPrivilegedDomainUpgrade(t *testing.T) {
	faucet, _ := newFaucet(t)
	ctx := context.Background()

	// domain match is case-insensitive
	user, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "bob", Domain: "partner.EXAMPLE"})
	require.NoError(t, err)
	require.Equal(t, model.RolePrivileged, user.Role)

	// the upgrade persists once granted, even without the domain claim
	user, err = faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "bob"})
	require.NoError(t, err)
	require.Equal(t, model.RolePrivileged, user.Role)
}

func TestAdminRoleSticky(t *testing.T) {
	faucet, st := newFaucet(t)
	ctx := context.Background()

	user, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelTelegram, Handle: "root"})
	require.NoError(t, err)

	require.NoError(t, st.SetRole(ctx, user.ID, model.RoleAdmin))

	// not even a privileged-domain touch downgrades an admin
	touched, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelTelegram, Handle: "root", Domain: "partner.example"})
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, touched.Role)
}

func TestSetRoleRequiresAdmin(t *testing.T) {
	faucet, _ := newFaucet(t)
	ctx := context.Background()

	actor, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "alice"})
	require.NoError(t, err)

	_, err = faucet.SetRole(ctx, actor, model.ChannelWeb, "bob", model.RolePrivileged)
	require.ErrorIs(t, err, ErrForbidden)

	actor.Role = model.RoleAdmin
	granted, err := faucet.SetRole(ctx, actor, model.ChannelWeb, "bob", model.RolePrivileged)
	require.NoError(t, err)
	require.Equal(t, model.RolePrivileged, granted.Role)

	// target did not exist before: SetRole created it
	found, err := faucet.FindUser(ctx, model.ChannelWeb, "bob")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, granted.ID, found.ID)
}

func TestMintHappyPath(t *testing.T) {
	faucet, st := newFaucet(t)
	ctx := context.Background()

	user, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "alice"})
	require.NoError(t, err)

	outcome, err := faucet.Mint(ctx, user, 40)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, outcome.Request.Status)
	require.NotEmpty(t, outcome.TxRef)

	quota, err := st.FetchQuota(ctx, user.ID, model.Today())
	require.NoError(t, err)
	require.Equal(t, int64(40), quota.MintedTotal)
	require.Equal(t, int64(1), quota.SuccessCount)
}

func TestMintRejections(t *testing.T) {
	faucet, st := newFaucet(t)
	ctx := context.Background()

	user, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "alice"})
	require.NoError(t, err)

	_, err = faucet.Mint(ctx, user, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = faucet.Mint(ctx, user, -5)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = faucet.Mint(ctx, user, 101)
	require.ErrorIs(t, err, ratelimit.ErrAmountExceedsRoleLimit)

	// rejections never reach the ledger
	quota, err := st.FetchQuota(ctx, user.ID, model.Today())
	require.NoError(t, err)
	require.Nil(t, quota)
}

func TestQuotaSnapshot(t *testing.T) {
	faucet, _ := newFaucet(t)
	ctx := context.Background()

	user, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "alice"})
	require.NoError(t, err)

	snap, err := faucet.QuotaSnapshot(ctx, user)
	require.NoError(t, err)
	require.True(t, snap.Capped)
	require.Equal(t, int64(150), snap.Cap)
	require.Equal(t, int64(0), snap.MintedToday)
	require.Equal(t, int64(150), snap.Remaining)

	_, err = faucet.Mint(ctx, user, 80)
	require.NoError(t, err)

	snap, err = faucet.QuotaSnapshot(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(80), snap.MintedToday)
	require.Equal(t, int64(70), snap.Remaining)

	_, err = faucet.Mint(ctx, user, 70)
	require.NoError(t, err)

	snap, err = faucet.QuotaSnapshot(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(150), snap.MintedToday)
	// remaining saturates at zero
	require.Equal(t, int64(0), snap.Remaining)

	priv, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "vip", Domain: "partner.example"})
	require.NoError(t, err)
	snap, err = faucet.QuotaSnapshot(ctx, priv)
	require.NoError(t, err)
	require.False(t, snap.Capped)
}

func TestUpdateLimits(t *testing.T) {
	faucet, st := newFaucet(t)
	ctx := context.Background()

	admin, err := faucet.TouchIdentity(ctx, Identity{Channel: model.ChannelWeb, Handle: "ops"})
	require.NoError(t, err)

	err = faucet.UpdateLimits(ctx, admin, map[string]int64{model.ConfigDefaultAmount: 200})
	require.ErrorIs(t, err, ErrForbidden)

	admin.Role = model.RoleAdmin
	require.NoError(t, faucet.UpdateLimits(ctx, admin, map[string]int64{
		model.ConfigDefaultAmount:   200,
		model.ConfigDefaultDailyCap: 400,
	}))

	err = faucet.UpdateLimits(ctx, admin, map[string]int64{"limits.bogus": 1})
	require.Error(t, err)

	stored, err := st.GetConfig(ctx, model.ConfigDefaultAmount)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "200", stored.Value)
}

func TestLoadLimitOverrides(t *testing.T) {
	st := memory.New(0)
	ctx := context.Background()

	require.NoError(t, st.SetConfig(ctx, model.ConfigDefaultAmount, strconv.Itoa(250)))
	require.NoError(t, st.SetConfig(ctx, model.ConfigPrivilegedDailyCap, "notanumber"))

	merged, err := LoadLimitOverrides(ctx, st, testLimits)
	require.NoError(t, err)
	require.Equal(t, int64(250), merged.DefaultAmount)
	// unparsable values keep the static setting
	require.Equal(t, testLimits.PrivilegedDailyCap, merged.PrivilegedDailyCap)
	require.Equal(t, testLimits.DefaultDailyCap, merged.DefaultDailyCap)

	// a service built now sees the override
	faucet, err := New(ctx, st, transfer.LoggingClient{}, testLimits, testAuth)
	require.NoError(t, err)
	require.Equal(t, int64(250), faucet.MaxAmount(model.RoleUser))
}
