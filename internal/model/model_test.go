package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]Channel{
		"web":        ChannelWeb,
		"WEB":        ChannelWeb,
		" telegram ": ChannelTelegram,
		"Discord":    ChannelDiscord,
	} {
		got, ok := ParseChannel(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}

	_, ok := ParseChannel("irc")
	require.False(t, ok)
	_, ok = ParseChannel("")
	require.False(t, ok)
}

func TestParseRole(t *testing.T) {
	got, ok := ParseRole("Privileged")
	require.True(t, ok)
	require.Equal(t, RolePrivileged, got)

	_, ok = ParseRole("superuser")
	require.False(t, ok)
}

func TestMintStatusTransitions(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())

	got, ok := ParseMintStatus(" Completed ")
	require.True(t, ok)
	require.Equal(t, StatusCompleted, got)

	_, ok = ParseMintStatus("done")
	require.False(t, ok)
}

func TestNormalizeHandle(t *testing.T) {
	require.Equal(t, "alice@example.org", NormalizeHandle("  Alice@Example.ORG "))
	require.Equal(t, "bob_dev", NormalizeHandle("bob_dev"))
}

func TestDayOf(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2026, 3, 14, 23, 30, 0, 0, loc)
	require.Equal(t, "2026-03-15", DayOf(local))
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		require.Len(t, id, 26)
		require.False(t, seen[id])
		seen[id] = true
	}
}
