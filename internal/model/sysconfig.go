package model

import "time"

// SystemConfig is a key/value override stored alongside the ledgers.
// Last write wins per key.
type SystemConfig struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Keys for runtime limit overrides.
const (
	ConfigDefaultAmount      = "limits.default_amount"
	ConfigDefaultDailyCap    = "limits.default_daily_cap"
	ConfigPrivilegedAmount   = "limits.privileged_amount"
	ConfigPrivilegedDailyCap = "limits.privileged_daily_cap"
)
