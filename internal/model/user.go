package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the per-channel identity record. (channel, handle) is globally
// unique; handles are stored lower-cased so the key compares
// case-insensitively. ID never changes once assigned.
type User struct {
	ID         uuid.UUID `db:"id"`
	Channel    Channel   `db:"channel"`
	Handle     string    `db:"handle"`
	Role       Role      `db:"role"`
	Domain     string    `db:"domain"` // empty = none
	LastSeenAt time.Time `db:"last_seen_at"`
}

// NormalizeHandle lower-cases a handle for storage and comparison.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// NewUser builds a fresh user with a stable id and a normalized handle.
func NewUser(channel Channel, handle, domain string) User {
	return User{
		ID:         uuid.New(),
		Channel:    channel,
		Handle:     NormalizeHandle(handle),
		Role:       RoleUser,
		Domain:     domain,
		LastSeenAt: time.Now().UTC(),
	}
}
