package model

import "strings"

type Role string

const (
	RoleUser       Role = "user"
	RolePrivileged Role = "privileged"
	RoleAdmin      Role = "admin"
)

func (r Role) String() string { return string(r) }

func (r Role) Valid() bool {
	return r == RoleUser || r == RolePrivileged || r == RoleAdmin
}

// ParseRole normalizes input; empty => user.
// Returns (value, true) if valid; otherwise (user, false).
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return RoleUser, true
	case "privileged":
		return RolePrivileged, true
	case "admin":
		return RoleAdmin, true
	default:
		return RoleUser, false
	}
}
