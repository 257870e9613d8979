package auth

import (
	"opsline/internal/domain"
)

// Actions named in authorization failures. They are logged, never returned to callers.
const (
	ActionCloseMeeting   = "meeting.close"
	ActionDecideLeave    = "leave.decide"
	ActionRegisterEquip  = "equipment.register"
	ActionReadCompliance = "compliance.read"
	ActionCreateUser     = "user.create"
	ActionReadEventLog   = "events.read"
)

// Require returns an AuthorizationError unless u holds one of roles.
func Require(u domain.User, action string, roles ...string) error {
	if HasRole(u, roles...) {
		return nil
	}
	return domain.AuthorizationError{Action: action}
}

func HasRole(u domain.User, roles ...string) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

func IsManager(u domain.User) bool {
	return u.Role == domain.RoleManager
}
