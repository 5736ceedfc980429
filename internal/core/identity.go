package core

import (
	"strings"

	"github.com/opendesk/threadsync/internal/types"
)

// Identity describes the current session's user.
type Identity struct {
	UserID   string
	UserName string
}

// Roles that mark a comment author as the help-desk side of the
// conversation rather than the requester.
var counterpartRoles = map[string]bool{
	"agent":       true,
	"ticket":      true,
	"coordinator": true,
	"admin":       true,
	"staff":       true,
}

// ResolveSender classifies a comment author against the session identity.
// The author id comparison is authoritative; the role is only consulted
// when the ids differ or the author id is unknown.
func ResolveSender(identity Identity, authorID, role string) types.Sender {
	if authorID != "" && authorID == identity.UserID {
		return types.SenderSelf
	}

	normalized := strings.ToLower(strings.TrimSpace(role))
	if normalized == "system" {
		return types.SenderSystem
	}
	if counterpartRoles[normalized] {
		return types.SenderCounterpart
	}

	if authorID == "" {
		// No author at all: server-generated event.
		return types.SenderSystem
	}
	if identity.UserID == "" {
		// Ids not comparable and role unknown: assume our own entry.
		return types.SenderSelf
	}
	return types.SenderCounterpart
}
