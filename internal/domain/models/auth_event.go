package models

import (
	"time"

	"github.com/turtacn/portal-gateway/pkg/constants"
)

// AuthEvent records a session lifecycle transition.
// AuthEvent 记录一次会话生命周期转换。
type AuthEvent struct {
	Type      constants.AuthEventType `json:"type"`
	SessionID string                  `json:"session_id,omitempty"`
	Subject   string                  `json:"subject,omitempty"`
	Username  string                  `json:"username,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// SessionChange is delivered to session store listeners after every set or clear.
type SessionChange struct {
	// Session is nil when the session was cleared.
	Session *Session
	// Identity is nil when the session was cleared.
	Identity *Identity
}

// Authenticated reports whether the change left a session in place.
func (c SessionChange) Authenticated() bool {
	return c.Session != nil
}
