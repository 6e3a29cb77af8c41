package auth

import (
	"chat-core/errors"
	"fmt"
	"time"
)

// Session is the acting participant's identity, passed explicitly to every
// core operation. There is no package level "current user".
type Session struct {
	ParticipantID string
	ExpiresAt     time.Time
}

// NewSession builds a session that never expires, for trusted in-process callers.
func NewSession(participantID string) Session {
	return Session{ParticipantID: participantID}
}

func (s Session) Active(now time.Time) bool {
	if s.ParticipantID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Require fails with ErrUnauthenticated when the session is not active at now.
func (s Session) Require(now time.Time) error {
	if !s.Active(now) {
		return fmt.Errorf("%w: no active session for %q", errors.ErrUnauthenticated, s.ParticipantID)
	}
	return nil
}
