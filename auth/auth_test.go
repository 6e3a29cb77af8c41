package auth

import (
	"chat-core/errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToken_Roundtrip_Gives_Session(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("a_long_enough_test_secret_for_hs256", time.Hour)
	now := time.Now()

	token, err := issuer.GenerateToken("alice", now)
	req.NoError(err)

	session, err := issuer.Session(token)
	req.NoError(err)
	req.Equal("alice", session.ParticipantID)
	req.True(session.Active(now))
	req.False(session.Active(now.Add(2 * time.Hour)))
}

func TestToken_Wrong_Secret_Is_Unauthenticated(t *testing.T) {
	req := require.New(t)
	token, err := NewTokenIssuer("first_secret_first_secret_first", time.Hour).GenerateToken("alice", time.Now())
	req.NoError(err)

	_, err = NewTokenIssuer("other_secret_other_secret_other", time.Hour).Session(token)

	req.ErrorIs(err, errors.ErrUnauthenticated)
	req.ErrorIs(err, errors.ErrInvalidToken)
}

func TestToken_Expired_Is_Unauthenticated(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("a_long_enough_test_secret_for_hs256", time.Minute)
	token, err := issuer.GenerateToken("alice", time.Now().Add(-time.Hour))
	req.NoError(err)

	_, err = issuer.Session(token)
	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func TestSession_Require(t *testing.T) {
	req := require.New(t)
	now := time.Now()

	req.NoError(NewSession("alice").Require(now))
	req.ErrorIs(Session{}.Require(now), errors.ErrUnauthenticated)
	req.ErrorIs(Session{ParticipantID: "alice", ExpiresAt: now.Add(-time.Second)}.Require(now), errors.ErrUnauthenticated)
}

func TestValidateParticipantID(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"plain id", "alice", true},
		{"uuid", "0190f1d2-7c1e-7a52-8b3e-0c5d1f2a3b4c", true},
		{"empty", "", false},
		{"path separator", "alice/bob", false},
		{"dot", "alice.b", false},
		{"key separator", "alice_b", false},
		{"space", "alice b", false},
		{"too long", strings.Repeat("a", 129), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateParticipantID(c.id)
			if c.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errors.ErrPolicyViolation)
		})
	}
}

func TestToken_Refuses_Invalid_Participant(t *testing.T) {
	_, err := NewTokenIssuer("a_long_enough_test_secret_for_hs256", time.Hour).GenerateToken("a/b", time.Now())

	require.ErrorIs(t, err, errors.ErrPolicyViolation)
}
