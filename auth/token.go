package auth

import (
	"chat-core/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-core"

// SessionClaims defines the structure of the data stored inside the JWT.
type SessionClaims struct {
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens with an injected secret.
type TokenIssuer struct {
	key      []byte
	duration time.Duration
}

func NewTokenIssuer(secret string, duration time.Duration) TokenIssuer {
	return TokenIssuer{key: []byte(secret), duration: duration}
}

// GenerateToken creates a signed JWT for a participant, valid from now for the issuer's duration.
func (i TokenIssuer) GenerateToken(participantID string, now time.Time) (string, error) {
	if err := ValidateParticipantID(participantID); err != nil {
		return "", err
	}
	claims := &SessionClaims{
		ParticipantID: participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// Session parses and validates the token and returns the session it carries.
func (i TokenIssuer) Session(tokenString string) (Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w: %v", errors.ErrUnauthenticated, errors.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.ParticipantID == "" {
		return Session{}, fmt.Errorf("%w: %w", errors.ErrUnauthenticated, errors.ErrInvalidToken)
	}
	return Session{ParticipantID: claims.ParticipantID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
