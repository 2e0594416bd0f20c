package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const sessionIssuer = "tradedesk"

// Sessions issues and verifies HS256 JWT bearer tokens whose subject is the
// user id.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a token signer. secret must not be empty.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("crypto: session secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for userID valid for the configured TTL.
func (s *Sessions) Issue(userID string) (string, error) {
	return s.IssueAt(userID, s.now().Add(s.ttl))
}

// IssueAt returns a token for userID that expires at exp.
func (s *Sessions) IssueAt(userID string, exp time.Time) (string, error) {
	if userID == "" {
		return "", errors.New("crypto: token needs a user id")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("crypto: sign token: %w", err)
	}
	return token, nil
}

// Verify checks token and returns the user it was issued to. Malformed,
// forged and expired tokens all return domain.ErrNotAuthenticated.
func (s *Sessions) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("crypto: %v: %w", err, domain.ErrNotAuthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("crypto: token has no subject: %w", domain.ErrNotAuthenticated)
	}
	return claims.Subject, nil
}
