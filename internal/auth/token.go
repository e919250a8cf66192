package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for token inspection.
var (
	ErrTokenEmpty   = errors.New("auth: token is empty")
	ErrTokenInvalid = errors.New("auth: token is not a JWT")
	ErrTokenExpired = errors.New("auth: token has expired")
)

// redactKeep is how many leading characters Redact leaves visible.
const redactKeep = 6

// TokenInfo is what can be learned from a token without its signing key.
type TokenInfo struct {
	// Issuer is the gateway's refresh-token id for long-lived tokens.
	Issuer    string
	ID        string
	Algorithm string
	IssuedAt  time.Time
	// ExpiresAt is zero when the token carries no exp claim.
	ExpiresAt time.Time
}

// HasExpiry reports whether the token carries an exp claim.
func (i *TokenInfo) HasExpiry() bool {
	return !i.ExpiresAt.IsZero()
}

// Expired reports whether the token had expired at now.
func (i *TokenInfo) Expired(now time.Time) bool {
	return i.HasExpiry() && !now.Before(i.ExpiresAt)
}

// ExpiresWithin reports whether the token expires within d of now.
// Tokens that are already expired also report true.
func (i *TokenInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	return i.HasExpiry() && now.Add(d).After(i.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero when the token
// has expired or never expires.
func (i *TokenInfo) Remaining(now time.Time) time.Duration {
	if !i.HasExpiry() || i.Expired(now) {
		return 0
	}
	return i.ExpiresAt.Sub(now)
}

// Inspect decodes the registered claims of token without verifying its
// signature. The gateway remains the only authority on validity; Inspect
// exists so expiry can be reported before the handshake fails.
func Inspect(token string) (*TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenEmpty
	}

	claims := &jwt.RegisteredClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	info := &TokenInfo{
		Issuer: claims.Issuer,
		ID:     claims.ID,
	}
	if parsed.Method != nil {
		info.Algorithm = parsed.Method.Alg()
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// Check inspects token and returns ErrTokenExpired if it has expired at now.
// A token that is not a JWT is not an error here: the gateway may accept
// opaque tokens, so the returned info is nil and the handshake decides.
func Check(token string, now time.Time) (*TokenInfo, error) {
	info, err := Inspect(token)
	if errors.Is(err, ErrTokenInvalid) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Expired(now) {
		return info, fmt.Errorf("%w: at %s", ErrTokenExpired, info.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return info, nil
}

// Redact returns a log-safe form of token keeping only a short prefix.
func Redact(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return ""
	case len(token) <= redactKeep*2:
		return "***"
	default:
		return token[:redactKeep] + "***"
	}
}
