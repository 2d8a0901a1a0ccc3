package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the bearer token's payload the client looks at.
// Signatures are never verified here; the server remains the authority.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// InspectToken decodes token without verifying its signature.
func InspectToken(token string) (Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("decode token: %w", err)
	}

	var c Claims
	if sub, err := parsed.Claims.GetSubject(); err == nil {
		c.Subject = sub
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Expired reports whether the claims carry an expiry at or before now.
// Tokens without an exp claim never expire locally.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// locallyExpired reports whether token is a JWT whose exp has passed.
// Opaque tokens are left for the server to judge.
func locallyExpired(token string, now time.Time) bool {
	c, err := InspectToken(token)
	if err != nil {
		return false
	}
	return c.Expired(now)
}
