package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of token claims used to enrich logs.
type Claims struct {
	Subject   string
	UserType  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenClaims decodes a JWT-shaped token without verifying it. Tokens are opaque to
// the client: the result is only for log context and never gates a submission.
func TokenClaims(token string) (Claims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, false
	}

	var out Claims
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		out.Subject = sub
	} else if id, ok := claims["user_id"]; ok {
		switch v := id.(type) {
		case float64:
			out.Subject = fmt.Sprintf("%d", int64(v))
		case string:
			out.Subject = v
		}
	}
	for _, key := range []string{"user_type", "role"} {
		if v, ok := claims[key].(string); ok && v != "" {
			out.UserType = v
			break
		}
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, true
}
