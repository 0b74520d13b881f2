package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims is what the client needs to know about its own credential. The token
// is issued and verified elsewhere; the client only reads it.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its exp claim at now.
// Tokens without exp never expire here.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Inspect reads the claims of a JWT without verifying its signature.
func Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Claims{}, errors.New("empty token")
	}
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	var out Claims
	sub, err := claims.GetSubject()
	if err != nil {
		return Claims{}, fmt.Errorf("subject claim: %w", err)
	}
	out.Subject = sub
	if out.Subject == "" {
		// 部分签发方把用户放在 user_id / uid
		for _, k := range []string{"user_id", "uid"} {
			switch v := claims[k].(type) {
			case string:
				out.Subject = v
			case float64:
				out.Subject = strconv.FormatFloat(v, 'f', -1, 64)
			}
			if out.Subject != "" {
				break
			}
		}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("exp claim: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
