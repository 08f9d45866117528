// Package auth resolves an incoming request to the user it acts for.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// CookieName is the cookie carrying the session token.
const CookieName = "jwt"

// ErrUnauthenticated is returned when a request carries no valid token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves a request to a user id.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Issuer signs session tokens.
type Issuer interface {
	Issue(userID string) (string, time.Time, error)
}

// JWT verifies HMAC-signed tokens whose userId (or sub) claim names the user.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWT creates a verifier and issuer. ttl <= 0 means seven days.
func NewJWT(secret []byte, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &JWT{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for userID.
func (a *JWT) Issue(userID string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := jwtlib.MapClaims{
		"userId": userID,
		"sub":    userID,
		"iat":    now.Unix(),
		"exp":    exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Verify checks token and returns the user id it was issued for.
func (a *JWT) Verify(token string) (string, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwtlib.WithTimeFunc(a.now))
	if err != nil {
		return "", errors.Wrap(ErrUnauthenticated, err.Error())
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return "", errors.Wrap(ErrUnauthenticated, "invalid token")
	}
	if userID, _ := claims["userId"].(string); userID != "" {
		return userID, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.Wrap(ErrUnauthenticated, "token has no user")
}

// Authenticate verifies the token carried by r.
func (a *JWT) Authenticate(r *http.Request) (string, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return "", ErrUnauthenticated
	}
	return a.Verify(token)
}

// TokenFromRequest looks for a token in the jwt cookie, an
// Authorization: Bearer header, and the token query parameter, in that
// order. Browsers cannot set headers on websocket upgrades, hence the
// query fallback.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
	}
	return r.URL.Query().Get("token")
}
