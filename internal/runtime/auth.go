package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const sessionTokenIssuer = "resourcefinder"

// ErrInvalidSessionToken is returned for tokens that fail signature or expiry checks.
var ErrInvalidSessionToken = errors.New("invalid session token")

// SignSessionToken binds a session id to the holder of the token.
func SignSessionToken(sessionID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Issuer:    sessionTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseSessionToken returns the session id carried by a valid token.
func ParseSessionToken(tok string, secret []byte) (string, error) {
	parsed, err := jwt.ParseWithClaims(tok, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(sessionTokenIssuer))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.Subject, nil
}

type sessionKey struct{}

// ContextWithSession stores a verified session id on the context.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id placed by EchoSessionMiddleware.
func SessionFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(sessionKey{}).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// EchoSessionMiddleware reads an optional session token from the
// Authorization header or the session cookie. A missing or invalid token is
// not an error; the request simply starts a new session.
func EchoSessionMiddleware(secret []byte, cookie string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c, cookie)
			if tok == "" {
				return next(c)
			}
			id, err := ParseSessionToken(tok, secret)
			if err != nil {
				c.Logger().Debugf("ignoring session token: %v", err)
				return next(c)
			}
			c.Set("session_id", id)
			c.SetRequest(c.Request().WithContext(ContextWithSession(c.Request().Context(), id)))
			return next(c)
		}
	}
}

func extractToken(c echo.Context, cookie string) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if cookie == "" {
		return ""
	}
	if ck, err := c.Cookie(cookie); err == nil {
		return ck.Value
	}
	return ""
}
