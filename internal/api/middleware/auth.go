// Package middleware provides HTTP middleware for the Gin router.
//
// Go Learning Note — Middleware Pattern (Gin):
// In Gin, middleware is any function with the signature `gin.HandlerFunc`, which
// is `func(*gin.Context)`. Middleware functions form a chain: each one runs,
// optionally calls c.Next() to pass control to the next handler, and can call
// c.Abort() to stop the chain. This is the "chain of responsibility" pattern.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"noisemap/internal/config"
	"noisemap/pkg/utils"
)

// Context keys for storing authenticated session data.
const (
	UserIDKey  = "user_id"
	ClaimsKey  = "session_claims"
	issuerName = "noisemap"
)

// ErrSessionRevoked is returned for a token that was logged out.
var ErrSessionRevoked = errors.New("session revoked")

// Revoker remembers logged-out token IDs until the tokens expire.
type Revoker interface {
	Revoke(ctx context.Context, id string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// SessionClaims are the JWT claims of a session token. Subject is the user ID
// and ID (jti) identifies the session for logout.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256-signed session tokens carried in an
// HTTP-only cookie or an Authorization: Bearer header.
type Sessions struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	revoker    Revoker
	now        func() time.Time
}

func NewSessions(cfg config.AuthConfig, revoker Revoker) *Sessions {
	return &Sessions{
		secret:     []byte(cfg.Secret),
		ttl:        cfg.SessionTTL,
		cookieName: cfg.CookieName,
		secure:     cfg.SecureCookie,
		revoker:    revoker,
		now:        time.Now,
	}
}

// Issue signs a new session token for the user.
func (s *Sessions) Issue(userID, username string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        utils.GenerateID(),
			Issuer:    issuerName,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, expires, nil
}

// Verify checks the signature, expiry and revocation state of a token.
func (s *Sessions) Verify(ctx context.Context, token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("session token without subject or id")
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Revoke ends the session described by claims.
func (s *Sessions) Revoke(ctx context.Context, claims *SessionClaims) error {
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return s.revoker.Revoke(ctx, claims.ID, expires)
}

// SetCookie stores the token in an HTTP-only cookie.
func (s *Sessions) SetCookie(c *gin.Context, token string, expires time.Time) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, token, int(time.Until(expires).Seconds()), "/", "", s.secure, true)
}

// ClearCookie tells the client to drop the session cookie.
func (s *Sessions) ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, "", -1, "/", "", s.secure, true)
}

// RequireSession rejects requests without a valid session and stores the
// user ID and claims in the context.
//
// Go Learning Note — c.Abort():
// c.Abort() prevents subsequent handlers in the chain from running. Without it,
// even after writing an error response, the next handler would still execute.
// Always pair error responses with c.Abort() in middleware.
func (s *Sessions) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.tokenFrom(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in", "kind": "unauthorized"})
			return
		}

		claims, err := s.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session", "kind": "unauthorized"})
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// tokenFrom prefers the session cookie and falls back to a bearer token.
func (s *Sessions) tokenFrom(c *gin.Context) string {
	if cookie, err := c.Cookie(s.cookieName); err == nil && cookie != "" {
		return cookie
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// GetUserID retrieves the user ID set by RequireSession.
//
// Go Learning Note — Type Assertion:
// c.Get() returns (any, bool). The .(string) is a type assertion; the
// two-value form `v, ok := x.(string)` returns ok=false instead of panicking.
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(UserIDKey)
	id, _ := userID.(string)
	return id
}

// GetSessionClaims retrieves the claims set by RequireSession.
func GetSessionClaims(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ClaimsKey)
	claims, _ := v.(*SessionClaims)
	return claims
}
