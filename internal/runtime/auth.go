package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/podcaster/config"
)

// LoadJWTSecret resolves the shared JWT secret from server.jwt_secret
// (PODCASTER_SERVER_JWT_SECRET). The bool is false when auth is disabled.
func LoadJWTSecret(cfg *config.Config) ([]byte, bool) {
	if cfg == nil {
		return nil, false
	}
	secret := strings.TrimSpace(cfg.Server.JWTSecret)
	if secret == "" {
		return nil, false
	}
	return []byte(secret), true
}

// Claims are the API token claims. Scopes gate destructive routes such as
// deleting scripts; "scope" is accepted as a space separated alternative.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	Scope  string   `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) scopes() []string {
	out := make([]string, 0, len(c.Scopes))
	for _, s := range append(c.Scopes, strings.Fields(c.Scope)...) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SignJWT issues an HS256 token for subject valid for ttl.
func SignJWT(subject string, secret []byte, ttl time.Duration, scopes ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

type subjectKey struct{}
type scopeKey struct{}

// EchoAuthMiddleware requires a valid bearer token (or "auth" cookie) and
// stores its subject and scopes on the request context.
func EchoAuthMiddleware(secret []byte) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			var claims Claims
			tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return secret, nil })
			if err != nil || !tok.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			scopes := claims.scopes()
			ctx := context.WithValue(c.Request().Context(), subjectKey{}, claims.Subject)
			ctx = context.WithValue(ctx, scopeKey{}, scopes)
			c.Set("subject", claims.Subject)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

// SubjectFromContext returns the token subject stored by EchoAuthMiddleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey{}).(string)
	return s, ok
}

// ScopesFromContext returns the token scopes stored by EchoAuthMiddleware.
func ScopesFromContext(ctx context.Context) ([]string, bool) {
	s, ok := ctx.Value(scopeKey{}).([]string)
	return s, ok
}

// RequireScopes rejects callers whose token lacks any of required with 403.
func RequireScopes(required ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			have, _ := ScopesFromContext(c.Request().Context())
			for _, want := range required {
				if !hasScope(have, want) {
					return echo.NewHTTPError(http.StatusForbidden, "missing scope: "+want)
				}
			}
			return next(c)
		}
	}
}

func hasScope(scopes []string, target string) bool {
	for _, s := range scopes {
		if s == target {
			return true
		}
	}
	return false
}
