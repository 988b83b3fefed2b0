package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kozaktomas/variance-tracker/internal/config"
)

type contextKey string

const userContextKey contextKey = "user"

// UserIDHeader carries the caller's id when authentication is disabled.
const UserIDHeader = "X-User-ID"

// User is the authenticated caller.
type User struct {
	ID    string
	Role  string
	Email string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// Authenticator validates bearer tokens issued by the identity provider.
// The token subject is the user id.
type Authenticator struct {
	key      any
	method   string
	disabled bool
}

// NewAuthenticator builds an authenticator from the auth config. RS* methods
// need a PEM public key, HS* methods a shared secret.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.Disabled {
		return &Authenticator{disabled: true}, nil
	}

	method := strings.ToUpper(cfg.JWTAlgorithm)
	if method == "" {
		method = "RS256"
	}

	switch method {
	case "RS256", "RS384", "RS512":
		if cfg.JWTPublicKey == "" {
			return nil, errors.New("JWT_PUBLIC_KEY environment variable is required")
		}
		// Keys passed through env files often have escaped newlines.
		pem := strings.ReplaceAll(cfg.JWTPublicKey, `\n`, "\n")
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("invalid JWT public key: %w", err)
		}
		return &Authenticator{key: key, method: method}, nil
	case "HS256", "HS384", "HS512":
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET environment variable is required")
		}
		return &Authenticator{key: []byte(cfg.JWTSecret), method: method}, nil
	default:
		return nil, fmt.Errorf("unsupported JWT algorithm %q", cfg.JWTAlgorithm)
	}
}

// Disabled reports whether tokens are skipped.
func (a *Authenticator) Disabled() bool {
	return a.disabled
}

// Authenticate extracts the user from a request.
func (a *Authenticator) Authenticate(r *http.Request) (*User, error) {
	if a.disabled {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			return nil, fmt.Errorf("missing %s header", UserIDHeader)
		}
		return &User{ID: id}, nil
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errors.New("missing or invalid Authorization header")
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{a.method}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &User{ID: claims.Subject, Role: claims.Role, Email: claims.Email}, nil
}

// RequireAuth is middleware that rejects requests without a valid user
func RequireAuth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success": false, "error": "unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(SetUserInContext(r.Context(), user)))
		})
	}
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(ctx context.Context) *User {
	user, ok := ctx.Value(userContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// SetUserInContext adds a user to the context.
// This is primarily for testing - use RequireAuth middleware in production.
func SetUserInContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
