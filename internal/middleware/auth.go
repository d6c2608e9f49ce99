// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaypoint/messaging-platform/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id.
	UserIDKey ContextKey = "user_id"
	// UserNameKey is the context key for the display name.
	UserNameKey ContextKey = "user_name"
	// UserRoleKey is the context key for the user role.
	UserRoleKey ContextKey = "user_role"
)

// Claims represents JWT claims. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// VerifyToken parses and validates a bearer token string. Shared by the
// HTTP auth middleware and the websocket gateway handshake.
func VerifyToken(jwtSecret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

// BearerToken extracts the bearer credential from a request: the
// Authorization header, or the token query parameter for websocket
// handshakes where custom headers are awkward.
func BearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := BearerToken(r)
			if tokenString == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims, err := VerifyToken(jwtSecret, tokenString)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, UserNameKey, claims.Name)
			ctx = context.WithValue(ctx, UserRoleKey, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID gets the authenticated user id from context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetUserRole gets the user role from context.
func GetUserRole(ctx context.Context) string {
	if v := ctx.Value(UserRoleKey); v != nil {
		return v.(string)
	}
	return ""
}

// IsAdmin reports whether the context carries an admin role.
func IsAdmin(ctx context.Context) bool {
	return GetUserRole(ctx) == string(model.UserRoleAdmin)
}

// RequireAdmin creates middleware that restricts a route to admins.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken signs a token for a user. Login itself is owned by the
// external registration workflow; this is used by provisioning and tests.
func IssueToken(jwtSecret string, u *model.User, registered jwt.RegisteredClaims) (string, error) {
	claims := &Claims{
		RegisteredClaims: registered,
		Name:             u.Name,
		Role:             string(u.Role),
	}
	claims.Subject = u.ID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
