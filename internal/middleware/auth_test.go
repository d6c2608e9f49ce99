package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaypoint/messaging-platform/internal/model"
)

const testSecret = "test-secret"

func issueTestToken(t *testing.T, u *model.User) string {
	t.Helper()
	token, err := IssueToken(testSecret, u, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	token := issueTestToken(t, &model.User{ID: "u1", Name: "Alice", Role: model.UserRoleAdmin})

	claims, err := VerifyToken(testSecret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Name != "Alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := VerifyToken("wrong-secret", token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestAuthMiddleware(t *testing.T) {
	token := issueTestToken(t, &model.User{ID: "u1", Name: "Alice", Role: model.UserRoleUser})

	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetUserID(r.Context()); got != "u1" {
			t.Fatalf("user id in context = %q", got)
		}
		if IsAdmin(r.Context()) {
			t.Fatal("regular user must not be admin")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Missing credential.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rec.Code)
	}

	// Garbage credential.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d", rec.Code)
	}
}

func TestBearerTokenFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	if got := BearerToken(req); got != "abc" {
		t.Fatalf("query token = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := BearerToken(req); got != "" {
		t.Fatalf("non-bearer scheme must yield nothing, got %q", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	adminToken := issueTestToken(t, &model.User{ID: "a1", Role: model.UserRoleAdmin})
	userToken := issueTestToken(t, &model.User{ID: "u1", Role: model.UserRoleUser})

	handler := Auth(testSecret)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", rec.Code)
	}
}
