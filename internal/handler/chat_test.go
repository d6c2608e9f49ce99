package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/relaypoint/messaging-platform/internal/attachment"
	"github.com/relaypoint/messaging-platform/internal/middleware"
	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/screen"
	"github.com/relaypoint/messaging-platform/internal/service"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/internal/ws"
	"github.com/relaypoint/messaging-platform/pkg/logger"
)

const testSecret = "handler-test-secret"

type apiFixture struct {
	router http.Handler
	store  *store.Store
	alice  *model.User
	bob    *model.User
	admin  *model.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := logger.NewNop()
	hub := ws.NewHub(log)
	index := service.NewConversationIndex(st, log)
	relay := service.NewDeliveryRelay(st, hub, index, screen.None{}, log)
	receipts := service.NewReadReceipts(st, hub, index, log)
	attachments, err := attachment.NewStore(t.TempDir(), "/uploads", 1<<20)
	if err != nil {
		t.Fatalf("attachment store: %v", err)
	}
	assistant := service.NewAssistant(st, nil, attachments, nil, screen.None{}, log)

	chatHandler := NewChatHandler(relay, receipts, index, assistant, attachments, st, log)
	adminHandler := NewAdminHandler(st, index, log)

	r := chi.NewRouter()
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Post("/send", chatHandler.Send)
		r.Get("/history", chatHandler.History)
		r.Get("/p2p/{peerID}", chatHandler.HistoryP2P)
		r.Post("/messages/mark-read", chatHandler.MarkRead)
		r.Get("/conversations", chatHandler.Conversations)
	})
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Use(middleware.RequireAdmin)
		r.Post("/messages/{id}/toggle", adminHandler.Toggle)
		r.Post("/messages/soft-delete", adminHandler.SoftDelete)
	})

	f := &apiFixture{router: r, store: st}
	f.alice = f.seedUser(t, "Alice", model.UserRoleUser)
	f.bob = f.seedUser(t, "Bob", model.UserRoleUser)
	f.admin = f.seedUser(t, "Root", model.UserRoleAdmin)
	return f
}

func (f *apiFixture) seedUser(t *testing.T, name string, role model.UserRole) *model.User {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), &model.User{Name: name, Role: role, Approved: true})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (f *apiFixture) token(t *testing.T, u *model.User) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, u, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, u *model.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token(t, u))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return &v
}

func TestSendAndFetchP2P(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID:    &f.bob.ID,
		Content:       "hello bob",
		CorrelationID: "corr-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[model.SendMessageResponse](t, rec)
	if resp.Message.SenderID != f.alice.ID {
		t.Fatalf("sender = %q", resp.Message.SenderID)
	}
	if resp.Message.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q", resp.Message.CorrelationID)
	}
	if resp.AIResponse != nil {
		t.Fatal("peer send must not produce an assistant reply")
	}

	rec = f.do(t, f.bob, http.MethodGet, "/api/chat/p2p/"+f.alice.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("p2p status = %d", rec.Code)
	}
	msgs := decodeJSON[[]model.Message](t, rec)
	if len(*msgs) != 1 || (*msgs)[0].Content != "hello bob" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestSendToAssistant(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		Content: "hello assistant",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[model.SendMessageResponse](t, rec)
	if resp.AIResponse == nil {
		t.Fatal("assistant send must return a reply")
	}
	if resp.Message.ReceiverID != nil {
		t.Fatal("assistant messages carry no receiver")
	}

	rec = f.do(t, f.alice, http.MethodGet, "/api/chat/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	msgs := decodeJSON[[]model.Message](t, rec)
	if len(*msgs) != 2 {
		t.Fatalf("expected user message and reply, got %d", len(*msgs))
	}
}

func TestSendValidation(t *testing.T) {
	f := newAPIFixture(t)

	// Neither content nor attachment. Error bodies carry the same
	// {code, message} shape the live channel emits.
	rec := f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &f.bob.ID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty send status = %d", rec.Code)
	}
	if ev := decodeJSON[model.ErrorEvent](t, rec); ev.Code != "invalid_request" || ev.Message == "" {
		t.Fatalf("unexpected error body: %+v", ev)
	}

	// Unknown receiver.
	ghost := "00000000-0000-0000-0000-000000000000"
	rec = f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &ghost,
		Content:    "anyone",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown receiver status = %d", rec.Code)
	}
	if ev := decodeJSON[model.ErrorEvent](t, rec); ev.Code != "not_found" {
		t.Fatalf("unexpected error body: %+v", ev)
	}

	// Self send.
	rec = f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &f.alice.ID,
		Content:    "note to self",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self send status = %d", rec.Code)
	}
}

func TestMarkReadAndConversations(t *testing.T) {
	f := newAPIFixture(t)

	f.do(t, f.bob, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &f.alice.ID, Content: "one",
	})
	f.do(t, f.bob, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &f.alice.ID, Content: "two",
	})

	rec := f.do(t, f.alice, http.MethodGet, "/api/chat/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("conversations status = %d", rec.Code)
	}
	list := decodeJSON[model.ListConversationsResponse](t, rec)
	if list.Total != 1 || list.Conversations[0].UnreadCount != 2 {
		t.Fatalf("unexpected sidebar: %+v", list)
	}

	rec = f.do(t, f.alice, http.MethodPost, "/api/chat/messages/mark-read", model.MarkReadRequest{
		PeerID: f.bob.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d", rec.Code)
	}
	marked := decodeJSON[model.MarkReadResponse](t, rec)
	if marked.Updated != 2 {
		t.Fatalf("updated = %d", marked.Updated)
	}

	rec = f.do(t, f.alice, http.MethodGet, "/api/chat/conversations", nil)
	list = decodeJSON[model.ListConversationsResponse](t, rec)
	if list.Conversations[0].UnreadCount != 0 {
		t.Fatalf("unread after mark-read = %d", list.Conversations[0].UnreadCount)
	}
}

func TestModerationVisibility(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &f.bob.ID, Content: "regrettable",
	})
	sent := decodeJSON[model.SendMessageResponse](t, rec)

	// Non-admins cannot reach the moderation surface.
	rec = f.do(t, f.alice, http.MethodPost, "/api/admin/messages/soft-delete", SoftDeleteRequest{
		IDs: []string{sent.Message.ID},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin delete status = %d", rec.Code)
	}

	rec = f.do(t, f.admin, http.MethodPost, "/api/admin/messages/soft-delete", SoftDeleteRequest{
		IDs: []string{sent.Message.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin delete status = %d (body %s)", rec.Code, rec.Body.String())
	}

	// Non-admin view: row present, content suppressed.
	rec = f.do(t, f.bob, http.MethodGet, "/api/chat/p2p/"+f.alice.ID, nil)
	msgs := decodeJSON[[]model.Message](t, rec)
	if len(*msgs) != 1 {
		t.Fatalf("history length changed: %d", len(*msgs))
	}
	got := (*msgs)[0]
	if !got.IsDeletedByModerator {
		t.Fatal("expected deletion flag visible")
	}
	if got.Content != "" {
		t.Fatalf("content leaked to non-admin: %q", got.Content)
	}

}

func TestTogglePin(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodPost, "/api/chat/send", model.SendMessageRequest{
		ReceiverID: &f.bob.ID, Content: "pin me",
	})
	sent := decodeJSON[model.SendMessageResponse](t, rec)

	rec = f.do(t, f.admin, http.MethodPost, "/api/admin/messages/"+sent.Message.ID+"/toggle", ToggleRequest{
		Action: "pin", Value: true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d (body %s)", rec.Code, rec.Body.String())
	}
	updated := decodeJSON[model.Message](t, rec)
	if !updated.IsPinned {
		t.Fatal("expected pinned flag set")
	}

	rec = f.do(t, f.admin, http.MethodPost, "/api/admin/messages/"+sent.Message.ID+"/toggle", ToggleRequest{
		Action: "shred", Value: true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d", rec.Code)
	}
}
