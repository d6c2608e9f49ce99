package store

import (
	"context"
	"testing"

	"github.com/relaypoint/messaging-platform/internal/model"
)

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)

	u, err := s.CreateUser(context.Background(), &model.User{Name: "Alice", Approved: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}
	if u.Role != model.UserRoleUser {
		t.Fatalf("role defaulted to %q", u.Role)
	}

	got, err := s.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Alice" || !got.Approved {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := s.GetUser(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPeers(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice", "Alice")
	seedUser(t, s, "bob", "Bob")
	if _, err := s.CreateUser(context.Background(), &model.User{ID: "pending", Name: "Pending"}); err != nil {
		t.Fatalf("create pending user: %v", err)
	}

	peers, err := s.ListPeers(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list peers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected only bob, got %d peers", len(peers))
	}
	if peers[0].ID != "bob" {
		t.Fatalf("unexpected peer %q", peers[0].ID)
	}
}
