package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint/messaging-platform/internal/model"
)

// CreateUser inserts a user. Registration itself is owned by an external
// workflow; this exists so the core can be provisioned and tested.
func (s *Store) CreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV7()).String()
	}
	if u.Role == "" {
		u.Role = model.UserRoleUser
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, role, approved, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, string(u.Role), u.Approved, u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// ListPeers returns every approved user except the viewer, the candidates
// for starting a conversation.
func (s *Store) ListPeers(ctx context.Context, viewerID string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role, approved, created_at FROM users
		WHERE approved = 1 AND id != ? ORDER BY name ASC`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("select peers: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &role, &u.Approved, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		u.Role = model.UserRole(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return users, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, approved, created_at FROM users WHERE id = ?`, id)

	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &role, &u.Approved, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.Role = model.UserRole(role)
	return &u, nil
}
