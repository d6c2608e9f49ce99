package model

import (
	"time"
)

// UserRole distinguishes ordinary users from moderators.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// User is an addressable identity. Registration and approval are owned by
// an external workflow; the messaging core only reads id, name and role.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}
