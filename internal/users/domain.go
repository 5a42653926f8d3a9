package users

import (
	"fmt"
	"time"

	"github.com/dersa/ecoquality/internal/platform/httpx"
	"github.com/dersa/ecoquality/internal/rbac"
)

// ErrUserNotFound indicates the user account does not exist.
var ErrUserNotFound = fmt.Errorf("users: %w", httpx.ErrNotFound)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Access is the role and permission view of a single user.
type Access struct {
	User        User            `json:"user"`
	Roles       []rbac.UserRole `json:"roles"`
	Permissions []string        `json:"permissions"`
	Denied      []string        `json:"denied"`
}
