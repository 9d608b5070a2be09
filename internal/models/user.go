package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the election.
type Role string

const (
	RoleVoter Role = "voter"
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a stored or claimed role. Unknown values resolve to RoleVoter
// so that a malformed claim can never grant admin rights.
func ParseRole(s string) Role {
	if Role(strings.ToLower(strings.TrimSpace(s))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleVoter
}

// IsAdmin reports whether r is the admin role.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// User represents an election participant.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
