package domain

import "time"

// Role controls what a user may see and do.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Privileged reports whether the role sees every ticket.
func (r Role) Privileged() bool {
	return r == RoleModerator || r == RoleAdmin
}

// User is an account that submits tickets, or a moderator/admin who handles them.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Skills       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
