package model

import (
	"errors"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

var ErrInvalidRole = errors.New("invalid role specified")

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the account aggregate. Mutating methods record domain events
// that the unit of work drains into the outbox on commit.
type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	events []DomainEvent
}

// AssignRole changes the user's role. Assigning the current role records nothing.
func (u *User) AssignRole(role Role, assignedBy int, at time.Time) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	if u.Role == role {
		return nil
	}
	previous := u.Role
	u.Role = role
	u.events = append(u.events, RoleAssigned{
		UserID:     u.ID,
		OldRole:    previous,
		NewRole:    role,
		AssignedBy: assignedBy,
		At:         at,
	})
	return nil
}

// ChangePassword replaces the stored hash.
func (u *User) ChangePassword(hash string, at time.Time) {
	u.Password = hash
	u.events = append(u.events, PasswordChanged{UserID: u.ID, At: at})
}

// Registered records the creation event once the store has assigned an ID.
func (u *User) Registered(at time.Time) {
	u.events = append(u.events, UserRegistered{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		At:       at,
	})
}

// PullEvents returns the recorded events and clears them.
func (u *User) PullEvents() []DomainEvent {
	events := u.events
	u.events = nil
	return events
}
