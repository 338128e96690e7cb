// file: model/events.go

package model

import (
	"time"

	"github.com/google/uuid"
)

// Event type discriminators stored in outbox_messages.event_type.
const (
	EventUserRegistered     = "user.registered"
	EventUserLoggedIn       = "user.logged_in"
	EventUserLoggedOut      = "user.logged_out"
	EventPasswordChanged    = "user.password_changed"
	EventRoleAssigned       = "user.role_assigned"
	EventSessionRefreshed   = "session.refreshed"
	EventTokenReuseDetected = "session.reuse_detected"
	EventSessionsRevoked    = "sessions.revoked"
)

// DomainEvent is a fact about a state change, serialized into the outbox as JSON.
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// EventSource is implemented by aggregates that record events while they are mutated.
type EventSource interface {
	PullEvents() []DomainEvent
}

type UserRegistered struct {
	UserID   int       `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
	At       time.Time `json:"occurred_at"`
}

func (e UserRegistered) EventType() string     { return EventUserRegistered }
func (e UserRegistered) OccurredAt() time.Time { return e.At }

type UserLoggedIn struct {
	UserID    int       `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`
	At        time.Time `json:"occurred_at"`
}

func (e UserLoggedIn) EventType() string     { return EventUserLoggedIn }
func (e UserLoggedIn) OccurredAt() time.Time { return e.At }

type UserLoggedOut struct {
	UserID       int        `json:"user_id"`
	SessionID    *uuid.UUID `json:"session_id,omitempty"`
	AllDevices   bool       `json:"all_devices"`
	RevokedCount int64      `json:"revoked_count"`
	At           time.Time  `json:"occurred_at"`
}

func (e UserLoggedOut) EventType() string     { return EventUserLoggedOut }
func (e UserLoggedOut) OccurredAt() time.Time { return e.At }

type PasswordChanged struct {
	UserID int       `json:"user_id"`
	At     time.Time `json:"occurred_at"`
}

func (e PasswordChanged) EventType() string     { return EventPasswordChanged }
func (e PasswordChanged) OccurredAt() time.Time { return e.At }

type RoleAssigned struct {
	UserID     int       `json:"user_id"`
	OldRole    Role      `json:"old_role"`
	NewRole    Role      `json:"new_role"`
	AssignedBy int       `json:"assigned_by"`
	At         time.Time `json:"occurred_at"`
}

func (e RoleAssigned) EventType() string     { return EventRoleAssigned }
func (e RoleAssigned) OccurredAt() time.Time { return e.At }

type SessionRefreshed struct {
	UserID          int       `json:"user_id"`
	SessionID       uuid.UUID `json:"session_id"`
	PreviousTokenID uuid.UUID `json:"previous_token_id"`
	TokenID         uuid.UUID `json:"token_id"`
	At              time.Time `json:"occurred_at"`
}

func (e SessionRefreshed) EventType() string     { return EventSessionRefreshed }
func (e SessionRefreshed) OccurredAt() time.Time { return e.At }

type TokenReuseDetected struct {
	UserID       int       `json:"user_id"`
	SessionID    uuid.UUID `json:"session_id"`
	TokenID      uuid.UUID `json:"token_id"`
	RevokedCount int64     `json:"revoked_count"`
	At           time.Time `json:"occurred_at"`
}

func (e TokenReuseDetected) EventType() string     { return EventTokenReuseDetected }
func (e TokenReuseDetected) OccurredAt() time.Time { return e.At }

type SessionsRevoked struct {
	UserID       int          `json:"user_id"`
	Reason       RevokeReason `json:"reason"`
	RevokedBy    int          `json:"revoked_by"`
	RevokedCount int64        `json:"revoked_count"`
	At           time.Time    `json:"occurred_at"`
}

func (e SessionsRevoked) EventType() string     { return EventSessionsRevoked }
func (e SessionsRevoked) OccurredAt() time.Time { return e.At }
