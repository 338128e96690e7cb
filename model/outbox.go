package model

import (
	"time"

	"github.com/google/uuid"
)

// PoisonMarker is stored in last_error once a message exhausts its attempts.
const PoisonMarker = "poison"

// OutboxMessage is a domain event waiting to be published.
// A message is pending while DispatchedAt is nil; once set it is never cleared.
type OutboxMessage struct {
	ID            uuid.UUID  `json:"id"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	OccurredAt    time.Time  `json:"occurred_at"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     *string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
}

func (m *OutboxMessage) IsPending() bool {
	return m.DispatchedAt == nil
}

func (m *OutboxMessage) IsPoisoned() bool {
	return m.LastError != nil && *m.LastError == PoisonMarker
}
