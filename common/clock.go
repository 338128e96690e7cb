package common

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injected so token expiry and outbox backoff are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator supplies new unique handles for tokens, sessions and outbox messages.
type IDGenerator interface {
	NewID() uuid.UUID
}

// UUIDGenerator hands out time-ordered v7 UUIDs so outbox rows with equal
// occurred_at still sort in insertion order.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
