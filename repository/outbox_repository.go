package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// ErrOutsideUnitOfWork is returned when outbox rows would be written outside a transaction.
var ErrOutsideUnitOfWork = errors.New("outbox append requires a unit of work transaction")

// IOutboxRepository defines the contract for outbox message persistence.
type IOutboxRepository interface {
	Append(ctx context.Context, messages ...*model.OutboxMessage) error
	FetchPending(ctx context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time, maxAttempts int) (FailureOutcome, error)
	Requeue(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListPoisoned(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
}

// FailureOutcome is the message state after a failed publish was recorded.
type FailureOutcome struct {
	AttemptCount int
	Poisoned     bool
}

// OutboxRepository implements IOutboxRepository.
type OutboxRepository struct {
	DB DBTX
}

func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{DB: db}
}

const outboxColumns = `id, event_type, payload, occurred_at, dispatched_at, attempt_count, last_error, next_attempt_at`

// Append inserts one row per message inside the caller's transaction. It never begins one itself.
func (r *OutboxRepository) Append(ctx context.Context, messages ...*model.OutboxMessage) error {
	if _, ok := r.DB.(*sql.Tx); !ok {
		return ErrOutsideUnitOfWork
	}

	query := `INSERT INTO outbox_messages (id, event_type, payload, occurred_at, attempt_count, next_attempt_at) VALUES ($1, $2, $3, $4, 0, $5)`
	for _, msg := range messages {
		log := logger.Log.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"event_type": msg.EventType,
		})
		log.Info("Executing query to append outbox message")

		if _, err := r.DB.ExecContext(ctx, query, msg.ID, msg.EventType, msg.Payload, msg.OccurredAt, msg.NextAttemptAt); err != nil {
			log.WithError(err).Error("Failed to execute append outbox message query")
			return fmt.Errorf("append outbox message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// FetchPending selects due, non-poisoned, undispatched messages in occurrence order.
func (r *OutboxRepository) FetchPending(ctx context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error) {
	log := logger.Log.WithField("limit", limit)

	query := `SELECT ` + outboxColumns + ` FROM outbox_messages
		WHERE dispatched_at IS NULL
		AND (last_error IS NULL OR last_error <> $1)
		AND next_attempt_at <= $2
		ORDER BY occurred_at ASC, id ASC
		LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, model.PoisonMarker, now, limit)
	if err != nil {
		log.WithError(err).Error("Failed to execute fetch pending outbox messages query")
		return nil, fmt.Errorf("fetch pending outbox messages: %w", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

// MarkDispatched sets dispatched_at once. It reports false if the message was already dispatched.
func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE outbox_messages SET dispatched_at = $2, attempt_count = attempt_count + 1
		WHERE id = $1 AND dispatched_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, id, at)
	if err != nil {
		logger.Log.WithError(err).WithField("message_id", id).Error("Failed to mark outbox message dispatched")
		return false, fmt.Errorf("mark outbox message dispatched: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark outbox message dispatched rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkFailed records one failed attempt. The attempt that brings attempt_count to
// maxAttempts flags the message as poison, so it gets exactly maxAttempts tries.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time, maxAttempts int) (FailureOutcome, error) {
	query := `UPDATE outbox_messages
		SET attempt_count = attempt_count + 1,
			last_error = CASE WHEN attempt_count + 1 >= $4 THEN $5 ELSE $2 END,
			next_attempt_at = $3
		WHERE id = $1 AND dispatched_at IS NULL
		RETURNING attempt_count, last_error`

	var (
		outcome FailureOutcome
		stored  sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, query, id, lastError, nextAttemptAt, maxAttempts, model.PoisonMarker).Scan(&outcome.AttemptCount, &stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailureOutcome{}, ErrNotFound
		}
		logger.Log.WithError(err).WithField("message_id", id).Error("Failed to record outbox publish failure")
		return FailureOutcome{}, fmt.Errorf("mark outbox message failed: %w", err)
	}
	outcome.Poisoned = stored.Valid && stored.String == model.PoisonMarker
	return outcome, nil
}

// Requeue returns a poisoned message to the pending set. attempt_count is left untouched.
func (r *OutboxRepository) Requeue(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	log := logger.Log.WithField("message_id", id)
	log.Info("Executing query to requeue poisoned outbox message")

	query := `UPDATE outbox_messages SET last_error = NULL, next_attempt_at = $2
		WHERE id = $1 AND dispatched_at IS NULL AND last_error = $3`
	res, err := r.DB.ExecContext(ctx, query, id, at, model.PoisonMarker)
	if err != nil {
		log.WithError(err).Error("Failed to execute requeue outbox message query")
		return false, fmt.Errorf("requeue outbox message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("requeue outbox message rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListPoisoned returns messages set aside after exhausting their attempts, oldest first.
func (r *OutboxRepository) ListPoisoned(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages
		WHERE dispatched_at IS NULL AND last_error = $1
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, model.PoisonMarker, limit)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to execute list poisoned outbox messages query")
		return nil, fmt.Errorf("list poisoned outbox messages: %w", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

func scanOutboxMessages(rows *sql.Rows) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	for rows.Next() {
		var (
			msg          model.OutboxMessage
			dispatchedAt sql.NullTime
			lastError    sql.NullString
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.EventType,
			&msg.Payload,
			&msg.OccurredAt,
			&dispatchedAt,
			&msg.AttemptCount,
			&lastError,
			&msg.NextAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		if dispatchedAt.Valid {
			t := dispatchedAt.Time
			msg.DispatchedAt = &t
		}
		if lastError.Valid {
			s := lastError.String
			msg.LastError = &s
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox messages: %w", err)
	}
	return messages, nil
}
