package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// ErrUnitOfWorkClosed is returned when a finished unit of work is used again.
var ErrUnitOfWorkClosed = errors.New("unit of work already committed or rolled back")

// Scope is the view a use case gets while its unit of work is open.
// Every repository it hands out is bound to the same transaction.
type Scope interface {
	Users() IUserRepository
	RefreshTokens() ITokenRepository
	Outbox() IOutboxRepository
	// Track registers an aggregate whose recorded events are drained into the outbox on commit.
	Track(aggregates ...model.EventSource)
	// Record queues events that are not owned by a tracked aggregate.
	Record(events ...model.DomainEvent)
}

// Transactor runs a function inside a unit of work: commit when it returns nil, roll back otherwise.
type Transactor interface {
	WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, scope Scope) error) error
}

// UnitOfWorkFactory opens one unit of work per logical request.
type UnitOfWorkFactory struct {
	db        *sql.DB
	clock     common.Clock
	ids       common.IDGenerator
	isolation sql.IsolationLevel
	onCommit  func()
}

func NewUnitOfWorkFactory(db *sql.DB, clock common.Clock, ids common.IDGenerator) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{
		db:        db,
		clock:     clock,
		ids:       ids,
		isolation: sql.LevelReadCommitted,
	}
}

// OnCommit registers a hook that runs after every commit that wrote outbox rows.
// The dispatcher uses it to wake up instead of waiting for its next tick.
func (f *UnitOfWorkFactory) OnCommit(hook func()) {
	f.onCommit = hook
}

// Begin opens a transaction. Cancelling ctx before Commit rolls it back.
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, &sql.TxOptions{Isolation: f.isolation})
	if err != nil {
		return nil, fmt.Errorf("could not begin unit of work: %w", err)
	}
	return &UnitOfWork{
		tx:       tx,
		clock:    f.clock,
		ids:      f.ids,
		onCommit: f.onCommit,
		users:    NewUserRepository(tx),
		tokens:   NewTokenRepository(tx),
		outbox:   NewOutboxRepository(tx),
	}, nil
}

// WithinUnitOfWork implements Transactor. A panic inside fn rolls back and is re-raised.
func (f *UnitOfWorkFactory) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, scope Scope) error) (err error) {
	uow, err := f.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			logger.Log.WithError(rbErr).Error("Failed to roll back unit of work")
		}
		return err
	}
	return uow.Commit(ctx)
}

// UnitOfWork owns one transaction plus the events raised while it was open.
type UnitOfWork struct {
	tx       *sql.Tx
	clock    common.Clock
	ids      common.IDGenerator
	onCommit func()

	users  *UserRepository
	tokens *TokenRepository
	outbox *OutboxRepository

	tracked []model.EventSource
	events  []model.DomainEvent
	done    bool
}

func (u *UnitOfWork) Users() IUserRepository          { return u.users }
func (u *UnitOfWork) RefreshTokens() ITokenRepository { return u.tokens }
func (u *UnitOfWork) Outbox() IOutboxRepository       { return u.outbox }

func (u *UnitOfWork) Track(aggregates ...model.EventSource) {
	u.tracked = append(u.tracked, aggregates...)
}

func (u *UnitOfWork) Record(events ...model.DomainEvent) {
	u.events = append(u.events, events...)
}

// Commit appends every collected event to the outbox and commits the transaction.
// Either the aggregate changes and their outbox rows all persist, or none do.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return ErrUnitOfWorkClosed
	}
	if err := ctx.Err(); err != nil {
		_ = u.Rollback()
		return fmt.Errorf("unit of work aborted before commit: %w", err)
	}

	messages, err := u.pendingMessages()
	if err != nil {
		_ = u.Rollback()
		return err
	}
	if len(messages) > 0 {
		if err := u.outbox.Append(ctx, messages...); err != nil {
			_ = u.Rollback()
			return err
		}
	}

	u.done = true
	if err := u.tx.Commit(); err != nil {
		logger.Log.WithError(err).Error("Failed to commit unit of work")
		return fmt.Errorf("could not commit unit of work: %w", err)
	}

	if len(messages) > 0 {
		logger.Log.WithField("outbox_messages", len(messages)).Info("Unit of work committed")
		if u.onCommit != nil {
			u.onCommit()
		}
	}
	return nil
}

// Rollback discards everything. Rolling back a finished unit of work is a no-op.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.events = nil
	u.tracked = nil
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("could not roll back unit of work: %w", err)
	}
	return nil
}

// pendingMessages drains tracked aggregates first, then explicitly recorded events, preserving program order.
func (u *UnitOfWork) pendingMessages() ([]*model.OutboxMessage, error) {
	var events []model.DomainEvent
	for _, agg := range u.tracked {
		events = append(events, agg.PullEvents()...)
	}
	events = append(events, u.events...)
	u.events = nil

	messages := make([]*model.OutboxMessage, 0, len(events))
	for _, event := range events {
		msg, err := NewOutboxMessage(u.ids, u.clock, event)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// NewOutboxMessage serializes a domain event into a pending outbox row.
func NewOutboxMessage(ids common.IDGenerator, clock common.Clock, event model.DomainEvent) (*model.OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"event_type": event.EventType(),
		}).WithError(err).Error("Failed to serialize domain event")
		return nil, fmt.Errorf("serialize %s event: %w", event.EventType(), err)
	}

	occurredAt := event.OccurredAt()
	if occurredAt.IsZero() {
		occurredAt = clock.Now()
	}
	return &model.OutboxMessage{
		ID:            ids.NewID(),
		EventType:     event.EventType(),
		Payload:       payload,
		OccurredAt:    occurredAt,
		NextAttemptAt: occurredAt,
	}, nil
}
