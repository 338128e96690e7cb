package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var (
	insertUser   = regexp.QuoteMeta(`INSERT INTO users`)
	insertOutbox = regexp.QuoteMeta(`INSERT INTO outbox_messages`)
)

func newFactory(t *testing.T) (*UnitOfWorkFactory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUnitOfWorkFactory(db, fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, common.UUIDGenerator{}), mock
}

func registerUser(ctx context.Context, scope Scope) error {
	user := &model.User{Username: "ana", Email: "ana@example.com", Password: "hash", Role: model.RoleUser}
	if err := scope.Users().CreateUser(ctx, user); err != nil {
		return err
	}
	user.Registered(user.CreatedAt)
	scope.Track(user)
	scope.Record(model.UserLoggedIn{UserID: user.ID, SessionID: uuid.New(), At: user.CreatedAt})
	return nil
}

func TestUnitOfWork_CommitWritesAggregateAndOutboxTogether(t *testing.T) {
	factory, mock := newFactory(t)
	signals := 0
	factory.OnCommit(func() { signals++ })
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(insertUser).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, created))
	mock.ExpectExec(insertOutbox).
		WithArgs(sqlmock.AnyArg(), model.EventUserRegistered, sqlmock.AnyArg(), created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertOutbox).
		WithArgs(sqlmock.AnyArg(), model.EventUserLoggedIn, sqlmock.AnyArg(), created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := factory.WithinUnitOfWork(context.Background(), registerUser)

	assert.NoError(t, err)
	assert.Equal(t, 1, signals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_OutboxFailureRollsBackAggregate(t *testing.T) {
	factory, mock := newFactory(t)
	signals := 0
	factory.OnCommit(func() { signals++ })

	mock.ExpectBegin()
	mock.ExpectQuery(insertUser).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectExec(insertOutbox).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := factory.WithinUnitOfWork(context.Background(), registerUser)

	assert.Error(t, err)
	assert.Equal(t, 0, signals)
	assert.NoError(t, mock.ExpectationsWereMet(), "user insert and outbox insert must roll back together")
}

func TestUnitOfWork_FunctionErrorRollsBack(t *testing.T) {
	factory, mock := newFactory(t)
	boom := errors.New("rejected")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := factory.WithinUnitOfWork(context.Background(), func(ctx context.Context, scope Scope) error {
		scope.Record(model.PasswordChanged{UserID: 1})
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_PanicRollsBackAndPropagates(t *testing.T) {
	factory, mock := newFactory(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = factory.WithinUnitOfWork(context.Background(), func(ctx context.Context, scope Scope) error {
			panic("bug")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_CancelledContextAbortsBeforeCommit(t *testing.T) {
	factory, mock := newFactory(t)
	ctx, cancel := context.WithCancel(context.Background())

	mock.ExpectBegin()
	mock.ExpectRollback()

	uow, err := factory.Begin(ctx)
	require.NoError(t, err)
	uow.Record(model.PasswordChanged{UserID: 1})
	cancel()

	err = uow.Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 10*time.Millisecond)
}

func TestUnitOfWork_ClosedAfterCommit(t *testing.T) {
	factory, mock := newFactory(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	uow, err := factory.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, uow.Commit(context.Background()))

	assert.ErrorIs(t, uow.Commit(context.Background()), ErrUnitOfWorkClosed)
	assert.NoError(t, uow.Rollback(), "rollback after commit is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewOutboxMessage(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := fixedClock{now: now}

	msg, err := NewOutboxMessage(common.UUIDGenerator{}, clock, model.RoleAssigned{UserID: 4, OldRole: model.RoleUser, NewRole: model.RoleAdmin, AssignedBy: 1})
	require.NoError(t, err)

	assert.Equal(t, model.EventRoleAssigned, msg.EventType)
	assert.Equal(t, now, msg.OccurredAt, "zero event time falls back to the clock")
	assert.Equal(t, now, msg.NextAttemptAt)
	assert.Zero(t, msg.AttemptCount)
	assert.True(t, msg.IsPending())
	assert.JSONEq(t, `{"user_id":4,"old_role":"user","new_role":"admin","assigned_by":1,"occurred_at":"0001-01-01T00:00:00Z"}`, string(msg.Payload))
}
