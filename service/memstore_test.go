package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
)

// testClock is a settable clock shared by the fakes.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memTokens mirrors the SQL token store, including the conditional revoke.
type memTokens struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*model.RefreshToken
	byHash map[string]uuid.UUID
}

func newMemTokens() *memTokens {
	return &memTokens{byID: map[uuid.UUID]*model.RefreshToken{}, byHash: map[string]uuid.UUID{}}
}

func (m *memTokens) Create(ctx context.Context, token *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.byID[token.ID] = &cp
	m.byHash[token.TokenHash] = token.ID
	return nil
}

func (m *memTokens) GetByTokenHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memTokens) RevokeIfActive(ctx context.Context, id uuid.UUID, reason model.RevokeReason, at time.Time, replacedBy *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.Revoked {
		return false, nil
	}
	revoke(t, reason, at)
	t.ReplacedByTokenID = replacedBy
	return true, nil
}

func (m *memTokens) RevokeSession(ctx context.Context, userID int, sessionID uuid.UUID, reason model.RevokeReason, at time.Time) (int64, error) {
	return m.revokeWhere(func(t *model.RefreshToken) bool {
		return t.UserID == userID && t.SessionID == sessionID
	}, reason, at), nil
}

func (m *memTokens) RevokeAllForUser(ctx context.Context, userID int, reason model.RevokeReason, at time.Time) (int64, error) {
	return m.revokeWhere(func(t *model.RefreshToken) bool { return t.UserID == userID }, reason, at), nil
}

func (m *memTokens) ListActiveByUser(ctx context.Context, userID int, now time.Time) ([]*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RefreshToken
	for _, t := range m.byID {
		if t.UserID == userID && t.IsActive(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *memTokens) revokeWhere(match func(*model.RefreshToken) bool, reason model.RevokeReason, at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.byID {
		if !t.Revoked && match(t) {
			revoke(t, reason, at)
			n++
		}
	}
	return n
}

func (m *memTokens) get(id uuid.UUID) model.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func revoke(t *model.RefreshToken, reason model.RevokeReason, at time.Time) {
	r := reason
	ts := at
	t.Revoked = true
	t.RevokedAt = &ts
	t.RevokedReason = &r
}

type memUsers struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]model.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int]model.User{}}
}

func (m *memUsers) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email || u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.byID[user.ID] = model.User{ID: user.ID, Username: user.Username, Email: user.Email, Password: user.Password, Role: user.Role, CreatedAt: user.CreatedAt}
	return nil
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetUserByID(ctx context.Context, id int) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) GetUserForUpdate(ctx context.Context, id int) (*model.User, error) {
	return m.GetUserByID(ctx, id)
}

func (m *memUsers) GetAllUsers(ctx context.Context) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.User, 0, len(m.byID))
	for _, u := range m.byID {
		cp := u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, id int, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Password = hash
	m.byID[id] = u
	return nil
}

func (m *memUsers) UpdateUserRole(ctx context.Context, id int, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	m.byID[id] = u
	return nil
}

// memOutbox only records what committed units of work appended.
type memOutbox struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (m *memOutbox) Append(ctx context.Context, messages ...*model.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, messages...)
	return nil
}

func (m *memOutbox) FetchPending(context.Context, time.Time, int) ([]*model.OutboxMessage, error) {
	return nil, nil
}

func (m *memOutbox) MarkDispatched(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func (m *memOutbox) MarkFailed(context.Context, uuid.UUID, string, time.Time, int) (repository.FailureOutcome, error) {
	return repository.FailureOutcome{}, nil
}

func (m *memOutbox) Requeue(context.Context, uuid.UUID, time.Time) (bool, error) { return false, nil }

func (m *memOutbox) ListPoisoned(context.Context, int) ([]*model.OutboxMessage, error) {
	return nil, nil
}

func (m *memOutbox) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg.EventType)
	}
	return out
}

// memTransactor runs the function against the in-memory stores and appends
// the collected events only when it returns nil. Store writes made before an
// error are not undone; the tests only exercise paths where that is irrelevant.
type memTransactor struct {
	clock  common.Clock
	ids    common.IDGenerator
	users  *memUsers
	tokens *memTokens
	outbox *memOutbox
}

func newMemTransactor(clock common.Clock) *memTransactor {
	return &memTransactor{
		clock:  clock,
		ids:    common.UUIDGenerator{},
		users:  newMemUsers(),
		tokens: newMemTokens(),
		outbox: &memOutbox{},
	}
}

func (tr *memTransactor) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, scope repository.Scope) error) error {
	scope := &memScope{tr: tr}
	if err := fn(ctx, scope); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var events []model.DomainEvent
	for _, agg := range scope.tracked {
		events = append(events, agg.PullEvents()...)
	}
	events = append(events, scope.events...)
	for _, e := range events {
		msg, err := repository.NewOutboxMessage(tr.ids, tr.clock, e)
		if err != nil {
			return err
		}
		_ = tr.outbox.Append(ctx, msg)
	}
	return nil
}

type memScope struct {
	tr      *memTransactor
	tracked []model.EventSource
	events  []model.DomainEvent
}

func (s *memScope) Users() repository.IUserRepository          { return s.tr.users }
func (s *memScope) RefreshTokens() repository.ITokenRepository { return s.tr.tokens }
func (s *memScope) Outbox() repository.IOutboxRepository       { return s.tr.outbox }
func (s *memScope) Track(aggs ...model.EventSource)            { s.tracked = append(s.tracked, aggs...) }
func (s *memScope) Record(events ...model.DomainEvent)         { s.events = append(s.events, events...) }

// failingTransactor simulates an unreachable database.
type failingTransactor struct{ err error }

func (f failingTransactor) WithinUnitOfWork(context.Context, func(context.Context, repository.Scope) error) error {
	return f.err
}
