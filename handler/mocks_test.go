package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/stretchr/testify/mock"
)

type mockAuthUseCases struct{ mock.Mock }

func (m *mockAuthUseCases) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	args := m.Called(username, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockAuthUseCases) Login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	args := m.Called(email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TokenPair), args.Error(1)
}

func (m *mockAuthUseCases) Refresh(ctx context.Context, rawRefreshToken string) (*model.TokenPair, error) {
	args := m.Called(rawRefreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TokenPair), args.Error(1)
}

func (m *mockAuthUseCases) Logout(ctx context.Context, userID int, rawRefreshToken string) (int64, error) {
	args := m.Called(userID, rawRefreshToken)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAuthUseCases) LogoutAllDevices(ctx context.Context, userID int) (int64, error) {
	args := m.Called(userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAuthUseCases) ChangePassword(ctx context.Context, userID int, currentPassword, newPassword string) (*model.TokenPair, error) {
	args := m.Called(userID, currentPassword, newPassword)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TokenPair), args.Error(1)
}

type mockUserAdmin struct{ mock.Mock }

func (m *mockUserAdmin) ListUsers(ctx context.Context) ([]*model.User, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.User), args.Error(1)
}

func (m *mockUserAdmin) AssignRole(ctx context.Context, adminID, userID int, role model.Role) error {
	return m.Called(adminID, userID, role).Error(0)
}

func (m *mockUserAdmin) RevokeUserSessions(ctx context.Context, adminID, userID int) (int64, error) {
	args := m.Called(adminID, userID)
	return args.Get(0).(int64), args.Error(1)
}

type mockOutboxAdmin struct{ mock.Mock }

func (m *mockOutboxAdmin) Requeue(ctx context.Context, id uuid.UUID) error {
	return m.Called(id).Error(0)
}

func (m *mockOutboxAdmin) ListPoisoned(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.OutboxMessage), args.Error(1)
}

type mockParser struct{ mock.Mock }

func (m *mockParser) Parse(tokenString string) (*model.AppClaims, error) {
	args := m.Called(tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AppClaims), args.Error(1)
}

// asUser attaches the identity AuthMiddleware would have put on the request.
func asUser(r *http.Request, userID int, role model.Role) *http.Request {
	ctx := context.WithValue(r.Context(), UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRoleKey, string(role))
	return r.WithContext(ctx)
}
