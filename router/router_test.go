package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/handler"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/router"
	"github.com/miguelbtcode/techmart-backend-sub002/security"
	"github.com/miguelbtcode/techmart-backend-sub002/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// stubAuth records which use case the router reached.
type stubAuth struct {
	called []string
	userID int
}

func (s *stubAuth) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	s.called = append(s.called, "register")
	return &model.User{ID: 1, Username: username, Email: email, Role: model.RoleUser}, nil
}

func (s *stubAuth) Login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	s.called = append(s.called, "login")
	return nil, service.ErrUnauthorized
}

func (s *stubAuth) Refresh(ctx context.Context, rawRefreshToken string) (*model.TokenPair, error) {
	s.called = append(s.called, "refresh")
	return nil, service.ErrUnauthorized
}

func (s *stubAuth) Logout(ctx context.Context, userID int, rawRefreshToken string) (int64, error) {
	s.called = append(s.called, "logout")
	s.userID = userID
	return 1, nil
}

func (s *stubAuth) LogoutAllDevices(ctx context.Context, userID int) (int64, error) {
	s.called = append(s.called, "logout_all")
	s.userID = userID
	return 2, nil
}

func (s *stubAuth) ChangePassword(ctx context.Context, userID int, currentPassword, newPassword string) (*model.TokenPair, error) {
	s.called = append(s.called, "change_password")
	return nil, service.ErrUnauthorized
}

type stubUsers struct{}

func (stubUsers) ListUsers(ctx context.Context) ([]*model.User, error) {
	return []*model.User{{ID: 1, Username: "root", Role: model.RoleAdmin}}, nil
}

func (stubUsers) AssignRole(ctx context.Context, adminID, userID int, role model.Role) error {
	return nil
}

func (stubUsers) RevokeUserSessions(ctx context.Context, adminID, userID int) (int64, error) {
	return 3, nil
}

type stubOutbox struct{}

func (stubOutbox) Requeue(ctx context.Context, id uuid.UUID) error { return nil }

func (stubOutbox) ListPoisoned(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return nil, nil
}

type fixture struct {
	handler http.Handler
	auth    *stubAuth
	signer  *security.TokenSigner
}

func newFixture() *fixture {
	signer := security.NewTokenSigner([]byte("router-test-key"), "techmart-auth", 15*time.Minute)
	auth := &stubAuth{}
	h := router.NewRouter(
		handler.NewAuthHandler(auth),
		handler.NewAdminHandler(stubUsers{}, stubOutbox{}),
		handler.NewHealthHandler(nil),
		signer,
	)
	return &fixture{handler: h, auth: auth, signer: signer}
}

func (f *fixture) bearer(t *testing.T, user *model.User) string {
	t.Helper()
	token, _, err := f.signer.Sign(user, uuid.New(), time.Now())
	require.NoError(t, err)
	return "Bearer " + token
}

func (f *fixture) do(method, path, body, authorization string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthIsPublic(t *testing.T) {
	rr := newFixture().do(http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","database":"not_configured"}`, rr.Body.String())
}

func TestPublicAuthRoutes(t *testing.T) {
	f := newFixture()

	rr := f.do(http.MethodPost, "/register", `{"username":"ana","email":"ana@example.com","password":"password123"}`, "")
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(http.MethodPost, "/login", `{"email":"ana@example.com","password":"password123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// refresh runs on the refresh token alone
	rr = f.do(http.MethodPost, "/api/token/refresh", `{"refresh_token":"`+strings.Repeat("x", 43)+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	assert.Equal(t, []string{"register", "login", "refresh"}, f.auth.called)
}

func TestAuthenticatedRoutesRequireAccessToken(t *testing.T) {
	f := newFixture()

	for _, path := range []string{"/api/logout", "/api/logout/all", "/api/password"} {
		rr := f.do(http.MethodPost, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)

		rr = f.do(http.MethodPost, path, "", "Bearer not-a-token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	assert.Empty(t, f.auth.called)

	rr := f.do(http.MethodPost, "/api/logout/all", "", f.bearer(t, &model.User{ID: 7, Role: model.RoleUser}))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 7, f.auth.userID)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture()
	user := f.bearer(t, &model.User{ID: 7, Role: model.RoleUser})
	admin := f.bearer(t, &model.User{ID: 1, Role: model.RoleAdmin})
	messageID := uuid.New().String()

	routes := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/api/admin/users", "", http.StatusOK},
		{http.MethodPut, "/api/admin/users/7/role", `{"role":"admin"}`, http.StatusOK},
		{http.MethodPost, "/api/admin/users/7/revoke-sessions", "", http.StatusOK},
		{http.MethodGet, "/api/admin/outbox/poisoned", "", http.StatusOK},
		{http.MethodPost, "/api/admin/outbox/" + messageID + "/requeue", "", http.StatusAccepted},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, f.do(route.method, route.path, route.body, "").Code)
			assert.Equal(t, http.StatusForbidden, f.do(route.method, route.path, route.body, user).Code)
			assert.Equal(t, route.status, f.do(route.method, route.path, route.body, admin).Code)
		})
	}
}

func TestMethodMismatch(t *testing.T) {
	rr := newFixture().do(http.MethodGet, "/login", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
