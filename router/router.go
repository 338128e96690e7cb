package router

import (
	"net/http"

	"github.com/miguelbtcode/techmart-backend-sub002/handler"
)

// NewRouter wires every endpoint. Routes under /api/ require a bearer access token,
// except the refresh exchange, which runs on the refresh token alone.
func NewRouter(authHandler *handler.AuthHandler, adminHandler *handler.AdminHandler, healthHandler *handler.HealthHandler, parser handler.AccessTokenParser) http.Handler {
	mux := http.NewServeMux()
	authenticated := handler.AuthMiddleware(parser)
	admin := func(h http.Handler) http.Handler {
		return authenticated(handler.AdminMiddleware(h))
	}

	mux.HandleFunc("GET /health", healthHandler.HealthCheck)

	mux.Handle("POST /register", handler.ErrorHandlingMiddleware(authHandler.Register))
	mux.Handle("POST /login", handler.ErrorHandlingMiddleware(authHandler.Login))
	mux.Handle("POST /api/token/refresh", handler.ErrorHandlingMiddleware(authHandler.Refresh))

	mux.Handle("POST /api/logout", authenticated(handler.ErrorHandlingMiddleware(authHandler.Logout)))
	mux.Handle("POST /api/logout/all", authenticated(handler.ErrorHandlingMiddleware(authHandler.LogoutAll)))
	mux.Handle("POST /api/password", authenticated(handler.ErrorHandlingMiddleware(authHandler.ChangePassword)))

	mux.Handle("GET /api/admin/users", admin(handler.ErrorHandlingMiddleware(adminHandler.ListUsers)))
	mux.Handle("PUT /api/admin/users/{id}/role", admin(handler.ErrorHandlingMiddleware(adminHandler.UpdateUserRole)))
	mux.Handle("POST /api/admin/users/{id}/revoke-sessions", admin(handler.ErrorHandlingMiddleware(adminHandler.RevokeSessions)))
	mux.Handle("GET /api/admin/outbox/poisoned", admin(handler.ErrorHandlingMiddleware(adminHandler.ListPoisoned)))
	mux.Handle("POST /api/admin/outbox/{id}/requeue", admin(handler.ErrorHandlingMiddleware(adminHandler.RequeueOutboxMessage)))

	return handler.RecoverMiddleware(mux)
}
