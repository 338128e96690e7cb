package handler

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
	"github.com/miguelbtcode/techmart-backend-sub002/service"
	"github.com/sirupsen/logrus"
)

func ErrorHandlingMiddleware(next func(http.ResponseWriter, *http.Request) *common.AppError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			err.Send(w)
		}
	}
}

// RecoverMiddleware turns a panic into a generic 500 and an error log entry.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.Log.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  p,
					"stack":  string(debug.Stack()),
				}).Error("Recovered from panic while serving request")
				common.NewInternalError(nil).Send(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// toAppError maps service outcomes onto HTTP errors. Every credential
// rejection looks the same to the client.
func toAppError(err error) *common.AppError {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return common.NewUnauthorizedError(err)
	case errors.Is(err, service.ErrValidation):
		return common.NewValidationError("Request failed validation", err)
	case errors.Is(err, service.ErrForbidden):
		return common.NewAppError(http.StatusForbidden, "Operation not permitted", err)
	case errors.Is(err, service.ErrUserNotFound):
		return common.NewAppError(http.StatusNotFound, "User not found", err)
	case errors.Is(err, repository.ErrNotFound):
		return common.NewAppError(http.StatusNotFound, "Resource not found", err)
	case errors.Is(err, service.ErrEmailTaken):
		return common.NewAppError(http.StatusConflict, "Username or email already registered", err)
	case errors.Is(err, service.ErrUnavailable):
		return common.NewAppError(http.StatusServiceUnavailable, "Service temporarily unavailable, please retry", err)
	default:
		return common.NewInternalError(err)
	}
}
