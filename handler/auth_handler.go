package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// AuthUseCases is implemented by service.AuthService.
type AuthUseCases interface {
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.TokenPair, error)
	Refresh(ctx context.Context, rawRefreshToken string) (*model.TokenPair, error)
	Logout(ctx context.Context, userID int, rawRefreshToken string) (int64, error)
	LogoutAllDevices(ctx context.Context, userID int) (int64, error)
	ChangePassword(ctx context.Context, userID int, currentPassword, newPassword string) (*model.TokenPair, error)
}

type AuthHandler struct {
	service AuthUseCases
}

func NewAuthHandler(service AuthUseCases) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register godoc
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        user  body      model.RegisterRequest  true  "User registration info"
// @Success      201   {object}  model.User
// @Failure      400   {object}  common.AppError
// @Failure      409   {object}  common.AppError
// @Router       /register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.RegisterRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	user, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return toAppError(err)
	}

	writeJSON(w, http.StatusCreated, user)
	return nil
}

// Login godoc
// @Summary      Log in and receive an access/refresh token pair
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        credentials  body      model.LoginRequest  true  "User credentials"
// @Success      200          {object}  model.TokenPair
// @Failure      401          {object}  common.AppError
// @Router       /login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.LoginRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return toAppError(err)
	}

	writeJSON(w, http.StatusOK, pair)
	return nil
}

// Refresh godoc
// @Summary      Rotate a refresh token
// @Description  The presented token is consumed. Replaying it revokes every session of the user.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        token  body      model.RefreshRequest  true  "Refresh token"
// @Success      200    {object}  model.TokenPair
// @Failure      401    {object}  common.AppError
// @Router       /api/token/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.RefreshRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return toAppError(err)
	}

	writeJSON(w, http.StatusOK, pair)
	return nil
}

// Logout godoc
// @Summary      End the session of the given refresh token, or every session without one
// @Tags         auth
// @Accept       json
// @Security     BearerAuth
// @Param        token  body  model.LogoutRequest  false  "Refresh token of the session to end"
// @Success      204
// @Router       /api/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) *common.AppError {
	userID, appErr := userIDFrom(r)
	if appErr != nil {
		return appErr
	}

	// The body is optional.
	var req model.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return common.NewValidationError("Invalid request body", err)
	}
	if appErr := common.ValidateStruct(&req); appErr != nil {
		return appErr
	}

	revoked, err := h.service.Logout(r.Context(), userID, req.RefreshToken)
	if err != nil {
		return toAppError(err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "revoked_count": revoked}).Info("Logout request handled")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// LogoutAll godoc
// @Summary      End every session of the caller
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Router       /api/logout/all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) *common.AppError {
	userID, appErr := userIDFrom(r)
	if appErr != nil {
		return appErr
	}

	if _, err := h.service.LogoutAllDevices(r.Context(), userID); err != nil {
		return toAppError(err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// ChangePassword godoc
// @Summary      Change the caller's password
// @Description  Every existing session is revoked and a new token pair is returned.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        passwords  body      model.ChangePasswordRequest  true  "Current and new password"
// @Success      200        {object}  model.TokenPair
// @Failure      401        {object}  common.AppError
// @Router       /api/password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) *common.AppError {
	userID, appErr := userIDFrom(r)
	if appErr != nil {
		return appErr
	}

	var req model.ChangePasswordRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	pair, err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return toAppError(err)
	}

	writeJSON(w, http.StatusOK, pair)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
