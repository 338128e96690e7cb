package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// UserAdmin is implemented by service.UserService.
type UserAdmin interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	AssignRole(ctx context.Context, adminID, userID int, role model.Role) error
	RevokeUserSessions(ctx context.Context, adminID, userID int) (int64, error)
}

// OutboxAdmin is implemented by service.OutboxService.
type OutboxAdmin interface {
	Requeue(ctx context.Context, id uuid.UUID) error
	ListPoisoned(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
}

type AdminHandler struct {
	users  UserAdmin
	outbox OutboxAdmin
}

func NewAdminHandler(users UserAdmin, outbox OutboxAdmin) *AdminHandler {
	return &AdminHandler{users: users, outbox: outbox}
}

// ListUsers godoc
// @Summary      List all users
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   model.User
// @Failure      403  {object}  common.AppError
// @Router       /api/admin/users [get]
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) *common.AppError {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		return toAppError(err)
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
	return nil
}

// UpdateUserRole godoc
// @Summary      Update a user's role
// @Tags         admin
// @Accept       json
// @Security     BearerAuth
// @Param        id    path  int                          true  "User ID"
// @Param        role  body  model.UpdateUserRoleRequest  true  "New role"
// @Success      200   {object}  map[string]string
// @Failure      404   {object}  common.AppError
// @Router       /api/admin/users/{id}/role [put]
func (h *AdminHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) *common.AppError {
	adminID, appErr := userIDFrom(r)
	if appErr != nil {
		return appErr
	}
	userID, appErr := pathUserID(r)
	if appErr != nil {
		return appErr
	}

	var req model.UpdateUserRoleRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	if err := h.users.AssignRole(r.Context(), adminID, userID, req.Role); err != nil {
		return toAppError(err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "User role updated successfully"})
	return nil
}

// RevokeSessions godoc
// @Summary      Revoke every session of a user
// @Tags         admin
// @Security     BearerAuth
// @Param        id  path  int  true  "User ID"
// @Success      200  {object}  map[string]int64
// @Router       /api/admin/users/{id}/revoke-sessions [post]
func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) *common.AppError {
	adminID, appErr := userIDFrom(r)
	if appErr != nil {
		return appErr
	}
	userID, appErr := pathUserID(r)
	if appErr != nil {
		return appErr
	}

	revoked, err := h.users.RevokeUserSessions(r.Context(), adminID, userID)
	if err != nil {
		return toAppError(err)
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
	return nil
}

// ListPoisoned godoc
// @Summary      List outbox messages set aside as poison
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query  int  false  "Maximum number of messages"
// @Success      200    {array}  model.OutboxMessage
// @Router       /api/admin/outbox/poisoned [get]
func (h *AdminHandler) ListPoisoned(w http.ResponseWriter, r *http.Request) *common.AppError {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.outbox.ListPoisoned(r.Context(), limit)
	if err != nil {
		return toAppError(err)
	}
	if messages == nil {
		messages = []*model.OutboxMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
	return nil
}

// RequeueOutboxMessage godoc
// @Summary      Make a poisoned outbox message pending again
// @Tags         admin
// @Security     BearerAuth
// @Param        id  path  string  true  "Outbox message ID"
// @Success      202
// @Failure      404  {object}  common.AppError
// @Router       /api/admin/outbox/{id}/requeue [post]
func (h *AdminHandler) RequeueOutboxMessage(w http.ResponseWriter, r *http.Request) *common.AppError {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return common.NewValidationError("Invalid message ID", err)
	}

	if err := h.outbox.Requeue(r.Context(), id); err != nil {
		return toAppError(err)
	}

	logger.Log.WithFields(logrus.Fields{"message_id": id}).Info("Requeue request handled")
	w.WriteHeader(http.StatusAccepted)
	return nil
}

func pathUserID(r *http.Request) (int, *common.AppError) {
	userID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || userID <= 0 {
		return 0, common.NewValidationError("Invalid user ID", err)
	}
	return userID, nil
}
