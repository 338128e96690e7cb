package service

import (
	"context"
	"errors"

	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
	"github.com/sirupsen/logrus"
)

// UserService handles administrator operations on user accounts.
type UserService struct {
	uow    repository.Transactor
	tokens *RefreshTokenService
	clock  common.Clock
}

func NewUserService(uow repository.Transactor, tokens *RefreshTokenService, clock common.Clock) *UserService {
	return &UserService{uow: uow, tokens: tokens, clock: clock}
}

// AssignRole validates the role and stores it. Assigning the role a user already has changes nothing.
// An administrator cannot demote themselves, so at least one admin always remains.
func (s *UserService) AssignRole(ctx context.Context, adminID, userID int, role model.Role) error {
	if !role.Valid() {
		return ErrValidation
	}
	if adminID == userID && role != model.RoleAdmin {
		return ErrForbidden
	}

	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		user, err := scope.Users().GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		previous := user.Role
		if err := user.AssignRole(role, adminID, s.clock.Now()); err != nil {
			return ErrValidation
		}
		if previous == user.Role {
			return nil
		}
		if err := scope.Users().UpdateUserRole(ctx, user.ID, user.Role); err != nil {
			return err
		}
		scope.Track(user)
		return nil
	})
	if err != nil {
		return classify(err)
	}

	logger.Log.WithFields(logrus.Fields{
		"admin_id": adminID,
		"user_id":  userID,
		"role":     role,
	}).Info("User role assigned")
	return nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		var err error
		users, err = scope.Users().GetAllUsers(ctx)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return users, nil
}

// RevokeUserSessions ends every session of a user on an administrator's behalf.
func (s *UserService) RevokeUserSessions(ctx context.Context, adminID, userID int) (int64, error) {
	var revoked int64
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		if _, err := scope.Users().GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var err error
		revoked, err = s.tokens.RevokeAll(ctx, scope.RefreshTokens(), userID, model.RevokeReasonAdminRevoke)
		if err != nil {
			return err
		}
		scope.Record(model.SessionsRevoked{
			UserID:       userID,
			Reason:       model.RevokeReasonAdminRevoke,
			RevokedBy:    adminID,
			RevokedCount: revoked,
			At:           s.clock.Now(),
		})
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	logger.Log.WithFields(logrus.Fields{
		"admin_id":      adminID,
		"user_id":       userID,
		"revoked_count": revoked,
	}).Warn("Administrator revoked user sessions")
	return revoked, nil
}
