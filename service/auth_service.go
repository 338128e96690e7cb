package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
	"github.com/miguelbtcode/techmart-backend-sub002/security"
	"github.com/sirupsen/logrus"
)

// AccessTokenSigner mints the short-lived access token handed out with every refresh token.
type AccessTokenSigner interface {
	Sign(user *model.User, sessionID uuid.UUID, now time.Time) (string, time.Time, error)
}

// AuthService composes the login, refresh and logout use cases.
// Each call runs in exactly one unit of work.
type AuthService struct {
	uow    repository.Transactor
	tokens *RefreshTokenService
	hasher security.PasswordHasher
	signer AccessTokenSigner
	clock  common.Clock

	decoyOnce sync.Once
	decoy     string
}

func NewAuthService(uow repository.Transactor, tokens *RefreshTokenService, hasher security.PasswordHasher, signer AccessTokenSigner, clock common.Clock) *AuthService {
	return &AuthService{uow: uow, tokens: tokens, hasher: hasher, signer: signer, clock: clock}
}

// Register creates a user with the default role.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:  strings.TrimSpace(username),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Password:  hash,
		Role:      model.RoleUser,
		CreatedAt: s.clock.Now(),
	}

	err = s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		if err := scope.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrEmailTaken
			}
			return err
		}
		user.Registered(user.CreatedAt)
		scope.Track(user)
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	logger.Log.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// Login verifies credentials and starts a new device session.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	var pair *model.TokenPair
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		user, err := scope.Users().GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.hasher.Verify(password, s.decoyHash())
				return ErrUnauthorized
			}
			return err
		}
		if !s.hasher.Verify(password, user.Password) {
			return ErrUnauthorized
		}

		issued, err := s.tokens.Issue(ctx, scope.RefreshTokens(), user.ID, uuid.Nil)
		if err != nil {
			return err
		}
		pair, err = s.pair(user, issued)
		if err != nil {
			return err
		}

		scope.Record(model.UserLoggedIn{UserID: user.ID, SessionID: issued.Record.SessionID, At: issued.Record.IssuedAt})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			logger.Log.WithField("email", email).Info("Login rejected")
		}
		return nil, classify(err)
	}
	return pair, nil
}

// Refresh rotates the presented refresh token.
// A reuse detection commits the cascade and its event, then reports ErrUnauthorized like any other rejection.
func (s *AuthService) Refresh(ctx context.Context, rawRefreshToken string) (*model.TokenPair, error) {
	var (
		pair     *model.TokenPair
		rotation Rotation
	)
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		var err error
		rotation, err = s.tokens.Rotate(ctx, scope.RefreshTokens(), rawRefreshToken)
		if err != nil {
			return err
		}

		switch rotation.Status {
		case TokenInvalid:
			return ErrUnauthorized
		case TokenReuseDetected:
			scope.Record(model.TokenReuseDetected{
				UserID:       rotation.UserID,
				SessionID:    rotation.SessionID,
				TokenID:      rotation.PreviousTokenID,
				RevokedCount: rotation.RevokedCount,
				At:           s.clock.Now(),
			})
			return nil
		}

		user, err := scope.Users().GetUserByID(ctx, rotation.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		pair, err = s.pair(user, rotation.Issued)
		if err != nil {
			return err
		}

		scope.Record(model.SessionRefreshed{
			UserID:          rotation.UserID,
			SessionID:       rotation.SessionID,
			PreviousTokenID: rotation.PreviousTokenID,
			TokenID:         rotation.Issued.Record.ID,
			At:              rotation.Issued.Record.IssuedAt,
		})
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if rotation.Status == TokenReuseDetected {
		return nil, ErrUnauthorized
	}
	return pair, nil
}

// ValidateRefreshToken reports the state of a raw refresh token without changing it.
func (s *AuthService) ValidateRefreshToken(ctx context.Context, rawRefreshToken string) (TokenCheck, error) {
	var check TokenCheck
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		var err error
		check, err = s.tokens.Validate(ctx, scope.RefreshTokens(), rawRefreshToken)
		return err
	})
	if err != nil {
		return TokenCheck{Status: TokenInvalid}, classify(err)
	}
	return check, nil
}

// Logout ends the device session the refresh token belongs to.
// Without a token every session of the user is ended. A token that is
// already dead, or that belongs to someone else, revokes nothing.
func (s *AuthService) Logout(ctx context.Context, userID int, rawRefreshToken string) (int64, error) {
	if rawRefreshToken == "" {
		return s.LogoutAllDevices(ctx, userID)
	}

	var revoked int64
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		check, err := s.tokens.Validate(ctx, scope.RefreshTokens(), rawRefreshToken)
		if err != nil {
			return err
		}
		if !check.Valid() || check.UserID != userID {
			return nil
		}

		revoked, err = s.tokens.RevokeSession(ctx, scope.RefreshTokens(), userID, check.SessionID, model.RevokeReasonManualLogout)
		if err != nil {
			return err
		}
		if revoked > 0 {
			sessionID := check.SessionID
			scope.Record(model.UserLoggedOut{UserID: userID, SessionID: &sessionID, RevokedCount: revoked, At: s.clock.Now()})
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "revoked_count": revoked}).Info("User logged out")
	return revoked, nil
}

// LogoutAllDevices revokes every active refresh token of the user.
func (s *AuthService) LogoutAllDevices(ctx context.Context, userID int) (int64, error) {
	var revoked int64
	err := s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		var err error
		revoked, err = s.tokens.RevokeAll(ctx, scope.RefreshTokens(), userID, model.RevokeReasonManualLogout)
		if err != nil {
			return err
		}
		if revoked > 0 {
			scope.Record(model.UserLoggedOut{UserID: userID, AllDevices: true, RevokedCount: revoked, At: s.clock.Now()})
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "revoked_count": revoked}).Info("User logged out of all devices")
	return revoked, nil
}

// ChangePassword replaces the password, ends every existing session and starts a fresh one.
func (s *AuthService) ChangePassword(ctx context.Context, userID int, currentPassword, newPassword string) (*model.TokenPair, error) {
	if currentPassword == newPassword {
		return nil, fmt.Errorf("%w: new password must differ from the current one", ErrValidation)
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return nil, err
	}

	var pair *model.TokenPair
	err = s.uow.WithinUnitOfWork(ctx, func(ctx context.Context, scope repository.Scope) error {
		user, err := scope.Users().GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !s.hasher.Verify(currentPassword, user.Password) {
			return ErrUnauthorized
		}

		user.ChangePassword(hash, s.clock.Now())
		if err := scope.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		scope.Track(user)

		if _, err := s.tokens.RevokeAll(ctx, scope.RefreshTokens(), user.ID, model.RevokeReasonManualLogout); err != nil {
			return err
		}
		issued, err := s.tokens.Issue(ctx, scope.RefreshTokens(), user.ID, uuid.Nil)
		if err != nil {
			return err
		}
		pair, err = s.pair(user, issued)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	logger.Log.WithField("user_id", userID).Info("Password changed, previous sessions revoked")
	return pair, nil
}

// decoyHash is compared against when the email is unknown, so that branch
// costs the same hash verification as a wrong password.
func (s *AuthService) decoyHash() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash("techmart-unknown-account")
		if err != nil {
			logger.Log.WithError(err).Error("Failed to prepare decoy password hash")
			return
		}
		s.decoy = hash
	})
	return s.decoy
}

// hash reports a password the hasher cannot accept as a validation failure.
func (s *AuthService) hash(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return "", classify(err)
	}
	return hash, nil
}

func (s *AuthService) pair(user *model.User, issued *IssuedToken) (*model.TokenPair, error) {
	access, expiresAt, err := s.signer.Sign(user, issued.Record.SessionID, issued.Record.IssuedAt)
	if err != nil {
		return nil, err
	}
	return &model.TokenPair{
		AccessToken:      access,
		RefreshToken:     issued.Raw,
		TokenType:        "Bearer",
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

// classify passes business outcomes through and marks everything else as a retryable infrastructure failure.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnavailable):
		return err
	}
	logger.Log.WithError(err).Error("Request failed on infrastructure error")
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
