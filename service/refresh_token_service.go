// file: service/refresh_token_service.go

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
	"github.com/miguelbtcode/techmart-backend-sub002/security"
	"github.com/sirupsen/logrus"
)

// TokenStatus is the tagged outcome of validating or rotating a refresh token.
type TokenStatus int

const (
	TokenInvalid TokenStatus = iota
	TokenValid
	TokenReuseDetected
)

func (s TokenStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenReuseDetected:
		return "reuse_detected"
	default:
		return "invalid"
	}
}

// TokenCheck is the result of Validate. Only Status is meaningful when it is not TokenValid.
type TokenCheck struct {
	Status    TokenStatus
	TokenID   uuid.UUID
	UserID    int
	SessionID uuid.UUID
	ExpiresAt time.Time
}

func (c TokenCheck) Valid() bool { return c.Status == TokenValid }

// IssuedToken carries the raw token, which exists only in memory and in the response.
type IssuedToken struct {
	Raw    string
	Record *model.RefreshToken
}

// Rotation is the result of Rotate.
// On TokenReuseDetected, UserID, SessionID and RevokedCount describe the cascade.
type Rotation struct {
	Status          TokenStatus
	UserID          int
	SessionID       uuid.UUID
	PreviousTokenID uuid.UUID
	Issued          *IssuedToken
	RevokedCount    int64
}

// RefreshTokenService implements the refresh-token lifecycle.
// Every method takes the token repository of the caller's unit of work,
// so its writes commit or roll back together with the rest of the request.
type RefreshTokenService struct {
	clock common.Clock
	ids   common.IDGenerator
	ttl   time.Duration
	size  int
}

func NewRefreshTokenService(clock common.Clock, ids common.IDGenerator, ttl time.Duration, size int) *RefreshTokenService {
	return &RefreshTokenService{clock: clock, ids: ids, ttl: ttl, size: size}
}

// Issue creates a token for a device session. A zero sessionID starts a new session.
func (s *RefreshTokenService) Issue(ctx context.Context, tokens repository.ITokenRepository, userID int, sessionID uuid.UUID) (*IssuedToken, error) {
	if sessionID == uuid.Nil {
		sessionID = s.ids.NewID()
	}
	return s.issue(ctx, tokens, s.ids.NewID(), userID, sessionID)
}

func (s *RefreshTokenService) issue(ctx context.Context, tokens repository.ITokenRepository, id uuid.UUID, userID int, sessionID uuid.UUID) (*IssuedToken, error) {
	raw, err := security.NewRawRefreshToken(s.size)
	if err != nil {
		logger.Log.WithError(err).WithField("user_id", userID).Error("Failed to generate refresh token")
		return nil, err
	}

	now := s.clock.Now()
	record := &model.RefreshToken{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: security.HashRefreshToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := tokens.Create(ctx, record); err != nil {
		return nil, err
	}
	return &IssuedToken{Raw: raw, Record: record}, nil
}

// Validate reports whether raw is a known, unrevoked, unexpired token.
// Unknown, revoked and expired tokens all come back as TokenInvalid with a nil error.
func (s *RefreshTokenService) Validate(ctx context.Context, tokens repository.ITokenRepository, raw string) (TokenCheck, error) {
	record, err := s.lookup(ctx, tokens, raw)
	if err != nil || record == nil {
		return TokenCheck{Status: TokenInvalid}, err
	}
	if !record.IsActive(s.clock.Now()) {
		return TokenCheck{Status: TokenInvalid}, nil
	}
	return TokenCheck{
		Status:    TokenValid,
		TokenID:   record.ID,
		UserID:    record.UserID,
		SessionID: record.SessionID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Rotate exchanges raw for a new token in the same session.
// Presenting a token that is already revoked, or losing the race to revoke it,
// revokes every active token of the user and returns TokenReuseDetected.
func (s *RefreshTokenService) Rotate(ctx context.Context, tokens repository.ITokenRepository, raw string) (Rotation, error) {
	current, err := s.lookup(ctx, tokens, raw)
	if err != nil || current == nil {
		return Rotation{Status: TokenInvalid}, err
	}

	now := s.clock.Now()
	if current.Revoked {
		return s.reuseDetected(ctx, tokens, current, now)
	}
	if current.IsExpired(now) {
		return Rotation{Status: TokenInvalid}, nil
	}

	nextID := s.ids.NewID()
	won, err := tokens.RevokeIfActive(ctx, current.ID, model.RevokeReasonRotated, now, &nextID)
	if err != nil {
		return Rotation{}, err
	}
	if !won {
		return s.reuseDetected(ctx, tokens, current, now)
	}

	issued, err := s.issue(ctx, tokens, nextID, current.UserID, current.SessionID)
	if err != nil {
		return Rotation{}, err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":    current.UserID,
		"session_id": current.SessionID,
		"token_id":   nextID,
	}).Info("Refresh token rotated")

	return Rotation{
		Status:          TokenValid,
		UserID:          current.UserID,
		SessionID:       current.SessionID,
		PreviousTokenID: current.ID,
		Issued:          issued,
	}, nil
}

// RevokeSession ends one device session. Revoking an already revoked session is a no-op.
func (s *RefreshTokenService) RevokeSession(ctx context.Context, tokens repository.ITokenRepository, userID int, sessionID uuid.UUID, reason model.RevokeReason) (int64, error) {
	return tokens.RevokeSession(ctx, userID, sessionID, reason, s.clock.Now())
}

// RevokeAll ends every session of the user. It is idempotent.
func (s *RefreshTokenService) RevokeAll(ctx context.Context, tokens repository.ITokenRepository, userID int, reason model.RevokeReason) (int64, error) {
	if !reason.Valid() {
		return 0, fmt.Errorf("%w: revoke reason %q", ErrValidation, reason)
	}
	return tokens.RevokeAllForUser(ctx, userID, reason, s.clock.Now())
}

func (s *RefreshTokenService) reuseDetected(ctx context.Context, tokens repository.ITokenRepository, presented *model.RefreshToken, now time.Time) (Rotation, error) {
	revoked, err := tokens.RevokeAllForUser(ctx, presented.UserID, model.RevokeReasonSecurityReuseDetected, now)
	if err != nil {
		return Rotation{}, err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":       presented.UserID,
		"session_id":    presented.SessionID,
		"token_id":      presented.ID,
		"revoked_count": revoked,
	}).Error("Refresh token reuse detected, all sessions of the user revoked")

	return Rotation{
		Status:          TokenReuseDetected,
		UserID:          presented.UserID,
		SessionID:       presented.SessionID,
		PreviousTokenID: presented.ID,
		RevokedCount:    revoked,
	}, nil
}

// lookup returns nil, nil for anything that cannot be a token we issued.
func (s *RefreshTokenService) lookup(ctx context.Context, tokens repository.ITokenRepository, raw string) (*model.RefreshToken, error) {
	if raw == "" {
		return nil, nil
	}
	record, err := tokens.GetByTokenHash(ctx, security.HashRefreshToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return record, err
}
