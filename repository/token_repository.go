// file: repository/token_repository.go

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// ITokenRepository defines the contract for refresh token database operations.
// Revocation methods are conditional updates that only touch rows still active,
// so concurrent callers can never both flip the same row.
type ITokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RevokeIfActive(ctx context.Context, tokenID uuid.UUID, reason model.RevokeReason, at time.Time, replacedBy *uuid.UUID) (bool, error)
	RevokeSession(ctx context.Context, userID int, sessionID uuid.UUID, reason model.RevokeReason, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int, reason model.RevokeReason, at time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID int, now time.Time) ([]*model.RefreshToken, error)
}

// TokenRepository implements ITokenRepository.
type TokenRepository struct {
	DB DBTX
}

// NewTokenRepository creates a new TokenRepository bound to a connection or transaction.
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{DB: db}
}

const refreshTokenColumns = `id, user_id, session_id, token_hash, issued_at, expires_at, revoked, revoked_at, revoked_reason, replaced_by_token_id`

// Create inserts a new refresh token record into the database.
func (r *TokenRepository) Create(ctx context.Context, token *model.RefreshToken) error {
	log := logger.Log.WithFields(logrus.Fields{
		"token_id":   token.ID,
		"user_id":    token.UserID,
		"session_id": token.SessionID,
		"expires_at": token.ExpiresAt,
	})
	log.Info("Executing query to create a new refresh token")

	query := `INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, issued_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.DB.ExecContext(ctx, query, token.ID, token.UserID, token.SessionID, token.TokenHash, token.IssuedAt, token.ExpiresAt)
	if err != nil {
		log.WithError(err).Error("Failed to execute create refresh token query")
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a refresh token by its hashed value.
// The hash is the lookup key, so no byte-wise comparison against a secret happens here.
func (r *TokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	log := logger.Log.WithField("token_hash_prefix", hashPrefix(tokenHash))
	log.Info("Executing query to get refresh token by hash")

	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	token, err := scanRefreshToken(r.DB.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.WithError(err).Error("Failed to execute get refresh token by hash query")
		return nil, fmt.Errorf("get refresh token by hash: %w", err)
	}
	return token, nil
}

// RevokeIfActive marks one token revoked unless another writer already did.
// It reports false when the row was already revoked (or does not exist).
func (r *TokenRepository) RevokeIfActive(ctx context.Context, tokenID uuid.UUID, reason model.RevokeReason, at time.Time, replacedBy *uuid.UUID) (bool, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"token_id": tokenID,
		"reason":   reason,
	})
	log.Info("Executing conditional revoke of refresh token")

	query := `UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_reason = $3, replaced_by_token_id = $4
		WHERE id = $1 AND revoked = FALSE`

	var replaced uuid.NullUUID
	if replacedBy != nil {
		replaced = uuid.NullUUID{UUID: *replacedBy, Valid: true}
	}

	res, err := r.DB.ExecContext(ctx, query, tokenID, at, string(reason), replaced)
	if err != nil {
		log.WithError(err).Error("Failed to execute conditional revoke query")
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows affected: %w", err)
	}
	return affected == 1, nil
}

// RevokeSession revokes every still-active token of one device session.
func (r *TokenRepository) RevokeSession(ctx context.Context, userID int, sessionID uuid.UUID, reason model.RevokeReason, at time.Time) (int64, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
		"reason":     reason,
	})
	log.Info("Executing query to revoke a refresh token session")

	query := `UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $3, revoked_reason = $4
		WHERE user_id = $1 AND session_id = $2 AND revoked = FALSE`
	res, err := r.DB.ExecContext(ctx, query, userID, sessionID, at, string(reason))
	if err != nil {
		log.WithError(err).Error("Failed to execute revoke session query")
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	return res.RowsAffected()
}

// RevokeAllForUser revokes every still-active token the user holds, across all devices.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID int, reason model.RevokeReason, at time.Time) (int64, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"user_id": userID,
		"reason":  reason,
	})
	log.Info("Executing query to revoke all refresh tokens for a user")

	query := `UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked = FALSE`
	res, err := r.DB.ExecContext(ctx, query, userID, at, string(reason))
	if err != nil {
		log.WithError(err).Error("Failed to execute revoke all refresh tokens query")
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// ListActiveByUser returns the user's unrevoked, unexpired tokens, newest first.
func (r *TokenRepository) ListActiveByUser(ctx context.Context, userID int, now time.Time) ([]*model.RefreshToken, error) {
	log := logger.Log.WithField("user_id", userID)
	log.Info("Executing query to list active refresh tokens")

	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY issued_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID, now)
	if err != nil {
		log.WithError(err).Error("Failed to execute list active refresh tokens query")
		return nil, fmt.Errorf("list active refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan refresh token row")
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (*model.RefreshToken, error) {
	var (
		token      model.RefreshToken
		revokedAt  sql.NullTime
		reason     sql.NullString
		replacedBy uuid.NullUUID
	)
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.SessionID,
		&token.TokenHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.Revoked,
		&revokedAt,
		&reason,
		&replacedBy,
	); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}
	if reason.Valid {
		rr := model.RevokeReason(reason.String)
		token.RevokedReason = &rr
	}
	if replacedBy.Valid {
		id := replacedBy.UUID
		token.ReplacedByTokenID = &id
	}
	return &token, nil
}
