// file: model/token.go

package model

import (
	"time"

	"github.com/google/uuid"
)

// RevokeReason records why a refresh token stopped being usable.
type RevokeReason string

const (
	RevokeReasonRotated               RevokeReason = "rotated"
	RevokeReasonManualLogout          RevokeReason = "manual_logout"
	RevokeReasonSecurityReuseDetected RevokeReason = "security_reuse_detected"
	RevokeReasonAdminRevoke           RevokeReason = "admin_revoke"
)

func (r RevokeReason) Valid() bool {
	switch r {
	case RevokeReasonRotated, RevokeReasonManualLogout, RevokeReasonSecurityReuseDetected, RevokeReasonAdminRevoke:
		return true
	}
	return false
}

// RefreshToken holds the data for a refresh token in the database.
// Rows are never deleted; rotation and logout only flip the revocation columns once.
type RefreshToken struct {
	ID                uuid.UUID     `json:"id"`
	UserID            int           `json:"user_id"`
	SessionID         uuid.UUID     `json:"session_id"`
	TokenHash         string        `json:"-"` // The hash is not exposed in JSON responses.
	IssuedAt          time.Time     `json:"issued_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
	Revoked           bool          `json:"revoked"`
	RevokedAt         *time.Time    `json:"revoked_at,omitempty"`
	RevokedReason     *RevokeReason `json:"revoked_reason,omitempty"`
	ReplacedByTokenID *uuid.UUID    `json:"replaced_by_token_id,omitempty"`
}

// IsActive reports whether the token can still be exchanged at the given instant.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// IsExpired reports whether the token's lifetime has elapsed.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenPair is what a successful login or refresh hands back to the client.
// RefreshToken is the raw value; it is never stored and cannot be retrieved again.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
