package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

var ErrInvalidAccessToken = errors.New("invalid access token")

// TokenSigner issues and parses short-lived HS256 access tokens.
type TokenSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func NewTokenSigner(key []byte, issuer string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{key: key, issuer: issuer, ttl: ttl}
}

func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns the access token and its expiry.
func (s *TokenSigner) Sign(user *model.User, sessionID uuid.UUID, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	claims := &model.AppClaims{
		UserID:    user.ID,
		Role:      string(user.Role),
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		logger.Log.WithError(err).WithField("user_id", user.ID).Error("Failed to sign JWT")
		return "", time.Time{}, fmt.Errorf("failed to sign token string: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature, algorithm, issuer and expiry.
func (s *TokenSigner) Parse(tokenString string) (*model.AppClaims, error) {
	claims := &model.AppClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil || !token.Valid {
		logger.Log.WithFields(logrus.Fields{"error": err}).Warn("Access token rejected")
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}
