package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Authentication failure reasons. The caller surfaces these verbatim so a
// missing credential stays distinguishable from an invalid or expired one.
const (
	ReasonMissing = "authentication required"
	ReasonInvalid = "invalid token"
	ReasonRevoked = "token revoked"
	ReasonExpired = "token expired"
)

// AuthResult reports the outcome of validating a presented token.
type AuthResult struct {
	Authenticated bool
	UserID        string
	Scopes        string
	Reason        string
}

// Store validates presented tokens against their stored SHA-256 hashes.
// Raw tokens are never persisted or logged.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
	now func() time.Time
}

func New(logger *logrus.Logger, db *gorm.DB) *Store {
	return &Store{
		db:  db,
		log: logger.WithField("component", "token_store"),
		now: time.Now,
	}
}

// HashToken computes the hex SHA-256 digest used for token lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticate looks up the presented token by hash and checks that it is
// active and unexpired. On success the token's last_used timestamp is
// updated as a best-effort side effect.
func (s *Store) Authenticate(ctx context.Context, presented string) AuthResult {
	if presented == "" {
		return AuthResult{Reason: ReasonMissing}
	}

	var token models.Token
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", HashToken(presented)).
		First(&token).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithError(err).Error("Token lookup failed")
		}
		return AuthResult{Reason: ReasonInvalid}
	}

	if !token.IsActive {
		return AuthResult{Reason: ReasonRevoked}
	}
	if token.ExpiresAt != nil && !token.ExpiresAt.After(s.now()) {
		return AuthResult{Reason: ReasonExpired}
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ?", token.ID).
		Update("last_used_at", now).Error; err != nil {
		s.log.WithError(err).Warn("Failed to update token last_used_at")
	}

	return AuthResult{
		Authenticated: true,
		UserID:        token.UserID,
		Scopes:        token.Scopes,
	}
}
