package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gotours/apiserver/internal/apperr"
	"github.com/gotours/apiserver/internal/store"
	"github.com/gotours/apiserver/types"
)

// ResetTokenTTL is how long a password-reset token stays valid.
const ResetTokenTTL = 10 * time.Minute

// resetTokenBytes gives the token 256 bits of entropy.
const resetTokenBytes = 32

// ResetTokenStore is the persistence surface reset tokens need.
type ResetTokenStore interface {
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (types.User, error)
	ClearResetToken(ctx context.Context, id uuid.UUID) error
}

// ResetTokenService issues and resolves single-use password-reset tokens.
// Only the SHA-256 of a token is ever persisted; the plaintext exists in
// memory long enough to be delivered to the account holder and is never
// logged. The digest is deterministic and unsalted on purpose: the input
// already carries full entropy, so there is nothing for a salt to protect.
type ResetTokenService struct {
	users ResetTokenStore
	now   func() time.Time
}

func NewResetTokenService(users ResetTokenStore) *ResetTokenService {
	return &ResetTokenService{
		users: users,
		now:   time.Now,
	}
}

// Generate produces a fresh reset token: the plaintext for out-of-band
// delivery, its hash for storage, and the absolute expiry.
func (s *ResetTokenService) Generate() (plaintext, tokenHash string, expiresAt time.Time, err error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate reset token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, HashResetToken(plaintext), s.now().Add(ResetTokenTTL), nil
}

// Resolve matches a client-supplied token against stored hashes. The match
// and the expiry check happen in one store query so an expired token can
// never be observed as valid in between.
func (s *ResetTokenService) Resolve(ctx context.Context, plaintext string) (types.User, error) {
	if plaintext == "" {
		return types.User{}, apperr.ErrResetTokenInvalid
	}
	user, err := s.users.GetByResetTokenHash(ctx, HashResetToken(plaintext), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.ErrResetTokenInvalid
		}
		return types.User{}, fmt.Errorf("resolve reset token: %w", err)
	}
	return user, nil
}

// Invalidate clears any outstanding reset token for the user, returning
// the account to a clean no-reset-pending state.
func (s *ResetTokenService) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.ClearResetToken(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("invalidate reset token: %w", err)
	}
	return nil
}

// HashResetToken computes the at-rest representation of a reset token.
func HashResetToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
