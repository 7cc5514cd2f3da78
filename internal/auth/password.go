package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is deliberately above bcrypt's default: hashing is meant to
// be CPU-costly.
const PasswordCost = 12

// MinPasswordLen is the minimum accepted password length.
const MinPasswordLen = 8

// dummyPasswordHash is compared against when a login targets an account
// that does not exist, so that both paths pay the bcrypt cost and response
// times do not reveal which emails are registered. The checksum is
// unreachable; it never matches any password.
const dummyPasswordHash = "$2a$12$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// HashPassword hashes a plaintext password with bcrypt at PasswordCost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether candidate matches the stored hash.
// A mismatch is (false, nil); an error means the stored hash is malformed,
// which is an internal fault, not a user mistake.
func VerifyPassword(storedHash, candidate string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("verify password: %w", err)
}

// compareDummyPassword burns one bcrypt verification without revealing
// anything. Called on login when the account lookup misses.
func compareDummyPassword(candidate string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(candidate))
}
