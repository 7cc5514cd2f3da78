package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gotours/apiserver/config"
)

// Token verification failures. Callers translate these into the generic
// unauthenticated response; the distinction matters for logs and tests.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenMalformed = errors.New("token malformed")
)

// TokenClaims is the decoded, verified content of a session token.
type TokenClaims struct {
	UserID   uuid.UUID
	IssuedAt time.Time
}

// TokenService issues and verifies signed session tokens. It is stateless:
// the only inputs are the secret and the expiry policy, both fixed at
// construction.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
	}
}

// Issue signs a token binding the user ID and the current instant.
func (s *TokenService) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature and expiry and returns the embedded claims.
// No claim is trusted before the signature holds.
func (s *TokenService) Verify(tokenString string) (TokenClaims, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignature
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return TokenClaims{}, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return TokenClaims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return TokenClaims{}, ErrTokenSignature
		default:
			return TokenClaims{}, ErrTokenSignature
		}
	}
	if !token.Valid {
		return TokenClaims{}, ErrTokenSignature
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return TokenClaims{}, ErrTokenMalformed
	}
	if claims.IssuedAt == nil {
		return TokenClaims{}, ErrTokenMalformed
	}

	return TokenClaims{
		UserID:   userID,
		IssuedAt: claims.IssuedAt.Time,
	}, nil
}
