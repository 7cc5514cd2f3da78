package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gotours/apiserver/internal/apperr"
	"github.com/gotours/apiserver/internal/store"
	"github.com/gotours/apiserver/types"
	"go.uber.org/zap"
)

// passwordChangedSkew backdates the password-changed watermark so a token
// issued in the same instant as the change is not spuriously rejected by
// clock or storage latency.
const passwordChangedSkew = time.Second

// UserStore defines the persistence operations the auth flow needs.
type UserStore interface {
	Create(ctx context.Context, user types.User) (types.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByEmailWithPassword(ctx context.Context, email string) (types.User, error)
	GetByIDWithPassword(ctx context.Context, id uuid.UUID) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]types.User, error)
}

// Mailer delivers account notifications out-of-band. Implementations may
// fail; the flow decides per call whether a failure is fatal.
type Mailer interface {
	SendWelcome(ctx context.Context, user types.User, loginURL string) error
	SendPasswordReset(ctx context.Context, user types.User, resetURL string) error
}

// Service orchestrates signup, login, password reset, and password update.
type Service struct {
	users   UserStore
	tokens  *TokenService
	resets  *ResetTokenService
	mailer  Mailer
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(users UserStore, tokens *TokenService, resets *ResetTokenService, mailer Mailer, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		resets:  resets,
		mailer:  mailer,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

type SignupInput struct {
	Name            string
	Email           string
	Password        string
	PasswordConfirm string
}

// Signup creates a new account with role "user" and logs it in.
// The welcome mail is best-effort: a delivery failure is logged, not
// returned.
func (s *Service) Signup(ctx context.Context, in SignupInput) (types.User, string, error) {
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return types.User{}, "", apperr.New(apperr.KindInvalidInput,
			"name, email and password are required", http.StatusBadRequest)
	}
	if err := validatePassword(in.Password); err != nil {
		return types.User{}, "", err
	}
	if in.Password != in.PasswordConfirm {
		return types.User{}, "", apperr.ErrPasswordMismatch
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return types.User{}, "", err
	}

	// Role is never taken from the request; privileged accounts are
	// promoted by an admin after the fact.
	user, err := s.users.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		Role:         types.RoleUser,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return types.User{}, "", apperr.ErrDuplicateEmail
		}
		return types.User{}, "", fmt.Errorf("create user: %w", err)
	}

	if err := s.mailer.SendWelcome(ctx, user, s.baseURL+"/me"); err != nil {
		s.logger.Warn("welcome mail failed",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login verifies credentials and issues a session token. Missing account
// and wrong password collapse into the same error, and the missing-account
// path still pays a bcrypt comparison so response times match.
func (s *Service) Login(ctx context.Context, email, password string) (types.User, string, error) {
	if email == "" || password == "" {
		return types.User{}, "", apperr.New(apperr.KindInvalidInput,
			"please provide email and password", http.StatusBadRequest)
	}

	user, err := s.users.GetByEmailWithPassword(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			compareDummyPassword(password)
			return types.User{}, "", apperr.ErrInvalidCredentials
		}
		return types.User{}, "", fmt.Errorf("get user by email: %w", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return types.User{}, "", err
	}
	if !ok {
		return types.User{}, "", apperr.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// RequestPasswordReset issues a reset token and mails the plaintext to the
// account holder. If delivery fails the token is invalidated so the
// account is not left with a half-issued secret.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrUserNotFound
		}
		return fmt.Errorf("get user by email: %w", err)
	}

	plaintext, tokenHash, expiresAt, err := s.resets.Generate()
	if err != nil {
		return err
	}
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	// The plaintext token rides in the URL and must never be logged.
	resetURL := fmt.Sprintf("%s/resetPassword/%s", s.baseURL, plaintext)
	if err := s.mailer.SendPasswordReset(ctx, user, resetURL); err != nil {
		if invErr := s.resets.Invalidate(ctx, user.ID); invErr != nil {
			s.logger.Error("rollback of reset token failed",
				zap.String("user_id", user.ID.String()),
				zap.Error(invErr))
		}
		return apperr.ErrNotificationFailed.Wrap(err)
	}
	return nil
}

// ResetPassword consumes a reset token, sets the new password, and logs
// the user in.
func (s *Service) ResetPassword(ctx context.Context, plaintextToken, newPassword, confirm string) (types.User, string, error) {
	if err := validatePassword(newPassword); err != nil {
		return types.User{}, "", err
	}
	if newPassword != confirm {
		return types.User{}, "", apperr.ErrPasswordMismatch
	}

	user, err := s.resets.Resolve(ctx, plaintextToken)
	if err != nil {
		return types.User{}, "", err
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return types.User{}, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// UpdatePassword changes the password of an authenticated user after
// re-verifying the current one, then issues a fresh token so the caller is
// not logged out by their own change.
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword, confirm string) (types.User, string, error) {
	if err := validatePassword(newPassword); err != nil {
		return types.User{}, "", err
	}
	if newPassword != confirm {
		return types.User{}, "", apperr.ErrPasswordMismatch
	}

	user, err := s.users.GetByIDWithPassword(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, "", apperr.ErrUnauthenticated
		}
		return types.User{}, "", fmt.Errorf("get user: %w", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, currentPassword)
	if err != nil {
		return types.User{}, "", err
	}
	if !ok {
		return types.User{}, "", apperr.ErrInvalidCredentials
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return types.User{}, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// setPassword hashes and stores a new password, moves the
// password-changed watermark, and clears any outstanding reset token in
// the same statement. Every token issued before the watermark dies here.
func (s *Service) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	changedAt := s.now().Add(-passwordChangedSkew)
	if err := s.users.UpdatePassword(ctx, userID, hash, changedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Authenticate resolves a raw token into a live account. Every failure
// collapses into the unauthenticated error; the cause stays in logs.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (types.User, error) {
	claims, err := s.tokens.Verify(rawToken)
	if err != nil {
		if errors.Is(err, ErrTokenMalformed) {
			return types.User{}, apperr.ErrMalformedToken
		}
		return types.User{}, apperr.ErrUnauthenticated.Wrap(err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.ErrUnauthenticated
		}
		return types.User{}, fmt.Errorf("get user: %w", err)
	}

	if user.PasswordChangedAfter(claims.IssuedAt) {
		return types.User{}, apperr.ErrUnauthenticated
	}
	return user, nil
}

// GetUser returns a single active user.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.ErrUserNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

type ProfileUpdate struct {
	Name  string
	Email string
}

// UpdateProfile changes name and email. Passwords never move through this
// path.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.ErrUserNotFound
		}
		return types.User{}, err
	}
	if in.Name != "" {
		user.Name = in.Name
	}
	if in.Email != "" {
		user.Email = in.Email
	}
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return types.User{}, apperr.ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return updated, nil
}

// DeactivateUser soft-deletes an account. The row is kept; it just stops
// resolving.
func (s *Service) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.Deactivate(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrUserNotFound
		}
		return err
	}
	return nil
}

// ListUsers returns all active users.
func (s *Service) ListUsers(ctx context.Context) ([]types.User, error) {
	return s.users.List(ctx)
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return apperr.New(apperr.KindInvalidInput,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLen), http.StatusBadRequest)
	}
	return nil
}
