package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/apperr"
	"github.com/gotours/apiserver/internal/store"
	"github.com/gotours/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory UserStore with the same visibility rules as the
// SQL repository: inactive rows read as absent, plain reads omit the
// password hash, and the reset-token lookup matches hash and expiry in one
// step.
type memStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*types.User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uuid.UUID]*types.User)}
}

func (m *memStore) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := types.NormalizeEmail(user.Email)
	for _, existing := range m.users {
		if existing.Email == normalized {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	now := time.Now()
	user.ID = uuid.New()
	user.Email = normalized
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := user
	m.users[user.ID] = &stored
	return user, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return types.User{}, store.ErrNotFound
	}
	public := *user
	public.PasswordHash = ""
	return public, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := types.NormalizeEmail(email)
	for _, user := range m.users {
		if user.Email == normalized && user.Active {
			public := *user
			public.PasswordHash = ""
			return public, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memStore) GetByEmailWithPassword(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := types.NormalizeEmail(email)
	for _, user := range m.users {
		if user.Email == normalized && user.Active {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memStore) GetByIDWithPassword(_ context.Context, id uuid.UUID) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return types.User{}, store.ErrNotFound
	}
	return *user, nil
}

func (m *memStore) GetByResetTokenHash(_ context.Context, tokenHash string, now time.Time) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if !user.Active || user.PasswordResetHash == nil || user.PasswordResetExpiresAt == nil {
			continue
		}
		if *user.PasswordResetHash == tokenHash && user.PasswordResetExpiresAt.After(now) {
			public := *user
			public.PasswordHash = ""
			return public, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memStore) Update(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok || !existing.Active {
		return types.User{}, store.ErrNotFound
	}
	normalized := types.NormalizeEmail(user.Email)
	for id, other := range m.users {
		if id != user.ID && other.Email == normalized {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	existing.Name = user.Name
	existing.Email = normalized
	existing.Role = user.Role
	existing.UpdatedAt = time.Now()
	public := *existing
	public.PasswordHash = ""
	return public, nil
}

func (m *memStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = &changedAt
	user.PasswordResetHash = nil
	user.PasswordResetExpiresAt = nil
	user.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetResetToken(_ context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.PasswordResetHash = &tokenHash
	user.PasswordResetExpiresAt = &expiresAt
	return nil
}

func (m *memStore) ClearResetToken(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordResetHash = nil
	user.PasswordResetExpiresAt = nil
	return nil
}

func (m *memStore) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.Active = false
	return nil
}

func (m *memStore) List(_ context.Context) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []types.User
	for _, user := range m.users {
		if user.Active {
			public := *user
			public.PasswordHash = ""
			users = append(users, public)
		}
	}
	return users, nil
}

// fakeMailer records sent mail and can be told to fail.
type fakeMailer struct {
	mu          sync.Mutex
	welcomes    []string
	resetURLs   []string
	failWelcome bool
	failReset   bool
}

func (f *fakeMailer) SendWelcome(_ context.Context, user types.User, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWelcome {
		return errors.New("smtp unreachable")
	}
	f.welcomes = append(f.welcomes, user.Email)
	return nil
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, _ types.User, resetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReset {
		return errors.New("smtp unreachable")
	}
	f.resetURLs = append(f.resetURLs, resetURL)
	return nil
}

func (f *fakeMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.resetURLs)
	url := f.resetURLs[len(f.resetURLs)-1]
	idx := len(url) - 2*resetTokenBytes
	require.Greater(t, idx, 0)
	return url[idx:]
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeMailer) {
	t.Helper()
	users := newMemStore()
	mailer := &fakeMailer{}
	tokens := NewTokenService(config.JWTConfig{Secret: testSecret, TTL: time.Hour})
	resets := NewResetTokenService(users)
	svc := NewService(users, tokens, resets, mailer, "http://localhost:8080", zap.NewNop())
	return svc, users, mailer
}

func userFixture(email string) types.User {
	return types.User{
		Name:         "Test User",
		Email:        email,
		Role:         types.RoleUser,
		PasswordHash: "$2a$12$placeholderplaceholderplaceplaceholderplaceholderplez",
	}
}

func signup(t *testing.T, svc *Service, email, password string) (types.User, string) {
	t.Helper()
	user, token, err := svc.Signup(context.Background(), SignupInput{
		Name:            "Test User",
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	})
	require.NoError(t, err)
	return user, token
}

func TestService_SignupAndLogin(t *testing.T) {
	t.Parallel()
	svc, _, mailer := newTestService(t)
	ctx := context.Background()

	user, token := signup(t, svc, "a@b.com", "secret123")
	assert.Equal(t, types.RoleUser, user.Role)
	assert.NotEmpty(t, token)
	assert.Equal(t, []string{"a@b.com"}, mailer.welcomes)

	_, loginToken, err := svc.Login(ctx, "a@b.com", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, loginToken)

	// Case-insensitive email lookup.
	_, _, err = svc.Login(ctx, "A@B.COM", "secret123")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "a@b.com", "wrong")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	// Unknown account collapses into the same undifferentiated error.
	_, _, err = svc.Login(ctx, "nobody@b.com", "secret123")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestService_SignupValidation(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Signup(ctx, SignupInput{Name: "x", Email: "x@y.com", Password: "secret123", PasswordConfirm: "different1"})
	require.ErrorIs(t, err, apperr.ErrPasswordMismatch)

	_, _, err = svc.Signup(ctx, SignupInput{Name: "x", Email: "x@y.com", Password: "short", PasswordConfirm: "short"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindInvalidInput, appErr.Kind)

	signup(t, svc, "dup@b.com", "secret123")
	_, _, err = svc.Signup(ctx, SignupInput{Name: "x", Email: "DUP@b.com", Password: "secret123", PasswordConfirm: "secret123"})
	require.ErrorIs(t, err, apperr.ErrDuplicateEmail)
}

func TestService_SignupSurvivesWelcomeMailFailure(t *testing.T) {
	t.Parallel()
	svc, _, mailer := newTestService(t)
	mailer.failWelcome = true

	user, token := signup(t, svc, "a@b.com", "secret123")
	assert.NotEmpty(t, token)
	assert.Equal(t, types.RoleUser, user.Role)
}

func TestService_PasswordResetRoundTrip(t *testing.T) {
	t.Parallel()
	svc, users, mailer := newTestService(t)
	ctx := context.Background()

	user, _ := signup(t, svc, "a@b.com", "secret123")

	require.NoError(t, svc.RequestPasswordReset(ctx, "a@b.com"))
	plaintext := mailer.lastResetToken(t)

	// Only the hash is at rest.
	stored := users.users[user.ID]
	require.NotNil(t, stored.PasswordResetHash)
	assert.NotEqual(t, plaintext, *stored.PasswordResetHash)
	assert.Equal(t, HashResetToken(plaintext), *stored.PasswordResetHash)
	require.NotNil(t, stored.PasswordResetExpiresAt)
	assert.WithinDuration(t, time.Now().Add(ResetTokenTTL), *stored.PasswordResetExpiresAt, 5*time.Second)

	_, token, err := svc.ResetPassword(ctx, plaintext, "newpass123", "newpass123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// The token is single-use.
	_, _, err = svc.ResetPassword(ctx, plaintext, "another123", "another123")
	require.ErrorIs(t, err, apperr.ErrResetTokenInvalid)

	// Old credentials are dead, new ones work.
	_, _, err = svc.Login(ctx, "a@b.com", "secret123")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "a@b.com", "newpass123")
	require.NoError(t, err)
}

func TestService_RequestPasswordReset_UnknownEmail(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	err := svc.RequestPasswordReset(context.Background(), "nobody@b.com")
	require.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestService_RequestPasswordReset_DeliveryFailureRollsBack(t *testing.T) {
	t.Parallel()
	svc, users, mailer := newTestService(t)
	ctx := context.Background()
	mailer.failReset = true

	user, _ := signup(t, svc, "a@b.com", "secret123")

	err := svc.RequestPasswordReset(ctx, "a@b.com")
	require.ErrorIs(t, err, apperr.ErrNotificationFailed)

	stored := users.users[user.ID]
	assert.Nil(t, stored.PasswordResetHash)
	assert.Nil(t, stored.PasswordResetExpiresAt)
}

func TestService_ResetPassword_Mismatch(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	_, _, err := svc.ResetPassword(context.Background(), "whatever", "newpass123", "different1")
	require.ErrorIs(t, err, apperr.ErrPasswordMismatch)
}

func TestService_ExpiredResetToken(t *testing.T) {
	t.Parallel()
	svc, users, mailer := newTestService(t)
	ctx := context.Background()

	user, _ := signup(t, svc, "a@b.com", "secret123")
	require.NoError(t, svc.RequestPasswordReset(ctx, "a@b.com"))
	plaintext := mailer.lastResetToken(t)

	// Age the token past its window without consuming it.
	past := time.Now().Add(-time.Minute)
	users.mu.Lock()
	users.users[user.ID].PasswordResetExpiresAt = &past
	users.mu.Unlock()

	_, _, err := svc.ResetPassword(ctx, plaintext, "newpass123", "newpass123")
	require.ErrorIs(t, err, apperr.ErrResetTokenInvalid)
}

func TestService_UpdatePassword(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, _ := signup(t, svc, "a@b.com", "secret123")

	_, _, err := svc.UpdatePassword(ctx, user.ID, "wrong", "newpass123", "newpass123")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, token, err := svc.UpdatePassword(ctx, user.ID, "secret123", "newpass123", "newpass123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// The freshly issued token outlives the change.
	_, err = svc.Authenticate(ctx, token)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "a@b.com", "newpass123")
	require.NoError(t, err)
}

func TestService_Authenticate_StaleTokenAfterPasswordChange(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, _ := signup(t, svc, "a@b.com", "secret123")

	// A token issued well before the password change.
	stale := signTokenAt(t, user.ID, time.Now().Add(-time.Hour))
	_, err := svc.Authenticate(ctx, stale)
	require.NoError(t, err)

	_, fresh, err := svc.UpdatePassword(ctx, user.ID, "secret123", "newpass123", "newpass123")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, stale)
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, fresh)
	require.NoError(t, err)
}

func TestService_Authenticate_Failures(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, apperr.ErrMalformedToken)

	// Token for an account that no longer exists.
	ghost := signTokenAt(t, uuid.New(), time.Now())
	_, err = svc.Authenticate(ctx, ghost)
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)

	// Token for a soft-deleted account.
	user, token := signup(t, svc, "gone@b.com", "secret123")
	require.NoError(t, svc.DeactivateUser(ctx, user.ID))
	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestService_UpdateProfile(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, _ := signup(t, svc, "a@b.com", "secret123")
	signup(t, svc, "taken@b.com", "secret123")

	updated, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Name: "New Name"})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "a@b.com", updated.Email)

	_, err = svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Email: "taken@b.com"})
	require.ErrorIs(t, err, apperr.ErrDuplicateEmail)
}

// signTokenAt signs a token with a chosen issued-at, for exercising the
// password-changed watermark.
func signTokenAt(t *testing.T, userID uuid.UUID, issuedAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(24 * time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}
