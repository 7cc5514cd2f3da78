package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/auth"
	"github.com/gotours/apiserver/internal/store"
	"github.com/gotours/apiserver/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeUserStore is an in-memory auth.UserStore and auth.ResetTokenStore
// with the repository's visibility rules: inactive rows don't resolve and
// duplicate emails are rejected.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]types.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[uuid.UUID]types.User{}}
}

func (f *fakeUserStore) Create(_ context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = types.NormalizeEmail(user.Email)
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	user.ID = uuid.New()
	user.Active = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || !user.Active {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) GetByIDWithPassword(ctx context.Context, id uuid.UUID) (types.User, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = types.NormalizeEmail(email)
	for _, user := range f.users {
		if user.Email == email && user.Active {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserStore) GetByEmailWithPassword(ctx context.Context, email string) (types.User, error) {
	return f.GetByEmail(ctx, email)
}

func (f *fakeUserStore) GetByResetTokenHash(_ context.Context, tokenHash string, now time.Time) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Active && user.PasswordResetHash != nil && *user.PasswordResetHash == tokenHash &&
			user.PasswordResetExpiresAt != nil && user.PasswordResetExpiresAt.After(now) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserStore) Update(_ context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.users[user.ID]
	if !ok || !current.Active {
		return types.User{}, store.ErrNotFound
	}
	email := types.NormalizeEmail(user.Email)
	for id, other := range f.users {
		if id != user.ID && other.Email == email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	current.Name = user.Name
	current.Email = email
	current.UpdatedAt = time.Now()
	f.users[user.ID] = current
	return current, nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = &changedAt
	user.PasswordResetHash = nil
	user.PasswordResetExpiresAt = nil
	f.users[id] = user
	return nil
}

func (f *fakeUserStore) SetResetToken(_ context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.PasswordResetHash = &tokenHash
	user.PasswordResetExpiresAt = &expiresAt
	f.users[id] = user
	return nil
}

func (f *fakeUserStore) ClearResetToken(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordResetHash = nil
	user.PasswordResetExpiresAt = nil
	f.users[id] = user
	return nil
}

func (f *fakeUserStore) Deactivate(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.Active = false
	f.users[id] = user
	return nil
}

func (f *fakeUserStore) List(_ context.Context) ([]types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.User
	for _, user := range f.users {
		if user.Active {
			out = append(out, user)
		}
	}
	return out, nil
}

// promote flips a user's role directly in storage, standing in for the
// out-of-band promotion an operator would do.
func (f *fakeUserStore) promote(t *testing.T, email string, role types.Role) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	email = types.NormalizeEmail(email)
	for id, user := range f.users {
		if user.Email == email {
			user.Role = role
			f.users[id] = user
			return
		}
	}
	t.Fatalf("no user with email %s", email)
}

type capturingMailer struct {
	mu        sync.Mutex
	resetURLs []string
	failReset bool
}

func (m *capturingMailer) SendWelcome(context.Context, types.User, string) error { return nil }

func (m *capturingMailer) SendPasswordReset(_ context.Context, _ types.User, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReset {
		return errors.New("delivery failed")
	}
	m.resetURLs = append(m.resetURLs, resetURL)
	return nil
}

func (m *capturingMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.resetURLs)
	url := m.resetURLs[len(m.resetURLs)-1]
	idx := strings.LastIndex(url, "/")
	require.Greater(t, idx, 0)
	return url[idx+1:]
}

type testEnv struct {
	router chi.Router
	store  *fakeUserStore
	mailer *capturingMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		Env:     "test",
		BaseURL: "http://localhost:8080",
		JWT: config.JWTConfig{
			Secret:    "0123456789abcdef0123456789abcdef",
			TTL:       time.Hour,
			CookieTTL: time.Hour,
		},
	}

	userStore := newFakeUserStore()
	mailer := &capturingMailer{}
	tokens := auth.NewTokenService(cfg.JWT)
	resets := auth.NewResetTokenService(userStore)
	svc := auth.NewService(userStore, tokens, resets, mailer, cfg.BaseURL, zap.NewNop())
	mw := NewMiddleware(svc, zap.NewNop(), true)

	router := chi.NewRouter()
	router.Route("/api/v1/users", func(r chi.Router) {
		AuthRouter(r, svc, mw, cfg)
		UserRouter(r, svc, mw, cfg)
	})

	return &testEnv{router: router, store: userStore, mailer: mailer}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withCookie(cookie *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(cookie)
	}
}

// signup registers an account and returns the issued token.
func (e *testEnv) signup(t *testing.T, name, email, password string) (AuthResponse, *http.Cookie) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/users/signup", SignupRequest{
		Name:            name,
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp, findCookie(t, rec, tokenCookieName)
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}
