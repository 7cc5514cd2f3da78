package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/auth"
	"github.com/gotours/apiserver/types"
)

// logoutSentinel replaces the token cookie on logout. There is no
// server-side revocation list; the cookie simply stops carrying a valid
// token and dies seconds later.
const (
	logoutSentinel  = "loggedout"
	logoutCookieTTL = 10 * time.Second
)

// AuthHandler provides the credential-lifecycle endpoints.
type AuthHandler struct {
	svc          *auth.Service
	cookieTTL    time.Duration
	secureCookie bool
	verbose      bool
}

func NewAuthHandler(svc *auth.Service, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		cookieTTL:    cfg.JWT.CookieTTL,
		secureCookie: cfg.IsProduction(),
		verbose:      !cfg.IsProduction(),
	}
}

// AuthRouter registers the credential routes on the users router.
func AuthRouter(r chi.Router, svc *auth.Service, mw *Middleware, cfg config.Config) {
	handler := NewAuthHandler(svc, cfg)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Get("/logout", handler.Logout)
	r.Post("/forgotPassword", handler.ForgotPassword)
	r.Patch("/resetPassword/{token}", handler.ResetPassword)
	r.With(mw.RequireAuth).Patch("/updateMyPassword", handler.UpdatePassword)
}

type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// AuthResponse carries the session token and the public account fields.
type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// Signup creates an account and logs it in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.svc.Signup(r.Context(), auth.SignupInput{
		Name:            strings.TrimSpace(req.Name),
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}

	h.setTokenCookie(w, token)
	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}

	h.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout overwrites the token cookie with a short-lived sentinel.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    logoutSentinel,
		Path:     "/",
		Expires:  time.Now().Add(logoutCookieTTL),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// ForgotPassword issues a reset token and mails it to the account holder.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeOpError(w, err, h.verbose)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "token sent to email"})
}

// ResetPassword consumes the mailed token and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.svc.ResetPassword(r.Context(),
		chi.URLParam(r, "token"), req.Password, req.PasswordConfirm)
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}

	h.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// UpdatePassword changes the password of the authenticated caller and
// returns a fresh token so the session survives the change.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	current, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.svc.UpdatePassword(r.Context(),
		current.ID, req.PasswordCurrent, req.Password, req.PasswordConfirm)
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}

	h.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.cookieTTL),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
