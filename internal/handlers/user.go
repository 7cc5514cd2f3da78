package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/auth"
	"github.com/gotours/apiserver/types"
)

// UserHandler provides account self-service and admin user endpoints.
type UserHandler struct {
	svc     *auth.Service
	verbose bool
}

func NewUserHandler(svc *auth.Service, cfg config.Config) *UserHandler {
	return &UserHandler{svc: svc, verbose: !cfg.IsProduction()}
}

// UserRouter registers profile and admin routes on the users router.
func UserRouter(r chi.Router, svc *auth.Service, mw *Middleware, cfg config.Config) {
	handler := NewUserHandler(svc, cfg)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth)
		r.Get("/me", handler.Me)
		r.Patch("/updateMe", handler.UpdateMe)
		r.Delete("/deleteMe", handler.DeleteMe)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(types.RoleAdmin))
			r.Get("/", handler.ListUsers)
			r.Get("/{userID}", handler.GetUser)
			r.Delete("/{userID}", handler.DeleteUser)
		})
	})
}

// Me returns the authenticated account.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type UpdateMeRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	// Password is decoded only to be rejected: password changes go
	// through /updateMyPassword, never through profile updates.
	Password string `json:"password"`
}

// UpdateMe changes the caller's name and email.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	current, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	var req UpdateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Password != "" {
		writeError(w, http.StatusBadRequest,
			"this route is not for password updates, please use /updateMyPassword")
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), current.ID, auth.ProfileUpdate{
		Name:  strings.TrimSpace(req.Name),
		Email: req.Email,
	})
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteMe soft-deletes the caller's account.
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	current, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	if err := h.svc.DeactivateUser(r.Context(), current.ID); err != nil {
		writeOpError(w, err, h.verbose)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers returns all active users. Admin only.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser returns a single user by ID. Admin only.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		writeOpError(w, err, h.verbose)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser soft-deletes a user by ID. Admin only.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := h.svc.DeactivateUser(r.Context(), id); err != nil {
		writeOpError(w, err, h.verbose)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
