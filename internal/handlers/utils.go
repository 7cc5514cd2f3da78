package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gotours/apiserver/internal/apperr"
	"github.com/gotours/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// CurrentUser returns the authenticated account attached by the auth
// middleware, if any.
func CurrentUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	// Detail carries the internal cause in non-production mode only.
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeOpError serializes an operational error with its kind and status.
// Anything else becomes a generic 500; the cause is exposed only when
// verbose (non-production) mode is on.
func writeOpError(w http.ResponseWriter, err error, verbose bool) {
	if appErr, ok := apperr.From(err); ok {
		writeJSON(w, appErr.Status, ErrorResponse{
			Error: appErr.Message,
			Kind:  string(appErr.Kind),
		})
		return
	}
	resp := ErrorResponse{Error: "something went wrong"}
	if verbose {
		resp.Detail = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}
