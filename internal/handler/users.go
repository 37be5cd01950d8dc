package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/user-manager/internal/auth"
	"github.com/sakif/user-manager/internal/model"
	"github.com/sakif/user-manager/internal/service"
)

// UserAdmin is the slice of service.UserAdminService the user routes need.
type UserAdmin interface {
	ListUsers(ctx context.Context, caller *auth.Claims) ([]model.User, error)
	GetUser(ctx context.Context, caller *auth.Claims, id int64) (*model.User, error)
	UpdateUser(ctx context.Context, caller *auth.Claims, id int64, in service.UpdateUserInput) error
	DeleteUser(ctx context.Context, caller *auth.Claims, id int64) error
}

// UsersHandler serves /api/users. Every route runs behind
// auth.RequireAuth, so the claims are always in the context; the services
// decide what the caller may do.
type UsersHandler struct {
	users  UserAdmin
	logger *slog.Logger
}

func NewUsersHandler(users UserAdmin, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{users: users, logger: logger}
}

// HandleList returns every user. HTTP: GET /api/users
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context(), caller(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleGet returns one user. HTTP: GET /api/users/{id}
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	user, err := h.users.GetUser(r.Context(), caller(r), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUpdate applies a partial update. HTTP: PUT /api/users/{id}
// Body: any of {"username", "email", "fullName"}.
func (h *UsersHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var in service.UpdateUserInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.users.UpdateUser(r.Context(), caller(r), id, in); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User updated successfully"})
}

// HandleDelete removes a user. HTTP: DELETE /api/users/{id}
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := h.users.DeleteUser(r.Context(), caller(r), id); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User deleted successfully"})
}

// caller returns the verified claims, or nil outside RequireAuth. The
// services turn nil into Unauthenticated.
func caller(r *http.Request) *auth.Claims {
	c, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil
	}
	return c
}
