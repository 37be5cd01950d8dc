package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/user-manager/internal/model"
	"github.com/sakif/user-manager/internal/service"
)

// Authenticator is the slice of service.AuthService the auth routes need.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
}

// AuthHandler serves registration and login.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → POST /api/register, 201 {message, user}
//   - HandleLogin    → POST /api/login, 200 {message, token, user}
//
// Neither route needs a token. Both may sit behind the rate limiter.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewAuthHandler(auth Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type registerResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// loginRequest accepts the identifier as "username" or "email". The
// username field may itself hold an email address.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    *model.User `json:"user"`
}

// HandleRegister creates an account.
//
// HTTP: POST /api/register
// Body: {"username", "email", "password", "fullName", "role"?}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, err)
		return
	}

	user, err := h.auth.Register(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Message: "User registered successfully",
		User:    user,
	})
}

// HandleLogin exchanges credentials for a bearer token.
//
// HTTP: POST /api/login
// Body: {"username" | "email", "password"}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Identifier: identifier,
		Password:   req.Password,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		Token:   res.Token,
		User:    res.User,
	})
}
