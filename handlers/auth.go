package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"lunastream/models"
	"lunastream/services/auth"
)

type userContextKey struct{}

// WithUser stashes the authenticated user on the request context.
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFrom returns the authenticated user placed by the auth middleware.
func UserFrom(r *http.Request) (models.User, bool) {
	user, ok := r.Context().Value(userContextKey{}).(models.User)
	return user, ok
}

// AuthService is the slice of the auth service the handler needs.
type AuthService interface {
	Register(username, password string) (models.User, string, error)
	Login(username, password string) (models.User, string, error)
	Verify(token string) (models.User, error)
}

// AuthHandler serves registration, login, and token introspection.
type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Register creates an account. The first account created becomes the admin.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.svc.Register(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	case errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, http.StatusConflict, CodeConflict, "username is taken")
		return
	case err != nil:
		log.Printf("[auth] register: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "registration failed")
		return
	}

	log.Printf("[auth] registered user %q (admin=%v)", user.Username, user.IsAdmin)
	writeJSON(w, http.StatusCreated, sessionResponse{User: user, Token: token})
}

// Login exchanges credentials for a token. Failures are indistinguishable on
// purpose.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.svc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid username or password")
			return
		}
		log.Printf("[auth] login: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "login failed")
		return
	}

	log.Printf("[auth] login user %q token=%s", user.Username, auth.Fingerprint(token))
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

// Verify returns the account behind the presented token.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user": user})
}

