package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

// UserResponse is the public view of a user
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func userResponse(u *simplegate.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

// RegisterResponse is returned by a successful registration
type RegisterResponse struct {
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
}

// LoginRequest carries credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries a session token
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

var errInvalidBody = &simplegate.ValidationError{Field: "body", Reason: "Invalid request body"}

// Register handles POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req simplegate.RegisterRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, errInvalidBody)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusCreated, RegisterResponse{
		Message: "Registration successful",
		User:    userResponse(user),
	})
}

// Login handles POST /api/login. The token is returned in the body and set
// as the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, errInvalidBody)
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, expiresAt, err := h.sessions.Issue(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessions.Cookie(token, expiresAt))
	writeData(w, r, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      userResponse(user),
	})
}

// Me handles GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, simplegate.ErrAuthentication)
		return
	}

	user, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, simplegate.ErrUserNotFound) {
			err = simplegate.ErrAuthentication
		}
		h.writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, userResponse(user))
}
