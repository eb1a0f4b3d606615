package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/SpeedyCraftah/go-chat-app/internal/api/middleware"
	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

const bcryptCost = 11

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session bearer token.
type LoginResponse struct {
	Session string `json:"session"`
}

// RegisterRequest represents the account registration request body.
type RegisterRequest struct {
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Login handles username/password authentication. A user keeps a
// single session; repeated logins return the existing token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	// Unknown user and wrong password are indistinguishable.
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordEncoded), []byte(req.Password)); err != nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	session, err := h.store.GetSessionByUserID(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if session == nil {
		token, err := generateSessionToken()
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "token generation failed")
			return
		}
		session, err = h.store.CreateSession(r.Context(), user.ID, token)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
	}

	h.JSON(w, http.StatusOK, LoginResponse{Session: session.Token})
}

// Logout deletes the user's sessions and evicts them from the cache.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	// Invalidate the cache entry before the row disappears.
	if h.redis != nil {
		if token := r.Header.Get("X-Session"); token != "" {
			_ = h.redis.InvalidateSession(r.Context(), token)
		}
	}

	if err := h.store.DeleteSessionsByUserID(r.Context(), user.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Register creates a new account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Username = sanitizeFilename(req.Username)
	req.FirstName = sanitizeFilename(req.FirstName)
	if req.Username == "" || len(req.Username) > 30 {
		h.Error(w, http.StatusBadRequest, "username must be 1-30 characters")
		return
	}
	if req.FirstName == "" || len(req.FirstName) > 20 {
		h.Error(w, http.StatusBadRequest, "first name must be 1-20 characters")
		return
	}
	if len(req.Password) < 8 {
		h.Error(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	existing, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing != nil {
		h.Error(w, http.StatusConflict, "username already taken")
		return
	}

	encoded, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "password hashing failed")
		return
	}

	user, err := h.store.CreateUser(r.Context(), models.UserTypeHuman, req.FirstName, req.Username, string(encoded))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusCreated, user.Safe())
}

// generateSessionToken produces an opaque 128-byte bearer token.
func generateSessionToken() (string, error) {
	buf := make([]byte, 128)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
