package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SpeedyCraftah/go-chat-app/internal/api/middleware"
	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

// SearchUsersRequest represents the user search request body.
type SearchUsersRequest struct {
	Username string `json:"username,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// targetUserFromRequest resolves the {user_id} URL parameter. Writes
// the error response and returns nil when the user cannot be resolved.
func (h *Handler) targetUserFromRequest(w http.ResponseWriter, r *http.Request) *models.User {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return nil
	}

	target, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if target == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return nil
	}
	return target
}

// GetUser handles fetching a user's safe profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	target := h.targetUserFromRequest(w, r)
	if target == nil {
		return
	}
	h.JSON(w, http.StatusOK, target.Safe())
}

// SearchUsers handles username prefix search, excluding the requester.
// An empty query returns an arbitrary page of users for discovery.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SearchUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit <= 0 || req.Limit > 20 {
		req.Limit = 20
	}
	if len(req.Username) > 30 {
		h.Error(w, http.StatusBadRequest, "username query too long")
		return
	}

	users, err := h.store.SearchUsers(r.Context(), req.Username, req.Limit, user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	results := make([]models.SafeUser, 0, len(users))
	for _, u := range users {
		results = append(results, u.Safe())
	}
	h.JSON(w, http.StatusOK, results)
}

// CreateDM handles opening (or unhiding) a DM channel with another
// user. Creation marks the channel visible to the requester only; it
// becomes visible to the other member once a message is sent.
func (h *Handler) CreateDM(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	target := h.targetUserFromRequest(w, r)
	if target == nil {
		return
	}
	if target.ID == user.ID {
		h.Error(w, http.StatusBadRequest, "cannot open a DM with yourself")
		return
	}

	channel, err := h.store.GetChannelByMembers(r.Context(), user.ID, target.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if channel == nil {
		channel, err = h.store.CreateChannel(r.Context(), user.ID, target.ID, true, false)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
	} else if !channel.VisibleTo(user.ID) {
		user1Visible := channel.User1Visible || channel.User1ID == user.ID
		user2Visible := channel.User2Visible || channel.User2ID == user.ID
		if err := h.store.SetChannelVisibility(r.Context(), channel.ID, user1Visible, user2Visible); err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
	}

	h.JSON(w, http.StatusOK, OpenChannelResponse{ID: channel.ID, User: target.Safe()})
}
