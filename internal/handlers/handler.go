package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/SpeedyCraftah/go-chat-app/internal/blob"
	"github.com/SpeedyCraftah/go-chat-app/internal/gateway"
	"github.com/SpeedyCraftah/go-chat-app/internal/models"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      store.DataStore
	redis      *store.RedisStore
	blobs      *blob.Store
	dispatcher *gateway.Dispatcher
	cdnBaseURL string
	logger     zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(ds store.DataStore, redis *store.RedisStore, blobs *blob.Store, dispatcher *gateway.Dispatcher, cdnBaseURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:      ds,
		redis:      redis,
		blobs:      blobs,
		dispatcher: dispatcher,
		cdnBaseURL: strings.TrimRight(cdnBaseURL, "/"),
		logger:     logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// resourceURL derives the deterministic download URL for an attachment.
func (h *Handler) resourceURL(att models.Attachment) string {
	return fmt.Sprintf("%s/cdn/attachments/%s/%s/%s", h.cdnBaseURL, att.ResourceID, att.ID, att.Name)
}

// sanitizeFilename trims and limits a display name to 100 characters,
// removing control characters and path separators.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}
