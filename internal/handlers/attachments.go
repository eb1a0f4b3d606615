package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SpeedyCraftah/go-chat-app/internal/blob"
)

// ServeAttachment handles attachment downloads. The URL carries the
// owning message id and the filename alongside the attachment id; all
// three must match the stored record, so stale or guessed links 404.
func (h *Handler) ServeAttachment(w http.ResponseWriter, r *http.Request) {
	attID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "attachment not found")
		return
	}

	att, err := h.store.GetAttachment(r.Context(), attID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if att == nil || att.ResourceID != chi.URLParam(r, "resource_id") || att.Name != chi.URLParam(r, "name") {
		h.Error(w, http.StatusNotFound, "attachment not found")
		return
	}

	data, err := h.blobs.Get(att.ID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "attachment not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "blob read failed")
		return
	}

	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
