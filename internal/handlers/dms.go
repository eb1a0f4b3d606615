package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/SpeedyCraftah/go-chat-app/internal/api/middleware"
	"github.com/SpeedyCraftah/go-chat-app/internal/metrics"
	"github.com/SpeedyCraftah/go-chat-app/internal/models"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

const (
	maxContentLength   = 500
	maxAttachmentCount = 5
	maxAttachmentBytes = 20 << 20 // 20 MiB per file

	// Cap on the JSON descriptor part of a multipart send.
	maxDescriptorBytes = 16 << 10

	defaultFetchLimit = 50
	maxFetchLimit     = 100
)

// DeclaredAttachment is a client-declared attachment in a send request.
// The declared size is only used for pre-ingestion validation; the
// recorded size is whatever was actually written.
type DeclaredAttachment struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// SendMessageRequest represents the send request body (the JSON part,
// for multipart sends).
type SendMessageRequest struct {
	Content     string               `json:"content"`
	Nonce       int64                `json:"nonce,omitempty"`
	Attachments []DeclaredAttachment `json:"attachments,omitempty"`
}

// FetchMessagesRequest represents the history fetch request body.
type FetchMessagesRequest struct {
	Limit int         `json:"limit,omitempty"`
	Pivot *FetchPivot `json:"pivot,omitempty"`
}

// FetchPivot is the pagination boundary: fetch messages strictly
// before (direction -1) or after (direction 1) the given timestamp.
type FetchPivot struct {
	Date      int64 `json:"date"`
	Direction int   `json:"direction"`
}

// OpenChannelResponse represents one entry of the open-channels list:
// the channel id and the safe projection of the other member.
type OpenChannelResponse struct {
	ID   uuid.UUID       `json:"id"`
	User models.SafeUser `json:"user"`
}

// channelFromRequest resolves the {channel_id} URL parameter and
// enforces membership. Writes the error response and returns nil on
// failure. An unknown channel is 404; a known channel where the
// requester is not a member is 401.
func (h *Handler) channelFromRequest(w http.ResponseWriter, r *http.Request, user *models.User) *models.DMChannel {
	channelID, err := uuid.Parse(chi.URLParam(r, "channel_id"))
	if err != nil {
		h.Error(w, http.StatusNotFound, "channel not found")
		return nil
	}

	channel, err := h.store.GetChannel(r.Context(), channelID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if channel == nil {
		h.Error(w, http.StatusNotFound, "channel not found")
		return nil
	}
	if !channel.HasMember(user.ID) {
		h.Error(w, http.StatusUnauthorized, "not a member of this channel")
		return nil
	}
	return channel
}

// GetChannel handles fetching a single open channel: its id and the
// other member's safe profile.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	channel := h.channelFromRequest(w, r, user)
	if channel == nil {
		return
	}

	other, err := h.store.GetUserByID(r.Context(), channel.OtherMember(user.ID))
	if err != nil || other == nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, OpenChannelResponse{ID: channel.ID, User: other.Safe()})
}

// ListOpenChannels handles listing the channels visible to the
// requester, each with the other member's safe profile.
func (h *Handler) ListOpenChannels(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	channels, err := h.store.ListVisibleChannels(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	open := make([]OpenChannelResponse, 0, len(channels))
	for _, channel := range channels {
		other, err := h.store.GetUserByID(r.Context(), channel.OtherMember(user.ID))
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if other == nil {
			continue
		}
		open = append(open, OpenChannelResponse{ID: channel.ID, User: other.Safe()})
	}

	h.JSON(w, http.StatusOK, open)
}

// SendMessage handles the message send protocol: authorization,
// validation, attachment ingestion, commit, visibility side effect,
// synchronous response and asynchronous fan-out.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	channel := h.channelFromRequest(w, r, user)
	if channel == nil {
		return
	}

	// The transport is either plain JSON or multipart with the JSON
	// descriptor as the first part, followed by one binary part per
	// declared attachment, in declared order.
	var req SendMessageRequest
	var parts *multipart.Reader

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		mr, err := r.MultipartReader()
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		descriptor, err := mr.NextPart()
		if err != nil {
			h.Error(w, http.StatusBadRequest, "missing message descriptor part")
			return
		}
		if err := json.NewDecoder(io.LimitReader(descriptor, maxDescriptorBytes)).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid message descriptor")
			return
		}
		parts = mr
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	// Validation: fail fast, no side effects.
	if req.Content == "" && len(req.Attachments) == 0 {
		h.Error(w, http.StatusBadRequest, "message must have content or attachments")
		return
	}
	if len(req.Content) > maxContentLength {
		h.Error(w, http.StatusUnprocessableEntity, "content too long (max 500 characters)")
		return
	}
	if len(req.Attachments) > maxAttachmentCount {
		h.Error(w, http.StatusBadRequest, "too many attachments (max 5)")
		return
	}
	for i := range req.Attachments {
		req.Attachments[i].Name = sanitizeFilename(req.Attachments[i].Name)
		if req.Attachments[i].Name == "" {
			h.Error(w, http.StatusBadRequest, "attachment name is required")
			return
		}
		if req.Attachments[i].SizeBytes > maxAttachmentBytes {
			h.Error(w, http.StatusBadRequest, "attachment exceeds size limit (20 MiB)")
			return
		}
	}
	if len(req.Attachments) > 0 && parts == nil {
		h.Error(w, http.StatusBadRequest, "attachments require a multipart body")
		return
	}

	// The message id is assigned before ingestion so attachment rows
	// can reference it; rollback is keyed by this provisional id.
	msg := &models.Message{
		ID:        ulid.Make().String(),
		ChannelID: channel.ID,
		UserID:    user.ID,
		Content:   req.Content,
	}

	if len(req.Attachments) > 0 {
		atts, err := h.ingestAttachments(r, parts, msg.ID, req.Attachments)
		if err != nil {
			// Partial state is already rolled back; the client sees a
			// generic failure with no storage detail.
			metrics.AttachmentRollbacks.Inc()
			h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("attachment ingestion aborted")
			h.Error(w, http.StatusBadRequest, "attachment upload failed")
			return
		}
		msg.Attachments = atts
	}

	// Commit with a server-assigned timestamp.
	msg.Date = time.Now().UnixMilli()
	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		h.rollbackAttachments(context.WithoutCancel(r.Context()), msg.ID, msg.Attachments)
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	// First message into a hidden channel makes it visible to both
	// members, sender and recipient alike.
	if !channel.User1Visible || !channel.User2Visible {
		if err := h.store.SetChannelVisibility(r.Context(), channel.ID, true, true); err != nil {
			h.logger.Error().Err(err).Str("channel_id", channel.ID.String()).Msg("visibility update failed")
		}
	}

	metrics.MessagesSent.WithLabelValues(boolLabel(len(msg.Attachments) > 0)).Inc()

	safe := msg.Safe(h.resourceURL)
	h.JSON(w, http.StatusOK, safe)

	// Fan-out happens after the response; the HTTP reply is the
	// authoritative success signal, events are best-effort.
	go h.dispatcher.BroadcastNewMessage(channel, safe, req.Nonce)
}

// ingestAttachments pairs each declared attachment with the next
// binary part and streams it into the blob store. Any failure rolls
// back every row and blob already created for this message id.
func (h *Handler) ingestAttachments(r *http.Request, parts *multipart.Reader, messageID string, declared []DeclaredAttachment) ([]models.Attachment, error) {
	var created []models.Attachment

	// Ingestion failures usually mean the client dropped the
	// connection, which cancels the request context. Rollback runs on
	// a detached context so it still reaches the store.
	rollbackCtx := context.WithoutCancel(r.Context())

	for _, decl := range declared {
		part, err := parts.NextPart()
		if err != nil {
			// Fewer binary parts than declared attachments: the
			// client aborted or lied. Abort the whole send.
			h.rollbackAttachments(rollbackCtx, messageID, created)
			return nil, err
		}

		att := models.Attachment{
			ID:         uuid.New(),
			ResourceID: messageID,
			Date:       time.Now().UnixMilli(),
			MimeType:   partMimeType(part),
			Name:       decl.Name,
		}

		written, err := h.blobs.WriteFrom(att.ID, part, maxAttachmentBytes)
		if err != nil {
			h.rollbackAttachments(rollbackCtx, messageID, created)
			return nil, err
		}
		if written > maxAttachmentBytes {
			_ = h.blobs.Delete(att.ID)
			h.rollbackAttachments(rollbackCtx, messageID, created)
			return nil, errTooLarge(decl.Name)
		}

		// Record what was written, not what was claimed.
		att.SizeBytes = written

		if err := h.store.CreateAttachment(r.Context(), &att); err != nil {
			_ = h.blobs.Delete(att.ID)
			h.rollbackAttachments(rollbackCtx, messageID, created)
			return nil, err
		}

		created = append(created, att)
		metrics.AttachmentsIngested.Inc()
	}

	return created, nil
}

// rollbackAttachments deletes all attachment rows and blobs created
// for the given provisional message id.
func (h *Handler) rollbackAttachments(ctx context.Context, messageID string, created []models.Attachment) {
	if err := h.store.DeleteAttachmentsByMessage(ctx, messageID); err != nil {
		h.logger.Error().Err(err).Str("message_id", messageID).Msg("attachment row rollback failed")
	}
	for _, att := range created {
		if err := h.blobs.Delete(att.ID); err != nil {
			h.logger.Error().Err(err).Str("attachment_id", att.ID.String()).Msg("attachment blob rollback failed")
		}
	}
}

// FetchMessages handles pivot-paginated history fetches, newest first.
func (h *Handler) FetchMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	channel := h.channelFromRequest(w, r, user)
	if channel == nil {
		return
	}

	var req FetchMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultFetchLimit
	}
	if req.Limit > maxFetchLimit {
		req.Limit = maxFetchLimit
	}

	var pivotDate int64
	direction := store.FetchOlder
	if req.Pivot != nil {
		if req.Pivot.Direction != -1 && req.Pivot.Direction != 1 {
			h.Error(w, http.StatusBadRequest, "pivot direction must be -1 or 1")
			return
		}
		pivotDate = req.Pivot.Date
		direction = store.FetchDirection(req.Pivot.Direction)
	}

	messages, err := h.store.ListMessages(r.Context(), channel.ID, req.Limit, pivotDate, direction)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	safe := make([]models.SafeMessage, 0, len(messages))
	for i := range messages {
		safe = append(safe, messages[i].Safe(h.resourceURL))
	}
	h.JSON(w, http.StatusOK, safe)
}

// DeleteAllMessages is the administrative bulk-delete endpoint. It
// removes every message, attachment row and blob in the channel.
func (h *Handler) DeleteAllMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	channel := h.channelFromRequest(w, r, user)
	if channel == nil {
		return
	}

	attIDs, err := h.store.ListAttachmentIDsByChannel(r.Context(), channel.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := h.store.DeleteChannelMessages(r.Context(), channel.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	for _, id := range attIDs {
		if err := h.blobs.Delete(id); err != nil {
			h.logger.Error().Err(err).Str("attachment_id", id.String()).Msg("blob delete failed")
		}
	}

	w.WriteHeader(http.StatusOK)
}

// partMimeType extracts the content type of a binary part, defaulting
// to an opaque stream.
func partMimeType(part *multipart.Part) string {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type errTooLarge string

func (e errTooLarge) Error() string {
	return "attachment part exceeded size cap: " + string(e)
}
