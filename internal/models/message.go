package models

import "github.com/google/uuid"

// Message is a persisted DM message. Immutable once committed.
type Message struct {
	ID        string    `json:"id"` // ULID, time-ordered
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"` // author
	Date      int64     `json:"date"`    // Unix ms, server clock
	Content   string    `json:"content"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// SafeAttachment is the client-facing projection of an attachment,
// with its download URL resolved.
type SafeAttachment struct {
	ID        uuid.UUID `json:"id"`
	SizeBytes int64     `json:"size_bytes"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	URL       string    `json:"url"`
}

// SafeMessage is the client-facing projection of a message.
// Nonce is only populated on gateway readback events to the author's
// own connections.
type SafeMessage struct {
	ID          string           `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	ChannelID   uuid.UUID        `json:"channel_id"`
	Content     string           `json:"content"`
	Date        int64            `json:"date"`
	Nonce       int64            `json:"nonce,omitempty"`
	Attachments []SafeAttachment `json:"attachments,omitempty"`
}

// Safe returns the client-safe projection of the message. resolveURL
// derives the download URL for each attachment.
func (m *Message) Safe(resolveURL func(Attachment) string) SafeMessage {
	safe := SafeMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Date:      m.Date,
	}
	for _, a := range m.Attachments {
		safe.Attachments = append(safe.Attachments, SafeAttachment{
			ID:        a.ID,
			SizeBytes: a.SizeBytes,
			Name:      a.Name,
			MimeType:  a.MimeType,
			URL:       resolveURL(a),
		})
	}
	return safe
}
