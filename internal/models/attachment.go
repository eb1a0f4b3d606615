package models

import "github.com/google/uuid"

// Attachment is metadata for a binary part uploaded alongside a message.
// ResourceID is the owning message id; the bytes themselves live in the
// blob store keyed by the attachment id. SizeBytes is the byte count
// actually written during ingestion, not the client-declared size.
type Attachment struct {
	ID         uuid.UUID `json:"id"`
	ResourceID string    `json:"resource_id"` // owning message ULID
	Date       int64     `json:"date"`        // Unix ms
	SizeBytes  int64     `json:"size_bytes"`
	MimeType   string    `json:"mime_type"`
	Name       string    `json:"name"` // sanitized display name
}
