package models

import "github.com/google/uuid"

// Session maps an opaque bearer token to a user identity.
type Session struct {
	ID          int64     `json:"id"`
	Token       string    `json:"token"`
	UserID      uuid.UUID `json:"user_id"`
	CreatedDate int64     `json:"created_date"` // Unix ms
}
