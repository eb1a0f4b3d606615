package models

import "github.com/google/uuid"

// UserType distinguishes human accounts from bot accounts.
type UserType int

const (
	UserTypeHuman UserType = 1
	UserTypeBot   UserType = 2
)

// User represents a registered account.
type User struct {
	ID              uuid.UUID `json:"id"`
	CreatedDate     int64     `json:"created_date"` // Unix ms
	FirstName       string    `json:"first_name"`
	Username        string    `json:"username"`
	AvatarURL       string    `json:"avatar_url"`
	Type            UserType  `json:"type"`
	PasswordEncoded string    `json:"-"` // bcrypt hash, never serialized
}

// SafeUser is the subset of User fields approved for client exposure.
type SafeUser struct {
	ID        uuid.UUID `json:"id"`
	Type      UserType  `json:"type"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	AvatarURL string    `json:"avatar_url"`
}

// Safe returns the client-safe projection of the user.
func (u *User) Safe() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Type:      u.Type,
		Username:  u.Username,
		FirstName: u.FirstName,
		AvatarURL: u.AvatarURL,
	}
}
