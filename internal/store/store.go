package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

// FetchDirection selects which side of the pivot a history fetch reads.
type FetchDirection int

const (
	// FetchOlder returns messages strictly older than the pivot.
	FetchOlder FetchDirection = -1
	// FetchNewer returns messages strictly newer than the pivot.
	FetchNewer FetchDirection = 1
)

// DataStore defines the interface for durable storage of users, sessions,
// channels, messages and attachment metadata. Both SQLiteStore and
// PostgresStore implement this interface.
//
// Lookup methods return (nil, nil) when the record does not exist.
type DataStore interface {
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, userType models.UserType, firstName, username, passwordEncoded string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, usernamePrefix string, limit int, exclude uuid.UUID) ([]models.User, error)

	// Session operations
	CreateSession(ctx context.Context, userID uuid.UUID, token string) (*models.Session, error)
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	GetSessionByUserID(ctx context.Context, userID uuid.UUID) (*models.Session, error)
	DeleteSessionsByUserID(ctx context.Context, userID uuid.UUID) error

	// Channel operations
	CreateChannel(ctx context.Context, user1, user2 uuid.UUID, user1Visible, user2Visible bool) (*models.DMChannel, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*models.DMChannel, error)
	GetChannelByMembers(ctx context.Context, user1, user2 uuid.UUID) (*models.DMChannel, error)
	ListVisibleChannels(ctx context.Context, userID uuid.UUID) ([]models.DMChannel, error)
	SetChannelVisibility(ctx context.Context, id uuid.UUID, user1Visible, user2Visible bool) error

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, channelID uuid.UUID, limit int, pivotDate int64, direction FetchDirection) ([]models.Message, error)
	DeleteChannelMessages(ctx context.Context, channelID uuid.UUID) error

	// Attachment operations
	CreateAttachment(ctx context.Context, att *models.Attachment) error
	GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error)
	ListAttachmentsByMessage(ctx context.Context, messageID string) ([]models.Attachment, error)
	DeleteAttachmentsByMessage(ctx context.Context, messageID string) error
	ListAttachmentIDsByChannel(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error)
}
