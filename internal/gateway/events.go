package gateway

import (
	"github.com/google/uuid"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

// Server-to-client and client-to-server op codes.
const (
	OpReady        = "READY"
	OpNewDMMessage = "NEW_DM_MESSAGE"
	OpTypingStart  = "TYPING_START"
)

// Event is the envelope for all gateway traffic, both directions.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"data"`
}

// ReadyData is sent once immediately after a successful handshake.
type ReadyData struct {
	User models.SafeUser `json:"user"`
}

// TypingData notifies the other channel member that a user is typing.
type TypingData struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// incomingEvent is a frame received from a client.
type incomingEvent struct {
	Op   string            `json:"op"`
	Data incomingEventData `json:"data"`
}

type incomingEventData struct {
	ChannelType models.ChannelType `json:"channel_type"`
	ChannelID   string             `json:"channel_id"`
}
