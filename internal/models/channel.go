package models

import "github.com/google/uuid"

// ChannelType enumerates channel kinds carried on gateway frames.
// DMs are the only kind currently implemented.
type ChannelType int

const ChannelTypeDM ChannelType = 1

// DMChannel is a direct-message conversation between exactly two users.
// Membership is symmetric and fixed at creation; User1ID != User2ID.
//
// A channel only shows up in a member's open-channel list once their
// visibility flag is set. Any committed message flips both flags true.
type DMChannel struct {
	ID           uuid.UUID `json:"id"`
	User1ID      uuid.UUID `json:"user1_id"`
	User2ID      uuid.UUID `json:"user2_id"`
	User1Visible bool      `json:"user1_visible"`
	User2Visible bool      `json:"user2_visible"`
}

// HasMember reports whether userID is one of the two channel members.
func (c *DMChannel) HasMember(userID uuid.UUID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// OtherMember returns the id of the member that is not userID.
// Only meaningful when HasMember(userID) is true.
func (c *DMChannel) OtherMember(userID uuid.UUID) uuid.UUID {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// VisibleTo reports whether the channel is shown in userID's open list.
func (c *DMChannel) VisibleTo(userID uuid.UUID) bool {
	if c.User1ID == userID {
		return c.User1Visible
	}
	return c.User2Visible
}
