package domain

import "time"

type RoomID int64

type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"

	MaxRoomNameLen = 100
)

type Room struct {
	ID        RoomID    `json:"id"`
	Name      string    `json:"room_name"`
	Type      RoomType  `json:"room_type"`
	CreatedBy UserID    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is the listing view served to REST collaborators.
// MemberCount is historical membership, OnlineCount is live presence.
type RoomSummary struct {
	Room
	MessageCount int64 `json:"message_count"`
	MemberCount  int64 `json:"member_count"`
	OnlineCount  int   `json:"online_count"`
}
