package domain

import "time"

type MessageID int64

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"

	TimestampLayout = "2006-01-02 15:04:05"
)

// MessageRecord is a persisted chat line as returned by the store.
type MessageRecord struct {
	ID          MessageID
	RoomID      RoomID
	UserID      UserID
	Username    string
	DisplayName string
	AvatarColor string
	Text        string
	Type        MessageType
	Timestamp   time.Time
}

// NewMessage is what the router asks the store to persist.
type NewMessage struct {
	RoomID   RoomID
	Identity Identity
	Text     string
	Type     MessageType
}
