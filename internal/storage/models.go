package storage

import "time"

type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Username    string    `gorm:"size:50;uniqueIndex;not null"`
	DisplayName string    `gorm:"size:100"`
	AvatarColor string    `gorm:"size:7;not null"`
	IsOnline    bool      `gorm:"not null;default:false"`
	LastSeen    time.Time
	CreatedAt   time.Time
}

func (User) TableName() string { return "users" }

type Room struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RoomName  string `gorm:"size:100;uniqueIndex;not null"`
	RoomType  string `gorm:"size:10;not null"`
	CreatedBy *int64
	CreatedAt time.Time
}

func (Room) TableName() string { return "rooms" }

type Message struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	RoomID      int64     `gorm:"not null;index:idx_room_timestamp,priority:1"`
	UserID      int64     `gorm:"not null"`
	Username    string    `gorm:"size:50;not null"`
	Message     string    `gorm:"type:text;not null"`
	MessageType string    `gorm:"size:10;not null"`
	Timestamp   time.Time `gorm:"index:idx_room_timestamp,priority:2"`
}

func (Message) TableName() string { return "messages" }

// RoomMember is historical membership, distinct from live presence.
type RoomMember struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	RoomID   int64 `gorm:"not null;uniqueIndex:unique_room_user"`
	UserID   int64 `gorm:"not null;uniqueIndex:unique_room_user"`
	JoinedAt time.Time
}

func (RoomMember) TableName() string { return "room_members" }
