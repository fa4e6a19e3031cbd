package domain

// EventType is the "type" field of every wire frame.
type EventType string

// Client -> server.
const (
	EventJoinRoom    EventType = "join_room"
	EventLeaveRoom   EventType = "leave_room"
	EventSendMessage EventType = "send_message"
	EventTyping      EventType = "typing"
	EventCreateRoom  EventType = "create_room"
	EventPing        EventType = "ping"
	EventWhoAmI      EventType = "whoami"
)

// Server -> client.
const (
	EventConnectionSuccess EventType = "connection_success"
	EventNewMessage        EventType = "new_message"
	EventMessageHistory    EventType = "message_history"
	EventUserJoined        EventType = "user_joined"
	EventUserLeftRoom      EventType = "user_left_room"
	EventUserTyping        EventType = "user_typing"
	EventRoomCreated       EventType = "room_created"
	EventRoomCreationError EventType = "room_creation_error"
	EventError             EventType = "error"
	EventPong              EventType = "pong"
)

// Envelope is decoded first to pick a handler; the same bytes are then
// decoded again into the concrete payload.
type Envelope struct {
	Type EventType `json:"type"`
}

type JoinRoomPayload struct {
	RoomID   RoomID `json:"room_id"`
	RoomName string `json:"room_name"`
}

type LeaveRoomPayload struct {
	RoomID RoomID `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID  RoomID `json:"room_id"`
	Message string `json:"message"`
}

type TypingPayload struct {
	RoomID   RoomID `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type CreateRoomPayload struct {
	RoomName string `json:"room_name"`
}

type ConnectionSuccessEvent struct {
	Type        EventType `json:"type"`
	UserID      UserID    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
}

type NewMessageEvent struct {
	Type        EventType   `json:"type"`
	ID          MessageID   `json:"id"`
	RoomID      RoomID      `json:"room_id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	Message     string      `json:"message"`
	MessageType MessageType `json:"message_type"`
	Timestamp   string      `json:"timestamp"`
	AvatarColor string      `json:"avatar_color"`
}

type MessageHistoryEvent struct {
	Type     EventType         `json:"type"`
	RoomID   RoomID            `json:"room_id"`
	Messages []NewMessageEvent `json:"messages"`
}

// PresenceEvent is shared by user_joined and user_left_room.
type PresenceEvent struct {
	Type        EventType `json:"type"`
	RoomID      RoomID    `json:"room_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarColor string    `json:"avatar_color,omitempty"`
	Message     string    `json:"message"`
	Timestamp   string    `json:"timestamp"`
}

type UserTypingEvent struct {
	Type        EventType `json:"type"`
	RoomID      RoomID    `json:"room_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	IsTyping    bool      `json:"is_typing"`
}

type RoomCreatedEvent struct {
	Type     EventType `json:"type"`
	RoomID   RoomID    `json:"room_id"`
	RoomName string    `json:"room_name"`
	Message  string    `json:"message"`
}

type ErrorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

type PongEvent struct {
	Type EventType `json:"type"`
}

type WhoAmIEvent struct {
	Type        EventType `json:"type"`
	UserID      UserID    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Rooms       []RoomID  `json:"rooms"`
}

// MessageEvent renders a stored record as a new_message payload.
func MessageEvent(m MessageRecord) NewMessageEvent {
	return NewMessageEvent{
		Type:        EventNewMessage,
		ID:          m.ID,
		RoomID:      m.RoomID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Message:     m.Text,
		MessageType: m.Type,
		Timestamp:   m.Timestamp.Format(TimestampLayout),
		AvatarColor: m.AvatarColor,
	}
}
