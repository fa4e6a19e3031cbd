package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/chatcore/internal/domain"
)

func (s *Store) Store(ctx context.Context, msg domain.NewMessage) (domain.MessageRecord, error) {
	typ := msg.Type
	if typ == "" {
		typ = domain.MessageText
	}
	row := Message{
		RoomID:      int64(msg.RoomID),
		UserID:      int64(msg.Identity.ID),
		Username:    msg.Identity.Username,
		Message:     msg.Text,
		MessageType: string(typ),
		Timestamp:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.MessageRecord{}, fmt.Errorf("failed to save message: %w", err)
	}
	return domain.MessageRecord{
		ID:          domain.MessageID(row.ID),
		RoomID:      msg.RoomID,
		UserID:      msg.Identity.ID,
		Username:    msg.Identity.Username,
		DisplayName: msg.Identity.DisplayName,
		AvatarColor: msg.Identity.AvatarColor,
		Text:        row.Message,
		Type:        typ,
		Timestamp:   row.Timestamp,
	}, nil
}

type messageRow struct {
	ID          int64
	RoomID      int64
	UserID      int64
	Username    string
	Message     string
	MessageType string
	Timestamp   time.Time
	DisplayName string
	AvatarColor string
}

// RecentMessages returns the last limit messages of room, oldest first.
func (s *Store) RecentMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.MessageRecord, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.id, m.room_id, m.user_id, m.username, m.message, m.message_type, m.timestamp, u.display_name, u.avatar_color").
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.room_id = ?", int64(room)).
		Order("m.timestamp DESC, m.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	slices.Reverse(rows)
	out := make([]domain.MessageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MessageRecord{
			ID:          domain.MessageID(r.ID),
			RoomID:      domain.RoomID(r.RoomID),
			UserID:      domain.UserID(r.UserID),
			Username:    r.Username,
			DisplayName: r.DisplayName,
			AvatarColor: r.AvatarColor,
			Text:        r.Message,
			Type:        domain.MessageType(r.MessageType),
			Timestamp:   r.Timestamp,
		})
	}
	return out, nil
}
