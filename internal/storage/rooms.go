package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/chatcore/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) Exists(ctx context.Context, id domain.RoomID) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Room{}).Where("id = ?", int64(id)).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return n > 0, nil
}

// Create inserts a public room, failing with domain.ErrNameConflict on a
// taken name.
func (s *Store) Create(ctx context.Context, name string, createdBy domain.UserID) (domain.Room, error) {
	room := Room{RoomName: name, RoomType: string(domain.RoomPublic), CreatedAt: s.now()}
	if createdBy != 0 {
		by := int64(createdBy)
		room.CreatedBy = &by
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Room{}).Where("room_name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrNameConflict
		}
		return tx.Create(&room).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.Room{}, domain.ErrNameConflict
	}
	if err != nil {
		if errors.Is(err, domain.ErrNameConflict) {
			return domain.Room{}, err
		}
		return domain.Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	return toDomainRoom(room), nil
}

type roomRow struct {
	Room
	MessageCount int64
	MemberCount  int64
}

// List returns public rooms in creation order with message and historical
// member counts.
func (s *Store) List(ctx context.Context) ([]domain.RoomSummary, error) {
	var rows []roomRow
	err := s.db.WithContext(ctx).
		Table("rooms AS r").
		Select(`r.*,
			(SELECT COUNT(*) FROM messages m WHERE m.room_id = r.id) AS message_count,
			(SELECT COUNT(*) FROM room_members rm WHERE rm.room_id = r.id) AS member_count`).
		Where("r.room_type = ?", string(domain.RoomPublic)).
		Order("r.created_at, r.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	out := make([]domain.RoomSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RoomSummary{
			Room:         toDomainRoom(r.Room),
			MessageCount: r.MessageCount,
			MemberCount:  r.MemberCount,
		})
	}
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	m := RoomMember{RoomID: int64(room), UserID: int64(user), JoinedAt: s.now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room_id"}, {Name: "user_id"}}, DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func toDomainRoom(r Room) domain.Room {
	out := domain.Room{
		ID:        domain.RoomID(r.ID),
		Name:      r.RoomName,
		Type:      domain.RoomType(r.RoomType),
		CreatedAt: r.CreatedAt,
	}
	if r.CreatedBy != nil {
		out.CreatedBy = domain.UserID(*r.CreatedBy)
	}
	return out
}
