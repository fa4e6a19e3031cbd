package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/chatcore/internal/domain"
	"gorm.io/gorm"
)

// GuestLogin loads the user by username, creating it on first use.
func (s *Store) GuestLogin(ctx context.Context, username, displayName string) (domain.Identity, error) {
	username, err := domain.NormalizeUsername(username)
	if err != nil {
		return domain.Identity{}, err
	}
	u := User{
		DisplayName: domain.NormalizeDisplayName(displayName, username),
		AvatarColor: domain.AvatarColorFor(username),
		LastSeen:    s.now(),
	}
	err = s.db.WithContext(ctx).
		Where(User{Username: username}).
		Attrs(u).
		FirstOrCreate(&u).Error
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to login user: %w", err)
	}
	return toIdentity(u), nil
}

func (s *Store) UserByID(ctx context.Context, id domain.UserID) (domain.Identity, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Identity{}, domain.ErrUserNotFound
		}
		return domain.Identity{}, fmt.Errorf("failed to find user: %w", err)
	}
	return toIdentity(u), nil
}

func (s *Store) SetOnline(ctx context.Context, id domain.UserID, online bool) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", int64(id)).
		Updates(map[string]any{"is_online": online, "last_seen": s.now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}

// IsOnline reports the persisted online flag.
func (s *Store) IsOnline(ctx context.Context, id domain.UserID) (bool, error) {
	var u User
	if err := s.db.WithContext(ctx).Select("is_online").First(&u, "id = ?", int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, domain.ErrUserNotFound
		}
		return false, fmt.Errorf("failed to find user: %w", err)
	}
	return u.IsOnline, nil
}

func toIdentity(u User) domain.Identity {
	color := u.AvatarColor
	if color == "" {
		color = domain.DefaultAvatarColor
	}
	return domain.Identity{
		ID:          domain.UserID(u.ID),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarColor: color,
	}
}
