// Package storage is the sqlite backed room catalog, message store and
// user store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DefaultRooms are created on first start.
var DefaultRooms = []string{"General", "Technology", "Random"}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (or creates) the sqlite database at path and migrates it.
func Open(path string, debug bool) (*Store, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "storage").Str("path", path).Msg("database ready")
	return s, nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Room{}, &Message{}, &RoomMember{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Seed inserts the default public rooms unless they already exist.
func (s *Store) Seed(ctx context.Context) error {
	for _, name := range DefaultRooms {
		room := Room{RoomName: name, RoomType: "public", CreatedAt: s.now()}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room_name"}}, DoNothing: true}).
			Create(&room).Error
		if err != nil {
			return fmt.Errorf("seed room %q: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
