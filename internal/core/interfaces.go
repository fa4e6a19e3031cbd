package core

import (
	"context"

	"github.com/dkeye/chatcore/internal/domain"
)

// Authenticator resolves handshake credentials into an identity.
// Failures must wrap domain.ErrAuth.
type Authenticator interface {
	ResolveIdentity(ctx context.Context, creds Credentials) (domain.Identity, error)
}

// RoomCatalog is the external room store.
type RoomCatalog interface {
	Exists(ctx context.Context, id domain.RoomID) (bool, error)
	// Create fails with domain.ErrNameConflict when the name is taken.
	Create(ctx context.Context, name string, createdBy domain.UserID) (domain.Room, error)
	List(ctx context.Context) ([]domain.RoomSummary, error)
	// AddMember records historical membership; repeated calls are no-ops.
	AddMember(ctx context.Context, room domain.RoomID, user domain.UserID) error
}

// MessageStore persists chat lines.
type MessageStore interface {
	Store(ctx context.Context, msg domain.NewMessage) (domain.MessageRecord, error)
	// RecentMessages returns at most limit records in chronological order.
	RecentMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.MessageRecord, error)
}

// StatusRecorder tracks the coarse online flag of a user.
type StatusRecorder interface {
	SetOnline(ctx context.Context, user domain.UserID, online bool) error
}
