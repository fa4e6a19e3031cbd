package core

import "github.com/dkeye/chatcore/internal/domain"

// ConnectionID identifies one live transport session.
type ConnectionID string

// Credentials is whatever the transport managed to extract at handshake.
type Credentials struct {
	Token         string
	SessionUserID domain.UserID
}
