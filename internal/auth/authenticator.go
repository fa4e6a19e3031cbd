package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

// UserLookup is the slice of the user store the authenticator needs.
type UserLookup interface {
	UserByID(ctx context.Context, id domain.UserID) (domain.Identity, error)
}

// Authenticator accepts either a bearer token or a cookie session user id.
// A token, when present, wins.
type Authenticator struct {
	tokens *TokenManager
	users  UserLookup
}

func NewAuthenticator(tokens *TokenManager, users UserLookup) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

func (a *Authenticator) ResolveIdentity(ctx context.Context, creds core.Credentials) (domain.Identity, error) {
	uid := creds.SessionUserID
	if creds.Token != "" {
		claims, err := a.tokens.Validate(creds.Token)
		if err != nil {
			log.Debug().Err(err).Str("module", "auth").Msg("token rejected")
			return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		uid = domain.UserID(claims.UserID)
	}
	if uid == 0 {
		return domain.Identity{}, fmt.Errorf("%w: no credentials", domain.ErrAuth)
	}
	identity, err := a.users.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		return domain.Identity{}, err
	}
	return identity, nil
}
