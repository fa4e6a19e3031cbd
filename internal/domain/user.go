// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
)

const (
	MaxUsernameLen    = 50
	MaxDisplayNameLen = 100

	DefaultAvatarColor = "#4A90E2"
)

type UserID int64

// Identity is an already authenticated user reference.
// It is resolved once per connection and never mutated afterwards.
type Identity struct {
	ID          UserID `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
}

// NormalizeUsername trims and validates a login name.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return username, nil
}

// NormalizeDisplayName falls back to username when display name is blank.
func NormalizeDisplayName(displayName, username string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return username
	}
	if len(displayName) > MaxDisplayNameLen {
		displayName = displayName[:MaxDisplayNameLen]
	}
	return displayName
}

var avatarPalette = []string{
	DefaultAvatarColor, "#E94E77", "#50C878", "#F5A623", "#9B59B6", "#1ABC9C", "#E67E22",
}

// AvatarColorFor picks a stable palette color for a username.
func AvatarColorFor(username string) string {
	var h uint32
	for i := 0; i < len(username); i++ {
		h = h*31 + uint32(username[i])
	}
	return avatarPalette[h%uint32(len(avatarPalette))]
}
