package domain

import "errors"

var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrNotPresent          = errors.New("not present")
	ErrEmptyMessage        = errors.New("empty message")
	ErrNameConflict        = errors.New("room name already taken")
	ErrAuth                = errors.New("authentication failed")
	ErrDeliveryFailure     = errors.New("delivery failure")

	ErrRoomNotFound    = errors.New("room not found")
	ErrNotInRoom       = errors.New("connection is not in room")
	ErrInvalidRoomName = errors.New("invalid room name")
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)
