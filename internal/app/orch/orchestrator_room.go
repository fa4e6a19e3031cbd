package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/chatcore/internal/app"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleJoinRoom(ctx context.Context, conn app.Connection, data []byte) error {
	var p domain.JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	ok, err := o.Catalog.Exists(ctx, p.RoomID)
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !ok {
		return domain.ErrRoomNotFound
	}
	return o.Join(ctx, conn, p.RoomID)
}

// Join attaches conn to room and announces the identity on its first
// connection there. The room must already be known to exist.
func (o *Orchestrator) Join(ctx context.Context, conn app.Connection, room domain.RoomID) error {
	// Presence first so the connection's room set stays a subset of presence.
	first := o.Presence.Join(room, conn.Identity, conn.ID)
	if err := o.Registry.AttachRoom(conn.ID, room); err != nil {
		// Disconnected in between; undo without announcing.
		_, _ = o.Presence.Leave(room, conn.Identity, conn.ID)
		return err
	}
	log.Info().Str("module", "orch").Str("conn", string(conn.ID)).Int64("room", int64(room)).Bool("first", first).Msg("joined room")

	if err := o.Catalog.AddMember(ctx, room, conn.Identity.ID); err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("room", int64(room)).Msg("record membership")
	}

	history, err := o.Messages.RecentMessages(ctx, room, o.historyLimit)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("room", int64(room)).Msg("fetch history")
		history = nil
	}
	batch := domain.MessageHistoryEvent{
		Type:     domain.EventMessageHistory,
		RoomID:   room,
		Messages: make([]domain.NewMessageEvent, 0, len(history)),
	}
	for _, m := range history {
		batch.Messages = append(batch.Messages, domain.MessageEvent(m))
	}
	if err := o.reply(conn.ID, batch); err != nil {
		return err
	}

	if first {
		text := fmt.Sprintf("%s joined the room", conn.Identity.DisplayName)
		o.Broadcaster.Broadcast(room, domain.PresenceEvent{
			Type:        domain.EventUserJoined,
			RoomID:      room,
			Username:    conn.Identity.Username,
			DisplayName: conn.Identity.DisplayName,
			AvatarColor: conn.Identity.AvatarColor,
			Message:     text,
			Timestamp:   o.timestamp(),
		}, conn.ID)
		o.storeSystem(ctx, room, conn.Identity, text)
	}
	return nil
}

func (o *Orchestrator) handleLeaveRoom(ctx context.Context, conn app.Connection, data []byte) error {
	var p domain.LeaveRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return o.Leave(ctx, conn, p.RoomID)
}

// Leave detaches conn from room. Leaving a room the connection is not in is
// logged and ignored.
func (o *Orchestrator) Leave(ctx context.Context, conn app.Connection, room domain.RoomID) error {
	if !o.Registry.InRoom(conn.ID, room) {
		log.Warn().Str("module", "orch").Str("conn", string(conn.ID)).Int64("room", int64(room)).Msg("leave of room not joined")
		return nil
	}
	if err := o.Registry.DetachRoom(conn.ID, room); err != nil {
		return err
	}
	last, err := o.Presence.Leave(room, conn.Identity, conn.ID)
	if err != nil {
		return err
	}
	o.Typing.Clear(room, conn.Identity.ID, conn.ID)
	log.Info().Str("module", "orch").Str("conn", string(conn.ID)).Int64("room", int64(room)).Bool("last", last).Msg("left room")
	if last {
		o.announceLeft(ctx, room, conn.Identity)
	}
	return nil
}

func (o *Orchestrator) announceLeft(ctx context.Context, room domain.RoomID, identity domain.Identity) {
	text := fmt.Sprintf("%s left the room", identity.DisplayName)
	o.Broadcaster.Broadcast(room, domain.PresenceEvent{
		Type:        domain.EventUserLeftRoom,
		RoomID:      room,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Message:     text,
		Timestamp:   o.timestamp(),
	}, "")
	o.storeSystem(ctx, room, identity, text)
}

func (o *Orchestrator) handleCreateRoom(ctx context.Context, conn app.Connection, data []byte) error {
	var p domain.CreateRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.RoomName)
	if name == "" || len(name) > domain.MaxRoomNameLen {
		o.creationError(conn, "Invalid room name")
		return domain.ErrInvalidRoomName
	}

	room, err := o.Catalog.Create(ctx, name, conn.Identity.ID)
	switch {
	case errors.Is(err, domain.ErrNameConflict):
		o.creationError(conn, "Room name already exists")
		return err
	case err != nil:
		log.Error().Err(err).Str("module", "orch").Str("room_name", name).Msg("create room")
		o.creationError(conn, "Failed to create room")
		return fmt.Errorf("%w: %w", errAnswered, err)
	}

	log.Info().Str("module", "orch").Int64("room", int64(room.ID)).Str("room_name", room.Name).Msg("room created")
	o.Broadcaster.BroadcastAll(domain.RoomCreatedEvent{
		Type:     domain.EventRoomCreated,
		RoomID:   room.ID,
		RoomName: room.Name,
		Message:  fmt.Sprintf("Room '%s' created successfully!", room.Name),
	}, "")
	return nil
}

func (o *Orchestrator) creationError(conn app.Connection, msg string) {
	_ = o.reply(conn.ID, domain.ErrorEvent{Type: domain.EventRoomCreationError, Error: msg})
}

// Rooms lists the catalog enriched with live online counts.
func (o *Orchestrator) Rooms(ctx context.Context) ([]domain.RoomSummary, error) {
	rooms, err := o.Catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].OnlineCount = o.Presence.OnlineCount(rooms[i].ID)
	}
	return rooms, nil
}
