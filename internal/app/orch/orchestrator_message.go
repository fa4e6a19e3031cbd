package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/chatcore/internal/app"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleSendMessage(ctx context.Context, conn app.Connection, data []byte) error {
	var p domain.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return o.Send(ctx, conn, p.RoomID, p.Message)
}

// Send persists a chat line and broadcasts it to the room, sender included.
func (o *Orchestrator) Send(ctx context.Context, conn app.Connection, room domain.RoomID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}
	if !o.Registry.InRoom(conn.ID, room) {
		return domain.ErrNotInRoom
	}
	rec, err := o.Messages.Store(ctx, domain.NewMessage{
		RoomID:   room,
		Identity: conn.Identity,
		Text:     text,
		Type:     domain.MessageText,
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	ev := domain.MessageEvent(withIdentity(rec, conn.Identity))
	res := o.Broadcaster.Broadcast(room, ev, "")
	log.Debug().Str("module", "orch").Str("conn", string(conn.ID)).Int64("room", int64(room)).
		Int64("message", int64(rec.ID)).Int("sent_to", res.SendTo).Msg("message sent")
	return nil
}

func (o *Orchestrator) handleTyping(_ context.Context, conn app.Connection, data []byte) error {
	var p domain.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !o.Registry.InRoom(conn.ID, p.RoomID) {
		return domain.ErrNotInRoom
	}
	if o.Typing.SetTyping(p.RoomID, conn.Identity, conn.ID, p.IsTyping) {
		o.Broadcaster.Broadcast(p.RoomID, typingEvent(p.RoomID, conn.Identity, p.IsTyping), conn.ID)
	}
	return nil
}

// onTypingChange relays expiries and disconnect clears.
func (o *Orchestrator) onTypingChange(ch app.TypingChange) {
	o.Broadcaster.Broadcast(ch.Room, typingEvent(ch.Room, ch.Identity, ch.Typing), ch.Conn)
}

func typingEvent(room domain.RoomID, identity domain.Identity, typing bool) domain.UserTypingEvent {
	return domain.UserTypingEvent{
		Type:        domain.EventUserTyping,
		RoomID:      room,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		IsTyping:    typing,
	}
}

func (o *Orchestrator) storeSystem(ctx context.Context, room domain.RoomID, identity domain.Identity, text string) {
	if !o.persistSystem {
		return
	}
	if _, err := o.Messages.Store(ctx, domain.NewMessage{
		RoomID:   room,
		Identity: identity,
		Text:     text,
		Type:     domain.MessageSystem,
	}); err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("room", int64(room)).Msg("store system message")
	}
}

func withIdentity(rec domain.MessageRecord, identity domain.Identity) domain.MessageRecord {
	if rec.Username == "" {
		rec.Username = identity.Username
	}
	if rec.DisplayName == "" {
		rec.DisplayName = identity.DisplayName
	}
	if rec.AvatarColor == "" {
		rec.AvatarColor = identity.AvatarColor
	}
	return rec
}
