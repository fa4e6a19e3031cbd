package orch

import (
	"context"
	"errors"

	"github.com/dkeye/chatcore/internal/app"
	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connect registers a handshaken connection and greets it. The identity
// must already be resolved; nothing is registered on error.
func (o *Orchestrator) Connect(ctx context.Context, id core.ConnectionID, identity domain.Identity, sig core.SignalConnection) error {
	if _, err := o.Registry.Register(id, identity, sig); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("register failed")
		return err
	}
	if o.Status != nil && o.Registry.ConnectionsOf(identity.ID) == 1 {
		if err := o.Status.SetOnline(ctx, identity.ID, true); err != nil {
			log.Error().Err(err).Str("module", "orch").Int64("user", int64(identity.ID)).Msg("set online")
		}
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("username", identity.Username).Msg("connected")
	return o.Broadcaster.SendTo(id, domain.ConnectionSuccessEvent{
		Type:        domain.EventConnectionSuccess,
		UserID:      identity.ID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
	})
}

// Disconnect runs full cleanup for a closed connection. Duplicate calls are
// no-ops.
func (o *Orchestrator) Disconnect(ctx context.Context, id core.ConnectionID) {
	closed := o.Registry.Unregister(id)
	if !closed.Known {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Msg("disconnect of unknown connection ignored")
		return
	}
	for _, room := range closed.Rooms {
		last, err := o.Presence.Leave(room, closed.Identity, id)
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Int64("room", int64(room)).Msg("presence leave on disconnect")
			continue
		}
		if last {
			o.announceLeft(ctx, room, closed.Identity)
		}
	}
	if o.Status != nil && closed.Remaining == 0 {
		if err := o.Status.SetOnline(ctx, closed.Identity.ID, false); err != nil {
			log.Error().Err(err).Str("module", "orch").Int64("user", int64(closed.Identity.ID)).Msg("set offline")
		}
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("username", closed.Identity.Username).Msg("disconnected")
}

// Kick closes the transport of id and disconnects it. The broadcaster uses
// it to reconcile recipients whose delivery failed.
func (o *Orchestrator) Kick(id core.ConnectionID) {
	if sig, ok := o.Registry.Signal(id); ok {
		sig.Close()
	}
	o.Disconnect(context.Background(), id)
}

func (o *Orchestrator) handlePing(_ context.Context, conn app.Connection, _ []byte) error {
	return o.reply(conn.ID, domain.PongEvent{Type: domain.EventPong})
}

func (o *Orchestrator) handleWhoAmI(_ context.Context, conn app.Connection, _ []byte) error {
	rooms := conn.Rooms
	if rooms == nil {
		rooms = []domain.RoomID{}
	}
	return o.reply(conn.ID, domain.WhoAmIEvent{
		Type:        domain.EventWhoAmI,
		UserID:      conn.Identity.ID,
		Username:    conn.Identity.Username,
		DisplayName: conn.Identity.DisplayName,
		Rooms:       rooms,
	})
}

// reply sends a targeted event. Delivery failures are reconciled by the
// broadcaster and are not handler errors.
func (o *Orchestrator) reply(id core.ConnectionID, event any) error {
	if err := o.Broadcaster.SendTo(id, event); err != nil && !errors.Is(err, domain.ErrDeliveryFailure) {
		return err
	}
	return nil
}
