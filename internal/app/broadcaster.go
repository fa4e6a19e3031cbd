package app

import (
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

// GlobalRoom marks broadcasts that go to every registered connection.
const GlobalRoom domain.RoomID = 0

// PublishResult reports delivery stats to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []core.ConnectionID
}

// Broadcaster fans events out to the connections currently in a room.
// Delivery is fire-and-forget per recipient: a failing recipient is logged
// and handed to the reconcile hook, never reported to the caller.
type Broadcaster struct {
	registry *Registry
	policy   Policy

	mu        sync.RWMutex
	reconcile func(core.ConnectionID)
}

func NewBroadcaster(registry *Registry, policy Policy) *Broadcaster {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Broadcaster{registry: registry, policy: policy}
}

// OnReconcile sets the hook run for recipients the policy wants dropped.
func (b *Broadcaster) OnReconcile(fn func(core.ConnectionID)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconcile = fn
}

// Broadcast delivers event to every connection in room except exclude
// (empty means nobody is excluded).
func (b *Broadcaster) Broadcast(room domain.RoomID, event any, exclude core.ConnectionID) PublishResult {
	return b.publish(room, b.registry.ConnectionsInRoom(room), event, exclude)
}

// BroadcastAll delivers event to every registered connection.
func (b *Broadcaster) BroadcastAll(event any, exclude core.ConnectionID) PublishResult {
	return b.publish(GlobalRoom, b.registry.All(), event, exclude)
}

// SendTo delivers event to a single connection. Failures are reconciled
// like broadcast failures and also returned.
func (b *Broadcaster) SendTo(conn core.ConnectionID, event any) error {
	frame, err := Encode(event)
	if err != nil {
		return err
	}
	if err := b.deliver(conn, frame); err != nil {
		b.reconcileFailures(GlobalRoom, map[core.ConnectionID]error{conn: err})
		return err
	}
	return nil
}

func (b *Broadcaster) publish(room domain.RoomID, targets iter.Seq[core.ConnectionID], event any, exclude core.ConnectionID) PublishResult {
	res := PublishResult{}
	frame, err := Encode(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Int64("room", int64(room)).Msg("encode event")
		return res
	}

	var failed map[core.ConnectionID]error
	for id := range targets {
		if exclude != "" && id == exclude {
			continue
		}
		if err := b.deliver(id, frame); err != nil {
			if failed == nil {
				failed = make(map[core.ConnectionID]error)
			}
			failed[id] = err
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.broadcast").Int64("room", int64(room)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")

	b.reconcileFailures(room, failed)
	return res
}

func (b *Broadcaster) deliver(id core.ConnectionID, frame core.Frame) error {
	sig, ok := b.registry.Signal(id)
	if !ok {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, domain.ErrUnknownConnection)
	}
	if err := sig.TrySend(frame); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	}
	return nil
}

func (b *Broadcaster) reconcileFailures(room domain.RoomID, failed map[core.ConnectionID]error) {
	if len(failed) == 0 {
		return
	}
	b.mu.RLock()
	reconcile := b.reconcile
	b.mu.RUnlock()
	for id, err := range failed {
		log.Warn().Err(err).Str("module", "app.broadcast").Str("conn", string(id)).Int64("room", int64(room)).Msg("delivery failed")
		if b.policy.OnDeliveryFailure(room, id, err) == Disconnect && reconcile != nil {
			reconcile(id)
		}
	}
}

// Encode renders an outbound event as one wire frame.
func Encode(event any) (core.Frame, error) {
	if f, ok := event.(core.Frame); ok {
		return f, nil
	}
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}
