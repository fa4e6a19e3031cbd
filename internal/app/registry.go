package app

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connection is a read-only snapshot of a registry entry.
type Connection struct {
	ID       core.ConnectionID
	Identity domain.Identity
	Signal   core.SignalConnection
	Rooms    []domain.RoomID
}

// ClosedConnection is what Unregister hands back so callers can unwind
// presence. Rooms is empty when the connection was already gone.
type ClosedConnection struct {
	ID       core.ConnectionID
	Identity domain.Identity
	Rooms    []domain.RoomID
	// Remaining is the number of live connections the identity still has.
	Remaining int
	// Known is false when the connection had already been unregistered.
	Known bool
}

type connEntry struct {
	identity domain.Identity
	signal   core.SignalConnection
	rooms    map[domain.RoomID]struct{}
}

// Registry maps live transport connections to identities and keeps the
// room -> connections index used by the broadcaster.
type Registry struct {
	mu      sync.RWMutex
	conns   map[core.ConnectionID]*connEntry
	byRoom  map[domain.RoomID]map[core.ConnectionID]struct{}
	perUser map[domain.UserID]int

	closeMu   sync.RWMutex
	onClosing []func(ClosedConnection)
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[core.ConnectionID]*connEntry),
		byRoom:  make(map[domain.RoomID]map[core.ConnectionID]struct{}),
		perUser: make(map[domain.UserID]int),
	}
}

// OnClose subscribes fn to connection-close notifications. Subscribers run
// synchronously after the entry is gone, outside the registry lock.
func (r *Registry) OnClose(fn func(ClosedConnection)) {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	r.onClosing = append(r.onClosing, fn)
}

func (r *Registry) Register(id core.ConnectionID, identity domain.Identity, sig core.SignalConnection) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return Connection{}, domain.ErrDuplicateConnection
	}
	r.conns[id] = &connEntry{
		identity: identity,
		signal:   sig,
		rooms:    make(map[domain.RoomID]struct{}),
	}
	r.perUser[identity.ID]++
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int64("user", int64(identity.ID)).Msg("registered connection")
	return Connection{ID: id, Identity: identity, Signal: sig}, nil
}

func (r *Registry) Get(id core.ConnectionID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return Connection{ID: id, Identity: e.identity, Signal: e.signal, Rooms: sortedRooms(e.rooms)}, true
}

func (r *Registry) AttachRoom(id core.ConnectionID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.ErrUnknownConnection
	}
	if _, ok := e.rooms[room]; ok {
		return nil
	}
	e.rooms[room] = struct{}{}
	set, ok := r.byRoom[room]
	if !ok {
		set = make(map[core.ConnectionID]struct{})
		r.byRoom[room] = set
	}
	set[id] = struct{}{}
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Int64("room", int64(room)).Msg("attached room")
	return nil
}

func (r *Registry) DetachRoom(id core.ConnectionID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.ErrUnknownConnection
	}
	delete(e.rooms, room)
	r.removeFromRoomLocked(id, room)
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Int64("room", int64(room)).Msg("detached room")
	return nil
}

// InRoom reports whether the connection has room in its attached set.
func (r *Registry) InRoom(id core.ConnectionID, room domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	_, ok = e.rooms[room]
	return ok
}

// Unregister removes the connection. It is safe to call more than once;
// later calls return an empty ClosedConnection and notify nobody.
func (r *Registry) Unregister(id core.ConnectionID) ClosedConnection {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return ClosedConnection{ID: id}
	}
	delete(r.conns, id)
	rooms := sortedRooms(e.rooms)
	for _, room := range rooms {
		r.removeFromRoomLocked(id, room)
	}
	uid := e.identity.ID
	r.perUser[uid]--
	remaining := r.perUser[uid]
	if remaining <= 0 {
		delete(r.perUser, uid)
		remaining = 0
	}
	r.mu.Unlock()

	closed := ClosedConnection{ID: id, Identity: e.identity, Rooms: rooms, Remaining: remaining, Known: true}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("rooms", len(rooms)).Msg("unregistered connection")

	r.closeMu.RLock()
	subs := slices.Clone(r.onClosing)
	r.closeMu.RUnlock()
	for _, fn := range subs {
		fn(closed)
	}
	return closed
}

// ConnectionsInRoom yields the connections attached to room. Each range
// over the returned sequence reads the registry afresh.
func (r *Registry) ConnectionsInRoom(room domain.RoomID) iter.Seq[core.ConnectionID] {
	return func(yield func(core.ConnectionID) bool) {
		r.mu.RLock()
		ids := slices.Collect(maps.Keys(r.byRoom[room]))
		r.mu.RUnlock()
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// All yields every registered connection, same semantics as ConnectionsInRoom.
func (r *Registry) All() iter.Seq[core.ConnectionID] {
	return func(yield func(core.ConnectionID) bool) {
		r.mu.RLock()
		ids := slices.Collect(maps.Keys(r.conns))
		r.mu.RUnlock()
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// Signal returns the transport of a live connection.
func (r *Registry) Signal(id core.ConnectionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.signal, true
}

// ConnectionsOf counts the live connections of one identity.
func (r *Registry) ConnectionsOf(user domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[user]
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) removeFromRoomLocked(id core.ConnectionID, room domain.RoomID) {
	set, ok := r.byRoom[room]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byRoom, room)
	}
}

func sortedRooms(set map[domain.RoomID]struct{}) []domain.RoomID {
	return slices.Sorted(maps.Keys(set))
}
