package app

import (
	"sync"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
)

// membership is the per (room, identity) entry: the set of connections of
// that identity present in the room. len(conns) is the membership count.
type membership struct {
	identity domain.Identity
	conns    map[core.ConnectionID]struct{}
	lastJoin uint64
}

// roomShard is the single critical section of one room.
type roomShard struct {
	mu      sync.Mutex
	members map[domain.UserID]*membership
	// dead is set under mu when the shard is dropped from the manager;
	// holders of a stale pointer must fetch a fresh shard.
	dead bool
}

// roomShards hands out per-room shards so that rooms never contend with
// each other.
type roomShards struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomShard
}

func newRoomShards() *roomShards {
	return &roomShards{rooms: make(map[domain.RoomID]*roomShard)}
}

func (f *roomShards) get(id domain.RoomID) (*roomShard, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.rooms[id]
	return s, ok
}

func (f *roomShards) getOrCreate(id domain.RoomID) *roomShard {
	f.mu.RLock()
	s, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return s
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok = f.rooms[id]; ok {
		return s
	}
	s = &roomShard{members: make(map[domain.UserID]*membership)}
	f.rooms[id] = s
	return s
}

// lock returns the live shard for id with its mutex held.
func (f *roomShards) lock(id domain.RoomID) *roomShard {
	for {
		s := f.getOrCreate(id)
		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// dropIfEmpty removes an empty shard. Lock order is manager then shard.
func (f *roomShards) dropIfEmpty(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rooms[id]
	if !ok {
		return
	}
	s.mu.Lock()
	if len(s.members) == 0 {
		s.dead = true
		delete(f.rooms, id)
	}
	s.mu.Unlock()
}

func (f *roomShards) list() []domain.RoomID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(f.rooms))
	for id := range f.rooms {
		out = append(out, id)
	}
	return out
}
