package app

import (
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

// Presence tracks which identities occupy which rooms through at least one
// live connection. Mutations of one room are serialized by its shard lock;
// different rooms proceed independently.
type Presence struct {
	shards *roomShards
	seq    atomic.Uint64
}

func NewPresence() *Presence {
	return &Presence{shards: newRoomShards()}
}

// Join marks conn present in room. It reports true only on the identity's
// 0 -> 1 transition. Joining twice with the same connection is a no-op.
func (p *Presence) Join(room domain.RoomID, identity domain.Identity, conn core.ConnectionID) bool {
	s := p.shards.lock(room)
	defer s.mu.Unlock()

	m, ok := s.members[identity.ID]
	if !ok {
		m = &membership{identity: identity, conns: make(map[core.ConnectionID]struct{})}
		s.members[identity.ID] = m
	}
	if _, dup := m.conns[conn]; dup {
		return false
	}
	m.conns[conn] = struct{}{}
	m.lastJoin = p.seq.Add(1)
	first := len(m.conns) == 1
	log.Debug().Str("module", "app.presence").Int64("room", int64(room)).Int64("user", int64(identity.ID)).
		Int("count", len(m.conns)).Bool("first", first).Msg("join")
	return first
}

// Leave removes conn from room. It reports true only on the 1 -> 0
// transition and fails with domain.ErrNotPresent when conn was not there.
func (p *Presence) Leave(room domain.RoomID, identity domain.Identity, conn core.ConnectionID) (bool, error) {
	s, ok := p.shards.get(room)
	if !ok {
		return false, domain.ErrNotPresent
	}
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return false, domain.ErrNotPresent
	}
	m, ok := s.members[identity.ID]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrNotPresent
	}
	if _, ok := m.conns[conn]; !ok {
		s.mu.Unlock()
		return false, domain.ErrNotPresent
	}
	delete(m.conns, conn)
	last := len(m.conns) == 0
	if last {
		delete(s.members, identity.ID)
	}
	empty := len(s.members) == 0
	s.mu.Unlock()

	if empty {
		p.shards.dropIfEmpty(room)
	}
	log.Debug().Str("module", "app.presence").Int64("room", int64(room)).Int64("user", int64(identity.ID)).
		Bool("last", last).Msg("leave")
	return last, nil
}

// ListOnline returns the identities present in room, most recent join
// first, ties broken by identity id.
func (p *Presence) ListOnline(room domain.RoomID) []domain.Identity {
	s, ok := p.shards.get(room)
	if !ok {
		return []domain.Identity{}
	}
	s.mu.Lock()
	entries := make([]*membership, 0, len(s.members))
	for _, m := range s.members {
		cp := *m
		entries = append(entries, &cp)
	}
	s.mu.Unlock()

	slices.SortFunc(entries, func(a, b *membership) int {
		if c := cmp.Compare(b.lastJoin, a.lastJoin); c != 0 {
			return c
		}
		return cmp.Compare(a.identity.ID, b.identity.ID)
	})
	out := make([]domain.Identity, 0, len(entries))
	for _, m := range entries {
		out = append(out, m.identity)
	}
	return out
}

func (p *Presence) OnlineCount(room domain.RoomID) int {
	s, ok := p.shards.get(room)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (p *Presence) IsPresent(room domain.RoomID, user domain.UserID) bool {
	s, ok := p.shards.get(room)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.members[user]
	return ok
}

// Rooms lists rooms with at least one present identity.
func (p *Presence) Rooms() []domain.RoomID {
	rooms := p.shards.list()
	slices.Sort(rooms)
	return rooms
}
