package app

import (
	"sync"
	"time"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultTypingWindow = 3 * time.Second

// TypingChange is emitted whenever an identity starts or stops typing.
type TypingChange struct {
	Room     domain.RoomID
	Identity domain.Identity
	Typing   bool
	// Conn is the connection that owned the entry; it is excluded from the
	// resulting broadcast.
	Conn core.ConnectionID
}

type typingKey struct {
	room domain.RoomID
	user domain.UserID
}

type typingEntry struct {
	identity domain.Identity
	conn     core.ConnectionID
	deadline time.Time
	timer    *time.Timer
	gen      uint64
}

// TypingCoordinator keeps short lived per (room, identity) typing state.
// Explicit calls report transitions synchronously; expiries and
// disconnect clears are pushed through the notify callback.
type TypingCoordinator struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[typingKey]*typingEntry
	gen     uint64
	now     func() time.Time
	notify  func(TypingChange)
}

func NewTypingCoordinator(window time.Duration, notify func(TypingChange)) *TypingCoordinator {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if notify == nil {
		notify = func(TypingChange) {}
	}
	return &TypingCoordinator{
		window:  window,
		entries: make(map[typingKey]*typingEntry),
		now:     time.Now,
		notify:  notify,
	}
}

// SetTyping creates, refreshes or removes the entry. It returns true when
// the call changed the visible state, i.e. when a broadcast is due.
func (t *TypingCoordinator) SetTyping(room domain.RoomID, identity domain.Identity, conn core.ConnectionID, typing bool) bool {
	key := typingKey{room: room, user: identity.ID}
	t.mu.Lock()
	e, ok := t.entries[key]
	var stale *typingEntry
	if ok && !t.now().Before(e.deadline) {
		// Past its deadline but the timer has not run yet.
		e.timer.Stop()
		delete(t.entries, key)
		stale, ok = e, false
	}
	changed := t.setLocked(key, e, ok, identity, conn, typing)
	t.mu.Unlock()

	if stale != nil {
		t.notify(TypingChange{Room: room, Identity: stale.identity, Typing: false, Conn: stale.conn})
	}
	return changed
}

func (t *TypingCoordinator) setLocked(key typingKey, e *typingEntry, ok bool, identity domain.Identity, conn core.ConnectionID, typing bool) bool {
	if !typing {
		if !ok {
			return false
		}
		e.timer.Stop()
		delete(t.entries, key)
		return true
	}

	t.gen++
	gen := t.gen
	if ok {
		e.timer.Stop()
		e.conn = conn
		e.deadline = t.now().Add(t.window)
		e.gen = gen
		e.timer = time.AfterFunc(t.window, func() { t.expire(key, gen) })
		return false
	}
	t.entries[key] = &typingEntry{
		identity: identity,
		conn:     conn,
		deadline: t.now().Add(t.window),
		gen:      gen,
		timer:    time.AfterFunc(t.window, func() { t.expire(key, gen) }),
	}
	return true
}

// expire fires from the entry timer. A stale generation means the entry was
// refreshed or replaced after this timer was armed.
func (t *TypingCoordinator) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	log.Debug().Str("module", "app.typing").Int64("room", int64(key.room)).Int64("user", int64(key.user)).Msg("typing expired")
	t.notify(TypingChange{Room: key.room, Identity: e.identity, Typing: false, Conn: e.conn})
}

// IsTyping never reports an entry past its deadline.
func (t *TypingCoordinator) IsTyping(room domain.RoomID, user domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[typingKey{room: room, user: user}]
	return ok && t.now().Before(e.deadline)
}

// Typing lists identities currently typing in room.
func (t *TypingCoordinator) Typing(room domain.RoomID) []domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []domain.Identity
	for k, e := range t.entries {
		if k.room == room && now.Before(e.deadline) {
			out = append(out, e.identity)
		}
	}
	return out
}

// Clear drops the entry of identity in room if conn owns it and notifies.
func (t *TypingCoordinator) Clear(room domain.RoomID, user domain.UserID, conn core.ConnectionID) {
	key := typingKey{room: room, user: user}
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.conn != conn {
		t.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(t.entries, key)
	t.mu.Unlock()

	t.notify(TypingChange{Room: room, Identity: e.identity, Typing: false, Conn: conn})
}

// OnConnectionClosed clears every entry the closed connection owned without
// waiting for expiry. Subscribe it with Registry.OnClose.
func (t *TypingCoordinator) OnConnectionClosed(c ClosedConnection) {
	for _, room := range c.Rooms {
		t.Clear(room, c.Identity.ID, c.ID)
	}
}

// Stop cancels all pending timers without notifying.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, k)
	}
}
