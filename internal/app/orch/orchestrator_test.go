package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/chatcore/internal/app"
	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory catalog, message store and status recorder.
type memStore struct {
	mu       sync.Mutex
	rooms    map[domain.RoomID]domain.Room
	members  map[domain.RoomID]map[domain.UserID]bool
	messages []domain.MessageRecord
	online   map[domain.UserID]bool
	failNext error
}

func newMemStore(names ...string) *memStore {
	s := &memStore{
		rooms:   map[domain.RoomID]domain.Room{},
		members: map[domain.RoomID]map[domain.UserID]bool{},
		online:  map[domain.UserID]bool{},
	}
	for _, n := range names {
		id := domain.RoomID(len(s.rooms) + 1)
		s.rooms[id] = domain.Room{ID: id, Name: n, Type: domain.RoomPublic}
	}
	return s
}

func (s *memStore) Exists(_ context.Context, id domain.RoomID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok, nil
}

func (s *memStore) Create(_ context.Context, name string, by domain.UserID) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return domain.Room{}, err
	}
	for _, r := range s.rooms {
		if r.Name == name {
			return domain.Room{}, domain.ErrNameConflict
		}
	}
	id := domain.RoomID(len(s.rooms) + 1)
	r := domain.Room{ID: id, Name: name, Type: domain.RoomPublic, CreatedBy: by}
	s.rooms[id] = r
	return r, nil
}

func (s *memStore) List(context.Context) ([]domain.RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RoomSummary, 0, len(s.rooms))
	for id := domain.RoomID(1); int(id) <= len(s.rooms); id++ {
		out = append(out, domain.RoomSummary{Room: s.rooms[id], MemberCount: int64(len(s.members[id]))})
	}
	return out, nil
}

func (s *memStore) AddMember(_ context.Context, room domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[room] == nil {
		s.members[room] = map[domain.UserID]bool{}
	}
	s.members[room][user] = true
	return nil
}

func (s *memStore) Store(_ context.Context, m domain.NewMessage) (domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := domain.MessageRecord{
		ID:          domain.MessageID(len(s.messages) + 1),
		RoomID:      m.RoomID,
		UserID:      m.Identity.ID,
		Username:    m.Identity.Username,
		DisplayName: m.Identity.DisplayName,
		Text:        m.Text,
		Type:        m.Type,
		Timestamp:   time.Now(),
	}
	s.messages = append(s.messages, rec)
	return rec, nil
}

func (s *memStore) RecentMessages(_ context.Context, room domain.RoomID, limit int) ([]domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageRecord
	for _, m := range s.messages {
		if m.RoomID == room {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) SetOnline(_ context.Context, user domain.UserID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[user] = online
	return nil
}

func (s *memStore) textMessages() []domain.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageRecord
	for _, m := range s.messages {
		if m.Type == domain.MessageText {
			out = append(out, m)
		}
	}
	return out
}

type fakeSignal struct {
	mu     sync.Mutex
	frames []map[string]any
	fail   bool
	closed bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("send buffer full")
	}
	var m map[string]any
	if err := json.Unmarshal(fr, &m); err != nil {
		return err
	}
	f.frames = append(f.frames, m)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// take returns and forgets the frames of the given type.
func (f *fakeSignal) take(t domain.EventType) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out, rest []map[string]any
	for _, m := range f.frames {
		if m["type"] == string(t) {
			out = append(out, m)
		} else {
			rest = append(rest, m)
		}
	}
	f.frames = rest
	return out
}

func (f *fakeSignal) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	store *memStore
	sigs  map[core.ConnectionID]*fakeSignal
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st := newMemStore("General", "Technology", "Random")
	o := New(cfg, st, st, st)
	t.Cleanup(o.Close)
	return &harness{t: t, o: o, store: st, sigs: map[core.ConnectionID]*fakeSignal{}}
}

func (h *harness) connect(id core.ConnectionID, identity domain.Identity) *fakeSignal {
	h.t.Helper()
	s := &fakeSignal{}
	h.sigs[id] = s
	require.NoError(h.t, h.o.Connect(context.Background(), id, identity, s))
	return s
}

func (h *harness) send(id core.ConnectionID, v any) error {
	h.t.Helper()
	b, err := json.Marshal(v)
	require.NoError(h.t, err)
	return h.o.Dispatch(context.Background(), id, b)
}

func (h *harness) join(id core.ConnectionID, room domain.RoomID) {
	h.t.Helper()
	require.NoError(h.t, h.send(id, map[string]any{"type": "join_room", "room_id": room}))
}

func (h *harness) resetAll() {
	for _, s := range h.sigs {
		s.reset()
	}
}

var (
	alice = domain.Identity{ID: 1, Username: "alice", DisplayName: "Alice", AvatarColor: "#111111"}
	bob   = domain.Identity{ID: 2, Username: "bob", DisplayName: "Bob", AvatarColor: "#222222"}
	carol = domain.Identity{ID: 3, Username: "carol", DisplayName: "Carol"}
)

func TestConnectGreetsAndMarksOnline(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.connect("a1", alice)

	got := s.take(domain.EventConnectionSuccess)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0]["username"])
	assert.EqualValues(t, 1, got[0]["user_id"])
	assert.True(t, h.store.online[alice.ID])
}

func TestJoinAnnouncesOnlyFirstConnection(t *testing.T) {
	h := newHarness(t, Config{PersistSystemMessages: true})
	a1 := h.connect("a1", alice)
	b1 := h.connect("b1", bob)
	h.join("b1", 1)
	h.resetAll()

	h.join("a1", 1)
	hist := a1.take(domain.EventMessageHistory)
	require.Len(t, hist, 1)
	assert.EqualValues(t, 1, hist[0]["room_id"])
	assert.Empty(t, a1.take(domain.EventUserJoined), "joiner is not told about itself")

	joined := b1.take(domain.EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0]["username"])
	assert.Equal(t, "#111111", joined[0]["avatar_color"])
	assert.Equal(t, "Alice joined the room", joined[0]["message"])

	// Second device of alice: history for it, no announcement.
	a2 := h.connect("a2", alice)
	h.join("a2", 1)
	assert.Len(t, a2.take(domain.EventMessageHistory), 1)
	assert.Empty(t, b1.take(domain.EventUserJoined))

	online := h.o.ListOnline(1)
	require.Len(t, online, 2)
	assert.Equal(t, "alice", online[0].Username)
	assert.True(t, h.store.members[1][alice.ID])
}

func TestJoinUnknownRoom(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)

	err := h.send("a1", map[string]any{"type": "join_room", "room_id": 99})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	got := a.take(domain.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, "room_not_found", got[0]["error"])
	assert.Empty(t, h.o.ListOnline(99))
}

func TestHistoryReplaysStoredMessages(t *testing.T) {
	h := newHarness(t, Config{HistoryLimit: 2})
	h.connect("a1", alice)
	h.join("a1", 1)
	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, h.send("a1", map[string]any{"type": "send_message", "room_id": 1, "message": m}))
	}

	b := h.connect("b1", bob)
	h.join("b1", 1)
	hist := b.take(domain.EventMessageHistory)
	require.Len(t, hist, 1)
	msgs := hist[0]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].(map[string]any)["message"])
	assert.Equal(t, "three", msgs[1].(map[string]any)["message"])
}

func TestSendMessageReachesRoomIncludingSender(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)
	b := h.connect("b1", bob)
	c := h.connect("c1", carol)
	h.join("a1", 1)
	h.join("b1", 1)
	h.join("c1", 2)
	h.resetAll()

	require.NoError(t, h.send("a1", map[string]any{"type": "send_message", "room_id": 1, "message": "  hi  "}))
	for _, s := range []*fakeSignal{a, b} {
		got := s.take(domain.EventNewMessage)
		require.Len(t, got, 1)
		assert.Equal(t, "hi", got[0]["message"])
		assert.Equal(t, "text", got[0]["message_type"])
		assert.Equal(t, "#111111", got[0]["avatar_color"])
	}
	assert.Empty(t, c.take(domain.EventNewMessage))
	assert.Len(t, h.store.textMessages(), 1)
}

func TestEmptyMessageIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)
	h.join("a1", 1)
	h.resetAll()

	err := h.send("a1", map[string]any{"type": "send_message", "room_id": 1, "message": "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Empty(t, h.store.textMessages())
	assert.Empty(t, a.take(domain.EventNewMessage))
	assert.Empty(t, a.take(domain.EventError))
}

func TestSendToRoomNotJoined(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)

	err := h.send("a1", map[string]any{"type": "send_message", "room_id": 1, "message": "hi"})
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
	got := a.take(domain.EventError)
	require.Len(t, got, 1)
	assert.Equal(t, "not_in_room", got[0]["error"])
	assert.Empty(t, h.store.textMessages())
}

func TestLeaveAnnouncesLastConnectionOnly(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect("a1", alice)
	h.connect("a2", alice)
	b := h.connect("b1", bob)
	h.join("a1", 1)
	h.join("a2", 1)
	h.join("b1", 1)
	h.resetAll()

	require.NoError(t, h.send("a1", map[string]any{"type": "leave_room", "room_id": 1}))
	assert.Empty(t, b.take(domain.EventUserLeftRoom))

	require.NoError(t, h.send("a2", map[string]any{"type": "leave_room", "room_id": 1}))
	left := b.take(domain.EventUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, "Alice left the room", left[0]["message"])

	// Leaving again is ignored.
	require.NoError(t, h.send("a2", map[string]any{"type": "leave_room", "room_id": 1}))
	assert.Empty(t, b.take(domain.EventUserLeftRoom))
}

func TestDisconnectLeavesEveryRoomOnce(t *testing.T) {
	h := newHarness(t, Config{PersistSystemMessages: true})
	h.connect("a1", alice)
	b := h.connect("b1", bob)
	c := h.connect("c1", carol)
	h.join("a1", 1)
	h.join("a1", 2)
	h.join("b1", 1)
	h.join("c1", 2)
	h.resetAll()

	h.o.Disconnect(context.Background(), "a1")
	h.o.Disconnect(context.Background(), "a1")

	assert.Len(t, b.take(domain.EventUserLeftRoom), 1)
	assert.Len(t, c.take(domain.EventUserLeftRoom), 1)
	assert.False(t, h.o.Presence.IsPresent(1, alice.ID))
	assert.False(t, h.o.Presence.IsPresent(2, alice.ID))
	assert.False(t, h.store.online[alice.ID])
	assert.Equal(t, 2, h.o.Registry.Count())

	assert.ErrorIs(t, h.send("a1", map[string]any{"type": "ping"}), domain.ErrUnknownConnection)
}

func TestDisconnectKeepsOtherDeviceOnline(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect("a1", alice)
	h.connect("a2", alice)
	b := h.connect("b1", bob)
	h.join("a1", 1)
	h.join("a2", 1)
	h.join("b1", 1)
	h.resetAll()

	h.o.Disconnect(context.Background(), "a1")
	assert.Empty(t, b.take(domain.EventUserLeftRoom))
	assert.True(t, h.o.Presence.IsPresent(1, alice.ID))
	assert.True(t, h.store.online[alice.ID])
}

func TestTypingBroadcastsTransitionsOnly(t *testing.T) {
	h := newHarness(t, Config{TypingWindow: time.Minute})
	a := h.connect("a1", alice)
	b := h.connect("b1", bob)
	h.join("a1", 1)
	h.join("b1", 1)
	h.resetAll()

	for range 3 {
		require.NoError(t, h.send("a1", map[string]any{"type": "typing", "room_id": 1, "is_typing": true}))
	}
	got := b.take(domain.EventUserTyping)
	require.Len(t, got, 1)
	assert.Equal(t, true, got[0]["is_typing"])
	assert.Empty(t, a.take(domain.EventUserTyping))

	h.o.Disconnect(context.Background(), "a1")
	got = b.take(domain.EventUserTyping)
	require.Len(t, got, 1)
	assert.Equal(t, false, got[0]["is_typing"])
}

func TestTypingExpiryReachesRoom(t *testing.T) {
	h := newHarness(t, Config{TypingWindow: 30 * time.Millisecond})
	h.connect("a1", alice)
	b := h.connect("b1", bob)
	h.join("a1", 1)
	h.join("b1", 1)
	h.resetAll()

	require.NoError(t, h.send("a1", map[string]any{"type": "typing", "room_id": 1, "is_typing": true}))
	require.Len(t, b.take(domain.EventUserTyping), 1)

	var stops []map[string]any
	assert.Eventually(t, func() bool {
		stops = append(stops, b.take(domain.EventUserTyping)...)
		return len(stops) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, false, stops[0]["is_typing"])
}

func TestCreateRoom(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)
	b := h.connect("b1", bob)

	require.NoError(t, h.send("a1", map[string]any{"type": "create_room", "room_name": "  Go  "}))
	for _, s := range []*fakeSignal{a, b} {
		got := s.take(domain.EventRoomCreated)
		require.Len(t, got, 1)
		assert.Equal(t, "Go", got[0]["room_name"])
	}

	err := h.send("b1", map[string]any{"type": "create_room", "room_name": "General"})
	assert.ErrorIs(t, err, domain.ErrNameConflict)
	got := b.take(domain.EventRoomCreationError)
	require.Len(t, got, 1)
	assert.Equal(t, "Room name already exists", got[0]["error"])
	assert.Empty(t, a.take(domain.EventRoomCreationError))
	assert.Empty(t, a.take(domain.EventRoomCreated))

	err = h.send("b1", map[string]any{"type": "create_room", "room_name": " "})
	assert.ErrorIs(t, err, domain.ErrInvalidRoomName)
	got = b.take(domain.EventRoomCreationError)
	require.Len(t, got, 1)
	assert.Equal(t, "Invalid room name", got[0]["error"])

	h.store.failNext = errors.New("disk full")
	_ = h.send("b1", map[string]any{"type": "create_room", "room_name": "Other"})
	got = b.take(domain.EventRoomCreationError)
	require.Len(t, got, 1)
	assert.Equal(t, "Failed to create room", got[0]["error"])
	assert.Empty(t, b.take(domain.EventError), "no second error for the same failure")
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)

	assert.Error(t, h.o.Dispatch(context.Background(), "a1", []byte("{not json")))
	assert.Error(t, h.send("a1", map[string]any{"type": "dance"}))
	assert.Error(t, h.send("a1", map[string]any{"type": "join_room", "room_id": "one"}))

	var codes []any
	for _, e := range a.take(domain.EventError) {
		codes = append(codes, e["error"])
	}
	assert.Equal(t, []any{"bad_payload", "unknown_event", "bad_payload"}, codes)
}

func TestPingAndWhoAmI(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.connect("a1", alice)
	h.join("a1", 2)

	require.NoError(t, h.send("a1", map[string]any{"type": "ping"}))
	assert.Len(t, a.take(domain.EventPong), 1)

	require.NoError(t, h.send("a1", map[string]any{"type": "whoami"}))
	got := a.take(domain.EventWhoAmI)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0]["username"])
	assert.Equal(t, []any{float64(2)}, got[0]["rooms"])
}

func TestDeliveryFailureDisconnectsRecipient(t *testing.T) {
	h := newHarness(t, Config{Policy: app.SimplePolicy{}})
	h.connect("a1", alice)
	b := h.connect("b1", bob)
	c := h.connect("c1", carol)
	h.join("a1", 1)
	h.join("b1", 1)
	h.join("c1", 1)
	h.resetAll()

	b.mu.Lock()
	b.fail = true
	b.mu.Unlock()

	require.NoError(t, h.send("a1", map[string]any{"type": "send_message", "room_id": 1, "message": "hello"}))
	assert.Len(t, c.take(domain.EventNewMessage), 1)

	_, ok := h.o.Registry.Get("b1")
	assert.False(t, ok)
	assert.True(t, b.closed)
	assert.False(t, h.o.Presence.IsPresent(1, bob.ID))
	left := c.take(domain.EventUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0]["username"])
}

func TestRoomsCarryOnlineCount(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect("a1", alice)
	h.connect("a2", alice)
	h.connect("b1", bob)
	h.join("a1", 1)
	h.join("a2", 1)
	h.join("b1", 1)
	h.join("b1", 3)

	rooms, err := h.o.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, 2, rooms[0].OnlineCount)
	assert.Equal(t, 0, rooms[1].OnlineCount)
	assert.Equal(t, 1, rooms[2].OnlineCount)
	assert.EqualValues(t, 2, rooms[0].MemberCount)
}

func TestEventsTable(t *testing.T) {
	assert.Contains(t, Events(), domain.EventJoinRoom)
	assert.Contains(t, Events(), domain.EventWhoAmI)
	assert.Len(t, Events(), 7)
}
