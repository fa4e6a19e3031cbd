package orch

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/dkeye/chatcore/internal/app"
	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultHistoryLimit = 100

// Error strings sent in targeted error events.
const (
	errBadPayload   = "bad_payload"
	errUnknownEvent = "unknown_event"
	errRoomNotFound = "room_not_found"
	errNotInRoom    = "not_in_room"
	errInternal     = "internal_error"
)

type Config struct {
	TypingWindow          time.Duration
	HistoryLimit          int
	PersistSystemMessages bool
	Policy                app.Policy
}

// Orchestrator is the session event router. It owns the in-memory core and
// turns inbound client events into registry, presence and typing mutations
// plus the resulting outbound events.
type Orchestrator struct {
	Registry    *app.Registry
	Presence    *app.Presence
	Typing      *app.TypingCoordinator
	Broadcaster *app.Broadcaster

	Catalog  core.RoomCatalog
	Messages core.MessageStore
	// Status is optional.
	Status core.StatusRecorder

	historyLimit  int
	persistSystem bool
	now           func() time.Time
}

func New(cfg Config, catalog core.RoomCatalog, messages core.MessageStore, status core.StatusRecorder) *Orchestrator {
	o := &Orchestrator{
		Registry:      app.NewRegistry(),
		Presence:      app.NewPresence(),
		Catalog:       catalog,
		Messages:      messages,
		Status:        status,
		historyLimit:  cfg.HistoryLimit,
		persistSystem: cfg.PersistSystemMessages,
		now:           time.Now,
	}
	if o.historyLimit <= 0 {
		o.historyLimit = DefaultHistoryLimit
	}
	o.Broadcaster = app.NewBroadcaster(o.Registry, cfg.Policy)
	o.Broadcaster.OnReconcile(o.Kick)
	o.Typing = app.NewTypingCoordinator(cfg.TypingWindow, o.onTypingChange)
	o.Registry.OnClose(o.Typing.OnConnectionClosed)
	return o
}

// handlerFunc handles one inbound event for a registered connection.
type handlerFunc func(o *Orchestrator, ctx context.Context, conn app.Connection, data []byte) error

// transitions is the dispatch table of the session state machine.
var transitions = map[domain.EventType]handlerFunc{
	domain.EventJoinRoom:    (*Orchestrator).handleJoinRoom,
	domain.EventLeaveRoom:   (*Orchestrator).handleLeaveRoom,
	domain.EventSendMessage: (*Orchestrator).handleSendMessage,
	domain.EventTyping:      (*Orchestrator).handleTyping,
	domain.EventCreateRoom:  (*Orchestrator).handleCreateRoom,
	domain.EventPing:        (*Orchestrator).handlePing,
	domain.EventWhoAmI:      (*Orchestrator).handleWhoAmI,
}

// Events lists the inbound event types the router accepts.
func Events() []domain.EventType {
	out := make([]domain.EventType, 0, len(transitions))
	for t := range transitions {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Dispatch decodes one inbound frame and runs its transition. The returned
// error is informational: everything user visible has already been sent.
func (o *Orchestrator) Dispatch(ctx context.Context, id core.ConnectionID, data []byte) error {
	conn, ok := o.Registry.Get(id)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Msg("event from unknown connection")
		return domain.ErrUnknownConnection
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("bad json")
		o.sendError(id, errBadPayload)
		return err
	}
	h, ok := transitions[env.Type]
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("type", string(env.Type)).Msg("unknown event")
		o.sendError(id, errUnknownEvent)
		return errUnknownEventType
	}

	err := h(o, ctx, conn, data)
	o.report(id, env.Type, err)
	return err
}

var (
	errUnknownEventType = errors.New("unknown event type")
	// errAnswered marks failures the handler already reported to the client.
	errAnswered = errors.New("already answered")
)

// report turns a handler error into at most one targeted event.
func (o *Orchestrator) report(id core.ConnectionID, t domain.EventType, err error) {
	if err == nil {
		return
	}
	logger := log.With().Str("module", "orch").Str("conn", string(id)).Str("type", string(t)).Logger()

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		logger.Debug().Msg("empty message dropped")
	case errors.Is(err, domain.ErrNotPresent), errors.Is(err, domain.ErrUnknownConnection):
		logger.Warn().Err(err).Msg("recovered inconsistency")
	case errors.Is(err, domain.ErrRoomNotFound):
		o.sendError(id, errRoomNotFound)
	case errors.Is(err, domain.ErrNotInRoom):
		o.sendError(id, errNotInRoom)
	case errors.Is(err, domain.ErrNameConflict), errors.Is(err, domain.ErrInvalidRoomName):
		logger.Debug().Err(err).Msg("room creation rejected")
	case errors.Is(err, errAnswered):
		logger.Error().Err(err).Msg("handler failed")
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		logger.Warn().Err(err).Msg("bad payload")
		o.sendError(id, errBadPayload)
	default:
		logger.Error().Err(err).Msg("handler failed")
		o.sendError(id, errInternal)
	}
}

func (o *Orchestrator) sendError(id core.ConnectionID, msg string) {
	_ = o.Broadcaster.SendTo(id, domain.ErrorEvent{Type: domain.EventError, Error: msg})
}

func (o *Orchestrator) timestamp() string {
	return o.now().Format(domain.TimestampLayout)
}

// ListOnline exposes live presence for HTTP collaborators.
func (o *Orchestrator) ListOnline(room domain.RoomID) []domain.Identity {
	return o.Presence.ListOnline(room)
}

// Close stops background timers.
func (o *Orchestrator) Close() {
	o.Typing.Stop()
}
