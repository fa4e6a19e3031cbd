package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
	"github.com/stretchr/testify/require"
)

var errFull = errors.New("full")

// fakeSignal records frames and fails on demand.
type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errFull
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSignal) types(t *testing.T) []domain.EventType {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.frames))
	for _, fr := range f.frames {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(fr, &env))
		out = append(out, env.Type)
	}
	return out
}

func ident(id int64, name string) domain.Identity {
	return domain.Identity{ID: domain.UserID(id), Username: name, DisplayName: name}
}
