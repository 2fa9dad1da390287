package room

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"muse-sync/internal/protocol"
	"muse-sync/pkg/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMember struct {
	id    string
	ident auth.Identity

	mu    sync.Mutex
	inbox []protocol.Outbound
}

func newFakeMember(id, subject string) *fakeMember {
	return &fakeMember{id: id, ident: auth.Identity{SubjectID: subject, Email: subject + "@example.com"}}
}

func (m *fakeMember) ConnectionID() string    { return m.id }
func (m *fakeMember) Identity() auth.Identity { return m.ident }

func (m *fakeMember) Send(msg protocol.Outbound) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, msg)
	return true
}

// received returns all inbox messages of the given type.
func (m *fakeMember) received(typ string) []protocol.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Outbound
	for _, msg := range m.inbox {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

type fakeSnapshots struct {
	mu     sync.Mutex
	states map[string]protocol.RoomState
	saves  int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{states: map[string]protocol.RoomState{}}
}

func (f *fakeSnapshots) LoadRoomState(_ context.Context, projectID string) (protocol.RoomState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[projectID]
	return s.Clone(), ok, nil
}

func (f *fakeSnapshots) SaveRoomState(_ context.Context, projectID string, state protocol.RoomState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[projectID] = state.Clone()
	f.saves++
	return nil
}

// waitForVersion polls until the saved snapshot reaches version, since
// snapshot writes happen on a background goroutine.
func (f *fakeSnapshots) waitForVersion(t *testing.T, projectID string, version int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		s, ok := f.states[projectID]
		f.mu.Unlock()
		if ok && s.Version >= version {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot for %s never reached version %d", projectID, version)
}

func tempoOp(bpm int) protocol.Operation {
	payload, _ := json.Marshal(protocol.TempoPayload{Tempo: bpm})
	return protocol.Operation{Type: protocol.OpSetTempo, Payload: payload}
}

type fakeBus struct {
	mu       sync.Mutex
	messages []busRecord
}

type busRecord struct {
	projectID string
	origin    string
	msg       protocol.Outbound
}

func (f *fakeBus) Publish(_ context.Context, projectID, origin string, msg protocol.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, busRecord{projectID: projectID, origin: origin, msg: msg})
	return nil
}

func (f *fakeBus) all() []busRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]busRecord(nil), f.messages...)
}
