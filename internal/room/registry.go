package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"muse-sync/internal/protocol"
	"muse-sync/pkg/auth"
	"muse-sync/pkg/metrics"
)

// Member is one live connection inside a room. Implemented by the
// websocket session; the registry holds a non-owning reference used
// only for broadcast targeting.
type Member interface {
	ConnectionID() string
	Identity() auth.Identity
	// Send queues a message without blocking. Returns false if the
	// member's outbound buffer is full and the message was skipped.
	Send(msg protocol.Outbound) bool
}

// SnapshotStore persists room state so a fully evicted room does not
// come back with defaults. Load returns ok=false when no snapshot
// exists for the project.
type SnapshotStore interface {
	LoadRoomState(ctx context.Context, projectID string) (protocol.RoomState, bool, error)
	SaveRoomState(ctx context.Context, projectID string, state protocol.RoomState) error
}

// Bus fans accepted operations and presence out to other instances.
// origin is the connection id of the sender so no instance ever echoes
// a message back to it.
type Bus interface {
	Publish(ctx context.Context, projectID, origin string, msg protocol.Outbound) error
}

// Room holds the authoritative state and membership for one project.
// All mutation happens under mu; broadcasts are non-blocking channel
// pushes so the lock is never held across IO.
type Room struct {
	projectID string

	mu       sync.Mutex
	state    protocol.RoomState
	members  map[string]Member          // by connection id
	presence map[string]json.RawMessage // latest presence per connection
	evicted  bool                       // set once the registry drops the room
}

func newRoom(projectID string, state protocol.RoomState) *Room {
	return &Room{
		projectID: projectID,
		state:     state,
		members:   map[string]Member{},
		presence:  map[string]json.RawMessage{},
	}
}

// broadcast sends msg to every member except the named connection.
// Callers must hold r.mu.
func (r *Room) broadcast(msg protocol.Outbound, except string) {
	for id, m := range r.members {
		if id == except {
			continue
		}
		m.Send(msg)
	}
}

// Registry maps project ids to active rooms. It is an injected
// service, not a package-level singleton, so tests run against
// isolated instances and the in-memory map can later be swapped for a
// shared store without touching call sites.
type Registry struct {
	log   *slog.Logger
	snaps SnapshotStore // nil disables persistence

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. snaps may be nil, in which
// case evicted rooms restart from defaults.
func NewRegistry(log *slog.Logger, snaps SnapshotStore) *Registry {
	return &Registry{log: log, snaps: snaps, rooms: map[string]*Room{}}
}

func defaultState() protocol.RoomState {
	return protocol.RoomState{Tempo: protocol.DefaultTempo, UpdatedAt: time.Now().UTC()}
}

// lookup returns the live room or nil. Never creates.
func (g *Registry) lookup(projectID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[projectID]
}

// getOrCreate returns the room for a project, creating it lazily. The
// snapshot load happens before taking the registry lock; if two
// goroutines race the creation, the first insert wins.
func (g *Registry) getOrCreate(ctx context.Context, projectID string) *Room {
	if rm := g.lookup(projectID); rm != nil {
		return rm
	}

	state := defaultState()
	if g.snaps != nil {
		loaded, ok, err := g.snaps.LoadRoomState(ctx, projectID)
		if err != nil {
			g.log.Error("room.snapshot.load", "project", projectID, "err", err)
		} else if ok {
			state = loaded
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing := g.rooms[projectID]; existing != nil {
		return existing
	}
	rm := newRoom(projectID, state)
	g.rooms[projectID] = rm
	metrics.RoomsActive.Inc()
	g.log.Info("room.created", "project", projectID, "version", state.Version)
	return rm
}

// Join registers a member in a project's room, notifies the existing
// members, and queues the state snapshot plus the latest presence of
// every current member to the joiner. The snapshot is sent under the
// room lock, atomically with the membership insert, so no operation
// applied afterwards can reach the joiner's queue ahead of its
// bootstrap. Returns the snapshot for logging.
func (g *Registry) Join(ctx context.Context, projectID string, m Member) protocol.RoomState {
	var rm *Room
	for {
		rm = g.getOrCreate(ctx, projectID)
		rm.mu.Lock()
		if !rm.evicted {
			break
		}
		// Lost a race with the eviction of the last member; the
		// next getOrCreate builds a fresh room.
		rm.mu.Unlock()
	}
	defer rm.mu.Unlock()

	ident := m.Identity()
	rm.broadcast(protocol.Outbound{
		Type:      protocol.TypeUserJoined,
		ProjectID: projectID,
		Identity:  &ident,
	}, m.ConnectionID())
	rm.members[m.ConnectionID()] = m

	state := rm.state.Clone()
	m.Send(protocol.Outbound{
		Type:      protocol.TypeProjectState,
		ProjectID: projectID,
		State:     &state,
	})
	for id, payload := range rm.presence {
		peer, ok := rm.members[id]
		if !ok || id == m.ConnectionID() {
			continue
		}
		peerIdent := peer.Identity()
		m.Send(protocol.Outbound{
			Type:      protocol.TypePresenceUpdate,
			ProjectID: projectID,
			Identity:  &peerIdent,
			Presence:  payload,
		})
	}
	return state
}

// Leave removes a connection from a room's membership, tells the
// remaining members, and evicts the room once it is empty. State is
// never mutated on leave; the snapshot store is what survives the
// eviction.
func (g *Registry) Leave(projectID, connID string) {
	rm := g.lookup(projectID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	m, ok := rm.members[connID]
	if !ok {
		rm.mu.Unlock()
		return
	}
	delete(rm.members, connID)
	delete(rm.presence, connID)
	ident := m.Identity()
	rm.broadcast(protocol.Outbound{
		Type:      protocol.TypeUserLeft,
		ProjectID: projectID,
		Identity:  &ident,
	}, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if !empty {
		return
	}
	var final *protocol.RoomState
	g.mu.Lock()
	// Re-check under the registry lock: a join may have raced in.
	rm.mu.Lock()
	if len(rm.members) == 0 && g.rooms[projectID] == rm {
		rm.evicted = true
		delete(g.rooms, projectID)
		metrics.RoomsActive.Dec()
		g.log.Info("room.evicted", "project", projectID, "version", rm.state.Version)
		s := rm.state.Clone()
		final = &s
	}
	rm.mu.Unlock()
	g.mu.Unlock()

	// Flush the final state synchronously: an async save still in
	// flight may lag a version behind, and the store's version gate
	// makes this write idempotent against it. Rooms that never saw
	// an accepted op have nothing worth persisting.
	if final != nil && final.Version > 0 && g.snaps != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.snaps.SaveRoomState(ctx, projectID, *final); err != nil {
			g.log.Error("room.snapshot.flush", "project", projectID, "err", err)
		}
	}
}

// DeliverRemote handles a bus message originating on another instance:
// the local cache adopts any newer state and the message is forwarded
// to local members, never back to the originating connection.
func (g *Registry) DeliverRemote(projectID, origin string, msg protocol.Outbound) {
	rm := g.lookup(projectID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if msg.Type == protocol.TypeProjectOp && msg.Op != nil && msg.Version > rm.state.Version {
		at := rm.state.UpdatedAt
		if msg.UpdatedAt != nil {
			at = *msg.UpdatedAt
		}
		// A stale local cache can make the op inapplicable; the
		// version still advances so the room stays converged.
		_ = applyOp(&rm.state, *msg.Op, msg.Version)
		rm.state.Version = msg.Version
		rm.state.UpdatedAt = at
	}
	rm.broadcast(msg, origin)
}

// saveAsync snapshots state in the background. The relay calls this
// after releasing the room lock; a failed save only logs, it never
// rejects the already-broadcast operation.
func (g *Registry) saveAsync(projectID string, state protocol.RoomState) {
	if g.snaps == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.snaps.SaveRoomState(ctx, projectID, state); err != nil {
			g.log.Error("room.snapshot.save", "project", projectID, "err", err)
		}
	}()
}
