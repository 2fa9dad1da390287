package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"muse-sync/internal/protocol"
	"muse-sync/internal/room"
	"muse-sync/pkg/auth"
	"muse-sync/pkg/metrics"
)

// CollaboratorStore answers whether an identity may join a project's
// room. Backed by the persistent collaborators table in production.
type CollaboratorStore interface {
	IsCollaborator(ctx context.Context, projectID, subjectID string) (bool, error)
}

// Hub owns the websocket endpoint: it authenticates the handshake,
// runs each session's read loop, and routes envelopes to the registry,
// relay, and presence broadcaster.
type Hub struct {
	log      *slog.Logger
	verifier auth.Verifier
	collab   CollaboratorStore
	registry *room.Registry
	relay    *room.Relay
	presence *room.Broadcaster
	bus      *RedisBus // nil when running a single instance
}

// NewHub wires the hub to its collaborators. bus may be nil.
func NewHub(log *slog.Logger, verifier auth.Verifier, collab CollaboratorStore,
	registry *room.Registry, relay *room.Relay, presence *room.Broadcaster, bus *RedisBus) *Hub {
	return &Hub{
		log:      log,
		verifier: verifier,
		collab:   collab,
		registry: registry,
		relay:    relay,
		presence: presence,
		bus:      bus,
	}
}

// Run forwards bus messages from other instances into local rooms.
// Blocks until ctx is cancelled. No-op without a bus.
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		<-ctx.Done()
		return
	}
	go h.bus.Subscribe(ctx, func(msg BusMessage) {
		h.registry.DeliverRemote(msg.ProjectID, msg.Origin, msg.Msg)
	})
	<-ctx.Done()
}

// bearerToken pulls the handshake token from the Authorization header
// or, for browser clients that cannot set headers on a websocket, the
// token query parameter.
func bearerToken(r *http.Request) string {
	if b := r.Header.Get("Authorization"); strings.HasPrefix(b, "Bearer ") {
		return strings.TrimPrefix(b, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeWS handles a new /ws connection. The token is verified before
// the upgrade; a connection that fails verification is refused before
// any room message is processed and no session ever exists for it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := h.verifier.Verify(ctx, bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsc, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	conn := NewConn(wsc)
	sess := NewSession(uuid.NewString(), identity, conn)
	metrics.ConnectionsActive.Inc()
	h.log.Info("session.open", "conn", sess.ConnectionID(), "subject", identity.SubjectID)

	go conn.WriteLoop(ctx)

	for {
		env, ok := conn.ReadEnvelope(ctx)
		if !ok {
			break
		}
		h.dispatch(ctx, sess, env)
	}

	// Transport loss and graceful close share one cleanup path.
	if p := sess.SwitchProject(""); p != "" {
		h.registry.Leave(p, sess.ConnectionID())
	}
	_ = conn.Close()
	metrics.ConnectionsActive.Dec()
	h.log.Info("session.close", "conn", sess.ConnectionID(), "subject", identity.SubjectID)
}

func (h *Hub) dispatch(ctx context.Context, sess *Session, env protocol.Inbound) {
	switch env.Type {
	case protocol.TypeJoinRoom:
		h.join(ctx, sess, env.ProjectID)

	case protocol.TypeProjectOp:
		if env.Op == nil {
			return
		}
		h.relay.Apply(ctx, sess, env.Room, *env.Op)

	case protocol.TypePresenceUpdate:
		if env.Presence == nil {
			return
		}
		h.presence.Update(ctx, sess, env.Room, env.Presence)

	default:
		sess.Send(protocol.ErrorMsg("unknown message type"))
	}
}

// join runs the authorization gate and the room bootstrap. The
// membership check is the one IO suspension on this path; no room lock
// is held across it.
func (h *Hub) join(ctx context.Context, sess *Session, projectID string) {
	if projectID == "" {
		sess.Send(protocol.ErrorMsg("projectId required"))
		return
	}

	ok, err := h.collab.IsCollaborator(ctx, projectID, sess.Identity().SubjectID)
	if err != nil {
		h.log.Error("join.lookup", "project", projectID, "err", err)
		sess.Send(protocol.ErrorMsg("unauthorized"))
		return
	}
	if !ok {
		// Same denial whether the project exists or not.
		sess.Send(protocol.ErrorMsg("unauthorized"))
		return
	}

	// A session is in at most one room: switching context always
	// leaves the previous room first.
	if prev := sess.SwitchProject(projectID); prev != "" && prev != projectID {
		h.registry.Leave(prev, sess.ConnectionID())
	}

	// The registry queues the snapshot and presence bootstrap to the
	// session itself, atomically with the membership insert.
	state := h.registry.Join(ctx, projectID, sess)
	h.log.Info("session.join", "conn", sess.ConnectionID(), "project", projectID, "version", state.Version)
}
