package room

import (
	"context"
	"encoding/json"
	"log/slog"

	"muse-sync/internal/protocol"
	"muse-sync/pkg/metrics"
)

// Broadcaster forwards ephemeral per-user UI state (cursor, selected
// tool, playing flag) to the other members of a room. Fire-and-forget:
// nothing is versioned, nothing touches authoritative state, and a
// message skipped because a peer's buffer is full is never retried.
type Broadcaster struct {
	log *slog.Logger
	reg *Registry
	bus Bus // nil when running a single instance
}

// NewBroadcaster wires the presence path to a registry and an optional
// fanout bus.
func NewBroadcaster(log *slog.Logger, reg *Registry, bus Bus) *Broadcaster {
	return &Broadcaster{log: log, reg: reg, bus: bus}
}

// Update records the member's latest presence and forwards it to every
// other member. Updates from a connection that is not currently in the
// room are dropped silently.
func (b *Broadcaster) Update(ctx context.Context, m Member, projectID string, payload json.RawMessage) {
	rm := b.reg.lookup(projectID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	if _, ok := rm.members[m.ConnectionID()]; !ok {
		rm.mu.Unlock()
		return
	}
	// Only the most recent value per connection is retained; it is
	// what late joiners receive as their presence bootstrap.
	rm.presence[m.ConnectionID()] = payload

	ident := m.Identity()
	msg := protocol.Outbound{
		Type:      protocol.TypePresenceUpdate,
		ProjectID: projectID,
		Identity:  &ident,
		Presence:  payload,
	}
	rm.broadcast(msg, m.ConnectionID())
	rm.mu.Unlock()

	metrics.PresenceForwarded.Inc()
	if b.bus != nil {
		if err := b.bus.Publish(ctx, projectID, m.ConnectionID(), msg); err != nil {
			b.log.Error("presence.publish", "project", projectID, "err", err)
		}
	}
}
