package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"muse-sync/internal/protocol"
	"muse-sync/pkg/metrics"
)

// Validation failures. The reason text goes into the sender-only
// rejection ack and the metrics label; it never reaches other members.
var (
	errMalformed     = errors.New("malformed payload")
	errTempoRange    = errors.New("tempo out of range")
	errUnknownClip   = errors.New("unknown clip")
	errInvalidClip   = errors.New("invalid clip")
	errUnsupportedOp = errors.New("unsupported operation")
)

// Relay applies validated operations to room state and fans the result
// out. The server's arrival order is the authoritative order; the
// per-room lock is the serialization point, so version numbers reflect
// a total order of accepted operations.
type Relay struct {
	log *slog.Logger
	reg *Registry
	bus Bus // nil when running a single instance
}

// NewRelay wires the relay to a registry and an optional fanout bus.
func NewRelay(log *slog.Logger, reg *Registry, bus Bus) *Relay {
	return &Relay{log: log, reg: reg, bus: bus}
}

// Apply validates and applies one operation from a member.
//
// An operation racing against room teardown (no room, or the sender is
// no longer a member) is dropped with no response at all. A payload
// that fails validation is also never applied or broadcast, but the
// sender gets an operation-rejected ack so its optimistic UI can roll
// back.
func (r *Relay) Apply(ctx context.Context, m Member, projectID string, op protocol.Operation) {
	rm := r.reg.lookup(projectID)
	if rm == nil {
		metrics.OpsRejected.WithLabelValues("no-room").Inc()
		return
	}

	rm.mu.Lock()
	if _, ok := rm.members[m.ConnectionID()]; !ok {
		rm.mu.Unlock()
		metrics.OpsRejected.WithLabelValues("not-member").Inc()
		return
	}

	next := rm.state.Version + 1
	if err := applyOp(&rm.state, op, next); err != nil {
		rm.mu.Unlock()
		metrics.OpsRejected.WithLabelValues(err.Error()).Inc()
		m.Send(protocol.Outbound{Type: protocol.TypeOperationRejected, Reason: err.Error()})
		return
	}

	now := time.Now().UTC()
	rm.state.Version = next
	rm.state.UpdatedAt = now

	ident := m.Identity()
	msg := protocol.Outbound{
		Type:      protocol.TypeProjectOp,
		ProjectID: projectID,
		Op:        &op,
		Version:   next,
		UpdatedAt: &now,
		User:      &ident,
	}
	rm.broadcast(msg, m.ConnectionID())
	snapshot := rm.state.Clone()
	rm.mu.Unlock()

	metrics.OpsApplied.WithLabelValues(op.Type).Inc()
	r.reg.saveAsync(projectID, snapshot)
	if r.bus != nil {
		if err := r.bus.Publish(ctx, projectID, m.ConnectionID(), msg); err != nil {
			r.log.Error("relay.publish", "project", projectID, "err", err)
		}
	}
}

// applyOp mutates state in place for a single operation, stamping
// touched clips with the version the mutation will land at. It returns
// a validation error without touching state when the op cannot apply.
func applyOp(state *protocol.RoomState, op protocol.Operation, version int64) error {
	switch op.Type {
	case protocol.OpSetTempo:
		var p protocol.TempoPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errMalformed
		}
		if p.Tempo < protocol.MinTempo || p.Tempo > protocol.MaxTempo {
			return errTempoRange
		}
		state.Tempo = p.Tempo
		return nil

	case protocol.OpClipAdd:
		var p protocol.ClipAddPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errMalformed
		}
		c := p.Clip
		if c.ID == "" || c.Track == "" || c.Start < 0 || c.Length <= 0 {
			return errInvalidClip
		}
		c.Rev = version
		if state.Clips == nil {
			state.Clips = map[string]protocol.Clip{}
		}
		// Re-adding an existing id is a whole-clip overwrite:
		// last writer wins per clip, in server order.
		state.Clips[c.ID] = c
		return nil

	case protocol.OpClipMove:
		var p protocol.ClipMovePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errMalformed
		}
		c, ok := state.Clips[p.ClipID]
		if !ok {
			return errUnknownClip
		}
		if p.Start < 0 || p.Track == "" {
			return errInvalidClip
		}
		c.Track = p.Track
		c.Start = p.Start
		c.Rev = version
		state.Clips[p.ClipID] = c
		return nil

	case protocol.OpClipDelete:
		var p protocol.ClipDeletePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return errMalformed
		}
		if _, ok := state.Clips[p.ClipID]; !ok {
			return errUnknownClip
		}
		delete(state.Clips, p.ClipID)
		return nil

	default:
		return errUnsupportedOp
	}
}
