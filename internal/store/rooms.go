package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"muse-sync/internal/protocol"
)

// LoadRoomState returns the last persisted snapshot for a project,
// ok=false when none exists. Implements room.SnapshotStore.
func (p *Postgres) LoadRoomState(ctx context.Context, projectID string) (protocol.RoomState, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT state FROM room_snapshots WHERE project_id = $1
	`, projectID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.RoomState{}, false, nil
	}
	if err != nil {
		return protocol.RoomState{}, false, err
	}

	var state protocol.RoomState
	if err := json.Unmarshal(raw, &state); err != nil {
		return protocol.RoomState{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return state, true, nil
}

// SaveRoomState upserts the snapshot. Writes are version-gated so a
// late save from a slower goroutine can never roll the snapshot back.
func (p *Postgres) SaveRoomState(ctx context.Context, projectID string, state protocol.RoomState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO room_snapshots (project_id, state, version, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (project_id) DO UPDATE
		SET state = EXCLUDED.state, version = EXCLUDED.version, updated_at = NOW()
		WHERE room_snapshots.version < EXCLUDED.version
	`, projectID, raw, state.Version)
	return err
}
