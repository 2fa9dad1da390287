package protocol

import (
	"encoding/json"
	"time"

	"muse-sync/pkg/auth"
)

// Client → server message types.
const (
	TypeJoinRoom       = "join-room"
	TypeProjectOp      = "project-op"
	TypePresenceUpdate = "presence-update"
)

// Server → client message types.
const (
	TypeProjectState      = "project-state"
	TypeUserJoined        = "user-joined"
	TypeUserLeft          = "user-left"
	TypeOperationRejected = "operation-rejected"
	TypeError             = "error"
)

// Operation types accepted by the relay.
const (
	OpSetTempo   = "set-tempo"
	OpClipAdd    = "clip-add"
	OpClipMove   = "clip-move"
	OpClipDelete = "clip-delete"
)

// Tempo bounds in beats per minute, inclusive.
const (
	MinTempo     = 40
	MaxTempo     = 240
	DefaultTempo = 120
)

// Inbound is the envelope a client sends over the socket.
type Inbound struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId,omitempty"` // join-room
	Room      string          `json:"room,omitempty"`      // project-op, presence-update
	Op        *Operation      `json:"op,omitempty"`
	Presence  json.RawMessage `json:"presence,omitempty"`
}

// Operation is a typed request to mutate room state.
type Operation struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Payloads per operation type.
type TempoPayload struct {
	Tempo int `json:"tempo"`
}

type ClipAddPayload struct {
	Clip Clip `json:"clip"`
}

type ClipMovePayload struct {
	ClipID string  `json:"clipId"`
	Track  string  `json:"track"`
	Start  float64 `json:"start"`
}

type ClipDeletePayload struct {
	ClipID string `json:"clipId"`
}

// Clip is one timeline segment of an instrument pattern. Positions are
// in beats so clips survive tempo changes.
type Clip struct {
	ID         string  `json:"id"`
	Track      string  `json:"track"`
	Start      float64 `json:"start"`
	Length     float64 `json:"length"`
	Instrument string  `json:"instrument,omitempty"`
	Rev        int64   `json:"rev"` // room version at last write
}

// RoomState is the authoritative shared state of a project room.
// Version increases by exactly one per accepted operation.
type RoomState struct {
	Tempo     int             `json:"tempo"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Clips     map[string]Clip `json:"clips,omitempty"`
}

// Clone returns a deep copy safe to hand outside the room lock.
func (s RoomState) Clone() RoomState {
	out := s
	if s.Clips != nil {
		out.Clips = make(map[string]Clip, len(s.Clips))
		for id, c := range s.Clips {
			out.Clips[id] = c
		}
	}
	return out
}

// Outbound is the envelope the server sends. Fields are sparse; only
// those relevant to Type are set.
type Outbound struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId,omitempty"`
	State     *RoomState      `json:"state,omitempty"`
	Op        *Operation      `json:"op,omitempty"`
	Version   int64           `json:"version,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	User      *auth.Identity  `json:"user,omitempty"`
	Identity  *auth.Identity  `json:"identity,omitempty"`
	Presence  json.RawMessage `json:"presence,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ErrorMsg builds the generic failure notice sent to one client.
func ErrorMsg(msg string) Outbound {
	return Outbound{Type: TypeError, Message: msg}
}
