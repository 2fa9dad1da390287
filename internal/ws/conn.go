package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"muse-sync/internal/protocol"
)

// Conn wraps one websocket connection with a buffered outbound queue
// so broadcasts never block on a slow peer.
type Conn struct {
	ws  *websocket.Conn
	out chan []byte
}

// Accept upgrades HTTP to websocket (allow all origins; the CORS
// policy lives on the HTTP surface, not the socket).
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// NewConn wraps an accepted websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, out: make(chan []byte, 256)}
}

// ReadEnvelope blocks until a parseable client envelope arrives.
// Returns ok=false when the connection is gone. Frames that fail to
// parse are skipped; a malformed client must not tear down the room.
func (c *Conn) ReadEnvelope(ctx context.Context) (protocol.Inbound, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return protocol.Inbound{}, false
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		var env protocol.Inbound
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			continue
		}
		return env, true
	}
}

// Queue enqueues a raw frame without blocking. Returns false if the
// buffer is full and the frame was skipped.
func (c *Conn) Queue(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// WriteLoop drains the outbound queue and pings periodically. Exits
// when ctx is cancelled.
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			_ = c.ws.Write(ctx, websocket.MessageText, b)
		case <-t.C:
			_ = c.ws.Ping(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the websocket normally.
func (c *Conn) Close() error { return c.ws.Close(websocket.StatusNormalClosure, "bye") }
