package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"muse-sync/internal/app"
	"muse-sync/internal/protocol"
)

// BusMessage is one fanned-out room event. Instance and Origin let
// subscribers drop their own publishes and keep the no-self-echo
// guarantee across instances.
type BusMessage struct {
	Instance  string            `json:"instance"`
	Origin    string            `json:"origin"` // originating connection id
	ProjectID string            `json:"projectId"`
	Msg       protocol.Outbound `json:"msg"`
}

// RedisBus fans accepted operations and presence out to the other
// server instances through per-room pub/sub channels. Implements
// room.Bus.
type RedisBus struct {
	rdb      *redis.Client
	log      *slog.Logger
	instance string
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBus{rdb: rdb, log: log, instance: cfg.InstanceID}, nil
}

// Publish sends a room event to the project's channel.
func (b *RedisBus) Publish(ctx context.Context, projectID, origin string, msg protocol.Outbound) error {
	raw, err := json.Marshal(BusMessage{
		Instance:  b.instance,
		Origin:    origin,
		ProjectID: projectID,
		Msg:       msg,
	})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel(projectID), raw).Err()
}

// Subscribe listens on all room channels and invokes fn for every
// message published by another instance.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg := <-ch:
			var bm BusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("bus.decode", "err", err)
				continue
			}
			if bm.ProjectID == "" || bm.Instance == b.instance {
				continue
			}
			fn(bm)
		}
	}
}

// Close shuts down the redis connection.
func (b *RedisBus) Close() { _ = b.rdb.Close() }

// channel namespacing for room pub/sub.
func channel(projectID string) string { return "room:" + projectID }
