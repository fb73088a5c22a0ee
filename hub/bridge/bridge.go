// Package bridge fans accepted room updates out across hub nodes over
// Redis pub/sub. Every node publishes the raw encoded bytes of accepted
// updates on a per-project channel and feeds received messages back into
// its local rooms. Operation application is idempotent, so the echo of a
// node's own publishes is harmless.
package bridge

import (
	"context"
	"strings"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/harmonyhub/harmony/hub/room"
)

const channelPrefix = "jam:"

// Bridge connects one room registry to a Redis instance shared by all hub
// nodes. It implements room.Relay.
type Bridge struct {
	rdb      *redis.Client
	registry *room.Registry
}

// New connects to the Redis instance at addr. The connection is verified
// eagerly so misconfiguration surfaces at startup.
func New(ctx context.Context, addr string, registry *room.Registry) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Bridge{rdb: rdb, registry: registry}, nil
}

// Publish sends raw update bytes to the project's channel. It is called
// from room actor goroutines and must not block them, so the publish runs
// detached; a lost publish degrades to eventual convergence via the next
// sync handshake.
func (b *Bridge) Publish(roomID string, data []byte) {
	go func() {
		if err := b.rdb.Publish(context.Background(), channelPrefix+roomID, data).Err(); err != nil {
			glog.Warningf("[bridge] publish for room %s failed: %v", roomID, err)
		}
	}()
}

// Run subscribes to all project channels and feeds received updates into
// the local rooms until ctx is cancelled. The underlying subscription
// reconnects on its own after transient Redis outages.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer func() { _ = sub.Close() }()

	glog.Infof("[bridge] subscribed to %s*", channelPrefix)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if roomID == "" {
				continue
			}
			rm, ok := b.registry.Lookup(roomID)
			if !ok {
				// No local sessions for this project; the update reaches
				// any later joiner through the sync handshake instead.
				continue
			}
			if err := rm.Relayed([]byte(msg.Payload)); err != nil {
				glog.Warningf("[bridge] relayed update for room %s rejected: %v", roomID, err)
			}
		}
	}
}

// Close tears down the Redis connection.
func (b *Bridge) Close() error {
	return b.rdb.Close()
}
