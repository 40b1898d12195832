// Package cluster fans frames out across server processes sharing the
// same vault directory (§4.8), so a hub running on one instance
// broadcasts to sessions connected to another.
//
// Grounded on the teacher's server/main.go: a single `rdb.Subscribe`/
// `rdb.Publish` relay around one hardcoded document. Generalized here
// from one document to every slug by publishing a JSON envelope that
// carries the slug alongside the frame on one shared channel, rather
// than opening a Redis subscription per slug — the hub already knows
// which local sessions care about which slug, so the relay only needs
// one subscription regardless of how many documents are live.
package cluster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prosemark/server/internal/proto"
)

const channel = "prosemark:frames"
const publishTimeout = 2 * time.Second

// envelope is the pub/sub wire format: the slug a ServerFrame belongs
// to, plus an origin id so a process can ignore its own publishes
// (the hub already fans out locally; without this every instance
// would deliver its own broadcasts to itself a second time).
type envelope struct {
	Origin string            `json:"origin"`
	Slug   string            `json:"slug"`
	Frame  proto.ServerFrame `json:"frame"`
}

// Receiver is satisfied by *hub.Hub: DeliverRemote fans a frame
// received from another instance out to this process's local
// sessions only, without republishing it.
type Receiver interface {
	DeliverRemote(slug string, frame proto.ServerFrame)
}

// Relay is a hub.Broadcaster backed by Redis pub/sub.
type Relay struct {
	rdb    *redis.Client
	log    *zap.Logger
	origin string
	cancel context.CancelFunc
}

// Dial connects to Redis and starts relaying. origin should be unique
// per process (a hostname:pid or uuid works) so the relay loop can drop
// self-published envelopes. Returns nil, nil if addr is empty — the
// hub works single-process without a Relay.
func Dial(ctx context.Context, addr, origin string, recv Receiver, log *zap.Logger) (*Relay, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	r := &Relay{rdb: rdb, log: log, origin: origin, cancel: cancel}

	pubsub := rdb.Subscribe(relayCtx, channel)
	go r.relay(relayCtx, pubsub, recv)

	log.Info("cluster relay connected", zap.String("addr", addr))
	return r, nil
}

func (r *Relay) relay(ctx context.Context, pubsub *redis.PubSub, recv Receiver) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("cluster: malformed envelope", zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			recv.DeliverRemote(env.Slug, env.Frame)
		}
	}
}

// Publish implements hub.Broadcaster.
func (r *Relay) Publish(slug string, frame proto.ServerFrame) {
	payload, err := json.Marshal(envelope{Origin: r.origin, Slug: slug, Frame: frame})
	if err != nil {
		r.log.Warn("cluster: failed to encode envelope", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		r.log.Warn("cluster: publish failed", zap.String("slug", slug), zap.Error(err))
	}
}

func (r *Relay) Close() error {
	r.cancel()
	return r.rdb.Close()
}
