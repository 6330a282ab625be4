package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisPubSub is a PubSub backed by a Redis channel, for NearCache
// invalidation fan-out across process boundaries (spec.md §4.6/§4.8).
// Messages are serialized as "fromID|key" since both are plain strings and
// keys are assumed not to contain the separator.
type RedisPubSub struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	closed bool
}

// NewRedisPubSub dials addr and returns a RedisPubSub bound to channel,
// failing fast if the server is unreachable.
func NewRedisPubSub(addr, channel string) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	return &RedisPubSub{client: client, channel: channel}, nil
}

// Publish broadcasts fromID/key to every Subscribe-r on the channel,
// including ones in other processes.
func (r *RedisPubSub) Publish(fromID, key string) error {
	msg := fromID + "|" + key
	return r.client.Publish(context.Background(), r.channel, msg).Err()
}

// Subscribe starts delivering every published (fromID, key) pair to fn on
// a background goroutine until Close is called.
func (r *RedisPubSub) Subscribe(fn func(fromID, key string)) error {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancel = cancel
	r.pubsub = r.client.Subscribe(ctx, r.channel)
	ch := r.pubsub.Channel()
	r.mu.Unlock()

	go func() {
		for msg := range ch {
			fromID, key, ok := strings.Cut(msg.Payload, "|")
			if !ok {
				continue
			}
			fn(fromID, key)
		}
	}()
	return nil
}

// Close stops the subscription and releases the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		err = r.pubsub.Close()
	}
	if cerr := r.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
