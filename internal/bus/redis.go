package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	// Client is an existing Redis client to reuse. When nil, a client is
	// built from the remaining fields and owned (closed) by the bus.
	Client *redis.Client

	// Addr is the Redis address, host:port. Default "localhost:6379".
	Addr string

	// Password authenticates against Redis when set.
	Password string

	// DB selects the logical database.
	DB int
}

// RedisBus implements Bus on Redis pub/sub and keyspace commands.
type RedisBus struct {
	rdb        *redis.Client
	ownsClient bool
}

// NewRedisBus creates the bus. The connection is established lazily on first
// use.
func NewRedisBus(opts RedisOptions) *RedisBus {
	rdb := opts.Client
	owns := false
	if rdb == nil {
		addr := opts.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		owns = true
	}
	return &RedisBus{rdb: rdb, ownsClient: owns}
}

// Ping verifies connectivity; used by health checks.
func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (b *RedisBus) Publish(ctx context.Context, channel, payload string) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so a publish immediately after
	// Subscribe returns cannot be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %v: %w", channels, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		msgs:   make(chan Message, 16),
	}
	go sub.forward()
	return sub, nil
}

func (b *RedisBus) SetKey(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

func (b *RedisBus) GetKey(ctx context.Context, key string) (string, error) {
	value, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get key %s: %w", key, err)
	}
	return value, nil
}

func (b *RedisBus) RefreshKey(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := b.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("refresh key %s: %w", key, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBus) DeleteKey(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

func (b *RedisBus) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys %s: %w", pattern, err)
	}
	return keys, nil
}

// Close closes the underlying client only when the bus created it.
func (b *RedisBus) Close() error {
	if b.ownsClient {
		return b.rdb.Close()
	}
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	msgs   chan Message
}

// forward copies deliveries until the pubsub closes, then closes the message
// channel so readers observe the teardown. When the buffer is full the reader
// is gone; dropping keeps this goroutine from outliving the subscription.
func (s *redisSubscription) forward() {
	defer close(s.msgs)
	for msg := range s.pubsub.Channel() {
		select {
		case s.msgs <- Message{Channel: msg.Channel, Payload: msg.Payload}:
		default:
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.msgs
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

var _ Bus = (*RedisBus)(nil)
