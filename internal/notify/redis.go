package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPublisher publishes notifications on one Redis channel per game.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher creates a RedisPublisher.
//
// Precondition: client must be non-nil; prefix must be non-empty.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the Redis channel for gameID.
func (p *RedisPublisher) Channel(gameID string) string {
	return p.prefix + gameID
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(n.GameID), data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Channel(n.GameID), err)
	}
	return nil
}

// RedisRelay pattern-subscribes to every game channel and republishes what it
// receives into a local Publisher, so clients connected to any instance hear
// about changes projected on any other.
type RedisRelay struct {
	client *redis.Client
	prefix string
	local  Publisher
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisRelay creates a RedisRelay.
//
// Precondition: client, local and logger must be non-nil.
func NewRedisRelay(client *redis.Client, prefix string, local Publisher, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, prefix: prefix, local: local, logger: logger}
}

// Start subscribes and relays in the background until Stop.
//
// Postcondition: The pattern subscription is confirmed before Start returns.
func (r *RedisRelay) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("subscribing to %s*: %w", r.prefix, err)
	}

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer sub.Close()
		r.relay(ctx, sub.Channel())
	}()
	return nil
}

// Stop ends the subscription and waits for the relay goroutine.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *RedisRelay) relay(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.logger.Warn("discarding malformed notification",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			if n.GameID == "" {
				n.GameID = strings.TrimPrefix(msg.Channel, r.prefix)
			}
			if err := r.local.Publish(ctx, n); err != nil {
				r.logger.Warn("relaying notification", zap.String("game_id", n.GameID), zap.Error(err))
			}
		}
	}
}
