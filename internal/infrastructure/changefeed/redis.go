package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultChannel is the Pub/Sub channel changes are relayed on
	DefaultChannel = "docsync:changes"

	defaultCloseTimeout = 5 * time.Second
)

// RedisConfig holds connection settings for the relay
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisNotifier relays change signals through Redis Pub/Sub so listeners on
// every instance see writes made on any instance
type RedisNotifier struct {
	local      *Local
	client     *redis.Client
	ownsClient bool
	channel    string
	origin     string
	logger     *zap.Logger
	cancelFn   context.CancelFunc
	doneCh     chan struct{}
	doneOnce   sync.Once
	mu         sync.Mutex
	isRunning  bool
}

// RedisNotifierOption is a functional option for configuring the notifier
type RedisNotifierOption func(*RedisNotifier)

// WithChannel sets the Pub/Sub channel name
func WithChannel(channel string) RedisNotifierOption {
	return func(n *RedisNotifier) {
		n.channel = channel
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) RedisNotifierOption {
	return func(n *RedisNotifier) {
		n.logger = logger
	}
}

// NewRedisNotifier connects to Redis and creates a relay
func NewRedisNotifier(cfg RedisConfig, opts ...RedisNotifierOption) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	n := NewRedisNotifierWithClient(client, opts...)
	n.ownsClient = true
	return n, nil
}

// NewRedisNotifierWithClient creates a relay on an existing client.
// The caller keeps ownership of the client.
func NewRedisNotifierWithClient(client *redis.Client, opts ...RedisNotifierOption) *RedisNotifier {
	n := &RedisNotifier{
		local:   NewLocal(),
		client:  client,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify signals local watchers and publishes the change to other instances
func (n *RedisNotifier) Notify(ctx context.Context, path string) error {
	_ = n.local.Notify(ctx, path)

	payload, err := encodeMessage(path, n.origin)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Error("Failed to publish change message",
			zap.String("channel", n.channel),
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("failed to publish change message: %w", err)
	}
	return nil
}

// Watch registers a local watcher
func (n *RedisNotifier) Watch(path string) (<-chan struct{}, func()) {
	return n.local.Watch(path)
}

// Run subscribes to the channel and forwards remote changes to local
// watchers. It blocks until ctx is cancelled or Close is called.
func (n *RedisNotifier) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.isRunning {
		n.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	n.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	n.cancelFn = cancel
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.isRunning = false
		n.mu.Unlock()
		n.markDone()
	}()

	pubsub := n.client.Subscribe(subCtx, n.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	n.logger.Info("Subscribed to change channel", zap.String("channel", n.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			n.logger.Info("Change relay stopped")
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				n.logger.Warn("Change channel closed")
				return nil
			}
			n.forward(subCtx, msg.Payload)
		}
	}
}

func (n *RedisNotifier) forward(ctx context.Context, payload string) {
	msg, err := decodeMessage(payload)
	if err != nil {
		n.logger.Error("Dropping change message", zap.String("payload", payload), zap.Error(err))
		return
	}
	if msg.Origin == n.origin {
		return
	}
	n.logger.Debug("Received remote change", zap.String("path", msg.Path), zap.String("origin", msg.Origin))
	_ = n.local.Notify(ctx, msg.Path)
}

func (n *RedisNotifier) markDone() {
	n.doneOnce.Do(func() {
		close(n.doneCh)
	})
}

// Close stops Run and releases the client if the notifier owns it
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	cancelFn := n.cancelFn
	n.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-n.doneCh:
		case <-time.After(defaultCloseTimeout):
			n.logger.Warn("Timeout waiting for change relay to stop")
		}
	}

	if n.ownsClient {
		return n.client.Close()
	}
	return nil
}

var _ Notifier = (*RedisNotifier)(nil)
