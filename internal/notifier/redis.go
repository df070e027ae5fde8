package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/rueidis"

	"github.com/mcpgateway/core/internal/model"
)

// RedisConfig configures the Redis pub/sub notifier.
type RedisConfig struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Topic    string
	Role     Role
}

// RedisNotifier fans out configuration updates over a single Redis pub/sub
// topic, grounded on myunla's RedisNotifier. An empty payload means "reload
// signal" (no attached config); otherwise the payload is the JSON-encoded
// McpConfig.
type RedisNotifier struct {
	client rueidis.Client
	sub    rueidis.DedicatedClient
	cancel func()
	cfg    RedisConfig
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[chan Update]struct{}
}

// NewRedisNotifier connects to Redis. If cfg.Role can receive, it also
// subscribes to cfg.Topic immediately; an update that arrives while no
// Watch channel is registered is not delivered to anyone.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, &Error{Message: "failed to connect to Redis", Cause: err}
	}

	n := &RedisNotifier{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[chan Update]struct{}),
	}

	if cfg.Role.canReceive() {
		if err := n.startWatching(ctx); err != nil {
			client.Close()
			return nil, err
		}
	}
	return n, nil
}

func (n *RedisNotifier) startWatching(ctx context.Context) error {
	sub, cancel := n.client.Dedicate()
	n.sub = sub
	n.cancel = cancel

	wait := sub.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) {
			n.handleMessage(m.Message)
		},
	})
	if err := sub.Do(ctx, sub.B().Subscribe().Channel(n.cfg.Topic).Build()).Error(); err != nil {
		cancel()
		return &Error{Message: "failed to start Redis listening", Cause: err}
	}
	go func() {
		if err := <-wait; err != nil {
			n.logger.Warn("redis notifier listener stopped", "error", err)
		}
	}()
	return nil
}

func (n *RedisNotifier) handleMessage(payload string) {
	var upd Update
	if payload != "" {
		var cfg model.McpConfig
		if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
			n.logger.Warn("redis notifier: failed to parse message", "error", err)
			return
		}
		upd.Config = &cfg
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.watchers {
		select {
		case ch <- upd:
		default:
			n.logger.Warn("redis notifier: watcher queue full, dropping notification")
		}
	}
}

func (n *RedisNotifier) CanSend() bool    { return n.cfg.Role.canSend() }
func (n *RedisNotifier) CanReceive() bool { return n.cfg.Role.canReceive() }

func (n *RedisNotifier) Watch(ctx context.Context) (<-chan Update, error) {
	if !n.CanReceive() {
		return nil, errNotConfigured("receive")
	}
	ch := make(chan Update, 10)
	n.mu.Lock()
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

func (n *RedisNotifier) NotifyUpdate(ctx context.Context, updated Update) error {
	if !n.CanSend() {
		return errNotConfigured("send")
	}
	payload := ""
	if updated.Config != nil {
		b, err := json.Marshal(updated.Config)
		if err != nil {
			return &Error{Message: "failed to marshal config", Cause: err}
		}
		payload = string(b)
	}
	cmd := n.client.B().Publish().Channel(n.cfg.Topic).Message(payload).Build()
	if err := n.client.Do(ctx, cmd).Error(); err != nil {
		return &Error{Message: "failed to publish update notification", Cause: err}
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.client.Close()
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.watchers {
		close(ch)
	}
	n.watchers = nil
	return nil
}
