package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/rueidis"
	"golang.org/x/time/rate"

	"github.com/mcpgateway/core/internal/model"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Prefix   string        // key prefix, defaults to "session:"
	Topic    string        // pub/sub channel for cross-replica fan-out
	TTL      time.Duration // session key TTL, renewed on every read/write
}

// wireUpdate is the pub/sub envelope published on every store mutation,
// mirroring myunla's {action, meta, message} payload.
type wireUpdate struct {
	Action  string       `json:"action"`
	Meta    *wireMeta    `json:"meta,omitempty"`
	Message *wireMessage `json:"message,omitempty"`
}

type wireMeta struct {
	ID        string              `json:"id"`
	Prefix    string              `json:"prefix"`
	Type      string              `json:"type"`
	CreatedAt time.Time           `json:"created_at"`
	Headers   map[string][]string `json:"headers"`
	Queries   map[string][]string `json:"queries"`
	Cookies   map[string]string   `json:"cookies"`
}

type wireMessage struct {
	Event string `json:"event"`
	Data  []byte `json:"data"`
}

func toWireMeta(m model.SessionMeta) *wireMeta {
	return &wireMeta{
		ID:        m.ID,
		Prefix:    m.Prefix,
		Type:      string(m.Type),
		CreatedAt: m.CreatedAt,
		Headers:   m.Request.Headers,
		Queries:   m.Request.Queries,
		Cookies:   m.Request.Cookies,
	}
}

func (w *wireMeta) toMeta() model.SessionMeta {
	return model.SessionMeta{
		ID:        w.ID,
		Prefix:    w.Prefix,
		Type:      model.SessionType(w.Type),
		CreatedAt: w.CreatedAt,
		Request: model.RequestSnapshot{
			Headers: w.Headers,
			Queries: w.Queries,
			Cookies: w.Cookies,
		},
	}
}

// RedisStore is a Store backed by Redis: session metadata and membership
// live in Redis keys with a renewed TTL, while per-replica delivery to a
// locally-held connection happens via a dedicated pub/sub subscriber.
type RedisStore struct {
	client rueidis.Client
	sub    rueidis.DedicatedClient
	cancel func()

	prefix string
	topic  string
	ttl    time.Duration

	mu          sync.RWMutex
	connections map[string]*redisConnection

	logger *slog.Logger
}

// NewRedisStore connects to Redis and starts the pub/sub listener. The
// returned store must be closed to release the dedicated connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
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
		return nil, fmt.Errorf("session: connect redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "session:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	s := &RedisStore{
		client:      client,
		prefix:      prefix,
		topic:       cfg.Topic,
		ttl:         ttl,
		connections: make(map[string]*redisConnection),
		logger:      logger,
	}

	sub, cancel := client.Dedicate()
	s.sub = sub
	s.cancel = cancel

	wait := sub.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) {
			s.handleUpdate(m.Message)
		},
	})
	if err := sub.Do(ctx, sub.B().Subscribe().Channel(s.topic).Build()).Error(); err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("session: subscribe %q: %w", s.topic, err)
	}

	go func() {
		if err := <-wait; err != nil {
			s.logger.Warn("session pubsub listener stopped", "error", err)
		}
	}()

	return s, nil
}

// Close releases the dedicated pub/sub connection and the client.
func (s *RedisStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.client.Close()
}

func (s *RedisStore) handleUpdate(payload string) {
	var update wireUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		s.logger.Error("session: invalid pubsub payload", "error", err)
		return
	}
	if update.Action != "event" || update.Meta == nil || update.Message == nil {
		return
	}
	s.mu.RLock()
	conn, ok := s.connections[update.Meta.ID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("session: event for unknown local connection", "id", update.Meta.ID)
		return
	}
	msg := Message{Event: update.Message.Event, Data: update.Message.Data}
	select {
	case conn.queue <- msg:
	default:
		conn.mu.Lock()
		conn.dropped++
		conn.mu.Unlock()
		s.logger.Warn("session: connection queue full, dropping message",
			"id", update.Meta.ID, "event", msg.Event)
	}
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + id }
func (s *RedisStore) idsKey() string              { return s.prefix + "ids" }

func (s *RedisStore) publish(ctx context.Context, action string, meta model.SessionMeta, msg *Message) error {
	update := wireUpdate{Action: action, Meta: toWireMeta(meta)}
	if msg != nil {
		update.Message = &wireMessage{Event: msg.Event, Data: msg.Data}
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("session: marshal update: %w", err)
	}
	cmd := s.client.B().Publish().Channel(s.topic).Message(string(payload)).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *RedisStore) Register(ctx context.Context, meta model.SessionMeta) (Connection, error) {
	data, err := json.Marshal(toWireMeta(meta))
	if err != nil {
		return nil, fmt.Errorf("session: marshal meta: %w", err)
	}
	ttlSeconds := int64(s.ttl.Seconds())

	setCmd := s.client.B().Set().Key(s.sessionKey(meta.ID)).Value(string(data)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, setCmd).Error(); err != nil {
		return nil, fmt.Errorf("session: store metadata: %w", err)
	}

	saddCmd := s.client.B().Sadd().Key(s.idsKey()).Member(meta.ID).Build()
	if err := s.client.Do(ctx, saddCmd).Error(); err != nil {
		return nil, fmt.Errorf("session: register id: %w", err)
	}
	expireCmd := s.client.B().Expire().Key(s.idsKey()).Seconds(ttlSeconds).Build()
	if err := s.client.Do(ctx, expireCmd).Error(); err != nil {
		s.logger.Warn("session: failed to renew ids TTL", "error", err)
	}

	conn := &redisConnection{store: s, meta: meta, queue: make(chan Message, queueCapacity), limiter: newSendLimiter()}
	s.mu.Lock()
	s.connections[meta.ID] = conn
	s.mu.Unlock()

	if err := s.publish(ctx, "create", meta, nil); err != nil {
		s.logger.Warn("session: failed to publish create event", "error", err)
	}
	return conn, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Connection, error) {
	exists, err := s.client.Do(ctx, s.client.B().Sismember().Key(s.idsKey()).Member(id).Build()).AsBool()
	if err != nil {
		return nil, fmt.Errorf("session: check membership: %w", err)
	}
	if !exists {
		return nil, &NotFoundError{ID: id}
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(id)).Build()).ToString()
	if err != nil {
		return nil, &NotFoundError{ID: id}
	}

	var wm wireMeta
	if err := json.Unmarshal([]byte(data), &wm); err != nil {
		return nil, fmt.Errorf("session: unmarshal meta: %w", err)
	}

	ttlSeconds := int64(s.ttl.Seconds())
	_ = s.client.Do(ctx, s.client.B().Expire().Key(s.sessionKey(id)).Seconds(ttlSeconds).Build())
	_ = s.client.Do(ctx, s.client.B().Expire().Key(s.idsKey()).Seconds(ttlSeconds).Build())

	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if ok {
		return conn, nil
	}
	return &redisConnection{store: s, meta: wm.toMeta(), queue: make(chan Message, queueCapacity), limiter: newSendLimiter()}, nil
}

func (s *RedisStore) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()

	exists, err := s.client.Do(ctx, s.client.B().Sismember().Key(s.idsKey()).Member(id).Build()).AsBool()
	if err != nil {
		return fmt.Errorf("session: check membership: %w", err)
	}
	if !exists {
		return &NotFoundError{ID: id}
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.sessionKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("session: delete metadata: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Srem().Key(s.idsKey()).Member(id).Build()).Error(); err != nil {
		return fmt.Errorf("session: remove id: %w", err)
	}

	meta := model.SessionMeta{ID: id, CreatedAt: time.Now()}
	if err := s.publish(ctx, "delete", meta, nil); err != nil {
		s.logger.Warn("session: failed to publish delete event", "error", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Connection, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.idsKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("session: list ids: %w", err)
	}
	out := make([]Connection, 0, len(ids))
	for _, id := range ids {
		conn, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Error("session: failed to load connection", "id", id, "error", err)
			continue
		}
		out = append(out, conn)
	}
	return out, nil
}

// redisConnection is a handle to a session registered in Redis. Send
// publishes to the shared topic (every replica filters by session ID);
// Receive only yields messages for connections held in this replica's
// local map, matching the source's single-process delivery model.
type redisConnection struct {
	store   *RedisStore
	meta    model.SessionMeta
	queue   chan Message
	limiter *rate.Limiter

	mu      sync.Mutex
	dropped int
}

// takeDropped returns and resets the count of messages this connection's
// local queue has discarded since the last call, so Send can surface a
// StoreError to the next caller instead of letting handleUpdate's drops go
// unreported forever.
func (c *redisConnection) takeDropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.dropped
	c.dropped = 0
	return n
}

func (c *redisConnection) ID() string             { return c.meta.ID }
func (c *redisConnection) Meta() model.SessionMeta { return c.meta }
func (c *redisConnection) Receive() <-chan Message { return c.queue }

func (c *redisConnection) Send(ctx context.Context, msg Message) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ttlSeconds := int64(c.store.ttl.Seconds())
	_ = c.store.client.Do(ctx, c.store.client.B().Expire().Key(c.store.sessionKey(c.meta.ID)).Seconds(ttlSeconds).Build())
	_ = c.store.client.Do(ctx, c.store.client.B().Expire().Key(c.store.idsKey()).Seconds(ttlSeconds).Build())
	if err := c.store.publish(ctx, "event", c.meta, &msg); err != nil {
		return err
	}
	// The publish above reached the bus; report any earlier message this
	// connection's local queue discarded, so backpressure isn't silent just
	// because it surfaces on a different Send call than the one that hit it.
	if dropped := c.takeDropped(); dropped > 0 {
		return &StoreError{ID: c.meta.ID, Reason: fmt.Sprintf("local queue was full, %d earlier message(s) dropped", dropped)}
	}
	return nil
}

func (c *redisConnection) Close(ctx context.Context) error {
	return c.store.Unregister(ctx, c.meta.ID)
}
