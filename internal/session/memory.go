package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpgateway/core/internal/model"
)

// MemoryStore is an in-process Store: every registered connection lives in
// a guarded map and delivers directly to its own buffered channel. It has
// no cross-replica fan-out; use the Redis store for that.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[string]*memoryConnection
	logger      *slog.Logger
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		connections: make(map[string]*memoryConnection),
		logger:      logger,
	}
}

func (s *MemoryStore) Register(ctx context.Context, meta model.SessionMeta) (Connection, error) {
	conn := &memoryConnection{
		meta:    meta,
		queue:   make(chan Message, queueCapacity),
		store:   s,
		logger:  s.logger,
		limiter: newSendLimiter(),
	}
	s.mu.Lock()
	s.connections[meta.ID] = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Connection, error) {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return conn, nil
}

func (s *MemoryStore) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	conn, ok := s.connections[id]
	delete(s.connections, id)
	s.mu.Unlock()
	if !ok {
		return &NotFoundError{ID: id}
	}
	conn.closeQueue()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out, nil
}

type memoryConnection struct {
	meta    model.SessionMeta
	queue   chan Message
	store   *MemoryStore
	logger  *slog.Logger
	limiter *rate.Limiter

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (c *memoryConnection) ID() string             { return c.meta.ID }
func (c *memoryConnection) Meta() model.SessionMeta { return c.meta }
func (c *memoryConnection) Receive() <-chan Message { return c.queue }

func (c *memoryConnection) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &NotFoundError{ID: c.meta.ID}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		c.logger.Warn("connection queue full, dropping message",
			"id", c.meta.ID, "event", msg.Event)
		return &StoreError{ID: c.meta.ID, Reason: "message queue is full"}
	}
}

func (c *memoryConnection) Close(ctx context.Context) error {
	return c.store.Unregister(ctx, c.meta.ID)
}

func (c *memoryConnection) closeQueue() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.queue)
	})
}
