// Package session implements the per-connection message queue and
// cross-replica fan-out that back the gateway's SSE and streamable-HTTP
// client sessions (§4.A). Store has two implementations: an in-process
// MemoryStore for single-replica deployments, and a Redis-backed store
// that lets an HTTP POST handled by one replica deliver an event into an
// SSE stream held open on another.
package session

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/mcpgateway/core/internal/model"
)

// Message is one event pushed down a session's stream.
type Message struct {
	Event string
	Data  []byte
}

// Connection is a single registered client session.
type Connection interface {
	ID() string
	Meta() model.SessionMeta
	// Send enqueues a message for delivery. It blocks on the connection's
	// rate limiter (ctx can cancel the wait), then returns an error if the
	// connection is closed. A full local queue is backpressure, not a
	// silent drop: Send returns a *StoreError and the caller decides how to
	// surface the lost message, per the bounded-100 queue policy.
	Send(ctx context.Context, msg Message) error
	// Receive returns the channel new messages arrive on. Closed when the
	// connection is closed.
	Receive() <-chan Message
	Close(ctx context.Context) error
}

// Store registers, looks up and lists sessions.
type Store interface {
	Register(ctx context.Context, meta model.SessionMeta) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	Unregister(ctx context.Context, id string) error
	List(ctx context.Context) ([]Connection, error)
}

// NotFoundError reports that a session ID has no registered connection.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

// StoreError reports a failure to deliver a message to a session's queue,
// such as a full local buffer, so callers can tell a slow client lost a
// response apart from an ordinary connection-closed error.
type StoreError struct {
	ID     string
	Reason string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session %s: %s", e.ID, e.Reason)
}

// queueCapacity bounds each connection's pending-message queue. A full
// queue drops the newest message rather than blocking the sender.
const queueCapacity = 100

// sendRate and sendBurst bound how fast a single connection accepts outbound
// events before Send starts blocking, supplementing the bounded queue: a
// slow SSE reader fills its queue eventually either way, but the limiter
// keeps a fast upstream from bursting the whole queue in one scheduler tick
// and starving other connections' writers on the same store.
const (
	sendRate  = 50 // events/sec
	sendBurst = queueCapacity
)

// newSendLimiter builds the per-connection token bucket each Store
// implementation attaches to its Connection at Register time.
func newSendLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(sendRate), sendBurst)
}
