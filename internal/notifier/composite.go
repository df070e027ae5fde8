package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Composite fans a single Watch/NotifyUpdate surface out across multiple
// underlying notifiers: every underlying notifier that can receive is
// watched and forwarded to this notifier's own watchers; NotifyUpdate is
// sent to every underlying notifier that can send, and only fails if all
// of them fail, grounded on myunla's CompositeNotifier.
type Composite struct {
	notifiers []Notifier
	logger    *slog.Logger

	mu       sync.Mutex
	watchers map[chan Update]struct{}
	started  bool
}

// NewComposite wraps the given notifiers behind one Notifier.
func NewComposite(logger *slog.Logger, notifiers ...Notifier) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{
		notifiers: notifiers,
		logger:    logger,
		watchers:  make(map[chan Update]struct{}),
	}
}

func (c *Composite) CanSend() bool {
	for _, n := range c.notifiers {
		if n.CanSend() {
			return true
		}
	}
	return false
}

func (c *Composite) CanReceive() bool {
	for _, n := range c.notifiers {
		if n.CanReceive() {
			return true
		}
	}
	return false
}

func (c *Composite) Watch(ctx context.Context) (<-chan Update, error) {
	if !c.CanReceive() {
		return nil, errNotConfigured("receive")
	}
	c.mu.Lock()
	ch := make(chan Update, 10)
	c.watchers[ch] = struct{}{}
	if !c.started {
		c.startWatchingUnderlying(ctx)
		c.started = true
	}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, ch)
		close(ch)
		c.mu.Unlock()
	}()
	return ch, nil
}

func (c *Composite) startWatchingUnderlying(ctx context.Context) {
	for _, n := range c.notifiers {
		if !n.CanReceive() {
			continue
		}
		sub, err := n.Watch(ctx)
		if err != nil {
			c.logger.Error("composite notifier: failed to watch underlying notifier", "error", err)
			continue
		}
		go c.forward(sub)
	}
}

func (c *Composite) forward(sub <-chan Update) {
	for upd := range sub {
		c.mu.Lock()
		for ch := range c.watchers {
			select {
			case ch <- upd:
			default:
				c.logger.Warn("composite notifier: watcher queue full, dropping notification")
			}
		}
		c.mu.Unlock()
	}
}

func (c *Composite) NotifyUpdate(ctx context.Context, updated Update) error {
	if !c.CanSend() {
		return errNotConfigured("send")
	}
	var lastErr error
	successes := 0
	for _, n := range c.notifiers {
		if !n.CanSend() {
			continue
		}
		if err := n.NotifyUpdate(ctx, updated); err != nil {
			lastErr = err
			c.logger.Error("composite notifier: underlying notify failed", "error", err)
			continue
		}
		successes++
	}
	if successes == 0 && lastErr != nil {
		return &Error{Message: fmt.Sprintf("all underlying notifiers failed: %v", lastErr), Cause: lastErr}
	}
	if lastErr != nil {
		c.logger.Warn("composite notifier: some underlying notifiers failed", "succeeded", successes)
	}
	return nil
}

func (c *Composite) Close() error {
	c.mu.Lock()
	for ch := range c.watchers {
		close(ch)
	}
	c.watchers = nil
	c.mu.Unlock()

	var lastErr error
	for _, n := range c.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
			c.logger.Error("composite notifier: failed to close underlying notifier", "error", err)
		}
	}
	return lastErr
}
