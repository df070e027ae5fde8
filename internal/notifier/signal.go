package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// SignalConfig configures the SIGHUP-based notifier: the sending side
// writes to pidFile's process, the receiving side installs a SIGHUP handler
// for its own process.
type SignalConfig struct {
	PIDFile string
	Role    Role
}

// SignalNotifier broadcasts bare reload signals (no config payload) by
// sending SIGHUP to the process recorded in a PID file, mirroring
// myunla's SignalNotifier. Every watcher receives a nil-Config Update on
// each signal.
type SignalNotifier struct {
	cfg SignalConfig

	mu       sync.Mutex
	watchers map[chan Update]struct{}
	sigCh    chan os.Signal
	stop     chan struct{}
	started  bool
	closed   bool
}

// NewSignalNotifier constructs a notifier for the given role. PIDFile is
// required when the role can send.
func NewSignalNotifier(cfg SignalConfig) (*SignalNotifier, error) {
	if cfg.Role.canSend() && cfg.PIDFile == "" {
		return nil, &Error{Message: "PID file path is required"}
	}
	return &SignalNotifier{
		cfg:      cfg,
		watchers: make(map[chan Update]struct{}),
	}, nil
}

func (n *SignalNotifier) CanSend() bool    { return n.cfg.Role.canSend() }
func (n *SignalNotifier) CanReceive() bool { return n.cfg.Role.canReceive() }

func (n *SignalNotifier) Watch(ctx context.Context) (<-chan Update, error) {
	if !n.CanReceive() {
		return nil, errNotConfigured("receive")
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Update, 10)
	n.watchers[ch] = struct{}{}
	if !n.started {
		n.installHandler()
		n.started = true
	}

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, ch)
		close(ch)
		n.mu.Unlock()
	}()

	return ch, nil
}

func (n *SignalNotifier) installHandler() {
	n.sigCh = make(chan os.Signal, 1)
	n.stop = make(chan struct{})
	signal.Notify(n.sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-n.sigCh:
				n.broadcast()
			case <-n.stop:
				return
			}
		}
	}()
}

func (n *SignalNotifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.watchers {
		select {
		case ch <- Update{}:
		default:
			slog.Default().Warn("signal notifier: watcher queue full, dropping notification")
		}
	}
}

func (n *SignalNotifier) NotifyUpdate(ctx context.Context, _ Update) error {
	if !n.CanSend() {
		return errNotConfigured("send")
	}
	pid, err := readPID(n.cfg.PIDFile)
	if err != nil {
		return &Error{Message: "failed to read PID file", Cause: err}
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return &Error{Message: fmt.Sprintf("process %d not found", pid), Cause: err}
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return &Error{Message: "failed to send signal", Cause: err}
	}
	return nil
}

func (n *SignalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.stop != nil {
		close(n.stop)
	}
	for ch := range n.watchers {
		close(ch)
	}
	n.watchers = nil
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file %s: %w", path, err)
	}
	return pid, nil
}

// WritePIDFile records the current process's PID, for a sender to target.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
