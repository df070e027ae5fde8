package notifier

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// fakeNotifier is a minimal in-memory Notifier used to exercise Composite
// without any real transport.
type fakeNotifier struct {
	role     Role
	watchers []chan Update
	sent     []Update
}

func (f *fakeNotifier) CanSend() bool    { return f.role.canSend() }
func (f *fakeNotifier) CanReceive() bool { return f.role.canReceive() }

func (f *fakeNotifier) Watch(ctx context.Context) (<-chan Update, error) {
	ch := make(chan Update, 10)
	f.watchers = append(f.watchers, ch)
	return ch, nil
}

func (f *fakeNotifier) NotifyUpdate(ctx context.Context, updated Update) error {
	f.sent = append(f.sent, updated)
	for _, ch := range f.watchers {
		ch <- updated
	}
	return nil
}

func (f *fakeNotifier) Close() error { return nil }

func TestCompositeForwardsFromReceivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := &fakeNotifier{role: RoleReceiver}
	c := NewComposite(nil, receiver)

	ch, err := c.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	receiver.NotifyUpdate(ctx, Update{})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded update")
	}
}

func TestCompositeSendFailsOnlyIfAllFail(t *testing.T) {
	ctx := context.Background()
	good := &fakeNotifier{role: RoleSender}
	c := NewComposite(nil, good)

	if !c.CanSend() {
		t.Fatal("expected CanSend true")
	}
	if err := c.NotifyUpdate(ctx, Update{}); err != nil {
		t.Fatalf("NotifyUpdate: %v", err)
	}
	if len(good.sent) != 1 {
		t.Fatalf("expected 1 sent update, got %d", len(good.sent))
	}
}

func TestCompositeCannotSendWithNoSenders(t *testing.T) {
	c := NewComposite(nil, &fakeNotifier{role: RoleReceiver})
	if c.CanSend() {
		t.Fatal("expected CanSend false")
	}
	if err := c.NotifyUpdate(context.Background(), Update{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSignalNotifierRequiresPIDFileToSend(t *testing.T) {
	_, err := NewSignalNotifier(SignalConfig{Role: RoleSender})
	if err == nil {
		t.Fatal("expected error for missing PID file")
	}
}

func TestSignalNotifierSendSignalsProcess(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "gateway.pid")
	if err := WritePIDFile(pidFile); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	n, err := NewSignalNotifier(SignalConfig{PIDFile: pidFile, Role: RoleSender})
	if err != nil {
		t.Fatalf("NewSignalNotifier: %v", err)
	}

	// Swallow the SIGHUP this test is about to send to its own process, so
	// the test binary doesn't terminate on the default disposition.
	swallow := make(chan os.Signal, 1)
	signal.Notify(swallow, syscall.SIGHUP)
	defer signal.Stop(swallow)

	if err := n.NotifyUpdate(context.Background(), Update{}); err != nil {
		t.Fatalf("NotifyUpdate: %v", err)
	}

	select {
	case <-swallow:
	case <-time.After(time.Second):
		t.Fatal("expected to receive the self-sent SIGHUP")
	}
}

func TestRoleCapabilities(t *testing.T) {
	if !RoleBoth.canSend() || !RoleBoth.canReceive() {
		t.Fatal("RoleBoth should support both")
	}
	if RoleSender.canReceive() {
		t.Fatal("RoleSender should not receive")
	}
	if RoleReceiver.canSend() {
		t.Fatal("RoleReceiver should not send")
	}
}
