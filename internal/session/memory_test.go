package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/core/internal/model"
)

func TestMemoryStoreRegisterGetUnregister(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	meta := model.SessionMeta{ID: "sess-1", Prefix: "/a", Type: model.SessionSSE, CreatedAt: time.Now()}
	conn, err := store.Register(ctx, meta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if conn.ID() != "sess-1" {
		t.Fatalf("got id %q", conn.ID())
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != conn {
		t.Fatalf("Get returned a different connection")
	}

	if err := store.Unregister(ctx, "sess-1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); err == nil {
		t.Fatalf("expected NotFoundError after unregister")
	}
}

func TestMemoryStoreSendReceive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	meta := model.SessionMeta{ID: "sess-2", CreatedAt: time.Now()}
	conn, err := store.Register(ctx, meta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := conn.Send(ctx, Message{Event: "ping", Data: []byte("1")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-conn.Receive():
		if msg.Event != "ping" {
			t.Fatalf("got event %q", msg.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryStoreQueueDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	meta := model.SessionMeta{ID: "sess-3", CreatedAt: time.Now()}
	conn, err := store.Register(ctx, meta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var overflowErrs int
	for i := 0; i < queueCapacity+10; i++ {
		if err := conn.Send(ctx, Message{Event: "e"}); err != nil {
			var storeErr *StoreError
			if !errors.As(err, &storeErr) {
				t.Fatalf("Send #%d: expected *StoreError, got %v", i, err)
			}
			overflowErrs++
		}
	}
	if len(conn.Receive()) != queueCapacity {
		t.Fatalf("expected queue capped at %d, got %d", queueCapacity, len(conn.Receive()))
	}
	if overflowErrs != 10 {
		t.Fatalf("expected 10 overflow sends to report *StoreError, got %d", overflowErrs)
	}
}

func TestMemoryStoreRoundTripAcrossManySessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	metas := make([]model.SessionMeta, 0, 5)
	for i := 0; i < 5; i++ {
		meta := model.SessionMeta{ID: "rt-" + string(rune('a'+i)), Prefix: "/p", Type: model.SessionStreamable, CreatedAt: time.Now()}
		metas = append(metas, meta)
		conn, err := store.Register(ctx, meta)
		require.NoError(t, err)
		require.Equal(t, meta.ID, conn.ID())
	}

	for _, meta := range metas {
		conn, err := store.Get(ctx, meta.ID)
		require.NoError(t, err)
		require.Equal(t, meta, conn.Meta())
	}

	for _, meta := range metas {
		require.NoError(t, store.Unregister(ctx, meta.ID))
		_, err := store.Get(ctx, meta.ID)
		require.Error(t, err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Register(ctx, model.SessionMeta{ID: id, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	conns, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(conns) != 3 {
		t.Fatalf("got %d connections", len(conns))
	}
}
