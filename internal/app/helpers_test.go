package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/apptest"
)

func startPool(t *testing.T, engine *apptest.Engine, size int, delay time.Duration) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(engine, size, delay)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newRooms(t *testing.T, engine *apptest.Engine, timeout time.Duration) *RoomRegistry {
	t.Helper()
	pool := startPool(t, engine, 2, 10*time.Millisecond)
	return NewRoomRegistry(pool, RoomRegistryConfig{Codecs: apptest.Codecs(), EngineTimeout: timeout}, nil)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
