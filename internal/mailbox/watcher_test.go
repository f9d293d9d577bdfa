package mailbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatch_DebouncesArrivals(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 150*time.Millisecond, logger, func() { calls.Add(1) })
	}()

	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{"a.eml", "b.eml", "c.eml"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("Subject: TASK1\r\n\r\nx"), 0o644)
	}
	_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return calls.Load() >= 1
	}, "arrival not reported")

	time.Sleep(400 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, logger, func() {})
	if err == nil {
		t.Error("expected error for missing dir")
	}
}
