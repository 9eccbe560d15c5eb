package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherNotifiesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.toml")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loads := make(chan string, 4)
	w := NewWatcher(path, func(p string) (string, error) {
		data, err := os.ReadFile(p)
		return string(data), err
	}, slog.Default(), WithDebounce[string](50*time.Millisecond))

	w.OnReload(func(content string) {
		loads <- content
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("a = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case content := <-loads:
		if content != "a = 2\n" {
			t.Errorf("handler got stale content %q", content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not notified after file change")
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.toml")
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	called := make(chan struct{}, 1)
	w := NewWatcher(path, func(p string) (string, error) {
		return "", nil
	}, slog.Default(), WithDebounce[string](20*time.Millisecond))

	unsub := w.OnReload(func(string) {
		called <- struct{}{}
	})
	unsub()

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
		t.Error("unsubscribed handler was called")
	case <-time.After(300 * time.Millisecond):
	}
}
