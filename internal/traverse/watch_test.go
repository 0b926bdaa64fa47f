package traverse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startWatch runs Watch in the background and returns a channel of
// accepted messages plus a stop function.
func startWatch(t *testing.T, opts WatchOptions) (<-chan WatchMessage, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	messages := make(chan WatchMessage, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = Watch(ctx, opts, func(_ context.Context, r WatchResult) error {
			if r.Error == nil {
				messages <- r.Message
			}
			return nil
		})
	}()

	// Give the watcher a moment to register its directories.
	time.Sleep(200 * time.Millisecond)

	return messages, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Watch did not stop after cancellation")
		}
	}
}

// waitForPath waits for a message about the given path, ignoring others.
func waitForPath(messages <-chan WatchMessage, path string, timeout time.Duration) (WatchMessage, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-messages:
			if msg.Path == path {
				return msg, true
			}
		case <-deadline:
			return WatchMessage{}, false
		}
	}
}

// TestWatchReportsAcceptedFile verifies changes to accepted paths are
// reported.
func TestWatchReportsAcceptedFile(t *testing.T) {
	root := buildTree(t, map[string]string{"existing.txt": "x"})
	root, _ = filepath.EvalSymlinks(root)

	messages, stop := startWatch(t, WatchOptions{Traversal: Options{Root: root}})
	defer stop()

	path := filepath.Join(root, "new.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	msg, ok := waitForPath(messages, path, 3*time.Second)
	if !ok {
		t.Fatalf("Did not receive an event for %s", path)
	}
	if msg.Event != EventCreate && msg.Event != EventModify {
		t.Errorf("Expected create or modify event, got %s", msg.Event)
	}
}

// TestWatchSuppressesIgnoredFile verifies events for ignored paths are
// never reported.
func TestWatchSuppressesIgnoredFile(t *testing.T) {
	root := buildTree(t, map[string]string{
		".ctreeignore": "*.log\n",
		"keep.txt":     "x",
	})
	root, _ = filepath.EvalSymlinks(root)

	messages, stop := startWatch(t, WatchOptions{Traversal: Options{Root: root}})
	defer stop()

	ignored := filepath.Join(root, "noise.log")
	accepted := filepath.Join(root, "signal.txt")
	if err := os.WriteFile(ignored, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := os.WriteFile(accepted, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	// The accepted file must arrive; the ignored one must not have been
	// reported before it.
	msg, ok := waitForPath(messages, accepted, 3*time.Second)
	if !ok {
		t.Fatalf("Did not receive an event for %s", accepted)
	}
	if msg.Path == ignored {
		t.Errorf("Ignored path was reported: %s", msg.Path)
	}

	select {
	case msg := <-messages:
		if msg.Path == ignored {
			t.Errorf("Ignored path was reported: %s", msg.Path)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// TestWatchEventFilter verifies the event-type filter.
func TestWatchEventFilter(t *testing.T) {
	root := buildTree(t, map[string]string{"a.txt": "x"})
	root, _ = filepath.EvalSymlinks(root)

	messages, stop := startWatch(t, WatchOptions{
		Traversal: Options{Root: root},
		Events:    []WatchEvent{EventDelete},
	})
	defer stop()

	created := filepath.Join(root, "b.txt")
	if err := os.WriteFile(created, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}

	msg, ok := waitForPath(messages, filepath.Join(root, "a.txt"), 3*time.Second)
	if !ok {
		t.Fatalf("Did not receive the delete event")
	}
	if msg.Event != EventDelete {
		t.Errorf("Expected delete event, got %s", msg.Event)
	}
}
