package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.json")
	content := []byte(`{"title":"a"}`)
	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	hash1, size1, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if size1 != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size1)
	}

	if err := os.WriteFile(testFile, []byte(`{"title":"b"}`), 0600); err != nil {
		t.Fatalf("failed to modify test file: %v", err)
	}
	hash2, _, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("second HashFile failed: %v", err)
	}
	if hash1 == hash2 {
		t.Error("different content should produce different hash")
	}
}

func TestHashFileNotFound(t *testing.T) {
	if _, _, err := HashFile("/nonexistent/file.json"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestNewRequiresPaths(t *testing.T) {
	if _, err := New(nil, time.Second); err == nil {
		t.Error("expected error without paths")
	}
}

func TestStartRejectsDirectory(t *testing.T) {
	w, err := New([]string{t.TempDir()}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsWatcher.Close()
	if err := w.Start(); err == nil {
		t.Error("expected error for directory")
	}
}

func startWatcher(t *testing.T, file string, settle time.Duration) *Watcher {
	t.Helper()
	w, err := New([]string{file}, settle)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestWatcherEvents(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "lesson.json")
	if err := os.WriteFile(testFile, []byte(`{"title":"a"}`), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	w := startWatcher(t, testFile, 50*time.Millisecond)

	if err := os.WriteFile(testFile, []byte(`{"title":"b"}`), 0600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	select {
	case event := <-w.Events():
		if filepath.Base(event.Path) != "lesson.json" {
			t.Errorf("unexpected path %s", event.Path)
		}
		doc, ok := event.Content.(map[string]any)
		if !ok || doc["title"] != "b" {
			t.Errorf("unexpected content %#v", event.Content)
		}
	case <-time.After(3 * time.Second):
		t.Error("timeout waiting for event")
	}
}

func TestWatcherSettlesBursts(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "burst.json")
	if err := os.WriteFile(testFile, []byte(`{"n":0}`), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	w := startWatcher(t, testFile, 300*time.Millisecond)

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(testFile, []byte(`{"n":`+string(rune('0'+i))+`}`), 0600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Error("expected only one event for a burst of writes")
				return
			}
			if ev.Content.(map[string]any)["n"].(interface{ String() string }).String() != "5" {
				t.Errorf("expected last write, got %#v", ev.Content)
			}
		case <-timeout:
			if eventCount != 1 {
				t.Errorf("expected 1 event, got %d", eventCount)
			}
			return
		}
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "same.json")
	content := []byte(`{"title":"same"}`)
	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	w := startWatcher(t, testFile, 30*time.Millisecond)

	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("failed to rewrite: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherReportsInvalidJSON(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(testFile, []byte(`{}`), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	w := startWatcher(t, testFile, 30*time.Millisecond)

	if err := os.WriteFile(testFile, []byte(`{"title":`), 0600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	select {
	case err := <-w.Errors():
		if err == nil {
			t.Error("expected a decode error")
		}
	case ev := <-w.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(3 * time.Second):
		t.Error("timeout waiting for error")
	}
}
