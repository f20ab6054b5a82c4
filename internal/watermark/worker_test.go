package watermark

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingReplacer struct {
	mu    sync.Mutex
	calls map[string][]byte
}

func (r *recordingReplacer) ReplaceAtomic(path string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string][]byte)
	}
	r.calls[path] = data
	return os.WriteFile(path, data, 0644)
}

func (r *recordingReplacer) replaced(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[path]
	return ok
}

func TestWorker_RewritesStoredFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	if err := os.WriteFile(path, testPNG(t, 300, 200), 0644); err != nil {
		t.Fatal(err)
	}

	replacer := &recordingReplacer{}
	w := NewWorker(replacer, 4)
	w.Start(1)

	w.Enqueue(Job{Path: path, Spec: testSpec()})
	w.Stop()

	if !replacer.replaced(path) {
		t.Error("worker did not rewrite the stored file")
	}
}

func TestWorker_CorruptFileLeftUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	replacer := &recordingReplacer{}
	w := NewWorker(replacer, 4)
	w.Start(1)

	w.Enqueue(Job{Path: path, Spec: testSpec()})
	w.Stop()

	if replacer.replaced(path) {
		t.Error("fallback output must not trigger a rewrite")
	}

	got, _ := os.ReadFile(path)
	if string(got) != "not an image" {
		t.Error("corrupt file content changed")
	}
}

func TestWorker_StopDrainsQueue(t *testing.T) {
	dir := t.TempDir()

	paths := make([]string, 5)
	for i := range paths {
		paths[i] = filepath.Join(dir, "img"+string(rune('a'+i))+".png")
		if err := os.WriteFile(paths[i], testPNG(t, 120, 80), 0644); err != nil {
			t.Fatal(err)
		}
	}

	replacer := &recordingReplacer{}
	w := NewWorker(replacer, 16)
	w.Start(2)

	for _, p := range paths {
		w.Enqueue(Job{Path: p, Spec: testSpec()})
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Stop did not drain the queue")
	}

	for _, p := range paths {
		if !replacer.replaced(p) {
			t.Errorf("queued job for %s was dropped on Stop", p)
		}
	}
}

func TestWorker_EnqueueAfterStopIsDropped(t *testing.T) {
	replacer := &recordingReplacer{}
	w := NewWorker(replacer, 1)
	w.Start(1)
	w.Stop()

	// Не должно паниковать отправкой в закрытый канал
	w.Enqueue(Job{Path: "/nonexistent", Spec: testSpec()})
}
