package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fieldline/voicekb/internal/config"
)

type eventRecorder struct {
	mu      sync.Mutex
	ingests []string
	removes []string
	byEquip map[string]string
}

func newRecorder() *eventRecorder {
	return &eventRecorder{byEquip: make(map[string]string)}
}

func (r *eventRecorder) onIngest(path, equipmentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingests = append(r.ingests, path)
	r.byEquip[path] = equipmentID
}

func (r *eventRecorder) onRemove(path, equipmentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, path)
}

func (r *eventRecorder) waitIngest(t *testing.T, path string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, p := range r.ingests {
			if p == path {
				id := r.byEquip[p]
				r.mu.Unlock()
				return id
			}
		}
		r.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no ingest event for %s", path)
	return ""
}

func TestWatcher_IngestDroppedFile(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := NewWatcher([]string{".txt"}, rec.onIngest, rec.onRemove, WithDebounce(20*time.Millisecond))
	if err := w.Start([]config.WatchDirectory{{Path: dir, EquipmentID: "eq1"}}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "manual.txt")
	if err := os.WriteFile(path, []byte("maintenance notes"), 0600); err != nil {
		t.Fatal(err)
	}
	if id := rec.waitIngest(t, path, 2*time.Second); id != "eq1" {
		t.Errorf("equipment id = %s", id)
	}
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := NewWatcher([]string{".txt"}, rec.onIngest, rec.onRemove, WithDebounce(20*time.Millisecond))
	if err := w.Start([]config.WatchDirectory{{Path: dir, EquipmentID: "eq1"}}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "image.png"), []byte{1, 2, 3}, 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ingests) != 0 {
		t.Errorf("unexpected ingests: %v", rec.ingests)
	}
}

func TestWatcher_AddRemoveDirectory(t *testing.T) {
	rec := newRecorder()
	w := NewWatcher(nil, rec.onIngest, rec.onRemove, WithDebounce(20*time.Millisecond))
	if err := w.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	dir := t.TempDir()
	// Pre-existing file is ingested on add.
	existing := filepath.Join(dir, "existing.md")
	if err := os.WriteFile(existing, []byte("already here"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, "eq2"); err != nil {
		t.Fatal(err)
	}
	if id := rec.waitIngest(t, existing, 2*time.Second); id != "eq2" {
		t.Errorf("equipment id = %s", id)
	}
	if got := w.Directories(); len(got) != 1 || got[0].EquipmentID != "eq2" {
		t.Errorf("directories: %+v", got)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if got := w.Directories(); len(got) != 0 {
		t.Errorf("directories after remove: %+v", got)
	}
}

func TestWatcher_RemoveEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	if err := os.WriteFile(path, []byte("bye"), 0600); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	w := NewWatcher([]string{".txt"}, rec.onIngest, rec.onRemove, WithDebounce(20*time.Millisecond))
	if err := w.Start([]config.WatchDirectory{{Path: dir, EquipmentID: "eq1"}}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.removes)
		rec.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no remove event")
}

func TestMatchExtension(t *testing.T) {
	w := NewWatcher([]string{".txt", "md"}, nil, nil)
	cases := map[string]bool{
		"/a/b.txt": true,
		"/a/b.MD":  true,
		"/a/b.pdf": false,
		"/a/b":     false,
	}
	for path, want := range cases {
		if got := w.matchExtension(path); got != want {
			t.Errorf("matchExtension(%s) = %v, want %v", path, got, want)
		}
	}
	open := NewWatcher(nil, nil, nil)
	if !open.matchExtension("/a/b.anything") {
		t.Error("empty extension list should match everything")
	}
}
