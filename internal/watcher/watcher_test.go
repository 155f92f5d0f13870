package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	stderrors "errors"

	lumenerrors "github.com/lumen-dev/lumen/internal/errors"
)

func startWatcher(t *testing.T, roots []string, debounce time.Duration) *Watcher {
	t.Helper()

	w := New(Config{Roots: roots, Debounce: debounce}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	// Give the OS watch a moment to settle before mutating the tree.
	time.Sleep(50 * time.Millisecond)
	return w
}

func waitBatch(t *testing.T, w *Watcher, timeout time.Duration) Batch {
	t.Helper()
	select {
	case batch, ok := <-w.Batches():
		if !ok {
			t.Fatal("batch channel closed")
		}
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestWatcher_BadRootIsFatal(t *testing.T) {
	w := New(Config{Roots: []string{filepath.Join(t.TempDir(), "missing")}}, nil)

	err := w.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if !stderrors.Is(err, lumenerrors.New("E101")) {
		t.Errorf("expected E101, got %v", err)
	}
}

func TestWatcher_SingleChange(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.lm")
	if err := os.WriteFile(file, []byte("view Main {}"), 0644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, []string{dir}, 50*time.Millisecond)

	if err := os.WriteFile(file, []byte("view Main { text }"), 0644); err != nil {
		t.Fatal(err)
	}

	batch := waitBatch(t, w, 2*time.Second)
	ev, ok := batch[file]
	if !ok {
		t.Fatalf("batch %v missing %s", batch.Paths(), file)
	}
	if ev.Kind != Modified && ev.Kind != Created {
		t.Errorf("kind = %v", ev.Kind)
	}
}

func TestWatcher_CoalescesSamePath(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.lm")
	fileB := filepath.Join(dir, "b.lm")

	w := startWatcher(t, []string{dir}, 150*time.Millisecond)

	// A modified three times inside one window, B once.
	for _, content := range []string{"1", "2", "3"} {
		if err := os.WriteFile(fileA, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	if err := os.WriteFile(fileB, []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}

	batch := waitBatch(t, w, 2*time.Second)
	if len(batch) != 2 {
		t.Errorf("batch has %d entries (%v), want 2", len(batch), batch.Paths())
	}
	if _, ok := batch[fileA]; !ok {
		t.Errorf("batch missing %s", fileA)
	}
	if _, ok := batch[fileB]; !ok {
		t.Errorf("batch missing %s", fileB)
	}

	// Nothing else should flush.
	select {
	case extra := <-w.Batches():
		t.Errorf("unexpected second batch: %v", extra.Paths())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_LatestKindWins(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gone.lm")

	w := startWatcher(t, []string{dir}, 100*time.Millisecond)

	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}

	batch := waitBatch(t, w, 2*time.Second)
	ev, ok := batch[file]
	if !ok {
		t.Fatalf("batch %v missing %s", batch.Paths(), file)
	}
	if ev.Kind != Removed {
		t.Errorf("kind = %v, want Removed", ev.Kind)
	}
}

func TestWatcher_IgnoredPaths(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, []string{dir}, 50*time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case batch := <-w.Batches():
		t.Errorf("ignored file produced a batch: %v", batch.Paths())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, []string{dir}, 50*time.Millisecond)

	sub := filepath.Join(dir, "views")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	// Let the new watch register before writing into it.
	time.Sleep(100 * time.Millisecond)

	file := filepath.Join(sub, "panel.lm")
	if err := os.WriteFile(file, []byte("view Panel {}"), 0644); err != nil {
		t.Fatal(err)
	}

	batch := waitBatch(t, w, 2*time.Second)
	if _, ok := batch[file]; !ok {
		t.Errorf("batch %v missing %s", batch.Paths(), file)
	}
}

func TestWatcher_PopulatedDirectoryMovedIn(t *testing.T) {
	dir := t.TempDir()
	staging := t.TempDir()
	w := startWatcher(t, []string{dir}, 50*time.Millisecond)

	// Build the directory outside the watched tree, then move it in: its
	// files never produce events of their own and must be seeded.
	src := filepath.Join(staging, "widgets")
	if err := os.Mkdir(src, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.lm", "b.lm"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("widget"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	dst := filepath.Join(dir, "widgets")
	if err := os.Rename(src, dst); err != nil {
		t.Fatal(err)
	}

	batch := waitBatch(t, w, 2*time.Second)
	for _, name := range []string{"a.lm", "b.lm"} {
		file := filepath.Join(dst, name)
		ev, ok := batch[file]
		if !ok {
			t.Errorf("batch %v missing %s", batch.Paths(), file)
			continue
		}
		if ev.Kind != Created {
			t.Errorf("%s kind = %v, want Created", file, ev.Kind)
		}
	}
}

func TestWatcher_StopClosesChannel(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, []string{dir}, 50*time.Millisecond)

	w.Stop()

	select {
	case _, ok := <-w.Batches():
		if ok {
			t.Error("expected closed channel after Stop")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after Stop")
	}
}

func TestBatch_Merge(t *testing.T) {
	older := Batch{
		"a": {Path: "a", Kind: Created},
		"b": {Path: "b", Kind: Modified},
	}
	newer := Batch{
		"b": {Path: "b", Kind: Removed},
		"c": {Path: "c", Kind: Created},
	}

	older.Merge(newer)

	if len(older) != 3 {
		t.Fatalf("merged batch has %d entries, want 3", len(older))
	}
	if older["b"].Kind != Removed {
		t.Errorf("latest kind should win for b, got %v", older["b"].Kind)
	}
}

func TestShouldIgnore(t *testing.T) {
	w := New(Config{Roots: []string{"."}, Ignore: []string{"*.tmp", ".git", "vendor/cache"}}, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"/proj/app/main.lm", false},
		{"/proj/app/scratch.tmp", true},
		{"/proj/.git/HEAD", true},
		{"/proj/vendor/cache/x.lm", true},
		{"/proj/vendor/other/x.lm", false},
	}

	for _, tt := range tests {
		if got := w.shouldIgnore(tt.path); got != tt.want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
