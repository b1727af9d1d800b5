package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) FileChanged(path string) {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
}

func (r *recorder) FileRemoved(path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

func contains(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func startWatcher(t *testing.T, opts Options) (*Watcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	w := New(opts, rec)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return w, rec
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w, _ := startWatcher(t, Options{Extensions: []string{".md"}, Recursive: true})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebouncedDropAndRemove(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, Options{Roots: []string{dir}, Extensions: []string{".md", ".pdf"}, Recursive: true})

	path := filepath.Join(dir, "第一章.md")
	for i := 0; i < 3; i++ {
		if err := writeFile(path, strings.Repeat("价格", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(dir, "notes.docx"), "skip"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { c, _ := rec.snapshot(); return len(c) > 0 }) {
		t.Fatal("expected a settled change")
	}
	time.Sleep(150 * time.Millisecond)
	changed, _ := rec.snapshot()
	if len(changed) != 1 || !strings.HasSuffix(changed[0], "第一章.md") {
		t.Errorf("burst of writes should settle into one report, got %v", changed)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { _, r := rec.snapshot(); return contains(r, "第一章.md") }) {
		t.Error("expected a removal report")
	}
}

func TestWatcher_IgnoresArtifacts(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "ocr")
	if err := os.MkdirAll(work, 0755); err != nil {
		t.Fatal(err)
	}
	_, rec := startWatcher(t, Options{Roots: []string{dir}, Extensions: []string{".md"}, Recursive: true, Ignore: []string{work}})

	for _, name := range []string{"result.md.123.tmp", ".hidden.md", "~$lecture.md"} {
		if err := writeFile(filepath.Join(dir, name), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(work, "result.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "kept.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { c, _ := rec.snapshot(); return contains(c, "kept.md") }) {
		t.Fatal("expected kept.md to be reported")
	}
	time.Sleep(150 * time.Millisecond)
	changed, _ := rec.snapshot()
	if len(changed) != 1 {
		t.Errorf("only kept.md should be reported, got %v", changed)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.md", []string{".md"}, true},
		{"/a/b.PDF", []string{".pdf"}, true},
		{"/a/b.pptx", []string{"pptx"}, true},
		{"/a/b.docx", []string{".md"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.md", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	w, rec := startWatcher(t, Options{Roots: []string{dir}, Extensions: []string{".md"}, Recursive: true})
	w.SyncExistingFiles()

	changed, _ := rec.snapshot()
	if len(changed) != 1 || !strings.HasSuffix(changed[0], "a.md") {
		t.Errorf("expected one reported file a.md, got %v", changed)
	}
}

func TestWatcher_Start_createsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "drop", "here")
	startWatcher(t, Options{Roots: []string{root}})
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_NewFolderIsSynced(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, Options{Roots: []string{dir}, Extensions: []string{".md", ".pptx"}, Recursive: true})

	nested := filepath.Join(dir, "week1", "slides")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "lecture.pptx"), "deck"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { c, _ := rec.snapshot(); return contains(c, "lecture.pptx") }) {
		changed, _ := rec.snapshot()
		t.Errorf("expected lecture.pptx to be reported, got %v", changed)
	}
}

func TestSinkFuncs_NilSafe(t *testing.T) {
	var got string
	s := SinkFuncs{Changed: func(p string) { got = p }}
	s.FileChanged("a.md")
	s.FileRemoved("a.md")
	if got != "a.md" {
		t.Errorf("got %q", got)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
