package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	f1 := filepath.Join(dir, "kg.db")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f1+"-wal", []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := DiskUsageBytes(f1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("file with wal: got %d bytes, want 7", got)
	}

	sub := filepath.Join(dir, "bm25")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "bm25.gob"), []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = DiskUsageBytes(sub)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("directory: got %d bytes, want 3", got)
	}

	got, err = DiskUsageBytes(filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("missing paths: got %d, want 0", got)
	}
}

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	if err := os.WriteFile(a, []byte("1234"), 0644); err != nil {
		t.Fatal(err)
	}
	usage, total, err := DiskUsage(map[string]string{"sparse": a, "dense": filepath.Join(dir, "none")})
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if len(usage) != 2 || usage[0].Name != "dense" || usage[1].Bytes != 4 {
		t.Errorf("usage = %+v", usage)
	}
}
