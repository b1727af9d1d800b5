package fileid

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/tiku/internal/models"
)

func TestDocID(t *testing.T) {
	// Deterministic: same path gives same ID
	id1 := DocID("/foo/bar.md")
	id2 := DocID("/foo/bar.md")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, "bar-") {
		t.Errorf("ID should start with the slugged name: got %q", id1)
	}
	if len(id1) != len("bar-")+hashLen {
		t.Errorf("unexpected ID length: %q", id1)
	}
}

func TestDocID_differentPaths(t *testing.T) {
	id1 := DocID("/foo/bar.md")
	id2 := DocID("/baz/bar.md")
	if id1 == id2 {
		t.Errorf("different paths should give different IDs: %q", id1)
	}
}

func TestDocID_normalized(t *testing.T) {
	// Clean path: /foo/bar and /foo/bar/ and /foo/./bar should match
	id1 := DocID("/foo/bar")
	id2 := DocID("/foo/bar/")
	id3 := DocID("/foo/./bar")
	if id1 != id2 {
		t.Errorf("paths differing only by trailing slash should match: %q vs %q", id1, id2)
	}
	if id1 != id3 {
		t.Errorf("paths with . should normalize: %q vs %q", id1, id3)
	}
}

func TestDocID_absoluteFromFilepath(t *testing.T) {
	abs, _ := filepath.Abs("教材 第一册.md")
	id := DocID(abs)
	if !strings.HasPrefix(id, "教材_第一册-") {
		t.Errorf("unexpected ID: %q", id)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Econ Ch1":     "econ_ch1",
		"a  b..c":      "a_b_c",
		"林业 经济学":       "林业_经济学",
		"***":          "doc",
		"keep-this_id": "keep-this_id",
		"trailing!!":   "trailing",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSourceTypeFor(t *testing.T) {
	if SourceTypeFor("deck.PPTX") != models.SourceSlides {
		t.Error("pptx should be slides")
	}
	if SourceTypeFor("book.md") != models.SourceTextbook || SourceTypeFor("scan.pdf") != models.SourceTextbook {
		t.Error("md and pdf should default to textbook")
	}
}
