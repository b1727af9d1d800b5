package chunker

import (
	"strings"
	"testing"

	"github.com/hyperjump/tiku/internal/models"
)

const slidesFixture = `# 林业经济学

## Page 1

林业经济学导论

## Page 2

![cover](images/p2.png)

## Page 3

<div>木材价格受市场供求影响。</div>
![chart](images/p3.png)

## Page 4

森林资源的可持续经营。
`

func TestParsePages(t *testing.T) {
	pages := ParsePages(slidesFixture)
	if len(pages) != 4 {
		t.Fatalf("len(pages) = %d, want 4", len(pages))
	}
	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("page %d Number = %d", i, p.Number)
		}
	}
	if strings.Contains(pages[0].Body, "Page") {
		t.Errorf("page body should not include the marker: %q", pages[0].Body)
	}
}

func TestCleanSlideText(t *testing.T) {
	got := CleanSlideText("<p>木材   价格</p>\n![x](a.png)\n\n\n\n下一行")
	if got != "木材 价格\n\n下一行" {
		t.Errorf("CleanSlideText = %q", got)
	}
}

func TestSlides_Chunk(t *testing.T) {
	chunks := NewSlides(Options{}).Chunk("deck", slidesFixture)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3 (image-only page dropped)", len(chunks))
	}
	var page3 *models.Chunk
	for _, c := range chunks {
		if c.SourceType != models.SourceSlides || c.ChapterNum != 0 || c.ChapterName != "林业经济学" {
			t.Errorf("unexpected metadata: %+v", c)
		}
		if c.SectionNum == 2 {
			t.Error("image-only page 2 should be dropped")
		}
		if c.SectionNum == 3 {
			page3 = c
		}
	}
	if page3 == nil {
		t.Fatal("page 3 chunk missing")
	}
	if page3.Text != "木材价格受市场供求影响。" {
		t.Errorf("page 3 text = %q", page3.Text)
	}
	if page3.SectionName != "Slide 3" || page3.ContextHeader != "林业经济学 > Slide 3" {
		t.Errorf("page 3 names = %q / %q", page3.SectionName, page3.ContextHeader)
	}
	if page3.ChunkID != "deck:c0:s3:p0" {
		t.Errorf("page 3 id = %q", page3.ChunkID)
	}
	if chunks[0].NextID != chunks[1].ChunkID || chunks[2].PrevID != chunks[1].ChunkID {
		t.Error("slide chunks should be linked in page order")
	}
}

func TestSlides_TitleFallsBackToDocID(t *testing.T) {
	chunks := NewSlides(Options{}).Chunk("deck-7", "## Page 1\n\nHello slides world")
	if len(chunks) != 1 || chunks[0].ChapterName != "deck-7" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestSlides_DuplicatePageNumbers(t *testing.T) {
	chunks := NewSlides(Options{}).Chunk("d", "## Page 1\n\nfirst copy\n\n## Page 1\n\nsecond copy")
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].ChunkID == chunks[1].ChunkID {
		t.Error("colliding positions should still produce unique ids")
	}
}
