// Package chunker turns textbook and slide-deck Markdown into linked paragraph chunks.
package chunker

import (
	"fmt"

	"github.com/hyperjump/tiku/internal/models"
)

// Default size bounds, in runes.
const (
	DefaultMaxChars      = 600
	DefaultMinChars      = 80
	DefaultMinSlideChars = 5
)

// Chunker turns one Markdown document into chunks in document order.
// Empty or heading-less input yields an empty list, never an error.
type Chunker interface {
	Chunk(docID, markdown string) []*models.Chunk
}

// Options bounds chunk sizes. Zero values take the defaults.
type Options struct {
	MaxChars      int
	MinChars      int
	MinSlideChars int
}

func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MinChars <= 0 {
		o.MinChars = DefaultMinChars
	}
	if o.MinChars > o.MaxChars {
		o.MinChars = o.MaxChars
	}
	if o.MinSlideChars <= 0 {
		o.MinSlideChars = DefaultMinSlideChars
	}
	return o
}

// New returns the strategy for sourceType.
func New(sourceType models.SourceType, opts Options) (Chunker, error) {
	switch sourceType {
	case models.SourceTextbook:
		return NewTextbook(opts), nil
	case models.SourceSlides:
		return NewSlides(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnknownSourceType, sourceType)
}

// span is one run of body text under a single breadcrumb: a textbook
// section or a slide page.
type span struct {
	chapterNum  int
	chapterName string
	sectionNum  int
	sectionName string
	header      string
	body        string
}

// assemble splits every span into paragraphs, normalizes their sizes, assigns
// positional ids and links the result.
func assemble(docID string, sourceType models.SourceType, spans []span, opts Options) []*models.Chunk {
	var chunks []*models.Chunk
	seen := make(map[string]int)
	for _, sp := range spans {
		paras := Normalize(SplitParagraphs(sp.body), opts.MinChars, opts.MaxChars)
		for i, text := range paras {
			id := ChunkID(docID, sp.chapterNum, sp.sectionNum, i)
			if n := seen[id]; n > 0 {
				seen[id] = n + 1
				id = fmt.Sprintf("%s-%d", id, n+1)
			} else {
				seen[id] = 1
			}
			chunks = append(chunks, &models.Chunk{
				ChunkID:       id,
				DocID:         docID,
				SourceType:    sourceType,
				Level:         models.LevelParagraph,
				ChapterNum:    sp.chapterNum,
				ChapterName:   sp.chapterName,
				SectionNum:    sp.sectionNum,
				SectionName:   sp.sectionName,
				Text:          text,
				ContextHeader: sp.header,
			})
		}
	}
	Link(chunks)
	return chunks
}

// ChunkID is the positional id of the index-th paragraph of a section.
func ChunkID(docID string, chapter, section, index int) string {
	return fmt.Sprintf("%s:c%d:s%d:p%d", docID, chapter, section, index)
}

// Link sets PrevID and NextID so chunks form one chain in slice order.
func Link(chunks []*models.Chunk) {
	for i, c := range chunks {
		c.PrevID, c.NextID = "", ""
		if i > 0 {
			c.PrevID = chunks[i-1].ChunkID
		}
		if i < len(chunks)-1 {
			c.NextID = chunks[i+1].ChunkID
		}
	}
}

func breadcrumb(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " > "
		}
		out += p
	}
	return out
}
