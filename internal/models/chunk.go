// Package models defines core data structures for chunks, knowledge-graph records, and tasks.
package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput is returned when an operation receives no usable content.
	ErrEmptyInput = errors.New("empty input")
	// ErrUnknownSourceType is returned for a source type outside {textbook, slides}.
	ErrUnknownSourceType = errors.New("unknown source type")
)

// SourceType is the kind of material a document was ingested from.
type SourceType string

const (
	SourceTextbook SourceType = "textbook"
	SourceSlides   SourceType = "slides"
)

// ParseSourceType validates s and returns the matching SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceTextbook:
		return SourceTextbook, nil
	case SourceSlides:
		return SourceSlides, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, s)
}

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	return t == SourceTextbook || t == SourceSlides
}

// LevelParagraph is the only chunk granularity produced today.
const LevelParagraph = "paragraph"

// Chunk is the unit of retrieval: one paragraph-level span of a document.
type Chunk struct {
	ChunkID       string     `json:"chunk_id"`
	DocID         string     `json:"doc_id"`
	SourceType    SourceType `json:"source_type"`
	Level         string     `json:"level"`
	ChapterNum    int        `json:"chapter_num"`
	ChapterName   string     `json:"chapter_name"`
	SectionNum    int        `json:"section_num"`
	SectionName   string     `json:"section_name"`
	Text          string     `json:"text"`
	ContextHeader string     `json:"context_header"`
	PrevID        string     `json:"prev_id,omitempty"`
	NextID        string     `json:"next_id,omitempty"`
}

// EmbeddingInput is the text fed to the dense embedder.
func (c *Chunk) EmbeddingInput() string {
	if c.ContextHeader == "" {
		return c.Text
	}
	return c.ContextHeader + "\n\n" + c.Text
}

// LexicalInput is the text fed to the sparse tokenizer.
func (c *Chunk) LexicalInput() string {
	if c.ContextHeader == "" {
		return c.Text
	}
	return c.ContextHeader + " " + c.Text
}

// Filters restricts a search. Every set field must match (conjunction).
type Filters struct {
	DocIDs     []string   `json:"doc_ids,omitempty"`
	SourceType SourceType `json:"source_type,omitempty"`
	ChapterNum *int       `json:"chapter_num,omitempty"`
}

// Match reports whether c passes every set filter.
func (f *Filters) Match(c *Chunk) bool {
	if f == nil {
		return true
	}
	if len(f.DocIDs) > 0 {
		found := false
		for _, id := range f.DocIDs {
			if id == c.DocID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SourceType != "" && f.SourceType != c.SourceType {
		return false
	}
	if f.ChapterNum != nil && *f.ChapterNum != c.ChapterNum {
		return false
	}
	return true
}

// IntPtr returns a pointer to v, for building Filters literals.
func IntPtr(v int) *int {
	return &v
}
