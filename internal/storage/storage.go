// Package storage defines the relational persistence of chunks and the knowledge graph.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/tiku/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DocumentInfo summarizes one document in the authoritative chunk table.
type DocumentInfo struct {
	DocID      string            `json:"doc_id"`
	SourceType models.SourceType `json:"source_type"`
	Chunks     int               `json:"chunks"`
}

// ChunkStore is the authoritative chunk table every index is rebuilt from.
type ChunkStore interface {
	// ReplaceChunks deletes the document's rows and inserts chunks in one transaction.
	ReplaceChunks(ctx context.Context, docID string, chunks []*models.Chunk) error
	DeleteChunks(ctx context.Context, docID string) error
	GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error)
	// AllChunks returns every chunk ordered by document then position.
	AllChunks(ctx context.Context) ([]*models.Chunk, error)
	DocumentChunks(ctx context.Context, docID string) ([]*models.Chunk, error)
	// CountChunks counts rows for docID, or all rows when docID is empty.
	CountChunks(ctx context.Context, docID string) (int, error)
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)
}

// ChapterGraph is one chapter with the concepts and edges extracted from it.
// Edges reference concepts by name.
type ChapterGraph struct {
	Chapter  *models.Chapter
	Concepts []*models.Concept
	Edges    []Edge
}

// Edge is a named relation between two concepts of the same chapter.
type Edge struct {
	From string
	To   string
	Type models.RelationType
}

// GraphStore persists the knowledge-graph overlay.
type GraphStore interface {
	// SaveGraph writes a chapter, its concepts and relations in one transaction.
	SaveGraph(ctx context.Context, g *ChapterGraph) error
	DeleteGraph(ctx context.Context, docID string) error
	DeleteChapter(ctx context.Context, chapterID int64) error
	GetChapter(ctx context.Context, chapterID int64) (*models.Chapter, error)
	Chapters(ctx context.Context, docID string) ([]*models.Chapter, error)
	Concepts(ctx context.Context, chapterID int64) ([]*models.Concept, error)
	Relations(ctx context.Context, chapterID int64) ([]*models.Relation, error)
	QueryConcepts(ctx context.Context, f models.ConceptFilter) ([]*models.ConceptView, error)
}

// Storage is the full kg.db surface.
type Storage interface {
	ChunkStore
	GraphStore
	// DeleteDocument removes chunks and every chapter of docID.
	DeleteDocument(ctx context.Context, docID string) error
	Close() error
}
