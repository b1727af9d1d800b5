// Package indexer keeps the dense store, the sparse index and the chunk table
// in step: ingestion, deletion and rebuild all go through here.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/chunker"
	"github.com/hyperjump/tiku/internal/embedding"
	"github.com/hyperjump/tiku/internal/fileid"
	"github.com/hyperjump/tiku/internal/keyword"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/internal/vector"
	"github.com/hyperjump/tiku/pkg/utils"
)

// ErrIngestInProgress is returned when a second write for a doc_id starts
// before the first one finished.
var ErrIngestInProgress = errors.New("ingest already in progress for document")

// Counts reports how many chunks of a document each store holds.
// After a successful write all three are equal.
type Counts struct {
	Dense  int `json:"dense"`
	Sparse int `json:"sparse"`
	Table  int `json:"table"`
}

// Consistent reports whether all three stores agree.
func (c Counts) Consistent() bool {
	return c.Dense == c.Sparse && c.Sparse == c.Table
}

// Indexer owns the write path of the dual index. Writes are serialized;
// searches may run concurrently with them.
type Indexer struct {
	store     storage.Storage
	dense     vector.DenseStore
	sparse    keyword.SparseIndex
	tokenizer *keyword.Tokenizer
	embedder  embedding.Embedder
	chunkOpts chunker.Options
	logger    *zap.Logger

	writeMu  sync.Mutex
	activeMu sync.Mutex
	active   map[string]struct{}
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (document ingested, deleted, rebuilt).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithChunkOptions sets the chunk size bounds used by Ingest.
func WithChunkOptions(o chunker.Options) IndexerOption {
	return func(idx *Indexer) { idx.chunkOpts = o }
}

// NewIndexer creates an indexer over shared store handles. The same handles
// must be given to the retriever; the dense store allows one handle per process.
func NewIndexer(
	store storage.Storage,
	dense vector.DenseStore,
	sparse keyword.SparseIndex,
	tokenizer *keyword.Tokenizer,
	embedder embedding.Embedder,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		store:     store,
		dense:     dense,
		sparse:    sparse,
		tokenizer: tokenizer,
		embedder:  embedder,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// begin claims docID for one write. The returned func releases it.
func (idx *Indexer) begin(docID string) (func(), error) {
	idx.activeMu.Lock()
	defer idx.activeMu.Unlock()
	if _, busy := idx.active[docID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrIngestInProgress, docID)
	}
	idx.active[docID] = struct{}{}
	return func() {
		idx.activeMu.Lock()
		delete(idx.active, docID)
		idx.activeMu.Unlock()
	}, nil
}

// Ingest chunks markdown with the strategy for sourceType, embeds the chunks
// and upserts them. Input that yields no chunks is rejected without touching
// any store.
func (idx *Indexer) Ingest(ctx context.Context, docID string, sourceType models.SourceType, markdown string) ([]*models.Chunk, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return nil, fmt.Errorf("doc_id: %w", models.ErrEmptyInput)
	}
	c, err := chunker.New(sourceType, idx.chunkOpts)
	if err != nil {
		return nil, err
	}
	chunks := c.Chunk(docID, markdown)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks: %w", docID, models.ErrEmptyInput)
	}
	inputs := make([]string, len(chunks))
	for i, ch := range chunks {
		inputs[i] = ch.EmbeddingInput()
	}
	vectors, err := idx.embedder.EmbedChunks(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if err := idx.Upsert(ctx, docID, chunks, vectors); err != nil {
		return nil, err
	}
	return chunks, nil
}

// Upsert replaces every chunk of docID. Order: delete from the dense store,
// delete chunk rows, write vectors, write chunk rows, rebuild the sparse index
// from the chunk table. A failed rebuild leaves the sparse index stale; Rebuild
// or a repeated Upsert recovers it.
func (idx *Indexer) Upsert(ctx context.Context, docID string, chunks []*models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for _, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("chunk %s belongs to %q, not %q", c.ChunkID, c.DocID, docID)
		}
	}
	release, err := idx.begin(docID)
	if err != nil {
		return err
	}
	defer release()
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.logger.Debug("indexer upserting document", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))
	if _, err := idx.dense.DeleteDoc(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete from dense store: %w", err)
	}
	if err := idx.store.DeleteChunks(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{ID: vector.PointID(c.ChunkID), Vector: vectors[i], Chunk: c}
	}
	if err := idx.dense.Upsert(ctx, points); err != nil {
		return fmt.Errorf("failed to write dense store: %w", err)
	}
	if err := idx.store.ReplaceChunks(ctx, docID, chunks); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	if err := idx.rebuildLocked(ctx); err != nil {
		return err
	}
	idx.logger.Debug("indexer document upserted", zap.String("doc_id", docID))
	return nil
}

// Delete removes docID from the dense store, the chunk table with its
// knowledge-graph chapters and the sparse index. A separate KG-only store is
// not touched; app.Components.DeleteDocument clears both. Deleting an absent
// document succeeds.
func (idx *Indexer) Delete(ctx context.Context, docID string) error {
	release, err := idx.begin(docID)
	if err != nil {
		return err
	}
	defer release()
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.logger.Debug("indexer deleting document", zap.String("doc_id", docID))
	n, err := idx.dense.DeleteDoc(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to delete from dense store: %w", err)
	}
	if err := idx.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := idx.rebuildLocked(ctx); err != nil {
		return err
	}
	idx.logger.Debug("indexer document deleted", zap.String("doc_id", docID), zap.Int("points", n))
	return nil
}

// Rebuild regenerates the sparse index from the chunk table.
func (idx *Indexer) Rebuild(ctx context.Context) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	return idx.rebuildLocked(ctx)
}

func (idx *Indexer) rebuildLocked(ctx context.Context) error {
	all, err := idx.store.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if err := idx.sparse.Rebuild(ctx, all); err != nil {
		return fmt.Errorf("failed to rebuild sparse index: %w", err)
	}
	idx.logger.Debug("indexer sparse index rebuilt", zap.Int("chunks", len(all)))
	return nil
}

// DenseSearch ranks the stored vectors against q.
func (idx *Indexer) DenseSearch(ctx context.Context, q []float32, k int, f *models.Filters) ([]*vector.Hit, error) {
	return idx.dense.Search(ctx, q, k, f)
}

// SparseSearch ranks chunks against already-tokenized query terms.
func (idx *Indexer) SparseSearch(ctx context.Context, tokens []string, k int, f *models.Filters) ([]*keyword.Hit, error) {
	return idx.sparse.Search(ctx, tokens, k, f)
}

// Tokenize applies the sparse index's segmenter to a query.
func (idx *Indexer) Tokenize(text string) []string {
	return idx.tokenizer.Tokenize(text)
}

// EmbedQuery embeds a search query with the indexing model.
func (idx *Indexer) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return idx.embedder.EmbedQuery(ctx, query)
}

// GetByChunkID returns a chunk from the dense payload, falling back to the
// chunk table. Missing ids return storage.ErrNotFound.
func (idx *Indexer) GetByChunkID(ctx context.Context, chunkID string) (*models.Chunk, error) {
	if c, ok := idx.dense.Get(ctx, chunkID); ok {
		return c, nil
	}
	return idx.store.GetChunk(ctx, chunkID)
}

// Counts reports per-store chunk counts for docID, or for the whole corpus
// when docID is empty.
func (idx *Indexer) Counts(ctx context.Context, docID string) (Counts, error) {
	var f *models.Filters
	if docID != "" {
		f = &models.Filters{DocIDs: []string{docID}}
	}
	table, err := idx.store.CountChunks(ctx, docID)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	return Counts{
		Dense:  idx.dense.Count(ctx, f),
		Sparse: idx.sparse.Count(f),
		Table:  table,
	}, nil
}

// Documents lists ingested documents with their chunk counts.
func (idx *Indexer) Documents(ctx context.Context) ([]storage.DocumentInfo, error) {
	return idx.store.ListDocuments(ctx)
}

// IndexFile ingests a Markdown file under its path-derived doc_id. If
// allowedExts is non-empty the extension must be in it (case-insensitive).
func (idx *Indexer) IndexFile(ctx context.Context, path string, sourceType models.SourceType, allowedExts []string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return "", fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	docID := fileid.DocID(absPath)
	if _, err := idx.Ingest(ctx, docID, sourceType, string(content)); err != nil {
		return "", err
	}
	idx.logger.Debug("indexer file indexed", zap.String("path", absPath), zap.String("doc_id", docID))
	return docID, nil
}

// IndexDirectory walks dir and ingests each regular file whose extension is in
// allowedExts, using fileid.SourceTypeFor per file. Files that yield no chunks
// are skipped. Returns the number of files indexed and the first error.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, indexErr := idx.IndexFile(ctx, path, fileid.SourceTypeFor(path), allowedExts); indexErr != nil {
			if errors.Is(indexErr, models.ErrEmptyInput) {
				idx.logger.Debug("indexer skipping file without chunks", zap.String("path", path))
				return nil
			}
			return indexErr
		}
		n++
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
