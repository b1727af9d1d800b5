package keyword

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// IndexFile is the name of the persisted sparse index inside its directory.
const IndexFile = "bm25.gob"

const (
	defaultK1 = 1.5
	defaultB  = 0.75
	// fileVersion guards against decoding a file written by an incompatible layout.
	fileVersion = 1
)

// rankState is the Okapi BM25 corpus statistics, one entry per chunk.
type rankState struct {
	K1        float64
	B         float64
	AvgDocLen float64
	DocFreq   map[string]int
	TermFreqs []map[string]int
	DocLens   []int
}

type posting struct {
	doc int
	tf  int
}

// snapshot is an immutable index generation. Searches hold one while a
// rebuild prepares the next.
type snapshot struct {
	state    rankState
	chunkIDs []string
	payload  map[string]*models.Chunk
	postings map[string][]posting
}

// indexFile is the on-disk layout: rank state, ordered chunk ids and payload map.
type indexFile struct {
	Version  int
	State    rankState
	ChunkIDs []string
	Payload  map[string]*models.Chunk
}

// BM25Index is a file-backed SparseIndex.
type BM25Index struct {
	path      string
	tokenizer *Tokenizer
	k1, b     float64
	logger    *zap.Logger

	mu   sync.Mutex // serializes rebuilds
	snap atomic.Pointer[snapshot]
}

// Option configures a BM25Index.
type Option func(*BM25Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *BM25Index) {
		x.logger = l
	}
}

// WithParameters overrides the BM25 k1 and b parameters.
func WithParameters(k1, b float64) Option {
	return func(x *BM25Index) {
		x.k1 = k1
		x.b = b
	}
}

// OpenBM25Index opens the index under dir, loading the persisted file if present.
func OpenBM25Index(dir string, tokenizer *Tokenizer, opts ...Option) (*BM25Index, error) {
	if tokenizer == nil {
		return nil, errors.New("tokenizer is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sparse index directory: %w", err)
	}
	x := &BM25Index{
		path:      filepath.Join(dir, IndexFile),
		tokenizer: tokenizer,
		k1:        defaultK1,
		b:         defaultB,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = utils.OrNop(x.logger)

	snap, err := x.load()
	if err != nil {
		return nil, err
	}
	x.snap.Store(snap)
	return x, nil
}

// Tokenizer returns the tokenizer queries must be segmented with.
func (x *BM25Index) Tokenizer() *Tokenizer {
	return x.tokenizer
}

func (x *BM25Index) load() (*snapshot, error) {
	f, err := os.Open(x.path)
	if errors.Is(err, os.ErrNotExist) {
		return x.build(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open sparse index: %w", err)
	}
	defer f.Close()

	var file indexFile
	if err := gob.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode sparse index %s: %w", x.path, err)
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("sparse index %s has version %d, expected %d; run rebuild", x.path, file.Version, fileVersion)
	}
	snap := &snapshot{state: file.State, chunkIDs: file.ChunkIDs, payload: file.Payload}
	if snap.payload == nil {
		snap.payload = make(map[string]*models.Chunk)
	}
	snap.postings = buildPostings(snap.state.TermFreqs)
	x.logger.Debug("sparse index loaded", zap.String("path", x.path), zap.Int("chunks", len(snap.chunkIDs)))
	return snap, nil
}

// build computes a fresh snapshot from chunks in the given order.
func (x *BM25Index) build(chunks []*models.Chunk) *snapshot {
	snap := &snapshot{
		state: rankState{
			K1:      x.k1,
			B:       x.b,
			DocFreq: make(map[string]int),
		},
		chunkIDs: make([]string, 0, len(chunks)),
		payload:  make(map[string]*models.Chunk, len(chunks)),
	}
	total := 0
	for _, c := range chunks {
		tokens := x.tokenizer.Tokenize(c.LexicalInput())
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			snap.state.DocFreq[term]++
		}
		snap.state.TermFreqs = append(snap.state.TermFreqs, tf)
		snap.state.DocLens = append(snap.state.DocLens, len(tokens))
		snap.chunkIDs = append(snap.chunkIDs, c.ChunkID)
		snap.payload[c.ChunkID] = c
		total += len(tokens)
	}
	if len(chunks) > 0 {
		snap.state.AvgDocLen = float64(total) / float64(len(chunks))
	}
	snap.postings = buildPostings(snap.state.TermFreqs)
	return snap
}

func buildPostings(termFreqs []map[string]int) map[string][]posting {
	postings := make(map[string][]posting)
	for doc, tf := range termFreqs {
		for term, n := range tf {
			postings[term] = append(postings[term], posting{doc: doc, tf: n})
		}
	}
	return postings
}

// Rebuild replaces the index with one built from chunks, writes it to a temp file
// and renames it over the previous file. Readers see either generation, never a mix.
func (x *BM25Index) Rebuild(ctx context.Context, chunks []*models.Chunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.ChunkID] {
			return fmt.Errorf("duplicate chunk id %s in rebuild input", c.ChunkID)
		}
		seen[c.ChunkID] = true
	}
	snap := x.build(chunks)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := x.persist(snap); err != nil {
		return err
	}
	x.snap.Store(snap)
	x.logger.Debug("sparse index rebuilt", zap.Int("chunks", len(chunks)), zap.Int("terms", len(snap.state.DocFreq)))
	return nil
}

func (x *BM25Index) persist(snap *snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(x.path), "bm25-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	file := indexFile{Version: fileVersion, State: snap.state, ChunkIDs: snap.chunkIDs, Payload: snap.payload}
	if err := gob.NewEncoder(tmp).Encode(&file); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode sparse index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync sparse index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close sparse index: %w", err)
	}
	if err := os.Rename(tmpName, x.path); err != nil {
		return fmt.Errorf("failed to replace sparse index: %w", err)
	}
	return nil
}

// Search scores chunks against tokens with Okapi BM25 and returns the top k
// passing f. Equal scores keep corpus order.
func (x *BM25Index) Search(ctx context.Context, tokens []string, k int, f *models.Filters) ([]*Hit, error) {
	snap := x.snap.Load()
	if k <= 0 || len(tokens) == 0 || len(snap.chunkIDs) == 0 {
		return nil, nil
	}
	scores := snap.score(tokens)

	docs := make([]int, 0, len(scores))
	for doc := range scores {
		docs = append(docs, doc)
	}
	sort.Ints(docs)

	hits := make([]*Hit, 0, len(docs))
	for _, doc := range docs {
		if scores[doc] <= 0 {
			continue
		}
		c := snap.payload[snap.chunkIDs[doc]]
		if !f.Match(c) {
			continue
		}
		hits = append(hits, &Hit{Chunk: c, Score: scores[doc]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchText tokenizes query and searches.
func (x *BM25Index) SearchText(ctx context.Context, query string, k int, f *models.Filters) ([]*Hit, error) {
	return x.Search(ctx, x.tokenizer.Tokenize(query), k, f)
}

func (s *snapshot) score(tokens []string) map[int]float64 {
	n := float64(len(s.chunkIDs))
	st := &s.state
	scores := make(map[int]float64)
	for _, term := range tokens {
		df := float64(st.DocFreq[term])
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range s.postings[term] {
			tf := float64(p.tf)
			norm := 1 - st.B
			if st.AvgDocLen > 0 {
				norm += st.B * float64(st.DocLens[p.doc]) / st.AvgDocLen
			}
			scores[p.doc] += idf * tf * (st.K1 + 1) / (tf + st.K1*norm)
		}
	}
	return scores
}

// Get returns the payload of a chunk by id.
func (x *BM25Index) Get(chunkID string) (*models.Chunk, bool) {
	c, ok := x.snap.Load().payload[chunkID]
	return c, ok
}

// Count returns the number of indexed chunks passing f.
func (x *BM25Index) Count(f *models.Filters) int {
	snap := x.snap.Load()
	if f == nil {
		return len(snap.chunkIDs)
	}
	n := 0
	for _, id := range snap.chunkIDs {
		if f.Match(snap.payload[id]) {
			n++
		}
	}
	return n
}

// Close is a no-op; the index holds no open files between rebuilds.
func (x *BM25Index) Close() error {
	return nil
}
