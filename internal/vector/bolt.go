package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// ErrStoreLocked is returned when another process holds the store file.
var ErrStoreLocked = errors.New("vector store is locked by another process")

var metaBucket = []byte("_meta")

const (
	metaDimension = "dimension"
	metaDistance  = "distance"
	storeFile     = "vectors.db"
)

// BoltStore persists points in a bbolt file and serves searches from memory.
// bbolt takes an exclusive file lock, so a process may hold only one handle
// to a given directory.
type BoltStore struct {
	mu     sync.Mutex
	db     *bolt.DB
	mem    *MemoryStore
	logger *zap.Logger
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BoltOption {
	return func(s *BoltStore) {
		s.logger = l
	}
}

// OpenBoltStore opens or creates the store under dir and loads every point.
func OpenBoltStore(dir string, opts ...BoltOption) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, storeFile), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrStoreLocked, dir)
		}
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	s := &BoltStore{db: db, mem: NewMemoryStore(0), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("vector store opened",
		zap.String("collection", CollectionName), zap.Int("dimension", s.mem.Dimensions()), zap.Int("points", s.mem.Count(context.Background(), nil)))
	return s, nil
}

type storedPoint struct {
	seq   uint64
	point Point
}

// load reads every point from disk and replaces the in-memory copy.
func (s *BoltStore) load() error {
	mem := NewMemoryStore(0)
	var stored []storedPoint
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if meta.Get([]byte(metaDistance)) == nil {
			if err := meta.Put([]byte(metaDistance), []byte("cosine")); err != nil {
				return err
			}
		}
		if v := meta.Get([]byte(metaDimension)); v != nil {
			mem.dimensions = int(binary.BigEndian.Uint32(v))
		}
		b, err := tx.CreateBucketIfNotExists([]byte(CollectionName))
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			seq, p, err := decodePoint(k, v)
			if err != nil {
				return err
			}
			stored = append(stored, storedPoint{seq: seq, point: p})
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to load vector store: %w", err)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })
	points := make([]Point, len(stored))
	for i, sp := range stored {
		points[i] = sp.point
	}
	if err := mem.upsertLocked(points); err != nil {
		return fmt.Errorf("failed to load vector store: %w", err)
	}
	s.mem.mu.Lock()
	s.mem.dimensions, s.mem.order, s.mem.points, s.mem.byChunk = mem.dimensions, mem.order, mem.points, mem.byChunk
	s.mem.mu.Unlock()
	return nil
}

// resync rebuilds the in-memory copy from disk after the two diverged.
func (s *BoltStore) resync(cause error) error {
	s.logger.Warn("vector mirror update failed, reloading from disk", zap.Error(cause))
	if err := s.load(); err != nil {
		return fmt.Errorf("%v; reload also failed: %w", cause, err)
	}
	return cause
}

// Type returns the store type identifier.
func (s *BoltStore) Type() string {
	return string(StoreTypeBolt)
}

// Upsert writes points in batches of WriteBatchSize, one bbolt transaction per batch.
// The first write fixes the collection dimension.
// The in-memory copy is only touched after a batch commits and is reloaded
// from disk when that update fails.
func (s *BoltStore) Upsert(ctx context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for start := 0; start < len(points); start += WriteBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + WriteBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		if err := s.writeBatch(batch); err != nil {
			return err
		}
		if err := s.mem.Upsert(ctx, batch); err != nil {
			return s.resync(err)
		}
		s.logger.Debug("vector batch written", zap.Int("offset", start), zap.Int("size", len(batch)))
	}
	return nil
}

func (s *BoltStore) writeBatch(batch []Point) error {
	dim := s.mem.Dimensions()
	for _, p := range batch {
		if dim == 0 {
			dim = len(p.Vector)
		}
		if len(p.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(p.Vector), dim)
		}
		if p.Chunk == nil {
			return fmt.Errorf("point %d has no payload", p.ID)
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta.Get([]byte(metaDimension)) == nil {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(dim))
			if err := meta.Put([]byte(metaDimension), buf[:]); err != nil {
				return err
			}
		}
		b := tx.Bucket([]byte(CollectionName))
		for _, p := range batch {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			v, err := encodePoint(seq, p)
			if err != nil {
				return err
			}
			if err := b.Put(pointKey(p.ID), v); err != nil {
				return fmt.Errorf("failed to write point %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

// DeleteDoc removes every point of docID from disk, then from memory.
func (s *BoltStore) DeleteDoc(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.mu.RLock()
	ids := s.mem.docPointsLocked(docID)
	s.mem.mu.RUnlock()
	if len(ids) == 0 {
		return 0, nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CollectionName))
		for _, id := range ids {
			if err := b.Delete(pointKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete points of %s: %w", docID, err)
	}
	n, err := s.mem.DeleteDoc(ctx, docID)
	if err != nil {
		return 0, s.resync(err)
	}
	return n, nil
}

// Search delegates to the in-memory copy.
func (s *BoltStore) Search(ctx context.Context, query []float32, k int, f *models.Filters) ([]*Hit, error) {
	return s.mem.Search(ctx, query, k, f)
}

// Get returns the payload of a chunk by id.
func (s *BoltStore) Get(ctx context.Context, chunkID string) (*models.Chunk, bool) {
	return s.mem.Get(ctx, chunkID)
}

// Count returns the number of points passing f.
func (s *BoltStore) Count(ctx context.Context, f *models.Filters) int {
	return s.mem.Count(ctx, f)
}

// Dimensions returns the collection dimension, 0 before the first write.
func (s *BoltStore) Dimensions() int {
	return s.mem.Dimensions()
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func pointKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

// encodePoint lays out seq (8) | dim (4) | vector (dim*4, little endian) | payload JSON.
func encodePoint(seq uint64, p Point) ([]byte, error) {
	payload, err := json.Marshal(p.Chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	out := make([]byte, 12+len(p.Vector)*4+len(payload))
	binary.BigEndian.PutUint64(out[0:8], seq)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(p.Vector)))
	for i, v := range p.Vector {
		binary.LittleEndian.PutUint32(out[12+i*4:], math.Float32bits(v))
	}
	copy(out[12+len(p.Vector)*4:], payload)
	return out, nil
}

func decodePoint(k, v []byte) (uint64, Point, error) {
	if len(k) != 8 || len(v) < 12 {
		return 0, Point{}, fmt.Errorf("corrupt point record")
	}
	seq := binary.BigEndian.Uint64(v[0:8])
	dim := int(binary.BigEndian.Uint32(v[8:12]))
	if len(v) < 12+dim*4 {
		return 0, Point{}, fmt.Errorf("corrupt point record: short vector")
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(v[12+i*4:]))
	}
	var c models.Chunk
	if err := json.Unmarshal(v[12+dim*4:], &c); err != nil {
		return 0, Point{}, fmt.Errorf("corrupt point payload: %w", err)
	}
	return seq, Point{ID: binary.BigEndian.Uint64(k), Vector: vec, Chunk: &c}, nil
}
