package ocr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Artifact names inside an OCR output directory.
const (
	CheckpointFile = "checkpoint.json"
	ChunksDir      = "_chunks"
	ImagesDir      = "images"
	ResultFile     = "result.md"
)

// ChunkPath is the cache file of chunk i.
func ChunkPath(outDir string, i int) string {
	return filepath.Join(outDir, ChunksDir, fmt.Sprintf("chunk_%03d.md", i))
}

// LoadCheckpoint reads the checkpoint of outDir. A missing file yields nil
// without error.
func LoadCheckpoint(outDir string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(outDir, CheckpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint writes cp with Done sorted and deduplicated.
func SaveCheckpoint(outDir string, cp *models.Checkpoint) error {
	sort.Ints(cp.Done)
	done := cp.Done[:0]
	for i, d := range cp.Done {
		if i == 0 || d != cp.Done[i-1] {
			done = append(done, d)
		}
	}
	cp.Done = done
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(filepath.Join(outDir, CheckpointFile), data, 0644)
}

// isDone reports whether chunk i is recorded and its cache file still exists.
func isDone(outDir string, cp *models.Checkpoint, i int) bool {
	k := sort.SearchInts(cp.Done, i)
	if k == len(cp.Done) || cp.Done[k] != i {
		return false
	}
	_, err := os.Stat(ChunkPath(outDir, i))
	return err == nil
}
