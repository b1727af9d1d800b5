package vector

import (
	"fmt"

	"go.uber.org/zap"
)

// StoreType represents the kind of dense store to open.
type StoreType string

const (
	// StoreTypeBolt persists points on disk under a directory. The default.
	StoreTypeBolt StoreType = "bolt"
	// StoreTypeMemory keeps points in memory only. Good for tests.
	StoreTypeMemory StoreType = "memory"
)

// NewDenseStore opens a dense store of the given type. dir is ignored for memory stores.
func NewDenseStore(storeType, dir string, logger *zap.Logger) (DenseStore, error) {
	switch StoreType(storeType) {
	case StoreTypeBolt, "":
		return OpenBoltStore(dir, WithLogger(logger))
	case StoreTypeMemory:
		return NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("unknown vector store type: %s (supported: bolt, memory)", storeType)
	}
}
