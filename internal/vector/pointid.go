package vector

import "github.com/cespare/xxhash/v2"

// PointID maps a chunk id to the store's integer id: xxhash64 truncated to 63 bits
// so it also fits signed 64-bit consumers.
func PointID(chunkID string) uint64 {
	return xxhash.Sum64String(chunkID) & (1<<63 - 1)
}
