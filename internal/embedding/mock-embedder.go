package embedding

import (
	"context"
	"hash/fnv"
	"unicode"
)

// MockEncoder is a deterministic encoder for tests. It hashes character
// unigrams and bigrams into a fixed number of buckets, so texts that share
// characters get similar vectors and the same text always gets the same vector.
type MockEncoder struct {
	dimensions int
}

// NewMockEncoder returns a deterministic encoder of the given dimensions.
func NewMockEncoder(dimensions int) *MockEncoder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &MockEncoder{dimensions: dimensions}
}

// NewMockEmbedder returns a Model over a MockEncoder with no query instruction.
func NewMockEmbedder(dimensions int) *Model {
	return NewModel(NewMockEncoder(dimensions))
}

// Encode returns one feature-hashed vector per text.
func (e *MockEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.encode(text)
	}
	return out, nil
}

func (e *MockEncoder) encode(text string) []float32 {
	emb := make([]float32, e.dimensions)
	var runes []rune
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			runes = append(runes, unicode.ToLower(r))
		}
	}
	for i, r := range runes {
		emb[HashString(string(r))%e.dimensions] += 1
		if i+1 < len(runes) {
			emb[HashString(string(runes[i:i+2]))%e.dimensions] += 2
		}
	}
	// a constant component keeps empty text from producing a zero vector
	emb[0] += 0.01
	return emb
}

// Dimensions returns the embedding dimension.
func (e *MockEncoder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEncoder.
func (e *MockEncoder) Close() error {
	return nil
}

// HashString returns a non-negative FNV-1a hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
