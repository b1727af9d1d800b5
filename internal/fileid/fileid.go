// Package fileid derives stable document ids from file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hyperjump/tiku/internal/models"
)

const hashLen = 8

// DocID returns a readable, stable doc_id for a file: the slugged base name
// plus a short hash of the cleaned path. Same path always yields the same id.
func DocID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	name := strings.TrimSuffix(filepath.Base(normalized), filepath.Ext(normalized))
	return Slug(name) + "-" + hex.EncodeToString(hash[:])[:hashLen]
}

// Slug keeps letters (any script), digits, '-' and '_'; every other run of
// characters becomes one '_'.
func Slug(s string) string {
	var b strings.Builder
	under := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			under = false
			continue
		}
		if !under && b.Len() > 0 {
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "doc"
	}
	return out
}

// SourceTypeFor guesses the source type from a file extension: slide decks
// for .ppt/.pptx, textbooks for everything else.
func SourceTypeFor(path string) models.SourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ppt", ".pptx":
		return models.SourceSlides
	}
	return models.SourceTextbook
}
