package keyword

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/registry"
)

// Tokenizer segments mixed Chinese/English text. Han runs become overlapping
// bigrams, other scripts become lower-cased words.
type Tokenizer struct {
	analyzer analyzer
}

type analyzer interface {
	Analyze(input []byte) analysis.TokenStream
}

// NewTokenizer builds a tokenizer from bleve's CJK analyzer.
func NewTokenizer() (*Tokenizer, error) {
	cache := registry.NewCache()
	a, err := cache.AnalyzerNamed(cjk.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("failed to load cjk analyzer: %w", err)
	}
	return &Tokenizer{analyzer: a}, nil
}

// Tokenize returns the token stream of text, skipping pure punctuation.
func (t *Tokenizer) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	stream := t.analyzer.Analyze([]byte(text))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := string(tok.Term)
		if isPunct(term) {
			continue
		}
		out = append(out, term)
	}
	return out
}

func isPunct(term string) bool {
	for _, r := range term {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
