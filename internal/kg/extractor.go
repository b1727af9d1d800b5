// Package kg extracts a concept graph per chapter (or slide topic group) with
// an LLM and persists it beside the chunk table.
package kg

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Extractor issues one LLM call per chapter and parses the reply.
type Extractor struct {
	client llm.ChatClient
	logger *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets a logger for dropped relations and retries.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an extractor over client.
func NewExtractor(client llm.ChatClient, opts ...ExtractorOption) *Extractor {
	e := &Extractor{client: client}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// ExtractChapter returns the concept graph of ch. An unparseable reply is
// retried once with a pure-JSON instruction; a second failure returns
// ErrUnparseable. Transport errors return immediately.
func (e *Extractor) ExtractChapter(ctx context.Context, ch *models.Chapter) (*storage.ChapterGraph, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		strict := attempt > 0
		reply, err := e.client.Complete(ctx, llm.Request{
			System: systemPrompt,
			User:   BuildPrompt(ch, strict),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to extract chapter %q: %w", ch.Name, err)
		}
		ext, err := ParseResponse(reply)
		if err != nil {
			lastErr = err
			e.logger.Warn("extraction reply not parseable",
				zap.String("chapter", ch.Name), zap.Bool("strict", strict), zap.Error(err))
			continue
		}
		g, dropped := BuildGraph(ch, ext, e.logger)
		e.logger.Debug("chapter extracted",
			zap.String("chapter", ch.Name),
			zap.Int("concepts", len(g.Concepts)),
			zap.Int("relations", len(g.Edges)),
			zap.Int("dropped", dropped))
		return g, nil
	}
	if !errors.Is(lastErr, ErrUnparseable) {
		lastErr = fmt.Errorf("%w: %v", ErrUnparseable, lastErr)
	}
	return nil, fmt.Errorf("chapter %q: %w", ch.Name, lastErr)
}
