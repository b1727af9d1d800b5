package kg

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/chunker"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/pkg/utils"
)

// ProgressFunc receives done/total unit counts and an operator message.
type ProgressFunc func(done, total int, message string)

// Report summarizes one document extraction.
type Report struct {
	DocID     string   `json:"doc_id"`
	Chapters  int      `json:"chapters"`
	Concepts  int      `json:"concepts"`
	Relations int      `json:"relations"`
	Failed    []string `json:"failed,omitempty"`
}

// Service extracts and persists the graph of whole documents.
type Service struct {
	store     storage.GraphStore
	extractor *Extractor
	logger    *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets a logger for per-unit failures.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service writing to store.
func NewService(store storage.GraphStore, extractor *Extractor, opts ...ServiceOption) *Service {
	s := &Service{store: store, extractor: extractor}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// ExtractTextbook replaces the graph of docID with one extracted per chapter
// of the textbook Markdown. OCR pages without chapter headings are grouped
// by topic as slides are.
func (s *Service) ExtractTextbook(ctx context.Context, docID, markdown string, progress ProgressFunc) (*Report, error) {
	chapters := chunker.ParseChapters(docID, markdown)
	if len(chapters) == 0 && len(chunker.ParsePages(markdown)) > 0 {
		return s.ExtractSlides(ctx, docID, markdown, progress)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no chapters in %s: %w", docID, models.ErrEmptyInput)
	}
	return s.extract(ctx, docID, chapters, progress)
}

// ExtractSlides replaces the graph of docID with one extracted per detected
// topic group of the slide Markdown.
func (s *Service) ExtractSlides(ctx context.Context, docID, markdown string, progress ProgressFunc) (*Report, error) {
	groups := DetectTopicGroups(markdown)
	if len(groups) == 0 {
		return nil, fmt.Errorf("no topic groups in %s: %w", docID, models.ErrEmptyInput)
	}
	chapters := make([]*models.Chapter, 0, len(groups))
	for i, g := range groups {
		chapters = append(chapters, &models.Chapter{
			ID:      TopicChapterID(docID, g.Index),
			DocID:   docID,
			Number:  i + 1,
			Name:    g.Title,
			Content: g.Content,
		})
	}
	return s.extract(ctx, docID, chapters, progress)
}

// Extract dispatches on the document's source type.
func (s *Service) Extract(ctx context.Context, docID string, sourceType models.SourceType, markdown string, progress ProgressFunc) (*Report, error) {
	switch sourceType {
	case models.SourceTextbook:
		return s.ExtractTextbook(ctx, docID, markdown, progress)
	case models.SourceSlides:
		return s.ExtractSlides(ctx, docID, markdown, progress)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownSourceType, sourceType)
	}
}

// Prior records are deleted first. A unit whose extraction fails is logged,
// reported and skipped. Storage errors abort.
func (s *Service) extract(ctx context.Context, docID string, chapters []*models.Chapter, progress ProgressFunc) (*Report, error) {
	if progress == nil {
		progress = func(int, int, string) {}
	}
	if err := s.store.DeleteGraph(ctx, docID); err != nil {
		return nil, fmt.Errorf("failed to clear graph of %s: %w", docID, err)
	}

	report := &Report{DocID: docID}
	total := len(chapters)
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		progress(i, total, fmt.Sprintf("extracting %s", ch.Name))
		g, err := s.extractor.ExtractChapter(ctx, ch)
		if err != nil {
			s.logger.Warn("chapter extraction failed",
				zap.String("doc_id", docID),
				zap.String("chapter", ch.Name),
				zap.Error(err))
			report.Failed = append(report.Failed, ch.Name)
			progress(i+1, total, fmt.Sprintf("skipped %s: %v", ch.Name, err))
			continue
		}
		if err := s.store.SaveGraph(ctx, g); err != nil {
			return report, fmt.Errorf("failed to save graph of %q: %w", ch.Name, err)
		}
		report.Chapters++
		report.Concepts += len(g.Concepts)
		report.Relations += len(g.Edges)
	}
	progress(total, total, fmt.Sprintf("extracted %d of %d units", report.Chapters, total))
	s.logger.Info("graph extracted",
		zap.String("doc_id", docID),
		zap.Int("chapters", report.Chapters),
		zap.Int("concepts", report.Concepts),
		zap.Int("relations", report.Relations),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}
