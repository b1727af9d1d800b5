package ocr

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// DefaultPageLimit is the service's per-call page cap.
const DefaultPageLimit = 10

// ProgressFunc is called before each chunk with done/total chunk counts.
type ProgressFunc func(done, total int, message string)

// Options control one run.
type Options struct {
	// Resume skips chunks recorded in an existing checkpoint.
	Resume   bool
	Progress ProgressFunc
}

// Orchestrator runs PDF and slide decks through a Parser chunk by chunk.
type Orchestrator struct {
	parser     Parser
	pages      PageCounter
	splitter   Splitter
	downloader Downloader
	converters []Converter
	pageLimit  int
	keep       bool
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPageLimit sets the pages per service call.
func WithPageLimit(n int) Option {
	return func(o *Orchestrator) { o.pageLimit = n }
}

// WithPDFTools replaces page counting and splitting.
func WithPDFTools(pc PageCounter, s Splitter) Option {
	return func(o *Orchestrator) { o.pages, o.splitter = pc, s }
}

// WithDownloader replaces the image fetcher.
func WithDownloader(d Downloader) Option {
	return func(o *Orchestrator) { o.downloader = d }
}

// WithConverters sets slide-to-PDF converters in priority order.
func WithConverters(cs ...Converter) Option {
	return func(o *Orchestrator) { o.converters = cs }
}

// WithKeepArtifacts retains the checkpoint and chunk cache after assembly.
func WithKeepArtifacts(keep bool) Option {
	return func(o *Orchestrator) { o.keep = keep }
}

// WithClock sets the time source of the result header.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over parser.
func NewOrchestrator(parser Parser, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		parser:     parser,
		pages:      PDFTools{},
		splitter:   PDFTools{},
		downloader: HTTPDownloader{Client: &http.Client{Timeout: 30 * time.Second}},
		pageLimit:  DefaultPageLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pageLimit <= 0 {
		o.pageLimit = DefaultPageLimit
	}
	o.logger = utils.OrNop(o.logger)
	return o
}

// ProcessPDF converts pdfPath into outDir/result.md and returns its path.
// After each chunk the chunk Markdown and the checkpoint are written, so a
// failed run keeps its progress for a later Resume. On success the
// checkpoint and chunk cache are removed unless artifacts are kept.
func (o *Orchestrator) ProcessPDF(ctx context.Context, pdfPath, outDir string, opts Options) (string, error) {
	return o.processPDF(ctx, pdfPath, sourceName(pdfPath), outDir, opts)
}

func (o *Orchestrator) processPDF(ctx context.Context, pdfPath, source, outDir string, opts Options) (string, error) {
	progress := opts.Progress
	if progress == nil {
		progress = func(int, int, string) {}
	}
	total, err := o.pages.PageCount(pdfPath)
	if err != nil {
		return "", err
	}
	ranges := Ranges(total, o.pageLimit)
	if len(ranges) == 0 {
		return "", fmt.Errorf("%s has no pages: %w", pdfPath, models.ErrEmptyInput)
	}
	for _, dir := range []string{filepath.Join(outDir, ChunksDir), filepath.Join(outDir, ImagesDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var cp *models.Checkpoint
	if opts.Resume {
		if cp, err = LoadCheckpoint(outDir); err != nil {
			return "", err
		}
		if cp != nil && cp.TotalChunks != len(ranges) {
			o.logger.Warn("checkpoint does not match document, starting over",
				zap.Int("checkpoint_chunks", cp.TotalChunks), zap.Int("chunks", len(ranges)))
			cp = nil
		}
	}
	if cp == nil {
		cp = &models.Checkpoint{TotalChunks: len(ranges), Done: []int{}}
	}

	for i, r := range ranges {
		if isDone(outDir, cp, i) {
			progress(i, len(ranges), fmt.Sprintf("chunk %d/%d (pages %s) cached", i+1, len(ranges), r))
			continue
		}
		progress(i, len(ranges), fmt.Sprintf("chunk %d/%d (pages %s)", i+1, len(ranges), r))
		md, err := o.processChunk(ctx, pdfPath, outDir, i, r)
		if err != nil {
			return "", fmt.Errorf("chunk %d (pages %s): %w", i+1, r, err)
		}
		if err := utils.WriteFileAtomic(ChunkPath(outDir, i), []byte(md), 0644); err != nil {
			return "", fmt.Errorf("failed to cache chunk %d: %w", i+1, err)
		}
		cp.Done = append(cp.Done, i)
		if err := SaveCheckpoint(outDir, cp); err != nil {
			return "", fmt.Errorf("failed to save checkpoint: %w", err)
		}
		o.logger.Debug("chunk done", zap.String("source", source), zap.Int("chunk", i), zap.String("pages", r.String()))
	}
	progress(len(ranges), len(ranges), "assembling result")

	chunks := make([]string, len(ranges))
	for i := range ranges {
		b, err := os.ReadFile(ChunkPath(outDir, i))
		if err != nil {
			return "", fmt.Errorf("failed to read chunk %d: %w", i+1, err)
		}
		chunks[i] = string(b)
	}
	result := filepath.Join(outDir, ResultFile)
	if err := utils.WriteFileAtomic(result, []byte(AssembleResult(source, o.now(), chunks)), 0644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	if !o.keep {
		_ = os.RemoveAll(filepath.Join(outDir, ChunksDir))
		_ = os.Remove(filepath.Join(outDir, CheckpointFile))
	}
	o.logger.Info("OCR done", zap.String("source", source), zap.Int("pages", total), zap.String("result", result))
	return result, nil
}

func (o *Orchestrator) processChunk(ctx context.Context, pdfPath, outDir string, i int, r PageRange) (string, error) {
	part := filepath.Join(outDir, ChunksDir, fmt.Sprintf("chunk_%03d.pdf", i))
	if err := o.splitter.Split(pdfPath, part, r); err != nil {
		return "", err
	}
	defer os.Remove(part)
	data, err := os.ReadFile(part)
	if err != nil {
		return "", err
	}
	pages, err := o.parser.Parse(ctx, data, FilePDF)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for j, p := range pages {
		n := r.From + j
		md := localizeImages(ctx, o.downloader, filepath.Join(outDir, ImagesDir), n, p, o.logger)
		if j > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatPage(n, md))
	}
	return b.String(), nil
}

// ProcessSlides converts a slide deck into outDir/result.md. A PDF input goes
// straight to ProcessPDF. Otherwise each available converter is tried in
// order; when none succeeds the slides are exported directly from the .pptx
// and every embedded picture is sent to the parser as an image.
func (o *Orchestrator) ProcessSlides(ctx context.Context, deckPath, outDir string, opts Options) (string, error) {
	source := sourceName(deckPath)
	if strings.EqualFold(filepath.Ext(deckPath), ".pdf") {
		return o.processPDF(ctx, deckPath, source, outDir, opts)
	}
	convDir := filepath.Join(outDir, "_convert")
	for _, c := range o.converters {
		if !c.Available() {
			continue
		}
		pdf, err := c.Convert(ctx, deckPath, convDir)
		if err != nil {
			o.logger.Warn("slide conversion failed", zap.String("converter", c.Name()), zap.Error(err))
			continue
		}
		result, err := o.processPDF(ctx, pdf, source, outDir, opts)
		if err == nil && !o.keep {
			_ = os.RemoveAll(convDir)
		}
		return result, err
	}

	o.logger.Info("no slide converter available, exporting slides directly", zap.String("deck", deckPath))
	slides, err := ExportSlides(deckPath, outDir)
	if err != nil {
		return "", err
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(int, int, string) {}
	}
	pages := make([]string, 0, len(slides))
	for i, sl := range slides {
		progress(i, len(slides), fmt.Sprintf("slide %d/%d", i+1, len(slides)))
		var texts []string
		for _, img := range sl.Images {
			md, err := o.parseImage(ctx, outDir, sl.Number, img)
			if err != nil {
				return "", fmt.Errorf("slide %d image %s: %w", sl.Number, img, err)
			}
			texts = append(texts, md)
		}
		pages = append(pages, sl.Markdown(texts...))
	}
	progress(len(slides), len(slides), "slides exported")
	result := filepath.Join(outDir, ResultFile)
	if err := utils.WriteFileAtomic(result, []byte(AssembleResult(source, o.now(), pages)), 0644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	o.logger.Info("OCR done", zap.String("source", source), zap.Int("slides", len(slides)), zap.String("result", result))
	return result, nil
}

// parseImage OCRs one exported slide picture and returns its Markdown with
// images localized under the slide's number.
func (o *Orchestrator) parseImage(ctx context.Context, outDir string, slide int, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	pages, err := o.parser.Parse(ctx, data, FileImage)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		md := localizeImages(ctx, o.downloader, filepath.Join(outDir, ImagesDir), slide, p, o.logger)
		if md = strings.TrimSpace(md); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func sourceName(p string) string {
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}
