package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/fileid"
	"github.com/hyperjump/tiku/internal/kg"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/ocr"
	"github.com/hyperjump/tiku/internal/tasks"
)

// Task kinds recorded in the registry.
const (
	KindOCR    = "ocr"
	KindIngest = "ingest"
	KindKG     = "kg"
)

// MarkdownExts are ingested as they are; everything else goes through OCR.
var MarkdownExts = []string{".md", ".markdown", ".txt"}

// IngestResult describes one ingested file.
type IngestResult struct {
	DocID      string            `json:"doc_id"`
	SourceType models.SourceType `json:"source_type"`
	Chunks     int               `json:"chunks"`
	// Markdown is the converted file for OCR inputs.
	Markdown string `json:"markdown,omitempty"`
}

// FileOptions controls IngestFile and ConvertFile.
type FileOptions struct {
	DocID      string
	SourceType models.SourceType
	Resume     bool
	Progress   func(done, total int, message string)
}

func (o *FileOptions) resolve(path string) {
	if o.DocID == "" {
		o.DocID = fileid.DocID(path)
	}
	if o.SourceType == "" {
		o.SourceType = fileid.SourceTypeFor(path)
	}
}

// IsMarkdown reports whether path is ingested without OCR.
func IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range MarkdownExts {
		if ext == e {
			return true
		}
	}
	return false
}

// OutputDir is the OCR work directory of docID.
func (c *Components) OutputDir(docID string) string {
	return filepath.Join(c.Config.OCR.WorkDir, docID)
}

// ConvertFile returns the Markdown of path and where it was written. Markdown
// files are read directly, PDFs and decks go through OCR into OutputDir.
func (c *Components) ConvertFile(ctx context.Context, path string, opts FileOptions) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("absolute path: %w", err)
	}
	opts.resolve(abs)
	if IsMarkdown(abs) {
		b, err := os.ReadFile(abs)
		if err != nil {
			return "", "", fmt.Errorf("read file: %w", err)
		}
		return string(b), abs, nil
	}

	orch, err := c.OCR()
	if err != nil {
		return "", "", err
	}
	outDir := c.OutputDir(opts.DocID)
	ocrOpts := ocr.Options{Resume: opts.Resume, Progress: opts.Progress}
	var result string
	if opts.SourceType == models.SourceSlides {
		result, err = orch.ProcessSlides(ctx, abs, outDir, ocrOpts)
	} else {
		result, err = orch.ProcessPDF(ctx, abs, outDir, ocrOpts)
	}
	if err != nil {
		return "", "", err
	}
	b, err := os.ReadFile(result)
	if err != nil {
		return "", "", fmt.Errorf("read OCR result: %w", err)
	}
	return string(b), result, nil
}

// IngestFile converts path when needed and indexes it.
func (c *Components) IngestFile(ctx context.Context, path string, opts FileOptions) (*IngestResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	opts.resolve(abs)
	md, mdPath, err := c.ConvertFile(ctx, abs, opts)
	if err != nil {
		return nil, err
	}
	chunks, err := c.Indexer.Ingest(ctx, opts.DocID, opts.SourceType, md)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{DocID: opts.DocID, SourceType: opts.SourceType, Chunks: len(chunks)}
	if mdPath != abs {
		res.Markdown = mdPath
	}
	c.Logger.Info("document ingested",
		zap.String("path", abs),
		zap.String("doc_id", res.DocID),
		zap.String("source_type", string(res.SourceType)),
		zap.Int("chunks", res.Chunks))
	return res, nil
}

// IngestDirectory ingests every file under dir whose extension is in exts.
// Without OCR only Markdown files are taken, through the indexer's own walk.
// Files that yield no chunks are skipped.
func (c *Components) IngestDirectory(ctx context.Context, dir string, exts []string) (int, error) {
	if _, err := c.OCR(); err != nil {
		var md []string
		for _, e := range exts {
			if IsMarkdown("x" + e) {
				md = append(md, e)
			}
		}
		if len(md) == 0 {
			md = MarkdownExts
		}
		return c.Indexer.IndexDirectory(ctx, dir, md)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	work := filepath.Clean(c.Config.OCR.WorkDir)
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path == work {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasExt(path, exts) || !d.Type().IsRegular() {
			return nil
		}
		if _, err := c.IngestFile(ctx, path, FileOptions{Resume: true}); err != nil {
			if errors.Is(err, models.ErrEmptyInput) {
				c.Logger.Debug("skipping file without chunks", zap.String("path", path))
				return nil
			}
			return err
		}
		n++
		return nil
	})
	return n, err
}

func hasExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// ExtractKG builds the knowledge graph of an ingested document from its
// Markdown, into kg.db or into the KG-only store when direct is set.
func (c *Components) ExtractKG(ctx context.Context, docID string, sourceType models.SourceType, markdown string, direct bool, progress kg.ProgressFunc) (*kg.Report, error) {
	svc, err := c.KG(direct)
	if err != nil {
		return nil, err
	}
	return svc.Extract(ctx, docID, sourceType, markdown, progress)
}

// DocumentMarkdown rebuilds a document's Markdown from its stored chunks, for
// KG extraction of a document whose source file is gone.
func (c *Components) DocumentMarkdown(ctx context.Context, docID string) (string, models.SourceType, error) {
	chunks, err := c.Store.DocumentChunks(ctx, docID)
	if err != nil {
		return "", "", err
	}
	if len(chunks) == 0 {
		return "", "", fmt.Errorf("document %s has no chunks: %w", docID, models.ErrEmptyInput)
	}
	var b strings.Builder
	st := chunks[0].SourceType
	chapter, section := -1, -1
	for _, ch := range chunks {
		switch st {
		case models.SourceSlides:
			if ch.SectionNum != section {
				section = ch.SectionNum
				fmt.Fprintf(&b, "## Page %d\n\n", section)
			}
		default:
			if ch.ChapterNum != chapter {
				chapter, section = ch.ChapterNum, -1
				fmt.Fprintf(&b, "# %s\n\n", ch.ChapterName)
			}
			if ch.SectionNum != section && ch.SectionName != "" {
				section = ch.SectionNum
				fmt.Fprintf(&b, "## %s\n\n", ch.SectionName)
			}
		}
		b.WriteString(ch.Text)
		b.WriteString("\n\n")
	}
	return b.String(), st, nil
}

// SubmitIngest queues IngestFile on the worker pool.
func (c *Components) SubmitIngest(path string, opts FileOptions) *models.Task {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	opts.resolve(abs)
	kind := KindIngest
	if !IsMarkdown(abs) {
		kind = KindOCR
	}
	return c.Pool.Submit(kind, opts.DocID, func(ctx context.Context, report func(int, int, string)) (string, error) {
		opts.Progress = report
		res, err := c.IngestFile(ctx, abs, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ingested %s: %d chunks", res.DocID, res.Chunks), nil
	})
}

// SubmitKG queues knowledge-graph extraction of docID on the worker pool.
// An empty markdown is rebuilt from the stored chunks.
func (c *Components) SubmitKG(docID string, sourceType models.SourceType, markdown string, direct bool) (*models.Task, error) {
	if _, err := c.KG(direct); err != nil {
		return nil, err
	}
	job := func(ctx context.Context, report func(int, int, string)) (string, error) {
		md, st := markdown, sourceType
		if strings.TrimSpace(md) == "" {
			var err error
			if md, st, err = c.DocumentMarkdown(ctx, docID); err != nil {
				return "", err
			}
		}
		rep, err := c.ExtractKG(ctx, docID, st, md, direct, kg.ProgressFunc(report))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("extracted %d chapters, %d concepts, %d relations (%d failed)",
			rep.Chapters, rep.Concepts, rep.Relations, len(rep.Failed)), nil
	}
	return c.Pool.Submit(KindKG, docID, tasks.Job(job)), nil
}

// FileChanged queues a dropped file for ingestion. It lets Components act
// as a watcher sink.
func (c *Components) FileChanged(path string) {
	if !IsMarkdown(path) {
		if _, err := c.OCR(); err != nil {
			c.Logger.Warn("skipping dropped file", zap.String("path", path), zap.Error(err))
			return
		}
	}
	t := c.SubmitIngest(path, FileOptions{Resume: true})
	c.Logger.Info("queued dropped file", zap.String("path", path), zap.String("task_id", t.ID), zap.String("doc_id", t.DocID))
}

// FileRemoved deletes the document ingested from path from every store.
func (c *Components) FileRemoved(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	docID := fileid.DocID(abs)
	if err := c.DeleteDocument(context.Background(), docID); err != nil {
		c.Logger.Warn("failed to delete removed file", zap.String("path", abs), zap.String("doc_id", docID), zap.Error(err))
		return
	}
	c.Logger.Info("deleted removed file", zap.String("path", abs), zap.String("doc_id", docID))
}

// DeleteDocument removes docID from the indexed stores and from the KG-only
// store.
func (c *Components) DeleteDocument(ctx context.Context, docID string) error {
	if err := c.Indexer.Delete(ctx, docID); err != nil {
		return err
	}
	if err := c.KGOnly.DeleteGraph(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete KG-only graph: %w", err)
	}
	return nil
}
