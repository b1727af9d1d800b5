package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tiku/internal/config"
	"github.com/hyperjump/tiku/internal/generate"
	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/ocr"
	"github.com/hyperjump/tiku/internal/storage"
)

const textbook = `# 第一章 市场与价格

## 第一节 价格与供求关系

价格由供求关系决定。需求增加而供给不变时价格上升，供给增加而需求不变时价格下降。

## 第二节 市场均衡

均衡价格是供给量等于需求量时的价格。

# 第二章 生产与成本

生产函数描述投入与产出之间的关系，成本函数描述产量与成本之间的关系。
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Storage:   config.StorageConfig{DataDir: t.TempDir(), VectorType: "memory"},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 16},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func openComponents(t *testing.T) *Components {
	t.Helper()
	c, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestOpen_WithoutCredentials(t *testing.T) {
	c := openComponents(t)

	_, err := c.LLM()
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
	_, err = c.KG(false)
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
	_, err = c.OCR()
	assert.ErrorIs(t, err, ocr.ErrMissingToken)

	_, err = c.Generator.Generate(context.Background(), &generate.Request{Template: "{context}"})
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
	_, err = c.SubmitKG("econ", models.SourceTextbook, textbook, false)
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)

	assert.FileExists(t, c.Config.Storage.DatabasePath)
	assert.FileExists(t, c.Config.Storage.KGOnlyPath)
}

func TestIngestFile_MarkdownThenSearch(t *testing.T) {
	ctx := context.Background()
	c := openComponents(t)
	path := filepath.Join(t.TempDir(), "经济学基础.md")
	require.NoError(t, os.WriteFile(path, []byte(textbook), 0644))

	res, err := c.IngestFile(ctx, path, FileOptions{DocID: "econ"})
	require.NoError(t, err)
	assert.Equal(t, "econ", res.DocID)
	assert.Equal(t, models.SourceTextbook, res.SourceType)
	assert.Positive(t, res.Chunks)
	assert.Empty(t, res.Markdown)

	counts, err := c.Indexer.Counts(ctx, "econ")
	require.NoError(t, err)
	assert.True(t, counts.Consistent())
	assert.Equal(t, res.Chunks, counts.Table)

	resp, err := c.Retriever.Search(ctx, &models.SearchQuery{Query: "均衡价格", TopN: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "econ", resp.Results[0].Chunk.DocID)

	md, st, err := c.DocumentMarkdown(ctx, "econ")
	require.NoError(t, err)
	assert.Equal(t, models.SourceTextbook, st)
	assert.Contains(t, md, "# 第一章 市场与价格")
	assert.Contains(t, md, "均衡价格是供给量等于需求量时的价格。")

	_, _, err = c.DocumentMarkdown(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrEmptyInput)
}

func TestIngestFile_PDFNeedsToken(t *testing.T) {
	c := openComponents(t)
	_, err := c.IngestFile(context.Background(), filepath.Join(t.TempDir(), "deck.pdf"), FileOptions{})
	assert.ErrorIs(t, err, ocr.ErrMissingToken)
}

func TestSubmitIngest_RecordsTask(t *testing.T) {
	c := openComponents(t)
	path := filepath.Join(t.TempDir(), "econ.md")
	require.NoError(t, os.WriteFile(path, []byte(textbook), 0644))

	task := c.SubmitIngest(path, FileOptions{})
	assert.Equal(t, KindIngest, task.Kind)
	require.Eventually(t, func() bool {
		got, err := c.Tasks.Get(task.ID)
		return err == nil && got.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	got, _ := c.Tasks.Get(task.ID)
	assert.Equal(t, models.TaskDone, got.Status, got.Message)

	docs, err := c.Indexer.Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, task.DocID, docs[0].DocID)
}

func TestRegistry_OpensOnce(t *testing.T) {
	r := NewRegistry(testConfig(t), nil)
	defer r.Close()
	a, err := r.Get()
	require.NoError(t, err)
	b, err := r.Get()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(config.EmbeddingConfig{Provider: "word2vec"}, nil)
	assert.Error(t, err)
}

func TestIsMarkdown(t *testing.T) {
	assert.True(t, IsMarkdown("/x/notes.MD"))
	assert.False(t, IsMarkdown("/x/deck.pptx"))
}

func TestFileRemoved_DeletesDocument(t *testing.T) {
	ctx := context.Background()
	c := openComponents(t)
	path := filepath.Join(t.TempDir(), "econ.md")
	require.NoError(t, os.WriteFile(path, []byte(textbook), 0644))

	res, err := c.IngestFile(ctx, path, FileOptions{})
	require.NoError(t, err)
	c.FileRemoved(path)

	counts, err := c.Indexer.Counts(ctx, res.DocID)
	require.NoError(t, err)
	assert.Zero(t, counts.Table)
	assert.Zero(t, counts.Dense)
	assert.Zero(t, counts.Sparse)
}

func TestIngestDirectory_MarkdownWithoutOCR(t *testing.T) {
	c := openComponents(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte(textbook), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("%PDF-1.4"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), []byte("  "), 0644))

	n, err := c.IngestDirectory(context.Background(), dir, []string{".md", ".pdf"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	c := openComponents(t)
	_, err := c.Indexer.Ingest(ctx, "econ", models.SourceTextbook, textbook)
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Documents, 1)
	assert.True(t, st.Consistent)
	assert.False(t, st.LLM)
	assert.False(t, st.OCR)
	assert.Equal(t, "memory", st.VectorType)
	assert.Equal(t, 16, st.Dimensions)
}

type twoPagePDF struct{}

func (twoPagePDF) PageCount(string) (int, error) { return 2, nil }

func (twoPagePDF) Split(_, dst string, _ ocr.PageRange) error {
	return os.WriteFile(dst, []byte("%PDF"), 0644)
}

type lectureParser struct{}

func (lectureParser) Parse(context.Context, []byte, ocr.FileType) ([]ocr.Page, error) {
	return []ocr.Page{
		{Markdown: "市场经济的基本概念与价格机制介绍。"},
		{Markdown: "木材价格受供求影响，需求增加价格上升。"},
	}, nil
}

func TestIngestFile_OCRPDFWithoutChapters(t *testing.T) {
	ctx := context.Background()
	c := openComponents(t)
	c.ocr = ocr.NewOrchestrator(lectureParser{}, ocr.WithPDFTools(twoPagePDF{}, twoPagePDF{}))
	path := filepath.Join(t.TempDir(), "lecture.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0644))

	res, err := c.IngestFile(ctx, path, FileOptions{DocID: "lecture"})
	require.NoError(t, err)
	assert.Equal(t, models.SourceTextbook, res.SourceType)
	assert.Equal(t, 2, res.Chunks)
	assert.FileExists(t, res.Markdown)

	counts, err := c.Indexer.Counts(ctx, "lecture")
	require.NoError(t, err)
	assert.True(t, counts.Consistent())

	resp, err := c.Retriever.Search(ctx, &models.SearchQuery{Query: "木材价格", TopN: 2})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.NotContains(t, r.Chunk.Text, "Page")
	}
}

func TestDeleteDocument_ClearsKGOnlyStore(t *testing.T) {
	ctx := context.Background()
	c := openComponents(t)
	path := filepath.Join(t.TempDir(), "econ.md")
	require.NoError(t, os.WriteFile(path, []byte(textbook), 0644))
	_, err := c.IngestFile(ctx, path, FileOptions{DocID: "econ"})
	require.NoError(t, err)
	require.NoError(t, c.KGOnly.SaveGraph(ctx, &storage.ChapterGraph{
		Chapter:  &models.Chapter{DocID: "econ", Number: 1, Name: "第一章 市场与价格"},
		Concepts: []*models.Concept{{Name: "均衡价格"}},
	}))

	require.NoError(t, c.DeleteDocument(ctx, "econ"))

	chapters, err := c.KGOnly.Chapters(ctx, "econ")
	require.NoError(t, err)
	assert.Empty(t, chapters)
	counts, err := c.Indexer.Counts(ctx, "econ")
	require.NoError(t, err)
	assert.Zero(t, counts.Table)
}
