package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
)

const template = "请根据以下资料出题。\n\n资料：\n{context}\n\n题目要求：\n{question_list}"

// fakeSearcher answers each query with chunks named after it plus one
// chunk shared by every query.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	filters []*models.Filters
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q.Query)
	f.filters = append(f.filters, q.Filters)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.SearchResponse{Results: []*models.SearchResult{
		{Chunk: &models.Chunk{ChunkID: "shared", Text: "价格由供求关系决定。"}},
		{Chunk: &models.Chunk{ChunkID: "q:" + q.Query, Text: q.Query + "的相关内容。", ContextHeader: "第一章"}},
	}}, nil
}

type recorder struct {
	calls int32
	req   llm.Request
	reply string
	err   error
}

func (r *recorder) Complete(_ context.Context, req llm.Request) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	r.req = req
	return r.reply, r.err
}

func TestBuildQueries(t *testing.T) {
	assert.Equal(t, GenericQueries, BuildQueries(nil, []string{" ", ""}, 12))
	assert.Equal(t, []string{"第一章", "供求", "弹性"}, BuildQueries([]string{"第一章", "供求"}, []string{"供求", "弹性"}, 12))

	var kps []string
	for i := 0; i < 20; i++ {
		kps = append(kps, fmt.Sprintf("kp%d", i))
	}
	got := BuildQueries([]string{"ch"}, kps, 12)
	assert.Len(t, got, 12)
	assert.Equal(t, "ch", got[0])
}

func TestAssembleContext(t *testing.T) {
	chunk := func(id, text string) *models.SearchResult {
		return &models.SearchResult{Chunk: &models.Chunk{ChunkID: id, Text: text}}
	}
	perQuery := [][]*models.SearchResult{
		{chunk("a", strings.Repeat("甲", 40)), chunk("b", strings.Repeat("乙", 40))},
		{chunk("a", strings.Repeat("甲", 40)), chunk("c", strings.Repeat("丙", 40)), nil},
	}
	got := AssembleContext(perQuery, 100)
	assert.Equal(t, []string{"a", "b"}, got.ChunkIDs, "c would exceed the budget")
	assert.Equal(t, strings.Repeat("甲", 40)+ContextDelimiter+strings.Repeat("乙", 40), got.Text)

	got = AssembleContext(perQuery, 1000)
	assert.Equal(t, []string{"a", "b", "c"}, got.ChunkIDs, "duplicates are taken once")
	assert.Empty(t, AssembleContext(nil, 100).Text)
}

func TestFill(t *testing.T) {
	assert.Equal(t, "A ctx B qs", Fill("A {context} B {question_list}", "ctx", "qs"))
	assert.Equal(t, "出题\n\n参考资料：\nctx", Fill("出题", "ctx", "qs"))
	assert.Equal(t, "x {question_list} y", Fill("{context} y", "x {question_list}", "qs"), "substituted text is not rescanned")
}

func TestGenerate_RAG(t *testing.T) {
	s := &fakeSearcher{}
	client := &recorder{reply: "1. 下列关于供求关系的说法正确的是……"}
	o := NewOrchestrator(s, nil, client)
	res, err := o.Generate(context.Background(), &Request{
		Template:        template,
		QuestionList:    "单选题 2 道",
		DocIDs:          []string{"econ"},
		Chapters:        []string{"第一章 市场与价格"},
		KnowledgePoints: []string{"供求关系"},
	})
	require.NoError(t, err)
	assert.Equal(t, client.reply, res.Text)
	assert.Equal(t, ModeRAG, res.Mode)
	assert.Equal(t, []string{"第一章 市场与价格", "供求关系"}, res.Queries)
	assert.Equal(t, []string{"shared", "q:第一章 市场与价格", "q:供求关系"}, res.ChunkIDs)
	assert.False(t, res.Fallback)

	assert.Contains(t, client.req.User, "价格由供求关系决定。")
	assert.Contains(t, client.req.User, "【第一章】\n供求关系的相关内容。")
	assert.Contains(t, client.req.User, "单选题 2 道")
	assert.NotContains(t, client.req.User, "{context}")
	assert.Equal(t, 1, strings.Count(client.req.User, "价格由供求关系决定。"))

	for _, f := range s.filters {
		assert.Equal(t, []string{"econ"}, f.DocIDs)
	}
}

func TestGenerate_MissingKey(t *testing.T) {
	s := &fakeSearcher{}
	_, err := NewOrchestrator(s, nil, nil).Generate(context.Background(), &Request{Template: template})
	require.ErrorIs(t, err, llm.ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
	assert.Empty(t, s.queries, "no retrieval without credentials")
}

func TestGenerate_RetrievalFailureFallsBack(t *testing.T) {
	client := &recorder{reply: "ok"}
	res, err := NewOrchestrator(&fakeSearcher{err: errors.New("index locked")}, nil, client).
		Generate(context.Background(), &Request{Template: template})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, GenericQueries, res.Queries)
	assert.Contains(t, client.req.User, NoContextPlaceholder)
}

func TestGenerate_LLMErrorSurfaces(t *testing.T) {
	boom := errors.New("429 Too Many Requests")
	_, err := NewOrchestrator(&fakeSearcher{}, nil, &recorder{err: boom}).
		Generate(context.Background(), &Request{Template: template})
	assert.Equal(t, boom, err)
}

func TestGenerate_Validation(t *testing.T) {
	o := NewOrchestrator(&fakeSearcher{}, nil, &recorder{})
	_, err := o.Generate(context.Background(), &Request{Template: "  "})
	assert.ErrorIs(t, err, models.ErrEmptyInput)
	_, err = o.Generate(context.Background(), &Request{Template: template, Mode: "magic"})
	assert.Error(t, err)
}

func TestGenerate_KG(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveGraph(ctx, &storage.ChapterGraph{
		Chapter: &models.Chapter{DocID: "econ", Number: 1, Name: "第一章 市场与价格"},
		Concepts: []*models.Concept{
			{Name: "供求关系", Description: "供给与需求的相互作用", IsKeyPoint: true},
			{Name: "价格", Description: "商品价值的货币表现"},
		},
		Edges: []storage.Edge{{From: "价格", To: "供求关系", Type: models.RelationDependsOn}},
	}))

	s := &fakeSearcher{}
	client := &recorder{reply: "题目"}
	res, err := NewOrchestrator(s, store, client).Generate(ctx, &Request{
		Template: template,
		Mode:     ModeKG,
		DocIDs:   []string{"econ"},
		Chapters: []string{"第一章"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Concepts)
	assert.Empty(t, s.queries, "KG mode skips the vector store")
	assert.Contains(t, client.req.User, "### 供求关系（重点）\n章节：第一章 市场与价格\n内容：供给与需求的相互作用")
	assert.Contains(t, client.req.User, "关系：depends_on → 供求关系")

	res, err = NewOrchestrator(s, store, client).Generate(ctx, &Request{
		Template: template, Mode: ModeKG, DocIDs: []string{"missing"},
	})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

func TestRenderConcepts_Budget(t *testing.T) {
	concepts := []*models.ConceptView{
		{Concept: models.Concept{Name: "甲", Description: strings.Repeat("一", 30)}, ChapterName: "c"},
		{Concept: models.Concept{Name: "乙", Description: strings.Repeat("二", 30)}, ChapterName: "c"},
	}
	out := RenderConcepts(concepts, 60)
	assert.Contains(t, out, "### 甲")
	assert.NotContains(t, out, "### 乙")
}
