package kg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
)

const marketReply = `好的，结果如下：
` + "```json" + `
{
  "key_points": ["供求关系"],
  "difficulty_points": [{"name": "均衡价格"}],
  "concepts": [
    {"name": "供求关系", "description": "供给与需求之间的关系", "is_key": true},
    {"name": "价格", "description": "商品价值的货币表现"}
  ],
  "relations": [
    {"from": "价格", "to": "供求关系", "type": "depends_on"},
    {"from": "供求关系", "to": "X", "type": "leads_to"},
    {"from": "价格", "to": "价格", "type": "is_a"},
    {"from": "价格", "to": "成本", "type": "causes"},
    {"from": "价格", "to": "供求关系", "type": "depends_on"}
  ]
}
` + "```"

const textbook = `# 第一章 市场与价格

价格由供求关系决定。

# 第二章 生产与成本

生产函数描述投入与产出之间的关系。
`

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedReply(reply string) llm.ClientFunc {
	return func(ctx context.Context, req llm.Request) (string, error) { return reply, nil }
}

func TestParseResponse(t *testing.T) {
	ext, err := ParseResponse(marketReply)
	require.NoError(t, err)
	assert.Equal(t, []string{"供求关系"}, []string(ext.KeyPoints))
	assert.Equal(t, []string{"均衡价格"}, []string(ext.DifficultyPoints))
	assert.Len(t, ext.Concepts, 2)
	assert.Len(t, ext.Relations, 5)

	ext, err = ParseResponse(`{"concepts": [{"name": "需求"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "需求", ext.Concepts[0].Name)

	_, err = ParseResponse("I cannot help with that.")
	assert.ErrorIs(t, err, ErrUnparseable)
	_, err = ParseResponse(`{"concepts": "oops"}`)
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestBuildGraph(t *testing.T) {
	ext, err := ParseResponse(marketReply)
	require.NoError(t, err)
	g, dropped := BuildGraph(&models.Chapter{Name: "市场"}, ext, nil)

	names := make(map[string]*models.Concept)
	for _, c := range g.Concepts {
		names[c.Name] = c
	}
	require.Contains(t, names, "均衡价格")
	assert.True(t, names["均衡价格"].IsDifficultPoint)
	assert.Empty(t, names["均衡价格"].Description)
	assert.True(t, names["供求关系"].IsKeyPoint)
	require.Contains(t, names, "X", "relation endpoint should be synthesized")
	assert.NotContains(t, names, "成本", "endpoint of an invalid relation is not synthesized")

	assert.Equal(t, 2, dropped)
	assert.Equal(t, []storage.Edge{
		{From: "价格", To: "供求关系", Type: models.RelationDependsOn},
		{From: "供求关系", To: "X", Type: models.RelationLeadsTo},
	}, g.Edges)
}

// A relation naming a concept the reply never listed still resolves after
// persistence.
func TestExtractor_SynthesizedEndpointPersists(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	ch := &models.Chapter{DocID: "econ", Number: 1, Name: "第一章 市场与价格", Content: "价格由供求关系决定。"}

	g, err := NewExtractor(fixedReply(marketReply)).ExtractChapter(ctx, ch)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(ctx, g))

	concepts, err := store.Concepts(ctx, ch.ID)
	require.NoError(t, err)
	byID := make(map[int64]string)
	var xID int64
	for _, c := range concepts {
		byID[c.ID] = c.Name
		if c.Name == "X" {
			xID = c.ID
		}
	}
	require.NotZero(t, xID, "X should exist as a concept row")

	rels, err := store.Relations(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	found := false
	for _, r := range rels {
		assert.Contains(t, byID, r.FromConceptID)
		assert.Contains(t, byID, r.ToConceptID)
		assert.True(t, r.Type.Valid())
		if r.ToConceptID == xID {
			found = true
		}
	}
	assert.True(t, found, "relation to X should resolve")
}

func TestExtractor_StrictRetry(t *testing.T) {
	var calls int32
	var prompts []string
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		prompts = append(prompts, req.User)
		if atomic.AddInt32(&calls, 1) == 1 {
			return "这一章主要讲了价格。", nil
		}
		return `{"concepts": [{"name": "价格"}]}`, nil
	})
	g, err := NewExtractor(client).ExtractChapter(context.Background(), &models.Chapter{Name: "c"})
	require.NoError(t, err)
	assert.Len(t, g.Concepts, 1)
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], strictSuffix)
	assert.Contains(t, prompts[1], strictSuffix)
}

func TestExtractor_Errors(t *testing.T) {
	ctx := context.Background()
	ch := &models.Chapter{Name: "c"}

	_, err := NewExtractor(fixedReply("no json here")).ExtractChapter(ctx, ch)
	assert.ErrorIs(t, err, ErrUnparseable)

	var calls int32
	boom := errors.New("connection refused")
	_, err = NewExtractor(llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", boom
	})).ExtractChapter(ctx, ch)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, calls, "transport errors are not retried here")
}

func TestBuildPrompt(t *testing.T) {
	ch := &models.Chapter{Name: "第一章", LearningGoals: "理解供求", Content: strings.Repeat("价", MaxChapterChars+10)}
	p := BuildPrompt(ch, false)
	assert.Contains(t, p, "第一章")
	assert.Contains(t, p, "理解供求")
	assert.Contains(t, p, "contrasts_with")
	assert.NotContains(t, p, strings.Repeat("价", MaxChapterChars+1))
}

func TestService_ExtractTextbookIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewService(store, NewExtractor(fixedReply(marketReply)))

	var seen []int
	report, err := svc.ExtractTextbook(ctx, "econ", textbook, func(done, total int, msg string) {
		seen = append(seen, done)
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Chapters)
	assert.Equal(t, []int{0, 1, 2}, seen)

	again, err := svc.ExtractTextbook(ctx, "econ", textbook, nil)
	require.NoError(t, err)
	assert.Equal(t, report.Concepts, again.Concepts)

	chapters, err := store.Chapters(ctx, "econ")
	require.NoError(t, err)
	assert.Len(t, chapters, 2, "re-extraction replaces prior records")
}

func TestService_FailedUnitContinues(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.User, "第二章") {
			return "抱歉", nil
		}
		return marketReply, nil
	})
	var msgs []string
	report, err := NewService(store, NewExtractor(client)).ExtractTextbook(ctx, "econ", textbook,
		func(done, total int, msg string) { msgs = append(msgs, msg) })
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chapters)
	assert.Equal(t, []string{"第二章 生产与成本"}, report.Failed)
	assert.Contains(t, strings.Join(msgs, "\n"), "skipped 第二章")
}

func TestService_EmptyAndUnknown(t *testing.T) {
	svc := NewService(newStore(t), NewExtractor(fixedReply(marketReply)))
	_, err := svc.ExtractTextbook(context.Background(), "d", "no chapters here", nil)
	assert.ErrorIs(t, err, models.ErrEmptyInput)
	_, err = svc.Extract(context.Background(), "d", models.SourceType("video"), textbook, nil)
	assert.ErrorIs(t, err, models.ErrUnknownSourceType)
}

func TestService_ExtractSlides(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	report, err := NewService(store, NewExtractor(fixedReply(marketReply))).
		ExtractSlides(ctx, "forestry", titledDeck(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Chapters)

	chapters, err := store.Chapters(ctx, "forestry")
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	for _, ch := range chapters {
		assert.GreaterOrEqual(t, ch.ID, models.TopicChapterIDBase)
	}
}

func deck(pages ...string) string {
	var b strings.Builder
	b.WriteString("# 林业经济学\n\n")
	for i, p := range pages {
		fmt.Fprintf(&b, "## Page %d\n\n%s\n\n", i+1, p)
	}
	return b.String()
}

var contentPage = strings.Repeat("森林资源的合理利用与木材市场价格的形成机制。", 3)

func titledDeck() string {
	return deck("第一讲 林业与市场", contentPage, contentPage, "第二讲 木材价格", contentPage)
}

func TestIsTitlePage(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"第三讲 需求理论", true},
		{"Forest Economics\nSpring term", true},
		{"- 要点一\n- 要点二", false},
		{contentPage, false},
		{"Chapter 2: Supply and demand in forest markets", true},
		{"", false},
		{"一\n二\n三", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsTitlePage(tc.text), "%q", tc.text)
	}
}

func TestDetectTopicGroups(t *testing.T) {
	groups := DetectTopicGroups(titledDeck())
	require.Len(t, groups, 2)
	assert.Equal(t, "第一讲 林业与市场", groups[0].Title)
	assert.Equal(t, []int{1, 2, 3}, groups[0].Pages)
	assert.Equal(t, "第二讲 木材价格", groups[1].Title)
	assert.Equal(t, []int{4, 5}, groups[1].Pages)
	assert.Contains(t, groups[1].Content, "木材市场")
}

func TestDetectTopicGroups_Preamble(t *testing.T) {
	groups := DetectTopicGroups(deck(contentPage, "第一讲 林业与市场", contentPage))
	require.Len(t, groups, 2)
	assert.Equal(t, []int{1}, groups[0].Pages)
	assert.Equal(t, "Slides 1-1", groups[0].Title)
}

func TestDetectTopicGroups_FixedFallback(t *testing.T) {
	pages := make([]string, 10)
	for i := range pages {
		pages[i] = contentPage
	}
	groups := DetectTopicGroups(deck(pages...))
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Pages, MaxPagesPerGroup)
	assert.Equal(t, []int{9, 10}, groups[1].Pages)
	assert.Equal(t, "Slides 9-10", groups[1].Title)
}

func TestDetectTopicGroups_SkipsThinGroups(t *testing.T) {
	groups := DetectTopicGroups(deck("第一讲 导论", "课程安排", "第二讲 木材价格", contentPage))
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Index)
	assert.Empty(t, DetectTopicGroups(""))
}

func TestTopicChapterID(t *testing.T) {
	a := TopicChapterID("forestry", 0)
	assert.Equal(t, a, TopicChapterID("forestry", 0))
	assert.NotEqual(t, a, TopicChapterID("forestry", 1))
	assert.GreaterOrEqual(t, a, models.TopicChapterIDBase)
	assert.Less(t, a, models.TopicChapterIDBase+1_000_000_000)
}

func TestService_ExtractTextbookFromOCRPages(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	md := "# lecture\n\n## Page 1\n\n" + strings.Repeat("市场经济的基本概念与价格机制介绍。", 4) +
		"\n\n## Page 2\n\n" + strings.Repeat("木材价格受供求影响，需求增加价格上升。", 4) + "\n"
	report, err := NewService(store, NewExtractor(fixedReply(marketReply))).ExtractTextbook(ctx, "lecture", md, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chapters)

	chapters, err := store.Chapters(ctx, "lecture")
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, TopicChapterID("lecture", 0), chapters[0].ID)
}
