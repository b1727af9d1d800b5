// Package generate assembles exam-question prompts from retrieved passages or
// knowledge-graph concepts and sends them to a chat model.
package generate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tiku/internal/llm"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Mode selects where context comes from.
type Mode string

const (
	ModeRAG Mode = "rag"
	ModeKG  Mode = "kg"
)

// ParseMode validates s. An empty string is ModeRAG.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeRAG:
		return ModeRAG, nil
	case ModeKG:
		return ModeKG, nil
	default:
		return "", fmt.Errorf("unknown generation mode %q", s)
	}
}

// Searcher is the retrieval side. *search.Retriever implements it.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// ConceptSource is the KG side. storage.GraphStore implements it.
type ConceptSource interface {
	QueryConcepts(ctx context.Context, f models.ConceptFilter) ([]*models.ConceptView, error)
}

// Request describes one generation.
type Request struct {
	// Template holds {context} and {question_list} placeholders.
	Template     string   `json:"template"`
	QuestionList string   `json:"question_list"`
	Mode         Mode     `json:"mode,omitempty"`
	DocIDs       []string `json:"doc_ids,omitempty"`
	// SourceType and ChapterNum narrow RAG retrieval.
	SourceType      models.SourceType `json:"source_type,omitempty"`
	ChapterNum      *int              `json:"chapter_num,omitempty"`
	Chapters        []string          `json:"chapters,omitempty"`
	KnowledgePoints []string          `json:"kp_names,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	Temperature     *float64          `json:"temperature,omitempty"`
}

// Result is the model output with the prompt material that produced it.
type Result struct {
	Text     string   `json:"text"`
	Mode     Mode     `json:"mode"`
	Prompt   string   `json:"prompt"`
	Queries  []string `json:"queries,omitempty"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
	Concepts int      `json:"concepts,omitempty"`
	// Fallback is set when no context was found and the placeholder was used.
	Fallback bool `json:"fallback,omitempty"`
}

// Orchestrator drives retrieval and the chat model.
type Orchestrator struct {
	searcher Searcher
	concepts ConceptSource
	client   llm.ChatClient
	budget   int
	topN     int
	maxQ     int
	logger   *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithBudget sets the context budget in runes.
func WithBudget(n int) Option {
	return func(o *Orchestrator) { o.budget = n }
}

// WithPerQueryTopN sets how many chunks each retrieval query asks for.
func WithPerQueryTopN(n int) Option {
	return func(o *Orchestrator) { o.topN = n }
}

// WithMaxQueries caps the retrieval queries built per request.
func WithMaxQueries(n int) Option {
	return func(o *Orchestrator) { o.maxQ = n }
}

// NewOrchestrator creates an orchestrator. client may be nil when no
// credential is configured; Generate then reports llm.ErrMissingAPIKey.
func NewOrchestrator(searcher Searcher, concepts ConceptSource, client llm.ChatClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{searcher: searcher, concepts: concepts, client: client}
	for _, opt := range opts {
		opt(o)
	}
	if o.budget <= 0 {
		o.budget = DefaultBudget
	}
	if o.topN <= 0 {
		o.topN = DefaultPerQueryTopN
	}
	if o.maxQ <= 0 {
		o.maxQ = DefaultMaxQueries
	}
	o.logger = utils.OrNop(o.logger)
	return o
}

// Generate builds the prompt for req and returns the model's reply. Missing
// credentials fail before any retrieval. Retrieval failures fall back to
// NoContextPlaceholder. Model errors are returned as they are.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*Result, error) {
	if o.client == nil {
		return nil, llm.ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Template) == "" {
		return nil, fmt.Errorf("prompt template: %w", models.ErrEmptyInput)
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	res := &Result{Mode: mode}
	var contextText string
	switch mode {
	case ModeKG:
		contextText, res.Concepts = o.kgContext(ctx, req)
	default:
		var asm Assembled
		res.Queries = BuildQueries(req.Chapters, req.KnowledgePoints, o.maxQ)
		asm = o.ragContext(ctx, req, res.Queries)
		contextText, res.ChunkIDs = asm.Text, asm.ChunkIDs
	}
	if strings.TrimSpace(contextText) == "" {
		contextText = NoContextPlaceholder
		res.Fallback = true
	}
	res.Prompt = Fill(req.Template, contextText, req.QuestionList)

	text, err := o.client.Complete(ctx, llm.Request{
		User:        res.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	res.Text = text
	o.logger.Debug("generated",
		zap.String("mode", string(mode)),
		zap.Int("chunks", len(res.ChunkIDs)),
		zap.Int("concepts", res.Concepts),
		zap.Bool("fallback", res.Fallback))
	return res, nil
}

// ragContext runs every query in parallel and assembles the context in
// query order. A failed query contributes nothing.
func (o *Orchestrator) ragContext(ctx context.Context, req *Request, queries []string) Assembled {
	if o.searcher == nil {
		return Assembled{}
	}
	filters := &models.Filters{DocIDs: req.DocIDs, SourceType: req.SourceType, ChapterNum: req.ChapterNum}
	perQuery := make([][]*models.SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := o.searcher.Search(gctx, &models.SearchQuery{Query: q, TopN: o.topN, Filters: filters})
			if err != nil {
				o.logger.Warn("retrieval failed", zap.String("query", q), zap.Error(err))
				return nil
			}
			perQuery[i] = resp.Results
			return nil
		})
	}
	_ = g.Wait()
	return AssembleContext(perQuery, o.budget)
}

func (o *Orchestrator) kgContext(ctx context.Context, req *Request) (string, int) {
	if o.concepts == nil {
		return "", 0
	}
	concepts, err := o.concepts.QueryConcepts(ctx, models.ConceptFilter{
		DocIDs:       req.DocIDs,
		ChapterNames: req.Chapters,
		Names:        req.KnowledgePoints,
	})
	if err != nil {
		o.logger.Warn("concept lookup failed", zap.Error(err))
		return "", 0
	}
	return RenderConcepts(concepts, o.budget), len(concepts)
}
