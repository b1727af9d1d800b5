package search

import (
	"github.com/hyperjump/tiku/internal/config"
	"github.com/hyperjump/tiku/internal/models"
)

// plan is a query with configuration defaults resolved.
type plan struct {
	topN   int
	topK   int
	expand bool
	rerank bool
}

// ProcessQuery normalizes query and resolves per-request switches against
// cfg. ok is false when the query cannot produce results.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig, haveReranker bool) (p plan, ok bool) {
	if !query.Normalize(cfg.MaxTopN) {
		return plan{}, false
	}
	p = plan{
		topN:   query.TopN,
		topK:   cfg.TopK,
		expand: cfg.ExpandOrDefault(),
		rerank: haveReranker,
	}
	if query.Expand != nil {
		p.expand = *query.Expand
	}
	if query.Rerank != nil && !*query.Rerank {
		p.rerank = false
	}
	return p, true
}
