package models

import "strings"

// SearchQuery represents a retrieval request with optional filters.
type SearchQuery struct {
	Query   string   `json:"query"`
	TopN    int      `json:"top_n,omitempty"`
	Filters *Filters `json:"filters,omitempty"`
	// Expand overrides the configured context-expansion default when set.
	Expand *bool `json:"expand,omitempty"`
	// Rerank disables the configured reranker when set to false.
	Rerank *bool `json:"rerank,omitempty"`
}

// Normalize trims the query and caps TopN at maxN. It returns false when the
// query cannot produce results (blank text or a non-positive TopN).
func (q *SearchQuery) Normalize(maxN int) bool {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" || q.TopN <= 0 {
		return false
	}
	if maxN > 0 && q.TopN > maxN {
		q.TopN = maxN
	}
	return true
}
