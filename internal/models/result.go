package models

// SearchResult is a retrieved chunk with the scores that placed it.
type SearchResult struct {
	Chunk       *Chunk  `json:"chunk"`
	Score       float64 `json:"score"`
	DenseRank   int     `json:"dense_rank,omitempty"`
	SparseRank  int     `json:"sparse_rank,omitempty"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	// Neighbor is set for hits added by context expansion.
	Neighbor bool `json:"neighbor,omitempty"`
	Rank     int  `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}
