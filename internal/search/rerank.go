package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Reranker scores (query, document) pairs with a cross-encoder.
type Reranker interface {
	// Rerank returns up to topN scores by descending relevance.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankScore, error)
}

// RerankScore is a relevance score for documents[Index].
type RerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// RerankError is a non-2xx response from the rerank endpoint.
type RerankError struct {
	StatusCode int
	Body       string
}

func (e *RerankError) Error() string {
	return fmt.Sprintf("rerank request failed with status %d: %s", e.StatusCode, e.Body)
}

// HTTPReranker calls a rerank endpoint speaking the common
// {model, query, documents, top_n} -> {results:[{index, relevance_score}]} shape.
type HTTPReranker struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

// NewHTTPReranker creates a reranker posting to baseURL + "/rerank".
func NewHTTPReranker(baseURL, model, apiKey string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		url:    strings.TrimRight(baseURL, "/") + "/rerank",
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []RerankScore `json:"results"`
}

// Rerank implements Reranker.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankScore, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call reranker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RerankError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return CleanScores(out.Results, len(documents), topN), nil
}

// CleanScores drops scores pointing outside n documents, keeps the best score
// of an index returned more than once and sorts by descending score, cut to
// topN when positive.
func CleanScores(scores []RerankScore, n, topN int) []RerankScore {
	sorted := append([]RerankScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	seen := make(map[int]bool, len(sorted))
	out := sorted[:0]
	for _, s := range sorted {
		if s.Index < 0 || s.Index >= n || seen[s.Index] {
			continue
		}
		seen[s.Index] = true
		out = append(out, s)
	}
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
