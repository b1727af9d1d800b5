// Package cli formats tiku results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/tiku/internal/app"
	"github.com/hyperjump/tiku/internal/generate"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// PreviewRunes is how much chunk text a text listing shows.
const PreviewRunes = 200

const rule = "─────────────────────────────────────────────────────────"

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f", result.Rank, result.Score)
	if result.DenseRank > 0 || result.SparseRank > 0 {
		fmt.Fprintf(w, " (dense #%d, sparse #%d)", result.DenseRank, result.SparseRank)
	}
	if result.RerankScore != 0 {
		fmt.Fprintf(w, " | Rerank: %.4f", result.RerankScore)
	}
	if result.Neighbor {
		fmt.Fprint(w, " | neighbor")
	}
	fmt.Fprintln(w)
	if c := result.Chunk; c != nil {
		fmt.Fprintf(w, "ID: %s (doc %s)\n", c.ChunkID, c.DocID)
		if c.ContextHeader != "" {
			fmt.Fprintf(w, "%s\n", c.ContextHeader)
		}
		fmt.Fprintf(w, "\n%s\n", Truncate(strings.TrimSpace(c.Text), PreviewRunes))
	}
	fmt.Fprintln(w)
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteGeneration writes a generation result. Text output is the model's
// answer followed by the chunks it was grounded on.
func WriteGeneration(w io.Writer, result *generate.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintln(w, strings.TrimSpace(result.Text))
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "mode: %s", result.Mode)
	if result.Fallback {
		fmt.Fprint(w, " (no context found)")
	}
	fmt.Fprintln(w)
	if len(result.Queries) > 0 {
		fmt.Fprintf(w, "queries: %s\n", strings.Join(result.Queries, " | "))
	}
	if len(result.ChunkIDs) > 0 {
		fmt.Fprintf(w, "chunks: %s\n", strings.Join(result.ChunkIDs, ", "))
	}
	if result.Concepts > 0 {
		fmt.Fprintf(w, "concepts: %d\n", result.Concepts)
	}
	return nil
}

// WriteTasks writes task records, one line each in text format.
func WriteTasks(w io.Writer, list []*models.Task, format OutputFormat) error {
	if format == OutputJSON {
		if list == nil {
			list = []*models.Task{}
		}
		return writeJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No tasks")
		return nil
	}
	for _, t := range list {
		fmt.Fprintln(w, taskLine(t))
	}
	return nil
}

func taskLine(t *models.Task) string {
	line := fmt.Sprintf("%s  %-6s  %-7s  %s", t.ID, t.Kind, t.Status, t.DocID)
	if t.Progress != nil && t.Progress.Total > 0 {
		line += fmt.Sprintf("  [%d/%d]", t.Progress.Current, t.Progress.Total)
	}
	if t.Message != "" {
		line += "  " + Truncate(t.Message, 80)
	}
	return line
}

// WriteStatus writes a store summary.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	consistent := "consistent"
	if !st.Consistent {
		consistent = "INCONSISTENT, run rebuild"
	}
	fmt.Fprintf(w, "Documents: %d\n", len(st.Documents))
	fmt.Fprintf(w, "Chunks: table %d, dense %d, sparse %d (%s)\n", st.Counts.Table, st.Counts.Dense, st.Counts.Sparse, consistent)
	fmt.Fprintf(w, "Embedding: %s (%d dims), vectors in %s store\n", st.EmbeddingModel, st.Dimensions, st.VectorType)
	fmt.Fprintf(w, "LLM: %s | OCR: %s | Rerank: %s\n", available(st.LLM), available(st.OCR), available(st.Rerank))
	for _, s := range st.Stores {
		fmt.Fprintf(w, "  %-8s %10s  %s\n", s.Name, humanBytes(s.Bytes), s.Path)
	}
	fmt.Fprintf(w, "Disk usage: %s\n", humanBytes(st.DiskUsageBytes))
	if len(st.Documents) > 0 {
		fmt.Fprintln(w)
		for _, d := range st.Documents {
			fmt.Fprintf(w, "  %-40s %-9s %d chunks\n", d.DocID, d.SourceType, d.Chunks)
		}
	}
	return nil
}

func available(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Truncate shortens s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}
