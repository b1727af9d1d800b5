package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tiku/internal/app"
	"github.com/hyperjump/tiku/internal/generate"
	"github.com/hyperjump/tiku/internal/indexer"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "均衡价格",
		QueryTime: 42,
		Total:     2,
		Results: []*models.SearchResult{
			{
				Rank:       1,
				Score:      0.0325,
				DenseRank:  1,
				SparseRank: 2,
				Chunk: &models.Chunk{
					ChunkID:       "econ_ch1_s2_p0",
					DocID:         "econ",
					SourceType:    models.SourceTextbook,
					ContextHeader: "第一章 市场与价格 > 第二节 市场均衡",
					Text:          "均衡价格是供给量等于需求量时的价格。",
				},
			},
			{
				Rank:     2,
				Score:    0.01,
				Neighbor: true,
				Chunk:    &models.Chunk{ChunkID: "econ_ch1_s2_p1", DocID: "econ", Text: strings.Repeat("价", PreviewRunes+10)},
			},
		},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Results) != 2 || decoded.Results[0].Chunk.ChunkID != "econ_ch1_s2_p0" {
		t.Errorf("decoded results: got %+v", decoded.Results)
	}
}

func TestWriteSearchResults_JSON_keepsCJK(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "均衡价格") {
		t.Error("CJK text should not be escaped")
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Found 2 results in 42ms",
		"Rank: 1 | Score: 0.0325 (dense #1, sparse #2)",
		"ID: econ_ch1_s2_p0 (doc econ)",
		"第一章 市场与价格 > 第二节 市场均衡",
		"| neighbor",
		strings.Repeat("价", PreviewRunes) + "...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output should contain %q\n%s", want, out)
		}
	}
}

func TestWriteSearchResults_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, &models.SearchResponse{}, OutputFormat("xml")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("unknown format should fall back to text, got %q", buf.String())
	}
}

func TestWriteGeneration_text(t *testing.T) {
	res := &generate.Result{
		Text:     "1. 均衡价格是指（ ）\nA. ...",
		Mode:     generate.ModeRAG,
		Queries:  []string{"均衡价格", "供求关系"},
		ChunkIDs: []string{"econ_ch1_s2_p0"},
	}
	var buf bytes.Buffer
	if err := WriteGeneration(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "1. 均衡价格是指") {
		t.Errorf("answer should come first, got %q", out)
	}
	if !strings.Contains(out, "queries: 均衡价格 | 供求关系") || !strings.Contains(out, "chunks: econ_ch1_s2_p0") {
		t.Errorf("missing grounding lines:\n%s", out)
	}
}

func TestWriteTasks(t *testing.T) {
	now := time.Now()
	list := []*models.Task{
		{ID: "t1", Kind: "ocr", DocID: "econ", Status: models.TaskRunning, Progress: &models.Progress{Current: 2, Total: 5}, StartedAt: now},
		{ID: "t2", Kind: "kg", DocID: "econ", Status: models.TaskError, Message: "boom", StartedAt: now},
	}
	var buf bytes.Buffer
	if err := WriteTasks(&buf, list, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "[2/5]") || !strings.HasSuffix(lines[1], "boom") {
		t.Errorf("got %q", lines)
	}

	buf.Reset()
	if err := WriteTasks(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list: got %q", buf.String())
	}
}

func TestWriteStatus_text(t *testing.T) {
	st := &app.Status{
		Documents:      []storage.DocumentInfo{{DocID: "econ", SourceType: models.SourceTextbook, Chunks: 3}},
		Counts:         indexer.Counts{Table: 3, Dense: 3, Sparse: 2},
		Consistent:     false,
		VectorType:     "bolt",
		DiskUsageBytes: 3 * 1024 * 1024,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Documents: 1", "INCONSISTENT", "LLM: not configured", "Disk usage: 3.0 MiB", "econ"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output should contain %q\n%s", want, out)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.n); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"市场均衡价格", 4, "市场均衡..."},
		{"x", 0, "x"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.s, tt.maxLen); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
		}
	}
}

func TestPrintSearchResults(t *testing.T) {
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	PrintSearchResults(sampleResponse())
	w.Close()
	os.Stdout = old
	out, _ := io.ReadAll(r)
	if !strings.Contains(string(out), "Found 2 results") {
		t.Errorf("PrintSearchResults: got %q", out)
	}
}
