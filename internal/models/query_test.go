package models

import (
	"errors"
	"testing"
)

func TestSearchQuery_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		query  *SearchQuery
		wantOK bool
		wantN  int
	}{
		{"empty query", &SearchQuery{Query: "", TopN: 5}, false, 5},
		{"blank query", &SearchQuery{Query: "  \t", TopN: 5}, false, 5},
		{"zero top n", &SearchQuery{Query: "供求", TopN: 0}, false, 0},
		{"valid query", &SearchQuery{Query: "供求", TopN: 5}, true, 5},
		{"caps top n", &SearchQuery{Query: "x", TopN: 500}, true, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := tt.query.Normalize(50)
			if ok != tt.wantOK {
				t.Errorf("Normalize() = %v, want %v", ok, tt.wantOK)
			}
			if tt.query.TopN != tt.wantN {
				t.Errorf("TopN = %d, want %d", tt.query.TopN, tt.wantN)
			}
		})
	}
}

func TestParseSourceType(t *testing.T) {
	for _, in := range []string{"textbook", "Slides", " slides "} {
		if _, err := ParseSourceType(in); err != nil {
			t.Errorf("ParseSourceType(%q) error: %v", in, err)
		}
	}
	if _, err := ParseSourceType("video"); !errors.Is(err, ErrUnknownSourceType) {
		t.Errorf("expected ErrUnknownSourceType, got %v", err)
	}
}

func TestParseRelationType(t *testing.T) {
	for _, rt := range RelationTypes {
		got, err := ParseRelationType(string(rt))
		if err != nil || got != rt {
			t.Errorf("ParseRelationType(%q) = %q, %v", rt, got, err)
		}
	}
	if _, err := ParseRelationType("causes"); !errors.Is(err, ErrInvalidRelationType) {
		t.Errorf("expected ErrInvalidRelationType, got %v", err)
	}
}

func TestFilters_Match(t *testing.T) {
	c := &Chunk{DocID: "econ", SourceType: SourceTextbook, ChapterNum: 1}
	tests := []struct {
		name string
		f    *Filters
		want bool
	}{
		{"nil filters", nil, true},
		{"empty filters", &Filters{}, true},
		{"doc match", &Filters{DocIDs: []string{"x", "econ"}}, true},
		{"doc miss", &Filters{DocIDs: []string{"x"}}, false},
		{"source miss", &Filters{SourceType: SourceSlides}, false},
		{"chapter match", &Filters{ChapterNum: IntPtr(1)}, true},
		{"chapter miss", &Filters{ChapterNum: IntPtr(2)}, false},
		{"conjunction", &Filters{DocIDs: []string{"econ"}, SourceType: SourceTextbook, ChapterNum: IntPtr(2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(c); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
