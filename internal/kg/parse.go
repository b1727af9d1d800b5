package kg

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/storage"
	"github.com/hyperjump/tiku/pkg/utils"
)

// ErrUnparseable is returned when a model response holds no JSON object of the
// expected shape.
var ErrUnparseable = errors.New("unparseable extraction response")

// Extraction is the JSON shape the extraction prompt asks for.
type Extraction struct {
	KeyPoints        nameList        `json:"key_points"`
	DifficultyPoints nameList        `json:"difficulty_points"`
	Concepts         []ConceptDraft  `json:"concepts"`
	Relations        []RelationDraft `json:"relations"`
}

// ConceptDraft is a concept as the model returned it.
type ConceptDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsKey       bool   `json:"is_key"`
	IsDifficult bool   `json:"is_difficult"`
}

// RelationDraft is an unvalidated relation.
type RelationDraft struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// nameList accepts ["a", "b"] and [{"name": "a"}, ...].
type nameList []string

func (n *nameList) UnmarshalJSON(data []byte) error {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		*n = plain
		return nil
	}
	var objs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &objs); err != nil {
		return err
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Name)
	}
	*n = out
	return nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseResponse extracts the JSON object from a model reply, tolerating
// Markdown code fences and text around the object.
func ParseResponse(text string) (*Extraction, error) {
	body := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object", ErrUnparseable)
	}
	var ext Extraction
	if err := json.Unmarshal([]byte(body[start:end+1]), &ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return &ext, nil
}

// BuildGraph turns an extraction into a storable graph for ch. Concepts named
// in key_points, difficulty_points or a well-typed relation but missing from
// concepts are synthesized with empty descriptions. Relations with a type
// outside the canonical set, a blank endpoint or a self loop are dropped and
// logged. dropped counts them.
func BuildGraph(ch *models.Chapter, ext *Extraction, logger *zap.Logger) (g *storage.ChapterGraph, dropped int) {
	logger = utils.OrNop(logger)
	g = &storage.ChapterGraph{Chapter: ch}
	byName := make(map[string]*models.Concept)
	add := func(name string) *models.Concept {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}
		if c, ok := byName[name]; ok {
			return c
		}
		c := &models.Concept{Name: name}
		byName[name] = c
		g.Concepts = append(g.Concepts, c)
		return c
	}

	for _, d := range ext.Concepts {
		c := add(d.Name)
		if c == nil {
			continue
		}
		if c.Description == "" {
			c.Description = strings.TrimSpace(d.Description)
		}
		c.IsKeyPoint = c.IsKeyPoint || d.IsKey
		c.IsDifficultPoint = c.IsDifficultPoint || d.IsDifficult
	}
	for _, name := range ext.KeyPoints {
		if c := add(name); c != nil {
			c.IsKeyPoint = true
		}
	}
	for _, name := range ext.DifficultyPoints {
		if c := add(name); c != nil {
			c.IsDifficultPoint = true
		}
	}

	seen := make(map[storage.Edge]bool)
	for _, r := range ext.Relations {
		rt, err := models.ParseRelationType(r.Type)
		from, to := strings.TrimSpace(r.From), strings.TrimSpace(r.To)
		if err != nil || from == "" || to == "" || from == to {
			dropped++
			logger.Warn("dropping relation",
				zap.String("chapter", ch.Name),
				zap.String("from", r.From),
				zap.String("to", r.To),
				zap.String("type", r.Type))
			continue
		}
		add(from)
		add(to)
		e := storage.Edge{From: from, To: to, Type: rt}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.Edges = append(g.Edges, e)
	}
	return g, dropped
}
