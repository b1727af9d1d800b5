package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRelationType is returned for a relation type outside the canonical set.
var ErrInvalidRelationType = errors.New("invalid relation type")

// RelationType is a directed edge kind between two concepts.
type RelationType string

const (
	RelationIsA           RelationType = "is_a"
	RelationContrastsWith RelationType = "contrasts_with"
	RelationDependsOn     RelationType = "depends_on"
	RelationLeadsTo       RelationType = "leads_to"
)

// RelationTypes lists the canonical relation types.
var RelationTypes = []RelationType{RelationIsA, RelationContrastsWith, RelationDependsOn, RelationLeadsTo}

// ParseRelationType validates s and returns the matching RelationType.
func ParseRelationType(s string) (RelationType, error) {
	rt := RelationType(strings.ToLower(strings.TrimSpace(s)))
	if rt.Valid() {
		return rt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRelationType, s)
}

// Valid reports whether t is canonical.
func (t RelationType) Valid() bool {
	for _, v := range RelationTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Chapter is a knowledge-graph unit: a textbook chapter or a slide topic group.
type Chapter struct {
	ID            int64  `json:"id"`
	DocID         string `json:"doc_id"`
	Number        int    `json:"number"`
	Name          string `json:"name"`
	Content       string `json:"content,omitempty"`
	LearningGoals string `json:"learning_goals,omitempty"`
}

// Concept is a named idea extracted from a chapter.
type Concept struct {
	ID               int64  `json:"id"`
	ChapterID        int64  `json:"chapter_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	IsKeyPoint       bool   `json:"is_key_point"`
	IsDifficultPoint bool   `json:"is_difficult_point"`
}

// Relation is a directed edge between two concepts.
type Relation struct {
	ID            int64        `json:"id"`
	FromConceptID int64        `json:"from_concept_id"`
	ToConceptID   int64        `json:"to_concept_id"`
	Type          RelationType `json:"relation_type"`
}

// ConceptView is a concept joined with its chapter and outgoing relations, for prompt rendering.
type ConceptView struct {
	Concept
	DocID       string         `json:"doc_id"`
	ChapterName string         `json:"chapter_name"`
	Relations   []RelationView `json:"relations,omitempty"`
}

// RelationView is a relation with resolved target name.
type RelationView struct {
	Type   RelationType `json:"relation_type"`
	Target string       `json:"target"`
}

// ConceptFilter selects concepts for KG-only generation. Empty fields match everything.
type ConceptFilter struct {
	DocIDs       []string `json:"doc_ids,omitempty"`
	ChapterNames []string `json:"chapters,omitempty"`
	Names        []string `json:"kp_names,omitempty"`
}

// TopicChapterIDBase is the lowest chapter id used for slide topic groups.
// Textbook chapters are numbered below it so the two ranges never collide.
const TopicChapterIDBase int64 = 1_000_000
