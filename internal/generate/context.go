package generate

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Defaults for context assembly, in runes where they measure text.
const (
	DefaultBudget       = 6000
	DefaultMaxQueries   = 12
	DefaultPerQueryTopN = 6
)

// ContextDelimiter separates passages in the assembled context.
const ContextDelimiter = "\n\n---\n\n"

// NoContextPlaceholder stands in for {context} when nothing was retrieved.
const NoContextPlaceholder = "（未检索到相关资料，请基于学科通用知识出题。）\nNo context available; generate from general knowledge."

// GenericQueries are used when the caller names no chapter or knowledge point.
var GenericQueries = []string{
	"核心概念与定义",
	"重要原理与规律",
	"典型应用与案例分析",
}

// BuildQueries returns up to max retrieval queries: chapter names first, then
// knowledge-point names, blanks and duplicates dropped. With none given it
// returns GenericQueries.
func BuildQueries(chapters, knowledgePoints []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxQueries
	}
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{chapters, knowledgePoints} {
		for _, q := range list {
			q = strings.TrimSpace(q)
			if q == "" || seen[q] {
				continue
			}
			seen[q] = true
			if len(out) == max {
				return out
			}
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), GenericQueries...)
	}
	return out
}

// Assembled is the context text with the chunks it drew from.
type Assembled struct {
	Text     string
	ChunkIDs []string
}

// AssembleContext walks the per-query result lists in order, skips chunks
// already taken and stops before the passage that would push the total past
// budget runes.
func AssembleContext(perQuery [][]*models.SearchResult, budget int) Assembled {
	if budget <= 0 {
		budget = DefaultBudget
	}
	seen := make(map[string]bool)
	var parts []string
	var ids []string
	used := 0
	for _, results := range perQuery {
		for _, res := range results {
			if res == nil || res.Chunk == nil || seen[res.Chunk.ChunkID] {
				continue
			}
			seen[res.Chunk.ChunkID] = true
			text := strings.TrimSpace(res.Chunk.Text)
			if text == "" {
				continue
			}
			if res.Chunk.ContextHeader != "" {
				text = "【" + res.Chunk.ContextHeader + "】\n" + text
			}
			n := utils.RuneLen(text)
			if used+n > budget {
				return Assembled{Text: strings.Join(parts, ContextDelimiter), ChunkIDs: ids}
			}
			used += n
			parts = append(parts, text)
			ids = append(ids, res.Chunk.ChunkID)
		}
	}
	return Assembled{Text: strings.Join(parts, ContextDelimiter), ChunkIDs: ids}
}

// RenderConcepts formats concepts as Markdown headings with their description
// and outgoing relations, under the same budget rule as AssembleContext.
func RenderConcepts(concepts []*models.ConceptView, budget int) string {
	if budget <= 0 {
		budget = DefaultBudget
	}
	var parts []string
	used := 0
	for _, c := range concepts {
		var b strings.Builder
		fmt.Fprintf(&b, "### %s", c.Name)
		var tags []string
		if c.IsKeyPoint {
			tags = append(tags, "重点")
		}
		if c.IsDifficultPoint {
			tags = append(tags, "难点")
		}
		if len(tags) > 0 {
			fmt.Fprintf(&b, "（%s）", strings.Join(tags, "、"))
		}
		fmt.Fprintf(&b, "\n章节：%s\n内容：%s", c.ChapterName, c.Description)
		if len(c.Relations) > 0 {
			rels := make([]string, len(c.Relations))
			for i, r := range c.Relations {
				rels[i] = fmt.Sprintf("%s → %s", r.Type, r.Target)
			}
			fmt.Fprintf(&b, "\n关系：%s", strings.Join(rels, "；"))
		}
		text := b.String()
		n := utils.RuneLen(text)
		if used+n > budget {
			break
		}
		used += n
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

// Fill substitutes {context} and {question_list} in template. A template
// without {context} gets the context appended under a heading.
func Fill(template, context, questionList string) string {
	if !strings.Contains(template, "{context}") {
		template += "\n\n参考资料：\n{context}"
	}
	return strings.NewReplacer("{context}", context, "{question_list}", questionList).Replace(template)
}
