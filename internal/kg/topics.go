package kg

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/hyperjump/tiku/internal/chunker"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// Title-page heuristics, in runes. Tuned for Chinese and English decks.
const (
	TitleHardChars   = 30
	TitleSoftChars   = 60
	MaxPagesPerGroup = 8
	MinGroupChars    = 50
)

var (
	topicHeadingRe = regexp.MustCompile(`(?i)^(?:(?:chapter|unit|lecture|part|module)\s*[0-9ivx]+|第\s*[0-9零〇一二两三四五六七八九十百]+\s*[讲章单元部分课])`)
	bulletRe       = regexp.MustCompile(`^\s*(?:[-*+•·▪●○◆■►✓]|\d+[.)、])\s*`)
	markdownMarkRe = regexp.MustCompile(`^#+\s*`)
)

// TopicGroup is a run of slide pages treated as one pseudo-chapter.
type TopicGroup struct {
	// Index is the group's position in detection order, skipped groups included.
	Index   int
	Title   string
	Pages   []int
	Content string
}

type page struct {
	number int
	text   string
	lines  []string
}

// IsTitlePage reports whether cleaned page text looks like a section divider:
// short, at most two lines and no bullets; or somewhat longer with a first
// line such as "Chapter 3" or "第三讲".
func IsTitlePage(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return false
	}
	n := utils.RuneLen(strings.Join(lines, ""))
	if n <= TitleHardChars && len(lines) <= 2 && !hasBullet(lines) {
		return true
	}
	return n <= TitleSoftChars && topicHeadingRe.MatchString(lines[0])
}

// DetectTopicGroups splits OCR slide Markdown into topic groups at title
// pages. Pages before the first title page form a preamble group. With no
// title page at all, pages are grouped MaxPagesPerGroup at a time. Groups
// with fewer than MinGroupChars runes of text are omitted.
func DetectTopicGroups(markdown string) []TopicGroup {
	var pages []page
	for _, p := range chunker.ParsePages(markdown) {
		text := chunker.CleanSlideText(p.Body)
		pages = append(pages, page{number: p.Number, text: text, lines: nonEmptyLines(text)})
	}
	if len(pages) == 0 {
		return nil
	}

	var spans [][]page
	var titled []bool
	var cur []page
	curTitled := false
	anyTitle := false
	for _, p := range pages {
		if IsTitlePage(p.text) {
			anyTitle = true
			if len(cur) > 0 {
				spans = append(spans, cur)
				titled = append(titled, curTitled)
			}
			cur, curTitled = []page{p}, true
			continue
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		spans = append(spans, cur)
		titled = append(titled, curTitled)
	}
	if !anyTitle {
		spans, titled = nil, nil
		for i := 0; i < len(pages); i += MaxPagesPerGroup {
			end := i + MaxPagesPerGroup
			if end > len(pages) {
				end = len(pages)
			}
			spans = append(spans, pages[i:end])
			titled = append(titled, false)
		}
	}

	var groups []TopicGroup
	for i, sp := range spans {
		g := TopicGroup{Index: i}
		var parts []string
		for _, p := range sp {
			g.Pages = append(g.Pages, p.number)
			if p.text != "" {
				parts = append(parts, p.text)
			}
		}
		g.Content = strings.Join(parts, "\n\n")
		if titled[i] {
			g.Title = markdownMarkRe.ReplaceAllString(sp[0].lines[0], "")
		} else {
			g.Title = fmt.Sprintf("Slides %d-%d", sp[0].number, sp[len(sp)-1].number)
		}
		if utils.RuneLen(strings.Join(strings.Fields(g.Content), "")) < MinGroupChars {
			continue
		}
		groups = append(groups, g)
	}
	return groups
}

// TopicChapterID is the stable chapter id of a slide topic group. Ids start at
// models.TopicChapterIDBase so they never meet textbook chapter ids.
func TopicChapterID(docID string, index int) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", docID, index)))
	return models.TopicChapterIDBase + int64(h.Sum32()%1_000_000_000)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func hasBullet(lines []string) bool {
	for _, l := range lines {
		if bulletRe.MatchString(l) {
			return true
		}
	}
	return false
}
