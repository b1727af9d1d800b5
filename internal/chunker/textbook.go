package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/tiku/internal/models"
)

var (
	headingRe      = regexp.MustCompile(`^(#{1,6})\s*(.*?)\s*#*\s*$`)
	chapterZhRe    = regexp.MustCompile(`^第\s*([0-9零〇一二两三四五六七八九十百千]+)\s*章`)
	chapterEnRe    = regexp.MustCompile(`(?i)^chapter\s+([0-9]+|[ivxlc]+)\b`)
	sectionZhRe    = regexp.MustCompile(`^第\s*([0-9零〇一二两三四五六七八九十百千]+)\s*节`)
	sectionNumRe   = regexp.MustCompile(`^[0-9]+\.[0-9]+(?:\.[0-9]+)*\s*\S`)
	sectionListRe  = regexp.MustCompile(`^[一二三四五六七八九十]+、\s*\S`)
	learningGoalRe = regexp.MustCompile(`【学习目标】`)
)

// Section is one section of a chapter body. Number 0 is the text before the
// first section heading.
type Section struct {
	Number int
	Name   string
	Body   string
}

// ParseChapters splits a textbook into chapters at level one and two headings
// that name a chapter ("第三章", "Chapter 3"). Text before the first chapter is
// ignored. Learning-goal blocks ("## 标题【学习目标】") are moved out of Content
// into LearningGoals of the chapter they belong to. OCR "## Page N" markers
// are dropped so chapters spanning pages read as one body.
func ParseChapters(docID, markdown string) []*models.Chapter {
	var chapters []*models.Chapter
	var cur *models.Chapter
	var body, goals []string
	var pendingGoals []string
	inGoals := false

	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		cur.LearningGoals = strings.TrimSpace(strings.Join(goals, "\n"))
		chapters = append(chapters, cur)
	}

	for _, line := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		if pageMarkerRe.MatchString(line) {
			continue
		}
		level, title, isHeading := parseHeading(line)
		if isHeading {
			if learningGoalRe.MatchString(title) {
				inGoals = true
				continue
			}
			if level <= 2 {
				if num, ok := chapterNumber(title); ok {
					flush()
					cur = &models.Chapter{DocID: docID, Number: num, Name: title}
					body, goals = nil, append([]string(nil), pendingGoals...)
					pendingGoals = nil
					inGoals = false
					continue
				}
			}
			inGoals = false
		}
		if inGoals {
			if cur == nil {
				pendingGoals = append(pendingGoals, line)
			} else {
				goals = append(goals, line)
			}
			continue
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	flush()
	for i, ch := range chapters {
		if ch.Number <= 0 {
			ch.Number = i + 1
		}
	}
	return chapters
}

// ParseSections splits a chapter body at section headings: "第X节", numbered
// forms such as "1.2" and list forms such as "二、". A plain "第X节" line also
// counts as a heading. Sections are numbered by order of appearance.
func ParseSections(content string) []Section {
	var sections []Section
	cur := Section{}
	var body []string
	flush := func() {
		cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Number == 0 && cur.Body == "" {
			return
		}
		sections = append(sections, cur)
	}
	n := 0
	for _, line := range strings.Split(content, "\n") {
		_, title, isHeading := parseHeading(line)
		plain := strings.TrimSpace(line)
		if (isHeading && isSectionTitle(title)) || (!isHeading && sectionZhRe.MatchString(plain) && len([]rune(plain)) <= 40) {
			if !isHeading {
				title = plain
			}
			flush()
			n++
			cur = Section{Number: n, Name: title}
			body = nil
			continue
		}
		if isHeading {
			// Minor headings stay in the body as their own line.
			line = title
		}
		body = append(body, line)
	}
	flush()
	return sections
}

func isSectionTitle(title string) bool {
	return sectionZhRe.MatchString(title) || sectionNumRe.MatchString(title) || sectionListRe.MatchString(title)
}

func parseHeading(line string) (level int, title string, ok bool) {
	m := headingRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil || m[2] == "" {
		return 0, "", false
	}
	return len(m[1]), m[2], true
}

func chapterNumber(title string) (int, bool) {
	if m := chapterZhRe.FindStringSubmatch(title); m != nil {
		n, ok := ParseChineseNumber(m[1])
		return n, ok
	}
	if m := chapterEnRe.FindStringSubmatch(title); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
		if n, ok := parseRoman(m[1]); ok {
			return n, true
		}
		return 0, true
	}
	return 0, false
}

var chineseDigits = map[rune]int{
	'零': 0, '〇': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// ParseChineseNumber parses Arabic digits or Chinese numerals up to the
// thousands ("十二", "二十", "一百零五").
func ParseChineseNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	total, num := 0, 0
	for _, r := range s {
		if d, ok := chineseDigits[r]; ok {
			num = d
			continue
		}
		unit := 0
		switch r {
		case '十':
			unit = 10
		case '百':
			unit = 100
		case '千':
			unit = 1000
		default:
			return 0, false
		}
		if num == 0 {
			num = 1
		}
		total += num * unit
		num = 0
	}
	return total + num, true
}

func parseRoman(s string) (int, bool) {
	values := map[rune]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100}
	runes := []rune(strings.ToLower(s))
	total := 0
	for i, r := range runes {
		v, ok := values[r]
		if !ok {
			return 0, false
		}
		if i+1 < len(runes) && values[runes[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	return total, total > 0
}

// Textbook chunks chaptered Markdown.
type Textbook struct {
	opts Options
}

// NewTextbook returns the textbook strategy.
func NewTextbook(opts Options) *Textbook {
	return &Textbook{opts: opts.withDefaults()}
}

// Chunk implements Chunker. OCR output without any chapter heading is
// chunked page by page instead.
func (t *Textbook) Chunk(docID, markdown string) []*models.Chunk {
	chapters := ParseChapters(docID, markdown)
	if len(chapters) == 0 && pageMarkerRe.MatchString(markdown) {
		return assemble(docID, models.SourceTextbook, pageSpans(docID, markdown, "Page", t.opts.MinSlideChars), t.opts)
	}
	var spans []span
	for _, ch := range chapters {
		for _, sec := range ParseSections(ch.Content) {
			spans = append(spans, span{
				chapterNum:  ch.Number,
				chapterName: ch.Name,
				sectionNum:  sec.Number,
				sectionName: sec.Name,
				header:      breadcrumb(ch.Name, sec.Name),
				body:        sec.Body,
			})
		}
	}
	return assemble(docID, models.SourceTextbook, spans, t.opts)
}
