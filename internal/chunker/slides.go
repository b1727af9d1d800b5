package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

var (
	pageMarkerRe = regexp.MustCompile(`(?im)^##\s*page\s+(\d+)\s*$`)
	deckTitleRe  = regexp.MustCompile(`(?m)^#\s+(.+?)\s*$`)
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	imageRefRe   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// Page is one "## Page N" block of OCR slide output.
type Page struct {
	Number int
	Body   string
}

// ParsePages splits OCR slide Markdown at "## Page N" markers. Text before
// the first marker is not a page.
func ParsePages(markdown string) []Page {
	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")
	locs := pageMarkerRe.FindAllStringSubmatchIndex(markdown, -1)
	pages := make([]Page, 0, len(locs))
	for i, loc := range locs {
		n, err := strconv.Atoi(markdown[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(markdown)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pages = append(pages, Page{Number: n, Body: strings.TrimSpace(markdown[loc[1]:end])})
	}
	return pages
}

// DeckTitle is the first level-one heading, or fallback when there is none.
func DeckTitle(markdown, fallback string) string {
	if m := deckTitleRe.FindStringSubmatch(markdown); m != nil {
		return m[1]
	}
	return fallback
}

// CleanSlideText strips inline HTML and image references and collapses
// whitespace runs inside each line.
func CleanSlideText(body string) string {
	body = imageRefRe.ReplaceAllString(body, "")
	body = htmlTagRe.ReplaceAllString(body, "")
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = collapseSpaces(l)
	}
	return strings.TrimSpace(blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func collapseSpaces(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// Slides chunks OCR slide-deck Markdown, one section per page.
type Slides struct {
	opts Options
}

// NewSlides returns the slide-deck strategy.
func NewSlides(opts Options) *Slides {
	return &Slides{opts: opts.withDefaults()}
}

// Chunk implements Chunker. Pages whose cleaned text is shorter than
// MinSlideChars are treated as image-only and dropped.
func (s *Slides) Chunk(docID, markdown string) []*models.Chunk {
	return assemble(docID, models.SourceSlides, pageSpans(docID, markdown, "Slide", s.opts.MinSlideChars), s.opts)
}

// pageSpans makes one span per "## Page N" block, headed by the deck title
// and label plus the page number.
func pageSpans(docID, markdown, label string, minChars int) []span {
	title := DeckTitle(markdown, docID)
	var spans []span
	for _, p := range ParsePages(markdown) {
		body := CleanSlideText(p.Body)
		if utils.RuneLen(strings.TrimSpace(body)) < minChars {
			continue
		}
		name := fmt.Sprintf("%s %d", label, p.Number)
		spans = append(spans, span{
			chapterNum:  0,
			chapterName: title,
			sectionNum:  p.Number,
			sectionName: name,
			header:      breadcrumb(title, name),
			body:        body,
		})
	}
	return spans
}
