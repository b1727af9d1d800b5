package chunker

import (
	"strings"

	"github.com/hyperjump/tiku/pkg/utils"
)

// SplitParagraphs splits body on blank lines. Paragraphs are trimmed; empty ones are dropped.
func SplitParagraphs(body string) []string {
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, strings.TrimRight(line, " \t"))
	}
	flush()
	return out
}

// Normalize splits paragraphs longer than maxChars, then merges the ones
// shorter than minChars. Every result is at most maxChars runes.
func Normalize(paras []string, minChars, maxChars int) []string {
	var split []string
	for _, p := range paras {
		split = append(split, SplitParagraph(p, maxChars)...)
	}
	return MergeShort(split, minChars, maxChars)
}

// SplitParagraph cuts p at sentence terminators into pieces of at most
// maxChars runes. A paragraph of exactly maxChars is returned whole. A single
// sentence longer than maxChars is hard-cut.
func SplitParagraph(p string, maxChars int) []string {
	if maxChars <= 0 || utils.RuneLen(p) <= maxChars {
		return []string{p}
	}
	var out []string
	var cur []rune
	for _, s := range Sentences(p) {
		r := []rune(s)
		if len(cur)+len(r) <= maxChars {
			cur = append(cur, r...)
			continue
		}
		if len(cur) > 0 {
			out = appendTrimmed(out, string(cur))
			cur = cur[:0]
		}
		for len(r) > maxChars {
			out = appendTrimmed(out, string(r[:maxChars]))
			r = r[maxChars:]
		}
		cur = append(cur, r...)
	}
	if len(cur) > 0 {
		out = appendTrimmed(out, string(cur))
	}
	return out
}

func appendTrimmed(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}

// Sentences splits text after Chinese and Western terminators, keeping each
// terminator (and any closing quote after it) with its sentence. Joining the
// result reproduces text.
func Sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		end := -1
		switch runes[i] {
		case '。', '！', '？', '!', '?', '；', ';':
			end = i + 1
		case '.':
			if i+1 < len(runes) && runes[i+1] == ' ' {
				end = i + 1
			}
		}
		if end < 0 {
			continue
		}
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}
		out = append(out, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isCloser(r rune) bool {
	switch r {
	case '”', '’', '"', '\'', '」', '』', '）', ')':
		return true
	}
	return false
}

// MergeShort folds paragraphs shorter than minChars into the following one
// when the join stays within maxChars. A short trailing paragraph folds into
// the previous one under the same bound. Merged text is joined with a newline.
func MergeShort(paras []string, minChars, maxChars int) []string {
	var out []string
	pending := ""
	for _, p := range paras {
		if pending != "" {
			if joined := pending + "\n" + p; utils.RuneLen(joined) <= maxChars {
				p = joined
			} else {
				out = append(out, pending)
			}
			pending = ""
		}
		if utils.RuneLen(p) < minChars {
			pending = p
			continue
		}
		out = append(out, p)
	}
	if pending != "" {
		if n := len(out); n > 0 && utils.RuneLen(out[n-1])+1+utils.RuneLen(pending) <= maxChars {
			out[n-1] += "\n" + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}
