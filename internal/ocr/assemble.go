package ocr

import (
	"fmt"
	"strings"
	"time"
)

// FormatPage renders one page with the "## Page N" marker the slide chunker
// and topic detector split on.
func FormatPage(number int, markdown string) string {
	return fmt.Sprintf("## Page %d\n\n%s\n", number, strings.TrimSpace(markdown))
}

// AssembleResult joins the cached chunk Markdown, in order, under a header
// naming the source, the time and the chunk count.
func AssembleResult(source string, at time.Time, chunks []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", source)
	fmt.Fprintf(&b, "> OCR %s, %d chunks\n\n", at.UTC().Format(time.RFC3339), len(chunks))
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimRight(c, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
