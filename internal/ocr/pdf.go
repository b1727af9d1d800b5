package ocr

import (
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageRange is an inclusive 1-based page range.
type PageRange struct {
	From int
	To   int
}

func (r PageRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Ranges cuts total pages into consecutive ranges of at most limit pages.
func Ranges(total, limit int) []PageRange {
	if total <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = total
	}
	out := make([]PageRange, 0, (total+limit-1)/limit)
	for from := 1; from <= total; from += limit {
		to := from + limit - 1
		if to > total {
			to = total
		}
		out = append(out, PageRange{From: from, To: to})
	}
	return out
}

// PageCounter reports the number of pages of a PDF file.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// Splitter writes the pages of r from src into a new PDF at dst.
type Splitter interface {
	Split(src, dst string, r PageRange) error
}

// PDFTools counts pages with ledongthuc/pdf and splits with pdfcpu.
type PDFTools struct{}

// PageCount implements PageCounter.
func (PDFTools) PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// Split implements Splitter.
func (PDFTools) Split(src, dst string, r PageRange) error {
	if err := api.TrimFile(src, dst, []string{r.String()}, nil); err != nil {
		return fmt.Errorf("failed to extract pages %s of %s: %w", r, src, err)
	}
	return nil
}
