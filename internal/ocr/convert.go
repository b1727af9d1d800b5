package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter turns a slide deck into a PDF.
type Converter interface {
	Name() string
	Available() bool
	// Convert writes the PDF into outDir and returns its path.
	Convert(ctx context.Context, src, outDir string) (string, error)
}

// OfficeConverter drives a headless LibreOffice binary.
type OfficeConverter struct {
	Binary string
}

// Name implements Converter.
func (c OfficeConverter) Name() string { return c.Binary }

// Available implements Converter.
func (c OfficeConverter) Available() bool {
	_, err := exec.LookPath(c.Binary)
	return err == nil
}

// Convert implements Converter.
func (c OfficeConverter) Convert(ctx context.Context, src, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, c.Binary, "--headless", "--convert-to", "pdf", "--outdir", outDir, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", c.Binary, err, strings.TrimSpace(string(out)))
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	pdf := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("%s produced no PDF: %w", c.Binary, err)
	}
	return pdf, nil
}

// NewConverters builds converters in priority order from their binary names.
// Unknown names are an error.
func NewConverters(names []string) ([]Converter, error) {
	out := make([]Converter, 0, len(names))
	for _, n := range names {
		switch n {
		case "soffice", "libreoffice":
			out = append(out, OfficeConverter{Binary: n})
		default:
			return nil, fmt.Errorf("unknown slide converter %q", n)
		}
	}
	return out, nil
}
