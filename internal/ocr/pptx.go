package ocr

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	// paragraphRe matches one <a:p> paragraph; atTag its text runs.
	paragraphRe = regexp.MustCompile(`(?s)<a:p>(.*?)</a:p>|<a:p [^>]*>(.*?)</a:p>`)
	atTag       = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	imageRelRe  = regexp.MustCompile(`<Relationship [^>]*Type="[^"]*/image"[^>]*Target="([^"]+)"|<Relationship [^>]*Target="([^"]+)"[^>]*Type="[^"]*/image"`)
)

// Slide is one slide pulled straight out of a .pptx.
type Slide struct {
	Number int
	// Lines are the text paragraphs in reading order.
	Lines []string
	// Images are the embedded pictures, relative to the output dir.
	Images []string
}

// Markdown renders the slide as a "## Page N" block. extra is appended after
// the pictures.
func (s Slide) Markdown(extra ...string) string {
	parts := append([]string(nil), s.Lines...)
	for _, img := range s.Images {
		parts = append(parts, fmt.Sprintf("![](%s)", img))
	}
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			parts = append(parts, e)
		}
	}
	return FormatPage(s.Number, strings.Join(parts, "\n\n"))
}

// ExportSlides reads the text paragraphs and embedded pictures of each slide
// of a .pptx. Pictures are copied into outDir/images. It is the fallback
// when no converter can produce a PDF.
func ExportSlides(pptxPath, outDir string) ([]Slide, error) {
	zr, err := zip.OpenReader(pptxPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", pptxPath, err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	var numbers []int
	for _, f := range zr.File {
		files[f.Name] = f
		if m := slideNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("no slides in %s", pptxPath)
	}
	imagesDir := filepath.Join(outDir, ImagesDir)
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return nil, err
	}

	slides := make([]Slide, 0, len(numbers))
	for _, n := range numbers {
		xml, err := readZip(files[fmt.Sprintf("ppt/slides/slide%d.xml", n)])
		if err != nil {
			return nil, err
		}
		slide := Slide{Number: n}
		for _, p := range paragraphRe.FindAllStringSubmatch(xml, -1) {
			body := p[1] + p[2]
			var line strings.Builder
			for _, t := range atTag.FindAllStringSubmatch(body, -1) {
				line.WriteString(unescapeXML(t[1]))
			}
			if s := strings.TrimSpace(line.String()); s != "" {
				slide.Lines = append(slide.Lines, s)
			}
		}

		if rels, ok := files[fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n)]; ok {
			relXML, err := readZip(rels)
			if err != nil {
				return nil, err
			}
			for _, m := range imageRelRe.FindAllStringSubmatch(relXML, -1) {
				target := path.Clean(path.Join("ppt/slides", m[1]+m[2]))
				media, ok := files[target]
				if !ok {
					continue
				}
				name := fmt.Sprintf("s%03d_%s", n, path.Base(target))
				if err := copyZip(media, filepath.Join(imagesDir, name)); err != nil {
					return nil, err
				}
				slide.Images = append(slide.Images, ImagesDir+"/"+name)
			}
		}
		slides = append(slides, slide)
	}
	return slides, nil
}

func readZip(f *zip.File) (string, error) {
	if f == nil {
		return "", fmt.Errorf("missing archive entry")
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return string(b), nil
}

func copyZip(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
