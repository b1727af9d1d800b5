package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// MaxImageBytes caps one downloaded image.
const MaxImageBytes = 32 << 20

// Downloader fetches a referenced image.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// HTTPDownloader fetches images with a plain GET.
type HTTPDownloader struct {
	Client *http.Client
}

// Download implements Downloader.
func (d HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", url, MaxImageBytes)
	}
	return data, nil
}

// ImageName is the local file name of an image referenced as rel on page.
// It depends only on its inputs so a resumed run writes the same names.
func ImageName(page int, rel string) string {
	sum := sha256.Sum256([]byte(rel))
	ext := strings.ToLower(path.Ext(rel))
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	return fmt.Sprintf("p%03d_%s%s", page, hex.EncodeToString(sum[:6]), ext)
}

// localizeImages downloads each image of p into imagesDir and rewrites its
// Markdown and HTML references to ImagesDir/<name>. Failed downloads keep
// the original reference.
func localizeImages(ctx context.Context, d Downloader, imagesDir string, page int, p Page, logger *zap.Logger) string {
	md := p.Markdown
	rels := make([]string, 0, len(p.Images))
	for rel := range p.Images {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		url := p.Images[rel]
		name := ImageName(page, rel)
		data, err := d.Download(ctx, url)
		if err == nil {
			err = os.WriteFile(filepath.Join(imagesDir, name), data, 0644)
		}
		if err != nil {
			logger.Warn("image download failed, keeping reference",
				zap.Int("page", page), zap.String("image", rel), zap.Error(err))
			continue
		}
		md = rewriteImageRef(md, rel, ImagesDir+"/"+name)
	}
	return md
}

// rewriteImageRef points every ](rel) and src="rel" reference at local.
// Text that merely contains rel is left alone.
func rewriteImageRef(md, rel, local string) string {
	return strings.NewReplacer(
		"]("+rel+")", "]("+local+")",
		`src="`+rel+`"`, `src="`+local+`"`,
		`src='`+rel+`'`, `src='`+local+`'`,
	).Replace(md)
}
