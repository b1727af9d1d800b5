// Package ocr turns PDF and slide binaries into Markdown through a remote
// layout-parsing service, with resumable per-chunk checkpoints.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/tiku/pkg/utils"
)

// ErrMissingToken is returned when no layout-parsing credential is configured.
var ErrMissingToken = errors.New("OCR API token is not set; export OCR_API_TOKEN or add it to .env")

// FileType is the service's input kind.
type FileType int

const (
	FilePDF   FileType = 0
	FileImage FileType = 1
)

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("OCR request failed with status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Page is the Markdown of one parsed page and the images it references,
// keyed by the relative path used in the Markdown.
type Page struct {
	Markdown string
	Images   map[string]string
}

// Parser parses a document into pages.
type Parser interface {
	Parse(ctx context.Context, data []byte, fileType FileType) ([]Page, error)
}

type parseRequest struct {
	File                      string   `json:"file"`
	FileType                  FileType `json:"fileType"`
	UseDocOrientationClassify bool     `json:"useDocOrientationClassify"`
	UseDocUnwarping           bool     `json:"useDocUnwarping"`
	UseTextlineOrientation    bool     `json:"useTextlineOrientation"`
	UseChartRecognition       bool     `json:"useChartRecognition"`
}

type parseResponse struct {
	Result struct {
		LayoutParsingResults []struct {
			Markdown struct {
				Text   string            `json:"text"`
				Images map[string]string `json:"images"`
			} `json:"markdown"`
		} `json:"layoutParsingResults"`
	} `json:"result"`
}

// Client calls the layout-parsing endpoint. 5xx, 429 and network errors are
// retried with exponential backoff; other 4xx fail at once.
type Client struct {
	url        string
	token      string
	http       *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets a logger for retries.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(f func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = f }
}

// NewClient creates a client. A missing token returns ErrMissingToken.
func NewClient(url, token string, timeout time.Duration, maxRetries int, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	if url == "" {
		return nil, errors.New("OCR API URL is not set; export OCR_API_URL")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	c := &Client{
		url:        url,
		token:      token,
		http:       &http.Client{Timeout: timeout},
		maxRetries: uint64(maxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c, nil
}

// Parse implements Parser.
func (c *Client) Parse(ctx context.Context, data []byte, fileType FileType) ([]Page, error) {
	body, err := json.Marshal(parseRequest{
		File:     base64.StdEncoding.EncodeToString(data),
		FileType: fileType,
	})
	if err != nil {
		return nil, err
	}

	var pages []Page
	attempt := 0
	op := func() error {
		attempt++
		p, err := c.post(ctx, body)
		if err == nil {
			pages = p
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Warn("OCR request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return pages, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call OCR service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var out parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	pages := make([]Page, 0, len(out.Result.LayoutParsingResults))
	for _, r := range out.Result.LayoutParsingResults {
		pages = append(pages, Page{Markdown: r.Markdown.Text, Images: r.Markdown.Images})
	}
	return pages, nil
}
