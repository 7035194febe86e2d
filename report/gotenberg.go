// Package report renders invoice documents to PDF through Gotenberg.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

// ErrRender wraps Gotenberg failures.
var ErrRender = fmt.Errorf("report: pdf render failed: %w", httpx.ErrUnavailable)

// PageOptions are Chromium print settings in inches.
type PageOptions struct {
	PaperWidth   string
	PaperHeight  string
	MarginTop    string
	MarginBottom string
	MarginLeft   string
	MarginRight  string
}

// A4 with half-inch margins.
var A4 = PageOptions{
	PaperWidth:   "8.27",
	PaperHeight:  "11.7",
	MarginTop:    "0.5",
	MarginBottom: "0.5",
	MarginLeft:   "0.5",
	MarginRight:  "0.5",
}

func (o PageOptions) fields() [][2]string {
	return [][2]string{
		{"paperWidth", o.PaperWidth},
		{"paperHeight", o.PaperHeight},
		{"marginTop", o.MarginTop},
		{"marginBottom", o.MarginBottom},
		{"marginLeft", o.MarginLeft},
		{"marginRight", o.MarginRight},
		{"printBackground", "true"},
	}
}

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health status %d", ErrRender, resp.StatusCode)
	}
	return nil
}

// RenderHTML converts index.html plus referenced assets into a PDF.
func (c *Client) RenderHTML(ctx context.Context, html string, assets map[string][]byte, opts PageOptions) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(assets[name]); err != nil {
			return nil, err
		}
	}
	for _, f := range opts.fields() {
		if f[1] == "" {
			continue
		}
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRender, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return io.ReadAll(resp.Body)
}
