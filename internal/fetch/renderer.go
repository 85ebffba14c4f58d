package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrRendererUnavailable indicates no browser renderer is configured.
var ErrRendererUnavailable = errors.New("renderer unavailable")

// SelectAction sets a dropdown value before the page is captured.
type SelectAction struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

// RenderOptions carries the browser interaction hints for one page load.
type RenderOptions struct {
	// WaitFor is a CSS selector the page must contain before capture.
	WaitFor       string
	SelectActions []SelectAction
	ClickSelector string
	ClickWaitFor  string
}

// Renderer produces fully-rendered HTML for JavaScript-heavy pages.
type Renderer interface {
	Available() bool
	Render(ctx context.Context, rawURL string, opts RenderOptions) (string, error)
	// RenderPages drives in-page pagination inside one browser session and
	// returns the rendered HTML of each page, in order, up to maxPages.
	RenderPages(ctx context.Context, rawURL, nextPageSelector string, opts RenderOptions, maxPages int) ([]string, error)
	Close(ctx context.Context) error
}

// NoopRenderer is used when rendering is disabled.
type NoopRenderer struct{}

func (NoopRenderer) Available() bool { return false }

func (NoopRenderer) Render(context.Context, string, RenderOptions) (string, error) {
	return "", ErrRendererUnavailable
}

func (NoopRenderer) RenderPages(context.Context, string, string, RenderOptions, int) ([]string, error) {
	return nil, ErrRendererUnavailable
}

func (NoopRenderer) Close(context.Context) error { return nil }

// ServiceRenderer delegates rendering to an external browser service over
// HTTP.
type ServiceRenderer struct {
	baseURL string
	client  *http.Client
	// pageTimeout is the in-browser page load budget sent to the service,
	// in milliseconds.
	pageTimeout int
	logger      *zap.Logger
}

// NewServiceRenderer builds a renderer client for the service at baseURL.
func NewServiceRenderer(baseURL string, pageTimeout time.Duration, logger *zap.Logger) *ServiceRenderer {
	return &ServiceRenderer{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: pageTimeout + 30*time.Second,
		},
		pageTimeout: int(pageTimeout / time.Millisecond),
		logger:      logger,
	}
}

// Available implements Renderer.
func (r *ServiceRenderer) Available() bool {
	return r != nil && r.baseURL != ""
}

type renderRequest struct {
	URL           string         `json:"url"`
	WaitFor       string         `json:"waitFor,omitempty"`
	SelectActions []SelectAction `json:"selectActions,omitempty"`
	ClickSelector string         `json:"clickSelector,omitempty"`
	ClickWaitFor  string         `json:"clickWaitFor,omitempty"`
	Timeout       int            `json:"timeout"`
}

type renderResponse struct {
	Success bool   `json:"success"`
	HTML    string `json:"html"`
	Error   string `json:"error"`
}

type renderPagesRequest struct {
	URL              string `json:"url"`
	NextPageSelector string `json:"nextPageSelector"`
	WaitFor          string `json:"waitFor,omitempty"`
	MaxPages         int    `json:"maxPages"`
	Timeout          int    `json:"timeout"`
}

type renderPagesResponse struct {
	Success bool `json:"success"`
	Pages   []struct {
		HTML string `json:"html"`
	} `json:"pages"`
	Error string `json:"error"`
}

// Render implements Renderer.
func (r *ServiceRenderer) Render(ctx context.Context, rawURL string, opts RenderOptions) (string, error) {
	if !r.Available() {
		return "", ErrRendererUnavailable
	}
	payload := renderRequest{
		URL:           rawURL,
		WaitFor:       opts.WaitFor,
		SelectActions: opts.SelectActions,
		ClickSelector: opts.ClickSelector,
		ClickWaitFor:  opts.ClickWaitFor,
		Timeout:       r.pageTimeout,
	}
	var result renderResponse
	if err := r.post(ctx, "/fetch", payload, &result); err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("render service: %s", errOrUnknown(result.Error))
	}
	if result.HTML == "" {
		return "", fmt.Errorf("render service returned empty html for %s", rawURL)
	}
	return result.HTML, nil
}

// RenderPages implements Renderer.
func (r *ServiceRenderer) RenderPages(ctx context.Context, rawURL, nextPageSelector string, opts RenderOptions, maxPages int) ([]string, error) {
	if !r.Available() {
		return nil, ErrRendererUnavailable
	}
	payload := renderPagesRequest{
		URL:              rawURL,
		NextPageSelector: nextPageSelector,
		WaitFor:          opts.WaitFor,
		MaxPages:         maxPages,
		Timeout:          r.pageTimeout,
	}
	var result renderPagesResponse
	if err := r.post(ctx, "/fetch-pages", payload, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("render service: %s", errOrUnknown(result.Error))
	}
	pages := make([]string, 0, len(result.Pages))
	for _, page := range result.Pages {
		if page.HTML != "" {
			pages = append(pages, page.HTML)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("render service returned no pages for %s", rawURL)
	}
	return pages, nil
}

// Close implements Renderer.
func (r *ServiceRenderer) Close(context.Context) error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *ServiceRenderer) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("call render service: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close render response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("render service status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode render response: %w", err)
	}
	return nil
}

func errOrUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
