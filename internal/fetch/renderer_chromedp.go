package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChromedpConfig controls the in-process headless browser.
type ChromedpConfig struct {
	UserAgent   string
	MaxParallel int
	NavTimeout  time.Duration
	// DomainQPS throttles renders per host; zero disables the limiter.
	DomainQPS float64
}

// ChromedpRenderer renders pages using headless Chrome via chromedp.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
}

// NewChromedpRenderer starts a headless browser and verifies it is usable.
func NewChromedpRenderer(cfg ChromedpConfig, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrRendererUnavailable
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	timeout := cfg.NavTimeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		timeout:         timeout,
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Available implements Renderer.
func (r *ChromedpRenderer) Available() bool { return r != nil }

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close(context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render implements Renderer.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string, opts RenderOptions) (string, error) {
	if r == nil {
		return "", ErrRendererUnavailable
	}
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if waitErr := r.waitDomainBudget(ctx, rawURL); waitErr != nil {
		return "", fmt.Errorf("render rate limit: %w", waitErr)
	}

	taskCtx, cancel := r.newTab(ctx)
	defer cancel()

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	tasks = append(tasks, interactionTasks(opts)...)
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// RenderPages implements Renderer. One tab is shared across pages; moving to
// the next page is an in-page click, not a navigation.
func (r *ChromedpRenderer) RenderPages(ctx context.Context, rawURL, nextPageSelector string, opts RenderOptions, maxPages int) ([]string, error) {
	if r == nil {
		return nil, ErrRendererUnavailable
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if waitErr := r.waitDomainBudget(ctx, rawURL); waitErr != nil {
		return nil, fmt.Errorf("render rate limit: %w", waitErr)
	}

	taskCtx, cancel := r.newTab(ctx)
	defer cancel()

	setup := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	setup = append(setup, interactionTasks(opts)...)
	if err := chromedp.Run(taskCtx, setup); err != nil {
		return nil, fmt.Errorf("chromedp navigate: %w", err)
	}

	var pages []string
	for page := 0; page < maxPages; page++ {
		var html string
		if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return pages, fmt.Errorf("chromedp capture page %d: %w", page+1, err)
		}
		pages = append(pages, html)

		if page == maxPages-1 {
			break
		}
		var hasNext bool
		probe := fmt.Sprintf("document.querySelector(%q) !== null", nextPageSelector)
		if err := chromedp.Run(taskCtx, chromedp.Evaluate(probe, &hasNext)); err != nil {
			return pages, fmt.Errorf("chromedp probe next page: %w", err)
		}
		if !hasNext {
			break
		}
		advance := chromedp.Tasks{
			chromedp.Click(nextPageSelector, chromedp.ByQuery),
			chromedp.Sleep(500 * time.Millisecond),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}
		if opts.WaitFor != "" {
			advance = append(advance, chromedp.WaitVisible(opts.WaitFor, chromedp.ByQuery))
		}
		if err := chromedp.Run(taskCtx, advance); err != nil {
			r.logger.Warn("next-page click failed; returning pages so far",
				zap.String("url", rawURL), zap.Int("page", page+1), zap.Error(err))
			break
		}
	}
	return pages, nil
}

func interactionTasks(opts RenderOptions) chromedp.Tasks {
	var tasks chromedp.Tasks
	if opts.WaitFor != "" {
		tasks = append(tasks, chromedp.WaitVisible(opts.WaitFor, chromedp.ByQuery))
	}
	for _, action := range opts.SelectActions {
		tasks = append(tasks, chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery))
	}
	if opts.ClickSelector != "" {
		tasks = append(tasks, chromedp.Click(opts.ClickSelector, chromedp.ByQuery))
		if opts.ClickWaitFor != "" {
			tasks = append(tasks, chromedp.WaitVisible(opts.ClickWaitFor, chromedp.ByQuery))
		}
	}
	return tasks
}

func (r *ChromedpRenderer) newTab(parent context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.timeout)
	stopForward := forwardCancel(parent, cancelTask)
	return taskCtx, func() {
		stopForward()
		cancelTask()
		cancelTab()
	}
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *ChromedpRenderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.domainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
