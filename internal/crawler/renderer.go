package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// RenderedPage is the raw output of one headless navigation. It is consumed
// in-process by signal extraction and then discarded.
type RenderedPage struct {
	HTML       string
	FinalURL   string
	HTTPStatus int
}

// Renderer fetches a fully rendered page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (RenderedPage, error)
	Close()
}

// RendererConfig controls the headless browser.
type RendererConfig struct {
	UserAgent   string
	NavTimeout  time.Duration
	MaxParallel int
}

// Chromedp renders pages with headless Chrome. Sites behind heavy JavaScript
// still produce usable titles and headings this way.
type Chromedp struct {
	cfg         RendererConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless renderer backed by chromedp.
func NewChromedp(cfg RendererConfig) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 10 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (c *Chromedp) Close() {
	c.allocCancel()
}

// Render implements Renderer.
func (c *Chromedp) Render(ctx context.Context, pageURL string) (RenderedPage, error) {
	if err := c.acquire(ctx); err != nil {
		return RenderedPage{}, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		c.networkSetupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return RenderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	return RenderedPage{
		HTML:       html,
		FinalURL:   responseURL,
		HTTPStatus: status,
	}, nil
}

func (c *Chromedp) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Chromedp) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (c *Chromedp) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

// responseMeta captures the document response from CDP network events; the
// rendered DOM alone does not carry the HTTP status.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, url
}
