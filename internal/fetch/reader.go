package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultPageCacheTTL   = 30 * time.Minute
	defaultPageCacheSize  = 512
	defaultMaxConcurrency = 4
	defaultMaxChars       = 3000
	defaultBrowserTimeout = 30 * time.Second
)

// Page is the extracted text of one listing.
type Page struct {
	URL         string
	Marketplace Marketplace
	Title       string
	Text        string
	// Rendered is set when the text came from the headless browser.
	Rendered  bool
	FromCache bool
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Options *Options
	// Browser enables the headless Chrome fallback for short pages.
	Browser        bool
	BrowserTimeout time.Duration
	CacheTTL       time.Duration
	MaxConcurrency int
	// MaxChars truncates the extracted text.
	MaxChars int
	Logger   *slog.Logger
}

type renderFunc func(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (string, error)

// Reader fetches listing pages, extracts their text and caches the result.
type Reader struct {
	cfg    ReaderConfig
	cache  *ttlcache.Cache[string, *Page]
	pool   pond.ResultPool[*Page]
	render renderFunc
	logger *slog.Logger
}

// NewReader creates a reader. Call Close to release its worker pool.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Options == nil {
		cfg.Options = DefaultOptions()
	}
	if cfg.BrowserTimeout <= 0 {
		cfg.BrowserTimeout = defaultBrowserTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultPageCacheTTL
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Reader{
		cfg: cfg,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Page](cfg.CacheTTL),
			ttlcache.WithCapacity[string, *Page](defaultPageCacheSize),
		),
		pool:   pond.NewResultPool[*Page](cfg.MaxConcurrency),
		render: WithBrowser,
		logger: cfg.Logger,
	}
}

// Read returns the listing text at url.
func (r *Reader) Read(ctx context.Context, url string) (*Page, error) {
	if item := r.cache.Get(url); item != nil {
		cached := *item.Value()
		cached.FromCache = true
		return &cached, nil
	}

	result, err := URL(ctx, url, r.cfg.Options)
	if err != nil {
		return nil, err
	}

	marketplace := DetectMarketplace(url)
	html := result.HTML
	text, err := ExtractMainText(html, marketplace.ContentSelectors(), marketplace.NoiseSelectors()...)
	if err != nil {
		return nil, &Error{URL: url, Message: "failed to extract text", Cause: err}
	}

	rendered := false
	if r.cfg.Browser && ShouldUseBrowser(text) {
		if renderedHTML, err := r.render(ctx, url, r.cfg.BrowserTimeout, r.logger); err != nil {
			r.logger.Warn("browser fallback failed, using static text", "url", url, "error", err)
		} else if renderedText, err := ExtractMainText(renderedHTML, marketplace.ContentSelectors(), marketplace.NoiseSelectors()...); err == nil {
			html, text, rendered = renderedHTML, renderedText, true
		}
	}

	page := &Page{
		URL:         url,
		Marketplace: marketplace,
		Title:       ExtractTitle(html),
		Text:        Truncate(text, r.cfg.MaxChars),
		Rendered:    rendered,
	}
	r.cache.Set(url, page, ttlcache.DefaultTTL)

	stored := *page
	return &stored, nil
}

// ReadAll reads urls concurrently. Pages that fail are skipped; the rest keep
// their input order.
func (r *Reader) ReadAll(ctx context.Context, urls []string) []*Page {
	group := r.pool.NewGroupContext(ctx)
	for _, u := range urls {
		group.SubmitErr(func() (*Page, error) {
			page, err := r.Read(ctx, u)
			if err != nil {
				r.logger.Info("skipping listing page", "url", u, "error", err)
				return nil, nil
			}
			return page, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		r.logger.Warn("listing fetch interrupted", "error", err)
	}

	pages := make([]*Page, 0, len(results))
	for _, p := range results {
		if p != nil {
			pages = append(pages, p)
		}
	}
	return pages
}

// Close stops the worker pool.
func (r *Reader) Close() {
	r.pool.StopAndWait()
}
