// Package fetch retrieves card pages over HTTP. HTML responses come
// back with a title, markdown-converted content, and the same-host
// links worth following; PDF and other binary responses pass through
// untouched for the doc extractor. Requests are rate limited per host.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"
)

// Page is one fetched unit.
type Page struct {
	URL         string
	FinalURL    string
	Title       string
	RawHTML     string
	Content     string
	Links       []string
	ContentType string
	Status      int
	FetchedAt   time.Time
}

// IsPDF reports whether the response carries a PDF document.
func (p *Page) IsPDF() bool {
	if strings.Contains(p.ContentType, "application/pdf") {
		return true
	}
	u := strings.ToLower(p.FinalURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".pdf")
}

// FetchError is a non-2xx response for a source URL.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: http %d", e.URL, e.Status)
}

// Config configures the fetcher.
type Config struct {
	Timeout           time.Duration
	MaxBytes          int64
	MaxRedirects      int
	RequestsPerSecond float64 // per host
	UserAgent         string
}

// DefaultConfig returns the production fetch settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		MaxBytes:          10 << 20,
		MaxRedirects:      5,
		RequestsPerSecond: 2,
		UserAgent:         "cardintel/1.0",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = d.MaxRedirects
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

// Fetcher performs HTTP GETs against bank sites.
type Fetcher struct {
	client    *http.Client
	cfg       Config
	sanitizer *bluemonday.Policy
	converter *converter.Converter
	log       *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher.
func New(cfg Config, log *slog.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		cfg:       cfg,
		sanitizer: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch GETs a URL. Non-2xx statuses return a *FetchError. HTML bodies
// are parsed for title, content, and crawlable links; anything else is
// returned raw for the caller to route.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %s: %w", rawURL, err)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	page := &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		RawHTML:     string(body),
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
		FetchedAt:   time.Now().UTC(),
	}

	if !isHTML(page.ContentType, page.FinalURL) {
		f.log.Debug("fetched non-html content",
			"url", rawURL, "content_type", page.ContentType, "size", len(body))
		return page, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	page.Links = pageLinks(doc, resp.Request.URL)

	doc.Find("script, style, noscript, iframe, svg, nav, header, footer, form").Remove()
	page.Content = f.renderContent(mainContent(doc), page.FinalURL)

	f.log.Debug("fetched page", "url", rawURL, "status", resp.StatusCode,
		"content_len", len(page.Content), "links", len(page.Links))
	return page, nil
}

// contentSelectors are tried in order before falling back to body.
// Bank card pages usually keep the benefit copy under one of these.
var contentSelectors = []string{"main", "article", "#content", ".content"}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			return s.First()
		}
	}
	return doc.Find("body")
}

// renderContent converts the selected subtree to markdown. Falls back
// to block-level plain text when conversion fails or comes back empty.
func (f *Fetcher) renderContent(sel *goquery.Selection, pageURL string) string {
	html, err := goquery.OuterHtml(sel)
	if err == nil && html != "" {
		clean := f.sanitizer.Sanitize(html)
		md, err := f.converter.ConvertString(clean, converter.WithDomain(pageURL))
		if err == nil && strings.TrimSpace(md) != "" {
			return strings.TrimSpace(md)
		}
	}
	return fallbackText(sel)
}

func fallbackText(sel *goquery.Selection) string {
	var blocks []string
	sel.Find("h1, h2, h3, h4, h5, h6, p, li, td, th").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		// Nested blocks repeat their parent's text.
		if len(blocks) > 0 && blocks[len(blocks)-1] == text {
			return
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		return strings.Join(strings.Fields(sel.Text()), " ")
	}
	return strings.Join(blocks, "\n\n")
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RequestsPerSecond), 1)
		f.limiters[host] = l
	}
	return l
}

func isHTML(contentType, rawURL string) bool {
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "xhtml") {
		return true
	}
	if contentType != "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return !strings.HasSuffix(lower, ".pdf")
}
