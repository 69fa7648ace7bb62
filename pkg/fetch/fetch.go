// Package fetch downloads contract PDFs from a URL, either directly or by
// following the PDF links of an index page.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

var ErrNoDocuments = errors.New("no PDF documents found")

type FetcherConfig struct {
	// MaxDepth is how many levels of same-host HTML pages are followed
	// below the starting page.
	MaxDepth       int
	RateLimit      float64 // requests per second
	Timeout        time.Duration
	MaxBytes       int64
	IgnorePatterns []string
	OnProgress     func(url string)
}

type Download struct {
	URL      string
	Filename string
	// MediaType is the Content-Type the server sent for the file.
	MediaType string
	Data      []byte
}

type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewWithConfig(config FetcherConfig, log *slog.Logger) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 10 << 20
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     log.With("component", "fetch"),
	}
}

type crawl struct {
	base    *url.URL
	visited map[string]bool
	out     []Download
}

// Fetch returns the PDF at rawURL, or every PDF linked from the HTML page
// at rawURL. Failures on individual links are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]Download, error) {
	base, err := url.Parse(rawURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	c := &crawl{base: base, visited: make(map[string]bool)}
	if err := f.visit(ctx, c, base, 0); err != nil {
		return nil, err
	}
	if len(c.out) == 0 {
		return nil, fmt.Errorf("%w at %s", ErrNoDocuments, rawURL)
	}
	return c.out, nil
}

func (f *Fetcher) visit(ctx context.Context, c *crawl, u *url.URL, depth int) error {
	key := u.String()
	if c.visited[key] {
		return nil
	}
	c.visited[key] = true
	if f.config.OnProgress != nil {
		f.config.OnProgress(key)
	}

	body, contentType, err := f.get(ctx, key)
	if err != nil {
		return err
	}
	if isPDF(contentType, body) {
		c.out = append(c.out, Download{URL: key, Filename: filename(u), MediaType: contentType, Data: body})
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	var pdfs, pages []*url.URL
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, err := u.Parse(strings.TrimSpace(href))
		if err != nil || !f.follow(c, link) {
			return
		}
		link.Fragment = ""
		if strings.EqualFold(path.Ext(link.Path), ".pdf") {
			pdfs = append(pdfs, link)
		} else {
			pages = append(pages, link)
		}
	})

	for _, link := range pdfs {
		if err := f.visit(ctx, c, link, depth+1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("skipping document", "url", link.String(), "error", err)
		}
	}
	if depth >= f.config.MaxDepth {
		return nil
	}
	for _, link := range pages {
		if err := f.visit(ctx, c, link, depth+1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("skipping page", "url", link.String(), "error", err)
		}
	}
	return nil
}

func (f *Fetcher) follow(c *crawl, link *url.URL) bool {
	if link.Scheme != "http" && link.Scheme != "https" {
		return false
	}
	if link.Host != c.base.Host {
		return false
	}
	for _, p := range f.config.IgnorePatterns {
		if strings.Contains(link.String(), p) {
			return false
		}
	}
	return true
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("received status code %d for %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, "", fmt.Errorf("%s exceeds %d bytes", rawURL, f.config.MaxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func isPDF(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/pdf" {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

func filename(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = u.Host
	}
	if !strings.EqualFold(path.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
