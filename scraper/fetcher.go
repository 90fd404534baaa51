package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/fetch"
)

// ErrTerminal signals that a pagination path has no more results.
var ErrTerminal = errors.New("scraper: no more results")

// IsTerminal reports whether err ends the current pagination path.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal) || fetch.IsMissing(err)
}

// PageFetcher retrieves one search result page. A nil error is a success, an error for which
// IsTerminal holds ends pagination, and any other error is transient.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Getter is the subset of fetch.Client used by HTTPFetcher.
type Getter interface {
	Get(ctx context.Context, rawURL string, hdr http.Header) (*fetch.Response, error)
}

// HTTPFetcher fetches and parses HTML pages.
type HTTPFetcher struct {
	getter  Getter
	headers http.Header
	metrics *Metrics
}

// NewHTTPFetcher builds a fetcher that sends the browser-like headers the search pages expect.
func NewHTTPFetcher(getter Getter, referer string, metrics *Metrics) *HTTPFetcher {
	hdr := http.Header{}
	hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if referer != "" {
		hdr.Set("Referer", referer)
	}
	return &HTTPFetcher{getter: getter, headers: hdr, metrics: metrics}
}

// Fetch implements PageFetcher. The returned document carries the final URL.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := f.getter.Get(ctx, url, f.headers)
	if err != nil {
		return nil, err
	}
	f.metrics.ObserveDuration(resp.Duration)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", url, err)
	}
	doc.Url = resp.URL
	return doc, nil
}
