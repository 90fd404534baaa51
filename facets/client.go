// Package facets reads brand and model counts from the search endpoint's filter widget.
package facets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/fetch"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

// Getter is the subset of fetch.Client the facet client needs.
type Getter interface {
	Get(ctx context.Context, rawURL string, hdr http.Header) (*fetch.Response, error)
}

// Client fetches facet counts.
type Client struct {
	getter  Getter
	baseURL string
	referer string
	logger  *slog.Logger
}

// NewClient builds a facet client against the search endpoint at baseURL.
func NewClient(getter Getter, baseURL, referer string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{getter: getter, baseURL: baseURL, referer: referer, logger: logger}
}

// Brands returns every brand with its listing count, in page order.
func (c *Client) Brands(ctx context.Context) ([]models.FacetCount, error) {
	return c.fetch(ctx, "brand", "")
}

// Models returns the models of one brand with their listing counts.
func (c *Client) Models(ctx context.Context, brand string) ([]models.FacetCount, error) {
	return c.fetch(ctx, "model", brand)
}

func (c *Client) fetch(ctx context.Context, filter, brand string) ([]models.FacetCount, error) {
	target, err := c.filterURL(filter, brand)
	if err != nil {
		return nil, err
	}

	hdr := http.Header{}
	hdr.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	hdr.Set("X-Requested-With", "XMLHttpRequest")
	if c.referer != "" {
		hdr.Set("Referer", c.referer)
	}

	resp, err := c.getter.Get(ctx, target, hdr)
	if err != nil {
		return nil, fmt.Errorf("fetch %s facets: %w", filter, err)
	}

	var envelope struct {
		HTML *string `json:"html"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s facets: %w", filter, err)
	}
	if envelope.HTML == nil {
		return nil, fmt.Errorf("decode %s facets: response has no html field", filter)
	}

	counts, err := c.ParseCounts(*envelope.HTML)
	if err != nil {
		return nil, fmt.Errorf("parse %s facets: %w", filter, err)
	}
	c.logger.Debug("facets fetched",
		slog.String("filter", filter),
		slog.String("brand", brand),
		slog.Int("facets", len(counts)),
	)
	return counts, nil
}

func (c *Client) filterURL(filter, brand string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := url.Values{}
	if brand != "" {
		q.Set("mrk[]", brand)
	}
	for _, key := range []string{"prvan", "prtot", "bjvan", "bjtot", "kmvan", "kmtot"} {
		q.Set(key, "0")
	}
	q.Set("pc", "")
	q.Set("q", "")
	q.Set("filter", filter)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseCounts reads checkbox values and their "(1.234)" counters from a filter fragment.
// A counter that cannot be parsed counts as zero. Repeated keys keep their first count.
func (c *Client) ParseCounts(fragment string) ([]models.FacetCount, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(fragment))
	if err != nil {
		return nil, err
	}

	var counts []models.FacetCount
	seen := make(map[string]struct{})
	doc.Find(`input[type="checkbox"]`).Each(func(_ int, cb *goquery.Selection) {
		key := strings.TrimSpace(cb.AttrOr("value", ""))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		counter := cb.Parent().Find("span.count").First()
		if counter.Length() == 0 {
			counter = cb.NextAll().Find("span.count").First()
		}

		n, err := parser.ParseCount(counter.Text())
		if err != nil {
			c.logger.Warn("unparseable facet count", slog.String("key", key), slog.String("error", err.Error()))
			n = 0
		}
		counts = append(counts, models.FacetCount{Key: key, Count: n})
	})
	return counts, nil
}
