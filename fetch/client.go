// Package fetch issues the crawler's HTTP requests through a colly collector and classifies failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	ctxBody   = "fetch.body"
	ctxStatus = "fetch.status"
	ctxURL    = "fetch.url"
)

// Options configures a Client.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	Parallelism int
	Headers     http.Header
}

// Response is a completed HTTP exchange.
type Response struct {
	URL        *url.URL
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Client performs synchronous GET requests. It is safe for concurrent use.
type Client struct {
	collector *colly.Collector
	headers   http.Header
}

// NewClient builds a client from opts.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(opts.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: opts.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxBody, r.Body)
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxURL, r.Request.URL)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
	})

	headers := http.Header{}
	for k, v := range opts.Headers {
		headers[k] = append([]string(nil), v...)
	}

	return &Client{collector: collector, headers: headers}, nil
}

// WithTransport swaps the underlying round tripper, used by tests to mock the network.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.collector.WithTransport(rt)
}

// Get fetches rawURL. Failures come back classified (see Classify).
func (c *Client) Get(ctx context.Context, rawURL string, hdr http.Header) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := c.headers.Clone()
	for k, v := range hdr {
		merged[k] = append([]string(nil), v...)
	}

	reqCtx := colly.NewContext()
	start := time.Now()
	err := c.collector.Request(http.MethodGet, rawURL, nil, reqCtx, merged)
	elapsed := time.Since(start)

	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil {
		if errors.Is(err, colly.ErrMissingURL) {
			return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
		}
		return nil, Classify(err, status)
	}
	if classified := Classify(nil, status); classified != nil {
		return nil, classified
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	finalURL, _ := reqCtx.GetAny(ctxURL).(*url.URL)
	if finalURL == nil {
		parsed, parseErr := url.Parse(rawURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse url %q: %w", rawURL, parseErr)
		}
		finalURL = parsed
	}

	return &Response{
		URL:        finalURL,
		StatusCode: status,
		Body:       body,
		Duration:   elapsed,
	}, nil
}
