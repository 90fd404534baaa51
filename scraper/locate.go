package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/models"
)

var nextLinkTexts = map[string]struct{}{
	"volgende": {},
	"next":     {},
	">":        {},
	"→":        {},
}

// NextPageLocator finds the URL of the page after doc.
type NextPageLocator interface {
	Locate(doc *goquery.Document) (string, bool)
}

// HTMLLocator tries, in order, the arrow link, the numeric pager and a textual "next" link.
// Links are resolved against SearchURL (see ResolveSearchURL).
type HTMLLocator struct {
	SearchURL string
}

// Locate implements NextPageLocator.
func (l HTMLLocator) Locate(doc *goquery.Document) (string, bool) {
	for _, find := range []func(*goquery.Document) string{arrowNext, numericNext, textNext} {
		href := find(doc)
		if href == "" {
			continue
		}
		resolved, err := ResolveSearchURL(l.SearchURL, doc.Url, href)
		if err != nil {
			continue
		}
		return resolved, true
	}
	return "", false
}

func arrowNext(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("a.arrow.next").First().AttrOr("href", ""))
}

func numericNext(doc *goquery.Document) string {
	pager := doc.Find("div.pagination, div.pager, div.pages").First()
	if pager.Length() == 0 {
		return ""
	}
	current := pager.Find("span.current").First()
	if current.Length() == 0 {
		current = pager.Find("strong").First()
	}
	n, err := strconv.Atoi(text(current))
	if err != nil {
		return ""
	}
	want := strconv.Itoa(n + 1)

	var href string
	pager.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if text(a) == want {
			href = strings.TrimSpace(a.AttrOr("href", ""))
			return false
		}
		return true
	})
	return href
}

func textNext(doc *goquery.Document) string {
	var href string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if _, ok := nextLinkTexts[strings.ToLower(text(a))]; !ok {
			return true
		}
		if h := strings.TrimSpace(a.AttrOr("href", "")); h != "" {
			href = h
			return false
		}
		return true
	})
	return href
}

// ResolveSearchURL resolves a pagination href. Absolute paths belong to the upstream site, so
// only their query is kept and re-targeted at searchURL. Other hrefs resolve against the
// current page, or against searchURL when the page URL is unknown.
func ResolveSearchURL(searchURL string, page *url.URL, href string) (string, error) {
	search, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}

	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		out := *search
		out.RawQuery = ref.RawQuery
		out.Fragment = ""
		return out.String(), nil
	}

	base := search
	if page != nil {
		base = page
	}
	return base.ResolveReference(ref).String(), nil
}

// SearchURL builds the result page URL for a batch. Page 1 carries no page parameter.
func SearchURL(searchURL string, b *models.Batch, page, pageSize int) (string, error) {
	u, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set("il", strconv.Itoa(pageSize))
	if len(b.BrandKeys) > 0 {
		q.Set("mrk", strings.Join(b.BrandKeys, "|"))
	}
	if len(b.ModelKeys) > 0 {
		q.Set("mdl", strings.Join(b.ModelKeys, "|"))
	}
	if page > 1 {
		q.Set("p", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
