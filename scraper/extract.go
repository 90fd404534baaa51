package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

var identifierInURL = regexp.MustCompile(`-(\d+)/`)

// ListingExtractor turns a result page into listings.
type ListingExtractor interface {
	Extract(doc *goquery.Document) []*models.Listing
}

// HTMLExtractor reads article.item cards from a search result page.
type HTMLExtractor struct {
	Logger *slog.Logger
}

// Extract implements ListingExtractor. Cards that cannot be parsed are skipped.
func (e HTMLExtractor) Extract(doc *goquery.Document) []*models.Listing {
	base := doc.Url
	var listings []*models.Listing
	doc.Find("article.item").Each(func(_ int, card *goquery.Selection) {
		l, err := parseCard(card, base)
		if err != nil {
			e.logger().Debug("skipping listing card", slog.String("error", err.Error()))
			return
		}
		listings = append(listings, l)
	})
	return listings
}

func (e HTMLExtractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func parseCard(card *goquery.Selection, base *url.URL) (*models.Listing, error) {
	link := card.Find("a.frame").First()
	if link.Length() == 0 {
		return nil, fmt.Errorf("card has no a.frame link")
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	if href == "" {
		return nil, fmt.Errorf("card link has no href")
	}

	fullURL := href
	if ref, err := url.Parse(href); err == nil && base != nil {
		fullURL = base.ResolveReference(ref).String()
	}

	identifier := strings.TrimSpace(card.Find("div[data-nr]").First().AttrOr("data-nr", ""))
	if identifier == "" {
		if m := identifierInURL.FindStringSubmatch(href); m != nil {
			identifier = m[1]
		}
	}
	if identifier == "" {
		return nil, fmt.Errorf("no identifier for %s", href)
	}

	l := &models.Listing{
		Identifier: identifier,
		URL:        fullURL,
	}

	if name := text(card.Find("div.seller span.name").First()); name != "" {
		l.SellerName = &name
	}

	if mb := text(card.Find("span.text-mileage-build").First()); mb != "" {
		mileage, build := parser.SplitMileageBuild(mb)
		l.Mileage = parser.ParseNumber(mileage)
		if build != "" {
			l.ConstructionYear = parser.ParseYear(build)
		}
	}
	if l.Mileage == nil {
		if alt := text(card.Find("div.mileage").First()); alt != "" {
			l.Mileage = parser.ParseNumber(alt)
		}
	}
	if l.ConstructionYear == nil {
		if alt := text(card.Find("div.build").First()); alt != "" {
			l.ConstructionYear = parser.ParseYear(alt)
		}
	}

	if price := text(card.Find("div.price").First()); price != "" {
		l.Price = parser.ParseNumber(price)
	}

	card.Find("ul.specs li").Each(func(_ int, li *goquery.Selection) {
		if tag := text(li); tag != "" {
			l.Tags = append(l.Tags, tag)
		}
	})
	if label := text(card.Find("label.energylabel span.text").First()); label != "" {
		l.Tags = append(l.Tags, "Energielabel "+label)
	}

	return l, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
