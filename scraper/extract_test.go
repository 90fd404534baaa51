package scraper

import (
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mustDoc(t *testing.T, html, pageURL string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	if pageURL != "" {
		u, err := url.Parse(pageURL)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		doc.Url = u
	}
	return doc
}

func TestHTMLExtractorFullCard(t *testing.T) {
	html := `<html><body>
<article class="item">
  <a class="frame" href="/occasions/volvo-v40-2-0-d2-123456/"><img src="x.jpg"></a>
  <div class="actions" data-nr="123456"></div>
  <div class="seller"><span class="name"> Autobedrijf Jansen </span></div>
  <span class="text-mileage-build">45.000 km - 11-2019</span>
  <div class="price">€ 12.950,-</div>
  <ul class="specs"><li>Diesel</li><li> Handgeschakeld </li><li></li></ul>
  <label class="energylabel"><span class="text">B</span></label>
</article>
</body></html>`

	listings := HTMLExtractor{}.Extract(mustDoc(t, html, "http://example.test/zoeken.html?mrk=volvo"))
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.Identifier != "123456" {
		t.Fatalf("identifier = %q", l.Identifier)
	}
	if l.URL != "http://example.test/occasions/volvo-v40-2-0-d2-123456/" {
		t.Fatalf("url = %q", l.URL)
	}
	if l.SellerName == nil || *l.SellerName != "Autobedrijf Jansen" {
		t.Fatalf("seller = %v", l.SellerName)
	}
	if l.Mileage == nil || *l.Mileage != 45000 {
		t.Fatalf("mileage = %v", l.Mileage)
	}
	if l.ConstructionYear == nil || *l.ConstructionYear != 2019 {
		t.Fatalf("year = %v", l.ConstructionYear)
	}
	if l.Price == nil || *l.Price != 12950 {
		t.Fatalf("price = %v", l.Price)
	}
	want := []string{"Diesel", "Handgeschakeld", "Energielabel B"}
	if !reflect.DeepEqual(l.Tags, want) {
		t.Fatalf("tags = %v, want %v", l.Tags, want)
	}
	if l.LicensePlate != nil || l.SellerIdentifier != nil {
		t.Fatalf("overview cards carry no plate or seller id")
	}
}

func TestHTMLExtractorFallbacksAndSkips(t *testing.T) {
	html := `<html><body>
<article class="item">
  <a class="frame" href="/occasions/kia-picanto-777/"></a>
  <div class="mileage">8.500 km</div>
  <div class="build">2021</div>
  <div class="price">Prijs op aanvraag</div>
</article>
<article class="item"><div class="price">€ 1.000</div></article>
<article class="item"><a class="frame" href="/occasions/no-identifier/"></a></article>
<article class="other"><a class="frame" href="/occasions/ignored-1/"></a></article>
</body></html>`

	listings := HTMLExtractor{}.Extract(mustDoc(t, html, "http://example.test/zoeken.html"))
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.Identifier != "777" {
		t.Fatalf("identifier from url = %q, want 777", l.Identifier)
	}
	if l.Mileage == nil || *l.Mileage != 8500 {
		t.Fatalf("mileage fallback = %v", l.Mileage)
	}
	if l.ConstructionYear == nil || *l.ConstructionYear != 2021 {
		t.Fatalf("build fallback = %v", l.ConstructionYear)
	}
	if l.Price != nil {
		t.Fatalf("price = %d, want nil", *l.Price)
	}
	if l.Tags != nil {
		t.Fatalf("tags = %v, want none", l.Tags)
	}
}

func TestHTMLExtractorEmptyPage(t *testing.T) {
	listings := HTMLExtractor{}.Extract(mustDoc(t, `<html><body><p>Geen resultaten</p></body></html>`, ""))
	if len(listings) != 0 {
		t.Fatalf("listings = %d, want 0", len(listings))
	}
}
