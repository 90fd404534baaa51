package facets

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-listings/fetch"
	"github.com/aluiziolira/go-scrape-listings/models"
)

const searchURL = "http://example.test/zoeken.html"

const brandFragment = `<ul>
<li><label><input type="checkbox" value="audi"> Audi <span class="count">(12.345)</span></label></li>
<li><input type="checkbox" value="abarth"><label>Abarth</label><div><span class="count">(87)</span></div></li>
<li><label><input type="checkbox" value="lada"> Lada</label></li>
<li><label><input type="checkbox" value="kia"> Kia <span class="count">(veel)</span></label></li>
<li><label><input type="checkbox" value=""> Alle</label></li>
</ul>`

func envelope(t *testing.T, html string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"html": html})
	require.NoError(t, err)
	return string(body)
}

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	fc, err := fetch.NewClient(fetch.Options{UserAgent: "test", Timeout: 5 * time.Second})
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	fc.WithTransport(transport)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(fc, searchURL, "https://www.example.test/", logger), transport
}

func TestParseCounts(t *testing.T) {
	c := NewClient(nil, searchURL, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	counts, err := c.ParseCounts(brandFragment)
	require.NoError(t, err)

	assert.Equal(t, []models.FacetCount{
		{Key: "audi", Count: 12345},
		{Key: "abarth", Count: 87},
		{Key: "lada", Count: 0},
		{Key: "kia", Count: 0},
	}, counts)
}

func TestBrands(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("filter") != "brand" || q.Has("mrk[]") {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad query"), nil
		}
		if req.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "not xhr"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, envelope(t, brandFragment)), nil
	})

	brands, err := c.Brands(context.Background())
	require.NoError(t, err)
	require.Len(t, brands, 4)
	assert.Equal(t, "audi", brands[0].Key)
	assert.Equal(t, 12345, brands[0].Count)
}

func TestModels(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", searchURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("filter") != "model" || q.Get("mrk[]") != "volkswagen" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad query"), nil
		}
		html := `<label><input type="checkbox" value="golf"><span class="count">(7.001)</span></label>
<label><input type="checkbox" value="polo"><span class="count">(4.000)</span></label>`
		return httpmock.NewStringResponse(http.StatusOK, envelope(t, html)), nil
	})

	got, err := c.Models(context.Background(), "volkswagen")
	require.NoError(t, err)
	assert.Equal(t, []models.FacetCount{{Key: "golf", Count: 7001}, {Key: "polo", Count: 4000}}, got)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{name: "missing html field", responder: httpmock.NewStringResponder(http.StatusOK, `{"other": 1}`)},
		{name: "invalid json", responder: httpmock.NewStringResponder(http.StatusOK, `<html>`)},
		{name: "server error", responder: httpmock.NewStringResponder(http.StatusInternalServerError, ``)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport := newTestClient(t)
			transport.RegisterResponder("GET", searchURL, tt.responder)

			_, err := c.Brands(context.Background())
			assert.Error(t, err)
		})
	}
}
