package scraper

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-listings/fetch"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
	"github.com/aluiziolira/go-scrape-listings/storage"
)

func TestRunAllAgainstMockedSiteAndSQLite(t *testing.T) {
	ctx := context.Background()

	store, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "listings.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	batches := []*models.Batch{
		{BrandKeys: []string{"bmw"}, Expected: 150},
		{BrandKeys: []string{"audi"}, Expected: 30},
	}
	if err := store.SaveBatches(ctx, "plan-1", batches); err != nil {
		t.Fatalf("save batches: %v", err)
	}

	inventory := map[string][]int{"bmw": {100, 50}, "audi": {30}}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", fixtureSearchURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		page := 1
		if p := q.Get("p"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		sizes := inventory[q.Get("mrk")]
		if page > len(sizes) {
			return httpmock.NewStringResponse(http.StatusNotFound, "not found"), nil
		}
		pageIDs := make([]string, sizes[page-1])
		for i := range pageIDs {
			pageIDs[i] = q.Get("mrk") + "-" + strconv.Itoa(page) + "-" + strconv.Itoa(i)
		}
		return httpmock.NewStringResponse(http.StatusOK, pageHTML(pageIDs, "")), nil
	})

	client, err := fetch.NewClient(fetch.Options{UserAgent: "test", Timeout: 5 * time.Second, Parallelism: 5})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.WithTransport(transport)

	metrics := NewMetrics()
	p, err := pipeline.NewPipeline(store, 1000, testLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	orch, err := NewOrchestrator(Deps{
		Fetcher:   NewHTTPFetcher(client, "https://www.example.test/", metrics),
		Extractor: HTMLExtractor{Logger: testLogger()},
		Locator:   HTMLLocator{SearchURL: fixtureSearchURL},
		Submitter: p,
		Progress:  store,
		Metrics:   metrics,
		Logger:    testLogger(),
	}, Options{SearchURL: fixtureSearchURL, PageSize: 100, ChunkSize: 10, Parallelism: 5})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	driver := NewDriver(store, orch, 0, metrics, testLogger())

	summary, err := driver.RunAll(ctx, "plan-1")
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if summary.Completed != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 completed", summary)
	}
	if summary.Processed != 180 || summary.New != 180 {
		t.Fatalf("processed/new = %d/%d, want 180/180", summary.Processed, summary.New)
	}

	for _, b := range batches {
		got, err := store.GetBatch(ctx, b.ID)
		if err != nil {
			t.Fatalf("get batch: %v", err)
		}
		if got.Found != b.Expected || got.Status != models.BatchCompleted {
			t.Fatalf("batch %d found=%d status=%s, want %d completed", b.ID, got.Found, got.Status, b.Expected)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Listings != 180 {
		t.Fatalf("stored listings = %d, want 180", stats.Listings)
	}

	calls := transport.GetTotalCallCount()
	summary, err = driver.RunAll(ctx, "plan-1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Batches != 0 {
		t.Fatalf("second run found %d batches, want 0", summary.Batches)
	}
	if transport.GetTotalCallCount() != calls {
		t.Fatalf("second run issued requests")
	}

	res, err := driver.RunOne(ctx, batches[1].ID)
	if err != nil {
		t.Fatalf("run one: %v", err)
	}
	if res.Processed != 30 || res.New != 0 {
		t.Fatalf("rerun processed/new = %d/%d, want 30/0", res.Processed, res.New)
	}
}
