package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/facets"
	"github.com/aluiziolira/go-scrape-listings/fetch"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/partition"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
	"github.com/aluiziolira/go-scrape-listings/scraper"
	"github.com/aluiziolira/go-scrape-listings/storage"
)

const separator = "--------------------------------------------------"

// commandFlags holds the flags only some commands register.
type commandFlags struct {
	planID  string
	batchID int64
	format  string
	output  string
	tagSep  string
}

type command struct {
	flags func(fs *flag.FlagSet, f *commandFlags)
	run   func(ctx context.Context, a *app) error
}

var commands = map[string]command{
	"init":  {run: runInit},
	"reset": {run: runReset},
	"plan":  {run: runPlan},
	"run": {
		flags: func(fs *flag.FlagSet, f *commandFlags) {
			fs.StringVar(&f.planID, "plan", "", "Only process batches of this plan id")
		},
		run: runAll,
	},
	"run-one": {
		flags: func(fs *flag.FlagSet, f *commandFlags) {
			fs.Int64Var(&f.batchID, "batch", 0, "Batch id to reprocess")
		},
		run: runOne,
	},
	"release": {
		flags: func(fs *flag.FlagSet, f *commandFlags) {
			fs.Int64Var(&f.batchID, "batch", 0, "Running batch id to return to the queue")
		},
		run: runRelease,
	},
	"status": {run: runStatus},
	"export": {
		flags: func(fs *flag.FlagSet, f *commandFlags) {
			fs.StringVar(&f.format, "format", "csv", "Output format: csv, jsonl, or dual")
			fs.StringVar(&f.output, "output", "output/listings.csv", "Output file path")
			fs.StringVar(&f.tagSep, "tag-sep", pipeline.DefaultTagSeparator, "Separator between tags in the CSV tags column")
		},
		run: runExport,
	},
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *scraper.Metrics
	flags   commandFlags
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, *a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.StoreDriver, err)
	}
	return store, nil
}

func (a *app) closeStore(store storage.Store) {
	if err := store.Close(); err != nil {
		a.logger.Error("close store", slog.Any("error", err))
	}
}

func (a *app) httpClient() (*fetch.Client, error) {
	hdr := http.Header{}
	hdr.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")
	return fetch.NewClient(fetch.Options{
		UserAgent:   a.cfg.UserAgent,
		Timeout:     a.cfg.Timeout,
		Parallelism: a.cfg.Parallelism,
		Headers:     hdr,
	})
}

func runInit(ctx context.Context, a *app) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	target := a.cfg.DBPath
	if a.cfg.StoreDriver == "postgres" {
		target = "postgres"
	}
	fmt.Printf("Schema ready (%s)\n", target)
	return nil
}

func runReset(ctx context.Context, a *app) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	res, err := store.Reset(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d listings, reset %d batches\n", res.ListingsDeleted, res.BatchesReset)
	return nil
}

func runPlan(ctx context.Context, a *app) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	client, err := a.httpClient()
	if err != nil {
		return err
	}
	facetClient := facets.NewClient(client, a.cfg.BaseURL, a.cfg.Referer, a.logger)

	brands, err := facetClient.Brands(ctx)
	if err != nil {
		return fmt.Errorf("fetch brands: %w", err)
	}
	if len(brands) == 0 {
		return errors.New("no brand facets found")
	}

	batches, err := partition.PlanBatches(ctx, brands, a.cfg.FacetCap, facetClient, a.logger)
	if err != nil {
		return err
	}

	planID := uuid.NewString()
	if err := store.SaveBatches(ctx, planID, batches); err != nil {
		return err
	}

	expected := 0
	split := 0
	for _, b := range batches {
		expected += b.Expected
		if len(b.ModelKeys) > 0 {
			split++
		}
	}

	fmt.Println(separator)
	fmt.Println("Plan saved")
	fmt.Printf("  Plan id:       %s\n", planID)
	fmt.Printf("  Brands:        %d\n", len(brands))
	fmt.Printf("  Batches:       %d (%d by model)\n", len(batches), split)
	fmt.Printf("  Expected:      %d listings\n", expected)
	fmt.Printf("  Facet cap:     %d\n", a.cfg.FacetCap)
	fmt.Println(separator)
	return nil
}

// crawler wires the fetch, extract, persist chain around store.
func (a *app) crawler(store storage.Store) (*scraper.Driver, *pipeline.Pipeline, error) {
	client, err := a.httpClient()
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.NewPipeline(store, a.cfg.DedupeCacheSize, a.logger)
	if err != nil {
		return nil, nil, err
	}

	orch, err := scraper.NewOrchestrator(scraper.Deps{
		Fetcher:   scraper.NewHTTPFetcher(client, a.cfg.Referer, a.metrics),
		Extractor: scraper.HTMLExtractor{Logger: a.logger},
		Locator:   scraper.HTMLLocator{SearchURL: a.cfg.BaseURL},
		Submitter: p,
		Progress:  store,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, scraper.OptionsFromConfig(*a.cfg))
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}

	return scraper.NewDriver(store, orch, a.cfg.BatchDelay, a.metrics, a.logger), p, nil
}

func runAll(ctx context.Context, a *app) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	driver, p, err := a.crawler(store)
	if err != nil {
		return err
	}
	if a.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	summary, err := driver.RunAll(ctx, a.flags.planID)
	if closeErr := p.Close(); closeErr != nil {
		a.logger.Error("pipeline shutdown failed", slog.Any("error", closeErr))
	}
	if err != nil {
		return err
	}

	printRunSummary(summary, p.GetMetrics())
	return nil
}

func runOne(ctx context.Context, a *app) error {
	if a.flags.batchID <= 0 {
		return errors.New("-batch must be a positive batch id")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	driver, p, err := a.crawler(store)
	if err != nil {
		return err
	}

	res, err := driver.RunOne(ctx, a.flags.batchID)
	if closeErr := p.Close(); closeErr != nil {
		a.logger.Error("pipeline shutdown failed", slog.Any("error", closeErr))
	}
	if err != nil {
		return err
	}

	printBatchResult(res)
	return nil
}

// runRelease returns a batch left running by a crashed process to the queue.
// Its recorded count stays untouched, so the next run crawls it again.
func runRelease(ctx context.Context, a *app) error {
	if a.flags.batchID <= 0 {
		return errors.New("-batch must be a positive batch id")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	b, err := store.GetBatch(ctx, a.flags.batchID)
	if err != nil {
		return err
	}
	if b.Status != models.BatchRunning {
		return fmt.Errorf("batch %d is %s, not running", b.ID, b.Status)
	}
	if err := store.ReleaseBatch(ctx, b.ID); err != nil {
		return err
	}

	fmt.Printf("Batch %d released (%s)\n", b.ID, b.Label())
	return nil
}

func runStatus(ctx context.Context, a *app) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	coverage := 0.0
	if stats.Expected > 0 {
		coverage = float64(stats.Found) / float64(stats.Expected) * 100
	}

	fmt.Println(separator)
	fmt.Printf("  Batches:       %d (pending %d, running %d, completed %d)\n",
		stats.Batches, stats.Pending, stats.Running, stats.Completed)
	fmt.Printf("  Expected:      %d\n", stats.Expected)
	fmt.Printf("  Found:         %d (%.1f%%)\n", stats.Found, coverage)
	fmt.Printf("  Listings:      %d\n", stats.Listings)
	fmt.Println(separator)
	return nil
}

func runExport(ctx context.Context, a *app) error {
	writer, err := createWriter(strings.ToLower(a.flags.format), a.flags.output, pipeline.CSVOptions{TagSeparator: a.flags.tagSep})
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		_ = writer.Close()
		return err
	}
	defer a.closeStore(store)

	n, exportErr := pipeline.Export(ctx, store, writer, 500)
	if err := writer.Close(); err != nil && exportErr == nil {
		exportErr = fmt.Errorf("close writer: %w", err)
	}
	if exportErr != nil {
		return exportErr
	}
	if n == 0 {
		fmt.Printf("No listings stored, wrote an empty %s\n", a.flags.output)
		return nil
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	fmt.Printf("Exported %d listings to %s\n", n, a.flags.output)
	return nil
}

func createWriter(format, filename string, opts pipeline.CSVOptions) (pipeline.OutputWriter, error) {
	switch format {
	case "jsonl", "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename, opts)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename, opts)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printRunSummary(s *models.RunSummary, metrics map[string]interface{}) {
	duration := s.EndTime.Sub(s.StartTime)
	perSec := 0.0
	if duration.Seconds() > 0 {
		perSec = float64(s.Processed) / duration.Seconds()
	}

	fmt.Println("\n" + separator)
	fmt.Println("Run complete")
	fmt.Printf("  Run id:        %s\n", s.RunID)
	fmt.Printf("  Batches:       %d (completed %d, skipped %d, failed %d)\n",
		s.Batches, s.Completed, s.Skipped, s.Failed)
	fmt.Printf("  Processed:     %d\n", s.Processed)
	fmt.Printf("  New:           %d\n", s.New)
	if n, ok := metrics["persistence_errors"].(int64); ok && n > 0 {
		fmt.Printf("  Store errors:  %d\n", n)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Listings/sec:  %.2f\n", perSec)
	fmt.Println(separator)
}

func printBatchResult(r *models.BatchResult) {
	fmt.Println("\n" + separator)
	fmt.Printf("Batch %d complete\n", r.BatchID)
	fmt.Printf("  Predicted:     %d pages\n", r.PredictedPages)
	fmt.Printf("  Fetched:       %d pages\n", r.PagesFetched)
	if r.EarlyTerminated {
		fmt.Printf("  Sequential:    from page %d\n", r.SequentialStart)
	}
	fmt.Printf("  Processed:     %d\n", r.Processed)
	fmt.Printf("  New:           %d\n", r.New)
	if len(r.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", r.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	fmt.Println(separator)
}
