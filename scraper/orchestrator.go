package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/fetch"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
)

const (
	phasePredictive = "predictive"
	phaseSequential = "sequential"
)

type pageOutcome int

const (
	outcomeSuccess pageOutcome = iota
	outcomeTerminal
	outcomeTransient
)

func (o pageOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTerminal:
		return "terminal"
	default:
		return "transient"
	}
}

type pageResult struct {
	page     int
	outcome  pageOutcome
	listings []*models.Listing
	doc      *goquery.Document
	errLabel string
}

// ProgressStore records the final result count of a batch.
type ProgressStore interface {
	UpdateFound(ctx context.Context, id int64, found int) error
}

// Submitter deduplicates and stores listings.
type Submitter interface {
	Process(ctx context.Context, listings []*models.Listing) (pipeline.Result, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Fetcher   PageFetcher
	Extractor ListingExtractor
	Locator   NextPageLocator
	Submitter Submitter
	Progress  ProgressStore
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Options tune pagination.
type Options struct {
	SearchURL       string
	PageSize        int
	ChunkSize       int
	Parallelism     int
	ChunkDelay      time.Duration
	SequentialDelay time.Duration
}

// OptionsFromConfig copies the crawl settings out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SearchURL:       cfg.BaseURL,
		PageSize:        cfg.PageSize,
		ChunkSize:       cfg.ChunkSize,
		Parallelism:     cfg.Parallelism,
		ChunkDelay:      cfg.ChunkDelay,
		SequentialDelay: cfg.SequentialDelay,
	}
}

// Orchestrator crawls one batch: predicted pages in parallel chunks, then link following.
type Orchestrator struct {
	deps Deps
	opts Options
}

// NewOrchestrator validates deps and opts.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("orchestrator: fetcher is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("orchestrator: extractor is required")
	case deps.Locator == nil:
		return nil, fmt.Errorf("orchestrator: locator is required")
	case deps.Submitter == nil:
		return nil, fmt.Errorf("orchestrator: submitter is required")
	case deps.Progress == nil:
		return nil, fmt.Errorf("orchestrator: progress store is required")
	}
	if opts.SearchURL == "" {
		return nil, fmt.Errorf("orchestrator: search url is required")
	}
	if opts.PageSize <= 0 || opts.ChunkSize <= 0 || opts.Parallelism <= 0 {
		return nil, fmt.Errorf("orchestrator: page size, chunk size and parallelism must be positive")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// PredictedPages is ceil(expected / pageSize).
func PredictedPages(expected, pageSize int) int {
	if expected <= 0 || pageSize <= 0 {
		return 0
	}
	return (expected + pageSize - 1) / pageSize
}

// Process crawls b unless it already completed, in which case nothing is fetched.
func (o *Orchestrator) Process(ctx context.Context, b *models.Batch) (*models.BatchResult, error) {
	if b.Processed() {
		o.deps.Logger.Info("batch already processed, skipping",
			slog.Int64("batch_id", b.ID),
			slog.Int("found", b.Found),
		)
		now := time.Now()
		return &models.BatchResult{BatchID: b.ID, StartTime: now, EndTime: now, Skipped: true, Processed: b.Found}, nil
	}
	return o.Reprocess(ctx, b)
}

// Reprocess crawls b regardless of its recorded progress and writes the processed count once
// the crawl completes.
func (o *Orchestrator) Reprocess(ctx context.Context, b *models.Batch) (*models.BatchResult, error) {
	res := &models.BatchResult{
		BatchID:      b.ID,
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	logger := o.deps.Logger.With(slog.Int64("batch_id", b.ID), slog.String("batch", b.Label()))

	predicted := PredictedPages(b.Expected, o.opts.PageSize)
	res.PredictedPages = predicted
	logger.Info("batch started", slog.Int("expected", b.Expected), slog.Int("predicted_pages", predicted))

	var tally pipeline.Result
	next := predicted + 1

	for start := 1; start <= predicted; start += o.opts.ChunkSize {
		if start > 1 {
			if err := sleep(ctx, o.opts.ChunkDelay); err != nil {
				return nil, err
			}
		}
		end := min(start+o.opts.ChunkSize-1, predicted)

		results, err := o.fetchChunk(ctx, b, start, end)
		if err != nil {
			return nil, err
		}
		res.PagesFetched += len(results)

		last := lastSuccessfulPage(results, start)
		for _, r := range results {
			if r.errLabel != "" {
				res.ErrorsByType[r.errLabel]++
			}
			if r.page > last || r.outcome != outcomeSuccess {
				continue
			}
			if err := o.submit(ctx, r.listings, &tally, res); err != nil {
				return nil, err
			}
		}

		logger.Debug("chunk done",
			slog.Int("start", start),
			slog.Int("end", end),
			slog.Int("last_successful", last),
			slog.Int("processed", tally.Processed),
		)
		if last < end {
			res.EarlyTerminated = true
			next = last + 1
			break
		}
	}

	res.SequentialStart = next
	if err := o.sequential(ctx, b, next, &tally, res, logger); err != nil {
		return nil, err
	}

	if err := o.deps.Progress.UpdateFound(ctx, b.ID, tally.Processed); err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}

	res.Processed = tally.Processed
	res.New = tally.New
	res.EndTime = time.Now()
	logger.Info("batch completed",
		slog.Int("processed", res.Processed),
		slog.Int("new", res.New),
		slog.Int("pages", res.PagesFetched),
		slog.Bool("early_terminated", res.EarlyTerminated),
		slog.Duration("duration", res.EndTime.Sub(res.StartTime)),
	)
	return res, nil
}

// fetchChunk fetches pages start..end concurrently. Each worker writes only its own slot.
func (o *Orchestrator) fetchChunk(ctx context.Context, b *models.Batch, start, end int) ([]pageResult, error) {
	urls := make([]string, 0, end-start+1)
	for page := start; page <= end; page++ {
		u, err := SearchURL(o.opts.SearchURL, b, page, o.opts.PageSize)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}

	results := make([]pageResult, len(urls))
	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for i, u := range urls {
		g.Go(func() error {
			r := o.fetchPage(ctx, phasePredictive, u, start+i)
			r.doc = nil
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (o *Orchestrator) sequential(ctx context.Context, b *models.Batch, page int, tally *pipeline.Result, res *models.BatchResult, logger *slog.Logger) error {
	current, err := SearchURL(o.opts.SearchURL, b, page, o.opts.PageSize)
	if err != nil {
		return err
	}

	visited := make(map[string]struct{})
	for {
		if _, seen := visited[current]; seen {
			logger.Debug("next page already visited, stopping", slog.String("url", current))
			return nil
		}
		if len(visited) > 0 {
			if err := sleep(ctx, o.opts.SequentialDelay); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		visited[current] = struct{}{}

		r := o.fetchPage(ctx, phaseSequential, current, page)
		res.PagesFetched++
		switch r.outcome {
		case outcomeTerminal:
			logger.Debug("sequential phase reached the end", slog.Int("page", page))
			return nil
		case outcomeTransient:
			res.ErrorsByType[r.errLabel]++
			logger.Warn("sequential page failed, ending pagination", slog.Int("page", page), slog.String("error_type", r.errLabel))
			return nil
		}

		if err := o.submit(ctx, r.listings, tally, res); err != nil {
			return err
		}

		next, ok := o.deps.Locator.Locate(r.doc)
		if !ok {
			logger.Debug("no next page link", slog.Int("page", page))
			return nil
		}
		current = next
		page++
	}
}

func (o *Orchestrator) fetchPage(ctx context.Context, phase, url string, page int) pageResult {
	o.deps.Metrics.IncRequest(phase)
	r := pageResult{page: page}

	doc, err := o.deps.Fetcher.Fetch(ctx, url)
	switch {
	case err != nil && IsTerminal(err):
		r.outcome = outcomeTerminal
	case err != nil:
		r.outcome = outcomeTransient
		r.errLabel = fetch.ErrorLabel(err)
		o.deps.Metrics.IncError(r.errLabel)
		o.deps.Logger.Debug("page fetch failed",
			slog.String("phase", phase),
			slog.Int("page", page),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	default:
		r.doc = doc
		r.listings = o.deps.Extractor.Extract(doc)
		if len(r.listings) == 0 {
			r.outcome = outcomeTerminal
		} else {
			r.outcome = outcomeSuccess
		}
	}
	o.deps.Metrics.IncPage(r.outcome.String())
	return r
}

func (o *Orchestrator) submit(ctx context.Context, listings []*models.Listing, tally *pipeline.Result, res *models.BatchResult) error {
	out, err := o.deps.Submitter.Process(ctx, listings)
	tally.Add(out)
	o.deps.Metrics.AddListings(out.Processed, out.New)
	if out.Failed > 0 {
		res.ErrorsByType["persistence_error"] += out.Failed
	}
	if out.Invalid > 0 {
		res.ErrorsByType["validation_error"] += out.Invalid
	}
	if err != nil {
		return fmt.Errorf("submit listings: %w", err)
	}
	return nil
}

// lastSuccessfulPage returns the page before the first terminal result, or the chunk end.
// results must be ordered by page.
func lastSuccessfulPage(results []pageResult, start int) int {
	last := start - 1
	for _, r := range results {
		if r.outcome == outcomeTerminal {
			return r.page - 1
		}
		last = r.page
	}
	return last
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
