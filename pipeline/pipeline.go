// Package pipeline validates extracted listings and submits them to the persistence sink,
// deduplicating by identifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// Sink stores a listing unless one with the same identifier already exists.
// It reports whether the listing was newly inserted.
type Sink interface {
	UpsertIfAbsent(ctx context.Context, listing *models.Listing) (bool, error)
}

// Result counts the outcome of one Process call.
type Result struct {
	Processed int
	New       int
	Invalid   int
	Failed    int
}

// Add accumulates another result.
func (r *Result) Add(other Result) {
	r.Processed += other.Processed
	r.New += other.New
	r.Invalid += other.Invalid
	r.Failed += other.Failed
}

// Pipeline coordinates validation, de-duplication and persistence.
type Pipeline struct {
	sink   Sink
	seen   *lru.Cache[string, struct{}]
	logger *slog.Logger

	metrics metrics

	mu     sync.Mutex
	closed bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline in front of sink. cacheSize bounds the in-memory set of
// identifiers already known to be stored; zero disables it.
func NewPipeline(sink Sink, cacheSize int, logger *slog.Logger) (*Pipeline, error) {
	if sink == nil {
		return nil, fmt.Errorf("pipeline: sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		sink:     sink,
		logger:   logger,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, struct{}](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create dedupe cache: %w", err)
		}
		p.seen = cache
	}
	return p, nil
}

// Process submits listings one by one. A listing that fails validation or persistence is
// skipped and counted; the rest continue. The returned error is non-nil only when the
// pipeline is closed or ctx is done.
func (p *Pipeline) Process(ctx context.Context, listings []*models.Listing) (Result, error) {
	var res Result
	if p.isClosed() {
		return res, ErrPipelineClosed
	}

	for _, listing := range listings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if listing == nil {
			continue
		}

		parser.NormalizeListing(listing)
		if err := parser.ValidateListing(listing); err != nil {
			res.Invalid++
			p.metrics.addValidation("invalid_record")
			p.logger.Debug("listing rejected", slog.String("error", err.Error()))
			continue
		}

		if p.seen != nil && p.seen.Contains(listing.Identifier) {
			res.Processed++
			p.metrics.incrementProcessed(false)
			continue
		}

		inserted, err := p.sink.UpsertIfAbsent(ctx, listing)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Failed++
			p.metrics.addPersistence()
			p.logger.Warn("persist listing failed",
				slog.String("identifier", listing.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}

		if p.seen != nil {
			p.seen.Add(listing.Identifier, struct{}{})
		}
		res.Processed++
		if inserted {
			res.New++
		}
		p.metrics.incrementProcessed(inserted)
	}
	return res, nil
}

// Close stops metric reporting and rejects further submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	return nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				validation := m["validation_errors"].(map[string]int)
				p.logger.Info("pipeline progress",
					slog.Int64("processed", m["processed_listings"].(int64)),
					slog.Int64("new", m["new_listings"].(int64)),
					slog.Int64("persistence_errors", m["persistence_errors"].(int64)),
					slog.Int("validation_errors", len(validation)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type metrics struct {
	mu          sync.Mutex
	processed   int64
	inserted    int64
	persistence int64
	validation  map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed(inserted bool) {
	m.mu.Lock()
	m.processed++
	if inserted {
		m.inserted++
	}
	m.mu.Unlock()
}

func (m *metrics) addPersistence() {
	m.mu.Lock()
	m.persistence++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_listings": m.processed,
		"new_listings":       m.inserted,
		"persistence_errors": m.persistence,
		"validation_errors":  copyValidation,
	}
}
