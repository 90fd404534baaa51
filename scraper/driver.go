package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// BatchQueue lists and claims batches.
type BatchQueue interface {
	ListUnprocessed(ctx context.Context, planID string) ([]*models.Batch, error)
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	ClaimBatch(ctx context.Context, id int64, force bool) (bool, error)
	ReleaseBatch(ctx context.Context, id int64) error
}

// BatchProcessor crawls one batch. Process honours recorded progress, Reprocess ignores it.
type BatchProcessor interface {
	Process(ctx context.Context, b *models.Batch) (*models.BatchResult, error)
	Reprocess(ctx context.Context, b *models.Batch) (*models.BatchResult, error)
}

// Driver runs queued batches one after another.
type Driver struct {
	queue      BatchQueue
	processor  BatchProcessor
	batchDelay time.Duration
	metrics    *Metrics
	logger     *slog.Logger
}

// NewDriver builds a driver that waits batchDelay between batches.
func NewDriver(queue BatchQueue, processor BatchProcessor, batchDelay time.Duration, metrics *Metrics, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		queue:      queue,
		processor:  processor,
		batchDelay: batchDelay,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunAll processes every unprocessed batch, smallest expected count first. An empty planID
// covers all plans. A failing batch is logged, released back to the queue and skipped.
// Only listing the queue or cancellation of ctx return an error.
func (d *Driver) RunAll(ctx context.Context, planID string) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger := d.logger.With(slog.String("run_id", summary.RunID))

	batches, err := d.queue.ListUnprocessed(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed batches: %w", err)
	}
	summary.Batches = len(batches)
	logger.Info("run started", slog.Int("batches", len(batches)), slog.String("plan_id", planID))

	for i, b := range batches {
		if i > 0 {
			if err := sleep(ctx, d.batchDelay); err != nil {
				summary.EndTime = time.Now()
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			summary.EndTime = time.Now()
			return summary, err
		}

		won, err := d.queue.ClaimBatch(ctx, b.ID, false)
		if err != nil {
			summary.Failed++
			d.metrics.IncBatch("failed")
			logger.Error("claim batch failed", slog.Int64("batch_id", b.ID), slog.String("error", err.Error()))
			continue
		}
		if !won {
			summary.Skipped++
			d.metrics.IncBatch("skipped")
			logger.Info("batch claimed elsewhere, skipping", slog.Int64("batch_id", b.ID))
			continue
		}

		res, err := d.run(ctx, b, false)
		if err != nil {
			summary.Failed++
			d.metrics.IncBatch("failed")
			logger.Error("batch failed",
				slog.Int64("batch_id", b.ID),
				slog.Int("position", i+1),
				slog.String("error", err.Error()),
			)
			d.release(ctx, b.ID)
			continue
		}
		if res.Skipped {
			summary.Skipped++
			d.metrics.IncBatch("skipped")
			continue
		}

		summary.Completed++
		summary.Processed += res.Processed
		summary.New += res.New
		d.metrics.IncBatch("completed")
		logger.Info("batch progress",
			slog.Int("done", i+1),
			slog.Int("total", len(batches)),
			slog.Int("processed_total", summary.Processed),
		)
	}

	summary.EndTime = time.Now()
	logger.Info("run finished",
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("processed", summary.Processed),
		slog.Int("new", summary.New),
		slog.Duration("duration", summary.EndTime.Sub(summary.StartTime)),
	)
	return summary, nil
}

// RunOne processes the named batch whatever its recorded progress.
func (d *Driver) RunOne(ctx context.Context, id int64) (*models.BatchResult, error) {
	b, err := d.queue.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	won, err := d.queue.ClaimBatch(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("batch %d is already running", id)
	}

	res, err := d.run(ctx, b, true)
	if err != nil {
		d.metrics.IncBatch("failed")
		d.release(ctx, id)
		return nil, err
	}
	d.metrics.IncBatch("completed")
	return res, nil
}

func (d *Driver) run(ctx context.Context, b *models.Batch, force bool) (res *models.BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch %d panicked: %v", b.ID, r)
		}
	}()
	if force {
		return d.processor.Reprocess(ctx, b)
	}
	return d.processor.Process(ctx, b)
}

func (d *Driver) release(ctx context.Context, id int64) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.queue.ReleaseBatch(releaseCtx, id); err != nil {
		d.logger.Error("release batch failed", slog.Int64("batch_id", id), slog.String("error", err.Error()))
	}
}
