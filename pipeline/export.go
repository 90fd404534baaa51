package pipeline

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(listings []*models.Listing) error
	Close() error
	Validate() error
}

// ListingSource iterates stored listings in insertion order.
type ListingSource interface {
	EachListing(ctx context.Context, fn func(*models.Listing) error) error
}

// Export streams every listing of src into w in slices of batchSize and returns the count written.
// The writer is not closed.
func Export(ctx context.Context, src ListingSource, w OutputWriter, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	written := 0
	batch := make([]*models.Listing, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Write(batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	err := src.EachListing(ctx, func(l *models.Listing) error {
		batch = append(batch, l)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
