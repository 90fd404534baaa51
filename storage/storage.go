// Package storage persists batches and listings in SQLite or PostgreSQL.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
)

// ErrBatchNotFound is returned when a batch id does not exist.
var ErrBatchNotFound = errors.New("storage: batch not found")

const keySeparator = "|"

// Store is the full persistence surface used by the command line.
type Store interface {
	SaveBatches(ctx context.Context, planID string, batches []*models.Batch) error
	ListUnprocessed(ctx context.Context, planID string) ([]*models.Batch, error)
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	ClaimBatch(ctx context.Context, id int64, force bool) (bool, error)
	ReleaseBatch(ctx context.Context, id int64) error
	UpdateFound(ctx context.Context, id int64, found int) error
	UpsertIfAbsent(ctx context.Context, listing *models.Listing) (bool, error)
	EachListing(ctx context.Context, fn func(*models.Listing) error) error
	Reset(ctx context.Context) (ResetResult, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// ResetResult reports what Reset cleared.
type ResetResult struct {
	ListingsDeleted int64
	BatchesReset    int64
}

// Stats summarizes the queue and the listing table.
type Stats struct {
	Batches   int
	Pending   int
	Running   int
	Completed int
	Expected  int64
	Found     int64
	Listings  int64
}

// Open returns the store selected by cfg.StoreDriver. The schema is created if missing.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "sqlite", "":
		return OpenSQLite(ctx, cfg.DBPath)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func joinKeys(keys []string) string {
	return strings.Join(keys, keySeparator)
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, keySeparator)
}

// encodeTags stores tags as a JSON array so a tag may contain the key separator.
func encodeTags(tags []string) (*string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeTags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
