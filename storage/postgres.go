package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-listings/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS batches (
	id BIGSERIAL PRIMARY KEY,
	plan_id TEXT NOT NULL,
	brand_keys TEXT NOT NULL,
	model_keys TEXT NOT NULL DEFAULT '',
	results_expected INTEGER NOT NULL,
	results_found INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS listings (
	id BIGSERIAL PRIMARY KEY,
	identifier TEXT UNIQUE NOT NULL,
	url TEXT NOT NULL,
	license_plate TEXT,
	construction_year INTEGER,
	mileage INTEGER,
	price INTEGER,
	seller_name TEXT,
	seller_identifier TEXT,
	tags TEXT[],
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batches_queue ON batches(status, results_found, results_expected);
CREATE INDEX IF NOT EXISTS idx_batches_plan ON batches(plan_id);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the schema if missing.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// SaveBatches inserts batches under planID and fills in their ids.
func (p *Postgres) SaveBatches(ctx context.Context, planID string, batches []*models.Batch) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range batches {
		err := tx.QueryRow(ctx, `
			INSERT INTO batches (plan_id, brand_keys, model_keys, results_expected, results_found, status)
			VALUES ($1, $2, $3, $4, 0, 'pending')
			RETURNING id
		`, planID, joinKeys(b.BrandKeys), joinKeys(b.ModelKeys), b.Expected).Scan(&b.ID)
		if err != nil {
			return fmt.Errorf("insert batch %s: %w", b.Label(), err)
		}
		b.PlanID = planID
		b.Found = 0
		b.Status = models.BatchPending
	}
	return tx.Commit(ctx)
}

// ListUnprocessed returns pending batches that have no recorded results, smallest expected first.
func (p *Postgres) ListUnprocessed(ctx context.Context, planID string) ([]*models.Batch, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, plan_id, brand_keys, model_keys, results_expected, results_found, status
		FROM batches
		WHERE status = 'pending' AND results_found = 0 AND ($1 = '' OR plan_id = $1)
		ORDER BY results_expected ASC, id ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanPgBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch loads one batch.
func (p *Postgres) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, plan_id, brand_keys, model_keys, results_expected, results_found, status
		FROM batches WHERE id = $1
	`, id)
	b, err := scanPgBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("batch %d: %w", id, ErrBatchNotFound)
	}
	return b, err
}

// ClaimBatch moves a pending batch to running and reports whether this caller won it.
func (p *Postgres) ClaimBatch(ctx context.Context, id int64, force bool) (bool, error) {
	query := `UPDATE batches SET status = 'running' WHERE id = $1 AND status = 'pending'`
	if force {
		query = `UPDATE batches SET status = 'running' WHERE id = $1 AND status <> 'running'`
	}
	tag, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim batch %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseBatch returns a running batch to the queue.
func (p *Postgres) ReleaseBatch(ctx context.Context, id int64) error {
	if _, err := p.pool.Exec(ctx, `UPDATE batches SET status = 'pending' WHERE id = $1 AND status = 'running'`, id); err != nil {
		return fmt.Errorf("release batch %d: %w", id, err)
	}
	return nil
}

// UpdateFound records the final result count and marks the batch completed.
func (p *Postgres) UpdateFound(ctx context.Context, id int64, found int) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE batches
		SET results_found = $1, status = 'completed', completed_at = now()
		WHERE id = $2
	`, found, id)
	if err != nil {
		return fmt.Errorf("update found for batch %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %d: %w", id, ErrBatchNotFound)
	}
	return nil
}

// UpsertIfAbsent inserts the listing unless its identifier is already stored.
func (p *Postgres) UpsertIfAbsent(ctx context.Context, l *models.Listing) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO listings
			(identifier, url, license_plate, construction_year, mileage, price, seller_name, seller_identifier, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identifier) DO NOTHING
	`, l.Identifier, l.URL, l.LicensePlate, l.ConstructionYear, l.Mileage, l.Price,
		l.SellerName, l.SellerIdentifier, l.Tags)
	if err != nil {
		return false, fmt.Errorf("insert listing %s: %w", l.Identifier, err)
	}
	return tag.RowsAffected() == 1, nil
}

// EachListing calls fn for every stored listing in insertion order.
func (p *Postgres) EachListing(ctx context.Context, fn func(*models.Listing) error) error {
	rows, err := p.pool.Query(ctx, `
		SELECT identifier, url, license_plate, construction_year, mileage, price,
			seller_name, seller_identifier, tags
		FROM listings ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.Identifier, &l.URL, &l.LicensePlate, &l.ConstructionYear, &l.Mileage,
			&l.Price, &l.SellerName, &l.SellerIdentifier, &l.Tags); err != nil {
			return fmt.Errorf("scan listing: %w", err)
		}
		if err := fn(&l); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Reset clears every listing and returns all batches to the queue.
func (p *Postgres) Reset(ctx context.Context) (ResetResult, error) {
	var out ResetResult
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return out, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM listings`)
	if err != nil {
		return out, fmt.Errorf("delete listings: %w", err)
	}
	out.ListingsDeleted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `UPDATE batches SET results_found = 0, status = 'pending', completed_at = NULL`)
	if err != nil {
		return out, fmt.Errorf("reset batches: %w", err)
	}
	out.BatchesReset = tag.RowsAffected()
	return out, tx.Commit(ctx)
}

// Stats counts batches by status and stored listings.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM(results_expected), 0),
			COALESCE(SUM(results_found), 0)
		FROM batches
	`).Scan(&st.Batches, &st.Pending, &st.Running, &st.Completed, &st.Expected, &st.Found)
	if err != nil {
		return st, fmt.Errorf("batch stats: %w", err)
	}
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings`).Scan(&st.Listings); err != nil {
		return st, fmt.Errorf("listing stats: %w", err)
	}
	return st, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgBatch(row pgx.Row) (*models.Batch, error) {
	var (
		b              models.Batch
		brands, modelK string
		status         string
	)
	if err := row.Scan(&b.ID, &b.PlanID, &brands, &modelK, &b.Expected, &b.Found, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.BrandKeys = splitKeys(brands)
	b.ModelKeys = splitKeys(modelK)
	b.Status = models.BatchStatus(status)
	return &b, nil
}
