package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aluiziolira/go-scrape-listings/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id TEXT NOT NULL,
	brand_keys TEXT NOT NULL,
	model_keys TEXT NOT NULL DEFAULT '',
	results_expected INTEGER NOT NULL,
	results_found INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS listings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT UNIQUE NOT NULL,
	url TEXT NOT NULL,
	license_plate TEXT,
	construction_year INTEGER,
	mileage INTEGER,
	price INTEGER,
	seller_name TEXT,
	seller_identifier TEXT,
	tags TEXT, -- JSON array
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batches_queue ON batches(status, results_found, results_expected);
CREATE INDEX IF NOT EXISTS idx_batches_plan ON batches(plan_id);
`

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &SQLite{db: db}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// SaveBatches inserts batches under planID and fills in their ids.
func (s *SQLite) SaveBatches(ctx context.Context, planID string, batches []*models.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batches (plan_id, brand_keys, model_keys, results_expected, results_found, status)
		VALUES (?, ?, ?, ?, 0, 'pending')
	`)
	if err != nil {
		return fmt.Errorf("prepare insert batch: %w", err)
	}
	defer stmt.Close()

	for _, b := range batches {
		res, err := stmt.ExecContext(ctx, planID, joinKeys(b.BrandKeys), joinKeys(b.ModelKeys), b.Expected)
		if err != nil {
			return fmt.Errorf("insert batch %s: %w", b.Label(), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read batch id: %w", err)
		}
		b.ID = id
		b.PlanID = planID
		b.Found = 0
		b.Status = models.BatchPending
	}
	return tx.Commit()
}

// ListUnprocessed returns pending batches that have no recorded results, smallest expected first.
// An empty planID lists every plan.
func (s *SQLite) ListUnprocessed(ctx context.Context, planID string) ([]*models.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, brand_keys, model_keys, results_expected, results_found, status
		FROM batches
		WHERE status = 'pending' AND results_found = 0 AND (? = '' OR plan_id = ?)
		ORDER BY results_expected ASC, id ASC
	`, planID, planID)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch loads one batch.
func (s *SQLite) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, brand_keys, model_keys, results_expected, results_found, status
		FROM batches WHERE id = ?
	`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %d: %w", id, ErrBatchNotFound)
	}
	return b, err
}

// ClaimBatch moves a pending batch to running and reports whether this caller won it.
// With force, any batch that is not already running can be claimed.
func (s *SQLite) ClaimBatch(ctx context.Context, id int64, force bool) (bool, error) {
	query := `UPDATE batches SET status = 'running' WHERE id = ? AND status = 'pending'`
	if force {
		query = `UPDATE batches SET status = 'running' WHERE id = ? AND status <> 'running'`
	}
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim batch %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim batch %d: %w", id, err)
	}
	return n == 1, nil
}

// ReleaseBatch returns a running batch to the queue.
func (s *SQLite) ReleaseBatch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE batches SET status = 'pending' WHERE id = ? AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("release batch %d: %w", id, err)
	}
	return nil
}

// UpdateFound records the final result count and marks the batch completed.
func (s *SQLite) UpdateFound(ctx context.Context, id int64, found int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET results_found = ?, status = 'completed', completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, found, id)
	if err != nil {
		return fmt.Errorf("update found for batch %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update found for batch %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("batch %d: %w", id, ErrBatchNotFound)
	}
	return nil
}

// UpsertIfAbsent inserts the listing unless its identifier is already stored.
func (s *SQLite) UpsertIfAbsent(ctx context.Context, l *models.Listing) (bool, error) {
	tags, err := encodeTags(l.Tags)
	if err != nil {
		return false, fmt.Errorf("insert listing %s: %w", l.Identifier, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO listings
			(identifier, url, license_plate, construction_year, mileage, price, seller_name, seller_identifier, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO NOTHING
	`, l.Identifier, l.URL, l.LicensePlate, l.ConstructionYear, l.Mileage, l.Price,
		l.SellerName, l.SellerIdentifier, tags)
	if err != nil {
		return false, fmt.Errorf("insert listing %s: %w", l.Identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert listing %s: %w", l.Identifier, err)
	}
	return n == 1, nil
}

// EachListing calls fn for every stored listing in insertion order.
func (s *SQLite) EachListing(ctx context.Context, fn func(*models.Listing) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, url, license_plate, construction_year, mileage, price,
			seller_name, seller_identifier, tags
		FROM listings ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                       models.Listing
			plate, seller, sellerID sql.NullString
			year, mileage, price    sql.NullInt64
			tags                    sql.NullString
		)
		if err := rows.Scan(&l.Identifier, &l.URL, &plate, &year, &mileage, &price, &seller, &sellerID, &tags); err != nil {
			return fmt.Errorf("scan listing: %w", err)
		}
		l.LicensePlate = nullString(plate)
		l.SellerName = nullString(seller)
		l.SellerIdentifier = nullString(sellerID)
		l.ConstructionYear = nullInt(year)
		l.Mileage = nullInt(mileage)
		l.Price = nullInt(price)
		if tags.Valid {
			if l.Tags, err = decodeTags(tags.String); err != nil {
				return fmt.Errorf("listing %s: %w", l.Identifier, err)
			}
		}
		if err := fn(&l); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Reset clears every listing and returns all batches to the queue.
func (s *SQLite) Reset(ctx context.Context) (ResetResult, error) {
	var out ResetResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM listings`)
	if err != nil {
		return out, fmt.Errorf("delete listings: %w", err)
	}
	if out.ListingsDeleted, err = res.RowsAffected(); err != nil {
		return out, err
	}

	res, err = tx.ExecContext(ctx, `UPDATE batches SET results_found = 0, status = 'pending', completed_at = NULL`)
	if err != nil {
		return out, fmt.Errorf("reset batches: %w", err)
	}
	if out.BatchesReset, err = res.RowsAffected(); err != nil {
		return out, err
	}
	return out, tx.Commit()
}

// Stats counts batches by status and stored listings.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(results_expected), 0),
			COALESCE(SUM(results_found), 0)
		FROM batches
	`).Scan(&st.Batches, &st.Pending, &st.Running, &st.Completed, &st.Expected, &st.Found)
	if err != nil {
		return st, fmt.Errorf("batch stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&st.Listings); err != nil {
		return st, fmt.Errorf("listing stats: %w", err)
	}
	return st, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var (
		b              models.Batch
		brands, modelK string
		status         string
	)
	if err := row.Scan(&b.ID, &b.PlanID, &brands, &modelK, &b.Expected, &b.Found, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.BrandKeys = splitKeys(brands)
	b.ModelKeys = splitKeys(modelK)
	b.Status = models.BatchStatus(status)
	return &b, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
