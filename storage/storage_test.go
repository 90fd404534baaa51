package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "listings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("SCRAPER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SCRAPER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn, 2)
	require.NoError(t, err)
	_, err = p.pool.Exec(ctx, `TRUNCATE listings, batches RESTART IDENTITY`)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func sampleBatches() []*models.Batch {
	return []*models.Batch{
		{BrandKeys: []string{"bmw"}, ModelKeys: []string{"3-serie", "x5"}, Expected: 8000},
		{BrandKeys: []string{"abarth", "alfa-romeo"}, Expected: 700},
		{BrandKeys: []string{"audi"}, Expected: 4000},
	}
}

func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("save and list smallest first", func(t *testing.T) {
		batches := sampleBatches()
		require.NoError(t, store.SaveBatches(ctx, "plan-a", batches))
		for _, b := range batches {
			assert.NotZero(t, b.ID)
			assert.Equal(t, "plan-a", b.PlanID)
		}
		require.NoError(t, store.SaveBatches(ctx, "plan-b", []*models.Batch{{BrandKeys: []string{"kia"}, Expected: 10}}))

		all, err := store.ListUnprocessed(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, []string{"kia"}, all[0].BrandKeys)
		assert.Equal(t, 700, all[1].Expected)
		assert.Equal(t, 8000, all[3].Expected)
		assert.Equal(t, []string{"3-serie", "x5"}, all[3].ModelKeys)
		assert.Empty(t, all[1].ModelKeys)

		planA, err := store.ListUnprocessed(ctx, "plan-a")
		require.NoError(t, err)
		assert.Len(t, planA, 3)
	})

	t.Run("dedup idempotence", func(t *testing.T) {
		l := &models.Listing{
			Identifier:       "1001",
			URL:              "https://example.test/1001/",
			LicensePlate:     strPtr("AB-123-C"),
			ConstructionYear: intPtr(2018),
			Price:            intPtr(15950),
			Tags:             []string{"Benzine", "Trekhaak | afneembaar", "Energielabel C"},
		}
		inserted, err := store.UpsertIfAbsent(ctx, l)
		require.NoError(t, err)
		assert.True(t, inserted)

		for i := 0; i < 3; i++ {
			changed := *l
			changed.Price = intPtr(1)
			inserted, err = store.UpsertIfAbsent(ctx, &changed)
			require.NoError(t, err)
			assert.False(t, inserted)
		}

		var stored []*models.Listing
		require.NoError(t, store.EachListing(ctx, func(l *models.Listing) error {
			stored = append(stored, l)
			return nil
		}))
		require.Len(t, stored, 1)
		assert.Equal(t, 15950, *stored[0].Price)
		assert.Equal(t, "AB-123-C", *stored[0].LicensePlate)
		assert.Nil(t, stored[0].Mileage)
		assert.Nil(t, stored[0].SellerName)
		assert.Equal(t, []string{"Benzine", "Trekhaak | afneembaar", "Energielabel C"}, stored[0].Tags)
	})

	t.Run("claim release and complete", func(t *testing.T) {
		queue, err := store.ListUnprocessed(ctx, "plan-a")
		require.NoError(t, err)
		id := queue[0].ID

		won, err := store.ClaimBatch(ctx, id, false)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.ClaimBatch(ctx, id, false)
		require.NoError(t, err)
		assert.False(t, won, "second claim must lose")

		won, err = store.ClaimBatch(ctx, id, true)
		require.NoError(t, err)
		assert.False(t, won, "forced claim must not steal a running batch")

		require.NoError(t, store.ReleaseBatch(ctx, id))
		b, err := store.GetBatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.BatchPending, b.Status)

		won, err = store.ClaimBatch(ctx, id, false)
		require.NoError(t, err)
		require.True(t, won)
		require.NoError(t, store.UpdateFound(ctx, id, 650))

		b, err = store.GetBatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 650, b.Found)
		assert.Equal(t, models.BatchCompleted, b.Status)
		assert.True(t, b.Processed())

		queue, err = store.ListUnprocessed(ctx, "plan-a")
		require.NoError(t, err)
		assert.Len(t, queue, 2)

		won, err = store.ClaimBatch(ctx, id, false)
		require.NoError(t, err)
		assert.False(t, won, "completed batch is not claimable without force")

		won, err = store.ClaimBatch(ctx, id, true)
		require.NoError(t, err)
		assert.True(t, won)
		require.NoError(t, store.UpdateFound(ctx, id, 650))
	})

	t.Run("missing batch", func(t *testing.T) {
		_, err := store.GetBatch(ctx, 999999)
		assert.ErrorIs(t, err, ErrBatchNotFound)
		assert.ErrorIs(t, store.UpdateFound(ctx, 999999, 1), ErrBatchNotFound)
	})

	t.Run("stats and reset", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			_, err := store.UpsertIfAbsent(ctx, &models.Listing{
				Identifier: "bulk-" + strconv.Itoa(i),
				URL:        "https://example.test/bulk/" + strconv.Itoa(i),
			})
			require.NoError(t, err)
		}

		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, st.Batches)
		assert.Equal(t, 1, st.Completed)
		assert.Equal(t, 3, st.Pending)
		assert.Equal(t, int64(12710), st.Expected)
		assert.Equal(t, int64(650), st.Found)
		assert.Equal(t, int64(5), st.Listings)

		res, err := store.Reset(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.ListingsDeleted)
		assert.Equal(t, int64(4), res.BatchesReset)

		queue, err := store.ListUnprocessed(ctx, "")
		require.NoError(t, err)
		assert.Len(t, queue, 4)
	})

	t.Run("abandoned claim is recovered by release", func(t *testing.T) {
		b := &models.Batch{BrandKeys: []string{"lada"}, Expected: 42}
		require.NoError(t, store.SaveBatches(ctx, "plan-c", []*models.Batch{b}))

		won, err := store.ClaimBatch(ctx, b.ID, false)
		require.NoError(t, err)
		require.True(t, won)

		// the claiming process died without releasing
		queue, err := store.ListUnprocessed(ctx, "plan-c")
		require.NoError(t, err)
		assert.Empty(t, queue)
		won, err = store.ClaimBatch(ctx, b.ID, true)
		require.NoError(t, err)
		assert.False(t, won)

		require.NoError(t, store.ReleaseBatch(ctx, b.ID))

		got, err := store.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchPending, got.Status)
		assert.Zero(t, got.Found)

		queue, err = store.ListUnprocessed(ctx, "plan-c")
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Equal(t, b.ID, queue[0].ID)

		won, err = store.ClaimBatch(ctx, b.ID, false)
		require.NoError(t, err)
		assert.True(t, won)
		require.NoError(t, store.ReleaseBatch(ctx, b.ID))
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, openSQLite(t))
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, openPostgres(t))
}

func TestOpenSelectsDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "open.db")

	store, err := Open(context.Background(), *cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLite{}, store)

	cfg.StoreDriver = "mysql"
	_, err = Open(context.Background(), *cfg)
	assert.Error(t, err)
}

func TestKeysRoundTrip(t *testing.T) {
	assert.Nil(t, splitKeys(""))
	assert.Equal(t, "", joinKeys(nil))
	assert.Equal(t, []string{"a", "b"}, splitKeys(joinKeys([]string{"a", "b"})))
}

func TestTagsRoundTrip(t *testing.T) {
	encoded, err := encodeTags(nil)
	require.NoError(t, err)
	assert.Nil(t, encoded)

	tags := []string{"Diesel", "Navigatie | Apple CarPlay", `17" velgen`}
	encoded, err = encodeTags(tags)
	require.NoError(t, err)
	require.NotNil(t, encoded)

	decoded, err := decodeTags(*encoded)
	require.NoError(t, err)
	assert.Equal(t, tags, decoded)

	decoded, err = decodeTags("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	_, err = decodeTags("Diesel|Navigatie")
	assert.Error(t, err)
}
