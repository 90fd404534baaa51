package partition

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-listings/models"
)

func TestPartitionExample(t *testing.T) {
	facets := []Facet{{"D", 500}, {"A", 1000}, {"B", 2000}, {"C", 8000}}

	groups, err := Partition(facets, 9000)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, []string{"D", "A", "B"}, groups[0].Keys)
	assert.Equal(t, 3500, groups[0].Count)
	assert.False(t, groups[0].Standalone)

	assert.Equal(t, []string{"C"}, groups[1].Keys)
	assert.Equal(t, 8000, groups[1].Count)
}

func TestPartitionStableTies(t *testing.T) {
	facets := []Facet{{"x", 10}, {"y", 5}, {"z", 10}, {"w", 5}}

	groups, err := Partition(facets, 15)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"y", "w"}, groups[0].Keys)
	assert.Equal(t, []string{"x"}, groups[1].Keys)
	assert.Equal(t, []string{"z"}, groups[2].Keys)

	groups, err = Partition(facets, 20)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"y", "w", "x"}, groups[0].Keys)
	assert.Equal(t, []string{"z"}, groups[1].Keys)
}

func TestPartitionStandaloneNeverMerges(t *testing.T) {
	facets := []Facet{{"small", 1}, {"huge", 50}, {"tiny", 0}, {"big", 20}}

	groups, err := Partition(facets, 30)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, []string{"tiny", "small", "big"}, groups[0].Keys)
	assert.Equal(t, 21, groups[0].Count)
	assert.Equal(t, []string{"huge"}, groups[1].Keys)
	assert.True(t, groups[1].Standalone)
}

func TestPartitionEdgeCases(t *testing.T) {
	groups, err := Partition(nil, 9000)
	require.NoError(t, err)
	assert.Empty(t, groups)

	groups, err = Partition([]Facet{{"zero", 0}}, 9000)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"zero"}, groups[0].Keys)

	_, err = Partition([]Facet{{"a", 1}}, 0)
	assert.Error(t, err)

	_, err = Partition([]Facet{{"a", -1}}, 10)
	assert.Error(t, err)
}

func TestPartitionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		limit := 1 + rng.Intn(500)
		n := rng.Intn(40)
		facets := make([]Facet, n)
		counts := make(map[string]int, n)
		for i := range facets {
			key := "k" + strconv.Itoa(i)
			facets[i] = Facet{Key: key, Count: rng.Intn(limit * 2)}
			counts[key] = facets[i].Count
		}

		groups, err := Partition(facets, limit)
		require.NoError(t, err)

		seen := make(map[string]int, n)
		for _, g := range groups {
			sum := 0
			for _, k := range g.Keys {
				seen[k]++
				sum += counts[k]
			}
			assert.Equal(t, sum, g.Count)
			if g.Count > limit {
				require.True(t, g.Standalone, "run %d: group %v over limit %d", run, g.Keys, limit)
				require.Len(t, g.Keys, 1)
			}
		}
		require.Len(t, seen, n, "run %d: coverage", run)
		for k, times := range seen {
			require.Equal(t, 1, times, "run %d: key %s", run, k)
		}
	}
}

func TestPartitionerDescendsOneLevel(t *testing.T) {
	descended := []string{}
	p := Partitioner{
		Cap:      100,
		MaxDepth: 1,
		Descend: func(_ context.Context, key string) ([]Facet, error) {
			descended = append(descended, key)
			return []Facet{{key + "-1", 60}, {key + "-2", 50}, {key + "-3", 150}}, nil
		},
	}

	groups, err := p.Partition(context.Background(), []Facet{{"a", 30}, {"big", 260}, {"b", 40}})
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, descended)
	require.Len(t, groups, 4)

	assert.Equal(t, []string{"a", "b"}, groups[0].Keys)
	assert.Equal(t, 0, groups[0].Depth)

	assert.Equal(t, []string{"big-2"}, groups[1].Keys)
	assert.Equal(t, "big", groups[1].Parent)
	assert.Equal(t, 1, groups[1].Depth)
	assert.Equal(t, []string{"big-1"}, groups[2].Keys)
	// child standalone at max depth stays standalone
	assert.Equal(t, []string{"big-3"}, groups[3].Keys)
	assert.True(t, groups[3].Standalone)
	assert.Equal(t, 1, groups[3].Depth)
}

func TestPartitionerKeepsStandaloneOnDescendFailure(t *testing.T) {
	p := Partitioner{
		Cap:      10,
		MaxDepth: 1,
		Descend: func(_ context.Context, key string) ([]Facet, error) {
			if key == "broken" {
				return nil, errors.New("facet endpoint down")
			}
			return nil, nil
		},
	}

	groups, err := p.Partition(context.Background(), []Facet{{"broken", 20}, {"empty", 30}})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"broken"}, groups[0].Keys)
	assert.Equal(t, []string{"empty"}, groups[1].Keys)
	assert.True(t, groups[1].Standalone)
}

func TestPartitionerStopsOnCancelledDescend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Partitioner{
		Cap:      10,
		MaxDepth: 1,
		Descend: func(ctx context.Context, _ string) ([]Facet, error) {
			cancel()
			return nil, ctx.Err()
		},
	}

	_, err := p.Partition(ctx, []Facet{{"big", 20}})
	assert.ErrorIs(t, err, context.Canceled)
}

type stubModels map[string][]models.FacetCount

func (s stubModels) Models(_ context.Context, brand string) ([]models.FacetCount, error) {
	return s[brand], nil
}

func TestPlanBatches(t *testing.T) {
	brands := []models.FacetCount{
		{Key: "alfa-romeo", Count: 400},
		{Key: "volkswagen", Count: 12000},
		{Key: "abarth", Count: 300},
	}
	provider := stubModels{
		"volkswagen": {
			{Key: "golf", Count: 7000},
			{Key: "polo", Count: 4000},
			{Key: "up", Count: 1000},
		},
	}

	batches, err := PlanBatches(context.Background(), brands, 9000, provider, nil)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, []string{"abarth", "alfa-romeo"}, batches[0].BrandKeys)
	assert.Empty(t, batches[0].ModelKeys)
	assert.Equal(t, 700, batches[0].Expected)
	assert.Equal(t, models.BatchPending, batches[0].Status)

	assert.Equal(t, []string{"volkswagen"}, batches[1].BrandKeys)
	assert.Equal(t, []string{"up", "polo"}, batches[1].ModelKeys)
	assert.Equal(t, 5000, batches[1].Expected)

	assert.Equal(t, []string{"volkswagen"}, batches[2].BrandKeys)
	assert.Equal(t, []string{"golf"}, batches[2].ModelKeys)
	assert.Equal(t, 7000, batches[2].Expected)
}

func TestPlanBatchesWithoutProvider(t *testing.T) {
	batches, err := PlanBatches(context.Background(), []models.FacetCount{{Key: "bmw", Count: 20000}}, 9000, nil, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"bmw"}, batches[0].BrandKeys)
	assert.Equal(t, 20000, batches[0].Expected)
}
