package partition

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// ModelFacetProvider returns the model facets of one brand.
type ModelFacetProvider interface {
	Models(ctx context.Context, brand string) ([]models.FacetCount, error)
}

// PlanBatches turns brand facets into search batches. A brand that alone exceeds limit is split
// one level down into model groups tagged with that brand.
func PlanBatches(ctx context.Context, brands []models.FacetCount, limit int, provider ModelFacetProvider, logger *slog.Logger) ([]*models.Batch, error) {
	p := Partitioner{Cap: limit, MaxDepth: 1, Logger: logger}
	if provider != nil {
		p.Descend = func(ctx context.Context, brand string) ([]Facet, error) {
			counts, err := provider.Models(ctx, brand)
			if err != nil {
				return nil, err
			}
			return toFacets(counts), nil
		}
	}

	groups, err := p.Partition(ctx, toFacets(brands))
	if err != nil {
		return nil, err
	}

	batches := make([]*models.Batch, 0, len(groups))
	for _, g := range groups {
		b := &models.Batch{
			Expected: g.Count,
			Status:   models.BatchPending,
		}
		if g.Depth == 0 {
			b.BrandKeys = append([]string(nil), g.Keys...)
		} else {
			b.BrandKeys = []string{g.Parent}
			b.ModelKeys = append([]string(nil), g.Keys...)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func toFacets(counts []models.FacetCount) []Facet {
	facets := make([]Facet, len(counts))
	for i, c := range counts {
		facets[i] = Facet{Key: c.Key, Count: c.Count}
	}
	return facets
}
