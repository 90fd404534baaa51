// Package partition packs facet counts into query groups that stay under a per-query result cap.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Facet is a key with its known inventory count.
type Facet struct {
	Key   string
	Count int
}

// Group is one sealed bin. Standalone groups hold a single facet whose count alone exceeds the limit.
type Group struct {
	Keys       []string
	Count      int
	Parent     string
	Depth      int
	Standalone bool
}

// DescendFunc returns the child facets of key, e.g. the models of a brand.
type DescendFunc func(ctx context.Context, key string) ([]Facet, error)

// Partition sorts facets ascending by count (stable) and greedily accumulates them into groups
// whose total stays within limit. Groups are returned in the order they were sealed.
func Partition(facets []Facet, limit int) ([]Group, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("partition: limit must be positive, got %d", limit)
	}
	if len(facets) == 0 {
		return nil, nil
	}

	sorted := make([]Facet, len(facets))
	copy(sorted, facets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count < sorted[j].Count
	})

	var (
		groups  []Group
		running Group
	)
	seal := func() {
		if len(running.Keys) == 0 {
			return
		}
		groups = append(groups, running)
		running = Group{}
	}

	for _, f := range sorted {
		if f.Count < 0 {
			return nil, fmt.Errorf("partition: negative count %d for %q", f.Count, f.Key)
		}
		if running.Count+f.Count > limit {
			seal()
		}
		if f.Count > limit {
			groups = append(groups, Group{Keys: []string{f.Key}, Count: f.Count, Standalone: true})
			continue
		}
		running.Keys = append(running.Keys, f.Key)
		running.Count += f.Count
	}
	seal()

	return groups, nil
}

// Partitioner runs Partition and replaces standalone groups with the partitioned children
// returned by Descend, down to MaxDepth levels.
type Partitioner struct {
	Cap      int
	MaxDepth int
	Descend  DescendFunc
	Logger   *slog.Logger
}

// Partition partitions facets at depth zero. If Descend fails or yields no children for a
// standalone key, the standalone group is kept so that key stays covered.
func (p Partitioner) Partition(ctx context.Context, facets []Facet) ([]Group, error) {
	return p.partition(ctx, facets, "", 0)
}

func (p Partitioner) partition(ctx context.Context, facets []Facet, parent string, depth int) ([]Group, error) {
	groups, err := Partition(facets, p.Cap)
	if err != nil {
		return nil, err
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		g.Parent = parent
		g.Depth = depth
		if !g.Standalone || depth >= p.MaxDepth || p.Descend == nil {
			out = append(out, g)
			continue
		}

		key := g.Keys[0]
		children, err := p.Descend(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.logger().Warn("descend failed, keeping standalone group",
				slog.String("key", key),
				slog.Int("count", g.Count),
				slog.String("error", err.Error()),
			)
			out = append(out, g)
			continue
		}
		if len(children) == 0 {
			p.logger().Warn("descend returned no facets, keeping standalone group", slog.String("key", key))
			out = append(out, g)
			continue
		}

		sub, err := p.partition(ctx, children, key, depth+1)
		if err != nil {
			return nil, fmt.Errorf("partition children of %q: %w", key, err)
		}
		out = append(out, sub...)
	}
	return out, nil
}

func (p Partitioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
