// Package identity labels a face embedding against the restricted and general
// galleries. The restricted gallery is always consulted first and always wins.
package identity

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/andresmejia3/screener/internal/match"
	"github.com/andresmejia3/screener/internal/types"
)

// DefaultThreshold is the exclusive match cut-off for Euclidean face distance.
const DefaultThreshold = 0.55

// Classifier is safe for concurrent use; it never mutates the galleries it reads.
type Classifier struct {
	Threshold float64
	// Workers > 1 splits each gallery scan into contiguous chunks.
	Workers int
}

// ErrInvalidThreshold is returned for a threshold that is not a positive finite number.
var ErrInvalidThreshold = errors.New("threshold must be a positive finite number")

// New returns a classifier. A worker count below one means a sequential scan.
func New(threshold float64, workers int) (*Classifier, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	return &Classifier{Threshold: threshold, Workers: workers}, nil
}

func checkThreshold(t float64) error {
	if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w, got %v", ErrInvalidThreshold, t)
	}
	return nil
}

// Classify runs a sequential classifier with the given threshold.
func Classify(query types.Embedding, restricted, general *types.Gallery, threshold float64) (types.ClassificationResult, error) {
	c, err := New(threshold, 1)
	if err != nil {
		return types.ClassificationResult{}, err
	}
	return c.Classify(query, restricted, general)
}

// Classify returns the restricted match if one is closer than the threshold,
// otherwise the general match, otherwise an unknown result carrying the
// smallest distance computed. A dimension mismatch or an invalid threshold
// is an error.
func (c *Classifier) Classify(query types.Embedding, restricted, general *types.Gallery) (types.ClassificationResult, error) {
	if err := checkThreshold(c.Threshold); err != nil {
		return types.ClassificationResult{}, err
	}
	best := types.NoDistance

	if restricted.Len() > 0 {
		i, d, err := c.nearest(query, restricted)
		if err != nil {
			return types.ClassificationResult{}, err
		}
		if i >= 0 && d < c.Threshold {
			return matched(restricted, i, d, types.OriginRestricted), nil
		}
		best = d
	}

	if general.Len() > 0 {
		j, g, err := c.nearest(query, general)
		if err != nil {
			return types.ClassificationResult{}, err
		}
		if j >= 0 && g < c.Threshold {
			return matched(general, j, g, types.OriginGeneral), nil
		}
		best = math.Min(best, g)
	}

	return types.Unknown(best), nil
}

func matched(g *types.Gallery, idx int, dist float64, origin types.GalleryOrigin) types.ClassificationResult {
	entry := g.Entries[idx]
	return types.ClassificationResult{
		Label:        entry.Label + " (" + origin.String() + ")",
		MatchedEntry: &entry,
		Origin:       origin,
		Distance:     dist,
	}
}

type candidate struct {
	index int
	dist  float64
	err   error
}

// nearest returns the index and distance of the closest entry. Ties resolve to
// the lowest gallery index no matter how the scan is partitioned.
func (c *Classifier) nearest(query types.Embedding, g *types.Gallery) (int, float64, error) {
	workers := c.Workers
	if workers > len(g.Entries) {
		workers = len(g.Entries)
	}
	if workers <= 1 {
		cand := scan(query, g.Entries, 0)
		return cand.index, cand.dist, cand.err
	}

	chunk := (len(g.Entries) + workers - 1) / workers
	results := make([]candidate, 0, workers)
	for start := 0; start < len(g.Entries); start += chunk {
		results = append(results, candidate{})
	}

	var wg sync.WaitGroup
	for n := range results {
		start := n * chunk
		end := min(start+chunk, len(g.Entries))
		wg.Add(1)
		go func(slot, start, end int) {
			defer wg.Done()
			results[slot] = scan(query, g.Entries[start:end], start)
		}(n, start, end)
	}
	wg.Wait()

	// Fold in chunk order so the earliest chunk keeps ties.
	best := candidate{index: -1, dist: math.Inf(1)}
	for _, r := range results {
		if r.err != nil {
			return -1, 0, r.err
		}
		if r.index == -1 {
			continue
		}
		if best.index == -1 || r.dist < best.dist {
			best = r
		}
	}
	return best.index, best.dist, nil
}

func scan(query types.Embedding, entries []types.GalleryEntry, offset int) candidate {
	best := candidate{index: -1, dist: math.Inf(1)}
	for i, e := range entries {
		d, err := match.EuclideanDist(query, e.Embedding)
		if err != nil {
			return candidate{index: -1, err: err}
		}
		if math.IsNaN(d) {
			continue
		}
		if best.index == -1 || d < best.dist {
			best = candidate{index: offset + i, dist: d}
		}
	}
	return best
}
