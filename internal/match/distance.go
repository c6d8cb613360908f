// Package match holds the comparison primitives shared by both decision engines:
// embedding distance for faces and ratio-tested descriptor matching for notes.
package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/screener/internal/types"
)

// ErrDimensionMismatch means two embeddings came from inconsistent extractors.
// It is never recoverable by retrying.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EuclideanDist returns sqrt(sum((a_i - b_i)^2)).
func EuclideanDist(a, b types.Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
