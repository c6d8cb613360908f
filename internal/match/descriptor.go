package match

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/andresmejia3/screener/internal/types"
)

// DefaultRatio is Lowe's ratio used when none is configured.
const DefaultRatio = 0.7

// Norm selects how two descriptors are compared.
type Norm int

const (
	// NormL2 suits float descriptors such as SIFT.
	NormL2 Norm = iota
	// NormHamming suits binary descriptors such as ORB, one byte per element.
	NormHamming
)

func (n Norm) String() string {
	if n == NormHamming {
		return "hamming"
	}
	return "l2"
}

// ParseNorm maps a config value onto a Norm.
func ParseNorm(s string) (Norm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l2":
		return NormL2, nil
	case "hamming":
		return NormHamming, nil
	}
	return NormL2, fmt.Errorf("unknown descriptor norm %q", s)
}

// Matcher counts ratio-tested correspondences between descriptor sets.
type Matcher struct {
	Ratio float64
	Norm  Norm
}

// NewMatcher returns a brute-force matcher. A non-positive ratio falls back to DefaultRatio.
func NewMatcher(ratio float64, norm Norm) Matcher {
	if ratio <= 0 {
		ratio = DefaultRatio
	}
	return Matcher{Ratio: ratio, Norm: norm}
}

// CountGoodMatches uses the default ratio and L2 norm.
func CountGoodMatches(query, reference types.DescriptorSet) int {
	return NewMatcher(DefaultRatio, NormL2).CountGoodMatches(query, reference)
}

// CountGoodMatches finds the two nearest reference descriptors for every query
// descriptor and keeps it when nearest < ratio * second. Fewer than two
// comparable reference descriptors make the test undefined, so nothing matches.
func (m Matcher) CountGoodMatches(query, reference types.DescriptorSet) int {
	if len(query) == 0 || len(reference) < 2 {
		return 0
	}

	good := 0
	for _, q := range query {
		best, second := math.Inf(1), math.Inf(1)
		for _, r := range reference {
			d := m.distance(q, r)
			// Strict comparisons keep the first-found neighbour on ties.
			if d < best {
				second = best
				best = d
			} else if d < second {
				second = d
			}
		}
		// Both neighbours must be real; +Inf only stands in for "not found".
		if !math.IsInf(second, 1) && best < m.Ratio*second {
			good++
		}
	}
	return good
}

// distance returns +Inf for descriptors of unequal length so they never pair up.
func (m Matcher) distance(a, b types.Descriptor) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if m.Norm == NormHamming {
		n := 0
		for i := range a {
			n += bits.OnesCount8(uint8(a[i]) ^ uint8(b[i]))
		}
		return float64(n)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
