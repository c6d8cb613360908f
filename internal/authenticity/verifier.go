// Package authenticity decides whether a banknote is genuine by checking that
// every registered reference feature for its denomination shows up on the note.
package authenticity

import (
	"strings"

	"github.com/andresmejia3/screener/internal/features"
	"github.com/andresmejia3/screener/internal/match"
	"github.com/andresmejia3/screener/internal/types"
)

// DefaultMinGoodMatches is the good-match count a reference item must exceed.
const DefaultMinGoodMatches = 5

// ReasonMissingReference explains a FAKE verdict given without evidence.
const ReasonMissingReference = "reference features missing"

// Options tunes the per-item decision.
type Options struct {
	// MinGoodMatches must be strictly exceeded for a reference item to count.
	MinGoodMatches int
	Matcher        match.Matcher
}

// DefaultOptions uses Lowe's 0.7 ratio, L2 norm and a minimum of 5.
func DefaultOptions() Options {
	return Options{
		MinGoodMatches: DefaultMinGoodMatches,
		Matcher:        match.NewMatcher(match.DefaultRatio, match.NormL2),
	}
}

// VerifyDescriptors is the pure decision over already extracted descriptors.
// The verdict is REAL only when every reference item on both sides matched.
// A side without reference data forces FAKE; the other side is still counted.
func VerifyDescriptors(front, back types.DescriptorSet, d types.Denomination, lib *features.Library, opts Options) types.AuthenticityResult {
	res := types.AuthenticityResult{Verdict: types.VerdictFake, Denomination: d}

	frontItems, _ := lib.Bucket(d, types.Front)
	backItems, _ := lib.Bucket(d, types.Back)
	res.FrontMatched, res.FrontTotal = countMatched(front, frontItems, opts)
	res.BackMatched, res.BackTotal = countMatched(back, backItems, opts)

	if missing := missingSides(d, lib); len(missing) > 0 {
		res.Reason = missingReason(missing)
		return res
	}
	if res.FrontMatched == res.FrontTotal && res.BackMatched == res.BackTotal {
		res.Verdict = types.VerdictReal
	}
	return res
}

// missingSides lists the sides whose bucket is absent or empty.
func missingSides(d types.Denomination, lib *features.Library) []types.Side {
	var missing []types.Side
	for _, side := range types.Sides {
		if items, ok := lib.Bucket(d, side); !ok || len(items) == 0 {
			missing = append(missing, side)
		}
	}
	return missing
}

func missingReason(sides []types.Side) string {
	names := make([]string, len(sides))
	for i, s := range sides {
		names[i] = string(s)
	}
	return ReasonMissingReference + ": " + strings.Join(names, ", ")
}

// countMatched returns how many reference items the query satisfies, and the bucket size.
func countMatched(query types.DescriptorSet, items []types.ReferenceFeatureItem, opts Options) (matched, total int) {
	total = len(items)
	if len(query) == 0 {
		return 0, total
	}
	for _, item := range items {
		if opts.Matcher.CountGoodMatches(query, item.Descriptors) > opts.MinGoodMatches {
			matched++
		}
	}
	return matched, total
}

// ImageExtractor turns encoded image bytes into descriptors. An error means
// the image could not be decoded at all.
type ImageExtractor interface {
	ExtractBytes(data []byte) (types.DescriptorSet, error)
}

// Verifier checks encoded note images against a fixed library.
type Verifier struct {
	Library   *features.Library
	Extractor ImageExtractor
	Options   Options
}

// New builds a verifier. Zero options fall back to DefaultOptions.
func New(lib *features.Library, ex ImageExtractor, opts Options) *Verifier {
	if opts.Matcher.Ratio <= 0 {
		opts.Matcher = match.NewMatcher(match.DefaultRatio, opts.Matcher.Norm)
	}
	return &Verifier{Library: lib, Extractor: ex, Options: opts}
}

// Verify extracts both sides and decides. A denomination with no reference
// data on either side is FAKE before any decoding; an undecodable image is
// an ERROR verdict.
func (v *Verifier) Verify(frontImage, backImage []byte, d types.Denomination) types.AuthenticityResult {
	if missing := missingSides(d, v.Library); len(missing) == len(types.Sides) {
		return types.AuthenticityResult{Verdict: types.VerdictFake, Denomination: d, Reason: missingReason(missing)}
	}

	front, err := v.Extractor.ExtractBytes(frontImage)
	if err != nil {
		return errorResult(d, "front: "+err.Error())
	}
	back, err := v.Extractor.ExtractBytes(backImage)
	if err != nil {
		return errorResult(d, "back: "+err.Error())
	}
	return VerifyDescriptors(front, back, d, v.Library, v.Options)
}

func errorResult(d types.Denomination, reason string) types.AuthenticityResult {
	return types.AuthenticityResult{Verdict: types.VerdictError, Denomination: d, Reason: reason}
}
