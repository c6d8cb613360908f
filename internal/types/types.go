package types

import (
	"fmt"
	"math"
)

// Embedding is a fixed-length face encoding. Euclidean distance between two
// embeddings from the same extractor approximates face dissimilarity.
type Embedding []float64

// GalleryEntry is one labeled face in a gallery.
// Metadata is positional and passed through untouched by the classifier.
type GalleryEntry struct {
	Label     string
	Embedding Embedding
	Metadata  []string
}

// Gallery is an ordered, read-only collection of entries.
type Gallery struct {
	Name    string
	Entries []GalleryEntry
}

// Len returns the number of entries. A nil gallery is empty.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Entries)
}

// GalleryOrigin tags which gallery produced a classification.
type GalleryOrigin int

const (
	OriginNone GalleryOrigin = iota
	OriginRestricted
	OriginGeneral
)

func (o GalleryOrigin) String() string {
	switch o {
	case OriginRestricted:
		return "restricted"
	case OriginGeneral:
		return "general"
	default:
		return "none"
	}
}

// MarshalText lets the origin serialize as its name in JSON responses.
func (o GalleryOrigin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ClassificationResult is produced fresh for every query.
type ClassificationResult struct {
	Label        string
	MatchedEntry *GalleryEntry
	Origin       GalleryOrigin
	Distance     float64
}

// Matched reports whether either gallery produced a match.
func (r ClassificationResult) Matched() bool {
	return r.Origin != OriginNone
}

// UnknownLabel is used when neither gallery matches.
const UnknownLabel = "unknown"

// Unknown builds a no-match result carrying the best distance seen.
func Unknown(distance float64) ClassificationResult {
	return ClassificationResult{Label: UnknownLabel, Origin: OriginNone, Distance: distance}
}

// NoDistance is the distance reported when nothing was compared.
var NoDistance = math.Inf(1)

// Descriptor is a single local keypoint descriptor.
// Binary descriptors (ORB) store one byte value per element.
type Descriptor []float32

// DescriptorSet is every descriptor extracted from one image. It may be empty.
type DescriptorSet []Descriptor

// Side is a banknote face.
type Side string

const (
	Front Side = "front"
	Back  Side = "back"
)

// Sides lists both note faces in evaluation order.
var Sides = []Side{Front, Back}

// Denomination selects a note by currency code and face value, e.g. USD 20.
type Denomination struct {
	Currency string
	Value    string
}

func (d Denomination) String() string {
	return fmt.Sprintf("%s %s", d.Currency, d.Value)
}

// ReferenceFeatureItem is one named reference image's descriptors.
type ReferenceFeatureItem struct {
	Name        string
	Descriptors DescriptorSet
}

// Verdict is the outcome of an authenticity check.
type Verdict int

const (
	VerdictFake Verdict = iota
	VerdictReal
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictReal:
		return "REAL"
	case VerdictError:
		return "ERROR"
	default:
		return "FAKE"
	}
}

// MarshalText lets the verdict serialize as its name in JSON responses.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// AuthenticityResult summarizes per-side evidence behind a verdict.
type AuthenticityResult struct {
	Verdict      Verdict
	Denomination Denomination
	FrontMatched int
	FrontTotal   int
	BackMatched  int
	BackTotal    int
	Reason       string
}

// Summary renders the one-line verdict shown to operators.
func (r AuthenticityResult) Summary() string {
	switch r.Verdict {
	case VerdictError:
		return "Error: Unable to read images."
	case VerdictReal:
		return fmt.Sprintf("REAL Currency (%s) - All features detected.", r.Denomination)
	}
	if r.Reason != "" {
		return fmt.Sprintf("FAKE Currency (%s) - %s", r.Denomination, r.Reason)
	}
	return fmt.Sprintf("FAKE Currency (%s) - %d/%d front, %d/%d back.",
		r.Denomination, r.FrontMatched, r.FrontTotal, r.BackMatched, r.BackTotal)
}

// FaceResult matches the binary record coming back from the embedding worker.
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec Embedding `json:"vec"` // 128-d face encoding
}

// Area returns the pixel area of the face box.
func (f FaceResult) Area() int {
	if len(f.Loc) != 4 {
		return 0
	}
	return (f.Loc[2] - f.Loc[0]) * (f.Loc[1] - f.Loc[3])
}
