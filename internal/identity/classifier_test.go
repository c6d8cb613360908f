package identity

import (
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/screener/internal/match"
	"github.com/andresmejia3/screener/internal/types"
)

func newGallery(name string, entries ...types.GalleryEntry) *types.Gallery {
	return &types.Gallery{Name: name, Entries: entries}
}

func mustNew(t *testing.T, threshold float64, workers int) *Classifier {
	t.Helper()
	c, err := New(threshold, workers)
	if err != nil {
		t.Fatalf("New(%v, %d) error = %v", threshold, workers, err)
	}
	return c
}

func entry(label string, vec ...float64) types.GalleryEntry {
	return types.GalleryEntry{Label: label, Embedding: vec}
}

func TestClassifyBothEmpty(t *testing.T) {
	for _, g := range []*types.Gallery{nil, newGallery("empty")} {
		res, err := Classify(types.Embedding{0.1, 0.2}, g, g, DefaultThreshold)
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if res.Label != types.UnknownLabel || res.Origin != types.OriginNone || res.MatchedEntry != nil {
			t.Errorf("expected unknown result, got %+v", res)
		}
		if !math.IsInf(res.Distance, 1) {
			t.Errorf("expected +Inf distance, got %v", res.Distance)
		}
	}
}

func TestClassifyRestrictedWins(t *testing.T) {
	query := types.Embedding{0.5, 0.5}
	restricted := newGallery("restricted", entry("Jane", 0.5, 0.5))
	general := newGallery("general", entry("John", 0.5, 0.5))

	res, err := Classify(query, restricted, general, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if res.Origin != types.OriginRestricted || res.Label != "Jane (restricted)" {
		t.Errorf("restricted gallery must dominate, got %+v", res)
	}

	// Swapping the order of the general gallery entries must not matter.
	general = newGallery("general", entry("Other", 9, 9), entry("John", 0.5, 0.5))
	res, _ = Classify(query, restricted, general, DefaultThreshold)
	if res.Origin != types.OriginRestricted {
		t.Errorf("restricted gallery must dominate regardless of ordering, got %+v", res)
	}
}

func TestClassifyFallsBackToGeneral(t *testing.T) {
	query := types.Embedding{0, 0}
	restricted := newGallery("restricted", entry("Far", 1, 0))
	general := newGallery("general", entry("Near", 0.1, 0))

	res, err := Classify(query, restricted, general, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if res.Origin != types.OriginGeneral || res.Label != "Near (general)" {
		t.Fatalf("expected general match, got %+v", res)
	}
	if math.Abs(res.Distance-0.1) > 1e-9 {
		t.Errorf("expected distance 0.1, got %v", res.Distance)
	}
	if res.MatchedEntry == nil || res.MatchedEntry.Label != "Near" {
		t.Errorf("expected matched entry Near, got %+v", res.MatchedEntry)
	}
}

func TestClassifyThresholdBoundary(t *testing.T) {
	tests := []struct {
		name   string
		offset float64
		want   types.GalleryOrigin
	}{
		{"Exactly at threshold does not match", 0.55, types.OriginNone},
		{"Just below threshold matches", 0.549999, types.OriginRestricted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restricted := newGallery("restricted", entry("Edge", tt.offset))
			res, err := Classify(types.Embedding{0}, restricted, nil, DefaultThreshold)
			if err != nil {
				t.Fatal(err)
			}
			if res.Origin != tt.want {
				t.Errorf("origin = %v, want %v (distance %v)", res.Origin, tt.want, res.Distance)
			}
		})
	}
}

func TestClassifyUnknownCarriesSmallestDistance(t *testing.T) {
	query := types.Embedding{0, 0}
	restricted := newGallery("restricted", entry("A", 3, 4))
	general := newGallery("general", entry("B", 0, 2), entry("C", 0, 1))

	res, err := Classify(query, restricted, general, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched() {
		t.Fatalf("expected no match, got %+v", res)
	}
	if res.Distance != 1 {
		t.Errorf("expected smallest distance 1, got %v", res.Distance)
	}
}

func TestClassifyTieBreaksByGalleryOrder(t *testing.T) {
	query := types.Embedding{0, 0}
	restricted := newGallery("restricted",
		entry("Far", 1, 1),
		entry("First", 0.1, 0),
		entry("Second", 0, 0.1),
	)

	for _, workers := range []int{1, 2, 3, 8} {
		res, err := mustNew(t, DefaultThreshold, workers).Classify(query, restricted, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.MatchedEntry == nil || res.MatchedEntry.Label != "First" {
			t.Errorf("workers=%d: expected first occurrence to win a tie, got %+v", workers, res)
		}
	}
}

func TestClassifyParallelMatchesSequential(t *testing.T) {
	var entries []types.GalleryEntry
	for i := 0; i < 37; i++ {
		entries = append(entries, entry("p", float64(i)*0.1, float64(37-i)*0.05))
	}
	g := newGallery("general", entries...)
	query := types.Embedding{1.2, 1.1}

	want, err := mustNew(t, DefaultThreshold, 1).Classify(query, nil, g)
	if err != nil {
		t.Fatal(err)
	}
	got, err := mustNew(t, DefaultThreshold, 4).Classify(query, nil, g)
	if err != nil {
		t.Fatal(err)
	}
	if got.Distance != want.Distance || got.Origin != want.Origin {
		t.Errorf("parallel result %+v differs from sequential %+v", got, want)
	}
}

func TestClassifyDimensionMismatch(t *testing.T) {
	restricted := newGallery("restricted", entry("Jane", 1, 2, 3))
	_, err := Classify(types.Embedding{1, 2}, restricted, nil, DefaultThreshold)
	if !errors.Is(err, match.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	// Mismatch in the general gallery surfaces once the restricted scan misses.
	general := newGallery("general", entry("John", 1, 2, 3))
	_, err = mustNew(t, DefaultThreshold, 2).Classify(types.Embedding{1, 2}, nil, general)
	if !errors.Is(err, match.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch from general gallery, got %v", err)
	}
}

func TestClassifyDoesNotMutateGalleries(t *testing.T) {
	restricted := newGallery("restricted", entry("Jane", 0.1, 0.1))
	res, err := Classify(types.Embedding{0.1, 0.1}, restricted, nil, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	res.MatchedEntry.Label = "changed"
	if restricted.Entries[0].Label != "Jane" {
		t.Error("result must not alias gallery entries")
	}
}

func TestClassifyEndToEndRestricted(t *testing.T) {
	e1 := types.Embedding{0.11, -0.04, 0.27, 0.5}
	restricted := newGallery("restricted", types.GalleryEntry{
		Label:     "Jane",
		Embedding: e1,
		Metadata:  []string{"Jane", "...", "Wanted", "34", "Fraud", "", "2023-04-01", "Low", "Case-01"},
	})
	query := types.Embedding{0.115, -0.04, 0.27, 0.505}

	res, err := Classify(query, restricted, newGallery("general"), DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if res.Label != "Jane (restricted)" || res.Origin != types.OriginRestricted {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Distance >= 0.01 {
		t.Errorf("expected distance within 0.01, got %v", res.Distance)
	}
}

func TestClassifySkipsNonFiniteEntries(t *testing.T) {
	query := types.Embedding{1, 1}
	restricted := newGallery("restricted",
		entry("Ghost", math.NaN(), 0),
		entry("Jane", 1, 1),
	)
	general := newGallery("general", entry("Blank", math.NaN(), math.NaN()))

	for _, workers := range []int{1, 2} {
		res, err := mustNew(t, DefaultThreshold, workers).Classify(query, restricted, general)
		if err != nil {
			t.Fatal(err)
		}
		if res.Label != "Jane (restricted)" || res.Distance != 0 {
			t.Errorf("workers=%d: expected Jane at distance 0, got %+v", workers, res)
		}
	}

	// A gallery holding only unusable entries yields unknown, not a panic.
	res, err := Classify(query, nil, general, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched() || !math.IsInf(res.Distance, 1) {
		t.Errorf("expected unknown with +Inf distance, got %+v", res)
	}
}

func TestNewRejectsInvalidThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		wantErr   bool
	}{
		{"Default", DefaultThreshold, false},
		{"Small positive", 0.01, false},
		{"Zero", 0, true},
		{"Negative", -0.5, true},
		{"NaN", math.NaN(), true},
		{"Infinite", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.threshold, 1)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidThreshold) {
					t.Fatalf("expected ErrInvalidThreshold, got %v", err)
				}
				if c != nil {
					t.Errorf("expected nil classifier, got %+v", c)
				}
				_, err = Classify(types.Embedding{0}, nil, nil, tt.threshold)
				if !errors.Is(err, ErrInvalidThreshold) {
					t.Errorf("Classify() expected ErrInvalidThreshold, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if c.Threshold != tt.threshold {
				t.Errorf("threshold = %v, want %v", c.Threshold, tt.threshold)
			}
		})
	}

	// A zero-value classifier is not silently given a default.
	_, err := (&Classifier{}).Classify(types.Embedding{0}, nil, nil)
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("zero-value Classifier expected ErrInvalidThreshold, got %v", err)
	}
}
