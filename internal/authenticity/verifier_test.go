package authenticity

import (
	"errors"
	"strings"
	"testing"

	"github.com/andresmejia3/screener/internal/features"
	"github.com/andresmejia3/screener/internal/types"
)

var usd20 = types.Denomination{Currency: "USD", Value: "20"}

// feature returns n descriptors for reference item j. Items sit 10000 apart on
// the first axis so descriptors of one item never pass the ratio test against another.
func feature(j, n int) types.DescriptorSet {
	set := make(types.DescriptorSet, n)
	for i := range set {
		set[i] = types.Descriptor{float32(j * 10000), float32(i * 100)}
	}
	return set
}

func item(j int) types.ReferenceFeatureItem {
	return types.ReferenceFeatureItem{Name: "ref", Descriptors: feature(j, 8)}
}

// queryFor builds a query that gives each listed item the given number of good matches.
func queryFor(matches map[int]int) types.DescriptorSet {
	var q types.DescriptorSet
	for j, n := range matches {
		q = append(q, feature(j, n)...)
	}
	return q
}

func library(front, back []types.ReferenceFeatureItem) *features.Library {
	buckets := map[features.Key][]types.ReferenceFeatureItem{}
	if front != nil {
		buckets[features.Key{Denomination: usd20, Side: types.Front}] = front
	}
	if back != nil {
		buckets[features.Key{Denomination: usd20, Side: types.Back}] = back
	}
	return features.NewLibrary(buckets)
}

func TestVerifyDescriptorsAllMatched(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0), item(1)},
		[]types.ReferenceFeatureItem{item(2)},
	)
	front := queryFor(map[int]int{0: 6, 1: 8})
	back := queryFor(map[int]int{2: 6})

	res := VerifyDescriptors(front, back, usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictReal {
		t.Fatalf("expected REAL, got %+v", res)
	}
	if res.FrontMatched != 2 || res.FrontTotal != 2 || res.BackMatched != 1 || res.BackTotal != 1 {
		t.Errorf("unexpected counts %+v", res)
	}
	if got := res.Summary(); got != "REAL Currency (USD 20) - All features detected." {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestVerifyDescriptorsMinGoodMatchesIsExclusive(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0)},
		[]types.ReferenceFeatureItem{item(1)},
	)
	back := queryFor(map[int]int{1: 6})

	// Exactly five good matches does not exceed the minimum.
	res := VerifyDescriptors(queryFor(map[int]int{0: 5}), back, usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictFake || res.FrontMatched != 0 {
		t.Errorf("5 good matches must not pass, got %+v", res)
	}

	res = VerifyDescriptors(queryFor(map[int]int{0: 6}), back, usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictReal {
		t.Errorf("6 good matches must pass, got %+v", res)
	}
}

func TestVerifyDescriptorsSingleFailureFlipsVerdict(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0), item(1)},
		[]types.ReferenceFeatureItem{item(2), item(3)},
	)
	all := map[int]int{0: 8, 1: 8}
	back := queryFor(map[int]int{2: 8, 3: 8})

	if res := VerifyDescriptors(queryFor(all), back, usd20, lib, DefaultOptions()); res.Verdict != types.VerdictReal {
		t.Fatalf("baseline should be REAL, got %+v", res)
	}

	res := VerifyDescriptors(queryFor(map[int]int{0: 8, 1: 2}), back, usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictFake || res.FrontMatched != 1 || res.FrontTotal != 2 {
		t.Errorf("one unmatched front item must fail the note, got %+v", res)
	}

	res = VerifyDescriptors(queryFor(all), queryFor(map[int]int{2: 8}), usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictFake || res.BackMatched != 1 {
		t.Errorf("one unmatched back item must fail the note, got %+v", res)
	}
}

func TestVerifyDescriptorsMissingReference(t *testing.T) {
	tests := []struct {
		name         string
		lib          *features.Library
		reason       string
		front, back  int
		matchedFront int
		matchedBack  int
	}{
		{"No buckets", library(nil, nil), "reference features missing: front, back", 0, 0, 0, 0},
		{"Empty back bucket", library([]types.ReferenceFeatureItem{item(0)}, []types.ReferenceFeatureItem{}), "reference features missing: back", 1, 0, 1, 0},
		{"Missing front bucket", library(nil, []types.ReferenceFeatureItem{item(0)}), "reference features missing: front", 0, 1, 0, 1},
		{"Nil library", nil, "reference features missing: front, back", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := VerifyDescriptors(feature(0, 8), feature(0, 8), usd20, tt.lib, DefaultOptions())
			if res.Verdict != types.VerdictFake {
				t.Errorf("expected FAKE, got %v", res.Verdict)
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
			if res.FrontTotal != tt.front || res.BackTotal != tt.back {
				t.Errorf("totals = %d/%d, want %d/%d", res.FrontTotal, res.BackTotal, tt.front, tt.back)
			}
			if res.FrontMatched != tt.matchedFront || res.BackMatched != tt.matchedBack {
				t.Errorf("matched = %d/%d, want %d/%d", res.FrontMatched, res.BackMatched, tt.matchedFront, tt.matchedBack)
			}
		})
	}
}

func TestVerifyDescriptorsEmptyQuery(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0), item(1)},
		[]types.ReferenceFeatureItem{item(2)},
	)
	opts := DefaultOptions()
	opts.MinGoodMatches = 0

	res := VerifyDescriptors(nil, queryFor(map[int]int{2: 8}), usd20, lib, opts)
	if res.Verdict != types.VerdictFake || res.FrontMatched != 0 || res.FrontTotal != 2 {
		t.Errorf("a side without descriptors cannot pass, got %+v", res)
	}
}

func TestVerifyDescriptorsUnreadableReferenceNeverMatches(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0), {Name: "broken.png"}},
		[]types.ReferenceFeatureItem{item(1)},
	)
	res := VerifyDescriptors(queryFor(map[int]int{0: 8}), queryFor(map[int]int{1: 8}), usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictFake || res.FrontMatched != 1 || res.FrontTotal != 2 {
		t.Errorf("reference without descriptors should count but not match, got %+v", res)
	}
}

func TestVerifyDescriptorsEndToEnd(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0), item(1), item(2)},
		[]types.ReferenceFeatureItem{item(3), item(4)},
	)
	front := queryFor(map[int]int{0: 7, 1: 7, 2: 7})
	back := queryFor(map[int]int{3: 7, 4: 1})

	res := VerifyDescriptors(front, back, usd20, lib, DefaultOptions())
	if res.Verdict != types.VerdictFake {
		t.Fatalf("expected FAKE, got %+v", res)
	}
	if res.FrontMatched != 3 || res.FrontTotal != 3 || res.BackMatched != 1 || res.BackTotal != 2 {
		t.Errorf("expected 3/3 front and 1/2 back, got %+v", res)
	}
	if got := res.Summary(); got != "FAKE Currency (USD 20) - 3/3 front, 1/2 back." {
		t.Errorf("unexpected summary %q", got)
	}
}

type fakeImages map[string]types.DescriptorSet

func (f fakeImages) ExtractBytes(data []byte) (types.DescriptorSet, error) {
	set, ok := f[string(data)]
	if !ok {
		return nil, errors.New("cannot decode image")
	}
	return set, nil
}

func TestVerifier(t *testing.T) {
	lib := library(
		[]types.ReferenceFeatureItem{item(0)},
		[]types.ReferenceFeatureItem{item(1)},
	)
	images := fakeImages{
		"front": queryFor(map[int]int{0: 8}),
		"back":  queryFor(map[int]int{1: 8}),
		"blank": nil,
	}
	v := New(lib, images, Options{MinGoodMatches: DefaultMinGoodMatches})

	if res := v.Verify([]byte("front"), []byte("back"), usd20); res.Verdict != types.VerdictReal {
		t.Errorf("expected REAL, got %+v", res)
	}

	res := v.Verify([]byte("front"), []byte("corrupt"), usd20)
	if res.Verdict != types.VerdictError || !strings.HasPrefix(res.Reason, "back:") {
		t.Errorf("undecodable image must be ERROR, got %+v", res)
	}
	if res.Summary() != "Error: Unable to read images." {
		t.Errorf("unexpected summary %q", res.Summary())
	}

	if res := v.Verify([]byte("blank"), []byte("back"), usd20); res.Verdict != types.VerdictFake || res.FrontTotal != 1 {
		t.Errorf("image without keypoints is FAKE, not ERROR, got %+v", res)
	}

	// One missing side still decodes and counts the other side.
	oneSided := New(library([]types.ReferenceFeatureItem{item(0)}, nil), images, Options{MinGoodMatches: DefaultMinGoodMatches})
	res = oneSided.Verify([]byte("front"), []byte("back"), usd20)
	if res.Verdict != types.VerdictFake || res.Reason != ReasonMissingReference+": back" {
		t.Errorf("expected FAKE for missing back references, got %+v", res)
	}
	if res.FrontMatched != 1 || res.FrontTotal != 1 || res.BackTotal != 0 {
		t.Errorf("expected front counted 1/1 with back 0, got %+v", res)
	}

	// With nothing registered the verdict comes before decoding.
	egp := types.Denomination{Currency: "EGP", Value: "200"}
	res = v.Verify([]byte("corrupt"), []byte("corrupt"), egp)
	if res.Verdict != types.VerdictFake || !strings.HasPrefix(res.Reason, ReasonMissingReference) {
		t.Errorf("expected FAKE for missing references, got %+v", res)
	}
	if got := res.Summary(); got != "FAKE Currency (EGP 200) - reference features missing: front, back" {
		t.Errorf("unexpected summary %q", got)
	}
}
