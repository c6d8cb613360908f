// Package vision extracts local keypoint descriptors from grayscale images with OpenCV.
package vision

import (
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/screener/internal/match"
	"github.com/andresmejia3/screener/internal/types"
)

// ErrDecode means the bytes or file could not be read as an image at all.
var ErrDecode = errors.New("unable to decode image")

// Algorithm picks the keypoint detector.
type Algorithm string

const (
	SIFT Algorithm = "sift"
	ORB  Algorithm = "orb"
)

// orbFeatures caps ORB keypoints per image.
const orbFeatures = 1500

// ParseAlgorithm maps a config value onto an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SIFT:
		return SIFT, nil
	case ORB:
		return ORB, nil
	}
	return "", fmt.Errorf("unknown keypoint algorithm %q", s)
}

// Norm is the descriptor distance that suits the algorithm.
func (a Algorithm) Norm() match.Norm {
	if a == ORB {
		return match.NormHamming
	}
	return match.NormL2
}

// Extractor is safe for concurrent use: every call builds its own detector,
// since gocv detectors are not.
type Extractor struct {
	Algorithm Algorithm
}

// NewExtractor returns a grayscale descriptor extractor.
func NewExtractor(alg Algorithm) *Extractor {
	if alg == "" {
		alg = SIFT
	}
	return &Extractor{Algorithm: alg}
}

// ExtractFile reads path as grayscale and extracts descriptors.
func (e *Extractor) ExtractFile(path string) (types.DescriptorSet, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrDecode, path)
	}
	return e.extract(img), nil
}

// ExtractBytes decodes an encoded image (JPEG, PNG, ...) as grayscale.
func (e *Extractor) ExtractBytes(data []byte) (types.DescriptorSet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrDecode
	}
	return e.extract(img), nil
}

func (e *Extractor) extract(img gocv.Mat) types.DescriptorSet {
	mask := gocv.NewMat()
	defer mask.Close()

	var desc gocv.Mat
	switch e.Algorithm {
	case ORB:
		orb := gocv.NewORBWithParams(orbFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		defer orb.Close()
		_, desc = orb.DetectAndCompute(img, mask)
	default:
		sift := gocv.NewSIFT()
		defer sift.Close()
		_, desc = sift.DetectAndCompute(img, mask)
	}
	defer desc.Close()

	return matToDescriptors(desc)
}

// matToDescriptors copies one descriptor per row. ORB rows are bytes, SIFT rows floats.
func matToDescriptors(m gocv.Mat) types.DescriptorSet {
	if m.Empty() {
		return nil
	}
	rows, cols := m.Rows(), m.Cols()
	set := make(types.DescriptorSet, rows)
	for r := 0; r < rows; r++ {
		d := make(types.Descriptor, cols)
		for c := 0; c < cols; c++ {
			if m.Type() == gocv.MatTypeCV8U {
				d[c] = float32(m.GetUCharAt(r, c))
			} else {
				d[c] = m.GetFloatAt(r, c)
			}
		}
		set[r] = d
	}
	return set
}
