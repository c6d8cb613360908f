// Package gallery loads face galleries from tabular exports.
//
// Each row is (label, comma-separated embedding, positional metadata...). The
// whole row is kept as metadata so column positions match the export.
package gallery

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/types"
)

// Conventional gallery names.
const (
	Restricted = "restricted"
	General    = "general"
)

// ErrMalformedRow marks a row skipped during load.
var ErrMalformedRow = errors.New("malformed gallery row")

// RowError describes one skipped row. Line is the 1-based record number, header included.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// LoadReport lists what a load kept and what it dropped.
type LoadReport struct {
	Source    string
	Loaded    int
	Dimension int
	Skipped   []RowError
}

// LoadCSV reads a gallery file. Only an unreadable file is an error;
// malformed rows are skipped and reported.
func LoadCSV(path, name string) (*types.Gallery, LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadReport{Source: path}, err
	}
	defer f.Close()

	g, report, err := ReadCSV(f, name)
	report.Source = path
	return g, report, err
}

// LoadOrEmpty never fails: an unreadable file becomes an empty gallery.
// Failures and skipped rows are logged.
func LoadOrEmpty(path, name string, logger *zap.Logger) *types.Gallery {
	log := logger.With(zap.String("gallery", name), zap.String("path", path))
	if path == "" {
		log.Warn("no gallery file configured, using empty gallery")
		return &types.Gallery{Name: name}
	}

	g, report, err := LoadCSV(path, name)
	if err != nil {
		log.Warn("gallery load failed, using empty gallery", zap.Error(err))
		return &types.Gallery{Name: name}
	}
	for _, skip := range report.Skipped {
		log.Warn("skipped gallery row", zap.Int("line", skip.Line), zap.Error(skip.Err))
	}
	log.Info("gallery loaded", zap.Int("entries", report.Loaded), zap.Int("dimension", report.Dimension))
	return g
}

// ReadCSV parses a gallery from r. The first row is a header.
// The first valid row fixes the embedding dimension for the rest.
func ReadCSV(r io.Reader, name string) (*types.Gallery, LoadReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	g := &types.Gallery{Name: name}
	var report LoadReport

	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.Skipped = append(report.Skipped, RowError{Line: line, Err: fmt.Errorf("%w: %v", ErrMalformedRow, err)})
				continue
			}
			return g, report, err
		}
		if line == 1 {
			continue
		}

		entry, err := parseRow(row, report.Dimension)
		if err != nil {
			report.Skipped = append(report.Skipped, RowError{Line: line, Err: err})
			continue
		}
		if report.Dimension == 0 {
			report.Dimension = len(entry.Embedding)
		}
		g.Entries = append(g.Entries, entry)
	}

	report.Loaded = len(g.Entries)
	return g, report, nil
}

func parseRow(row []string, dim int) (types.GalleryEntry, error) {
	if len(row) < 2 {
		return types.GalleryEntry{}, fmt.Errorf("%w: expected at least 2 columns, got %d", ErrMalformedRow, len(row))
	}
	label := strings.TrimSpace(row[0])
	if label == "" {
		return types.GalleryEntry{}, fmt.Errorf("%w: empty label", ErrMalformedRow)
	}

	vec, err := ParseEmbedding(row[1])
	if err != nil {
		return types.GalleryEntry{}, err
	}
	if dim != 0 && len(vec) != dim {
		return types.GalleryEntry{}, fmt.Errorf("%w: embedding has %d values, gallery uses %d", ErrMalformedRow, len(vec), dim)
	}

	meta := make([]string, len(row))
	copy(meta, row)
	return types.GalleryEntry{Label: label, Embedding: vec, Metadata: meta}, nil
}

// ParseEmbedding parses "0.1,0.2,..." (optionally wrapped in brackets).
// NaN and infinite values are rejected.
func ParseEmbedding(s string) (types.Embedding, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, fmt.Errorf("%w: empty embedding", ErrMalformedRow)
	}
	parts := strings.Split(s, ",")
	vec := make(types.Embedding, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding value %d: %v", ErrMalformedRow, i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: embedding value %d is not finite", ErrMalformedRow, i)
		}
		vec[i] = v
	}
	return vec, nil
}

// FindCSVFiles walks root for the two gallery exports. A name containing
// "non-criminal" is the general gallery; otherwise "criminal" marks the
// restricted one. Unreadable subdirectories are skipped.
func FindCSVFiles(root string) (general, restricted string, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		lower := strings.ToLower(d.Name())
		if !strings.HasSuffix(lower, ".csv") {
			return nil
		}
		if strings.Contains(lower, "non-criminal") {
			general = path
		} else if strings.Contains(lower, "criminal") {
			restricted = path
		}
		return nil
	})
	return general, restricted, err
}
