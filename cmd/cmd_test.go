package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/config"
	"github.com/andresmejia3/screener/internal/types"
)

func TestGalleryNameFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"exports/Non-Criminal.csv", "general"},
		{"exports/criminal_records.csv", "restricted"},
		{"exports/people.csv", ""},
	}
	for _, tt := range tests {
		if got := galleryNameFor(tt.path); got != tt.want {
			t.Errorf("galleryNameFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLargestFace(t *testing.T) {
	faces := []types.FaceResult{
		{Loc: []int{0, 10, 10, 0}}, // 100
		{Loc: []int{0, 20, 20, 0}}, // 400
		{Loc: []int{5, 25, 25, 5}}, // 400, later
		{Loc: []int{0, 5, 5, 0}},   // 25
	}
	got := largestFace(faces)
	if got.Loc[0] != 0 || got.Area() != 400 {
		t.Errorf("expected the first 400px face, got %v", got.Loc)
	}
}

func TestParseDenomination(t *testing.T) {
	// Keep the unknown-denomination warning out of test output
	oldStderr := os.Stderr
	devNull, _ := os.Open(os.DevNull)
	os.Stderr = devNull
	defer func() {
		os.Stderr = oldStderr
		devNull.Close()
	}()

	tests := []struct {
		currency, value string
		want            types.Denomination
		wantErr         bool
	}{
		{" usd ", "20", types.Denomination{Currency: "USD", Value: "20"}, false},
		{"EGP", "200", types.Denomination{Currency: "EGP", Value: "200"}, false},
		{"GBP", "5", types.Denomination{Currency: "GBP", Value: "5"}, false},
		{"", "5", types.Denomination{}, true},
		{"USD", " ", types.Denomination{}, true},
	}
	for _, tt := range tests {
		got, err := parseDenomination(tt.currency, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDenomination(%q, %q) error = %v, wantErr %v", tt.currency, tt.value, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseDenomination(%q, %q) = %+v, want %+v", tt.currency, tt.value, got, tt.want)
		}
	}
}

func TestNeedsDB(t *testing.T) {
	Cfg = config.Default()
	defer func() { Cfg = nil }()

	always := &cobra.Command{Annotations: map[string]string{dbAnnotation: "always"}}
	galleries := &cobra.Command{Annotations: map[string]string{dbAnnotation: "galleries"}}
	never := &cobra.Command{}

	if !needsDB(always) || needsDB(never) {
		t.Error("annotation not honoured")
	}
	if needsDB(galleries) {
		t.Error("csv galleries should not need the database")
	}
	Cfg.Galleries.Source = config.SourceDB
	if !needsDB(galleries) {
		t.Error("db galleries should need the database")
	}
}

func TestNeedsDBForReset(t *testing.T) {
	defer func() { resetDB, resetSnapshot = false, false }()

	tests := []struct {
		name     string
		tables   bool
		snapshot bool
		want     bool
	}{
		{"No flags clears everything", false, false, true},
		{"Tables only", true, false, true},
		{"Snapshot only", false, true, false},
		{"Both flags", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetDB, resetSnapshot = tt.tables, tt.snapshot
			if got := needsDB(resetCmd); got != tt.want {
				t.Errorf("needsDB(reset) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadGalleriesFromCSV(t *testing.T) {
	dir := t.TempDir()
	header := "Name,Encoding,Status\n"
	os.WriteFile(filepath.Join(dir, "criminal.csv"), []byte(header+"Jane,\"0.1,0.2\",Wanted\n"), 0644)
	os.WriteFile(filepath.Join(dir, "non-criminal.csv"), []byte(header+"Ann,\"0.3,0.4\",Clear\nBob,\"0.5,0.6\",Clear\n"), 0644)

	cfg := config.Default().Galleries
	cfg.SearchRoot = dir

	restricted, general, err := loadGalleries(context.Background(), cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("loadGalleries failed: %v", err)
	}
	if restricted.Len() != 1 || general.Len() != 2 {
		t.Errorf("expected 1 restricted and 2 general entries, got %d and %d", restricted.Len(), general.Len())
	}

	// Explicit paths win over discovery; a missing file is an empty gallery
	cfg.RestrictedCSV = filepath.Join(dir, "missing.csv")
	restricted, general, err = loadGalleries(context.Background(), cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("loadGalleries failed: %v", err)
	}
	if restricted.Len() != 0 || general.Len() != 0 {
		t.Errorf("expected empty galleries, got %d and %d", restricted.Len(), general.Len())
	}
}

func TestLoadGalleriesFromDBWithoutConnection(t *testing.T) {
	cfg := config.Default().Galleries
	cfg.Source = config.SourceDB
	if _, _, err := loadGalleries(context.Background(), cfg, nil, zap.NewNop()); err == nil {
		t.Error("expected an error without a database connection")
	}
}
