package features

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/types"
)

// Extractor turns an image file into keypoint descriptors.
type Extractor interface {
	ExtractFile(path string) (types.DescriptorSet, error)
}

// LoadOptions tunes a dataset load.
type LoadOptions struct {
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
	Logger   *zap.Logger
}

type refFile struct {
	key  Key
	name string
	path string
}

// Load walks <root>/<currency>/<value>/<front|back>/ and extracts descriptors
// from every file. A side directory that exists registers a bucket even when
// empty; a missing one is simply absent. A reference image the extractor cannot
// read stays in its bucket with no descriptors, so it counts but never matches.
func Load(root string, ex Extractor, opts LoadOptions) (*Library, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	buckets, files, err := scanDataset(root)
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("🔍 Indexing reference features"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
		)
	}

	for _, f := range files {
		desc, err := ex.ExtractFile(f.path)
		if err != nil {
			logger.Warn("unreadable reference image", zap.String("path", f.path), zap.Error(err))
			desc = nil
		}
		buckets[f.key] = append(buckets[f.key], types.ReferenceFeatureItem{Name: f.name, Descriptors: desc})
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	lib := NewLibrary(buckets)
	logger.Info("feature library loaded",
		zap.String("root", root),
		zap.Int("buckets", len(buckets)),
		zap.Int("items", lib.Items()),
	)
	return lib, nil
}

// scanDataset lists side directories and their files in a stable order.
// A missing root yields an empty dataset.
func scanDataset(root string) (map[Key][]types.ReferenceFeatureItem, []refFile, error) {
	buckets := make(map[Key][]types.ReferenceFeatureItem)
	var files []refFile

	currencies, err := subdirs(root)
	if err != nil {
		return nil, nil, err
	}
	for _, currency := range currencies {
		values, err := subdirs(filepath.Join(root, currency))
		if err != nil {
			return nil, nil, err
		}
		for _, value := range values {
			for _, side := range types.Sides {
				dir := filepath.Join(root, currency, value, string(side))
				entries, err := os.ReadDir(dir)
				if os.IsNotExist(err) {
					continue
				}
				if err != nil {
					return nil, nil, err
				}

				key := Key{Denomination: types.Denomination{Currency: currency, Value: value}, Side: side}
				buckets[key] = []types.ReferenceFeatureItem{}
				for _, e := range entries {
					if e.IsDir() {
						continue
					}
					files = append(files, refFile{key: key, name: e.Name(), path: filepath.Join(dir, e.Name())})
				}
			}
		}
	}
	return buckets, files, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
