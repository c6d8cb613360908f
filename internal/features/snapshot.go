package features

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/types"
	"github.com/andresmejia3/screener/internal/utils"
)

const snapshotVersion = 1

// ErrSnapshotVersion is returned for snapshots written by another format version.
var ErrSnapshotVersion = errors.New("unsupported feature snapshot version")

type snapshot struct {
	Version     int              `cbor:"1,keyasint"`
	Fingerprint string           `cbor:"2,keyasint"`
	Buckets     []snapshotBucket `cbor:"3,keyasint"`
}

type snapshotBucket struct {
	Currency string         `cbor:"1,keyasint"`
	Value    string         `cbor:"2,keyasint"`
	Side     string         `cbor:"3,keyasint"`
	Items    []snapshotItem `cbor:"4,keyasint"`
}

type snapshotItem struct {
	Name        string      `cbor:"1,keyasint"`
	Descriptors [][]float32 `cbor:"2,keyasint"`
}

// WriteSnapshot encodes lib together with the fingerprint of the dataset it came from.
func WriteSnapshot(w io.Writer, lib *Library, fingerprint string) error {
	snap := snapshot{Version: snapshotVersion, Fingerprint: fingerprint}
	for _, k := range lib.Keys() {
		items, _ := lib.Bucket(k.Denomination, k.Side)
		b := snapshotBucket{
			Currency: k.Denomination.Currency,
			Value:    k.Denomination.Value,
			Side:     string(k.Side),
			Items:    make([]snapshotItem, 0, len(items)),
		}
		for _, it := range items {
			descs := make([][]float32, len(it.Descriptors))
			for i, d := range it.Descriptors {
				descs[i] = d
			}
			b.Items = append(b.Items, snapshotItem{Name: it.Name, Descriptors: descs})
		}
		snap.Buckets = append(snap.Buckets, b)
	}
	return cbor.NewEncoder(w).Encode(snap)
}

// ReadSnapshot decodes a library and the dataset fingerprint stored with it.
func ReadSnapshot(r io.Reader) (*Library, string, error) {
	var snap snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return nil, "", fmt.Errorf("decode feature snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, "", fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}

	buckets := make(map[Key][]types.ReferenceFeatureItem, len(snap.Buckets))
	for _, b := range snap.Buckets {
		key := Key{Denomination: types.Denomination{Currency: b.Currency, Value: b.Value}, Side: types.Side(b.Side)}
		items := make([]types.ReferenceFeatureItem, 0, len(b.Items))
		for _, it := range b.Items {
			descs := make(types.DescriptorSet, len(it.Descriptors))
			for i, d := range it.Descriptors {
				descs[i] = d
			}
			items = append(items, types.ReferenceFeatureItem{Name: it.Name, Descriptors: descs})
		}
		buckets[key] = items
	}
	return NewLibrary(buckets), snap.Fingerprint, nil
}

// OpenOrBuild reuses the snapshot at snapshotPath when it was built from the
// current dataset contents, otherwise rebuilds from root and rewrites it. An
// empty snapshotPath always builds without caching.
func OpenOrBuild(root, snapshotPath string, ex Extractor, opts LoadOptions) (*Library, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if snapshotPath == "" {
		return Load(root, ex, opts)
	}

	fingerprint, err := utils.FingerprintTree(root)
	if err != nil {
		return nil, fmt.Errorf("fingerprint dataset: %w", err)
	}

	if f, err := os.Open(snapshotPath); err == nil {
		lib, stored, err := ReadSnapshot(f)
		f.Close()
		switch {
		case err != nil:
			logger.Warn("ignoring unreadable feature snapshot", zap.String("path", snapshotPath), zap.Error(err))
		case stored == fingerprint:
			logger.Info("feature snapshot is current", zap.String("path", snapshotPath), zap.Int("items", lib.Items()))
			return lib, nil
		default:
			logger.Info("feature snapshot is stale, rebuilding", zap.String("path", snapshotPath))
		}
	}

	lib, err := Load(root, ex, opts)
	if err != nil {
		return nil, err
	}
	if err := SaveSnapshot(snapshotPath, lib, fingerprint); err != nil {
		logger.Warn("failed to write feature snapshot", zap.String("path", snapshotPath), zap.Error(err))
	}
	return lib, nil
}

// SaveSnapshot writes the snapshot atomically via a temp file in the same directory.
func SaveSnapshot(path string, lib *Library, fingerprint string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".features-*.cbor")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteSnapshot(tmp, lib, fingerprint); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
