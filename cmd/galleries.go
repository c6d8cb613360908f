package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/config"
	"github.com/andresmejia3/screener/internal/gallery"
	"github.com/andresmejia3/screener/internal/logging"
	"github.com/andresmejia3/screener/internal/store"
	"github.com/andresmejia3/screener/internal/types"
)

// loadGalleries returns the restricted and general galleries from the configured
// source. Missing CSV files yield empty galleries; classification still works.
func loadGalleries(ctx context.Context, cfg config.GalleriesConfig, db *store.Store, logger *zap.Logger) (restricted, general *types.Gallery, err error) {
	if cfg.Source == config.SourceDB {
		if db == nil {
			return nil, nil, fmt.Errorf("gallery source is %q but no database connection is open", config.SourceDB)
		}
		if restricted, err = db.LoadGallery(ctx, gallery.Restricted); err != nil {
			return nil, nil, logging.Wrap("store.load_gallery", "", err)
		}
		if general, err = db.LoadGallery(ctx, gallery.General); err != nil {
			return nil, nil, logging.Wrap("store.load_gallery", "", err)
		}
		return restricted, general, nil
	}

	restrictedPath, generalPath := cfg.RestrictedCSV, cfg.GeneralCSV
	if restrictedPath == "" && generalPath == "" {
		generalPath, restrictedPath, err = gallery.FindCSVFiles(cfg.SearchRoot)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("discovered gallery files",
			zap.String("restricted", restrictedPath),
			zap.String("general", generalPath),
		)
	}

	restricted = gallery.LoadOrEmpty(restrictedPath, gallery.Restricted, logger)
	general = gallery.LoadOrEmpty(generalPath, gallery.General, logger)
	return restricted, general, nil
}
