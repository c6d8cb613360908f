// Package config loads screener settings from an optional TOML file.
// Zero fields are filled from the default tags after decoding.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"

	"github.com/andresmejia3/screener/internal/match"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "screener.toml"

// Gallery sources.
const (
	SourceCSV = "csv"
	SourceDB  = "db"
)

type Config struct {
	Identity     IdentityConfig     `toml:"identity"`
	Authenticity AuthenticityConfig `toml:"authenticity"`
	Embedder     EmbedderConfig     `toml:"embedder"`
	Galleries    GalleriesConfig    `toml:"galleries"`
	Database     DatabaseConfig     `toml:"database"`
	Server       ServerConfig       `toml:"server"`
	Log          LogConfig          `toml:"log"`
}

type IdentityConfig struct {
	Threshold float64 `toml:"threshold" default:"0.55"`
	Workers   int     `toml:"workers" default:"1"`
}

type AuthenticityConfig struct {
	Ratio float64 `toml:"ratio" default:"0.7"`
	// Zero is replaced by the default; the strict comparison makes 0 and 5 differ.
	MinGoodMatches int    `toml:"min_good_matches" default:"5"`
	Norm           string `toml:"norm" default:"l2"`
	Algorithm      string `toml:"algorithm" default:"sift"`
	Dataset        string `toml:"dataset" default:"dataset"`
	Snapshot       string `toml:"snapshot" default:".screener/features.cbor"`
}

type EmbedderConfig struct {
	Command string        `toml:"command" default:"python3"`
	Args    []string      `toml:"args"`
	Timeout time.Duration `toml:"timeout" default:"30s"`
}

type GalleriesConfig struct {
	Source        string `toml:"source" default:"csv"`
	RestrictedCSV string `toml:"restricted_csv"`
	GeneralCSV    string `toml:"general_csv"`
	// SearchRoot is walked for *criminal*.csv files when the paths above are empty.
	SearchRoot string `toml:"search_root" default:"."`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type ServerConfig struct {
	Addr           string `toml:"addr" default:":8080"`
	MaxUploadBytes int64  `toml:"max_upload_bytes" default:"10485760"`
}

type LogConfig struct {
	Level string `toml:"level" default:"info"`
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	fill(cfg)
	return cfg
}

// Load reads path, or DefaultPath when path is empty. A missing DefaultPath is
// not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	fill(cfg)
	return cfg, nil
}

// Parse decodes TOML from a string; used by tests and embedded configs.
func Parse(data string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, err
	}
	fill(cfg)
	return cfg, nil
}

func fill(cfg *Config) {
	defaults.SetDefaults(cfg)
	if len(cfg.Embedder.Args) == 0 {
		cfg.Embedder.Args = []string{"python/embedder.py"}
	}
}

// Validate rejects values the engine cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if !(c.Identity.Threshold > 0) || math.IsInf(c.Identity.Threshold, 1) {
		errs = append(errs, fmt.Errorf("identity.threshold must be a positive finite number, got %v", c.Identity.Threshold))
	}
	if c.Identity.Workers < 1 {
		errs = append(errs, fmt.Errorf("identity.workers must be at least 1, got %d", c.Identity.Workers))
	}
	if c.Authenticity.Ratio <= 0 || c.Authenticity.Ratio > 1 {
		errs = append(errs, fmt.Errorf("authenticity.ratio must be in (0, 1], got %v", c.Authenticity.Ratio))
	}
	if c.Authenticity.MinGoodMatches < 0 {
		errs = append(errs, fmt.Errorf("authenticity.min_good_matches must not be negative, got %d", c.Authenticity.MinGoodMatches))
	}
	if _, err := match.ParseNorm(c.Authenticity.Norm); err != nil {
		errs = append(errs, fmt.Errorf("authenticity.norm: %w", err))
	}
	switch strings.ToLower(c.Authenticity.Algorithm) {
	case "sift", "orb":
	default:
		errs = append(errs, fmt.Errorf("authenticity.algorithm must be sift or orb, got %q", c.Authenticity.Algorithm))
	}
	switch c.Galleries.Source {
	case SourceCSV, SourceDB:
	default:
		errs = append(errs, fmt.Errorf("galleries.source must be %q or %q, got %q", SourceCSV, SourceDB, c.Galleries.Source))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	return errors.Join(errs...)
}

// DatabaseURL resolves the connection string: flag, then config file, then the
// POSTGRES_* environment, then a local default.
func (c *Config) DatabaseURL(flag string) string {
	if flag != "" {
		return flag
	}
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/screener"
}
