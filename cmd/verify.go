package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/authenticity"
	"github.com/andresmejia3/screener/internal/config"
	"github.com/andresmejia3/screener/internal/features"
	"github.com/andresmejia3/screener/internal/logging"
	"github.com/andresmejia3/screener/internal/match"
	"github.com/andresmejia3/screener/internal/types"
	"github.com/andresmejia3/screener/internal/utils"
	"github.com/andresmejia3/screener/internal/vision"
)

// Denominations the reference dataset ships with. Others are accepted with a warning.
var (
	knownCurrencies = []string{"EGP", "USD"}
	knownValues     = []string{"1", "5", "10", "20", "50", "100", "200"}
)

type verifyOptions struct {
	Currency string
	Value    string
	JSON     bool
}

var verifyOpts verifyOptions

var verifyCmd = &cobra.Command{
	Use:   "verify <front_image> <back_image>",
	Short: "Check a banknote's front and back against the reference features of its denomination",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyAuthenticityFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			return err
		}
		d, err := parseDenomination(verifyOpts.Currency, verifyOpts.Value)
		if err != nil {
			return err
		}
		return runVerify(args[0], args[1], d, verifyOpts.JSON)
	},
}

var (
	flagDataset   string
	flagSnapshot  string
	flagAlgorithm string
	flagRatio     float64
	flagMinGood   int
)

func init() {
	verifyCmd.Flags().StringVarP(&verifyOpts.Currency, "currency", "c", "", "Currency code, e.g. USD or EGP")
	verifyCmd.Flags().StringVarP(&verifyOpts.Value, "value", "v", "", "Face value, e.g. 20")
	verifyCmd.Flags().BoolVar(&verifyOpts.JSON, "json", false, "Print the result as JSON")
	verifyCmd.MarkFlagRequired("currency")
	verifyCmd.MarkFlagRequired("value")
	addAuthenticityFlags(verifyCmd)
	rootCmd.AddCommand(verifyCmd)
}

// addAuthenticityFlags registers the flags shared by every command that loads the feature library.
func addAuthenticityFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagDataset, "dataset", "", "Reference dataset root (<currency>/<value>/<front|back>/)")
	cmd.Flags().StringVar(&flagSnapshot, "snapshot", "", "Feature snapshot file")
	cmd.Flags().StringVar(&flagAlgorithm, "algorithm", "", "Keypoint algorithm: sift or orb")
	cmd.Flags().Float64Var(&flagRatio, "ratio", match.DefaultRatio, "Lowe ratio for good matches")
	cmd.Flags().IntVar(&flagMinGood, "min-matches", authenticity.DefaultMinGoodMatches, "Good matches a reference feature must exceed")
}

func applyAuthenticityFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("dataset") {
		cfg.Authenticity.Dataset = flagDataset
	}
	if f.Changed("snapshot") {
		cfg.Authenticity.Snapshot = flagSnapshot
	}
	if f.Changed("algorithm") {
		cfg.Authenticity.Algorithm = flagAlgorithm
		// Binary descriptors need the Hamming norm unless the config says otherwise.
		cfg.Authenticity.Norm = vision.Algorithm(strings.ToLower(flagAlgorithm)).Norm().String()
	}
	if f.Changed("ratio") {
		cfg.Authenticity.Ratio = flagRatio
	}
	if f.Changed("min-matches") {
		cfg.Authenticity.MinGoodMatches = flagMinGood
	}
}

func parseDenomination(currency, value string) (types.Denomination, error) {
	d := types.Denomination{
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
		Value:    strings.TrimSpace(value),
	}
	if d.Currency == "" || d.Value == "" {
		return d, fmt.Errorf("currency and value are required")
	}
	if !slices.Contains(knownCurrencies, d.Currency) || !slices.Contains(knownValues, d.Value) {
		fmt.Fprintf(os.Stderr, "⚠️  %s is not a bundled denomination; expect missing reference features.\n", d)
	}
	return d, nil
}

// buildVerifier opens (or builds) the feature library and wires the extractor into a verifier.
func buildVerifier(cfg config.AuthenticityConfig, logger *zap.Logger) (*authenticity.Verifier, *features.Library, error) {
	alg, err := vision.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	norm, err := match.ParseNorm(cfg.Norm)
	if err != nil {
		return nil, nil, err
	}
	ex := vision.NewExtractor(alg)

	lib, err := features.OpenOrBuild(cfg.Dataset, cfg.Snapshot, ex, features.LoadOptions{
		Progress: os.Stderr,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	v := authenticity.New(lib, ex, authenticity.Options{
		MinGoodMatches: cfg.MinGoodMatches,
		Matcher:        match.NewMatcher(cfg.Ratio, norm),
	})
	return v, lib, nil
}

func runVerify(frontPath, backPath string, d types.Denomination, asJSON bool) error {
	log := logging.WithOperation(Logger, "verify", uuid.NewString())

	front, err := os.ReadFile(frontPath)
	if err != nil {
		utils.ShowError("Failed to read front image", err, nil)
		return err
	}
	back, err := os.ReadFile(backPath)
	if err != nil {
		utils.ShowError("Failed to read back image", err, nil)
		return err
	}

	v, _, err := buildVerifier(Cfg.Authenticity, log)
	if err != nil {
		utils.ShowError("Failed to load reference features", err, nil)
		return err
	}

	res := v.Verify(front, back, d)
	log.Info("verified note",
		zap.Stringer("denomination", d),
		zap.Stringer("verdict", res.Verdict),
		zap.Int("front_matched", res.FrontMatched),
		zap.Int("front_total", res.FrontTotal),
		zap.Int("back_matched", res.BackMatched),
		zap.Int("back_total", res.BackTotal),
		zap.String("reason", res.Reason),
	)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.Summary())
	return nil
}
