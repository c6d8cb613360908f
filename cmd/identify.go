package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/config"
	"github.com/andresmejia3/screener/internal/identity"
	"github.com/andresmejia3/screener/internal/logging"
	"github.com/andresmejia3/screener/internal/types"
	"github.com/andresmejia3/screener/internal/utils"
	"github.com/andresmejia3/screener/internal/worker"
)

type identifyOptions struct {
	Threshold float64
	Workers   int
	Largest   bool
	JSON      bool
}

var identifyOpts identifyOptions

var identifyCmd = &cobra.Command{
	Use:         "identify <image_path>",
	Short:       "Classify every face in an image against the restricted and general galleries",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: "galleries"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyIdentityFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			return err
		}
		return runIdentify(cmd.Context(), args[0], identifyOpts)
	},
}

func init() {
	identifyCmd.Flags().Float64VarP(&identifyOpts.Threshold, "threshold", "t", identity.DefaultThreshold, "Match distance threshold (exclusive)")
	identifyCmd.Flags().IntVarP(&identifyOpts.Workers, "workers", "w", 1, "Goroutines used to scan each gallery")
	identifyCmd.Flags().BoolVar(&identifyOpts.Largest, "largest", false, "Only classify the largest face in the image")
	identifyCmd.Flags().BoolVar(&identifyOpts.JSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(identifyCmd)
}

// applyIdentityFlags lets explicitly set flags override the config file.
func applyIdentityFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("threshold") {
		cfg.Identity.Threshold = identifyOpts.Threshold
	}
	if cmd.Flags().Changed("workers") {
		cfg.Identity.Workers = identifyOpts.Workers
	}
}

func startEmbedder(cfg config.EmbedderConfig) (*worker.EmbeddingWorker, error) {
	// We use ID 0 for this ad-hoc worker
	return worker.NewEmbeddingWorker(0, worker.Config{
		Command:     cfg.Command,
		Args:        cfg.Args,
		ReadTimeout: cfg.Timeout,
	})
}

func runIdentify(ctx context.Context, imagePath string, opts identifyOptions) error {
	log := logging.WithOperation(Logger, "identify", uuid.NewString())

	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	restricted, general, err := loadGalleries(ctx, Cfg.Galleries, DB, log)
	if err != nil {
		utils.ShowError("Failed to load galleries", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := startEmbedder(Cfg.Embedder)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	faces, err := w.Embed(imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return logging.Wrap("worker.embed", "", err)
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	if opts.Largest && len(faces) > 1 {
		fmt.Fprintf(os.Stderr, "⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
		faces = []types.FaceResult{largestFace(faces)}
	}

	classifier, err := identity.New(Cfg.Identity.Threshold, Cfg.Identity.Workers)
	if err != nil {
		return err
	}
	reports := make([]identity.FaceReport, 0, len(faces))
	for _, face := range faces {
		res, err := classifier.Classify(face.Vec, restricted, general)
		if err != nil {
			utils.ShowError("Classification failed", err, nil)
			return err
		}
		reports = append(reports, identity.NewFaceReport(face, res))
	}
	log.Info("classified image",
		zap.String("path", imagePath),
		zap.Int("faces", len(reports)),
		zap.Int("restricted_size", restricted.Len()),
		zap.Int("general_size", general.Len()),
	)

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, r := range reports {
		fmt.Println(r.String())
	}
	return nil
}

// largestFace picks the face with the biggest box; the first one wins ties.
func largestFace(faces []types.FaceResult) types.FaceResult {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Area() > best.Area() {
			best = f
		}
	}
	return best
}
