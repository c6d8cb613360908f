package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/screener/internal/features"
	"github.com/andresmejia3/screener/internal/types"
	"github.com/andresmejia3/screener/internal/utils"
	"github.com/andresmejia3/screener/internal/vision"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Build and inspect the banknote reference feature library",
}

var featuresIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Extract descriptors from the reference dataset and write the snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyAuthenticityFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			return err
		}
		a := Cfg.Authenticity
		if a.Snapshot == "" {
			return fmt.Errorf("no snapshot path configured")
		}

		alg, err := vision.ParseAlgorithm(a.Algorithm)
		if err != nil {
			return err
		}
		lib, err := features.Load(a.Dataset, vision.NewExtractor(alg), features.LoadOptions{Progress: os.Stderr, Logger: Logger})
		if err != nil {
			utils.ShowError("Failed to index reference dataset", err, nil)
			return err
		}
		fp, err := utils.FingerprintTree(a.Dataset)
		if err != nil {
			return err
		}
		if err := features.SaveSnapshot(a.Snapshot, lib, fp); err != nil {
			utils.ShowError("Failed to write snapshot", err, nil)
			return err
		}

		fmt.Fprintln(os.Stderr)
		fmt.Printf("✅ Indexed %d reference images in %d buckets into %s\n", lib.Items(), len(lib.Keys()), a.Snapshot)
		return nil
	},
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List denominations and how many reference features each side has",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyAuthenticityFlags(cmd, Cfg)
		_, lib, err := buildVerifier(Cfg.Authenticity, Logger)
		if err != nil {
			utils.ShowError("Failed to load reference features", err, nil)
			return err
		}
		printLibrary(lib)
		return nil
	},
}

func init() {
	addAuthenticityFlags(featuresIndexCmd)
	addAuthenticityFlags(featuresListCmd)
	featuresCmd.AddCommand(featuresIndexCmd, featuresListCmd)
	rootCmd.AddCommand(featuresCmd)
}

func printLibrary(lib *features.Library) {
	keys := lib.Keys()
	if len(keys) == 0 {
		fmt.Println("No reference features found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DENOMINATION\tSIDE\tFEATURES\tUNREADABLE")
	fmt.Fprintln(w, "------------\t----\t--------\t----------")
	for _, k := range keys {
		items, _ := lib.Bucket(k.Denomination, k.Side)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", k.Denomination, k.Side, len(items), unreadable(items))
	}
	w.Flush()
}

func unreadable(items []types.ReferenceFeatureItem) int {
	n := 0
	for _, it := range items {
		if len(it.Descriptors) == 0 {
			n++
		}
	}
	return n
}
