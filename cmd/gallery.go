package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/gallery"
	"github.com/andresmejia3/screener/internal/utils"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage the restricted and general galleries stored in PostgreSQL",
}

var importName string

var galleryImportCmd = &cobra.Command{
	Use:         "import <csv_path>",
	Short:       "Load a gallery CSV into the database, replacing any gallery of the same name",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: "always"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		name := importName
		if name == "" {
			name = galleryNameFor(args[0])
		}
		if name != gallery.Restricted && name != gallery.General {
			return fmt.Errorf("gallery name must be %q or %q, got %q", gallery.Restricted, gallery.General, name)
		}

		g, report, err := gallery.LoadCSV(args[0], name)
		if err != nil {
			utils.ShowError("Failed to read gallery CSV", err, nil)
			return err
		}
		for _, skip := range report.Skipped {
			Logger.Warn("skipped gallery row", zap.String("path", args[0]), zap.Int("line", skip.Line), zap.Error(skip.Err))
		}

		bar := progressbar.NewOptions(g.Len(),
			progressbar.OptionSetDescription("📥 Importing "+name),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
		n, err := DB.ImportGallery(cmd.Context(), g, func() { bar.Add(1) })
		bar.Finish()
		if err != nil {
			utils.ShowError("Failed to import gallery", err, nil)
			return err
		}

		fmt.Fprintln(os.Stderr)
		fmt.Printf("✅ Imported %d entries into %s (dimension %d, %d rows skipped)\n", n, name, report.Dimension, len(report.Skipped))
		return nil
	},
}

var galleryListCmd = &cobra.Command{
	Use:         "list [gallery]",
	Short:       "List stored galleries, or the entries of one gallery",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{dbAnnotation: "always"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		defer w.Flush()

		if len(args) == 0 {
			summaries, err := DB.ListGalleries(cmd.Context())
			if err != nil {
				utils.ShowError("Failed to list galleries", err, nil)
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No galleries found in database.")
				return nil
			}
			fmt.Fprintln(w, "GALLERY\tENTRIES\tDIMENSION")
			fmt.Fprintln(w, "-------\t-------\t---------")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\n", s.Name, s.Count, s.Dimension)
			}
			return nil
		}

		entries, err := DB.ListEntries(cmd.Context(), args[0])
		if err != nil {
			utils.ShowError("Failed to list entries", err, nil)
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("No entries found in %s.\n", args[0])
			return nil
		}
		fmt.Fprintln(w, "ID\tPOSITION\tLABEL\tSTATUS")
		fmt.Fprintln(w, "--\t--------\t-----\t------")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", e.ID, e.Position, e.Label, gallery.Metadata(e.Metadata).Status())
		}
		return nil
	},
}

var galleryLabelCmd = &cobra.Command{
	Use:         "label <entry_id> <label>",
	Short:       "Rename a stored gallery entry",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: "always"},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.Die("Invalid entry ID", err, nil)
		}

		if err := DB.RenameEntry(cmd.Context(), id, args[1]); err != nil {
			utils.Die("Failed to label entry", err, nil)
		}
		fmt.Printf("✅ Entry %d labeled as '%s'\n", id, args[1])
	},
}

func init() {
	galleryImportCmd.Flags().StringVarP(&importName, "name", "n", "", "Gallery name: restricted or general (default: inferred from file name)")
	galleryCmd.AddCommand(galleryImportCmd, galleryListCmd, galleryLabelCmd)
	rootCmd.AddCommand(galleryCmd)
}

// galleryNameFor infers the gallery from an export file name, the same way
// directory discovery does.
func galleryNameFor(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "non-criminal"):
		return gallery.General
	case strings.Contains(lower, "criminal"):
		return gallery.Restricted
	}
	return ""
}
