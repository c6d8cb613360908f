package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/config"
	"github.com/andresmejia3/screener/internal/logging"
	"github.com/andresmejia3/screener/internal/store"
)

// dbAnnotation marks commands that talk to PostgreSQL. "always" connects
// unconditionally; "galleries" connects only when galleries come from the database;
// "tables" connects only when reset will clear the gallery tables.
const dbAnnotation = "screener/db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is the loaded configuration, with flag overrides applied by each command
	Cfg *config.Config
	// Logger is the root structured logger
	Logger *zap.Logger

	cfgFile  string
	dbURL    string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "screener",
	Short:   "Face watch-list screening & banknote authenticity checks",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			Cfg.Log.Level = logLevel
		}

		Logger, err = logging.NewLogger(Cfg.Log.Level)
		if err != nil {
			return err
		}

		if !needsDB(cmd) {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL(dbURL))
		if err != nil {
			return logging.Wrap("store.connect", "", fmt.Errorf("failed to connect to database: %w", err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if Logger != nil {
			Logger.Sync() //nolint:errcheck
		}
	},
}

func needsDB(cmd *cobra.Command) bool {
	switch cmd.Annotations[dbAnnotation] {
	case "always":
		return true
	case "galleries":
		return Cfg.Galleries.Source == config.SourceDB
	case "tables":
		return resetDB || !resetSnapshot
	}
	return false
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var opErr *logging.OpError
		if Logger != nil && errors.As(err, &opErr) {
			Logger.Error("command failed", opErr.Fields()...)
			Logger.Sync() //nolint:errcheck
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (default: ./"+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: from config or POSTGRES_* env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
