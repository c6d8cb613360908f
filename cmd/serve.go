package cmd

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/identity"
	"github.com/andresmejia3/screener/internal/logging"
	"github.com/andresmejia3/screener/internal/server"
)

var (
	serveAddr        string
	serveNoEmbedder  bool
	serveNoFeatures  bool
	shutdownDeadline = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve /classify and /verify over HTTP",
	Annotations: map[string]string{dbAnnotation: "galleries"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyIdentityFlags(cmd, Cfg)
		applyAuthenticityFlags(cmd, Cfg)
		if cmd.Flags().Changed("addr") {
			Cfg.Server.Addr = serveAddr
		}
		if err := Cfg.Validate(); err != nil {
			return err
		}
		log := logging.WithOperation(Logger, "serve", "")

		restricted, general, err := loadGalleries(cmd.Context(), Cfg.Galleries, DB, log)
		if err != nil {
			return err
		}
		classifier, err := identity.New(Cfg.Identity.Threshold, Cfg.Identity.Workers)
		if err != nil {
			return err
		}
		deps := server.Deps{
			Classifier:     classifier,
			Restricted:     restricted,
			General:        general,
			Logger:         Logger,
			MaxUploadBytes: Cfg.Server.MaxUploadBytes,
		}

		if !serveNoEmbedder {
			w, err := startEmbedder(Cfg.Embedder)
			if err != nil {
				return logging.Wrap("worker.start", "", err)
			}
			defer w.Close()
			deps.Embedder = w
		}
		if !serveNoFeatures {
			v, lib, err := buildVerifier(Cfg.Authenticity, log)
			if err != nil {
				return logging.Wrap("features.load", "", err)
			}
			log.Info("feature library ready", zap.Int("buckets", len(lib.Keys())), zap.Int("items", lib.Items()))
			deps.Verifier = v
		}

		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{
			Addr:    Cfg.Server.Addr,
			Handler: server.NewRouter(deps),
		}
		log.Info("screener API listening", zap.String("addr", Cfg.Server.Addr))
		return server.Serve(cmd.Context(), srv, nil, shutdownDeadline, log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().Float64VarP(&identifyOpts.Threshold, "threshold", "t", identity.DefaultThreshold, "Match distance threshold (exclusive)")
	serveCmd.Flags().IntVarP(&identifyOpts.Workers, "workers", "w", 1, "Goroutines used to scan each gallery")
	serveCmd.Flags().BoolVar(&serveNoEmbedder, "no-embedder", false, "Do not start the face embedder; /classify answers 503")
	serveCmd.Flags().BoolVar(&serveNoFeatures, "no-features", false, "Do not load reference features; /verify answers 503")
	addAuthenticityFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
