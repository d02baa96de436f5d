package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/appraisal-agent/internal/db"
	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/server"
)

var (
	servePort        int
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that streams appraisals over SSE and serves appraisal history.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Address for the Prometheus listener (overrides METRICS_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = serveMetricsAddr
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	app, err := buildAppraiser(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	policy, err := records.NewPolicy(cfg.Records.ReappraisalPolicy, database, nil)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PresignTTL:     cfg.Storage.PresignTTL,
	}, server.Deps{
		Orchestrator: app.orchestrator,
		Records:      database,
		Images:       app.images,
		Policy:       policy,
		JWT:          server.NewJWTService(cfg.JWT, nil),
		Database:     database,
		Cache:        app.priceCache,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return server.ServeUntilDone(gctx, server.NewMetricsServer(cfg.Server.MetricsAddr), logger)
		})
	}
	return g.Wait()
}
