package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/api"
	"github.com/omers/pii-anonymizer-api/internal/config"
	"github.com/omers/pii-anonymizer-api/internal/events"
	"github.com/omers/pii-anonymizer-api/internal/metrics"
	"github.com/omers/pii-anonymizer-api/internal/ratelimit"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		log.Info("Starting PII anonymizer",
			zap.String("version", version),
			zap.String("commit", commit),
			zap.String("build_date", date),
			zap.String("config_file", loader.ConfigFile()),
			zap.Int("port", cfg.Server.Port),
		)

		p, err := buildPipeline(cfg, log)
		if err != nil {
			log.Error("Failed to build anonymization pipeline", zap.Error(err))
			return err
		}
		defer p.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		limiter := ratelimit.New(cfg.RateLimit)
		limiter.StartCleanup(ctx, ratelimit.DefaultIdleTimeout/4, ratelimit.DefaultIdleTimeout)

		opts := []api.Option{
			api.WithMetrics(metrics.New()),
			api.WithRateLimiter(limiter),
			api.WithVersion(version),
		}
		if cfg.Events.Enabled {
			opts = append(opts, api.WithEventHub(events.NewHub(cfg.Events, log.WithComponent("events").Logger)))
		}
		if pinger, ok := p.detector.(api.Pinger); ok {
			opts = append(opts, api.WithDependency("detector", pinger))
		}
		if p.cache != nil {
			opts = append(opts, api.WithDependency("cache", p.cache), api.WithCacheStats(p.cache))
		}

		server := api.New(cfg, p.service, log, opts...)

		if loader.ConfigFile() != "" {
			loader.Watch(func(newCfg *config.Config) {
				level := newCfg.Logging.Level
				if flagLogLevel != "" {
					level = flagLogLevel
				}
				if err := log.SetLevel(level); err != nil {
					log.Warn("Ignoring invalid log level", zap.String("level", level), zap.Error(err))
				}
				server.UpdateLimits(newCfg)
				log.Info("Configuration reloaded", zap.String("config_file", loader.ConfigFile()))
			}, func(err error) {
				log.Error("Configuration reload failed, keeping previous settings", zap.Error(err))
			})
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
			serverErrors <- server.Start()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if err != nil {
				log.Error("Server error", zap.Error(err))
			}
			return err
		case sig := <-shutdown:
			log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}

		log.Info("Server shutdown complete")
		return nil
	},
}
