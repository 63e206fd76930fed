// Streamvault server
//
// Turns a torrent info hash into a playable media file: downloads are
// driven to completion, progress is pushed to the client over SSE,
// completed acquisitions are cached with a TTL, and the resulting files
// are served with byte-range support.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/api"
	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/engine"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/session"
)

func main() {
	root := &cobra.Command{
		Use:           "streamvault",
		Short:         "Torrent streaming server with a TTL'd acquisition cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), fetchCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		logging.Error("command failed", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}

// setup loads configuration and initializes logging.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		DataDir:  cfg.FilesRoot,
		Trackers: cfg.Trackers,
		MaxPeers: cfg.MaxPeers,
		ProxyURL: cfg.ProxyURL,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			logging.Info("streamvault starting",
				zap.String("listen", cfg.ListenAddr),
				zap.String("metrics", cfg.MetricsAddr),
				zap.String("files_root", cfg.FilesRoot))

			store, err := cache.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.FilesRoot, 0o755); err != nil {
				return err
			}

			sweeper := cache.NewSweeper(store, cfg.FilesRoot)
			go sweeper.Run(ctx, cfg.SweepInterval)

			factory := func(hash string) (session.Engine, error) {
				return engine.New(hash, engineOptions(cfg))
			}
			sessions := session.New(store, factory, cfg.CacheTTL)

			srv, err := api.NewServer(sessions, cfg.FilesRoot)
			if err != nil {
				return err
			}

			metricsServer := &http.Server{
				Addr:    cfg.MetricsAddr,
				Handler: metrics.Handler(),
			}
			go func() {
				logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
				if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
					logging.Error("metrics server error", zap.Error(err))
				}
			}()

			httpServer := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: srv.Handler(),
			}

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh
				logging.Info("shutting down...")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				httpServer.Shutdown(shutdownCtx)
				metricsServer.Close()
			}()

			logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <hash>",
		Short: "Download one torrent to the files root and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			eng, err := engine.New(args[0], engineOptions(cfg))
			if err != nil {
				return err
			}
			defer eng.Release()

			for ev := range eng.Events() {
				switch ev.Kind {
				case engine.EventMetadata:
					logging.Info("metadata",
						zap.String("name", ev.Metadata.Name),
						zap.Int("files", len(ev.Metadata.Files)))
				case engine.EventProgress:
					logging.Info("progress",
						zap.Int("percent", ev.Progress.Progress),
						zap.String("speed", ev.Progress.Speed),
						zap.Int("peers", ev.Progress.Peers))
				case engine.EventDone:
					logging.Info("download complete")
					return nil
				case engine.EventFailure:
					return ev.Err
				}
			}
			return session.ErrAcquisitionFailed
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries and their files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			store, err := cache.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			removed, err := cache.NewSweeper(store, cfg.FilesRoot).Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			logging.Info("sweep finished", zap.Int("removed", len(removed)))
			return nil
		},
	}
}
