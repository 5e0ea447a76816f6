package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hls-player/internal/catalogue"
	"hls-player/internal/engine/sim"
	"hls-player/internal/manifest"
	"hls-player/internal/netmon"
	"hls-player/internal/platform/config"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/playback"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "playerd",
		Short:         "Adaptive HLS playback controller with an HTTP control API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				logger.New("error", "json").Error("configuration", "error", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (overrides $PLAYER_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: port %s, cache capacity %d, probe interval %s\n",
				cfg.Server.Port, cfg.Cache.Capacity, cfg.Network.ProbeInterval)
			return nil
		},
	})
	return root
}

func loadConfig(path string) (*config.Config, error) {
	_ = config.Load()

	cfg, err := config.New(path)
	if err != nil {
		return nil, err
	}
	if port := config.GetEnv("PORT", ""); port != "" {
		cfg.Server.Port = port
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	met := metrics.New()

	cache, err := manifest.NewCache(cfg.Cache.Capacity,
		manifest.WithLogger(logger.Component(log, "manifest")),
		manifest.WithMetrics(met))
	if err != nil {
		return fmt.Errorf("manifest cache: %w", err)
	}

	client := &http.Client{Timeout: cfg.Resolver.Timeout}
	resolver := catalogue.NewBreakerResolver(
		catalogue.NewPlaylistResolver(client, logger.Component(log, "catalogue")),
		breakerSettings(cfg),
		logger.Component(log, "catalogue"))

	ctrl, err := playback.New(playbackConfig(cfg), playback.Deps{
		Cache:    cache,
		Resolver: resolver,
		Player:   sim.New(engineOptions(cfg)),
		Prober:   netmon.NewHTTPProber(nil, cfg.Network.ProbeBytes, cfg.Network.ProbeTimeout),
		Logger:   log,
		Metrics:  met,
	})
	if err != nil {
		return fmt.Errorf("playback controller: %w", err)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: newRouter(cfg, log, met, cache, ctrl),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Server.Port,
			"cache_capacity", cfg.Cache.Capacity,
			"log_level", cfg.Log.Level,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		ctrl.Dispose()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

func newRouter(cfg *config.Config, log *slog.Logger, met *metrics.Metrics, cache *manifest.Cache, ctrl *playback.Controller) http.Handler {
	httpLog := logger.Component(log, "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(httpLog))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetCacheEntries(cache.Len()) }).ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		if cfg.Server.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.Server.RateLimit, cfg.Server.RateLimitWindow))
		}
		playback.NewHandler(ctrl, httpLog).Routes(r)
	})
	return r
}
