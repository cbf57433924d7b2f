package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"visor/core-go/internal/config"
	"visor/core-go/internal/fetch"
	"visor/core-go/internal/httpapi"
	"visor/core-go/internal/layers"
	"visor/core-go/internal/metrics"
	"visor/core-go/internal/source"
	"visor/core-go/internal/topology"
	"visor/core-go/internal/view"
)

func main() {
	addr := pflag.String("addr", envOr("HTTP_ADDR", ":8081"), "listen address")
	configPath := pflag.String("config", envOr("VISOR_CONFIG", ""), "config file (.yaml, .json or .hujson)")
	logLevel := pflag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	dataDir := pflag.String("data-dir", envOr("VISOR_DATA_DIR", ""), "directory local layer paths are relative to")
	pflag.Parse()

	logger := httpapi.NewLogger(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	cat := cfg.Catalog()
	resolver := source.NewResolver(cfg.SourceConfig())
	fetcher := fetch.New(logger, fetch.Options{
		Timeout: cfg.FetchTimeoutDuration(),
		DataDir: cfg.DataDir,
	})
	loader := layers.NewLoader(layers.LoaderOptions{
		Catalog:   cat,
		Resolver:  resolver,
		Fetcher:   fetcher,
		Converter: topology.ArcConverter{},
	})
	cache := layers.NewCache(logger, m)
	views := view.NewRegistry(logger, cache, loader, m)

	if keys := cfg.PreloadKeys(); len(keys) > 0 {
		go func() {
			if err := cache.Preload(ctx, keys, cfg.PreloadConcurrency, loader.FetchAndBuild); err != nil {
				logger.Warn().Err(err).Msg("layer preload incomplete")
				return
			}
			logger.Info().Int("layers", len(keys)).Msg("layer preload complete")
		}()
	}

	h := httpapi.NewHandler(logger, httpapi.Services{
		Catalog:     cat,
		Resolver:    resolver,
		Loader:      loader,
		Cache:       cache,
		Views:       views,
		Metrics:     m,
		Map:         cfg.Map,
		LoadTimeout: 2 * fetcher.Timeout(),
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", *addr).
			Bool("use_local_data", resolver.UseLocalData()).
			Str("data_dir", fetcher.DataDir()).
			Msg("visor listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
