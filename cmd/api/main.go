package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tryon/internal/http/handlers"
	httpapi "tryon/internal/http/httpapi"
	"tryon/internal/http/views"
	"tryon/internal/i18n"
	"tryon/internal/imageenc"
	"tryon/internal/infra"
	"tryon/internal/infra/geoip"
	"tryon/internal/metrics"
	"tryon/internal/providers/image"
	"tryon/internal/session"
	"tryon/internal/wizard"
)

const syntheticDelay = 1500 * time.Millisecond

func main() {
	// Optional .env
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	generator, provider, err := image.New(ctx, image.FactoryOptions{
		Provider:       cfg.GenerationProvider,
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		BaseURL:        cfg.GeminiBaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.GenerationTimeout},
		Logger:         logger,
		SyntheticDelay: syntheticDelay,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure generation provider")
	}
	logger.Info().Str("provider", provider).Str("model", cfg.GeminiModel).Msg("generation provider ready")

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()

	collector := metrics.NewCollector("tryon")
	store := session.NewStore(session.Options{
		TTL: cfg.SessionTTL,
		Factory: func(id, locale string) *wizard.Controller {
			return wizard.NewController(wizard.Options{
				SessionID: id,
				Generator: generator,
				Timeout:   cfg.GenerationTimeout,
				Logger:    logger,
				Recorder:  collector,
				Locale:    func() string { return locale },
			})
		},
		Logger:       logger,
		OnSizeChange: collector.SetActiveSessions,
	})

	app := &handlers.App{
		Config:        cfg,
		Logger:        logger,
		Sessions:      store,
		Encoder:       imageenc.NewEncoder(cfg.MaxUploadBytes),
		Catalog:       i18n.New(cfg.DefaultLocale),
		Views:         views.MustNew(),
		Metrics:       collector,
		CountryLookup: resolver.Lookup(),
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		return server.Start()
	})
	g.Go(func() error {
		return store.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
