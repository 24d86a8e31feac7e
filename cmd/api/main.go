package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reviewdeck/api/internal/app"
	"reviewdeck/api/internal/broadcast"
	"reviewdeck/api/internal/config"
	"reviewdeck/api/internal/gitmirror"
	"reviewdeck/api/internal/githubauth"
	"reviewdeck/api/internal/search"
	"reviewdeck/api/internal/session"
	"reviewdeck/api/internal/store"
	"reviewdeck/api/internal/telemetry"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.MirrorsDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create mirrors dir")
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	github := githubauth.New(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)
	if !github.Configured() {
		log.Warn().Msg("GitHub OAuth not configured, sign-in is unavailable")
	}

	recorder := telemetry.NewRecorder(dataStore, cfg.AnalyticsEnabled)
	defer recorder.Close()

	events := broadcast.New(broadcast.DefaultBufferSize)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Info().Msg("using PostgreSQL for refresh token storage")
	}

	service := app.New(cfg, dataStore, sessions, github, searchService, recorder, events)
	if err := service.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap error, will retry on next restart")
	}

	mirrorCtx, stopMirrors := context.WithCancel(ctx)
	defer stopMirrors()
	mirrors := gitmirror.New(cfg.MirrorsDir, dataStore)
	go mirrors.Run(mirrorCtx, cfg.MirrorInterval)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("reviewdeck API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
