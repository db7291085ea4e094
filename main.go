package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"podscribe/config"
	"podscribe/core"
	"podscribe/processors"
	"podscribe/server"
	"podscribe/storage"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	// A missing credential halts startup before any endpoint is usable.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "uploads"), 0755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data dir")
	}

	ctx := context.Background()
	store := storage.NewSegmentStore(ctx, cfg, func(format string, args ...any) {
		log.Warn().Msgf(format, args...)
	})

	cache := core.NewAnalysisCache()
	sessions := core.NewSessionManager()
	analyzer := processors.NewLLMAnalyzer(cfg)

	pipeline := &processors.Pipeline{
		Transcriber: processors.PickTranscriber(cfg),
		Analyzer:    analyzer,
		Cache:       cache,
		Store:       store,
		DataDir:     cfg.DataDir,
		Log:         log.With().Str("component", "pipeline").Logger(),
	}

	handlers := &server.Handlers{
		Sessions: sessions,
		Pipeline: pipeline,
		Analyzer: analyzer,
		Store:    store,
		Cache:    cache,
		DataDir:  cfg.DataDir,
		Log:      log.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	handlers.Register(mux)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("asr", cfg.ASRProvider).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
