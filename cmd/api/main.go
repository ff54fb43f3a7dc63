package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"shelfindex/internal/api"
	"shelfindex/internal/catalog"
	"shelfindex/internal/config"
	"shelfindex/internal/logging"
	"shelfindex/internal/storage"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Logger()

	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   tlog.NewStructuredLogger(logging.NewSlogLogger()),
	})
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.TemporalAddress).Msg("temporal dial")
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backend, err := storage.OpenIndex(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.IndexBackend).Msg("open index")
	}
	defer backend.Close()

	history, err := catalog.NewLoader()
	if err != nil {
		log.Fatal().Err(err).Msg("catalog loader")
	}
	defer history.Close()

	h := api.NewServer(cfg, backend.Store, history, c)
	if backend.Runs != nil {
		h.WithRuns(backend.Runs)
	}
	log.Info().Str("addr", cfg.APIAddr).Str("backend", cfg.IndexBackend).Str("index", cfg.IndexName).Msg("shelfindex api listening")
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}
