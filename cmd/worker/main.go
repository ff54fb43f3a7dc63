package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"shelfindex/internal/activities"
	"shelfindex/internal/config"
	"shelfindex/internal/logging"
	"shelfindex/internal/providers"
	"shelfindex/internal/storage"
	"shelfindex/internal/workflows"
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

	pm, err := providers.NewManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("providers")
	}
	a, err := activities.New(cfg, backend.Store, pm)
	if err != nil {
		log.Fatal().Err(err).Msg("activities")
	}
	defer a.Close()
	if backend.Runs != nil {
		a.WithRunRecorder(backend.Runs)
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, a)

	log.Info().
		Str("address", cfg.TemporalAddress).
		Str("queue", cfg.TemporalTaskQueue).
		Str("backend", cfg.IndexBackend).
		Str("embed_providers", cfg.EmbedProviders).
		Msg("shelfindex worker listening")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
