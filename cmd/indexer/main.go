package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"shelfindex/internal/activities"
	"shelfindex/internal/api"
	"shelfindex/internal/config"
	"shelfindex/internal/logging"
	"shelfindex/internal/pipeline"
	"shelfindex/internal/providers"
	"shelfindex/internal/storage"
	"shelfindex/internal/workflows"
)

// indexer runs one rebuild and exits 0 on success, 1 when a stage failed and
// 2 when some documents could not be written.
func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")
	catalogPath := flag.String("catalog", "", "book catalog CSV (defaults to config)")
	interactionsPath := flag.String("interactions", "", "rental history CSV (defaults to config)")
	provider := flag.String("provider", "", "pin the embedding provider, e.g. mock or ollama:all-minilm")
	embedded := flag.Bool("embedded-worker", false, "run a worker in this process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Logger()

	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   tlog.NewStructuredLogger(logging.NewSlogLogger()),
	})
	if err != nil {
		log.Error().Err(err).Str("address", cfg.TemporalAddress).Msg("temporal dial")
		return 1
	}
	defer c.Close()

	if *embedded {
		stop, err := startWorker(cfg, c)
		if err != nil {
			log.Error().Err(err).Msg("embedded worker")
			return 1
		}
		defer stop()
	}

	input := api.RebuildInput(cfg, uuid.NewString())
	if *catalogPath != "" {
		input.CatalogPath = *catalogPath
	}
	if *interactionsPath != "" {
		input.InteractionsPath = *interactionsPath
	}
	input.Provider = *provider

	ctx := context.Background()
	we, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        api.WorkflowID(input.RunID),
		TaskQueue: cfg.TemporalTaskQueue,
	}, workflows.IndexRebuildWorkflow, input)
	if err != nil {
		log.Error().Err(err).Msg("start rebuild")
		return 1
	}
	log.Info().Str("run_id", input.RunID).Str("workflow_id", we.GetID()).Msg("rebuild started")

	var summary pipeline.Summary
	if err := we.Get(ctx, &summary); err != nil {
		log.Error().Err(err).Str("run_id", input.RunID).Msg("rebuild workflow")
		return 1
	}
	fmt.Println(summary.Message())
	return summary.ExitCode()
}

func startWorker(cfg config.Config, c client.Client) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backend, err := storage.OpenIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	a, err := activities.New(cfg, backend.Store, pm)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if backend.Runs != nil {
		a.WithRunRecorder(backend.Runs)
	}
	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, a)
	if err := w.Start(); err != nil {
		a.Close()
		backend.Close()
		return nil, err
	}
	return func() {
		w.Stop()
		a.Close()
		backend.Close()
	}, nil
}
