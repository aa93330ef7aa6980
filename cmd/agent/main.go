package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/api"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/localstore"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/queue"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/snapshot"
	agentsync "github.com/OleOle19/sistema-agua-municipalidad/internal/agent/sync"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/config"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/logger"
)

const snapshotLimit = 5000

// main wires the field-device agent: a local sqlite store, the server API
// client, the mutation queue, and the sync loop that ties them together.
func main() {
	cfg := config.AgentFromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.UserID == "" {
		log.Error("AGENT_USER_ID is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := localstore.Open(cfg.DataDir)
	if err != nil {
		log.Error("open local store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := api.NewClient(cfg.ServerURL, cfg.Token)
	queues := queue.NewManager(store, client, client, log)
	snapshots := snapshot.NewManager(store, client, client, snapshotLimit, log)
	coordinator := agentsync.NewCoordinator(queues, snapshots, client, cfg.UserID, cfg.PollInterval, log)

	log.Info("agent started",
		"server_url", cfg.ServerURL,
		"data_dir", cfg.DataDir,
		"user_id", cfg.UserID,
	)

	if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("agent exited", "error", err)
		os.Exit(1)
	}
	log.Info("agent stopped")
}
