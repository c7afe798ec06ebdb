// Package main is the entry point for the docuforge daemon.
//
// Usage:
//
//	docuforge start              — run the worker pool
//	docuforge enqueue <file>     — queue a new task from a JSON file
//	docuforge approve <task-id>  — approve a task waiting at a review gate
//	docuforge reset <task-id>    — return a failed task to the queue
//	docuforge status <task-id>   — print a task's current state
//	docuforge version            — print version
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/docuforge/docuforge/internal/collab"
	"github.com/docuforge/docuforge/internal/config"
	"github.com/docuforge/docuforge/internal/notion"
	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/pipeline"
	"github.com/docuforge/docuforge/internal/store"
	"github.com/docuforge/docuforge/internal/task"
	"github.com/docuforge/docuforge/internal/worker"
)

const (
	version = "0.1.0"
	appName = "docuforge"
)

func main() {
	// Secrets referenced from the config file may live in a .env.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "start":
		runDaemon()
	case "enqueue":
		requireArg("enqueue", "task file")
		runEnqueue(os.Args[2])
	case "approve":
		requireArg("approve", "task id")
		runApprove(os.Args[2])
	case "reset":
		requireArg("reset", "task id")
		runReset(os.Args[2])
	case "status":
		requireArg("status", "task id")
		runStatus(os.Args[2])
	case "version":
		fmt.Printf("%s v%s\n", appName, version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func requireArg(cmd, what string) {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "%s requires a %s argument\n", cmd, what)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s — documentary video pipeline

Usage:
  %s <command>

Commands:
  start              Run the worker pool until interrupted
  enqueue <file>     Queue a new task described by a JSON file
  approve <task-id>  Approve a task waiting at a review gate
  reset <task-id>    Return a failed task to the queue
  status <task-id>   Print a task's current state
  version            Print version

Environment variables:
  DOCUFORGE_CONFIG   Config file path (default: config.yaml)

`, appName, version, appName)
}

func configPath() string {
	if p := os.Getenv("DOCUFORGE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func openStore(cfg *config.Config) *store.SQLiteStore {
	s, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	return s
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func buildCollaborators(cfg *config.Config, logger *observability.Logger) pipeline.Collaborators {
	return pipeline.Collaborators{
		Assets:     collab.NewAssetGenerator(cfg.Assets.Endpoint, cfg.Assets.Concurrency, cfg.Assets.CostPerItem, logger.Named("assets")),
		Composites: collab.NewCompositeBuilder(cfg.Composites.Command, cfg.Composites.Concurrency, logger.Named("composites")),
		Video:      collab.NewVideoAnimator(cfg.Video.Endpoint, cfg.Video.Concurrency, cfg.Video.CostPerItem, logger.Named("video")),
		Narration:  collab.NewNarrationSynthesizer(cfg.Narration.Command, cfg.Narration.Concurrency, cfg.Narration.CostPerItem, logger.Named("narration")),
		SFX:        collab.NewSFXSynthesizer(cfg.SFX.Endpoint, cfg.SFX.Concurrency, cfg.SFX.CostPerItem, logger.Named("sfx")),
		Assembly:   collab.NewAssembler(cfg.Assembly.Command, logger.Named("assembly")),
	}
}

// bootstrap wires collaborators, registry, tracker sync, and orchestrator.
func bootstrap(cfg *config.Config, s *store.SQLiteStore, logger *observability.Logger) (*pipeline.Orchestrator, error) {
	collaborators := buildCollaborators(cfg, logger)
	registry, err := pipeline.DefaultRegistry(cfg.Workspace, collaborators)
	if err != nil {
		return nil, fmt.Errorf("build step registry: %w", err)
	}

	var sync pipeline.Synchronizer
	if cfg.Notion.Enabled {
		client := notion.NewClient(cfg.Notion.Token, notion.Options{
			BaseURL:     cfg.Notion.BaseURL,
			MinInterval: cfg.Notion.MinInterval.Std(),
			MaxAttempts: cfg.Notion.MaxAttempts,
		}, logger.Named("notion"))
		sync = notion.NewSynchronizer(client, cfg.Notion.DatabaseID, logger.Named("notion"))
		logger.Info("tracker sync enabled", "database_id", cfg.Notion.DatabaseID)
	}

	return pipeline.New(pipeline.Dependencies{
		Store:    s,
		Registry: registry,
		Sync:     sync,
		Logger:   logger.Named("orchestrator"),
		Metrics:  observability.NewMetricsCollector(10000),
	}), nil
}

func runDaemon() {
	cfg := loadConfig()
	logger := observability.NewLogger("daemon", nil)

	s := openStore(cfg)
	defer s.Close()

	orch, err := bootstrap(cfg, s, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err.Error())
		os.Exit(1)
	}

	pool := worker.NewPool(s, orch, worker.Options{
		Workers:         cfg.Worker.Count,
		PollInterval:    cfg.Worker.PollInterval.Std(),
		StaleClaimAfter: cfg.Worker.StaleClaimAfter.Std(),
	}, logger.Named("worker"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received, finishing current steps", "signal", sig.String())
		cancel()
	}()

	logger.Info("daemon started", "version", version,
		"workers", cfg.Worker.Count, "workspace", cfg.Workspace)

	if err := pool.Run(ctx); err != nil {
		logger.Error("worker pool failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// enqueueRequest is the JSON shape accepted by the enqueue command.
type enqueueRequest struct {
	Channel          string   `json:"channel"`
	Topic            string   `json:"topic"`
	StoryDirection   string   `json:"story_direction"`
	NarrationScripts []string `json:"narration_scripts"`
	SFXDescriptions  []string `json:"sfx_descriptions"`
	VoiceID          string   `json:"voice_id,omitempty"`
}

func runEnqueue(path string) {
	cfg := loadConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read task file: %v\n", err)
		os.Exit(1)
	}
	var req enqueueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "parse task file: %v\n", err)
		os.Exit(1)
	}
	if req.Topic == "" {
		fmt.Fprintln(os.Stderr, "task file must set a topic")
		os.Exit(1)
	}
	voice := req.VoiceID
	if voice == "" {
		voice = cfg.DefaultVoiceID
	}

	s := openStore(cfg)
	defer s.Close()

	t := &task.Task{
		ID:               uuid.NewString(),
		Channel:          req.Channel,
		Topic:            req.Topic,
		StoryDirection:   req.StoryDirection,
		NarrationScripts: req.NarrationScripts,
		SFXDescriptions:  req.SFXDescriptions,
		VoiceID:          voice,
		Status:           task.StatusQueued,
	}
	if err := s.CreateTask(context.Background(), t); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("queued task %s (%s)\n", t.ID, t.Topic)
}

// gateApprovals maps each review-gate status to its approved successor.
var gateApprovals = map[task.Status]task.Status{
	task.StatusAssetsReady: task.StatusAssetsApproved,
	task.StatusVideoReady:  task.StatusVideoApproved,
	task.StatusAudioReady:  task.StatusAudioApproved,
	task.StatusFinalReview: task.StatusApproved,
}

func runApprove(taskID string) {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()
	ctx := context.Background()

	t, err := s.GetTask(ctx, taskID)
	if err != nil || t == nil {
		fmt.Fprintf(os.Stderr, "task %s not found\n", taskID)
		os.Exit(1)
	}
	to, ok := gateApprovals[t.Status]
	if !ok {
		fmt.Fprintf(os.Stderr, "task %s is %s, not at a review gate\n", taskID, t.Status)
		os.Exit(1)
	}
	if err := s.ApproveGate(ctx, taskID, to); err != nil {
		fmt.Fprintf(os.Stderr, "approve: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("task %s: %s -> %s\n", taskID, t.Status, to)
}

func runReset(taskID string) {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	if err := s.ResetError(context.Background(), taskID); err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("task %s returned to queue\n", taskID)
}

func runStatus(taskID string) {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	t, err := s.GetTask(context.Background(), taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	if t == nil {
		fmt.Fprintf(os.Stderr, "task %s not found\n", taskID)
		os.Exit(1)
	}

	fmt.Printf("task:    %s\n", t.ID)
	fmt.Printf("topic:   %s\n", t.Topic)
	fmt.Printf("status:  %s\n", t.Status)
	if t.ClaimedBy != "" {
		fmt.Printf("claimed: %s (since %s)\n", t.ClaimedBy, t.ClaimedAt.Format("2006-01-02 15:04:05"))
	}
	if t.PipelineCostUSD > 0 {
		fmt.Printf("cost:    $%.4f\n", t.PipelineCostUSD)
	}
	for _, e := range t.ErrorLog {
		fmt.Printf("error:   [%s] %s: %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Status, e.Message)
	}
}
