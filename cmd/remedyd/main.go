// Command remedyd runs the CI failure remediation service: webhook
// ingestion, the pipeline worker pool, and the metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/ai"
	"remedy-copilot/pkg/analysis"
	"remedy-copilot/pkg/config"
	"remedy-copilot/pkg/consensus"
	"remedy-copilot/pkg/gitrepo"
	"remedy-copilot/pkg/governor"
	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/patch"
	"remedy-copilot/pkg/pipeline"
	"remedy-copilot/pkg/plan"
	"remedy-copilot/pkg/policy"
	"remedy-copilot/pkg/runner"
	"remedy-copilot/pkg/sandbox"
	"remedy-copilot/pkg/scm"
	"remedy-copilot/pkg/server"
	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
	"remedy-copilot/pkg/webhook"
	"remedy-copilot/pkg/worker"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:     "remedyd",
		Short:   "Autonomous CI/CD failure remediation service",
		Version: version,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file to load before the environment")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and pipeline workers",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return serve(c.Context(), cfg)
		},
	})

	var eventFile string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline once for an event read from a JSON file",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return runOnce(c.Context(), cfg, eventFile)
		},
	}
	runCmd.Flags().StringVar(&eventFile, "event", "", "path to a pipeline event JSON file")
	_ = runCmd.MarkFlagRequired("event")
	cmd.AddCommand(runCmd)

	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.New(level)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		if pol, err = policy.Load(cfg.PolicyPath); err != nil {
			return err
		}
		log.Info().Str("path", cfg.PolicyPath).Msg("safety policy loaded")
	}

	events, runs, closeStores, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	coord := buildCoordinator(cfg, log)
	orch := buildOrchestrator(ctx, cfg, pol, events, runs, log)

	govCfg := governor.DefaultConfig()
	govCfg.Cooldown = cfg.Cooldown
	govCfg.MaxPipelineAttempts = cfg.MaxPipelineAttempts
	govCfg.RepoConcurrencyLimit = cfg.RepoConcurrencyLimit
	gov := governor.New(coord, runs, govCfg, log)

	pool := worker.New(worker.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize}, gov, orch, events, log)
	go pool.Run(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv := server.New(events, webhook.NewRegistry(cfg.WebhookSecrets), pool, reg, log)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("remedyd listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// runOnce replays a single event through the pipeline with in-memory
// stores. Useful for reproducing a failure locally.
func runOnce(ctx context.Context, cfg *config.Config, eventFile string) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.New(level)

	raw, err := os.ReadFile(eventFile)
	if err != nil {
		return fmt.Errorf("read event file: %w", err)
	}
	var event types.PipelineEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("parse event file: %w", err)
	}
	if event.IdempotencyKey == "" {
		event.IdempotencyKey = types.BuildIdempotencyKey(event.Provider, event.Repo, event.PipelineID, event.JobID, event.Attempt)
	}

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		if pol, err = policy.Load(cfg.PolicyPath); err != nil {
			return err
		}
	}

	events := store.NewMemoryEventStore()
	runs := store.NewMemoryRunStore()
	orch := buildOrchestrator(ctx, cfg, pol, events, runs, log)

	stored, _, err := events.Insert(ctx, &event)
	if err != nil {
		return err
	}
	run, err := runs.GetOrCreate(ctx, stored.IdempotencyKey, stored.ID)
	if err != nil {
		return err
	}
	if err := orch.Execute(ctx, run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("run did not complete")
	}

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, pol *policy.SafetyPolicy, events store.EventStore, runs store.RunStore, log zerolog.Logger) *pipeline.Orchestrator {
	github := scm.NewGitHubClient(ctx, cfg.GitHubToken, log)
	cmdRunner := &runner.Default{}
	git := gitrepo.NewManager(cmdRunner, log)

	validator := sandbox.NewValidator(
		git,
		sandbox.NewDockerRuntime(cmdRunner, log),
		cmdRunner,
		[]sandbox.Scanner{
			sandbox.NewGitleaksScanner(cmdRunner, log),
			sandbox.NewTrivyScanner(cmdRunner, log),
		},
		sandbox.Config{
			TestTimeout: cfg.ValidationTimeout,
			MemoryLimit: cfg.SandboxMemory,
			CPULimit:    cfg.SandboxCPU,
			EnableSBOM:  cfg.EnableSBOM,
		},
		log,
	)

	return pipeline.New(pipeline.Deps{
		Events:     events,
		Runs:       runs,
		Contexts:   pipeline.NewContextBuilder(github, log),
		RCA:        analysis.NewEngine(nil, log),
		Registry:   adapters.DefaultRegistry(log),
		Planner:    buildPlanner(cfg, log),
		Policy:     policy.NewEngine(pol, log),
		Generator:  patch.NewGenerator(log),
		Git:        git,
		Validator:  validator,
		Consensus:  consensus.NewCoordinator(log),
		Guardrails: pipeline.NewGuardrails(pol),
		Redactor:   policy.NewRedactor(pol),
		PR:         github,
	}, pipeline.Config{}, log)
}

func buildStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.EventStore, store.RunStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no database configured, using in-memory stores")
		return store.NewMemoryEventStore(), store.NewMemoryRunStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return store.NewPostgresEventStore(pool), store.NewPostgresRunStore(pool), pool.Close, nil
}

func buildCoordinator(cfg *config.Config, log zerolog.Logger) governor.Coordinator {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("no redis configured, using in-process coordinator")
		return governor.NewMemoryCoordinator()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return governor.NewRedisCoordinator(client, log)
}

func buildPlanner(cfg *config.Config, log zerolog.Logger) plan.Planner {
	if cfg.OpenAIEndpoint == "" {
		log.Info().Msg("no llm endpoint configured, using the deterministic planner")
		return plan.NewRulePlanner(log)
	}
	client, err := ai.NewAzOpenAIClient(cfg.OpenAIEndpoint, cfg.OpenAIKey, cfg.OpenAIDeployment)
	if err != nil {
		log.Error().Err(err).Msg("llm client unavailable, falling back to the deterministic planner")
		return plan.NewRulePlanner(log)
	}
	return plan.NewLLMPlanner(client, log)
}
