package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
	"github.com/mohammad-safakhou/replanner/internal/agent/llm"
	"github.com/mohammad-safakhou/replanner/internal/agent/telemetry"
	"github.com/mohammad-safakhou/replanner/internal/capability"
	"github.com/mohammad-safakhou/replanner/internal/session"
	"github.com/mohammad-safakhou/replanner/internal/store"
	"github.com/mohammad-safakhou/replanner/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Agent bundles the wired orchestration loop and its backing services.
type Agent struct {
	Config       *config.Config
	Catalogue    *capability.Catalogue
	Telemetry    *telemetry.Telemetry
	Orchestrator *core.Orchestrator
	Conversation *session.Conversation
	Store        *store.Store  // nil when postgres is not configured
	Redis        *redis.Client // nil when redis is not configured

	closers []func() error
}

// AgentOptions overrides parts of the wiring, mostly for tests.
type AgentOptions struct {
	LLM        core.LLMProvider
	Registerer prometheus.Registerer
	Store      *store.Store
	Redis      *redis.Client
	// SkipStorage keeps the agent in memory even when storage is configured.
	SkipStorage bool
}

// BuildAgent wires provider, catalogue, dispatcher, planner, step executor
// and orchestrator from configuration.
func BuildAgent(ctx context.Context, cfg *config.Config, opts AgentOptions) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	a := &Agent{Config: cfg, Store: opts.Store, Redis: opts.Redis}
	fail := func(err error) (*Agent, error) {
		_ = a.Close()
		return nil, err
	}

	model := opts.LLM
	if model == nil {
		p, err := llm.NewLLMProvider(cfg.LLM)
		if err != nil {
			return fail(fmt.Errorf("llm provider: %w", err))
		}
		model = p
	}

	cat, closeTools, err := tools.NewCatalogue(cfg.Tools, log.New(log.Writer(), "[TOOLS] ", log.LstdFlags))
	if err != nil {
		return fail(fmt.Errorf("tool catalogue: %w", err))
	}
	a.Catalogue = cat
	a.closers = append(a.closers, closeTools)

	if !opts.SkipStorage {
		if a.Store == nil && cfg.Storage.Postgres.Enabled() {
			st, err := OpenStore(ctx, cfg)
			if err != nil {
				return fail(err)
			}
			a.Store = st
			a.closers = append(a.closers, st.Close)
		}
		if a.Redis == nil && cfg.Storage.Redis.Enabled() {
			rdb, err := OpenRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return fail(err)
			}
			a.Redis = rdb
			a.closers = append(a.closers, rdb.Close)
		}
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a.Telemetry = telemetry.NewTelemetry(cfg.Telemetry, reg)

	agents := cfg.Agents.Normalize()
	dispatcher := core.NewDispatcher(cat, agents.ToolTimeout, a.Telemetry, log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags))
	planner := core.NewPlanner(model, cat, agents.PlannerTimeout, a.Telemetry, log.New(log.Writer(), "[PLANNER] ", log.LstdFlags))
	executor := core.NewStepExecutor(dispatcher, model, agents.StepTimeout, a.Telemetry, log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags))

	orchOpts := core.OrchestratorOptions{
		MaxSteps:   agents.MaxSteps,
		MaxReplans: agents.MaxReplans,
		Telemetry:  a.Telemetry,
		Logger:     log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
	if a.Store != nil {
		orchOpts.Recorder = a.Store
	}
	orch, err := core.NewOrchestrator(planner, executor, orchOpts)
	if err != nil {
		return fail(err)
	}
	a.Orchestrator = orch
	a.Conversation = session.NewConversation(a.history(), orch)
	return a, nil
}

func (a *Agent) history() session.History {
	s := a.Config.Session
	if s.Backend == "redis" && a.Redis != nil {
		return session.NewRedisHistory(a.Redis, s.MaxMessages, s.TTL)
	}
	if s.Backend == "redis" {
		log.Printf("[ORCH] session.backend=redis but storage.redis is not configured; using memory")
	}
	return session.NewMemoryHistory(s.MaxMessages)
}

// Close releases resources in reverse order of acquisition.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.Telemetry.Shutdown()
	return errors.Join(errs...)
}

// OpenStore connects to Postgres and optionally runs migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	pingCtx := ctx
	if t := cfg.Storage.Postgres.Timeout; t > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	st, err := store.NewWithDSN(pingCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return st, nil
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr(), Password: rc.Password, DB: rc.DB})
	pingCtx := ctx
	if rc.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rdb, nil
}
