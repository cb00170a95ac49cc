package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/syncforge/trisync/internal/agentmgr"
	"github.com/syncforge/trisync/internal/board"
	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/controller"
	"github.com/syncforge/trisync/internal/engine"
	"github.com/syncforge/trisync/internal/events"
	"github.com/syncforge/trisync/internal/httpx"
	"github.com/syncforge/trisync/internal/huly"
	"github.com/syncforge/trisync/internal/letta"
	"github.com/syncforge/trisync/internal/localstore"
	"github.com/syncforge/trisync/internal/lockfile"
	"github.com/syncforge/trisync/internal/metrics"
	"github.com/syncforge/trisync/internal/projmutex"
	"github.com/syncforge/trisync/internal/scheduler"
	"github.com/syncforge/trisync/internal/server"
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/telemetry"
	"github.com/syncforge/trisync/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if err := telemetry.Init(ctx, "trisync", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	// Single-writer guard. A second instance against the same state
	// directory must fail here, before any source is touched.
	lock, err := lockfile.Acquire(lockfile.PathFor(cfg.StateDBPath))
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := storage.Open(ctx, cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	m := metrics.New()

	pool := httpx.NewPool(cfg.HTTPTimeout, log)
	pool.SetDelay(cfg.APIDelay)
	pool.SetObserver(func(url string, elapsed time.Duration) {
		m.APILatency.WithLabelValues(apiTarget(cfg, url)).Observe(elapsed.Seconds())
	})
	tracker := huly.NewClient(cfg.TrackerAPIURL, cfg.TrackerToken, pool)
	boardClient := board.NewClient(cfg.BoardAPIURL, cfg.BoardToken, pool)

	if err := boardClient.HealthCheck(ctx); err != nil {
		// Not fatal: the board may come up after us; the first sync run
		// will surface a hard failure if it stays down.
		log.Warn("board health check failed at startup", "error", err)
	}

	mutexes := projmutex.New()
	local := localstore.New("bd", log, cfg.DryRun)

	mgr := buildAgentManager(ctx, cfg, store, pool, log)
	var agent engine.AgentAPI
	if mgr != nil {
		mgr.SetBlockWriteObserver(func(outcome string) {
			m.BlockWritesTotal.WithLabelValues(outcome).Inc()
		})
		agent = mgr
	}

	eng := engine.New(store, tracker, boardClient, local, agent, mutexes, log)

	cfgWatcher := config.NewWatcher(cfg)
	ctrl := controller.New(&instrumentedRunner{eng: eng, m: m}, cfgWatcher, log)
	defer ctrl.Shutdown()

	bus := events.NewBus(log)
	bus.Register(events.NewSyncTriggerHandler(ctrl, log))
	if mgr != nil {
		bus.Register(events.NewDocUploadHandler(&agentDocs{store: store, mgr: mgr}, log))
	}

	fsw, err := watcher.New(bus, cfg.WatchDebounce, log)
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}
	watchKnownProjects(ctx, store, fsw, log)
	go func() { _ = fsw.Run(ctx) }()

	sched := scheduler.New(ctrl, &instrumentedReconciler{eng: eng, m: m}, cfgWatcher, log)
	go func() { _ = sched.Run(ctx) }()

	go subscribeBoardEvents(ctx, boardClient, bus, sched, m, log)

	srv := server.New(ctrl, store, cfgWatcher, bus, m.Handler(), log)
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(addr) }()
	log.Info("trisync started", "version", Version, "addr", addr,
		"state_db", cfg.StateDBPath, "agent_platform", mgr != nil)

	// Kick an initial pass so a fresh deployment converges immediately.
	if err := ctrl.TriggerSync("startup"); err != nil {
		log.Debug("startup trigger not accepted", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildAgentManager wires the agent platform when configured. A platform
// that fails the query-filter self-check is treated as absent for the whole
// process lifetime: agent dedupe deletes duplicates, and deleting against a
// server that ignores name/tag filters would destroy unrelated agents.
func buildAgentManager(ctx context.Context, cfg *config.Config, store *storage.Store, pool *httpx.Pool, log *slog.Logger) *agentmgr.Manager {
	if cfg.AgentBaseURL == "" {
		log.Info("agent platform not configured; memory agent sync disabled")
		return nil
	}

	client := letta.NewClient(cfg.AgentBaseURL, cfg.AgentAPIKey, pool)
	if err := client.VerifyQueryFiltering(ctx); err != nil {
		log.Error("agent platform failed query-filter verification; memory agent sync disabled",
			"error", err)
		return nil
	}

	return agentmgr.New(client, store, agentmgr.Options{
		NamePrefix:     cfg.AgentNamePrefix,
		Model:          cfg.AgentModel,
		Embedding:      cfg.AgentEmbedding,
		ControlName:    cfg.AgentControlName,
		SyncTools:      cfg.AgentSyncTools,
		SyncToolsForce: cfg.AgentSyncToolsForce,
		AttachRepoDocs: cfg.AgentAttachRepoDocs,
		ToolCacheTTL:   cfg.SyncInterval,
	}, log)
}

// watchKnownProjects registers filesystem watches for every project already
// bound to a local path. Projects discovered later are picked up on the next
// restart; their tracker and board sides sync regardless.
func watchKnownProjects(ctx context.Context, store *storage.Store, fsw *watcher.Watcher, log *slog.Logger) {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		log.Warn("listing projects for file watch", "error", err)
		return
	}
	for _, p := range projects {
		if p.FilesystemPath == "" {
			continue
		}
		if err := fsw.WatchProject(p.Identifier, p.FilesystemPath); err != nil {
			log.Warn("watching project path", "project", p.Identifier, "error", err)
		}
	}
}

// subscribeBoardEvents maintains the board SSE subscription. While the
// stream is up, periodic polling pauses; when it drops, polling resumes and
// the subscription retries with backoff.
func subscribeBoardEvents(ctx context.Context, client *board.Client, bus *events.Bus, sched *scheduler.Scheduler, m *metrics.Metrics, log *slog.Logger) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Second
	retry.MaxInterval = 5 * time.Minute
	retry.MaxElapsedTime = 0 // retry forever

	for {
		ch, err := client.Subscribe(ctx, log)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			log.Warn("board event stream unavailable", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		retry.Reset()
		sched.SetSubscriptionLive(true)
		for ev := range ch {
			m.EventsTotal.WithLabelValues(string(events.BoardTaskEvent)).Inc()
			_ = bus.Dispatch(ctx, &events.Event{
				Type:   events.BoardTaskEvent,
				Source: "board-sse:" + ev.Type,
			})
		}
		sched.SetSubscriptionLive(false)

		if ctx.Err() != nil {
			return
		}
	}
}
