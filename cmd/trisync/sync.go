package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncforge/trisync/internal/board"
	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/engine"
	"github.com/syncforge/trisync/internal/httpx"
	"github.com/syncforge/trisync/internal/huly"
	"github.com/syncforge/trisync/internal/localstore"
	"github.com/syncforge/trisync/internal/lockfile"
	"github.com/syncforge/trisync/internal/projmutex"
	"github.com/syncforge/trisync/internal/storage"
)

var (
	syncDryRun    bool
	syncReconcile bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context())
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "log intended writes without performing them")
	syncCmd.Flags().BoolVar(&syncReconcile, "reconcile", false, "run the exhaustive divergence pass instead of a sync")
}

func runSync(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if syncDryRun {
		cfg.DryRun = true
	}
	log := newLogger(cfg)

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

	pool := httpx.NewPool(cfg.HTTPTimeout, log)
	pool.SetDelay(cfg.APIDelay)
	tracker := huly.NewClient(cfg.TrackerAPIURL, cfg.TrackerToken, pool)
	boardClient := board.NewClient(cfg.BoardAPIURL, cfg.BoardToken, pool)

	mutexes := projmutex.New()
	local := localstore.New("bd", log, cfg.DryRun)

	mgr := buildAgentManager(ctx, cfg, store, pool, log)
	var agent engine.AgentAPI
	if mgr != nil {
		agent = mgr
	}

	eng := engine.New(store, tracker, boardClient, local, agent, mutexes, log)

	if syncReconcile {
		divs, err := eng.Reconcile(ctx, cfg)
		if err != nil {
			return err
		}
		if len(divs) == 0 {
			fmt.Println("no divergences")
			return nil
		}
		for _, d := range divs {
			fmt.Printf("%-12s %s\n", d.Identifier, d.Detail)
		}
		return fmt.Errorf("%d divergence(s) found", len(divs))
	}

	stats, err := eng.SyncAll(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("synced %d project(s), %d issue write(s), %d failure(s)\n",
		stats.ProjectsProcessed, stats.IssuesSynced, stats.ProjectsFailed)
	if stats.ProjectsFailed > 0 {
		return fmt.Errorf("%d project(s) failed", stats.ProjectsFailed)
	}
	return nil
}
