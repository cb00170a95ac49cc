// Package config loads the enumerated option set from the environment and
// publishes immutable snapshots that live-update without a restart.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults for timers and bounds. All durations are overridable through the
// environment; the HTTP control endpoint can adjust SYNC_INTERVAL and
// MAX_WORKERS at runtime.
const (
	DefaultSyncInterval      = 30 * time.Second
	DefaultReconcileInterval = time.Hour
	DefaultHTTPTimeout       = 60 * time.Second
	DefaultRunTimeout        = 900 * time.Second
	DefaultTriggerDebounce   = 500 * time.Millisecond
	DefaultWatchDebounce     = 2 * time.Second
	DefaultMaxWorkers        = 5
	DefaultHealthPort        = 8787
	DefaultEmptyProjectTTL   = time.Hour
)

// Config is one immutable snapshot of the full option set. Components never
// hold a *Config across sync runs; they read the current snapshot from a
// Watcher at the start of each run.
type Config struct {
	// Issue tracker.
	TrackerAPIURL  string
	TrackerUseREST bool
	TrackerToken   string

	// Kanban board.
	BoardAPIURL  string
	BoardUseREST bool
	BoardToken   string

	// Sync engine.
	SyncInterval      time.Duration // 0 disables periodic sync
	ReconcileInterval time.Duration
	SyncParallel      bool
	MaxWorkers        int
	SkipEmptyProjects bool
	IncrementalSync   bool
	APIDelay          time.Duration
	DryRun            bool

	// Agent platform.
	AgentBaseURL          string
	AgentAPIKey           string
	AgentModel            string
	AgentEmbedding        string
	AgentSyncTools        bool
	AgentSyncToolsForce   bool
	AgentControlName      string
	AgentAttachRepoDocs   bool
	AgentNamePrefix       string

	// Deployment.
	StacksDir     string
	HealthPort    int
	StateDBPath   string
	WebhookSecret string
	LogFile       string

	// Derived timeouts (not env-tunable individually beyond the above).
	HTTPTimeout     time.Duration
	RunTimeout      time.Duration
	TriggerDebounce time.Duration
	WatchDebounce   time.Duration
	EmptyProjectTTL time.Duration
}

// Load reads the option set from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("TRACKER_USE_REST", true)
	v.SetDefault("BOARD_USE_REST", true)
	v.SetDefault("SYNC_INTERVAL", int(DefaultSyncInterval/time.Millisecond))
	v.SetDefault("RECONCILE_INTERVAL", int(DefaultReconcileInterval/time.Millisecond))
	v.SetDefault("SYNC_PARALLEL", true)
	v.SetDefault("MAX_WORKERS", DefaultMaxWorkers)
	v.SetDefault("SKIP_EMPTY_PROJECTS", true)
	v.SetDefault("INCREMENTAL_SYNC", true)
	v.SetDefault("API_DELAY", 0)
	v.SetDefault("DRY_RUN", false)
	v.SetDefault("AGENT_SYNC_TOOLS_FROM_CONTROL", false)
	v.SetDefault("AGENT_SYNC_TOOLS_FORCE", false)
	v.SetDefault("AGENT_CONTROL_NAME", "Sync-Control")
	v.SetDefault("AGENT_ATTACH_REPO_DOCS", true)
	v.SetDefault("AGENT_NAME_PREFIX", "Sync")
	v.SetDefault("HEALTH_PORT", DefaultHealthPort)
	v.SetDefault("STATE_DB_PATH", "logs/sync-state.db")
	v.SetDefault("HTTP_TIMEOUT", int(DefaultHTTPTimeout/time.Millisecond))
	v.SetDefault("RUN_TIMEOUT", int(DefaultRunTimeout/time.Millisecond))

	cfg := &Config{
		TrackerAPIURL:  v.GetString("TRACKER_API_URL"),
		TrackerUseREST: v.GetBool("TRACKER_USE_REST"),
		TrackerToken:   v.GetString("TRACKER_API_TOKEN"),

		BoardAPIURL:  v.GetString("BOARD_API_URL"),
		BoardUseREST: v.GetBool("BOARD_USE_REST"),
		BoardToken:   v.GetString("BOARD_API_TOKEN"),

		SyncInterval:      time.Duration(v.GetInt("SYNC_INTERVAL")) * time.Millisecond,
		ReconcileInterval: time.Duration(v.GetInt("RECONCILE_INTERVAL")) * time.Millisecond,
		SyncParallel:      v.GetBool("SYNC_PARALLEL"),
		MaxWorkers:        v.GetInt("MAX_WORKERS"),
		SkipEmptyProjects: v.GetBool("SKIP_EMPTY_PROJECTS"),
		IncrementalSync:   v.GetBool("INCREMENTAL_SYNC"),
		APIDelay:          time.Duration(v.GetInt("API_DELAY")) * time.Millisecond,
		DryRun:            v.GetBool("DRY_RUN"),

		AgentBaseURL:        v.GetString("AGENT_BASE_URL"),
		AgentAPIKey:         v.GetString("AGENT_API_KEY"),
		AgentModel:          v.GetString("AGENT_MODEL"),
		AgentEmbedding:      v.GetString("AGENT_EMBEDDING"),
		AgentSyncTools:      v.GetBool("AGENT_SYNC_TOOLS_FROM_CONTROL"),
		AgentSyncToolsForce: v.GetBool("AGENT_SYNC_TOOLS_FORCE"),
		AgentControlName:    v.GetString("AGENT_CONTROL_NAME"),
		AgentAttachRepoDocs: v.GetBool("AGENT_ATTACH_REPO_DOCS"),
		AgentNamePrefix:     v.GetString("AGENT_NAME_PREFIX"),

		StacksDir:     v.GetString("STACKS_DIR"),
		HealthPort:    v.GetInt("HEALTH_PORT"),
		StateDBPath:   v.GetString("STATE_DB_PATH"),
		WebhookSecret: v.GetString("WEBHOOK_SECRET"),
		LogFile:       v.GetString("LOG_FILE"),

		HTTPTimeout:     time.Duration(v.GetInt("HTTP_TIMEOUT")) * time.Millisecond,
		RunTimeout:      time.Duration(v.GetInt("RUN_TIMEOUT")) * time.Millisecond,
		TriggerDebounce: DefaultTriggerDebounce,
		WatchDebounce:   DefaultWatchDebounce,
		EmptyProjectTTL: DefaultEmptyProjectTTL,
	}

	return cfg, cfg.Validate()
}

// Validate checks the bounds that are fatal when violated.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > 50 {
		return fmt.Errorf("config: MAX_WORKERS must be in 1..50, got %d", c.MaxWorkers)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("config: SYNC_INTERVAL must be >= 0")
	}
	return nil
}

// LiveUpdate is the subset of options adjustable through POST /config.
type LiveUpdate struct {
	SyncInterval      *int  `json:"sync_interval_ms,omitempty"`
	MaxWorkers        *int  `json:"max_workers,omitempty"`
	SyncParallel      *bool `json:"sync_parallel,omitempty"`
	SkipEmptyProjects *bool `json:"skip_empty_projects,omitempty"`
	IncrementalSync   *bool `json:"incremental_sync,omitempty"`
	DryRun            *bool `json:"dry_run,omitempty"`
}

// Apply returns a new snapshot with the update applied. The receiver is not
// modified.
func (c *Config) Apply(u LiveUpdate) (*Config, error) {
	next := *c
	if u.SyncInterval != nil {
		next.SyncInterval = time.Duration(*u.SyncInterval) * time.Millisecond
	}
	if u.MaxWorkers != nil {
		next.MaxWorkers = *u.MaxWorkers
	}
	if u.SyncParallel != nil {
		next.SyncParallel = *u.SyncParallel
	}
	if u.SkipEmptyProjects != nil {
		next.SkipEmptyProjects = *u.SkipEmptyProjects
	}
	if u.IncrementalSync != nil {
		next.IncrementalSync = *u.IncrementalSync
	}
	if u.DryRun != nil {
		next.DryRun = *u.DryRun
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}
