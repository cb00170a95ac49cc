// Package engine runs the per-project reconciliation pass across the issue
// tracker, the kanban board, the local issue store, and the memory agent.
//
// Phase order within a project is fixed: discover, tracker to board, board
// to tracker, tracker to local, agent. Across projects a bounded worker
// pool applies; within a project the per-project mutex serializes all work.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syncforge/trisync/internal/board"
	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/huly"
	"github.com/syncforge/trisync/internal/localstore"
	"github.com/syncforge/trisync/internal/memblocks"
	"github.com/syncforge/trisync/internal/projmutex"
	"github.com/syncforge/trisync/internal/statusmap"
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/types"
)

// boardFooterPrefix back-links a board task to its tracker issue. The footer
// line is a bit-exact wire contract. altFooterPrefix is the legacy spelling,
// still honored on read.
const (
	boardFooterPrefix = "Huly Issue: "
	altFooterPrefix   = "Synced from Huly: "
)

// noSince requests a full (non-incremental) issue listing.
var noSince time.Time

// TrackerAPI is the tracker surface the engine consumes.
type TrackerAPI interface {
	ListProjects(ctx context.Context) ([]huly.Project, error)
	ListIssues(ctx context.Context, project string, since time.Time) ([]huly.Issue, error)
	UpdateIssueStatus(ctx context.Context, id, status string) error
}

// BoardAPI is the board surface the engine consumes.
type BoardAPI interface {
	ListProjects(ctx context.Context) ([]board.Project, error)
	CreateProject(ctx context.Context, p board.Project) (*board.Project, error)
	ListTasks(ctx context.Context, projectID int64) ([]board.Task, error)
	CreateTask(ctx context.Context, task board.Task) (*board.Task, error)
	UpdateTask(ctx context.Context, task board.Task) (*board.Task, error)
	DeleteTask(ctx context.Context, taskID int64) error
}

// LocalAPI is the local-store surface the engine consumes.
type LocalAPI interface {
	Available(path string) bool
	ListIssues(path string) ([]localstore.Issue, error)
	CreateIssue(ctx context.Context, path, project, identifier, title, description string) (string, error)
	UpdateStatus(ctx context.Context, path, project, localID, status string) error
	CloseIssue(ctx context.Context, path, project, localID string) error
}

// AgentAPI is the agent lifecycle surface the engine consumes.
type AgentAPI interface {
	EnsureAgent(ctx context.Context, p *types.Project) (string, error)
	UpsertBlocks(ctx context.Context, p *types.Project, agentID string, blocks map[string]string) error
	SyncTools(ctx context.Context, agentID string) error
	SyncDocs(ctx context.Context, p *types.Project, agentID string) error
	FinishRun()
}

// RunStats summarizes one completed sync run.
type RunStats struct {
	RunID             string
	ProjectsProcessed int
	ProjectsFailed    int
	IssuesSynced      int
	Errors            types.RunErrors
}

// Engine orchestrates reconciliation passes.
type Engine struct {
	store   *storage.Store
	tracker TrackerAPI
	board   BoardAPI
	local   LocalAPI
	agent   AgentAPI // nil disables phase 4
	mutexes *projmutex.Map
	flaps   *flapGuard
	log     *slog.Logger

	now func() time.Time

	historyMu sync.Mutex
	history   map[string][]memblocks.ChangeEntry // per-project transitions, process lifetime
}

// New creates an engine. agent may be nil when the platform is not
// configured.
func New(store *storage.Store, tracker TrackerAPI, b BoardAPI, local LocalAPI, agent AgentAPI, mutexes *projmutex.Map, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   store,
		tracker: tracker,
		board:   b,
		local:   local,
		agent:   agent,
		mutexes: mutexes,
		flaps:   newFlapGuard(),
		log:     log,
		now:     time.Now,
		history: make(map[string][]memblocks.ChangeEntry),
	}
}

// SyncAll runs one full sync over every project needing it. A single
// project failing is recorded and does not cancel the run.
func (e *Engine) SyncAll(ctx context.Context, cfg *config.Config) (*RunStats, error) {
	runID, err := e.store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}
	start := e.now()

	stats := &RunStats{RunID: runID, Errors: types.RunErrors{}}
	projects, err := e.discoverProjects(ctx, cfg)
	if err != nil {
		stats.Errors["_discover"] = err.Error()
		e.completeRun(ctx, runID, stats, start)
		return stats, err
	}

	workers := cfg.MaxWorkers
	if !cfg.SyncParallel || workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make(chan projectResult, len(projects))
	for _, p := range projects {
		p := p
		g.Go(func() error {
			synced, err := e.SyncProject(gctx, cfg, p)
			results <- projectResult{identifier: p.Identifier, synced: synced, err: err}
			return nil // project errors are collected, never group-fatal
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		stats.ProjectsProcessed++
		stats.IssuesSynced += r.synced
		if r.err != nil {
			stats.ProjectsFailed++
			stats.Errors[r.identifier] = r.err.Error()
			e.log.Error("project sync failed", "project", r.identifier, "error", r.err)
		}
	}

	e.flaps.rotate()
	if e.agent != nil {
		e.agent.FinishRun()
	}
	e.completeRun(ctx, runID, stats, start)
	return stats, nil
}

type projectResult struct {
	identifier string
	synced     int
	err        error
}

func (e *Engine) completeRun(ctx context.Context, runID string, stats *RunStats, start time.Time) {
	errs := stats.Errors
	if len(errs) == 0 {
		errs = nil
	}
	if err := e.store.CompleteRun(ctx, runID, stats.ProjectsProcessed,
		stats.ProjectsFailed, stats.IssuesSynced, errs, e.now().Sub(start)); err != nil {
		e.log.Error("could not complete sync run record", "run_id", runID, "error", err)
	}
}

// discoverProjects reconciles the tracker's project list into the state
// store and returns those due for a sync.
func (e *Engine) discoverProjects(ctx context.Context, cfg *config.Config) ([]*types.Project, error) {
	trackerProjects, err := e.tracker.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover projects: %w", err)
	}

	for _, tp := range trackerProjects {
		ident := strings.ToUpper(tp.Identifier)

		// A stored row carrying this tracker ID under another identifier
		// means the project was renamed; the old row is folded into the
		// new one so bindings survive.
		var renamedFrom string
		if prev, err := e.store.GetProjectByTrackerID(ctx, tp.ID); err == nil && prev.Identifier != ident {
			renamedFrom = prev.Identifier
		} else if err != nil && !storage.IsNotFound(err) {
			return nil, err
		}

		p := &types.Project{
			Identifier: ident,
			Name:       tp.Name,
			TrackerID:  tp.ID,
			State:      types.ProjectActive,
		}
		if cfg.StacksDir != "" {
			path := filepath.Join(cfg.StacksDir, strings.ToLower(tp.Identifier))
			if e.local != nil && e.local.Available(path) {
				p.FilesystemPath = path
			}
		}
		if err := e.store.UpsertProject(ctx, p); err != nil {
			return nil, err
		}
		if renamedFrom != "" {
			if err := e.store.MergeProjects(ctx, ident, renamedFrom); err != nil {
				return nil, fmt.Errorf("merge renamed project %s into %s: %w", renamedFrom, ident, err)
			}
			e.log.Info("merged renamed project", "from", renamedFrom, "to", ident)
		}
	}

	if !cfg.SkipEmptyProjects {
		return e.store.ListProjects(ctx)
	}
	return e.store.ProjectsNeedingSync(ctx, cfg.SyncInterval, cfg.EmptyProjectTTL)
}

// SyncProject runs one reconciliation pass for one project under its mutex.
// Returns the number of issues touched.
func (e *Engine) SyncProject(ctx context.Context, cfg *config.Config, p *types.Project) (int, error) {
	unlock := e.mutexes.Lock(p.Identifier)
	defer unlock()

	var since time.Time
	if cfg.IncrementalSync && p.LastSyncAt != nil {
		since = *p.LastSyncAt
	}
	trackerIssues, err := e.tracker.ListIssues(ctx, p.Identifier, since)
	if err != nil {
		return 0, fmt.Errorf("list tracker issues: %w", err)
	}

	// Upsert canonical rows before any propagation so bindings survive a
	// partial failure.
	for _, ti := range trackerIssues {
		modifiedAt := ti.ModifiedAt
		if err := e.store.UpsertIssue(ctx, &types.Issue{
			Identifier:        ti.Identifier,
			ProjectIdentifier: p.Identifier,
			Title:             ti.Title,
			Description:       ti.Description,
			Status:            statusmap.Canonical(ti.Status),
			Priority:          ti.Priority,
			TrackerID:         ti.ID,
			TrackerStatus:     statusmap.Canonical(ti.Status),
			TrackerModifiedAt: &modifiedAt,
		}); err != nil {
			return 0, err
		}
	}

	boardProject, err := e.ensureBoardProject(ctx, p)
	if err != nil {
		return 0, err
	}

	synced := 0
	// Only a full listing is authoritative for absence; an incremental
	// listing omits unchanged issues, so deletions wait for the next full
	// pass.
	if since.IsZero() {
		n, err := e.cascadeDeletions(ctx, cfg, p, trackerIssues)
		synced += n
		if err != nil {
			return synced, err
		}
	}

	var changes []memblocks.ChangeEntry
	n, err := e.syncBoard(ctx, cfg, p, boardProject, &changes)
	synced += n
	if err != nil {
		return synced, err
	}

	if e.local != nil && p.FilesystemPath != "" && e.local.Available(p.FilesystemPath) {
		n, err = e.syncLocal(ctx, cfg, p)
		synced += n
		if err != nil {
			return synced, err
		}
	}

	issues, err := e.store.ListIssues(ctx, p.Identifier, "")
	if err != nil {
		return synced, err
	}

	state := types.ProjectActive
	if len(trackerIssues) == 0 && len(issues) == 0 {
		state = types.ProjectEmpty
	}
	if err := e.store.TouchProjectSync(ctx, p.Identifier, len(issues), state); err != nil {
		return synced, err
	}

	if e.agent != nil {
		if err := e.syncAgent(ctx, p, boardProject, issues, e.recordChanges(p.Identifier, changes)); err != nil {
			// Agent phase failures never block issue propagation.
			e.log.Warn("agent phase failed", "project", p.Identifier, "error", err)
		}
	}
	return synced, nil
}

// cascadeDeletions removes state rows for issues the tracker no longer
// reports. Tracker deletion is authoritative: the bound board task is
// deleted and the local issue closed before the canonical row goes.
func (e *Engine) cascadeDeletions(ctx context.Context, cfg *config.Config, p *types.Project, trackerIssues []huly.Issue) (int, error) {
	present := make(map[string]bool, len(trackerIssues))
	for _, ti := range trackerIssues {
		present[ti.Identifier] = true
	}

	stored, err := e.store.ListIssues(ctx, p.Identifier, "")
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, issue := range stored {
		if present[issue.Identifier] {
			continue
		}
		if cfg.DryRun {
			e.log.Info("dry-run: would cascade tracker deletion",
				"issue", issue.Identifier)
			continue
		}
		if issue.BoardTaskID != 0 {
			if err := e.board.DeleteTask(ctx, issue.BoardTaskID); err != nil {
				e.log.Warn("could not delete board task for removed issue",
					"issue", issue.Identifier, "task_id", issue.BoardTaskID, "error", err)
			}
		}
		if issue.LocalStoreID != "" && e.local != nil && p.FilesystemPath != "" {
			if err := e.local.CloseIssue(ctx, p.FilesystemPath, p.Identifier, issue.LocalStoreID); err != nil {
				e.log.Warn("could not close local issue for removed issue",
					"issue", issue.Identifier, "local_id", issue.LocalStoreID, "error", err)
			}
		}
		if err := e.store.DeleteIssue(ctx, issue.Identifier); err != nil {
			return deleted, err
		}
		e.log.Info("tracker deletion cascaded",
			"issue", issue.Identifier, "project", p.Identifier)
		deleted++
	}
	return deleted, nil
}

// changeHistoryLimit caps retained transitions per project; the change_log
// block keeps fewer still.
const changeHistoryLimit = 200

// recordChanges folds this pass's transitions into the project's running
// history and returns the accumulated list.
func (e *Engine) recordChanges(identifier string, changes []memblocks.ChangeEntry) []memblocks.ChangeEntry {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	h := append(e.history[identifier], changes...)
	if len(h) > changeHistoryLimit {
		h = h[len(h)-changeHistoryLimit:]
	}
	e.history[identifier] = h
	out := make([]memblocks.ChangeEntry, len(h))
	copy(out, h)
	return out
}

// ensureBoardProject resolves the board project, creating it when absent.
func (e *Engine) ensureBoardProject(ctx context.Context, p *types.Project) (*board.Project, error) {
	if p.BoardID != 0 {
		return &board.Project{ID: p.BoardID, Title: p.Name, Identifier: p.Identifier}, nil
	}

	projects, err := e.board.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list board projects: %w", err)
	}
	for i := range projects {
		if strings.EqualFold(projects[i].Identifier, p.Identifier) ||
			strings.EqualFold(projects[i].Title, p.Name) {
			p.BoardID = projects[i].ID
			return &projects[i], e.store.UpsertProject(ctx, p)
		}
	}

	created, err := e.board.CreateProject(ctx, board.Project{
		Title:      p.Name,
		Identifier: p.Identifier,
		GitURL:     p.GitURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create board project: %w", err)
	}
	p.BoardID = created.ID
	return created, e.store.UpsertProject(ctx, p)
}

// syncBoard runs phases 1 and 2: create missing board tasks from tracker
// issues, bind existing tasks by footer or title, and resolve status
// divergence in both directions.
func (e *Engine) syncBoard(ctx context.Context, cfg *config.Config, p *types.Project, bp *board.Project, changes *[]memblocks.ChangeEntry) (int, error) {
	tasks, err := e.board.ListTasks(ctx, bp.ID)
	if err != nil {
		return 0, fmt.Errorf("list board tasks: %w", err)
	}

	tasksByID := make(map[int64]*board.Task, len(tasks))
	tasksByIdent := make(map[string]*board.Task)
	tasksByTitle := make(map[string]*board.Task)
	for i := range tasks {
		t := &tasks[i]
		tasksByID[t.ID] = t
		if ident := extractBoardIdentifier(t.Description); ident != "" {
			tasksByIdent[ident] = t
		}
		tasksByTitle[normalizeTitle(t.Title)] = t
	}

	issues, err := e.store.ListIssues(ctx, p.Identifier, "")
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, issue := range issues {
		task := tasksByID[issue.BoardTaskID]
		if task == nil {
			task = tasksByIdent[issue.Identifier]
		}
		if task == nil {
			task = tasksByTitle[normalizeTitle(issue.Title)]
		}

		if task == nil {
			n, err := e.createBoardTask(ctx, cfg, bp, issue)
			synced += n
			if err != nil {
				return synced, err
			}
			continue
		}

		if issue.BoardTaskID != task.ID {
			issue.BoardTaskID = task.ID
			if err := e.store.UpsertIssue(ctx, issue); err != nil {
				return synced, err
			}
		}

		n, err := e.reconcileStatus(ctx, cfg, issue, task, changes)
		synced += n
		if err != nil {
			e.log.Warn("status reconciliation failed",
				"issue", issue.Identifier, "error", err)
		}
	}
	return synced, nil
}

func (e *Engine) createBoardTask(ctx context.Context, cfg *config.Config, bp *board.Project, issue *types.Issue) (int, error) {
	desc := issue.Description
	if desc != "" {
		desc += "\n\n"
	}
	desc += boardFooterPrefix + issue.Identifier

	if cfg.DryRun {
		e.log.Info("dry-run: would create board task",
			"issue", issue.Identifier, "title", issue.Title)
		return 0, nil
	}

	created, err := e.board.CreateTask(ctx, board.Task{
		ProjectID:   bp.ID,
		Title:       issue.Title,
		Description: desc,
		Status:      string(statusmap.ToBoard(issue.Status)),
	})
	if err != nil {
		return 0, fmt.Errorf("create board task %s: %w", issue.Identifier, err)
	}

	issue.BoardTaskID = created.ID
	if err := e.store.UpsertIssue(ctx, issue); err != nil {
		return 0, err
	}
	updated := created.Updated
	if err := e.store.RecordObserved(ctx, issue.Identifier,
		issue.Status, issue.TrackerModifiedAt,
		types.BoardStatus(created.Status), &updated,
		"", nil); err != nil {
		return 0, err
	}
	e.log.Info("created board task",
		"issue", issue.Identifier, "task_id", created.ID)
	return 1, nil
}

// reconcileStatus resolves one diverging issue between tracker and board.
func (e *Engine) reconcileStatus(ctx context.Context, cfg *config.Config, issue *types.Issue, task *board.Task, changes *[]memblocks.ChangeEntry) (int, error) {
	obs := observation{
		trackerStatus: issue.Status,
		boardStatus:   types.BoardStatus(strings.ToLower(task.Status)),
	}
	if issue.TrackerModifiedAt != nil {
		obs.trackerModifiedAt = *issue.TrackerModifiedAt
	}
	obs.boardModifiedAt = task.Updated

	res := resolve(obs, e.now())
	if res.act == actionNone {
		return 0, nil
	}

	// The transition is expressed over canonical statuses: a board write
	// moves the entity from the board's mapped state, a tracker write from
	// the tracker's current state.
	from := issue.Status
	if res.act == actionWriteBoard {
		from = statusmap.ToTracker(obs.boardStatus)
	}
	if e.flaps.wouldFlap(issue.Identifier, from, res.status) {
		e.log.Warn("flap-suppressed",
			"issue", issue.Identifier, "from", from, "to", res.status)
		return 0, nil
	}

	if cfg.DryRun {
		e.log.Info("dry-run: would reconcile status",
			"issue", issue.Identifier, "action", res.reason, "to", res.status)
		return 0, nil
	}

	switch res.act {
	case actionWriteBoard:
		task.Status = string(statusmap.ToBoard(res.status))
		observed, err := e.board.UpdateTask(ctx, *task)
		if err != nil {
			return 0, err
		}
		observedAt := observed.Updated
		if err := e.store.RecordObserved(ctx, issue.Identifier,
			issue.Status, issue.TrackerModifiedAt,
			types.BoardStatus(observed.Status), &observedAt,
			"", nil); err != nil {
			return 0, err
		}

	case actionWriteTracker:
		if err := e.tracker.UpdateIssueStatus(ctx, issue.TrackerID, string(res.status)); err != nil {
			return 0, err
		}
		now := e.now()
		if err := e.store.RecordObserved(ctx, issue.Identifier,
			res.status, &now,
			obs.boardStatus, &obs.boardModifiedAt,
			"", nil); err != nil {
			return 0, err
		}
	}

	e.flaps.record(issue.Identifier, from, res.status)
	if changes != nil {
		*changes = append(*changes, memblocks.ChangeEntry{
			Identifier: issue.Identifier, From: from, To: res.status,
		})
	}
	e.log.Info("reconciled status",
		"issue", issue.Identifier, "from", from, "to", res.status, "reason", res.reason)
	return 1, nil
}

// syncLocal runs phase 3: tracker to local creation and bidirectional
// status propagation with the local store.
func (e *Engine) syncLocal(ctx context.Context, cfg *config.Config, p *types.Project) (int, error) {
	localIssues, err := e.local.ListIssues(p.FilesystemPath)
	if err != nil {
		return 0, err
	}
	localByIdent := make(map[string]*localstore.Issue)
	localByID := make(map[string]*localstore.Issue, len(localIssues))
	for i := range localIssues {
		li := &localIssues[i]
		localByID[li.ID] = li
		if ident := localstore.ExtractIdentifier(li.Description); ident != "" {
			localByIdent[ident] = li
		}
	}

	issues, err := e.store.ListIssues(ctx, p.Identifier, "")
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, issue := range issues {
		local := localByID[issue.LocalStoreID]
		if local == nil {
			local = localByIdent[issue.Identifier]
		}

		if local == nil {
			if issue.Status == types.StatusDone || issue.Status == types.StatusCancelled {
				continue // closed issues are not back-filled locally
			}
			localID, err := e.local.CreateIssue(ctx, p.FilesystemPath, p.Identifier,
				issue.Identifier, issue.Title, issue.Description)
			if err != nil {
				e.log.Warn("local create failed", "issue", issue.Identifier, "error", err)
				continue
			}
			if localID != "" {
				issue.LocalStoreID = localID
				if err := e.store.UpsertIssue(ctx, issue); err != nil {
					return synced, err
				}
				synced++
			}
			continue
		}

		if issue.LocalStoreID != local.ID {
			issue.LocalStoreID = local.ID
			if err := e.store.UpsertIssue(ctx, issue); err != nil {
				return synced, err
			}
		}

		n, err := e.reconcileLocal(ctx, p, issue, local)
		synced += n
		if err != nil {
			e.log.Warn("local reconciliation failed",
				"issue", issue.Identifier, "error", err)
		}
	}
	return synced, nil
}

// reconcileLocal propagates status between the canonical row and one local
// issue. Closures propagate in both directions; otherwise the tracker wins.
func (e *Engine) reconcileLocal(ctx context.Context, p *types.Project, issue *types.Issue, local *localstore.Issue) (int, error) {
	want := localStatusFor(issue.Status)
	if local.Status == want {
		return 0, nil
	}

	// Local closure propagates up when the tracker still shows the issue
	// open; everything else flows tracker -> local.
	if local.Status == localstore.StatusClosed &&
		issue.Status != types.StatusDone && issue.Status != types.StatusCancelled {
		if err := e.tracker.UpdateIssueStatus(ctx, issue.TrackerID, string(types.StatusDone)); err != nil {
			return 0, err
		}
		now := e.now()
		if err := e.store.RecordObserved(ctx, issue.Identifier,
			types.StatusDone, &now, "", nil,
			local.Status, &local.UpdatedAt); err != nil {
			return 0, err
		}
		return 1, nil
	}

	var err error
	if want == localstore.StatusClosed {
		err = e.local.CloseIssue(ctx, p.FilesystemPath, p.Identifier, local.ID)
	} else {
		err = e.local.UpdateStatus(ctx, p.FilesystemPath, p.Identifier, local.ID, want)
	}
	if err != nil {
		return 0, err
	}
	now := e.now()
	if err := e.store.RecordObserved(ctx, issue.Identifier,
		"", nil, "", nil, want, &now); err != nil {
		return 0, err
	}
	return 1, nil
}

// syncAgent runs phase 4: ensure the agent, upsert memory blocks, sync
// tools, and upload docs.
func (e *Engine) syncAgent(ctx context.Context, p *types.Project, bp *board.Project, issues []*types.Issue, changes []memblocks.ChangeEntry) error {
	agentID, err := e.agent.EnsureAgent(ctx, p)
	if err != nil {
		return err
	}

	deref := make([]types.Issue, len(issues))
	for i, issue := range issues {
		deref[i] = *issue
	}
	p.IssueCount = len(issues)

	blocks := map[string]string{
		memblocks.LabelProject:        memblocks.Project(*p),
		memblocks.LabelBoardConfig:    memblocks.BoardConfig(bp.ID, p.Identifier),
		memblocks.LabelBoardMetrics:   memblocks.BoardMetrics(deref),
		memblocks.LabelHotspots:       memblocks.Hotspots(hotspotsFor(deref)),
		memblocks.LabelBacklogSummary: memblocks.BacklogSummary(deref),
	}
	// Omitting change_log on quiet cycles leaves the block untouched, so
	// idle runs cannot churn its content hash.
	if len(changes) > 0 {
		blocks[memblocks.LabelChangeLog] = memblocks.ChangeLog(changes)
	}
	if err := e.agent.UpsertBlocks(ctx, p, agentID, blocks); err != nil {
		return err
	}
	if err := e.agent.SyncTools(ctx, agentID); err != nil {
		return err
	}
	return e.agent.SyncDocs(ctx, p, agentID)
}

// hotspotsFor clusters issues by conventional "area: summary" title prefixes.
// Only areas with two or more issues qualify. Deriving purely from issue
// titles keeps the block deterministic, so hash suppression holds across
// idle cycles.
func hotspotsFor(issues []types.Issue) []memblocks.Hotspot {
	byArea := map[string][]string{}
	for _, issue := range issues {
		area, _, ok := strings.Cut(issue.Title, ":")
		if !ok {
			continue
		}
		area = strings.ToLower(strings.TrimSpace(area))
		if area == "" || strings.ContainsAny(area, " \t") {
			continue
		}
		byArea[area] = append(byArea[area], issue.Identifier)
	}

	var spots []memblocks.Hotspot
	for area, idents := range byArea {
		if len(idents) < 2 {
			continue
		}
		spots = append(spots, memblocks.Hotspot{Area: area, Issues: idents})
	}
	return spots
}

// extractBoardIdentifier pulls the tracker identifier out of a board task
// description footer.
func extractBoardIdentifier(description string) string {
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, boardFooterPrefix); ok {
			return strings.TrimSpace(rest)
		}
		if rest, ok := strings.CutPrefix(line, altFooterPrefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// localStatusFor maps a canonical tracker status onto the local store's
// three-state model.
func localStatusFor(s types.TrackerStatus) string {
	switch s {
	case types.StatusInProgress, types.StatusInReview:
		return localstore.StatusInProgress
	case types.StatusDone, types.StatusCancelled:
		return localstore.StatusClosed
	default:
		return localstore.StatusOpen
	}
}
