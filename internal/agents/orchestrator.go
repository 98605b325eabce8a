package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"appforge/internal/logging"
	"appforge/internal/metrics"
	"appforge/pkg/models"
)

// Orchestrator walks the step pipeline for each build, merges step deltas
// into the build context, persists progress, and streams events to
// subscribers.
type Orchestrator struct {
	router  AIGenerator
	planner *PlannerAgent
	agents  []StepAgent
	db      *gorm.DB

	builds  map[string]*Build
	cancels map[string]context.CancelFunc
	mu      sync.RWMutex

	subscribers map[string][]chan *WSMessage
	subMu       sync.RWMutex

	// invalidate is called with the project ID after a build rewrites its
	// files, so stale preview cache entries are dropped immediately.
	invalidate func(ctx context.Context, projectID uint)

	// retention bounds how long a finished build stays in memory before
	// reads fall back to the persisted record.
	retention time.Duration
}

// NewOrchestrator creates an orchestrator. db may be nil in tests; builds
// then live only in memory.
func NewOrchestrator(router AIGenerator, db *gorm.DB) *Orchestrator {
	return &Orchestrator{
		router:      router,
		planner:     NewPlannerAgent(),
		agents:      NewStepAgents(),
		db:          db,
		builds:      make(map[string]*Build),
		cancels:     make(map[string]context.CancelFunc),
		subscribers: make(map[string][]chan *WSMessage),
		retention:   5 * time.Minute,
	}
}

// SetPreviewInvalidator registers the hook that drops cached preview
// content for a project once a build has rewritten its files.
func (o *Orchestrator) SetPreviewInvalidator(fn func(ctx context.Context, projectID uint)) {
	o.invalidate = fn
}

// StartBuild creates a build and runs the pipeline in the background.
func (o *Orchestrator) StartBuild(userID uint, req *BuildRequest) (*Build, error) {
	if req.Description == "" {
		return nil, fmt.Errorf("description is required")
	}

	build := &Build{
		ID:          uuid.New().String(),
		UserID:      userID,
		ProjectID:   req.ProjectID,
		Status:      BuildPending,
		Description: req.Description,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	for _, step := range Pipeline {
		build.Steps = append(build.Steps, &StepRecord{Step: step, Status: StepPending})
	}

	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.builds[build.ID] = build
	o.cancels[build.ID] = cancel
	o.mu.Unlock()

	o.persist(build)

	go o.runBuild(ctx, build, req.Framework)

	return build, nil
}

// GetBuild returns a build by ID.
func (o *Orchestrator) GetBuild(buildID string) (*Build, error) {
	o.mu.RLock()
	build, ok := o.builds[buildID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("build %s not found", buildID)
	}
	return build, nil
}

// CancelBuild stops a running build.
func (o *Orchestrator) CancelBuild(buildID string, userID uint) error {
	build, err := o.GetBuild(buildID)
	if err != nil {
		return err
	}
	if build.UserID != userID {
		return fmt.Errorf("not authorized for build %s", buildID)
	}

	build.mu.Lock()
	running := build.Status == BuildPending || build.Status == BuildPlanning || build.Status == BuildRunning
	build.mu.Unlock()
	if !running {
		return fmt.Errorf("build %s is not running", buildID)
	}

	o.mu.Lock()
	cancel := o.cancels[buildID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ListBuilds returns persisted builds for a user, newest first.
func (o *Orchestrator) ListBuilds(userID uint, limit int) ([]models.BuildRecord, error) {
	if o.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var records []models.BuildRecord
	err := o.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// runBuild executes the pipeline for one build.
func (o *Orchestrator) runBuild(ctx context.Context, build *Build, framework string) {
	m := metrics.Get()
	m.BuildsInFlight.Inc()
	defer func() {
		m.BuildsInFlight.Dec()
		o.mu.Lock()
		delete(o.cancels, build.ID)
		o.mu.Unlock()
	}()

	o.publish(build.ID, &WSMessage{
		Type:      WSBuildStarted,
		BuildID:   build.ID,
		Timestamp: time.Now(),
		Data:      map[string]any{"description": build.Description},
	})

	// Plan
	o.setStatus(build, BuildPlanning, "")
	plan, err := o.planner.Plan(ctx, o.router, build.Description, framework)
	if err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(build)
			return
		}
		logging.L().Warn("planner failed, using default plan",
			zap.String("build_id", build.ID),
			zap.Error(err))
		plan = o.planner.DefaultPlan(build.Description, framework)
	}

	build.mu.Lock()
	build.Plan = plan
	build.Context = NewBuildContext(plan.AppName, build.Description, plan.Framework)
	build.mu.Unlock()
	o.persist(build)

	o.publish(build.ID, &WSMessage{
		Type:      WSPlanReady,
		BuildID:   build.ID,
		Timestamp: time.Now(),
		Data:      plan,
	})

	// Steps
	o.setStatus(build, BuildRunning, "")
	for i, agent := range o.agents {
		if ctx.Err() != nil {
			o.finishCancelled(build)
			return
		}

		record := build.Steps[i]
		o.startStep(build, record)

		delta, err := agent.Run(ctx, o.router, plan, build.Context)
		if err != nil {
			if ctx.Err() != nil {
				o.finishCancelled(build)
				return
			}
			// Degrade: canned delta, pipeline continues.
			logging.L().Warn("step degraded",
				zap.String("build_id", build.ID),
				zap.String("step", string(agent.Step())),
				zap.Error(err))
			delta = agent.Fallback(plan, build.Context)
			o.completeStep(build, record, delta, StepDegraded, err)
		} else {
			o.completeStep(build, record, delta, StepCompleted, nil)
		}

		build.Context.Merge(delta)
		for _, f := range delta.Files {
			o.publish(build.ID, &WSMessage{
				Type:      WSFileCreated,
				BuildID:   build.ID,
				Step:      agent.Step(),
				Timestamp: time.Now(),
				Data:      map[string]any{"path": f.Path, "size": len(f.Content)},
			})
		}

		o.setProgress(build, (i+1)*100/len(o.agents))
		o.persist(build)
	}

	o.saveFiles(build)
	o.finish(build, BuildCompleted, "")
}

func (o *Orchestrator) startStep(build *Build, record *StepRecord) {
	now := time.Now()

	build.mu.Lock()
	record.Status = StepRunning
	record.StartedAt = &now
	build.CurrentStep = record.Step
	build.UpdatedAt = now
	build.mu.Unlock()

	o.publish(build.ID, &WSMessage{
		Type:      WSStepStarted,
		BuildID:   build.ID,
		Step:      record.Step,
		Timestamp: now,
	})
}

func (o *Orchestrator) completeStep(build *Build, record *StepRecord, delta *StepDelta, status StepStatus, cause error) {
	now := time.Now()

	build.mu.Lock()
	record.Status = status
	record.Summary = delta.Summary
	record.CompletedAt = &now
	if cause != nil {
		record.Error = cause.Error()
	}
	build.UpdatedAt = now
	build.mu.Unlock()

	if record.StartedAt != nil {
		metrics.Get().BuildStepDuration.
			WithLabelValues(string(record.Step)).
			Observe(now.Sub(*record.StartedAt).Seconds())
	}

	msgType := WSStepCompleted
	if status == StepDegraded {
		msgType = WSStepDegraded
	}
	o.publish(build.ID, &WSMessage{
		Type:      msgType,
		BuildID:   build.ID,
		Step:      record.Step,
		Timestamp: now,
		Data:      map[string]any{"summary": delta.Summary, "files": len(delta.Files)},
	})
}

func (o *Orchestrator) setStatus(build *Build, status BuildStatus, errMsg string) {
	build.mu.Lock()
	build.Status = status
	build.Error = errMsg
	build.UpdatedAt = time.Now()
	build.mu.Unlock()
	o.persist(build)
}

func (o *Orchestrator) setProgress(build *Build, progress int) {
	build.mu.Lock()
	build.Progress = progress
	build.UpdatedAt = time.Now()
	build.mu.Unlock()

	o.publish(build.ID, &WSMessage{
		Type:      WSBuildProgress,
		BuildID:   build.ID,
		Timestamp: time.Now(),
		Data:      map[string]any{"progress": progress},
	})
}

func (o *Orchestrator) finish(build *Build, status BuildStatus, errMsg string) {
	now := time.Now()

	build.mu.Lock()
	build.Status = status
	build.Error = errMsg
	build.Progress = 100
	build.CurrentStep = ""
	build.CompletedAt = &now
	build.UpdatedAt = now
	build.mu.Unlock()

	o.persist(build)
	metrics.Get().RecordBuild(string(status))

	msgType := WSBuildCompleted
	switch status {
	case BuildFailed:
		msgType = WSBuildError
	case BuildCancelled:
		msgType = WSBuildCancelled
	}

	var data any
	if status == BuildCompleted && build.Context != nil {
		data = map[string]any{"files": build.Context.FilePaths()}
	} else if errMsg != "" {
		data = map[string]any{"error": errMsg}
	}

	o.publish(build.ID, &WSMessage{
		Type:      msgType,
		BuildID:   build.ID,
		Timestamp: now,
		Data:      data,
	})

	// The build record is persisted; drop the in-memory copy after the
	// retention window so long-finished builds don't pin their file
	// contents. Reads fall back to the BuildRecord.
	time.AfterFunc(o.retention, func() {
		o.mu.Lock()
		delete(o.builds, build.ID)
		o.mu.Unlock()
	})
}

func (o *Orchestrator) finishCancelled(build *Build) {
	build.mu.Lock()
	build.Progress = 0
	build.mu.Unlock()
	o.finish(build, BuildCancelled, "cancelled by user")
}

// persist writes the build's current state to its BuildRecord.
func (o *Orchestrator) persist(build *Build) {
	if o.db == nil {
		return
	}

	build.mu.RLock()
	record := models.BuildRecord{
		BuildID:     build.ID,
		UserID:      build.UserID,
		ProjectID:   build.ProjectID,
		Description: build.Description,
		Status:      string(build.Status),
		CurrentStep: string(build.CurrentStep),
		Progress:    build.Progress,
		Error:       build.Error,
		CompletedAt: build.CompletedAt,
	}
	if build.Plan != nil {
		record.PlanJSON = MarshalPlan(build.Plan)
	}
	if steps, err := json.Marshal(build.Steps); err == nil {
		record.StepsJSON = string(steps)
	}
	if build.Context != nil {
		if ctxJSON, err := json.Marshal(build.Context.Snapshot()); err == nil {
			record.ContextJSON = string(ctxJSON)
		}
	}
	build.mu.RUnlock()

	err := o.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "build_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_step", "progress", "plan_json",
			"steps_json", "context_json", "error", "completed_at", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		logging.L().Error("failed to persist build",
			zap.String("build_id", build.ID),
			zap.Error(err))
	}
}

// saveFiles writes the final generated files into the project file table so
// the preview and editor can serve them.
func (o *Orchestrator) saveFiles(build *Build) {
	if o.db == nil || build.ProjectID == nil || build.Context == nil {
		return
	}

	for path, content := range build.Context.Files() {
		metrics.Get().FilesGeneratedTotal.Inc()
		sum := sha256.Sum256([]byte(content))
		file := models.File{
			ProjectID: *build.ProjectID,
			Path:      path,
			Content:   content,
			Size:      int64(len(content)),
			Hash:      hex.EncodeToString(sum[:]),
			Generated: true,
		}
		err := o.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}, {Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content", "size", "hash", "generated", "updated_at",
			}),
		}).Create(&file).Error
		if err != nil {
			logging.L().Error("failed to save generated file",
				zap.String("build_id", build.ID),
				zap.String("path", path),
				zap.Error(err))
		}
	}

	if o.invalidate != nil {
		o.invalidate(context.Background(), *build.ProjectID)
	}
}

// RecoverInterrupted marks builds that were in flight when the process died.
// Called once at startup.
func (o *Orchestrator) RecoverInterrupted() error {
	if o.db == nil {
		return nil
	}
	res := o.db.Model(&models.BuildRecord{}).
		Where("status IN ?", []string{string(BuildPending), string(BuildPlanning), string(BuildRunning)}).
		Update("status", string(BuildInterrupted))
	if res.Error != nil {
		return fmt.Errorf("failed to recover interrupted builds: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logging.L().Info("marked interrupted builds",
			zap.Int64("count", res.RowsAffected))
	}
	return nil
}

// Subscribe registers a channel for a build's event stream.
func (o *Orchestrator) Subscribe(buildID string, ch chan *WSMessage) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subscribers[buildID] = append(o.subscribers[buildID], ch)
}

// Unsubscribe removes a channel and closes it.
func (o *Orchestrator) Unsubscribe(buildID string, ch chan *WSMessage) {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	subs := o.subscribers[buildID]
	for i, sub := range subs {
		if sub == ch {
			o.subscribers[buildID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(o.subscribers[buildID]) == 0 {
		delete(o.subscribers, buildID)
	}
}

// publish fans an event out to subscribers, dropping when a buffer is full.
func (o *Orchestrator) publish(buildID string, msg *WSMessage) {
	o.subMu.RLock()
	defer o.subMu.RUnlock()

	for _, ch := range o.subscribers[buildID] {
		select {
		case ch <- msg:
		default:
		}
	}
}
