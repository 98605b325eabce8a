package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"appforge/internal/ai"
	"appforge/internal/db"
	"appforge/pkg/models"
)

// scriptedGenerator serves canned responses by capability.
type scriptedGenerator struct {
	planJSON  string
	stepJSON  map[ai.AICapability]string
	failSteps map[ai.AICapability]bool
	failPlan  bool
	delay     time.Duration
}

func (s *scriptedGenerator) Generate(ctx context.Context, req *ai.AIRequest) (*ai.AIResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if req.Capability == ai.CapabilityPlanGeneration {
		if s.failPlan {
			return nil, errors.New("SERVICE_ERROR: planner down")
		}
		return &ai.AIResponse{Content: s.planJSON}, nil
	}

	if s.failSteps[req.Capability] {
		return nil, errors.New("SERVICE_ERROR: provider down")
	}
	content, ok := s.stepJSON[req.Capability]
	if !ok {
		content = `{"notes":["nothing to add"],"summary":"no-op"}`
	}
	return &ai.AIResponse{Content: content}, nil
}

const testPlanJSON = `{"app_name":"notes-app","summary":"a notes app","framework":"vanilla",
"steps":[{"step":"ui","description":"pages"}],"features":["notes"]}`

func testGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		planJSON: testPlanJSON,
		stepJSON: map[ai.AICapability]string{
			ai.CapabilityUICodeGeneration:  `{"files":[{"path":"index.html","content":"<html></html>"}],"summary":"built UI"}`,
			ai.CapabilityAppGeneration:     `{"files":[{"path":"api.js","content":"export {}"}],"endpoints":[{"method":"GET","path":"/api/notes"}],"summary":"built module"}`,
			ai.CapabilityCodeCustomization: `{"files":[{"path":"index.html","content":"<html><body>wired</body></html>"}],"summary":"wired UI"}`,
		},
		failSteps: map[ai.AICapability]bool{},
	}
}

func waitForBuild(t *testing.T, o *Orchestrator, buildID string, want ...BuildStatus) *Build {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		build, err := o.GetBuild(buildID)
		if err != nil {
			t.Fatal(err)
		}
		build.mu.RLock()
		status := build.Status
		build.mu.RUnlock()
		for _, w := range want {
			if status == w {
				return build
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("build %s did not reach %v in time", buildID, want)
	return nil
}

func TestBuildContextMerge(t *testing.T) {
	bc := NewBuildContext("app", "desc", "vanilla")

	bc.Merge(&StepDelta{
		Files:  []GeneratedFile{{Path: "index.html", Content: "v1"}},
		Models: []DataModel{{Name: "Note"}},
	})
	bc.Merge(&StepDelta{
		Files:     []GeneratedFile{{Path: "index.html", Content: "v2"}, {Path: "app.js", Content: "js"}},
		Models:    []DataModel{{Name: "Note"}, {Name: "User"}},
		Endpoints: []Endpoint{{Method: "GET", Path: "/api/notes"}},
		Notes:     []string{"note"},
	})

	files := bc.Files()
	if files["index.html"] != "v2" {
		t.Errorf("later step should overwrite file, got %q", files["index.html"])
	}
	if len(files) != 2 {
		t.Errorf("got %d files, want 2", len(files))
	}

	snap := bc.Snapshot()
	if len(snap.Models) != 2 {
		t.Errorf("models should dedupe by name, got %d", len(snap.Models))
	}
	if len(snap.Endpoints) != 1 || len(snap.Notes) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotRestore(t *testing.T) {
	bc := NewBuildContext("app", "desc", "react")
	bc.Merge(&StepDelta{Files: []GeneratedFile{{Path: "a.txt", Content: "x"}}})

	restored := bc.Snapshot().Restore()
	if restored.Framework != "react" || restored.Files()["a.txt"] != "x" {
		t.Errorf("restore lost state: %+v", restored.Snapshot())
	}
}

func TestNormalizePlanForcesPipeline(t *testing.T) {
	plan := &BuildPlan{
		AppName: "x",
		Steps: []PlanStep{
			{Step: StepDeployment, Description: "ship it"},
			{Step: "bogus", Description: "ignored"},
		},
	}
	normalizePlan(plan, "desc", "")

	if len(plan.Steps) != len(Pipeline) {
		t.Fatalf("got %d steps, want %d", len(plan.Steps), len(Pipeline))
	}
	for i, step := range Pipeline {
		if plan.Steps[i].Step != step {
			t.Errorf("step %d = %s, want %s", i, plan.Steps[i].Step, step)
		}
	}
	if plan.Steps[5].Description != "ship it" {
		t.Errorf("deployment description lost: %q", plan.Steps[5].Description)
	}
	if plan.Framework != "vanilla" {
		t.Errorf("framework default = %q", plan.Framework)
	}
}

func TestRunBuildCompletes(t *testing.T) {
	o := NewOrchestrator(testGenerator(), nil)

	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app"})
	if err != nil {
		t.Fatal(err)
	}

	done := waitForBuild(t, o, build.ID, BuildCompleted)

	done.mu.RLock()
	defer done.mu.RUnlock()

	if done.Progress != 100 {
		t.Errorf("progress = %d", done.Progress)
	}
	if done.Plan == nil || done.Plan.AppName != "notes-app" {
		t.Errorf("plan = %+v", done.Plan)
	}
	for _, rec := range done.Steps {
		if rec.Status != StepCompleted {
			t.Errorf("step %s status = %s", rec.Step, rec.Status)
		}
	}
	if got := done.Context.Files()["index.html"]; got != "<html><body>wired</body></html>" {
		t.Errorf("integration step did not overwrite index.html: %q", got)
	}
}

func TestRunBuildDegradesFailedStep(t *testing.T) {
	gen := testGenerator()
	gen.failSteps[ai.CapabilityUICodeGeneration] = true
	o := NewOrchestrator(gen, nil)

	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app"})
	if err != nil {
		t.Fatal(err)
	}

	done := waitForBuild(t, o, build.ID, BuildCompleted)

	done.mu.RLock()
	defer done.mu.RUnlock()

	if done.Steps[0].Status != StepDegraded {
		t.Errorf("ui step = %s, want degraded", done.Steps[0].Status)
	}
	if done.Steps[1].Status != StepCompleted {
		t.Errorf("api step = %s, pipeline should continue past a degraded step", done.Steps[1].Status)
	}
	// The canned fallback still produced files.
	if _, ok := done.Context.Files()["index.html"]; !ok {
		t.Error("fallback UI files missing")
	}
}

func TestRunBuildDefaultPlanOnPlannerFailure(t *testing.T) {
	gen := testGenerator()
	gen.failPlan = true
	o := NewOrchestrator(gen, nil)

	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app", Framework: "react"})
	if err != nil {
		t.Fatal(err)
	}

	done := waitForBuild(t, o, build.ID, BuildCompleted)

	done.mu.RLock()
	defer done.mu.RUnlock()

	if done.Plan == nil || done.Plan.Framework != "react" {
		t.Errorf("default plan = %+v", done.Plan)
	}
}

func TestCancelBuild(t *testing.T) {
	gen := testGenerator()
	gen.delay = 200 * time.Millisecond
	o := NewOrchestrator(gen, nil)

	build, err := o.StartBuild(1, &BuildRequest{Description: "slow app"})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := o.CancelBuild(build.ID, 1); err != nil {
		t.Fatal(err)
	}

	done := waitForBuild(t, o, build.ID, BuildCancelled)
	done.mu.RLock()
	defer done.mu.RUnlock()
	if done.Status != BuildCancelled {
		t.Errorf("status = %s", done.Status)
	}
}

func TestCancelBuildWrongUser(t *testing.T) {
	gen := testGenerator()
	gen.delay = 100 * time.Millisecond
	o := NewOrchestrator(gen, nil)

	build, err := o.StartBuild(1, &BuildRequest{Description: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.CancelBuild(build.ID, 2); err == nil {
		t.Error("expected authorization error")
	}
}

func TestBuildPersistence(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(testGenerator(), database.DB)

	build, err := o.StartBuild(7, &BuildRequest{Description: "a notes app"})
	if err != nil {
		t.Fatal(err)
	}
	waitForBuild(t, o, build.ID, BuildCompleted)

	var record models.BuildRecord
	if err := database.Where("build_id = ?", build.ID).First(&record).Error; err != nil {
		t.Fatal(err)
	}
	if record.Status != string(BuildCompleted) || record.Progress != 100 {
		t.Errorf("record = %s/%d", record.Status, record.Progress)
	}

	var snapshot ContextSnapshot
	if err := json.Unmarshal([]byte(record.ContextJSON), &snapshot); err != nil {
		t.Fatalf("context JSON corrupt: %v", err)
	}
	if len(snapshot.Files) == 0 {
		t.Error("persisted context has no files")
	}
}

func TestBuildInvalidatesPreview(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(testGenerator(), database.DB)

	var (
		mu          sync.Mutex
		invalidated []uint
	)
	o.SetPreviewInvalidator(func(ctx context.Context, projectID uint) {
		mu.Lock()
		invalidated = append(invalidated, projectID)
		mu.Unlock()
	})

	projectID := uint(42)
	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app", ProjectID: &projectID})
	if err != nil {
		t.Fatal(err)
	}
	waitForBuild(t, o, build.ID, BuildCompleted)

	var files int64
	database.Model(&models.File{}).Where("project_id = ?", projectID).Count(&files)
	if files == 0 {
		t.Fatal("no files written for project")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(invalidated) != 1 || invalidated[0] != projectID {
		t.Errorf("invalidated projects = %v, want [%d]", invalidated, projectID)
	}
}

func TestFinishedBuildEvicted(t *testing.T) {
	o := NewOrchestrator(testGenerator(), nil)
	o.retention = 20 * time.Millisecond

	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app"})
	if err != nil {
		t.Fatal(err)
	}

	// The build disappears from memory shortly after it finishes; poll
	// until GetBuild falls through.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := o.GetBuild(build.ID); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("finished build still held in memory after retention window")
}

func TestRecoverInterrupted(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatal(err)
	}

	for i, status := range []BuildStatus{BuildRunning, BuildPlanning, BuildCompleted} {
		rec := models.BuildRecord{
			BuildID:     fmt.Sprintf("build-%d", i),
			UserID:      1,
			Description: "d",
			Status:      string(status),
		}
		if err := database.Create(&rec).Error; err != nil {
			t.Fatal(err)
		}
	}

	o := NewOrchestrator(testGenerator(), database.DB)
	if err := o.RecoverInterrupted(); err != nil {
		t.Fatal(err)
	}

	var interrupted int64
	database.Model(&models.BuildRecord{}).Where("status = ?", string(BuildInterrupted)).Count(&interrupted)
	if interrupted != 2 {
		t.Errorf("interrupted = %d, want 2", interrupted)
	}

	var completed int64
	database.Model(&models.BuildRecord{}).Where("status = ?", string(BuildCompleted)).Count(&completed)
	if completed != 1 {
		t.Errorf("completed builds should be untouched, got %d", completed)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	gen := testGenerator()
	gen.delay = 20 * time.Millisecond // leave time to subscribe before the first step
	o := NewOrchestrator(gen, nil)

	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app"})
	if err != nil {
		t.Fatal(err)
	}

	ch := make(chan *WSMessage, 200)
	o.Subscribe(build.ID, ch)
	defer o.Unsubscribe(build.ID, ch)

	waitForBuild(t, o, build.ID, BuildCompleted)

	seen := make(map[WSMessageType]bool)
	for {
		select {
		case msg := <-ch:
			seen[msg.Type] = true
			if msg.Type == WSBuildCompleted {
				for _, want := range []WSMessageType{WSPlanReady, WSStepStarted, WSStepCompleted, WSFileCreated} {
					if !seen[want] {
						t.Errorf("missing event %s", want)
					}
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatal("did not observe build:completed event")
		}
	}
}
