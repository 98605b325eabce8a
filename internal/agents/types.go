// Package agents runs the step pipeline that turns an app description into
// generated project files. A planner produces a build plan, then specialized
// step agents walk a fixed sequence, each merging its output into a shared
// build context.
package agents

import (
	"sort"
	"sync"
	"time"
)

// StepName identifies a pipeline step.
type StepName string

const (
	StepUI          StepName = "ui"
	StepAPI         StepName = "api"
	StepDatabase    StepName = "database"
	StepAuth        StepName = "auth"
	StepIntegration StepName = "integration"
	StepDeployment  StepName = "deployment"
)

// Pipeline is the fixed step order. Steps run sequentially; each sees the
// context produced by its predecessors.
var Pipeline = []StepName{
	StepUI,
	StepAPI,
	StepDatabase,
	StepAuth,
	StepIntegration,
	StepDeployment,
}

// BuildStatus represents the overall state of a build
type BuildStatus string

const (
	BuildPending     BuildStatus = "pending"
	BuildPlanning    BuildStatus = "planning"
	BuildRunning     BuildStatus = "running"
	BuildCompleted   BuildStatus = "completed"
	BuildFailed      BuildStatus = "failed"
	BuildCancelled   BuildStatus = "cancelled"
	BuildInterrupted BuildStatus = "interrupted"
)

// StepStatus represents the state of a single step
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepDegraded  StepStatus = "degraded" // canned fallback was used
	StepSkipped   StepStatus = "skipped"
)

// BuildPlan is the planner's output.
type BuildPlan struct {
	AppName   string     `json:"app_name"`
	Summary   string     `json:"summary"`
	Framework string     `json:"framework"`
	Steps     []PlanStep `json:"steps"`
	Features  []string   `json:"features"`
}

// PlanStep describes one pipeline step in the plan.
type PlanStep struct {
	Step        StepName `json:"step"`
	Description string   `json:"description"`
}

// GeneratedFile is a file produced by a step.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DataModel describes an entity the database step produced.
type DataModel struct {
	Name   string       `json:"name"`
	Fields []ModelField `json:"fields,omitempty"`
}

// ModelField is a field in a data model.
type ModelField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Endpoint describes an API route the api step produced.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	Auth        bool   `json:"auth,omitempty"`
}

// StepDelta is the JSON shape each agent returns. Merging is additive:
// files overwrite by path, models and endpoints append if unseen, notes
// always append.
type StepDelta struct {
	Files     []GeneratedFile `json:"files,omitempty"`
	Models    []DataModel     `json:"models,omitempty"`
	Endpoints []Endpoint      `json:"endpoints,omitempty"`
	Notes     []string        `json:"notes,omitempty"`
	Summary   string          `json:"summary,omitempty"`
}

// BuildContext is the shared state the pipeline accumulates. All access
// goes through its methods; the orchestrator calls them from one goroutine
// but handlers snapshot concurrently.
type BuildContext struct {
	AppName     string
	Description string
	Framework   string

	mu        sync.RWMutex
	files     map[string]string
	models    []DataModel
	endpoints []Endpoint
	notes     []string
}

// NewBuildContext creates an empty context for a build.
func NewBuildContext(appName, description, framework string) *BuildContext {
	return &BuildContext{
		AppName:     appName,
		Description: description,
		Framework:   framework,
		files:       make(map[string]string),
	}
}

// Merge applies a step's delta. Later steps may overwrite files by path.
func (bc *BuildContext) Merge(delta *StepDelta) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for _, f := range delta.Files {
		if f.Path == "" {
			continue
		}
		bc.files[f.Path] = f.Content
	}

	for _, m := range delta.Models {
		if m.Name == "" || bc.hasModelLocked(m.Name) {
			continue
		}
		bc.models = append(bc.models, m)
	}

	for _, e := range delta.Endpoints {
		if e.Path == "" || bc.hasEndpointLocked(e.Method, e.Path) {
			continue
		}
		bc.endpoints = append(bc.endpoints, e)
	}

	bc.notes = append(bc.notes, delta.Notes...)
}

func (bc *BuildContext) hasModelLocked(name string) bool {
	for _, m := range bc.models {
		if m.Name == name {
			return true
		}
	}
	return false
}

func (bc *BuildContext) hasEndpointLocked(method, path string) bool {
	for _, e := range bc.endpoints {
		if e.Method == method && e.Path == path {
			return true
		}
	}
	return false
}

// Files returns a copy of the current file set.
func (bc *BuildContext) Files() map[string]string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	out := make(map[string]string, len(bc.files))
	for k, v := range bc.files {
		out[k] = v
	}
	return out
}

// FilePaths returns the sorted paths of generated files.
func (bc *BuildContext) FilePaths() []string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	paths := make([]string, 0, len(bc.files))
	for p := range bc.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns a serializable copy of the whole context.
func (bc *BuildContext) Snapshot() *ContextSnapshot {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	files := make([]GeneratedFile, 0, len(bc.files))
	for _, p := range sortedKeys(bc.files) {
		files = append(files, GeneratedFile{Path: p, Content: bc.files[p]})
	}
	return &ContextSnapshot{
		AppName:     bc.AppName,
		Description: bc.Description,
		Framework:   bc.Framework,
		Files:       files,
		Models:      append([]DataModel(nil), bc.models...),
		Endpoints:   append([]Endpoint(nil), bc.endpoints...),
		Notes:       append([]string(nil), bc.notes...),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContextSnapshot is the serialized form of a BuildContext, persisted with
// the build record and returned by the API.
type ContextSnapshot struct {
	AppName     string          `json:"app_name"`
	Description string          `json:"description"`
	Framework   string          `json:"framework"`
	Files       []GeneratedFile `json:"files"`
	Models      []DataModel     `json:"models,omitempty"`
	Endpoints   []Endpoint      `json:"endpoints,omitempty"`
	Notes       []string        `json:"notes,omitempty"`
}

// Restore rebuilds a BuildContext from a snapshot.
func (s *ContextSnapshot) Restore() *BuildContext {
	bc := NewBuildContext(s.AppName, s.Description, s.Framework)
	bc.Merge(&StepDelta{
		Files:     s.Files,
		Models:    s.Models,
		Endpoints: s.Endpoints,
		Notes:     s.Notes,
	})
	return bc
}

// StepRecord tracks one step's execution within a build.
type StepRecord struct {
	Step        StepName   `json:"step"`
	Status      StepStatus `json:"status"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Build is an in-memory build session.
type Build struct {
	ID          string        `json:"id"`
	UserID      uint          `json:"user_id"`
	ProjectID   *uint         `json:"project_id,omitempty"`
	Status      BuildStatus   `json:"status"`
	Description string        `json:"description"`
	Plan        *BuildPlan    `json:"plan,omitempty"`
	Steps       []*StepRecord `json:"steps"`
	CurrentStep StepName      `json:"current_step,omitempty"`
	Progress    int           `json:"progress"` // 0-100
	Context     *BuildContext `json:"-"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	mu sync.RWMutex
}

// WSMessageType identifies build event types on the WebSocket stream.
type WSMessageType string

const (
	WSBuildStarted   WSMessageType = "build:started"
	WSBuildProgress  WSMessageType = "build:progress"
	WSBuildCompleted WSMessageType = "build:completed"
	WSBuildCancelled WSMessageType = "build:cancelled"
	WSBuildError     WSMessageType = "build:error"
	WSStepStarted    WSMessageType = "step:started"
	WSStepCompleted  WSMessageType = "step:completed"
	WSStepDegraded   WSMessageType = "step:degraded"
	WSFileCreated    WSMessageType = "file:created"
	WSPlanReady      WSMessageType = "plan:ready"
)

// WSMessage is the structure for WebSocket messages
type WSMessage struct {
	Type      WSMessageType `json:"type"`
	BuildID   string        `json:"build_id"`
	Step      StepName      `json:"step,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Data      any           `json:"data,omitempty"`
}

// BuildRequest is the input for starting a new build
type BuildRequest struct {
	Description string `json:"description" binding:"required"`
	Framework   string `json:"framework,omitempty"`
	ProjectID   *uint  `json:"project_id,omitempty"`
}

// BuildResponse is returned when a build is created
type BuildResponse struct {
	BuildID      string `json:"build_id"`
	WebSocketURL string `json:"websocket_url"`
	Status       string `json:"status"`
}
