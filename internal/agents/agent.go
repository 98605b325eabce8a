package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"appforge/internal/ai"
)

// StepAgent generates one pipeline step's delta.
type StepAgent interface {
	Step() StepName
	Run(ctx context.Context, router AIGenerator, plan *BuildPlan, bctx *BuildContext) (*StepDelta, error)
	// Fallback returns the canned delta used when every provider fails.
	Fallback(plan *BuildPlan, bctx *BuildContext) *StepDelta
}

// AIGenerator is the slice of the AI router the agents need.
type AIGenerator interface {
	Generate(ctx context.Context, req *ai.AIRequest) (*ai.AIResponse, error)
}

// stepAgent is the shared implementation; each step differs only in its
// prompt and fallback.
type stepAgent struct {
	step       StepName
	capability ai.AICapability
	prompt     func(plan *BuildPlan, bctx *BuildContext) string
	fallback   func(plan *BuildPlan, bctx *BuildContext) *StepDelta
}

func (a *stepAgent) Step() StepName { return a.step }

func (a *stepAgent) Run(ctx context.Context, router AIGenerator, plan *BuildPlan, bctx *BuildContext) (*StepDelta, error) {
	req := &ai.AIRequest{
		Capability: a.capability,
		Prompt:     a.prompt(plan, bctx),
		System:     stepSystemPrompt(a.step),
		Context: map[string]interface{}{
			"framework":     plan.Framework,
			"build_summary": buildSummary(bctx),
		},
	}

	resp, err := router.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("step %s generation failed: %w", a.step, err)
	}

	var delta StepDelta
	if err := ai.ExtractJSON(resp.Content, &delta); err != nil {
		return nil, fmt.Errorf("step %s returned unparseable output: %w", a.step, err)
	}
	if delta.Summary == "" {
		delta.Summary = fmt.Sprintf("%s step completed", a.step)
	}
	return &delta, nil
}

func (a *stepAgent) Fallback(plan *BuildPlan, bctx *BuildContext) *StepDelta {
	return a.fallback(plan, bctx)
}

// stepSystemPrompt layers the step contract on the shared generation rules.
func stepSystemPrompt(step StepName) string {
	return fmt.Sprintf(`You are the %s agent in an application build pipeline.
Respond with a single JSON object:
{"files": [{"path": string, "content": string}], "models": [{"name": string, "fields": [{"name": string, "type": string, "required": bool}]}], "endpoints": [{"method": string, "path": string, "description": string, "auth": bool}], "notes": [string], "summary": string}
Omit keys you have nothing for. Every file content must be complete and runnable. Do not repeat files from earlier steps unless you are changing them.`, step)
}

// buildSummary renders the context for inclusion in step prompts.
func buildSummary(bctx *BuildContext) string {
	snap := bctx.Snapshot()

	var b strings.Builder
	if len(snap.Files) > 0 {
		b.WriteString("Files so far:\n")
		for _, f := range snap.Files {
			fmt.Fprintf(&b, "- %s\n", f.Path)
		}
	}
	if len(snap.Models) > 0 {
		b.WriteString("Data models: ")
		names := make([]string, len(snap.Models))
		for i, m := range snap.Models {
			names[i] = m.Name
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	if len(snap.Endpoints) > 0 {
		b.WriteString("Endpoints:\n")
		for _, e := range snap.Endpoints {
			fmt.Fprintf(&b, "- %s %s\n", e.Method, e.Path)
		}
	}
	if len(snap.Notes) > 0 {
		b.WriteString("Notes:\n")
		for _, n := range snap.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

// NewStepAgents returns the pipeline agents in execution order.
func NewStepAgents() []StepAgent {
	return []StepAgent{
		newUIAgent(),
		newAPIAgent(),
		newDatabaseAgent(),
		newAuthAgent(),
		newIntegrationAgent(),
		newDeploymentAgent(),
	}
}

func newUIAgent() StepAgent {
	return &stepAgent{
		step:       StepUI,
		capability: ai.CapabilityUICodeGeneration,
		prompt: func(plan *BuildPlan, bctx *BuildContext) string {
			return fmt.Sprintf(`Build the user interface for "%s": %s
Produce the pages and components as complete files (HTML/CSS/JS or %s).
Planned features: %s`, plan.AppName, plan.Summary, plan.Framework, strings.Join(plan.Features, ", "))
		},
		fallback: func(plan *BuildPlan, bctx *BuildContext) *StepDelta {
			return &StepDelta{
				Files: []GeneratedFile{
					{Path: "index.html", Content: fallbackIndexHTML(plan.AppName)},
					{Path: "styles.css", Content: fallbackStylesCSS},
				},
				Notes:   []string{"ui step used fallback scaffold"},
				Summary: "Generated placeholder UI scaffold",
			}
		},
	}
}

func newAPIAgent() StepAgent {
	return &stepAgent{
		step:       StepAPI,
		capability: ai.CapabilityAppGeneration,
		prompt: func(plan *BuildPlan, bctx *BuildContext) string {
			return fmt.Sprintf(`Design the HTTP API for "%s": %s
List the endpoints the UI needs and generate an api client module (api.js) the UI can import.`, plan.AppName, plan.Summary)
		},
		fallback: func(plan *BuildPlan, bctx *BuildContext) *StepDelta {
			return &StepDelta{
				Endpoints: []Endpoint{
					{Method: "GET", Path: "/api/items", Description: "List items"},
					{Method: "POST", Path: "/api/items", Description: "Create item", Auth: true},
				},
				Files: []GeneratedFile{
					{Path: "api.js", Content: fallbackAPIJS},
				},
				Notes:   []string{"api step used fallback endpoints"},
				Summary: "Defined basic CRUD endpoints",
			}
		},
	}
}

func newDatabaseAgent() StepAgent {
	return &stepAgent{
		step:       StepDatabase,
		capability: ai.CapabilityAppGeneration,
		prompt: func(plan *BuildPlan, bctx *BuildContext) string {
			return fmt.Sprintf(`Design the data model for "%s": %s
Declare each entity as a model with typed fields, and generate a schema.sql file.`, plan.AppName, plan.Summary)
		},
		fallback: func(plan *BuildPlan, bctx *BuildContext) *StepDelta {
			return &StepDelta{
				Models: []DataModel{
					{Name: "Item", Fields: []ModelField{
						{Name: "id", Type: "integer", Required: true},
						{Name: "title", Type: "string", Required: true},
						{Name: "created_at", Type: "timestamp", Required: true},
					}},
				},
				Files: []GeneratedFile{
					{Path: "schema.sql", Content: fallbackSchemaSQL},
				},
				Notes:   []string{"database step used fallback schema"},
				Summary: "Defined a generic item model",
			}
		},
	}
}

func newAuthAgent() StepAgent {
	return &stepAgent{
		step:       StepAuth,
		capability: ai.CapabilityAppGeneration,
		prompt: func(plan *BuildPlan, bctx *BuildContext) string {
			return fmt.Sprintf(`Add authentication to "%s".
Generate sign-in/sign-up UI and an auth.js module with session handling against the API. Mark which existing endpoints require auth.`, plan.AppName)
		},
		fallback: func(plan *BuildPlan, bctx *BuildContext) *StepDelta {
			return &StepDelta{
				Endpoints: []Endpoint{
					{Method: "POST", Path: "/api/auth/register", Description: "Create account"},
					{Method: "POST", Path: "/api/auth/login", Description: "Sign in"},
				},
				Files: []GeneratedFile{
					{Path: "auth.js", Content: fallbackAuthJS},
				},
				Notes:   []string{"auth step used fallback module"},
				Summary: "Added basic token auth flow",
			}
		},
	}
}

func newIntegrationAgent() StepAgent {
	return &stepAgent{
		step:       StepIntegration,
		capability: ai.CapabilityCodeCustomization,
		prompt: func(plan *BuildPlan, bctx *BuildContext) string {
			return fmt.Sprintf(`Wire the UI of "%s" to the API and auth modules.
Update the existing files so the pages load real data and handle errors. Return only changed files.`, plan.AppName)
		},
		fallback: func(plan *BuildPlan, bctx *BuildContext) *StepDelta {
			return &StepDelta{
				Notes:   []string{"integration step skipped wiring, providers unavailable"},
				Summary: "Integration deferred; UI runs on static data",
			}
		},
	}
}

func newDeploymentAgent() StepAgent {
	return &stepAgent{
		step:       StepDeployment,
		capability: ai.CapabilityAppGeneration,
		prompt: func(plan *BuildPlan, bctx *BuildContext) string {
			return fmt.Sprintf(`Prepare "%s" for deployment.
Generate a README.md with run instructions and any static hosting config the app needs.`, plan.AppName)
		},
		fallback: func(plan *BuildPlan, bctx *BuildContext) *StepDelta {
			return &StepDelta{
				Files: []GeneratedFile{
					{Path: "README.md", Content: fmt.Sprintf("# %s\n\nOpen index.html in a browser, or serve the directory with any static file server.\n", plan.AppName)},
				},
				Notes:   []string{"deployment step used fallback README"},
				Summary: "Added run instructions",
			}
		},
	}
}

// PlannerAgent turns a description into a BuildPlan.
type PlannerAgent struct{}

// NewPlannerAgent creates the planner.
func NewPlannerAgent() *PlannerAgent { return &PlannerAgent{} }

// Plan asks the router for a build plan, falling back to the default plan
// shape when the response cannot be parsed.
func (p *PlannerAgent) Plan(ctx context.Context, router AIGenerator, description, framework string) (*BuildPlan, error) {
	req := &ai.AIRequest{
		Capability: ai.CapabilityPlanGeneration,
		Prompt:     description,
		Context:    map[string]interface{}{"framework": framework},
	}

	resp, err := router.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	var plan BuildPlan
	if err := ai.ExtractJSON(resp.Content, &plan); err != nil {
		return nil, fmt.Errorf("plan output unparseable: %w", err)
	}
	normalizePlan(&plan, description, framework)
	return &plan, nil
}

// DefaultPlan is the canned plan used when planning itself fails.
func (p *PlannerAgent) DefaultPlan(description, framework string) *BuildPlan {
	plan := &BuildPlan{
		Summary:  description,
		Features: []string{"core flow"},
	}
	normalizePlan(plan, description, framework)
	return plan
}

// normalizePlan fills gaps and forces the step list onto the fixed pipeline.
func normalizePlan(plan *BuildPlan, description, framework string) {
	if plan.AppName == "" {
		plan.AppName = "my-app"
	}
	if plan.Summary == "" {
		plan.Summary = description
	}
	if plan.Framework == "" {
		if framework != "" {
			plan.Framework = framework
		} else {
			plan.Framework = "vanilla"
		}
	}

	// Keep only known steps, in pipeline order, defaulting descriptions.
	byStep := make(map[StepName]string)
	for _, s := range plan.Steps {
		byStep[s.Step] = s.Description
	}
	plan.Steps = plan.Steps[:0]
	for _, step := range Pipeline {
		desc := byStep[step]
		if desc == "" {
			desc = defaultStepDescription(step)
		}
		plan.Steps = append(plan.Steps, PlanStep{Step: step, Description: desc})
	}
}

func defaultStepDescription(step StepName) string {
	switch step {
	case StepUI:
		return "Layout, pages, and components"
	case StepAPI:
		return "HTTP endpoints the UI calls"
	case StepDatabase:
		return "Data models and storage"
	case StepAuth:
		return "Sign-in and session handling"
	case StepIntegration:
		return "Wire UI to API"
	case StepDeployment:
		return "Build artifacts and hosting notes"
	}
	return string(step)
}

// MarshalPlan serializes a plan for persistence.
func MarshalPlan(plan *BuildPlan) string {
	out, _ := json.Marshal(plan)
	return string(out)
}

const fallbackStylesCSS = `* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: system-ui, sans-serif; background: #f5f6fa; color: #1a1a2e; }
.container { max-width: 720px; margin: 4rem auto; padding: 0 1rem; }`

const fallbackAPIJS = `const BASE = '/api';

export async function listItems() {
  const res = await fetch(BASE + '/items');
  if (!res.ok) throw new Error('failed to load items');
  return res.json();
}

export async function createItem(item) {
  const res = await fetch(BASE + '/items', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify(item),
  });
  if (!res.ok) throw new Error('failed to create item');
  return res.json();
}`

const fallbackAuthJS = `const TOKEN_KEY = 'auth_token';

export function getToken() {
  return localStorage.getItem(TOKEN_KEY);
}

export async function login(email, password) {
  const res = await fetch('/api/auth/login', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({ email, password }),
  });
  if (!res.ok) throw new Error('login failed');
  const data = await res.json();
  localStorage.setItem(TOKEN_KEY, data.token);
  return data;
}

export function logout() {
  localStorage.removeItem(TOKEN_KEY);
}`

const fallbackSchemaSQL = `CREATE TABLE items (
  id SERIAL PRIMARY KEY,
  title TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT NOW()
);`

func fallbackIndexHTML(appName string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>%s</title>
  <link rel="stylesheet" href="styles.css">
</head>
<body>
  <main class="container">
    <h1>%s</h1>
    <div id="app"></div>
  </main>
</body>
</html>`, appName, appName)
}
