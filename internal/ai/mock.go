package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockClient returns deterministic scaffolds so the product keeps working
// when no real provider is configured or every provider fails.
type MockClient struct {
	usage   *ProviderUsage
	usageMu sync.RWMutex
}

// NewMockClient creates the mock provider.
func NewMockClient() *MockClient {
	return &MockClient{
		usage: &ProviderUsage{
			Provider: ProviderMock,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the AIClient interface with canned output.
func (m *MockClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	startTime := time.Now()

	m.usageMu.Lock()
	m.usage.RequestCount++
	m.usage.LastUsed = time.Now()
	m.usageMu.Unlock()

	return &AIResponse{
		ID:        req.ID,
		Provider:  ProviderMock,
		Content:   mockContent(req),
		Mocked:    true,
		Usage:     &Usage{},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

func mockContent(req *AIRequest) string {
	name := appNameFromPrompt(req.Prompt)

	switch req.Capability {
	case CapabilityAppGeneration:
		scaffold := map[string]interface{}{
			"name":        name,
			"description": "Generated scaffold for: " + firstLine(req.Prompt),
			"framework":   "vanilla",
			"files": []map[string]string{
				{"path": "index.html", "content": mockIndexHTML(name)},
				{"path": "styles.css", "content": mockStylesCSS},
				{"path": "app.js", "content": mockAppJS(name)},
			},
			"features": []string{"responsive layout", "local state"},
		}
		out, _ := json.Marshal(scaffold)
		return string(out)

	case CapabilityPlanGeneration:
		plan := map[string]interface{}{
			"app_name":  name,
			"summary":   "Build plan for: " + firstLine(req.Prompt),
			"framework": "vanilla",
			"steps": []map[string]string{
				{"step": "ui", "description": "Layout, pages, and components"},
				{"step": "api", "description": "HTTP endpoints the UI calls"},
				{"step": "database", "description": "Data models and storage"},
				{"step": "auth", "description": "Sign-in and session handling"},
				{"step": "integration", "description": "Wire UI to API"},
				{"step": "deployment", "description": "Build artifacts and hosting notes"},
			},
			"features": []string{"core flow"},
		}
		out, _ := json.Marshal(plan)
		return string(out)

	case CapabilityCodeCustomization:
		delta := map[string]interface{}{
			"files":   []map[string]string{},
			"summary": "No changes applied: AI providers are unavailable. Retry when a provider is configured.",
		}
		out, _ := json.Marshal(delta)
		return string(out)

	case CapabilityDesignSearch:
		refs := map[string]interface{}{
			"references": []map[string]interface{}{
				{
					"title":       "Card-based dashboard",
					"description": "Content grouped into elevated cards on a neutral background",
					"patterns":    []string{"card grid", "top navigation", "empty states"},
					"palette":     []string{"#1a1a2e", "#16213e", "#0f3460", "#e94560"},
				},
			},
		}
		out, _ := json.Marshal(refs)
		return string(out)

	case CapabilityUICodeGeneration:
		return "```html\n" + mockIndexHTML(name) + "\n```"

	default:
		return "AI providers are currently unavailable. Your request was recorded; please retry shortly."
	}
}

// appNameFromPrompt derives a stable, filesystem-friendly name from the
// first few words of the prompt.
func appNameFromPrompt(prompt string) string {
	words := strings.Fields(strings.ToLower(firstLine(prompt)))
	keep := make([]string, 0, 3)
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, w)
		switch w {
		case "", "a", "an", "the", "build", "create", "make", "me", "app", "for", "with":
			continue
		}
		keep = append(keep, w)
		if len(keep) == 3 {
			break
		}
	}
	if len(keep) == 0 {
		return "my-app"
	}
	return strings.Join(keep, "-")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}

func mockIndexHTML(name string) string {
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
    <p class="subtitle">Scaffold generated by AppForge</p>
    <div id="app"></div>
  </main>
  <script src="app.js"></script>
</body>
</html>`, name, name)
}

const mockStylesCSS = `* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: system-ui, sans-serif; background: #f5f6fa; color: #1a1a2e; }
.container { max-width: 720px; margin: 4rem auto; padding: 0 1rem; }
h1 { font-size: 2rem; margin-bottom: .5rem; }
.subtitle { color: #666; margin-bottom: 2rem; }`

func mockAppJS(name string) string {
	return fmt.Sprintf(`const app = document.getElementById('app');
app.textContent = 'Welcome to %s';`, name)
}

// GetCapabilities returns every capability; the mock never refuses.
func (m *MockClient) GetCapabilities() []AICapability {
	return []AICapability{
		CapabilityAppGeneration,
		CapabilityCodeCustomization,
		CapabilityDesignSearch,
		CapabilityUICodeGeneration,
		CapabilityPlanGeneration,
		CapabilityChat,
	}
}

// GetProvider returns the provider identifier
func (m *MockClient) GetProvider() AIProvider {
	return ProviderMock
}

// Health always succeeds.
func (m *MockClient) Health(ctx context.Context) error {
	return nil
}

// GetUsage returns current usage statistics (thread-safe copy)
func (m *MockClient) GetUsage() *ProviderUsage {
	m.usageMu.RLock()
	defer m.usageMu.RUnlock()

	usage := *m.usage
	return &usage
}
