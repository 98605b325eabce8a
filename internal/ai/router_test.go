package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"appforge/internal/metrics"
)

// stubClient lets tests script provider behavior.
type stubClient struct {
	provider  AIProvider
	responses []func() (*AIResponse, error)
	calls     int
	healthErr error
}

func (s *stubClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]()
}

func (s *stubClient) GetCapabilities() []AICapability  { return nil }
func (s *stubClient) GetProvider() AIProvider          { return s.provider }
func (s *stubClient) Health(ctx context.Context) error { return s.healthErr }
func (s *stubClient) GetUsage() *ProviderUsage {
	return &ProviderUsage{Provider: s.provider}
}

func newTestRouter(cfg *RouterConfig) *Router {
	if cfg == nil {
		cfg = DefaultRouterConfig()
	}
	cfg.RetryBaseDelay = time.Millisecond
	return &Router{
		clients:     make(map[AIProvider]AIClient),
		mock:        NewMockClient(),
		config:      cfg,
		rateLimits:  make(map[AIProvider]*rateLimiter),
		healthCheck: make(map[AIProvider]bool),
		stopMonitor: make(chan struct{}),
	}
}

func ok(provider AIProvider, content string) func() (*AIResponse, error) {
	return func() (*AIResponse, error) {
		return &AIResponse{Provider: provider, Content: content}, nil
	}
}

func fail(msg string) func() (*AIResponse, error) {
	return func() (*AIResponse, error) {
		return nil, errors.New(msg)
	}
}

func TestGenerateUsesCapabilityDefault(t *testing.T) {
	r := newTestRouter(nil)
	gemini := &stubClient{provider: ProviderGemini, responses: []func() (*AIResponse, error){ok(ProviderGemini, "gemini says hi")}}
	claude := &stubClient{provider: ProviderClaude, responses: []func() (*AIResponse, error){ok(ProviderClaude, "claude says hi")}}
	r.clients[ProviderGemini] = gemini
	r.clients[ProviderClaude] = claude
	r.healthCheck[ProviderGemini] = true
	r.healthCheck[ProviderClaude] = true

	resp, err := r.Generate(context.Background(), &AIRequest{Capability: CapabilityAppGeneration, Prompt: "a todo app"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != ProviderGemini {
		t.Errorf("provider = %s, want gemini", resp.Provider)
	}
	if claude.calls != 0 {
		t.Errorf("claude called %d times, want 0", claude.calls)
	}
}

func TestGenerateFallsBackOnError(t *testing.T) {
	r := newTestRouter(nil)
	r.config.MaxRetries = 0
	r.clients[ProviderGemini] = &stubClient{provider: ProviderGemini, responses: []func() (*AIResponse, error){fail("SERVICE_ERROR: down")}}
	r.clients[ProviderClaude] = &stubClient{provider: ProviderClaude, responses: []func() (*AIResponse, error){ok(ProviderClaude, "fallback answer")}}
	r.healthCheck[ProviderGemini] = true
	r.healthCheck[ProviderClaude] = true

	resp, err := r.Generate(context.Background(), &AIRequest{Capability: CapabilityAppGeneration, Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != ProviderClaude {
		t.Errorf("provider = %s, want claude", resp.Provider)
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	r := newTestRouter(nil)
	r.config.MaxRetries = 2
	stub := &stubClient{provider: ProviderGemini, responses: []func() (*AIResponse, error){
		fail("SERVICE_ERROR: blip"),
		ok(ProviderGemini, "second try"),
	}}
	r.clients[ProviderGemini] = stub
	r.healthCheck[ProviderGemini] = true

	resp, err := r.Generate(context.Background(), &AIRequest{Capability: CapabilityChat, Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "second try" {
		t.Errorf("content = %q", resp.Content)
	}
	if stub.calls != 2 {
		t.Errorf("calls = %d, want 2", stub.calls)
	}
}

func TestGenerateNoRetryOnAuthError(t *testing.T) {
	r := newTestRouter(nil)
	r.config.MaxRetries = 3
	r.config.MockFallback = false
	stub := &stubClient{provider: ProviderGemini, responses: []func() (*AIResponse, error){fail("UNAUTHORIZED: bad key")}}
	r.clients[ProviderGemini] = stub
	r.healthCheck[ProviderGemini] = true

	_, err := r.Generate(context.Background(), &AIRequest{Capability: CapabilityChat, Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on auth errors)", stub.calls)
	}
}

func TestGenerateMockFallback(t *testing.T) {
	r := newTestRouter(nil)
	r.config.MaxRetries = 0
	r.clients[ProviderGemini] = &stubClient{provider: ProviderGemini, responses: []func() (*AIResponse, error){fail("SERVICE_ERROR: down")}}
	r.healthCheck[ProviderGemini] = true

	resp, err := r.Generate(context.Background(), &AIRequest{Capability: CapabilityAppGeneration, Prompt: "build a recipe app"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Mocked {
		t.Error("expected mocked response")
	}

	var scaffold struct {
		Name  string `json:"name"`
		Files []struct {
			Path string `json:"path"`
		} `json:"files"`
	}
	if err := ExtractJSON(resp.Content, &scaffold); err != nil {
		t.Fatalf("mock scaffold is not valid JSON: %v", err)
	}
	if len(scaffold.Files) == 0 {
		t.Error("mock scaffold has no files")
	}
}

func TestGenerateNoProvidersUsesMock(t *testing.T) {
	r := newTestRouter(nil)

	resp, err := r.Generate(context.Background(), &AIRequest{Capability: CapabilityChat, Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != ProviderMock || !resp.Mocked {
		t.Errorf("got provider %s mocked=%v", resp.Provider, resp.Mocked)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	r := newTestRouter(nil)
	r.rateLimits[ProviderGemini] = &rateLimiter{
		tokens:     1,
		maxTokens:  10,
		lastRefill: time.Now().Add(-2 * time.Minute),
	}

	// Refill should top the bucket back up despite the single token left.
	for i := 0; i < 5; i++ {
		if !r.checkRateLimit(ProviderGemini) {
			t.Fatalf("request %d rate limited after refill window", i)
		}
	}
}

func TestRateLimiterExhaustion(t *testing.T) {
	r := newTestRouter(nil)
	r.rateLimits[ProviderGemini] = &rateLimiter{
		tokens:     2,
		maxTokens:  2,
		lastRefill: time.Now(),
	}

	if !r.checkRateLimit(ProviderGemini) || !r.checkRateLimit(ProviderGemini) {
		t.Fatal("first two requests should pass")
	}
	if r.checkRateLimit(ProviderGemini) {
		t.Error("third request should be rate limited")
	}
}

func TestHealthCheckExportsGauge(t *testing.T) {
	r := newTestRouter(nil)
	r.clients[ProviderGemini] = &stubClient{provider: ProviderGemini}
	r.clients[ProviderClaude] = &stubClient{provider: ProviderClaude, healthErr: errors.New("SERVICE_ERROR: 503")}

	r.performHealthChecks()

	status := r.GetHealthStatus()
	if !status[ProviderGemini] || status[ProviderClaude] {
		t.Errorf("health map = %v", status)
	}

	m := metrics.Get()
	if got := testutil.ToFloat64(m.AIProviderHealth.WithLabelValues(string(ProviderGemini))); got != 1 {
		t.Errorf("gemini health gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AIProviderHealth.WithLabelValues(string(ProviderClaude))); got != 0 {
		t.Errorf("claude health gauge = %v, want 0", got)
	}
}

func TestAppNameFromPrompt(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"Build me a recipe sharing app", "recipe-sharing"},
		{"a todo list", "todo-list"},
		{"", "my-app"},
		{"Create an app for tracking workouts with charts", "tracking-workouts-charts"},
	}
	for _, c := range cases {
		if got := appNameFromPrompt(c.prompt); got != c.want {
			t.Errorf("appNameFromPrompt(%q) = %q, want %q", c.prompt, got, c.want)
		}
	}
}
