package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"appforge/internal/logging"
	"appforge/internal/metrics"
)

// Router routes AI requests to providers with rate limiting, fallback
// chains, retry with backoff, and a mock of last resort.
type Router struct {
	clients     map[AIProvider]AIClient
	mock        *MockClient
	config      *RouterConfig
	rateLimits  map[AIProvider]*rateLimiter
	mu          sync.RWMutex
	healthCheck map[AIProvider]bool

	stopMonitor chan struct{}
	stopOnce    sync.Once
}

// rateLimiter tracks rate limiting for each provider
type rateLimiter struct {
	tokens     int
	maxTokens  int
	lastRefill time.Time
	mu         sync.Mutex
}

// Keys carries the provider API keys used to build the router.
type Keys struct {
	Claude     string
	Gemini     string
	Perplexity string
	OpenAI     string
}

// NewRouter creates a router over every configured provider. Providers with
// empty keys are skipped; with no keys at all every request is served by the
// mock.
func NewRouter(keys Keys, config *RouterConfig) *Router {
	if config == nil {
		config = DefaultRouterConfig()
	}

	clients := make(map[AIProvider]AIClient)
	if keys.Claude != "" {
		clients[ProviderClaude] = NewClaudeClient(keys.Claude)
	}
	if keys.Gemini != "" {
		clients[ProviderGemini] = NewGeminiClient(keys.Gemini)
	}
	if keys.Perplexity != "" {
		clients[ProviderPerplexity] = NewPerplexityClient(keys.Perplexity)
	}
	if keys.OpenAI != "" {
		clients[ProviderOpenAI] = NewOpenAIClient(keys.OpenAI)
	}

	rateLimits := make(map[AIProvider]*rateLimiter)
	for provider, limit := range config.RateLimits {
		rateLimits[provider] = &rateLimiter{
			tokens:     limit,
			maxTokens:  limit,
			lastRefill: time.Now(),
		}
	}

	r := &Router{
		clients:     clients,
		mock:        NewMockClient(),
		config:      config,
		rateLimits:  rateLimits,
		healthCheck: make(map[AIProvider]bool),
		stopMonitor: make(chan struct{}),
	}

	// Until the first health sweep completes, assume configured providers work.
	for provider := range clients {
		r.healthCheck[provider] = true
	}

	if len(clients) > 0 {
		go r.monitorHealth()
	}

	return r
}

// Generate routes a request through the provider chain. The returned
// response is never nil on a nil error; when every provider fails and mock
// fallback is enabled the response carries Mocked=true.
func (r *Router) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	chain := r.providerChain(req)
	if len(chain) == 0 {
		return r.mockOrFail(ctx, req, fmt.Errorf("no providers configured"))
	}

	var lastErr error
	for _, provider := range chain {
		client := r.clients[provider]

		if !r.checkRateLimit(provider) {
			logging.L().Warn("provider rate limited, trying next",
				zap.String("provider", string(provider)))
			lastErr = fmt.Errorf("RATE_LIMIT: local budget exhausted for %s", provider)
			continue
		}

		resp, err := r.generateWithRetry(ctx, client, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logging.L().Warn("provider failed, falling back",
			zap.String("provider", string(provider)),
			zap.String("capability", string(req.Capability)),
			zap.Error(err))
	}

	return r.mockOrFail(ctx, req, lastErr)
}

// generateWithRetry retries a single provider with exponential backoff on
// transient errors.
func (r *Router) generateWithRetry(ctx context.Context, client AIClient, req *AIRequest) (*AIResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := client.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// providerChain returns the ordered providers to try for this request:
// explicit override, then the capability default, then its fallbacks, then
// anything else configured.
func (r *Router) providerChain(req *AIRequest) []AIProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[AIProvider]bool)
	var chain []AIProvider

	add := func(p AIProvider) {
		if seen[p] {
			return
		}
		if _, ok := r.clients[p]; !ok {
			return
		}
		seen[p] = true
		chain = append(chain, p)
	}

	if req.Provider != "" && req.Provider != ProviderMock {
		add(req.Provider)
	}

	primary := r.config.DefaultProviders[req.Capability]
	if primary != "" {
		add(primary)
		for _, fb := range r.config.FallbackOrder[primary] {
			add(fb)
		}
	}

	for provider := range r.clients {
		add(provider)
	}

	// Unhealthy providers go last rather than being dropped; the health
	// sweep can lag a recovery.
	healthy := chain[:0:len(chain)]
	var unhealthy []AIProvider
	for _, p := range chain {
		if r.healthCheck[p] {
			healthy = append(healthy, p)
		} else {
			unhealthy = append(unhealthy, p)
		}
	}
	return append(healthy, unhealthy...)
}

func (r *Router) mockOrFail(ctx context.Context, req *AIRequest, cause error) (*AIResponse, error) {
	if !r.config.MockFallback {
		return nil, fmt.Errorf("all providers failed: %w", cause)
	}
	logging.L().Warn("serving mock response",
		zap.String("capability", string(req.Capability)),
		zap.Error(cause))
	return r.mock.Generate(ctx, req)
}

// checkRateLimit checks if a provider is within rate limits
func (r *Router) checkRateLimit(provider AIProvider) bool {
	limiter, exists := r.rateLimits[provider]
	if !exists {
		return true
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := time.Now()
	timePassed := now.Sub(limiter.lastRefill)
	tokensToAdd := int(timePassed.Minutes()) * limiter.maxTokens

	if tokensToAdd > 0 {
		limiter.tokens = min(limiter.maxTokens, limiter.tokens+tokensToAdd)
		limiter.lastRefill = now
	}

	if limiter.tokens > 0 {
		limiter.tokens--
		return true
	}

	return false
}

// monitorHealth continuously monitors provider health
func (r *Router) monitorHealth() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	r.performHealthChecks()

	for {
		select {
		case <-ticker.C:
			r.performHealthChecks()
		case <-r.stopMonitor:
			return
		}
	}
}

// performHealthChecks checks health of all providers
func (r *Router) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for provider, client := range r.clients {
		wg.Add(1)
		go func(p AIProvider, c AIClient) {
			defer wg.Done()

			healthy := true
			if err := c.Health(ctx); err != nil {
				logging.L().Warn("provider health check failed",
					zap.String("provider", string(p)),
					zap.Error(err))
				healthy = false
			}

			r.mu.Lock()
			r.healthCheck[p] = healthy
			r.mu.Unlock()

			health := 0.0
			if healthy {
				health = 1.0
			}
			metrics.Get().AIProviderHealth.WithLabelValues(string(p)).Set(health)
		}(provider, client)
	}
	wg.Wait()
}

// Close stops the health monitor.
func (r *Router) Close() {
	r.stopOnce.Do(func() { close(r.stopMonitor) })
}

// Providers returns the configured (non-mock) providers.
func (r *Router) Providers() []AIProvider {
	providers := make([]AIProvider, 0, len(r.clients))
	for p := range r.clients {
		providers = append(providers, p)
	}
	return providers
}

// GetProviderUsage returns usage statistics for all providers
func (r *Router) GetProviderUsage() map[AIProvider]*ProviderUsage {
	usage := make(map[AIProvider]*ProviderUsage)
	for provider, client := range r.clients {
		usage[provider] = client.GetUsage()
	}
	usage[ProviderMock] = r.mock.GetUsage()
	return usage
}

// GetHealthStatus returns current health status of all providers
func (r *Router) GetHealthStatus() map[AIProvider]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[AIProvider]bool)
	for provider := range r.clients {
		status[provider] = r.healthCheck[provider]
	}
	return status
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
