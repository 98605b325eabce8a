package ai

import (
	"context"
	"time"
)

// AIProvider represents the available AI providers
type AIProvider string

const (
	ProviderClaude     AIProvider = "claude"
	ProviderGemini     AIProvider = "gemini"
	ProviderPerplexity AIProvider = "perplexity"
	ProviderOpenAI     AIProvider = "openai"
	ProviderMock       AIProvider = "mock"
)

// AICapability represents different AI use cases
type AICapability string

const (
	CapabilityAppGeneration     AICapability = "app_generation"
	CapabilityCodeCustomization AICapability = "code_customization"
	CapabilityDesignSearch      AICapability = "design_search"
	CapabilityUICodeGeneration  AICapability = "ui_code_generation"
	CapabilityPlanGeneration    AICapability = "plan_generation"
	CapabilityChat              AICapability = "chat"
)

// Input limits enforced before a request reaches any provider.
const (
	MaxPromptLength = 100000
	MaxCodeLength   = 50000
)

// AIRequest represents a request to an AI provider
type AIRequest struct {
	ID          string                 `json:"id"`
	Provider    AIProvider             `json:"provider,omitempty"`
	Model       string                 `json:"model,omitempty"` // explicit model override
	Capability  AICapability           `json:"capability"`
	Prompt      string                 `json:"prompt"`
	System      string                 `json:"system,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Language    string                 `json:"language,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Temperature float32                `json:"temperature,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	ProjectID   string                 `json:"project_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// AIResponse represents a response from an AI provider
type AIResponse struct {
	ID        string     `json:"id"`
	Provider  AIProvider `json:"provider"`
	Content   string     `json:"content"`
	Usage     *Usage     `json:"usage,omitempty"`
	Error     string     `json:"error,omitempty"`
	Mocked    bool       `json:"mocked,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time  `json:"created_at"`
}

// Cost returns the cost of the response based on usage
func (r *AIResponse) Cost() float64 {
	if r.Usage != nil {
		return r.Usage.Cost
	}
	return 0.0
}

// Usage represents token/cost usage for an AI request
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// AIClient interface that all AI providers must implement
type AIClient interface {
	// Generate generates content based on the request
	Generate(ctx context.Context, req *AIRequest) (*AIResponse, error)

	// GetCapabilities returns the capabilities this provider supports
	GetCapabilities() []AICapability

	// GetProvider returns the provider identifier
	GetProvider() AIProvider

	// Health checks if the provider is healthy
	Health(ctx context.Context) error

	// GetUsage returns usage statistics
	GetUsage() *ProviderUsage
}

// ProviderUsage tracks usage statistics for a provider
type ProviderUsage struct {
	Provider     AIProvider `json:"provider"`
	RequestCount int64      `json:"request_count"`
	TotalTokens  int64      `json:"total_tokens"`
	TotalCost    float64    `json:"total_cost"`
	AvgLatency   float64    `json:"avg_latency"`
	ErrorCount   int64      `json:"error_count"`
	LastUsed     time.Time  `json:"last_used"`
}

// RouterConfig configures how requests are routed to providers
type RouterConfig struct {
	// Default provider preferences for each capability
	DefaultProviders map[AICapability]AIProvider `json:"default_providers"`

	// Fallback order when primary provider fails
	FallbackOrder map[AIProvider][]AIProvider `json:"fallback_order"`

	// Rate limits per provider (requests per minute)
	RateLimits map[AIProvider]int `json:"rate_limits"`

	// Retries per provider attempt before moving down the fallback chain
	MaxRetries int `json:"max_retries"`

	// Base delay for exponential backoff between retries
	RetryBaseDelay time.Duration `json:"retry_base_delay"`

	// MockFallback returns a deterministic scaffold when every provider fails
	MockFallback bool `json:"mock_fallback"`
}

// DefaultRouterConfig returns the standard routing configuration.
// Gemini leads app generation (cheapest structured output), Claude leads
// customization, Perplexity owns design search.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		DefaultProviders: map[AICapability]AIProvider{
			CapabilityAppGeneration:     ProviderGemini,
			CapabilityCodeCustomization: ProviderClaude,
			CapabilityDesignSearch:      ProviderPerplexity,
			CapabilityUICodeGeneration:  ProviderClaude,
			CapabilityPlanGeneration:    ProviderGemini,
			CapabilityChat:              ProviderGemini,
		},
		FallbackOrder: map[AIProvider][]AIProvider{
			ProviderClaude:     {ProviderOpenAI, ProviderGemini},
			ProviderGemini:     {ProviderClaude, ProviderOpenAI},
			ProviderPerplexity: {ProviderOpenAI, ProviderGemini},
			ProviderOpenAI:     {ProviderClaude, ProviderGemini},
		},
		RateLimits: map[AIProvider]int{
			ProviderClaude:     100,
			ProviderGemini:     120,
			ProviderPerplexity: 60,
			ProviderOpenAI:     80,
		},
		MaxRetries:     2,
		RetryBaseDelay: 500 * time.Millisecond,
		MockFallback:   true,
	}
}
