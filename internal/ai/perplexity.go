package ai

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// PerplexityClient implements the Perplexity API client. Perplexity speaks
// the OpenAI chat wire format and adds web-grounded answers, which is what
// the design-search capability wants.
type PerplexityClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *ProviderUsage
	usageMu    sync.RWMutex // Protects usage statistics
}

// NewPerplexityClient creates a new Perplexity API client
func NewPerplexityClient(apiKey string) *PerplexityClient {
	return &PerplexityClient{
		apiKey:  apiKey,
		baseURL: "https://api.perplexity.ai/chat/completions",
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		usage: &ProviderUsage{
			Provider: ProviderPerplexity,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the AIClient interface for Perplexity
func (p *PerplexityClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	startTime := time.Now()

	systemPrompt := req.System
	if systemPrompt == "" {
		systemPrompt = SystemPrompt(req.Capability, req.Language)
	}

	model := "sonar-pro"
	if req.Model != "" {
		model = req.Model
	}

	chatReq := &chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: UserPrompt(req)},
		},
		MaxTokens:   maxTokensFor(req),
		Temperature: req.Temperature,
	}

	resp, err := doChatCompletion(ctx, p.httpClient, p.baseURL, p.apiKey, "Perplexity", chatReq)
	if err != nil {
		p.incrementErrorCount()
		return &AIResponse{
			ID:        req.ID,
			Provider:  ProviderPerplexity,
			Error:     err.Error(),
			Duration:  time.Since(startTime),
			CreatedAt: time.Now(),
		}, err
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	cost := p.calculateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.updateUsage(resp.Usage.TotalTokens, cost, time.Since(startTime))

	return &AIResponse{
		ID:       req.ID,
		Provider: ProviderPerplexity,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// GetCapabilities returns capabilities Perplexity handles well
func (p *PerplexityClient) GetCapabilities() []AICapability {
	return []AICapability{
		CapabilityDesignSearch,
		CapabilityChat,
	}
}

// GetProvider returns the provider identifier
func (p *PerplexityClient) GetProvider() AIProvider {
	return ProviderPerplexity
}

// Health checks if Perplexity API is accessible
func (p *PerplexityClient) Health(ctx context.Context) error {
	testReq := &chatCompletionRequest{
		Model:     "sonar",
		Messages:  []chatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 5,
	}
	_, err := doChatCompletion(ctx, p.httpClient, p.baseURL, p.apiKey, "Perplexity", testReq)
	return err
}

// calculateCost estimates cost based on Perplexity pricing
func (p *PerplexityClient) calculateCost(inputTokens, outputTokens int) float64 {
	costPer1K := 0.001
	return float64(inputTokens+outputTokens) / 1000.0 * costPer1K
}

func (p *PerplexityClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()

	p.usage.RequestCount++
	p.usage.TotalTokens += int64(totalTokens)
	p.usage.TotalCost += cost
	p.usage.AvgLatency = (p.usage.AvgLatency*float64(p.usage.RequestCount-1) + duration.Seconds()) / float64(p.usage.RequestCount)
	p.usage.LastUsed = time.Now()
}

func (p *PerplexityClient) incrementErrorCount() {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	p.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (p *PerplexityClient) GetUsage() *ProviderUsage {
	p.usageMu.RLock()
	defer p.usageMu.RUnlock()

	usage := *p.usage
	return &usage
}
