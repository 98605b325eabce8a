package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ClaudeClient implements the Claude/Anthropic API client
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *ProviderUsage
	usageMu    sync.RWMutex // Protects usage statistics
}

// Claude API request/response structures
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClaudeClient creates a new Claude API client
func NewClaudeClient(apiKey string) *ClaudeClient {
	return &ClaudeClient{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		usage: &ProviderUsage{
			Provider: ProviderClaude,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the AIClient interface for Claude
func (c *ClaudeClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	startTime := time.Now()

	systemPrompt := req.System
	if systemPrompt == "" {
		systemPrompt = SystemPrompt(req.Capability, req.Language)
	}

	model := "claude-sonnet-4-20250514"
	if req.Model != "" {
		model = req.Model
	}

	claudeReq := &claudeRequest{
		Model:     model,
		MaxTokens: maxTokensFor(req),
		Messages: []claudeMessage{
			{
				Role:    "user",
				Content: UserPrompt(req),
			},
		},
		Temperature: req.Temperature,
		System:      systemPrompt,
	}

	resp, err := c.makeRequest(ctx, claudeReq)
	if err != nil {
		c.incrementErrorCount()
		return &AIResponse{
			ID:        req.ID,
			Provider:  ProviderClaude,
			Error:     err.Error(),
			Duration:  time.Since(startTime),
			CreatedAt: time.Now(),
		}, err
	}

	cost := c.calculateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.updateUsage(resp.Usage.InputTokens+resp.Usage.OutputTokens, cost, time.Since(startTime))

	content := ""
	if len(resp.Content) > 0 && resp.Content[0].Type == "text" {
		content = resp.Content[0].Text
	}

	return &AIResponse{
		ID:       req.ID,
		Provider: ProviderClaude,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// makeRequest sends HTTP request to Claude API
func (c *ClaudeClient) makeRequest(ctx context.Context, req *claudeRequest) (*claudeResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError("Claude", resp.StatusCode, body)
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if claudeResp.Error != nil {
		return nil, fmt.Errorf("Claude API error: %s", claudeResp.Error.Message)
	}

	return &claudeResp, nil
}

// GetCapabilities returns capabilities Claude excels at
func (c *ClaudeClient) GetCapabilities() []AICapability {
	return []AICapability{
		CapabilityCodeCustomization,
		CapabilityUICodeGeneration,
		CapabilityAppGeneration,
		CapabilityPlanGeneration,
		CapabilityChat,
	}
}

// GetProvider returns the provider identifier
func (c *ClaudeClient) GetProvider() AIProvider {
	return ProviderClaude
}

// Health checks if Claude API is accessible
func (c *ClaudeClient) Health(ctx context.Context) error {
	testReq := &claudeRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 5,
		Messages: []claudeMessage{
			{
				Role:    "user",
				Content: "Hello",
			},
		},
	}

	_, err := c.makeRequest(ctx, testReq)
	return err
}

// calculateCost estimates cost based on Claude pricing
func (c *ClaudeClient) calculateCost(inputTokens, outputTokens int) float64 {
	inputCostPer1K := 0.003
	outputCostPer1K := 0.015

	inputCost := float64(inputTokens) / 1000.0 * inputCostPer1K
	outputCost := float64(outputTokens) / 1000.0 * outputCostPer1K

	return inputCost + outputCost
}

// updateUsage updates internal usage statistics (thread-safe)
func (c *ClaudeClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	c.usage.RequestCount++
	c.usage.TotalTokens += int64(totalTokens)
	c.usage.TotalCost += cost
	c.usage.AvgLatency = (c.usage.AvgLatency*float64(c.usage.RequestCount-1) + duration.Seconds()) / float64(c.usage.RequestCount)
	c.usage.LastUsed = time.Now()
}

// incrementErrorCount safely increments the error count
func (c *ClaudeClient) incrementErrorCount() {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (c *ClaudeClient) GetUsage() *ProviderUsage {
	c.usageMu.RLock()
	defer c.usageMu.RUnlock()

	return &ProviderUsage{
		Provider:     c.usage.Provider,
		RequestCount: c.usage.RequestCount,
		TotalTokens:  c.usage.TotalTokens,
		TotalCost:    c.usage.TotalCost,
		AvgLatency:   c.usage.AvgLatency,
		ErrorCount:   c.usage.ErrorCount,
		LastUsed:     c.usage.LastUsed,
	}
}
