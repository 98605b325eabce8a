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

// OpenAIClient implements the OpenAI chat completions client
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *ProviderUsage
	usageMu    sync.RWMutex // Protects usage statistics
}

// OpenAI-compatible chat request/response structures, shared with Perplexity
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1/chat/completions",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		usage: &ProviderUsage{
			Provider: ProviderOpenAI,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the AIClient interface for OpenAI
func (o *OpenAIClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	startTime := time.Now()

	systemPrompt := req.System
	if systemPrompt == "" {
		systemPrompt = SystemPrompt(req.Capability, req.Language)
	}

	model := "gpt-4o"
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

	resp, err := doChatCompletion(ctx, o.httpClient, o.baseURL, o.apiKey, "OpenAI", chatReq)
	if err != nil {
		o.incrementErrorCount()
		return &AIResponse{
			ID:        req.ID,
			Provider:  ProviderOpenAI,
			Error:     err.Error(),
			Duration:  time.Since(startTime),
			CreatedAt: time.Now(),
		}, err
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	cost := o.calculateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	o.updateUsage(resp.Usage.TotalTokens, cost, time.Since(startTime))

	return &AIResponse{
		ID:       req.ID,
		Provider: ProviderOpenAI,
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

// doChatCompletion posts an OpenAI-style chat completion request. Perplexity
// shares this wire format.
func doChatCompletion(ctx context.Context, client *http.Client, url, apiKey, providerName string, req *chatCompletionRequest) (*chatCompletionResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError(providerName, resp.StatusCode, body)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", providerName, chatResp.Error.Message)
	}

	return &chatResp, nil
}

// GetCapabilities returns capabilities OpenAI handles well
func (o *OpenAIClient) GetCapabilities() []AICapability {
	return []AICapability{
		CapabilityAppGeneration,
		CapabilityCodeCustomization,
		CapabilityUICodeGeneration,
		CapabilityPlanGeneration,
		CapabilityChat,
	}
}

// GetProvider returns the provider identifier
func (o *OpenAIClient) GetProvider() AIProvider {
	return ProviderOpenAI
}

// Health checks if OpenAI API is accessible
func (o *OpenAIClient) Health(ctx context.Context) error {
	testReq := &chatCompletionRequest{
		Model:     "gpt-4o-mini",
		Messages:  []chatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 5,
	}
	_, err := doChatCompletion(ctx, o.httpClient, o.baseURL, o.apiKey, "OpenAI", testReq)
	return err
}

// calculateCost estimates cost based on OpenAI pricing
func (o *OpenAIClient) calculateCost(inputTokens, outputTokens int) float64 {
	inputCostPer1K := 0.0025
	outputCostPer1K := 0.01

	return float64(inputTokens)/1000.0*inputCostPer1K + float64(outputTokens)/1000.0*outputCostPer1K
}

func (o *OpenAIClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	o.usageMu.Lock()
	defer o.usageMu.Unlock()

	o.usage.RequestCount++
	o.usage.TotalTokens += int64(totalTokens)
	o.usage.TotalCost += cost
	o.usage.AvgLatency = (o.usage.AvgLatency*float64(o.usage.RequestCount-1) + duration.Seconds()) / float64(o.usage.RequestCount)
	o.usage.LastUsed = time.Now()
}

func (o *OpenAIClient) incrementErrorCount() {
	o.usageMu.Lock()
	defer o.usageMu.Unlock()
	o.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (o *OpenAIClient) GetUsage() *ProviderUsage {
	o.usageMu.RLock()
	defer o.usageMu.RUnlock()

	usage := *o.usage
	return &usage
}
