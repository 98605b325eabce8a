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

// GeminiClient implements the Google Gemini API client
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *ProviderUsage
	usageMu    sync.RWMutex // Protects usage statistics
}

// Gemini API request/response structures
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
			Role string `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta/models",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		usage: &ProviderUsage{
			Provider: ProviderGemini,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the AIClient interface for Gemini
func (g *GeminiClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	startTime := time.Now()

	systemPrompt := req.System
	if systemPrompt == "" {
		systemPrompt = SystemPrompt(req.Capability, req.Language)
	}

	// Gemini has no separate system slot on this endpoint; prepend it.
	geminiReq := &geminiRequest{
		Contents: []geminiContent{
			{
				Role: "user",
				Parts: []geminiPart{
					{Text: systemPrompt + "\n\n" + UserPrompt(req)},
				},
			},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokensFor(req),
			TopP:            0.8,
			TopK:            40,
		},
	}

	model := "gemini-2.0-flash"
	if req.Model != "" {
		model = req.Model
	}
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)

	resp, err := g.makeRequest(ctx, url, geminiReq)
	if err != nil {
		g.incrementErrorCount()
		return &AIResponse{
			ID:        req.ID,
			Provider:  ProviderGemini,
			Error:     err.Error(),
			Duration:  time.Since(startTime),
			CreatedAt: time.Now(),
		}, err
	}

	content := ""
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		content = resp.Candidates[0].Content.Parts[0].Text
	}

	cost := g.calculateCost(resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	g.updateUsage(resp.UsageMetadata.TotalTokenCount, cost, time.Since(startTime))

	return &AIResponse{
		ID:       req.ID,
		Provider: ProviderGemini,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// makeRequest sends HTTP request to Gemini API
func (g *GeminiClient) makeRequest(ctx context.Context, url string, req *geminiRequest) (*geminiResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError("Gemini", resp.StatusCode, body)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if geminiResp.Error != nil {
		return nil, fmt.Errorf("Gemini API error: %s", geminiResp.Error.Message)
	}

	return &geminiResp, nil
}

// GetCapabilities returns capabilities Gemini handles well
func (g *GeminiClient) GetCapabilities() []AICapability {
	return []AICapability{
		CapabilityAppGeneration,
		CapabilityPlanGeneration,
		CapabilityUICodeGeneration,
		CapabilityChat,
	}
}

// GetProvider returns the provider identifier
func (g *GeminiClient) GetProvider() AIProvider {
	return ProviderGemini
}

// Health checks if Gemini API is accessible
func (g *GeminiClient) Health(ctx context.Context) error {
	testReq := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: "Hello"}}},
		},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: 5},
	}
	url := fmt.Sprintf("%s/gemini-2.0-flash:generateContent?key=%s", g.baseURL, g.apiKey)
	_, err := g.makeRequest(ctx, url, testReq)
	return err
}

// calculateCost estimates cost based on Gemini pricing
func (g *GeminiClient) calculateCost(inputTokens, outputTokens int) float64 {
	inputCostPer1K := 0.0001
	outputCostPer1K := 0.0004

	return float64(inputTokens)/1000.0*inputCostPer1K + float64(outputTokens)/1000.0*outputCostPer1K
}

func (g *GeminiClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	g.usageMu.Lock()
	defer g.usageMu.Unlock()

	g.usage.RequestCount++
	g.usage.TotalTokens += int64(totalTokens)
	g.usage.TotalCost += cost
	g.usage.AvgLatency = (g.usage.AvgLatency*float64(g.usage.RequestCount-1) + duration.Seconds()) / float64(g.usage.RequestCount)
	g.usage.LastUsed = time.Now()
}

func (g *GeminiClient) incrementErrorCount() {
	g.usageMu.Lock()
	defer g.usageMu.Unlock()
	g.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (g *GeminiClient) GetUsage() *ProviderUsage {
	g.usageMu.RLock()
	defer g.usageMu.RUnlock()

	usage := *g.usage
	return &usage
}
