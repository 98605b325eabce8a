package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"appforge/internal/ai"
	"appforge/internal/db"
	"appforge/internal/logging"
	"appforge/internal/metrics"
	"appforge/pkg/models"
)

// AIHandlers exposes direct AI generation, separate from the build
// pipeline: generic routing plus per-provider passthrough.
type AIHandlers struct {
	router   *ai.Router
	database *db.Database
}

func NewAIHandlers(router *ai.Router, database *db.Database) *AIHandlers {
	return &AIHandlers{router: router, database: database}
}

// RegisterRoutes attaches AI routes to an authenticated group.
func (h *AIHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ai/generate", h.Generate)
	rg.POST("/ai/proxy/:provider", h.Proxy)
	rg.GET("/ai/providers", h.Providers)
	rg.GET("/ai/usage", h.Usage)
}

type generateRequest struct {
	Prompt      string                 `json:"prompt" binding:"required"`
	Capability  string                 `json:"capability"`
	Provider    string                 `json:"provider"`
	Code        string                 `json:"code"`
	Language    string                 `json:"language"`
	Context     map[string]interface{} `json:"context"`
	Temperature *float32               `json:"temperature"`
	MaxTokens   *int                   `json:"max_tokens"`
	ProjectID   *uint                  `json:"project_id"`
}

var validCapabilities = map[string]ai.AICapability{
	"app_generation":     ai.CapabilityAppGeneration,
	"code_customization": ai.CapabilityCodeCustomization,
	"design_search":      ai.CapabilityDesignSearch,
	"ui_code_generation": ai.CapabilityUICodeGeneration,
	"plan_generation":    ai.CapabilityPlanGeneration,
	"chat":               ai.CapabilityChat,
}

// Generate routes a request by capability, with automatic provider
// selection and fallback.
func (h *AIHandlers) Generate(c *gin.Context) {
	h.generate(c, "")
}

// Proxy forces a specific provider, mirroring the per-provider endpoints
// the client expects.
func (h *AIHandlers) Proxy(c *gin.Context) {
	provider := ai.AIProvider(c.Param("provider"))
	switch provider {
	case ai.ProviderClaude, ai.ProviderGemini, ai.ProviderPerplexity, ai.ProviderOpenAI:
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	h.generate(c, provider)
}

func (h *AIHandlers) generate(c *gin.Context, forced ai.AIProvider) {
	userID := c.GetUint("user_id")

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt cannot be empty"})
		return
	}
	if !utf8.ValidString(req.Prompt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt contains invalid characters"})
		return
	}
	if len(req.Prompt) > ai.MaxPromptLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt exceeds maximum length"})
		return
	}
	if len(req.Code) > ai.MaxCodeLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code exceeds maximum length"})
		return
	}

	capability := ai.CapabilityChat
	if req.Capability != "" {
		var ok bool
		capability, ok = validCapabilities[req.Capability]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid capability"})
			return
		}
	}

	aiReq := &ai.AIRequest{
		ID:         uuid.New().String(),
		Provider:   forced,
		Capability: capability,
		Prompt:     req.Prompt,
		Code:       req.Code,
		Language:   req.Language,
		Context:    req.Context,
		UserID:     strconv.Itoa(int(userID)),
		CreatedAt:  time.Now(),
	}
	if forced == "" && req.Provider != "" {
		aiReq.Provider = ai.AIProvider(req.Provider)
	}
	if req.Temperature != nil {
		aiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		aiReq.MaxTokens = *req.MaxTokens
	}
	if req.ProjectID != nil {
		aiReq.ProjectID = strconv.Itoa(int(*req.ProjectID))
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := h.router.Generate(ctx, aiReq)
	duration := time.Since(start)

	h.logRequest(userID, req.ProjectID, aiReq, resp, err, duration)

	if err != nil {
		metrics.Get().RecordAIRequest(string(aiReq.Provider), string(capability), "error", duration, 0, 0, 0)

		msg := "AI generation failed, please try again"
		code := http.StatusBadGateway
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "RATE_LIMIT"):
			msg = "AI service is busy, try again shortly"
			code = http.StatusTooManyRequests
		case strings.Contains(errStr, "deadline"):
			msg = "request timed out, try a shorter prompt"
			code = http.StatusGatewayTimeout
		}
		c.JSON(code, gin.H{"error": msg})
		return
	}

	status := "success"
	if resp.Mocked {
		status = "mocked"
	}
	var in, out int
	var cost float64
	if resp.Usage != nil {
		in, out, cost = resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.Cost
	}
	metrics.Get().RecordAIRequest(string(resp.Provider), string(capability), status, duration, in, out, cost)

	c.JSON(http.StatusOK, gin.H{
		"id":       resp.ID,
		"provider": resp.Provider,
		"content":  resp.Content,
		"usage":    resp.Usage,
		"mocked":   resp.Mocked,
		"duration": resp.Duration.String(),
	})
}

// Providers reports which providers are configured and their health.
func (h *AIHandlers) Providers(c *gin.Context) {
	health := h.router.GetHealthStatus()
	providers := make([]gin.H, 0, len(health))
	for provider, up := range health {
		providers = append(providers, gin.H{"provider": provider, "healthy": up})
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// Usage reports per-provider request, token, and cost totals.
func (h *AIHandlers) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usage": h.router.GetProviderUsage()})
}

// logRequest records the generation in the audit table. Failures here are
// logged and swallowed; the response already went out.
func (h *AIHandlers) logRequest(userID uint, projectID *uint, req *ai.AIRequest, resp *ai.AIResponse, genErr error, duration time.Duration) {
	if h.database == nil {
		return
	}

	record := models.AIRequest{
		RequestID:  req.ID,
		UserID:     userID,
		ProjectID:  projectID,
		Provider:   string(req.Provider),
		Capability: string(req.Capability),
		Prompt:     truncate(req.Prompt, 10000),
		Duration:   duration.Milliseconds(),
		Status:     "completed",
	}
	if resp != nil {
		record.Provider = string(resp.Provider)
		record.Response = truncate(resp.Content, 10000)
		if resp.Usage != nil {
			record.TokensUsed = resp.Usage.TotalTokens
			record.Cost = resp.Usage.Cost
		}
		if resp.Mocked {
			record.Status = "mocked"
		}
	}
	if genErr != nil {
		record.Status = "failed"
		record.ErrorMsg = genErr.Error()
	}

	if err := h.database.Create(&record).Error; err != nil {
		logging.S().Warnw("failed to log ai request", "request_id", req.ID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
