package guide

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"appforge/internal/metrics"
)

// Handlers exposes the guide over HTTP.
type Handlers struct {
	guide *Guide
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(g *Guide) *Handlers {
	return &Handlers{guide: g}
}

// RegisterRoutes attaches guide routes to an authenticated group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/guide/start", h.Start)
	rg.POST("/guide/message", h.Message)
	rg.GET("/guide/session", h.Session)
}

func userIDFrom(c *gin.Context) (uint, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// Start begins a guide session.
func (h *Handlers) Start(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	metrics.Get().GuideSessionsTotal.Inc()
	c.JSON(http.StatusOK, h.guide.Start(userID))
}

// Message handles one user message.
func (h *Handlers) Message(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	reply, err := h.guide.Handle(userID, req.Message)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	metrics.Get().GuideMessagesTotal.WithLabelValues(string(ClassifyIntent(req.Message))).Inc()
	c.JSON(http.StatusOK, reply)
}

// Session returns the user's current position.
func (h *Handlers) Session(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	session := h.guide.GetSession(userID)
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, session)
}
