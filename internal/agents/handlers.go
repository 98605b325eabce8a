package agents

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"appforge/pkg/models"
)

// Handlers exposes the build pipeline over HTTP.
type Handlers struct {
	orchestrator *Orchestrator
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(orchestrator *Orchestrator) *Handlers {
	return &Handlers{orchestrator: orchestrator}
}

// RegisterRoutes attaches build routes to an authenticated group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/builds", h.StartBuild)
	rg.GET("/builds", h.ListBuilds)
	rg.GET("/builds/:buildId", h.GetBuild)
	rg.GET("/builds/:buildId/files", h.GetBuildFiles)
	rg.POST("/builds/:buildId/cancel", h.CancelBuild)
}

func getUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// StartBuild creates a new build from a description.
func (h *Handlers) StartBuild(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}

	build, err := h.orchestrator.StartBuild(userID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, BuildResponse{
		BuildID:      build.ID,
		WebSocketURL: "/api/v1/builds/" + build.ID + "/ws",
		Status:       string(build.Status),
	})
}

// GetBuild returns a build's current state. Finished builds fall back to
// the persisted record.
func (h *Handlers) GetBuild(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	buildID := c.Param("buildId")

	build, err := h.orchestrator.GetBuild(buildID)
	if err == nil {
		if build.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this build"})
			return
		}
		build.mu.RLock()
		defer build.mu.RUnlock()
		c.JSON(http.StatusOK, build)
		return
	}

	record, err := h.findRecord(buildID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetBuildFiles returns the generated files of a build.
func (h *Handlers) GetBuildFiles(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	buildID := c.Param("buildId")

	if build, err := h.orchestrator.GetBuild(buildID); err == nil {
		build.mu.RLock()
		bctx := build.Context
		build.mu.RUnlock()
		if bctx != nil {
			if build.UserID != userID {
				c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this build"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"files": bctx.Snapshot().Files})
			return
		}
	}

	record, err := h.findRecord(buildID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
		return
	}

	var snapshot ContextSnapshot
	if record.ContextJSON != "" {
		if err := json.Unmarshal([]byte(record.ContextJSON), &snapshot); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stored build context is corrupt"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"files": snapshot.Files})
}

// CancelBuild stops a running build.
func (h *Handlers) CancelBuild(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	buildID := c.Param("buildId")

	if err := h.orchestrator.CancelBuild(buildID, userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// ListBuilds returns the user's build history.
func (h *Handlers) ListBuilds(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	records, err := h.orchestrator.ListBuilds(userID, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list builds"})
		return
	}
	if records == nil {
		records = []models.BuildRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"builds": records})
}

func (h *Handlers) findRecord(buildID string, userID uint) (*models.BuildRecord, error) {
	if h.orchestrator.db == nil {
		return nil, gorm.ErrRecordNotFound
	}
	var record models.BuildRecord
	if err := h.orchestrator.db.Where("build_id = ? AND user_id = ?", buildID, userID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
