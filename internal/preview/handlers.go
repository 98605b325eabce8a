package preview

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the preview over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes attaches the preview routes to an authenticated group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/preview/:projectId", h.ListFiles)
	rg.GET("/preview/:projectId/*filepath", h.Serve)
}

func projectIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("projectId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return uint(id), true
}

// Serve renders one preview asset.
func (h *Handlers) Serve(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	file, err := h.service.Resolve(c.Request.Context(), projectID, c.Param("filepath"))
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			c.Header("Content-Type", "text/html; charset=utf-8")
			c.String(http.StatusNotFound, notFoundPage)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preview failed"})
		return
	}

	c.Header("Content-Type", file.ContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.String(http.StatusOK, file.Content)
}

// ListFiles returns the project manifest.
func (h *Handlers) ListFiles(c *gin.Context) {
	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	files, err := h.service.ListFiles(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

const notFoundPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>404</title>
<style>body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;color:#1a1a2e}</style>
</head>
<body><div><h1>404</h1><p>This file has not been generated yet.</p></div></body>
</html>
`
