package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"appforge/internal/logging"
)

// Handlers exposes the auth HTTP surface.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterPublicRoutes mounts the routes that require no session.
func (h *Handlers) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
}

// RegisterProtectedRoutes mounts the routes behind the auth middleware.
func (h *Handlers) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
	r.GET("/auth/github", h.GitHubAuthURL)
	r.GET("/auth/github/callback", h.GitHubCallback)
	r.GET("/auth/connections", h.Connections)
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, tokens, err := h.service.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	logging.S().Infow("user registered", "user_id", user.ID, "username", user.Username)
	c.JSON(http.StatusCreated, gin.H{"user": user, "tokens": tokens})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, tokens, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "tokens": tokens})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	access, err := h.service.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

func (h *Handlers) Me(c *gin.Context) {
	userID := c.GetUint("user_id")
	user, err := h.service.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// GitHubAuthURL hands the client a fresh authorization URL.
func (h *Handlers) GitHubAuthURL(c *gin.Context) {
	gh := h.service.GitHub()
	if gh == nil || !gh.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "github oauth is not configured"})
		return
	}
	url, state, err := gh.AuthURL()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create authorization url"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": url, "state": state})
}

// GitHubCallback exchanges the code for a token and links the identity.
func (h *Handlers) GitHubCallback(c *gin.Context) {
	gh := h.service.GitHub()
	if gh == nil || !gh.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "github oauth is not configured"})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}
	if !gh.ConsumeState(state) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	userID := c.GetUint("user_id")
	conn, err := h.service.LinkGitHub(c.Request.Context(), userID, code)
	if err != nil {
		logging.S().Warnw("github link failed", "user_id", userID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "github authorization failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":   "github",
		"login":      conn.Login,
		"avatar_url": conn.AvatarURL,
	})
}

func (h *Handlers) Connections(c *gin.Context) {
	userID := c.GetUint("user_id")
	conns, err := h.service.GetConnections(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load connections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// Middleware validates the Bearer token and stores the caller's identity
// on the request context.
func Middleware(jwt *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}
