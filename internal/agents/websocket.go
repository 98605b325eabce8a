package agents

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"appforge/internal/logging"
	"appforge/internal/metrics"
)

// TokenValidator resolves a token string from the query parameter to a user
// ID. The auth package provides the implementation.
type TokenValidator func(token string) (uint, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			for _, allowed := range strings.Split(envOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					return true
				}
			}
			return false
		}

		// Non-production: allow all for local development
		return os.Getenv("ENVIRONMENT") != "production"
	},
}

// WSHub manages WebSocket connections for builds
type WSHub struct {
	connections   map[string]map[*WSConnection]bool
	register      chan *registerRequest
	unregister    chan *WSConnection
	orchestrator  *Orchestrator
	validateToken TokenValidator
	mu            sync.RWMutex
}

// WSConnection represents a single WebSocket connection
type WSConnection struct {
	hub       *WSHub
	conn      *websocket.Conn
	buildID   string
	userID    uint
	send      chan []byte
	closeOnce sync.Once
}

type registerRequest struct {
	conn    *WSConnection
	buildID string
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(orchestrator *Orchestrator, validateToken TokenValidator) *WSHub {
	hub := &WSHub{
		connections:   make(map[string]map[*WSConnection]bool),
		register:      make(chan *registerRequest),
		unregister:    make(chan *WSConnection),
		orchestrator:  orchestrator,
		validateToken: validateToken,
	}
	go hub.run()
	return hub
}

// run handles WebSocket events
func (h *WSHub) run() {
	for {
		select {
		case req := <-h.register:
			h.mu.Lock()
			if h.connections[req.buildID] == nil {
				h.connections[req.buildID] = make(map[*WSConnection]bool)
			}
			h.connections[req.buildID][req.conn] = true
			h.mu.Unlock()

			metrics.Get().WebSocketConnections.Inc()
			logging.L().Debug("websocket client connected",
				zap.String("build_id", req.buildID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.buildID]; ok {
				if _, ok := conns[conn]; ok {
					delete(conns, conn)
					conn.closeSend()
					metrics.Get().WebSocketConnections.Dec()
				}
			}
			h.mu.Unlock()

			logging.L().Debug("websocket client disconnected",
				zap.String("build_id", conn.buildID))
		}
	}
}

func (c *WSConnection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// HandleWebSocket handles new WebSocket connections
func (h *WSHub) HandleWebSocket(c *gin.Context) {
	buildID := c.Param("buildId")
	if buildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "build_id is required"})
		return
	}

	build, err := h.orchestrator.GetBuild(buildID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
		return
	}

	// User ID from auth middleware, or token query param for browser
	// WebSocket clients that cannot set headers.
	var uid uint
	if userID, exists := c.Get("user_id"); exists {
		uid, _ = userID.(uint)
	} else {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		uid, err = h.validateToken(token)
		if err != nil {
			logging.L().Warn("websocket token rejected",
				zap.String("build_id", buildID),
				zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	if uid != build.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this build"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed",
			zap.String("build_id", buildID),
			zap.Error(err))
		return
	}

	wsConn := &WSConnection{
		hub:     h,
		conn:    conn,
		buildID: buildID,
		userID:  uid,
		send:    make(chan []byte, 256),
	}

	h.register <- &registerRequest{conn: wsConn, buildID: buildID}

	// Forward orchestrator events to this connection.
	updateChan := make(chan *WSMessage, 100)
	h.orchestrator.Subscribe(buildID, updateChan)

	go func() {
		for msg := range updateChan {
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			select {
			case wsConn.send <- data:
			default:
				// Buffer full: drop rather than block the pipeline.
			}
		}
	}()

	confirmMsg := &WSMessage{
		Type:      "connection:established",
		BuildID:   buildID,
		Timestamp: time.Now(),
		Data:      map[string]any{"status": string(build.Status)},
	}
	if data, err := json.Marshal(confirmMsg); err == nil {
		select {
		case wsConn.send <- data:
		default:
		}
	}

	go wsConn.writePump()
	go wsConn.readPump(updateChan)
}

// writePump sends messages to the WebSocket connection
func (c *WSConnection) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			metrics.Get().WebSocketMessages.WithLabelValues("out").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection
func (c *WSConnection) readPump(updateChan chan *WSMessage) {
	defer func() {
		c.hub.orchestrator.Unsubscribe(c.buildID, updateChan)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Debug("websocket read error", zap.Error(err))
			}
			break
		}

		metrics.Get().WebSocketMessages.WithLabelValues("in").Inc()
		c.handleMessage(message)
	}
}

// handleMessage processes incoming WebSocket messages
func (c *WSConnection) handleMessage(message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "build:cancel":
		if err := c.hub.orchestrator.CancelBuild(c.buildID, c.userID); err != nil {
			logging.L().Warn("websocket cancel failed",
				zap.String("build_id", c.buildID),
				zap.Error(err))
		}
	case "ping":
		pong, _ := json.Marshal(map[string]string{"type": "pong"})
		select {
		case c.send <- pong:
		default:
		}
	}
}
