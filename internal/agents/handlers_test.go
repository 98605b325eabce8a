package agents

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupHandlerRouter(t *testing.T, userID uint) (*gin.Engine, *Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := NewOrchestrator(testGenerator(), nil)
	h := NewHandlers(o)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if userID != 0 {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	h.RegisterRoutes(api)
	return r, o
}

func TestStartBuildHandler(t *testing.T) {
	r, o := setupHandlerRouter(t, 1)

	body, _ := json.Marshal(BuildRequest{Description: "a todo app"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/builds", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp BuildResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.BuildID == "" || resp.WebSocketURL == "" {
		t.Errorf("response = %+v", resp)
	}

	waitForBuild(t, o, resp.BuildID, BuildCompleted)
}

func TestStartBuildHandlerValidation(t *testing.T) {
	r, _ := setupHandlerRouter(t, 1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/builds", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStartBuildHandlerUnauthenticated(t *testing.T) {
	r, _ := setupHandlerRouter(t, 0)

	body, _ := json.Marshal(BuildRequest{Description: "a todo app"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/builds", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetBuildHandlerOwnership(t *testing.T) {
	r, o := setupHandlerRouter(t, 2)

	build, err := o.StartBuild(1, &BuildRequest{Description: "someone else's app"})
	if err != nil {
		t.Fatal(err)
	}
	waitForBuild(t, o, build.ID, BuildCompleted)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/builds/"+build.ID, nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestGetBuildFilesHandler(t *testing.T) {
	r, o := setupHandlerRouter(t, 1)

	build, err := o.StartBuild(1, &BuildRequest{Description: "a notes app"})
	if err != nil {
		t.Fatal(err)
	}
	waitForBuild(t, o, build.ID, BuildCompleted)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/builds/"+build.ID+"/files", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Files []GeneratedFile `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Files) == 0 {
		t.Error("no files returned")
	}
}

func TestGetBuildHandlerNotFound(t *testing.T) {
	r, _ := setupHandlerRouter(t, 1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/builds/nope", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
