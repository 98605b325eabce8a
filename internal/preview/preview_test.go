package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"appforge/internal/cache"
	"appforge/internal/db"
	"appforge/pkg/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(database.DB, cache.New(nil))
}

func seedFile(t *testing.T, s *Service, projectID uint, path, content string) {
	t.Helper()
	err := s.db.Create(&models.File{
		ProjectID: projectID,
		Path:      path,
		Content:   content,
		Size:      int64(len(content)),
		Generated: true,
	}).Error
	if err != nil {
		t.Fatalf("seed %s: %v", path, err)
	}
}

func TestResolveExactPath(t *testing.T) {
	s := newTestService(t)
	seedFile(t, s, 1, "index.html", "<html>hello</html>")

	file, err := s.Resolve(context.Background(), 1, "/index.html")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if file.Content != "<html>hello</html>" {
		t.Errorf("content = %q", file.Content)
	}
	if file.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", file.ContentType)
	}
}

func TestResolveRootServesIndex(t *testing.T) {
	s := newTestService(t)
	seedFile(t, s, 1, "index.html", "<html>root</html>")

	file, err := s.Resolve(context.Background(), 1, "/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if file.Path != "index.html" {
		t.Errorf("path = %q, want index.html", file.Path)
	}
}

func TestResolveVariations(t *testing.T) {
	s := newTestService(t)
	seedFile(t, s, 1, "about.html", "<html>about</html>")
	seedFile(t, s, 1, "src/app.js", "console.log('hi')")

	if _, err := s.Resolve(context.Background(), 1, "about"); err != nil {
		t.Errorf("about -> about.html variation failed: %v", err)
	}
	if _, err := s.Resolve(context.Background(), 1, "app.js"); err != nil {
		t.Errorf("app.js -> src/app.js variation failed: %v", err)
	}
}

func TestResolveMissingFile(t *testing.T) {
	s := newTestService(t)
	seedFile(t, s, 1, "index.html", "<html></html>")

	if _, err := s.Resolve(context.Background(), 1, "nope.css"); err != ErrFileNotFound {
		t.Errorf("got %v, want ErrFileNotFound", err)
	}
}

func TestSynthesizedIndex(t *testing.T) {
	s := newTestService(t)
	seedFile(t, s, 1, "app.js", "x")
	seedFile(t, s, 1, "styles.css", "y")

	file, err := s.Resolve(context.Background(), 1, "/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(file.Content, "app.js") || !strings.Contains(file.Content, "styles.css") {
		t.Errorf("synthesized index missing manifest entries: %q", file.Content)
	}
}

func TestSynthesizedIndexEmptyProject(t *testing.T) {
	s := newTestService(t)

	if _, err := s.Resolve(context.Background(), 7, "/"); err != ErrFileNotFound {
		t.Errorf("empty project: got %v, want ErrFileNotFound", err)
	}
}

func TestInvalidateDropsCachedContent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedFile(t, s, 1, "index.html", "<html>v1</html>")

	if _, err := s.Resolve(ctx, 1, "index.html"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	// Rewrite behind the cache, then invalidate.
	err := s.db.Model(&models.File{}).
		Where("project_id = ? AND path = ?", 1, "index.html").
		Update("content", "<html>v2</html>").Error
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	s.Invalidate(ctx, 1)

	file, err := s.Resolve(ctx, 1, "index.html")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if file.Content != "<html>v2</html>" {
		t.Errorf("content = %q, want v2", file.Content)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a/b/app.js": "application/javascript; charset=utf-8",
		"style.CSS":  "text/css; charset=utf-8",
		"logo.svg":   "image/svg+xml",
		"schema.sql": "text/plain; charset=utf-8",
		"blob.bin":   "application/octet-stream",
	}
	for path, want := range cases {
		if got := ContentType(path); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestServeHTTP(t *testing.T) {
	s := newTestService(t)
	seedFile(t, s, 1, "index.html", "<html>served</html>")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandlers(s).RegisterRoutes(r.Group("/"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/preview/1/index.html", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "<html>served</html>" {
		t.Errorf("body = %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/preview/1/missing.css", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/preview/1", nil))
	if w.Code != http.StatusOK {
		t.Errorf("manifest status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "index.html") {
		t.Errorf("manifest body = %q", w.Body.String())
	}
}
