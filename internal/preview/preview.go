// Package preview serves a project's generated files over HTTP so the
// client can render them when an in-browser runtime is unavailable.
package preview

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/gorm"

	"appforge/internal/cache"
	"appforge/pkg/models"
)

// ErrFileNotFound is returned when neither the path nor any of its
// common variations exist in the project.
var ErrFileNotFound = errors.New("file not found")

// Service resolves preview file requests against the project file table,
// fronted by the shared cache.
type Service struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewService(db *gorm.DB, c *cache.Cache) *Service {
	return &Service{db: db, cache: c}
}

// File is one resolved preview asset.
type File struct {
	Path        string `json:"path"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func previewKey(projectID uint, path string) string {
	return fmt.Sprintf("preview:%d:%s", projectID, path)
}

// Resolve loads the file at path for the project, trying the usual
// variations a static site expects when the exact path is missing.
func (s *Service) Resolve(ctx context.Context, projectID uint, path string) (*File, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		path = "index.html"
	}

	var cached File
	if s.cache.GetJSON(ctx, previewKey(projectID, path), &cached) {
		return &cached, nil
	}

	variations := []string{
		path,
		path + ".html",
		path + "/index.html",
		"public/" + path,
		"src/" + path,
	}

	var file models.File
	found := false
	for _, v := range variations {
		err := s.db.WithContext(ctx).
			Where("project_id = ? AND path = ?", projectID, v).
			First(&file).Error
		if err == nil {
			found = true
			break
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("preview lookup failed: %w", err)
		}
	}

	if !found {
		// A project without an index still gets a rendered page.
		if path == "index.html" {
			return s.synthesizeIndex(ctx, projectID)
		}
		return nil, ErrFileNotFound
	}

	result := &File{
		Path:        file.Path,
		Content:     file.Content,
		ContentType: ContentType(file.Path),
		Size:        file.Size,
	}
	s.cache.SetJSON(ctx, previewKey(projectID, path), result, cache.PreviewTTL)
	return result, nil
}

// ListFiles returns the project's file manifest, paths only.
func (s *Service) ListFiles(ctx context.Context, projectID uint) ([]File, error) {
	var files []models.File
	err := s.db.WithContext(ctx).
		Select("path", "size").
		Where("project_id = ?", projectID).
		Order("path").
		Find(&files).Error
	if err != nil {
		return nil, err
	}

	out := make([]File, 0, len(files))
	for _, f := range files {
		out = append(out, File{
			Path:        f.Path,
			ContentType: ContentType(f.Path),
			Size:        f.Size,
		})
	}
	return out, nil
}

// Invalidate drops cached entries for a project. The orchestrator calls
// this after a build rewrites files.
func (s *Service) Invalidate(ctx context.Context, projectID uint) {
	s.cache.InvalidatePrefix(ctx, fmt.Sprintf("preview:%d:", projectID))
}

// synthesizeIndex builds a landing page from the project manifest when no
// index.html was generated.
func (s *Service) synthesizeIndex(ctx context.Context, projectID uint) (*File, error) {
	files, err := s.ListFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrFileNotFound
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Preview</title>\n")
	b.WriteString("<style>body{font-family:system-ui,sans-serif;margin:40px;color:#1a1a2e}ul{line-height:1.8}</style>\n")
	b.WriteString("</head>\n<body>\n<h1>Project files</h1>\n<ul>\n")
	for _, f := range files {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", f.Path, f.Path)
	}
	b.WriteString("</ul>\n</body>\n</html>\n")

	content := b.String()
	return &File{
		Path:        "index.html",
		Content:     content,
		ContentType: "text/html; charset=utf-8",
		Size:        int64(len(content)),
	}, nil
}

var contentTypes = map[string]string{
	".html":   "text/html; charset=utf-8",
	".htm":    "text/html; charset=utf-8",
	".css":    "text/css; charset=utf-8",
	".js":     "application/javascript; charset=utf-8",
	".mjs":    "application/javascript; charset=utf-8",
	".json":   "application/json; charset=utf-8",
	".xml":    "application/xml; charset=utf-8",
	".svg":    "image/svg+xml",
	".png":    "image/png",
	".jpg":    "image/jpeg",
	".jpeg":   "image/jpeg",
	".gif":    "image/gif",
	".ico":    "image/x-icon",
	".woff":   "font/woff",
	".woff2":  "font/woff2",
	".ttf":    "font/ttf",
	".txt":    "text/plain; charset=utf-8",
	".md":     "text/markdown; charset=utf-8",
	".sql":    "text/plain; charset=utf-8",
	".ts":     "application/typescript; charset=utf-8",
	".tsx":    "application/typescript; charset=utf-8",
	".jsx":    "application/javascript; charset=utf-8",
	".vue":    "application/javascript; charset=utf-8",
	".svelte": "application/javascript; charset=utf-8",
}

// ContentType maps a file path to its MIME type.
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}
