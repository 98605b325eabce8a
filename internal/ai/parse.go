package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var codeFenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

// CodeBlock is a fenced block extracted from model output.
type CodeBlock struct {
	Language string
	Content  string
}

// ExtractCodeBlocks returns every fenced code block in the content, in
// order. Models wrap answers in prose; callers usually want the first block.
func ExtractCodeBlocks(content string) []CodeBlock {
	matches := codeFenceRe.FindAllStringSubmatch(content, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(m[1]),
			Content:  strings.TrimRight(m[2], "\n"),
		})
	}
	return blocks
}

// FirstCodeBlock returns the first fenced block, or the whole trimmed
// content when the model skipped the fence.
func FirstCodeBlock(content string) string {
	blocks := ExtractCodeBlocks(content)
	if len(blocks) > 0 {
		return blocks[0].Content
	}
	return strings.TrimSpace(content)
}

// ExtractJSON unmarshals the first JSON object found in model output into
// dest. It tolerates the three shapes models actually produce: bare JSON, a
// ```json fence, and JSON buried in prose.
func ExtractJSON(content string, dest interface{}) error {
	trimmed := strings.TrimSpace(content)

	// Bare JSON first.
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), dest); err == nil {
			return nil
		}
	}

	// Fenced JSON.
	for _, block := range ExtractCodeBlocks(content) {
		if block.Language == "json" || block.Language == "" {
			if err := json.Unmarshal([]byte(block.Content), dest); err == nil {
				return nil
			}
		}
	}

	// JSON buried in prose: widest balanced braces.
	if candidate := balancedJSONObject(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), dest); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no valid JSON object in model output (%d bytes)", len(content))
}

// balancedJSONObject finds the first balanced top-level {...} span,
// ignoring braces inside string literals.
func balancedJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
