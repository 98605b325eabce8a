package ai

import (
	"fmt"
	"strings"
)

// SystemPrompt returns the capability-specific system prompt shared by all
// providers.
func SystemPrompt(capability AICapability, language string) string {
	basePrompt := `You are an expert full-stack developer for AppForge, a platform that turns plain-language descriptions into working web applications.

RULES - ALWAYS FOLLOW:
1. Output complete, runnable code - no placeholders, no TODO comments, no elided sections
2. When asked for JSON, respond with a single JSON object and nothing else
3. Include every import and handle errors in generated code
4. Prefer plain HTML/CSS/JS or React depending on the requested framework
5. Never invent credentials; mark clearly where the user must supply their own`

	switch capability {
	case CapabilityAppGeneration:
		return basePrompt + `

Generate a complete application scaffold as JSON:
{"name": string, "description": string, "framework": string, "files": [{"path": string, "content": string}], "features": [string]}
Every file's content must be the full file, ready to write to disk.`

	case CapabilityCodeCustomization:
		return basePrompt + `

You customize existing generated code. Apply the requested change and return JSON:
{"files": [{"path": string, "content": string}], "summary": string}
Return only the files you changed, each with its complete new content.`

	case CapabilityDesignSearch:
		return basePrompt + `

You research UI design patterns. Return JSON:
{"references": [{"title": string, "description": string, "patterns": [string], "palette": [string]}]}
Describe real, widely used design approaches for the requested kind of interface.`

	case CapabilityUICodeGeneration:
		return basePrompt + `

Generate user interface code from a design description. Return a single fenced code block containing the complete component or page.`

	case CapabilityPlanGeneration:
		return basePrompt + `

Produce a build plan as JSON:
{"app_name": string, "summary": string, "framework": string, "steps": [{"step": string, "description": string}], "features": [string]}
Steps must be drawn from: ui, api, database, auth, integration, deployment.`

	default:
		if language != "" {
			return fmt.Sprintf("%s\n\nAssist with %s development tasks.", basePrompt, language)
		}
		return basePrompt + "\n\nAnswer the user's question about their application concisely."
	}
}

// UserPrompt constructs the user-facing prompt from the request.
func UserPrompt(req *AIRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)

	if req.Code != "" {
		fmt.Fprintf(&b, "\n\nCurrent code:\n```%s\n%s\n```", req.Language, req.Code)
	}

	if req.Context != nil {
		if appType, ok := req.Context["app_type"].(string); ok && appType != "" {
			fmt.Fprintf(&b, "\n\nApplication type: %s", appType)
		}
		if framework, ok := req.Context["framework"].(string); ok && framework != "" {
			fmt.Fprintf(&b, "\nTarget framework: %s", framework)
		}
		if summary, ok := req.Context["build_summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "\n\nBuild so far:\n%s", summary)
		}
	}

	return b.String()
}

// maxTokensFor determines the response budget for a request.
func maxTokensFor(req *AIRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}

	switch req.Capability {
	case CapabilityAppGeneration:
		return 8000
	case CapabilityCodeCustomization, CapabilityUICodeGeneration:
		return 4000
	case CapabilityPlanGeneration:
		return 2000
	case CapabilityDesignSearch:
		return 1500
	default:
		return 1000
	}
}
