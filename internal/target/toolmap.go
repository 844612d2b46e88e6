// Package target routes resources to tool-specific install paths.
package target

import (
	"fmt"
	"path/filepath"

	"github.com/bianoble/agentdep/internal/manifest"
)

// builtinTools defines the default per-tool base directories.
var builtinTools = map[string]string{
	"claude-code": ".claude/",
	"cursor":      ".cursor/",
	"copilot":     ".github/copilot/",
	"windsurf":    ".windsurf/",
	"cline":       ".cline/",
	"codex":       ".codex/",
}

// typeSubdirs maps resource types to the subdirectory under a tool's base.
var typeSubdirs = map[string]string{
	"agent":   "agents",
	"command": "commands",
	"snippet": "snippets",
}

// ToolMap resolves (resource type, tool, relative path) triples to
// project-relative install destinations.
type ToolMap struct {
	definitions map[string]string
}

// NewToolMap creates a ToolMap with built-in definitions and optional
// custom overrides from the manifest.
func NewToolMap(customDefs []manifest.ToolDefinition) *ToolMap {
	defs := make(map[string]string, len(builtinTools)+len(customDefs))
	for name, dest := range builtinTools {
		defs[name] = dest
	}
	for _, td := range customDefs {
		defs[td.Name] = td.Destination
	}
	return &ToolMap{definitions: defs}
}

// ResolveInstallPath returns the project-relative destination for a
// resource. relPath preserves the directory structure of glob-expanded
// dependencies.
func (tm *ToolMap) ResolveInstallPath(resourceType, tool, relPath string) (string, error) {
	base, ok := tm.definitions[tool]
	if !ok {
		return "", fmt.Errorf("unknown tool '%s' — define it in tool_definitions: [{name: %s, destination: .%s/}]", tool, tool, tool)
	}
	subdir, ok := typeSubdirs[resourceType]
	if !ok {
		return "", fmt.Errorf("unknown resource type '%s'", resourceType)
	}
	return filepath.Join(base, subdir, relPath), nil
}

// Known reports whether a tool name is defined.
func (tm *ToolMap) Known(tool string) bool {
	_, ok := tm.definitions[tool]
	return ok
}
