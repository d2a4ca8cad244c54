package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath resolves path relative to workspace and, when restrict is
// true, rejects paths that escape the workspace boundary — adapted from
// the teacher's internal/tools/filesystem.go resolvePath, dropping its
// sandbox/symlink-hardening layers (no sandbox container exists in this
// implementation) but keeping the boundary check itself.
func resolvePath(path, workspace string, restrict bool) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}
	if !restrict {
		return resolved, nil
	}
	absWorkspace, _ := filepath.Abs(workspace)
	if !isPathInside(resolved, absWorkspace) {
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return resolved, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// ReadFileTool implements spec §4.4's "file read" capability.
type ReadFileTool struct {
	workspace string
	restrict  bool
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, restrict: restrict}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Path to the file to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, _ AuthContext, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return Errorf("bad_args", "path is required")
	}
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return Errorf("authorization", err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Errorf("io", "failed to read file: %v", err)
	}
	return Ok(string(data))
}

// WriteFileTool implements spec §4.4's "file write" capability.
type WriteFileTool struct {
	workspace string
	restrict  bool
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating parent directories as needed" }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path to the file to write"},
			"content": map[string]interface{}{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, _ AuthContext, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return Errorf("bad_args", "path is required")
	}
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return Errorf("authorization", err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Errorf("io", "failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Errorf("io", "failed to write file: %v", err)
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// GlobTool implements spec §4.4's "file glob" capability.
type GlobTool struct {
	workspace string
	restrict  bool
}

func NewGlobTool(workspace string, restrict bool) *GlobTool { return &GlobTool{workspace: workspace, restrict: restrict} }

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "Find files matching a glob pattern" }
func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(_ context.Context, _ AuthContext, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return Errorf("bad_args", "pattern is required")
	}
	full := filepath.Join(t.workspace, pattern)
	matches, err := filepath.Glob(full)
	if err != nil {
		return Errorf("bad_args", "invalid glob pattern: %v", err)
	}
	sort.Strings(matches)
	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		r, relErr := filepath.Rel(t.workspace, m)
		if relErr != nil {
			r = m
		}
		rel = append(rel, r)
	}
	if len(rel) == 0 {
		return Ok("(no matches)")
	}
	return Ok(strings.Join(rel, "\n"))
}

// GrepTool implements spec §4.4's "file grep" capability: a simple
// substring search over files under the workspace, since the spec does
// not require regex semantics and no grep-specific library appears
// anywhere in the retrieved pack.
type GrepTool struct {
	workspace string
}

func NewGrepTool(workspace string) *GrepTool { return &GrepTool{workspace: workspace} }

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search for a substring across files under a directory" }
func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Substring to search for"},
			"path":  map[string]interface{}{"type": "string", "description": "Directory to search, default workspace root"},
		},
		"required": []string{"query"},
	}
}

func (t *GrepTool) Execute(_ context.Context, _ AuthContext, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return Errorf("bad_args", "query is required")
	}
	root := t.workspace
	if p, _ := args["path"].(string); p != "" {
		resolved, err := resolvePath(p, t.workspace, true)
		if err != nil {
			return Errorf("authorization", err.Error())
		}
		root = resolved
	}

	var hits []string
	const maxHits = 200
	err := filepath.Walk(root, func(p string, info os.FileInfo, werr error) error {
		if werr != nil || info.IsDir() || len(hits) >= maxHits {
			return nil
		}
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, query) {
				rel, _ := filepath.Rel(t.workspace, p)
				hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(hits) >= maxHits {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return Errorf("io", "grep walk failed: %v", err)
	}
	if len(hits) == 0 {
		return Ok("(no matches)")
	}
	return Ok(strings.Join(hits, "\n"))
}
