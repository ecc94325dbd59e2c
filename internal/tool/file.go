package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"conduit/internal/domain"
)

const maxReadBytes = 256 * 1024

// resolvePath resolves a file path relative to the workspace. When restrict
// is set, paths outside the workspace are rejected.
func resolvePath(workspace, path string, restrict bool) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if restrict && workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if !strings.HasPrefix(resolved, wsAbs+string(filepath.Separator)) && resolved != wsAbs {
			return "", fmt.Errorf("path %q is outside workspace %q", resolved, wsAbs)
		}
	}
	return resolved, nil
}

// FileConfig is shared by the filesystem tools.
type FileConfig struct {
	Workspace           string
	RestrictToWorkspace bool
}

// --- ReadFileTool ---

type ReadFileTool struct {
	cfg FileConfig
}

func NewReadFileTool(cfg FileConfig) *ReadFileTool {
	return &ReadFileTool{cfg: cfg}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Provide the file path relative to workspace or absolute."
}
func (t *ReadFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path": {Type: "string", Description: "File path to read (relative to workspace or absolute)"},
		},
		[]string{"path"},
	)
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := ArgsString(args, "path")
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.cfg.Workspace, path, t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n... (file truncated)", nil
	}
	return string(data), nil
}

// --- WriteFileTool ---

// WriteFileTool writes content to a file, creating parent directories as needed.
type WriteFileTool struct {
	cfg FileConfig
}

func NewWriteFileTool(cfg FileConfig) *WriteFileTool {
	return &WriteFileTool{cfg: cfg}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file if it does not exist; overwrites if it exists."
}
func (t *WriteFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path":    {Type: "string", Description: "File path to write (relative to workspace or absolute)"},
			"content": {Type: "string", Description: "Content to write to the file"},
		},
		[]string{"path", "content"},
	)
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := ArgsString(args, "path")
	content := ArgsString(args, "content")
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.cfg.Workspace, path, t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved), nil
}

// --- EditFileTool ---

type editFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path to edit (relative to workspace or absolute)"`
	OldText string `json:"old_text" jsonschema:"required,description=Exact text to replace. Must occur exactly once in the file"`
	NewText string `json:"new_text" jsonschema:"required,description=Replacement text"`
}

// EditFileTool replaces one exact occurrence of a text fragment.
type EditFileTool struct {
	cfg FileConfig
}

func NewEditFileTool(cfg FileConfig) *EditFileTool {
	return &EditFileTool{cfg: cfg}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. old_text must match exactly and appear only once."
}
func (t *EditFileTool) Parameters() map[string]any { return SchemaFor[editFileArgs]() }

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	in, err := DecodeArgs[editFileArgs](args)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	if in.OldText == "" {
		return "", fmt.Errorf("missing argument: old_text")
	}
	resolved, err := resolvePath(t.cfg.Workspace, in.Path, t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	switch n := strings.Count(content, in.OldText); {
	case n == 0:
		return "", fmt.Errorf("old_text not found in %s", in.Path)
	case n > 1:
		return "", fmt.Errorf("old_text appears %d times in %s; provide more context", n, in.Path)
	}
	content = strings.Replace(content, in.OldText, in.NewText, 1)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("Edited %s", resolved), nil
}

// --- ListDirTool ---

// ListDirTool lists files and directories at a given path.
type ListDirTool struct {
	cfg FileConfig
}

func NewListDirTool(cfg FileConfig) *ListDirTool {
	return &ListDirTool{cfg: cfg}
}

func (t *ListDirTool) Name() string { return "list_dir" }
func (t *ListDirTool) Description() string {
	return "List files and directories at the given path. Use '.' or empty for the workspace root."
}
func (t *ListDirTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path": {Type: "string", Description: "Directory path to list (use '.' for the workspace root)"},
		},
		nil,
	)
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := ArgsString(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(t.cfg.Workspace, path, t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list dir: %w", err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	var lines []string
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, e.Name()+"/")
			continue
		}
		size := ""
		if info, err := e.Info(); err == nil {
			size = fmt.Sprintf(" %d", info.Size())
		}
		lines = append(lines, e.Name()+size)
	}
	return strings.Join(lines, "\n"), nil
}

// Compile-time interface checks.
var (
	_ domain.Tool = (*ReadFileTool)(nil)
	_ domain.Tool = (*WriteFileTool)(nil)
	_ domain.Tool = (*EditFileTool)(nil)
	_ domain.Tool = (*ListDirTool)(nil)
)
