package tool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultShellTimeout   = 60
	defaultMaxOutputBytes = 10000
)

// DefaultDenyPatterns blocks obviously destructive commands. Matching is a
// case-insensitive substring test.
func DefaultDenyPatterns() []string {
	return []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs",
		"dd if=",
		":(){:|:&};:",
		"chmod -R 777 /",
		"> /dev/sda",
		"mv /* /dev/null",
		"shutdown",
		"reboot",
	}
}

// ExecTool runs a shell command through `sh -c`.
type ExecTool struct {
	workingDir          string
	timeout             time.Duration
	maxOutputBytes      int
	denyPatterns        []string
	restrictToWorkspace bool
}

type ShellConfig struct {
	WorkingDir          string
	TimeoutSeconds      int
	MaxOutputBytes      int
	DenyPatterns        []string
	RestrictToWorkspace bool
}

func NewExecTool(cfg ShellConfig) *ExecTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	deny := make([]string, len(cfg.DenyPatterns))
	for i, p := range cfg.DenyPatterns {
		deny[i] = strings.ToLower(p)
	}
	return &ExecTool{
		workingDir:          cfg.WorkingDir,
		timeout:             time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxOutputBytes:      cfg.MaxOutputBytes,
		denyPatterns:        deny,
		restrictToWorkspace: cfg.RestrictToWorkspace,
	}
}

func (s *ExecTool) Name() string { return "exec" }

func (s *ExecTool) Description() string {
	return "Execute a shell command. Use for running terminal commands, scripts, or any CLI tool. Returns stdout and stderr."
}

func (s *ExecTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"command":     {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
			"working_dir": {Type: "string", Description: "Optional working directory (defaults to the workspace)"},
		},
		[]string{"command"},
	)
}

func (s *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("missing argument: command")
	}
	if pattern := s.denied(command); pattern != "" {
		return "", fmt.Errorf("command blocked by safety guard (matched %q)", pattern)
	}

	dir := s.workingDir
	if dir == "" {
		dir = "."
	}
	if wd := ArgsString(args, "working_dir"); wd != "" {
		resolved, err := resolvePath(s.workingDir, wd, s.restrictToWorkspace)
		if err != nil {
			return "", err
		}
		dir = resolved
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = absDir
	// Children of sh may keep the output pipe open after the kill.
	cmd.WaitDelay = 2 * time.Second

	output, err := cmd.CombinedOutput()
	result := s.truncate(string(output))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("command timed out after %s", s.timeout)
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("command cancelled")
		}
		return result, fmt.Errorf("exit: %w", err)
	}
	if result == "" {
		return "(no output)", nil
	}
	return result, nil
}

func (s *ExecTool) denied(command string) string {
	lower := strings.ToLower(command)
	for _, p := range s.denyPatterns {
		if p != "" && strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

func (s *ExecTool) truncate(out string) string {
	if s.maxOutputBytes > 0 && len(out) > s.maxOutputBytes {
		return out[:s.maxOutputBytes] + fmt.Sprintf("\n... (output truncated, %d more bytes)", len(out)-s.maxOutputBytes)
	}
	return out
}
