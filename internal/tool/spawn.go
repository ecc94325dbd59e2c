package tool

import (
	"context"
	"fmt"

	"conduit/internal/domain"
)

// Spawner starts a background subagent whose result is reported to origin.
type Spawner interface {
	Spawn(ctx context.Context, task, label string, origin domain.Destination) (string, error)
}

type SpawnTool struct {
	spawner Spawner
}

func NewSpawnTool(spawner Spawner) *SpawnTool {
	return &SpawnTool{spawner: spawner}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Spawn a subagent to work on a task in the background. It reports back to this chat when done."
}
func (t *SpawnTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"task":  {Type: "string", Description: "Self-contained description of the task"},
			"label": {Type: "string", Description: "Optional short label for the task"},
		},
		[]string{"task"},
	)
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task := ArgsString(args, "task")
	if task == "" {
		return "", fmt.Errorf("missing argument: task")
	}
	scope, ok := ScopeFrom(ctx)
	if !ok || scope.Channel == "" || scope.ChatID == "" {
		return "", fmt.Errorf("spawn needs a conversation to report back to")
	}
	origin := domain.Destination{Channel: scope.Channel, ChatID: scope.ChatID}
	return t.spawner.Spawn(ctx, task, ArgsString(args, "label"), origin)
}
