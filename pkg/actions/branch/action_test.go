package branch

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestExecute_Matches(t *testing.T) {
	action, err := NewAction(map[string]any{
		"conditions": map[string]any{
			"logic": "and",
			"conditions": []any{
				map[string]any{"field": "record.stage", "operator": "equals", "value": "qualified"},
			},
		},
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		Data: map[string]any{
			"record": map[string]any{"stage": "qualified"},
		},
	}

	output, err := action.Execute(context.Background(), executionCtx, testLogger())
	require.NoError(t, err)
	assert.Equal(t, true, output["matched"])

	executionCtx.Data["record"].(map[string]any)["stage"] = "new"

	output, err = action.Execute(context.Background(), executionCtx, testLogger())
	require.NoError(t, err)
	assert.Equal(t, false, output["matched"])
}

func TestExecute_EmptyTreeMatches(t *testing.T) {
	action, err := NewAction(map[string]any{})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ExecutionContext{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, true, output["matched"])
}
