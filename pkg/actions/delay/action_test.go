package delay

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewAction(t *testing.T) {
	action, err := NewAction(map[string]any{"seconds": 1.5})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, action.Duration)

	_, err = NewAction(map[string]any{})
	assert.ErrorIs(t, err, ErrDurationInvalid)

	_, err = NewAction(map[string]any{"seconds": -3.0})
	assert.ErrorIs(t, err, ErrDurationInvalid)

	_, err = NewAction(map[string]any{"seconds": 7200.0})
	assert.ErrorIs(t, err, ErrDurationInvalid)
}

func TestExecute_Waits(t *testing.T) {
	action := &Action{Duration: 20 * time.Millisecond}

	start := time.Now()
	output, err := action.Execute(context.Background(), models.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(20), output["delayed_ms"])
}

func TestExecute_Cancelled(t *testing.T) {
	action := &Action{Duration: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := action.Execute(ctx, models.ExecutionContext{}, testLogger())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
