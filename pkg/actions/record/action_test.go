package record

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/models"
)

// fakeRecordService records calls for assertions.
type fakeRecordService struct {
	created     map[string]any
	updated     map[string]any
	updatedID   string
	deletedID   string
	assignedTo  string
	addedTags   []string
	removedTags []string
}

func (f *fakeRecordService) CreateRecord(_ context.Context, _ string, fields map[string]any) (map[string]any, error) {
	f.created = fields

	out := map[string]any{"id": "new-1"}
	for k, v := range fields {
		out[k] = v
	}

	return out, nil
}

func (f *fakeRecordService) UpdateRecord(_ context.Context, _, recordID string, fields map[string]any) (map[string]any, error) {
	f.updatedID = recordID
	f.updated = fields

	return fields, nil
}

func (f *fakeRecordService) DeleteRecord(_ context.Context, _, recordID string) error {
	f.deletedID = recordID

	return nil
}

func (f *fakeRecordService) AssignOwner(_ context.Context, _, _, userID string) error {
	f.assignedTo = userID

	return nil
}

func (f *fakeRecordService) AddTags(_ context.Context, _, _ string, tags []string) error {
	f.addedTags = tags

	return nil
}

func (f *fakeRecordService) RemoveTags(_ context.Context, _, _ string, tags []string) error {
	f.removedTags = tags

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testExecutionContext() models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Data: map[string]any{
			"record_type": "lead",
			"record": map[string]any{
				"id":    "lead-9",
				"name":  "Acme Corp",
				"email": "sales@acme.test",
			},
		},
		StepOutputs: map[string]any{},
	}
}

func TestCreateAction_TemplatesFields(t *testing.T) {
	service := &fakeRecordService{}

	factory := NewCreateFactory(service)
	action, err := factory.Create(context.Background(), map[string]any{
		"record_type": "task",
		"fields": map[string]any{
			"title": "Follow up with {{.record.name}}",
			"due":   "tomorrow",
		},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), testExecutionContext(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "Follow up with Acme Corp", service.created["title"])
	assert.Equal(t, "new-1", output["record"].(map[string]any)["id"])
}

func TestUpdateAction_DefaultsToTriggerRecord(t *testing.T) {
	service := &fakeRecordService{}

	action, err := NewUpdateFactory(service).Create(context.Background(), map[string]any{
		"fields": map[string]any{"stage": "qualified"},
	})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), testExecutionContext(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "lead-9", service.updatedID)
	assert.Equal(t, "qualified", service.updated["stage"])
}

func TestUpdateAction_RequiresFields(t *testing.T) {
	_, err := NewUpdateFactory(&fakeRecordService{}).Create(context.Background(), map[string]any{})
	require.ErrorIs(t, err, ErrFieldsRequired)
}

func TestDeleteAction(t *testing.T) {
	service := &fakeRecordService{}

	action, err := NewDeleteFactory(service).Create(context.Background(), map[string]any{})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), testExecutionContext(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "lead-9", service.deletedID)
	assert.Equal(t, true, output["deleted"])
}

func TestAssignAction_TemplatedUserID(t *testing.T) {
	service := &fakeRecordService{}

	action, err := NewAssignUserFactory(service).Create(context.Background(), map[string]any{
		"user_id": "{{.step_outputs.pick_owner.user_id}}",
	})
	require.NoError(t, err)

	executionCtx := testExecutionContext()
	executionCtx.StepOutputs["pick_owner"] = map[string]any{"user_id": "user-3"}

	_, err = action.Execute(context.Background(), executionCtx, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "user-3", service.assignedTo)
}

func TestTagActions(t *testing.T) {
	service := &fakeRecordService{}

	add, err := NewAddTagFactory(service).Create(context.Background(), map[string]any{
		"tags": []any{"hot", "{{.record.name}}"},
	})
	require.NoError(t, err)

	_, err = add.Execute(context.Background(), testExecutionContext(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"hot", "Acme Corp"}, service.addedTags)

	remove, err := NewRemoveTagFactory(service).Create(context.Background(), map[string]any{
		"tags": []any{"cold"},
	})
	require.NoError(t, err)

	_, err = remove.Execute(context.Background(), testExecutionContext(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"cold"}, service.removedTags)
}

func TestExecute_MissingRecordIDFails(t *testing.T) {
	action, err := NewDeleteFactory(&fakeRecordService{}).Create(context.Background(), map[string]any{})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{Data: map[string]any{"record_type": "lead"}}

	_, err = action.Execute(context.Background(), executionCtx, testLogger())
	require.ErrorIs(t, err, ErrRecordIDRequired)
}
