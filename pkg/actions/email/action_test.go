package email

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/protocol"
)

type fakeMailer struct {
	sent []protocol.EmailMessage
}

func (f *fakeMailer) Send(_ context.Context, message protocol.EmailMessage) error {
	f.sent = append(f.sent, message)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewAction_Validation(t *testing.T) {
	_, err := NewAction(map[string]any{"subject": "hi"}, &fakeMailer{})
	require.ErrorIs(t, err, ErrRecipientsRequired)

	_, err = NewAction(map[string]any{"to": "a@example.test"}, &fakeMailer{})
	require.ErrorIs(t, err, ErrSubjectRequired)
}

func TestExecute_SendsTemplatedMessage(t *testing.T) {
	mailer := &fakeMailer{}

	action, err := NewAction(map[string]any{
		"to":      "{{.record.email}}",
		"cc":      []any{"manager@crm.test"},
		"subject": "New lead: {{.record.name}}",
		"body":    "Say hello to {{.record.name}}.",
	}, mailer)
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		Data: map[string]any{
			"record": map[string]any{
				"name":  "Acme Corp",
				"email": "sales@acme.test",
			},
		},
	}

	output, err := action.Execute(context.Background(), executionCtx, testLogger())
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	message := mailer.sent[0]
	assert.Equal(t, []string{"sales@acme.test"}, message.To)
	assert.Equal(t, []string{"manager@crm.test"}, message.Cc)
	assert.Equal(t, "New lead: Acme Corp", message.Subject)
	assert.Equal(t, "Say hello to Acme Corp.", message.Body)

	assert.Equal(t, true, output["sent"])
	assert.Equal(t, 2, output["recipients"])
}
