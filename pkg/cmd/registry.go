// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/helixcrm/flowengine/pkg/actions/branch"
	"github.com/helixcrm/flowengine/pkg/actions/delay"
	"github.com/helixcrm/flowengine/pkg/actions/email"
	"github.com/helixcrm/flowengine/pkg/actions/notify"
	"github.com/helixcrm/flowengine/pkg/actions/record"
	"github.com/helixcrm/flowengine/pkg/actions/webhook"
	"github.com/helixcrm/flowengine/pkg/protocol"
	"github.com/helixcrm/flowengine/pkg/registry"
	"github.com/helixcrm/flowengine/pkg/services"
)

// CRMBackend is the single backend every CRM-facing action talks to.
type CRMBackend interface {
	protocol.RecordService
	protocol.Mailer
	protocol.Notifier
}

// NewCRMBackend creates the CRM API client the record, email and
// notification actions use.
func NewCRMBackend(baseURL, apiToken string, logger *slog.Logger) CRMBackend {
	return services.NewCRMClient(baseURL, apiToken, logger)
}

// NewRegistry creates an action registry with every native action
// registered against the given CRM backend.
func NewRegistry(logger *slog.Logger, backend CRMBackend) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(webhook.NewActionFactory())
	reg.RegisterAction(delay.NewActionFactory())
	reg.RegisterAction(branch.NewActionFactory())
	reg.RegisterAction(email.NewActionFactory(backend))
	reg.RegisterAction(notify.NewActionFactory(backend))
	reg.RegisterAction(record.NewCreateFactory(backend))
	reg.RegisterAction(record.NewUpdateFactory(backend))
	reg.RegisterAction(record.NewDeleteFactory(backend))
	reg.RegisterAction(record.NewAssignUserFactory(backend))
	reg.RegisterAction(record.NewAddTagFactory(backend))
	reg.RegisterAction(record.NewRemoveTagFactory(backend))

	return reg
}
