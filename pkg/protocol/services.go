package protocol

import "context"

// RecordService is the CRM backend the record actions mutate. Implementations
// talk to the CRM's record store or API.
type RecordService interface {
	CreateRecord(ctx context.Context, recordType string, fields map[string]any) (map[string]any, error)
	UpdateRecord(ctx context.Context, recordType, recordID string, fields map[string]any) (map[string]any, error)
	DeleteRecord(ctx context.Context, recordType, recordID string) error
	AssignOwner(ctx context.Context, recordType, recordID, userID string) error
	AddTags(ctx context.Context, recordType, recordID string, tags []string) error
	RemoveTags(ctx context.Context, recordType, recordID string, tags []string) error
}

// EmailMessage is one outbound email.
type EmailMessage struct {
	To       []string       `json:"to"`
	Cc       []string       `json:"cc,omitempty"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Mailer delivers email on behalf of the send_email action.
type Mailer interface {
	Send(ctx context.Context, message EmailMessage) error
}

// Notification is one in-app notification.
type Notification struct {
	UserIDs []string       `json:"user_ids"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notifier delivers in-app notifications on behalf of the send_notification
// action.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}
