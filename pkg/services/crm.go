// Package services provides clients for the CRM backend that workflow
// actions mutate: records, email delivery and in-app notifications.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/helixcrm/flowengine/pkg/protocol"
)

const defaultRequestTimeout = 30 * time.Second

// ErrCRMRequestFailed is returned when the CRM API answers outside the 2xx
// range.
var ErrCRMRequestFailed = errors.New("crm request failed")

// CRMClient talks to the CRM REST API. It implements
// protocol.RecordService, protocol.Mailer and protocol.Notifier so a single
// client backs every record, email and notification action.
type CRMClient struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   *slog.Logger
}

// NewCRMClient creates a client for the CRM API at baseURL. The token is
// sent as a bearer credential on every request.
func NewCRMClient(baseURL, apiToken string, logger *slog.Logger) *CRMClient {
	return &CRMClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		logger:   logger.With("module", "crm_client"),
	}
}

func (c *CRMClient) CreateRecord(ctx context.Context, recordType string, fields map[string]any) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodPost, c.recordsPath(recordType), fields)
}

func (c *CRMClient) UpdateRecord(ctx context.Context, recordType, recordID string, fields map[string]any) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodPatch, c.recordPath(recordType, recordID), fields)
}

func (c *CRMClient) DeleteRecord(ctx context.Context, recordType, recordID string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, c.recordPath(recordType, recordID), nil)

	return err
}

func (c *CRMClient) AssignOwner(ctx context.Context, recordType, recordID, userID string) error {
	_, err := c.doJSON(ctx, http.MethodPost, c.recordPath(recordType, recordID)+"/owner", map[string]any{
		"user_id": userID,
	})

	return err
}

func (c *CRMClient) AddTags(ctx context.Context, recordType, recordID string, tags []string) error {
	_, err := c.doJSON(ctx, http.MethodPost, c.recordPath(recordType, recordID)+"/tags", map[string]any{
		"tags": tags,
	})

	return err
}

func (c *CRMClient) RemoveTags(ctx context.Context, recordType, recordID string, tags []string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, c.recordPath(recordType, recordID)+"/tags", map[string]any{
		"tags": tags,
	})

	return err
}

// Send delivers an email through the CRM's outbound mail endpoint.
func (c *CRMClient) Send(ctx context.Context, message protocol.EmailMessage) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/v1/emails", message)

	return err
}

// Notify delivers an in-app notification to the listed users.
func (c *CRMClient) Notify(ctx context.Context, notification protocol.Notification) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/v1/notifications", notification)

	return err
}

func (c *CRMClient) recordsPath(recordType string) string {
	return "/api/v1/records/" + url.PathEscape(recordType)
}

func (c *CRMClient) recordPath(recordType, recordID string) string {
	return c.recordsPath(recordType) + "/" + url.PathEscape(recordID)
}

func (c *CRMClient) doJSON(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode crm payload: %w", err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create crm request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm request to %s failed: %w", path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read crm response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.ErrorContext(ctx, "CRM request rejected",
			"method", method, "path", path, "status_code", resp.StatusCode)

		return nil, fmt.Errorf("%w: %s %s returned %d", ErrCRMRequestFailed, method, path, resp.StatusCode)
	}

	if len(responseBody) == 0 {
		return nil, nil
	}

	var result map[string]any

	if err := json.Unmarshal(responseBody, &result); err != nil {
		// Some endpoints answer with non-object bodies; callers only need
		// object responses.
		return nil, nil
	}

	return result, nil
}
