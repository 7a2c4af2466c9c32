// Package webhook provides the outbound webhook action for workflow steps.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/template"
)

const defaultTimeoutSeconds = 30

var (
	// ErrWebhookURLInvalid is returned when the webhook URL is missing or invalid.
	ErrWebhookURLInvalid = errors.New("invalid webhook URL")
	// ErrWebhookMethodInvalid is returned when the HTTP method is invalid.
	ErrWebhookMethodInvalid = errors.New("invalid webhook method")
	// ErrWebhookServerError is returned when the remote endpoint answers 5xx.
	ErrWebhookServerError = errors.New("webhook endpoint returned a server error")
)

// Action delivers an HTTP request to an external endpoint. URL, headers and
// body support templating against the execution context.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// NewAction creates a webhook action from step configuration.
func NewAction(config map[string]any) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrWebhookURLInvalid)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Action{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

// Validate checks the configured templates without executing them.
func (a *Action) Validate(_ context.Context) error {
	if a.Method == "" {
		return ErrWebhookMethodInvalid
	}

	if a.URL == "" {
		return ErrWebhookURLInvalid
	}

	for _, input := range append([]string{a.URL, a.Body}, headerValues(a.Headers)...) {
		if _, err := template.Parse(input); err != nil {
			return err
		}
	}

	return nil
}

// Execute delivers the request and returns status, body and headers.
func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "webhook_action")
	logger.InfoContext(ctx, "Delivering outbound webhook", "method", a.Method)

	req, err := a.buildRequest(ctx, executionCtx)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: a.Timeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) buildRequest(ctx context.Context, executionCtx models.ExecutionContext) (*http.Request, error) {
	urlResult, err := template.RenderWithContext(a.URL, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render URL template: %w", err)
	}

	var bodyReader io.Reader = strings.NewReader("")

	if a.Body != "" {
		body, err := template.RenderWithContext(a.Body, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		var bodyBytes []byte
		if str, ok := body.(string); ok {
			bodyBytes = []byte(str)
		} else {
			bodyBytes, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
		}

		bodyReader = strings.NewReader(string(bodyBytes))
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, fmt.Sprintf("%v", urlResult), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	for key, value := range a.Headers {
		headerResult, err := template.RenderWithContext(value, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, fmt.Sprintf("%v", headerResult))
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     resp.Header,
	}

	logger.InfoContext(ctx, "Outbound webhook completed", "status_code", resp.StatusCode)

	if resp.StatusCode >= http.StatusInternalServerError {
		return result, fmt.Errorf("%w: status %d", ErrWebhookServerError, resp.StatusCode)
	}

	return result, nil
}

func headerValues(headers map[string]string) []string {
	values := make([]string, 0, len(headers))
	for _, value := range headers {
		values = append(values, value)
	}

	return values
}
