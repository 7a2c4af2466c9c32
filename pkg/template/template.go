// Package template provides templating for dynamic action configuration.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
)

// Parse checks that input is a valid template without executing it.
func Parse(input string) (*template.Template, error) {
	tmpl, err := newTemplate().Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", input, err)
	}

	return tmpl, nil
}

// RenderWithContext renders input against an execution's context snapshot.
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (any, error) {
	data := make(map[string]any, len(executionCtx.Data)+3)

	for key, value := range executionCtx.Data {
		data[key] = value
	}

	data["step_outputs"] = executionCtx.StepOutputs
	data["env"] = getEnvVars()
	data["execution"] = map[string]any{
		"id":          executionCtx.ExecutionID,
		"workflow_id": executionCtx.WorkflowID,
	}

	return Render(input, data)
}

// RenderConfig renders every string value in an action config, recursing into
// nested maps and slices. Non-string values pass through untouched.
func RenderConfig(config map[string]any, executionCtx *models.ExecutionContext) (map[string]any, error) {
	rendered, err := renderValue(config, executionCtx)
	if err != nil {
		return nil, err
	}

	return rendered.(map[string]any), nil
}

func renderValue(value any, executionCtx *models.ExecutionContext) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return RenderWithContext(v, executionCtx)
	case map[string]any:
		rendered := make(map[string]any, len(v))

		for key, nested := range v {
			result, err := renderValue(nested, executionCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to render config key '%s': %w", key, err)
			}

			rendered[key] = result
		}

		return rendered, nil
	case []any:
		rendered := make([]any, len(v))

		for i, nested := range v {
			result, err := renderValue(nested, executionCtx)
			if err != nil {
				return nil, err
			}

			rendered[i] = result
		}

		return rendered, nil
	default:
		return value, nil
	}
}

// Render executes a template and coerces the result: JSON-looking output is
// decoded, numeric and boolean strings are converted, everything else stays
// a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func newTemplate() *template.Template {
	return template.
		New("config").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		})
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
