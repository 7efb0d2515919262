package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// CustomJSONHook contributes generated custom JSON between the revision block and
// the operator-supplied JSON.
type CustomJSONHook interface {
	Generate(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ParseCustomJSON parses operator-supplied JSON. The payload must be an object.
func ParseCustomJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, NewPayloadError("Your custom json has invalid syntax", err).WithOperation("custom_json")
	}
	return out, nil
}

// BuildCustomJSON assembles the deployment payload:
//
//	{"deploy": {<appName>: {"scm": {"revision": <revision>}}}}
//
// overlaid first by the hook output and then by the operator JSON. Merges are
// shallow: a top-level key from a later source replaces the earlier value.
func BuildCustomJSON(ctx context.Context, appName, revision, operator string, hook CustomJSONHook) (map[string]any, error) {
	payload := map[string]any{}
	if appName != "" {
		payload["deploy"] = map[string]any{
			appName: map[string]any{
				"scm": map[string]any{"revision": revision},
			},
		}
	}

	user, err := ParseCustomJSON(operator)
	if err != nil {
		return nil, err
	}

	if hook != nil {
		generated, err := hook.Generate(ctx, map[string]any{
			"app_name": appName,
			"revision": revision,
		})
		if err != nil {
			return nil, NewPayloadError("custom json script failed", err).WithOperation("custom_json")
		}
		for k, v := range generated {
			payload[k] = v
		}
	}

	for k, v := range user {
		payload[k] = v
	}
	return payload, nil
}

// EncodeCustomJSON serializes a payload for a DeploymentRequest.
func EncodeCustomJSON(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", NewPayloadError("failed to encode custom json", err)
	}
	return string(data), nil
}
