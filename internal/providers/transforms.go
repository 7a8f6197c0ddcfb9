package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ApplyTransform applies a transform chain to a secret read from a store.
// Chains are separated by '|'. Supported steps: trim, base64_decode,
// json_extract:.path, yaml_extract:.path, replace:old:new.
//
// Stores often hold a PAT inside a JSON document ({"pat": "..."}); a
// json_extract step pulls it out.
func ApplyTransform(value, transform string) (string, error) {
	if strings.TrimSpace(transform) == "" {
		return value, nil
	}

	result := value
	for _, step := range strings.Split(transform, "|") {
		step = strings.TrimSpace(step)
		var err error
		result, err = applySingleTransform(result, step)
		if err != nil {
			return "", fmt.Errorf("transform '%s' failed: %w", step, err)
		}
	}
	return result, nil
}

func applySingleTransform(value, transform string) (string, error) {
	switch {
	case transform == "trim":
		return strings.TrimSpace(value), nil

	case transform == "base64_decode":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("base64 decode failed: %w", err)
		}
		return string(decoded), nil

	case strings.HasPrefix(transform, "json_extract:"):
		var data interface{}
		if err := json.Unmarshal([]byte(value), &data); err != nil {
			return "", fmt.Errorf("invalid JSON: %w", err)
		}
		return extractPath(data, strings.TrimPrefix(transform, "json_extract:"))

	case strings.HasPrefix(transform, "yaml_extract:"):
		var data interface{}
		if err := yaml.Unmarshal([]byte(value), &data); err != nil {
			return "", fmt.Errorf("invalid YAML: %w", err)
		}
		return extractPath(data, strings.TrimPrefix(transform, "yaml_extract:"))

	case strings.HasPrefix(transform, "replace:"):
		parts := strings.SplitN(strings.TrimPrefix(transform, "replace:"), ":", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("replace transform requires format 'replace:from:to'")
		}
		return strings.ReplaceAll(value, parts[0], parts[1]), nil

	default:
		return "", fmt.Errorf("unknown transform: %s", transform)
	}
}

// extractPath walks a decoded document along a ".a.b" path and returns the
// leaf as a string.
func extractPath(data interface{}, path string) (string, error) {
	if !strings.HasPrefix(path, ".") {
		return "", fmt.Errorf("path must start with '.'")
	}

	current := data
	for _, part := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		if part == "" {
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("cannot navigate into non-object at path '%s'", part)
		}
		val, exists := obj[part]
		if !exists {
			return "", fmt.Errorf("field '%s' not found", part)
		}
		current = val
	}

	switch v := current.(type) {
	case string:
		return v, nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case nil:
		return "", nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}
		return string(out), nil
	}
}
