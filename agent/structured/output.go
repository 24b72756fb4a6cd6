package structured

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ParseResult 表示解析结构化输出的结果。
type ParseResult[T any] struct {
	Value  *T           `json:"value,omitempty"`
	Raw    string       `json:"raw"`
	Errors []ParseError `json:"errors,omitempty"`
}

// IsValid 如果解析成功且没有出错, 则返回为真。
func (r *ParseResult[T]) IsValid() bool {
	return r.Value != nil && len(r.Errors) == 0
}

// BuildInstructions renders the system prompt fragment that asks a model to
// answer with JSON conforming to schema. It returns "" for a nil schema.
func BuildInstructions(schema *JSONSchema) (string, error) {
	if schema == nil {
		return "", nil
	}
	schemaJSON, err := schema.ToJSONIndent()
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString("1. You MUST respond with valid JSON that conforms to the schema below.\n")
	sb.WriteString("2. Do NOT include any text before or after the JSON.\n")
	sb.WriteString("3. Ensure all required fields are present and have valid values.\n")
	sb.WriteString("4. Follow all constraints specified in the schema (enum values, min/max, patterns, etc.).\n\n")
	sb.WriteString("JSON Schema:\n")
	sb.WriteString("```json\n")
	sb.Write(schemaJSON)
	sb.WriteString("\n```\n\n")
	sb.WriteString("Respond with ONLY the JSON value.")
	return sb.String(), nil
}

// ExtractJSON 从可能包含 markdown 代码块或其他文字的响应中取出 JSON。
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if matches := fencedJSON.FindStringSubmatch(response); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}

	objStart := strings.Index(response, "{")
	arrStart := strings.Index(response, "[")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(response, "]"); end > arrStart {
			return response[arrStart : end+1]
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(response, "}"); end > objStart {
			return response[objStart : end+1]
		}
	}
	return response
}

// Parse extracts JSON from raw, validates it against schema and decodes it
// into T. Validation errors are reported on the result, not returned.
func Parse[T any](raw string, schema *JSONSchema, validator SchemaValidator) *ParseResult[T] {
	if validator == nil {
		validator = NewValidator()
	}
	jsonStr := ExtractJSON(raw)
	result := &ParseResult[T]{Raw: raw}

	if err := validator.Validate([]byte(jsonStr), schema); err != nil {
		if ve, ok := err.(*ValidationErrors); ok {
			result.Errors = append(result.Errors, ve.Errors...)
		} else {
			result.Errors = append(result.Errors, ParseError{Message: err.Error()})
		}
	}

	var value T
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		result.Errors = append(result.Errors, ParseError{Message: fmt.Sprintf("JSON parse error: %v", err)})
		return result
	}
	result.Value = &value
	return result
}

// DecodeValidated validates data against schema and then unmarshals it into out.
// A nil out only validates.
func DecodeValidated(data []byte, schema *JSONSchema, out any) error {
	if err := NewValidator().Validate(data, schema); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
