package structured

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchemaValidator validates JSON data against a JSONSchema.
type SchemaValidator interface {
	Validate(data []byte, schema *JSONSchema) error
}

// ParseError represents a validation error with field path.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// DefaultValidator is the default implementation of SchemaValidator.
//
// A null value for a property that is not required is treated as absent, so
// Go structs with nil slices and maps validate against generated schemas.
type DefaultValidator struct {
	formatValidators map[StringFormat]func(string) bool

	patternMu sync.RWMutex
	patterns  map[string]*regexp.Regexp
}

// NewValidator creates a new DefaultValidator with built-in format validators.
func NewValidator() *DefaultValidator {
	v := &DefaultValidator{
		formatValidators: make(map[StringFormat]func(string) bool),
		patterns:         make(map[string]*regexp.Regexp),
	}
	v.registerBuiltinFormats()
	return v
}

func (v *DefaultValidator) registerBuiltinFormats() {
	v.formatValidators[FormatEmail] = func(s string) bool {
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	}
	v.formatValidators[FormatURI] = func(s string) bool {
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	}
	v.formatValidators[FormatUUID] = func(s string) bool {
		_, err := uuid.Parse(s)
		return err == nil && len(s) == 36
	}
	v.formatValidators[FormatDateTime] = func(s string) bool {
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	}
	v.formatValidators[FormatDate] = func(s string) bool {
		_, err := time.Parse(time.DateOnly, s)
		return err == nil
	}
}

// RegisterFormat registers a custom format validator.
func (v *DefaultValidator) RegisterFormat(format StringFormat, validator func(string) bool) {
	v.formatValidators[format] = validator
}

// Validate validates JSON data against a schema.
func (v *DefaultValidator) Validate(data []byte, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationErrors{
			Errors: []ParseError{{Path: "", Message: fmt.Sprintf("invalid JSON: %v", err)}},
		}
	}
	return v.ValidateValue(value, schema)
}

// ValidateValue validates an already decoded JSON value.
func (v *DefaultValidator) ValidateValue(value any, schema *JSONSchema) error {
	var errors []ParseError
	v.validateValue(value, schema, "", &errors)
	if len(errors) > 0 {
		return &ValidationErrors{Errors: errors}
	}
	return nil
}

func (v *DefaultValidator) validateValue(value any, schema *JSONSchema, path string, errors *[]ParseError) {
	if schema == nil {
		return
	}

	if schema.Const != nil {
		if !equalValues(value, schema.Const) {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("value must be %v", schema.Const)})
		}
		return
	}

	if len(schema.Enum) > 0 {
		found := false
		for _, enumVal := range schema.Enum {
			if equalValues(value, enumVal) {
				found = true
				break
			}
		}
		if !found {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("value must be one of: %v", schema.Enum)})
		}
	}

	if len(schema.AnyOf) > 0 {
		matched := false
		for _, alt := range schema.AnyOf {
			var altErrors []ParseError
			v.validateValue(value, alt, path, &altErrors)
			if len(altErrors) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			*errors = append(*errors, ParseError{Path: path, Message: "value does not match any allowed schema"})
		}
	}

	switch schema.Type {
	case TypeString:
		v.validateString(value, schema, path, errors)
	case TypeNumber:
		v.validateNumber(value, schema, path, errors, false)
	case TypeInteger:
		v.validateNumber(value, schema, path, errors, true)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected boolean, got %s", typeName(value))})
		}
	case TypeNull:
		if value != nil {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected null, got %s", typeName(value))})
		}
	case TypeObject:
		v.validateObject(value, schema, path, errors)
	case TypeArray:
		v.validateArray(value, schema, path, errors)
	}
}

func (v *DefaultValidator) validateString(value any, schema *JSONSchema, path string, errors *[]ParseError) {
	str, ok := value.(string)
	if !ok {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected string, got %s", typeName(value))})
		return
	}

	length := len([]rune(str))
	if schema.MinLength != nil && length < *schema.MinLength {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("string length %d is less than minimum %d", length, *schema.MinLength)})
	}
	if schema.MaxLength != nil && length > *schema.MaxLength {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("string length %d exceeds maximum %d", length, *schema.MaxLength)})
	}

	if schema.Pattern != "" {
		re, err := v.compile(schema.Pattern)
		if err != nil {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("invalid pattern %q: %v", schema.Pattern, err)})
		} else if !re.MatchString(str) {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("string does not match pattern %q", schema.Pattern)})
		}
	}

	if schema.Format != "" {
		if validator, ok := v.formatValidators[schema.Format]; ok && !validator(str) {
			*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("string does not match format %q", schema.Format)})
		}
	}
}

func (v *DefaultValidator) compile(pattern string) (*regexp.Regexp, error) {
	v.patternMu.RLock()
	re, ok := v.patterns[pattern]
	v.patternMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.patternMu.Lock()
	v.patterns[pattern] = re
	v.patternMu.Unlock()
	return re, nil
}

func (v *DefaultValidator) validateNumber(value any, schema *JSONSchema, path string, errors *[]ParseError, integer bool) {
	kind := "number"
	if integer {
		kind = "integer"
	}
	num, ok := toFloat64(value)
	if !ok {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected %s, got %s", kind, typeName(value))})
		return
	}
	if integer && num != math.Trunc(num) {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected integer, got %v", num)})
		return
	}
	if schema.Minimum != nil && num < *schema.Minimum {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("value %v is less than minimum %v", num, *schema.Minimum)})
	}
	if schema.Maximum != nil && num > *schema.Maximum {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("value %v exceeds maximum %v", num, *schema.Maximum)})
	}
}

func (v *DefaultValidator) validateObject(value any, schema *JSONSchema, path string, errors *[]ParseError) {
	obj, ok := value.(map[string]any)
	if !ok {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected object, got %s", typeName(value))})
		return
	}

	for _, req := range schema.Required {
		val, exists := obj[req]
		if !exists {
			*errors = append(*errors, ParseError{Path: joinPath(path, req), Message: "required field is missing"})
		} else if val == nil {
			*errors = append(*errors, ParseError{Path: joinPath(path, req), Message: "required field must not be null"})
		}
	}

	for propName, propValue := range obj {
		propPath := joinPath(path, propName)
		if propValue == nil && !schema.IsRequired(propName) {
			continue
		}
		if propSchema, ok := schema.Properties[propName]; ok {
			v.validateValue(propValue, propSchema, propPath, errors)
			continue
		}
		if ap := schema.AdditionalProperties; ap != nil {
			if ap.Schema != nil {
				v.validateValue(propValue, ap.Schema, propPath, errors)
			} else if !ap.Allowed {
				*errors = append(*errors, ParseError{Path: propPath, Message: "additional property not allowed"})
			}
		}
	}
}

func (v *DefaultValidator) validateArray(value any, schema *JSONSchema, path string, errors *[]ParseError) {
	arr, ok := value.([]any)
	if !ok {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("expected array, got %s", typeName(value))})
		return
	}

	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("array has %d items, minimum is %d", len(arr), *schema.MinItems)})
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		*errors = append(*errors, ParseError{Path: path, Message: fmt.Sprintf("array has %d items, maximum is %d", len(arr), *schema.MaxItems)})
	}

	if schema.Items != nil {
		for i, item := range arr {
			v.validateValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), errors)
		}
	}
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		return aNum == bNum
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}
