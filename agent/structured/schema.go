package structured

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
)

// JSONSchema is the subset of JSON Schema used to describe step payloads,
// tool parameters and structured agent output.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	// Object properties
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`

	// Array items
	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	// String constraints
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// Numeric constraints
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	Default any `json:"default,omitempty"`

	// AnyOf accepts a value matching at least one alternative.
	AnyOf []*JSONSchema `json:"anyOf,omitempty"`
}

// AdditionalProperties represents the additionalProperties field which can be
// either a boolean or a schema.
type AdditionalProperties struct {
	Allowed bool
	Schema  *JSONSchema
}

// MarshalJSON implements json.Marshaler for AdditionalProperties.
func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return json.Marshal(nil)
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

// UnmarshalJSON implements json.Unmarshaler for AdditionalProperties.
func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed = b
		ap.Schema = nil
		return nil
	}

	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err == nil {
		ap.Allowed = true
		ap.Schema = &schema
		return nil
	}

	return fmt.Errorf("additionalProperties must be boolean or schema")
}

// 构造函数

func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: TypeObject, Properties: map[string]*JSONSchema{}}
}

// NewRecordSchema 描述值类型统一的对象，例如 Parallel 的扇入记录。
func NewRecordSchema(value *JSONSchema) *JSONSchema {
	s := NewObjectSchema()
	s.AdditionalProperties = &AdditionalProperties{Allowed: true, Schema: value}
	return s
}

func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: TypeArray, Items: items}
}

func NewStringSchema() *JSONSchema  { return &JSONSchema{Type: TypeString} }
func NewNumberSchema() *JSONSchema  { return &JSONSchema{Type: TypeNumber} }
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: TypeInteger} }
func NewBooleanSchema() *JSONSchema { return &JSONSchema{Type: TypeBoolean} }

// NewEnumSchema accepts exactly the given values.
func NewEnumSchema(values ...any) *JSONSchema { return &JSONSchema{Enum: values} }

// 链式设置，均返回接收者本身

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// AddProperty declares an object property, creating the map on first use.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = map[string]*JSONSchema{}
	}
	s.Properties[name] = prop
	return s
}

// AddRequired marks names as required, ignoring duplicates.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	for _, name := range names {
		if !s.IsRequired(name) {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func (s *JSONSchema) WithMinLength(n int) *JSONSchema { s.MinLength = &n; return s }
func (s *JSONSchema) WithMaxLength(n int) *JSONSchema { s.MaxLength = &n; return s }
func (s *JSONSchema) WithMinItems(n int) *JSONSchema  { s.MinItems = &n; return s }
func (s *JSONSchema) WithMaxItems(n int) *JSONSchema  { s.MaxItems = &n; return s }

func (s *JSONSchema) WithMaximum(v float64) *JSONSchema { s.Maximum = &v; return s }

func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

func (s *JSONSchema) WithFormat(format StringFormat) *JSONSchema {
	s.Format = format
	return s
}

// WithAdditionalProperties allows or forbids undeclared object properties.
func (s *JSONSchema) WithAdditionalProperties(allowed bool) *JSONSchema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: allowed}
	return s
}

// Clone returns a deep copy of the schema.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}

	clone := *s
	if s.Properties != nil {
		clone.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			clone.Properties[k] = v.Clone()
		}
	}
	clone.Required = slices.Clone(s.Required)
	clone.Enum = slices.Clone(s.Enum)
	clone.Items = s.Items.Clone()
	if s.AdditionalProperties != nil {
		clone.AdditionalProperties = &AdditionalProperties{
			Allowed: s.AdditionalProperties.Allowed,
			Schema:  s.AdditionalProperties.Schema.Clone(),
		}
	}
	if s.AnyOf != nil {
		clone.AnyOf = make([]*JSONSchema, len(s.AnyOf))
		for i, alt := range s.AnyOf {
			clone.AnyOf[i] = alt.Clone()
		}
	}
	return &clone
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the schema to indented JSON.
func (s *JSONSchema) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// IsRequired checks if a property is required.
func (s *JSONSchema) IsRequired(name string) bool {
	return slices.Contains(s.Required, name)
}

// GetProperty returns a property schema by name.
func (s *JSONSchema) GetProperty(name string) *JSONSchema {
	if s.Properties == nil {
		return nil
	}
	return s.Properties[name]
}

// HasProperty checks if a property exists.
func (s *JSONSchema) HasProperty(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// PropertyNames returns the declared property names in sorted order.
func (s *JSONSchema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAny reports whether the schema accepts every value.
func (s *JSONSchema) IsAny() bool {
	return s == nil || (s.Type == "" && len(s.Enum) == 0 && s.Const == nil && len(s.AnyOf) == 0)
}
