package structured

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var rawMessageType = reflect.TypeOf(json.RawMessage{})

// SchemaGenerator derives a JSONSchema from Go types via reflection.
//
// Field names follow the "json" tag. A field is required unless it is a
// pointer, slice or map, or its json tag carries omitempty. The "jsonschema"
// tag adds constraints:
//
//	required           force the field to be required
//	description=...    field description
//	enum=a,b,c         allowed values
//	minimum=, maximum= numeric bounds
//	minLength=, maxLength=, pattern=, format=
//	minItems=, maxItems=
//	default=...        default value
type SchemaGenerator struct {
	visited map[reflect.Type]bool
}

// NewSchemaGenerator creates a new SchemaGenerator.
func NewSchemaGenerator() *SchemaGenerator {
	return &SchemaGenerator{
		visited: make(map[reflect.Type]bool),
	}
}

// SchemaFor generates the schema for T.
func SchemaFor[T any]() (*JSONSchema, error) {
	return NewSchemaGenerator().GenerateSchema(reflect.TypeFor[T]())
}

// MustSchemaFor is SchemaFor that panics on unsupported types.
func MustSchemaFor[T any]() *JSONSchema {
	s, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// GenerateSchema generates a JSON Schema for t.
func (g *SchemaGenerator) GenerateSchema(t reflect.Type) (*JSONSchema, error) {
	g.visited = make(map[reflect.Type]bool)
	return g.generateSchema(t)
}

// GenerateSchemaFromValue generates a JSON Schema from the dynamic type of v.
func (g *SchemaGenerator) GenerateSchemaFromValue(v any) (*JSONSchema, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot generate schema from nil value")
	}
	return g.GenerateSchema(reflect.TypeOf(v))
}

func (g *SchemaGenerator) generateSchema(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil type")
	}

	if t.Kind() == reflect.Ptr {
		return g.generateSchema(t.Elem())
	}

	// json.RawMessage and interfaces carry arbitrary JSON.
	if t == rawMessageType || t.Kind() == reflect.Interface {
		return &JSONSchema{}, nil
	}

	if g.visited[t] {
		return &JSONSchema{Type: TypeObject}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return NewStringSchema(), nil
	case reflect.Bool:
		return NewBooleanSchema(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewIntegerSchema(), nil
	case reflect.Float32, reflect.Float64:
		return NewNumberSchema(), nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			// []byte marshals to a base64 string.
			return NewStringSchema(), nil
		}
		items, err := g.generateSchema(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for array element: %w", err)
		}
		return NewArraySchema(items), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", t.Key())
		}
		value, err := g.generateSchema(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for map value: %w", err)
		}
		return NewRecordSchema(value), nil
	case reflect.Struct:
		return g.generateStructSchema(t)
	default:
		return nil, fmt.Errorf("unsupported type: %s", t.Kind())
	}
}

func (g *SchemaGenerator) generateStructSchema(t reflect.Type) (*JSONSchema, error) {
	g.visited[t] = true
	defer func() { g.visited[t] = false }()

	schema := NewObjectSchema()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() && !field.Anonymous {
			continue
		}

		name, omitEmpty := jsonFieldName(field)
		if name == "-" {
			continue
		}

		// Embedded structs without a json name are flattened like encoding/json does.
		if field.Anonymous && field.Tag.Get("json") == "" && indirect(field.Type).Kind() == reflect.Struct {
			embedded, err := g.generateSchema(field.Type)
			if err != nil {
				return nil, fmt.Errorf("failed to generate schema for embedded %s: %w", field.Name, err)
			}
			for propName, prop := range embedded.Properties {
				schema.Properties[propName] = prop
			}
			schema.AddRequired(embedded.Required...)
			continue
		}
		if !field.IsExported() {
			continue
		}

		fieldSchema, err := g.generateSchema(field.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for field %s: %w", field.Name, err)
		}

		options := parseTagOptions(field.Tag.Get("jsonschema"))
		if err := applyTagOptions(fieldSchema, options, field.Type); err != nil {
			return nil, fmt.Errorf("failed to apply jsonschema tag for field %s: %w", field.Name, err)
		}

		if isRequired(field, omitEmpty, options) {
			schema.AddRequired(name)
		}
		schema.Properties[name] = fieldSchema
	}

	return schema, nil
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func jsonFieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	omitEmpty := false
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	if parts[0] == "" {
		return field.Name, omitEmpty
	}
	return parts[0], omitEmpty
}

func isRequired(field reflect.StructField, omitEmpty bool, options map[string]string) bool {
	if _, ok := options["required"]; ok {
		return true
	}
	if omitEmpty {
		return false
	}
	switch field.Type.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return false
	}
	return field.Type != rawMessageType
}

func applyTagOptions(schema *JSONSchema, options map[string]string, t reflect.Type) error {
	if desc, ok := options["description"]; ok {
		schema.Description = desc
	}
	if def, ok := options["default"]; ok {
		schema.Default = parseDefaultValue(def, t)
	}
	if enumStr, ok := options["enum"]; ok {
		values := strings.Split(enumStr, ",")
		schema.Enum = make([]any, len(values))
		for i, v := range values {
			schema.Enum[i] = strings.TrimSpace(v)
		}
	}
	if v, ok := options["pattern"]; ok {
		schema.Pattern = v
	}
	if v, ok := options["format"]; ok {
		schema.Format = StringFormat(v)
	}

	intOpts := map[string]**int{
		"minLength": &schema.MinLength,
		"maxLength": &schema.MaxLength,
		"minItems":  &schema.MinItems,
		"maxItems":  &schema.MaxItems,
	}
	for key, dst := range intOpts {
		raw, ok := options[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = &n
	}

	floatOpts := map[string]**float64{
		"minimum": &schema.Minimum,
		"maximum": &schema.Maximum,
	}
	for key, dst := range floatOpts {
		raw, ok := options[key]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = &f
	}
	return nil
}

// parseTagOptions splits "required,enum=a,b,c,minimum=1" into options.
// Commas inside a value belong to that value unless the next segment looks
// like a new key or a bare "required".
func parseTagOptions(tag string) map[string]string {
	options := make(map[string]string)
	if tag == "" {
		return options
	}

	var key string
	var value strings.Builder
	flush := func() {
		if key != "" {
			options[key] = value.String()
		}
		key = ""
		value.Reset()
	}

	for _, segment := range strings.Split(tag, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if idx := strings.Index(segment, "="); idx > 0 && isTagKey(segment[:idx]) {
			flush()
			key = segment[:idx]
			value.WriteString(segment[idx+1:])
			continue
		}
		if segment == "required" {
			flush()
			options["required"] = ""
			continue
		}
		if key != "" {
			value.WriteByte(',')
			value.WriteString(segment)
			continue
		}
		options[segment] = ""
	}
	flush()
	return options
}

func isTagKey(s string) bool {
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return s != ""
}

func parseDefaultValue(value string, t reflect.Type) any {
	switch indirect(t).Kind() {
	case reflect.Bool:
		return value == "true"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return value
}
