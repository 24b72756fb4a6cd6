package structured

import (
	"fmt"
	"strings"
)

// Incompatibility describes why a producer schema cannot feed a consumer schema.
type Incompatibility struct {
	Path   string
	Reason string
}

func (i Incompatibility) String() string {
	if i.Path == "" {
		return i.Reason
	}
	return i.Path + ": " + i.Reason
}

// CompatibilityError collects every mismatch found by Compatible.
type CompatibilityError struct {
	Problems []Incompatibility
}

// Error implements the error interface.
func (e *CompatibilityError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "schemas are incompatible: " + strings.Join(parts, "; ")
}

// Compatible reports whether every value accepted by producer is also
// accepted by consumer, as far as types, required fields and enums can tell.
// A nil or empty schema on either side accepts anything.
func Compatible(producer, consumer *JSONSchema) error {
	var problems []Incompatibility
	checkCompatible(producer, consumer, "", &problems)
	if len(problems) > 0 {
		return &CompatibilityError{Problems: problems}
	}
	return nil
}

func checkCompatible(p, c *JSONSchema, path string, problems *[]Incompatibility) {
	if c == nil || c.IsAny() || p == nil || p.IsAny() {
		return
	}
	if len(c.AnyOf) > 0 {
		for _, alt := range c.AnyOf {
			var sub []Incompatibility
			checkCompatible(p, alt, path, &sub)
			if len(sub) == 0 {
				return
			}
		}
		*problems = append(*problems, Incompatibility{Path: path, Reason: "no alternative accepts the produced value"})
		return
	}
	if len(p.AnyOf) > 0 {
		for _, alt := range p.AnyOf {
			checkCompatible(alt, c, path, problems)
		}
		return
	}

	if c.Type != "" && p.Type != "" && !typeAccepts(c.Type, p.Type) {
		*problems = append(*problems, Incompatibility{
			Path:   path,
			Reason: fmt.Sprintf("produces %s but %s is expected", p.Type, c.Type),
		})
		return
	}

	if len(c.Enum) > 0 {
		if len(p.Enum) == 0 && p.Const == nil {
			*problems = append(*problems, Incompatibility{Path: path, Reason: "consumer restricts values to an enum the producer does not guarantee"})
		} else {
			for _, v := range producedValues(p) {
				if !containsValue(c.Enum, v) {
					*problems = append(*problems, Incompatibility{Path: path, Reason: fmt.Sprintf("value %v is not accepted", v)})
				}
			}
		}
	}

	switch c.Type {
	case TypeObject:
		checkObject(p, c, path, problems)
	case TypeArray:
		if c.Items != nil {
			checkCompatible(p.Items, c.Items, path+"[]", problems)
		}
	}
}

func checkObject(p, c *JSONSchema, path string, problems *[]Incompatibility) {
	for _, name := range c.Required {
		if !p.IsRequired(name) {
			reason := "required field is not produced"
			if p.HasProperty(name) {
				reason = "required field is optional in the producer"
			}
			*problems = append(*problems, Incompatibility{Path: joinPath(path, name), Reason: reason})
		}
	}
	for _, name := range c.PropertyNames() {
		cs := c.Properties[name]
		if ps, ok := p.Properties[name]; ok {
			checkCompatible(ps, cs, joinPath(path, name), problems)
		} else if p.AdditionalProperties != nil && p.AdditionalProperties.Schema != nil {
			checkCompatible(p.AdditionalProperties.Schema, cs, joinPath(path, name), problems)
		}
	}
	ap := c.AdditionalProperties
	// closed consumer: declared producer fields it does not know are rejected
	if ap != nil && !ap.Allowed && ap.Schema == nil {
		for _, name := range p.PropertyNames() {
			if _, declared := c.Properties[name]; !declared {
				*problems = append(*problems, Incompatibility{Path: joinPath(path, name), Reason: "field is not accepted by the consumer"})
			}
		}
	}
	// record consumer: every produced value must fit the value schema
	if ap != nil && ap.Schema != nil {
		for _, name := range p.PropertyNames() {
			if _, declared := c.Properties[name]; declared {
				continue
			}
			checkCompatible(p.Properties[name], ap.Schema, joinPath(path, name), problems)
		}
		if p.AdditionalProperties != nil && p.AdditionalProperties.Schema != nil {
			checkCompatible(p.AdditionalProperties.Schema, ap.Schema, joinPath(path, "*"), problems)
		}
	}
}

func typeAccepts(consumer, producer SchemaType) bool {
	if consumer == producer {
		return true
	}
	return consumer == TypeNumber && producer == TypeInteger
}

func producedValues(s *JSONSchema) []any {
	if s.Const != nil {
		return []any{s.Const}
	}
	return s.Enum
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if equalValues(candidate, v) {
			return true
		}
	}
	return false
}
