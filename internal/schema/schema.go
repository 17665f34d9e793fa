package schema

import (
	"fmt"
	"strings"
)

// Field declares one field of a structured output record.
type Field struct {
	Name        string
	Type        string // string, number, boolean, array<string>, array<object>, object
	Description string
	Required    bool
	Enum        []string
	Items       *Definition // element schema for array<object>
	Object      *Definition // nested schema for object
}

// Definition declares a structured output record. The parser derives both the
// prompt-side format instructions and the validation rules from it.
type Definition struct {
	Name   string
	Fields []Field
}

// FormatInstructions renders the schema as prompt text: field names, types,
// enum constraints and required/optional status, plus the strict-JSON rule.
func (d Definition) FormatInstructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond ONLY with a strict JSON object matching the %s schema. No markdown fences, no commentary.\nFields:\n", d.Name)
	d.writeFields(&b, "")
	return b.String()
}

func (d Definition) writeFields(b *strings.Builder, indent string) {
	for _, f := range d.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(b, "%s- %q (%s, %s): %s", indent, f.Name, f.Type, req, f.Description)
		if len(f.Enum) > 0 {
			fmt.Fprintf(b, " Allowed values: %s.", strings.Join(f.Enum, ", "))
		}
		b.WriteString("\n")
		if f.Items != nil {
			fmt.Fprintf(b, "%s  each element is an object with:\n", indent)
			f.Items.writeFields(b, indent+"  ")
		}
		if f.Object != nil {
			fmt.Fprintf(b, "%s  object with:\n", indent)
			f.Object.writeFields(b, indent+"  ")
		}
	}
}

// Validate checks a decoded JSON object against the definition: required
// fields present, enum membership, and nested object/array shapes.
func (d Definition) Validate(value map[string]interface{}) error {
	for _, f := range d.Fields {
		raw, ok := value[f.Name]
		if !ok || raw == nil {
			if f.Required {
				return fmt.Errorf("%s: missing required field %q", d.Name, f.Name)
			}
			continue
		}
		if err := f.validate(raw); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	return nil
}

func (f Field) validate(raw interface{}) error {
	if len(f.Enum) > 0 {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("field %q: expected string for enum, got %T", f.Name, raw)
		}
		for _, e := range f.Enum {
			if s == e {
				return nil
			}
		}
		return fmt.Errorf("field %q: value %q not in {%s}", f.Name, s, strings.Join(f.Enum, ", "))
	}
	switch {
	case f.Object != nil:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("field %q: expected object, got %T", f.Name, raw)
		}
		return f.Object.Validate(m)
	case f.Items != nil:
		arr, ok := raw.([]interface{})
		if !ok {
			return fmt.Errorf("field %q: expected array, got %T", f.Name, raw)
		}
		for i, el := range arr {
			m, ok := el.(map[string]interface{})
			if !ok {
				return fmt.Errorf("field %q[%d]: expected object, got %T", f.Name, i, el)
			}
			if err := f.Items.Validate(m); err != nil {
				return fmt.Errorf("field %q[%d]: %w", f.Name, i, err)
			}
		}
	}
	return nil
}
