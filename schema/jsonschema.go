package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema renders s as a JSON Schema document suitable for capability
// listings. Object properties keep their declared order.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	if s == nil {
		return &jsonschema.Schema{Type: string(TypeObject), Properties: jsonschema.NewProperties()}
	}
	return render(s)
}

func render(s *Schema) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:        string(s.Type),
		Description: s.Description,
		Format:      string(s.Format),
	}
	if len(s.Enum) > 0 {
		out.Enum = append([]any(nil), s.Enum...)
	}
	if s.HasDefault {
		out.Default = s.Default
	}
	if s.Minimum != nil {
		out.Minimum = number(*s.Minimum)
	}
	if s.Maximum != nil {
		out.Maximum = number(*s.Maximum)
	}
	if s.Positive {
		out.ExclusiveMinimum = number(0)
	}
	if s.MinLength != nil {
		out.MinLength = uintPtr(*s.MinLength)
	}
	if s.MaxLength != nil {
		out.MaxLength = uintPtr(*s.MaxLength)
	}
	if s.Pattern != nil {
		out.Pattern = s.Pattern.String()
	}

	switch s.Type {
	case TypeObject:
		out.Properties = jsonschema.NewProperties()
		for _, f := range s.Fields {
			var child *jsonschema.Schema
			if f.Schema != nil {
				child = render(f.Schema)
			} else {
				child = &jsonschema.Schema{}
			}
			out.Properties.Set(f.Name, child)
			if f.Required {
				out.Required = append(out.Required, f.Name)
			}
		}
	case TypeArray:
		if s.Items != nil {
			out.Items = render(s.Items)
		}
		if s.MinItems != nil {
			out.MinItems = uintPtr(*s.MinItems)
		}
		if s.MaxItems != nil {
			out.MaxItems = uintPtr(*s.MaxItems)
		}
	}
	return out
}

func number(f float64) json.Number {
	return json.Number(formatFloat(f))
}

func uintPtr(n int) *uint64 {
	if n < 0 {
		n = 0
	}
	u := uint64(n)
	return &u
}
