package llm

import "github.com/radiomirchi/radio-mirchi/internal/mission"

// SchemaType is a JSON value type
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is a provider-neutral subset of JSON Schema used for structured output
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	// Order lists property names in the order the model should emit them
	Order    []string
	Required []string
	Items    *Schema
	MinItems *int64
	MaxItems *int64
	Enum     []string
}

func count(n int64) *int64 {
	return &n
}

// JSONSchema renders the schema as a JSON Schema document. Strict mode closes
// every object and drops the array bounds that strict validators reject.
func (s *Schema) JSONSchema(strict bool) map[string]any {
	out := map[string]any{"type": string(s.Type)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = append([]string(nil), s.Enum...)
	}

	switch s.Type {
	case TypeObject:
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema(strict)
		}
		out["properties"] = props
		required := s.Required
		if strict {
			required = s.propertyNames()
			out["additionalProperties"] = false
		}
		if len(required) > 0 {
			out["required"] = append([]string(nil), required...)
		}
	case TypeArray:
		if s.Items != nil {
			out["items"] = s.Items.JSONSchema(strict)
		}
		if !strict {
			if s.MinItems != nil {
				out["minItems"] = *s.MinItems
			}
			if s.MaxItems != nil {
				out["maxItems"] = *s.MaxItems
			}
		}
	}
	return out
}

// propertyNames returns Order when it covers every property, otherwise the
// required list followed by the rest in Order
func (s *Schema) propertyNames() []string {
	seen := make(map[string]bool, len(s.Properties))
	names := make([]string, 0, len(s.Properties))
	for _, list := range [][]string{s.Order, s.Required} {
		for _, n := range list {
			if _, ok := s.Properties[n]; ok && !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	for n := range s.Properties {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// GenerationResultSchema describes the Stage1 output
func GenerationResultSchema() *Schema {
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"summary": {
				Type:        TypeString,
				Description: "A brief summary of the propaganda piece (2-3 sentences).",
			},
			"proof_sentences": {
				Type:        TypeArray,
				Description: "Talking points or evidence for the propaganda.",
				Items:       &Schema{Type: TypeString},
				MinItems:    count(mission.MinProofSentences),
				MaxItems:    count(mission.MaxProofSentences),
			},
			"speakers": {
				Type:     TypeArray,
				Items:    SpeakerSchema(),
				MinItems: count(mission.MinSpeakers),
				MaxItems: count(mission.MaxSpeakers),
			},
			"initial_listeners": {
				Type:        TypeInteger,
				Description: "Initial number of listeners for the broadcast.",
			},
		},
		Order:    []string{"summary", "proof_sentences", "speakers", "initial_listeners"},
		Required: []string{"summary", "proof_sentences", "speakers", "initial_listeners"},
	}
}

// SpeakerSchema describes one radio host
func SpeakerSchema() *Schema {
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"name":   {Type: TypeString},
			"gender": {Type: TypeString, Enum: []string{mission.GenderMale, mission.GenderFemale}},
		},
		Order:    []string{"name", "gender"},
		Required: []string{"name", "gender"},
	}
}

// DialogueBatchSchema describes one batch of live dialogue
func DialogueBatchSchema() *Schema {
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"dialogue_lines": {
				Type: TypeArray,
				Items: &Schema{
					Type: TypeObject,
					Properties: map[string]*Schema{
						"speaker_name": {Type: TypeString},
						"line":         {Type: TypeString},
					},
					Order:    []string{"speaker_name", "line"},
					Required: []string{"speaker_name", "line"},
				},
				MinItems: count(mission.MinDialogueLines),
				MaxItems: count(mission.MaxDialogueLines),
			},
			"awakened_listeners_change": {
				Type:        TypeNumber,
				Description: "Percentage of listeners awakened by the user's last statement.",
			},
		},
		Order:    []string{"dialogue_lines", "awakened_listeners_change"},
		Required: []string{"dialogue_lines", "awakened_listeners_change"},
	}
}
