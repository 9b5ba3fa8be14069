package promptforge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"google.golang.org/genai"
)

// ResponseSchema is the single source of truth for the reply contract. The request
// builder declares Declared() to the model and the parser enforces Validate() on the
// reply, so both always describe the same shape.
type ResponseSchema struct {
	root *genai.Schema
}

// NewResponseSchema - analysis + prompts 스키마
func NewResponseSchema() *ResponseSchema {
	return &ResponseSchema{root: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"analysis": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"mainSubjects": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "A list of the primary subjects or focal points in the image.",
					},
					"setting": {
						Type:        genai.TypeString,
						Description: "A description of the background, environment, or setting.",
					},
					"mood": {
						Type:        genai.TypeString,
						Description: "The overall emotional tone or mood of the image (e.g., serene, chaotic, joyful).",
					},
					"style": {
						Type:        genai.TypeString,
						Description: "The artistic style of the image (e.g., photorealistic, impressionistic, abstract).",
					},
					"colorPalette": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "A list of the dominant colors in the image.",
					},
				},
				Required:         []string{"mainSubjects", "setting", "mood", "style", "colorPalette"},
				PropertyOrdering: []string{"mainSubjects", "setting", "mood", "style", "colorPalette"},
			},
			"prompts": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"realistic": {
						Type:        genai.TypeString,
						Description: "A detailed, photorealistic prompt for generating the image.",
					},
					"fantastical": {
						Type:        genai.TypeString,
						Description: "A creative, magical, or surreal interpretation of the image content.",
					},
					"stylistic": {
						Type:        genai.TypeString,
						Description: "A prompt focusing on a specific artistic style (e.g., oil painting, anime, watercolor).",
					},
					"cinematic": {
						Type:        genai.TypeString,
						Description: "A prompt describing the scene like a movie still, including camera and lighting details.",
					},
				},
				Required:         []string{"realistic", "fantastical", "stylistic", "cinematic"},
				PropertyOrdering: []string{"realistic", "fantastical", "stylistic", "cinematic"},
			},
		},
		Required:         []string{"analysis", "prompts"},
		PropertyOrdering: []string{"analysis", "prompts"},
	}}
}

// Declared - 모델에 전달할 스키마
func (s *ResponseSchema) Declared() *genai.Schema {
	return s.root
}

// Validate checks that raw is exactly one JSON value matching the schema:
// required keys present and non-null, declared types, no unknown keys.
func (s *ResponseSchema) Validate(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: unexpected data after top-level value")
	}

	return validateValue(s.root, value, "$")
}

func validateValue(schema *genai.Schema, value interface{}, path string) error {
	switch schema.Type {
	case genai.TypeObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s: expected object, got %s", path, jsonKind(value))
		}
		for _, key := range schema.Required {
			v, exists := obj[key]
			if !exists {
				return fmt.Errorf("%s.%s: required field missing", path, key)
			}
			if v == nil {
				return fmt.Errorf("%s.%s: required field is null", path, key)
			}
		}
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			prop, declared := schema.Properties[key]
			if !declared {
				return fmt.Errorf("%s.%s: unknown field", path, key)
			}
			if err := validateValue(prop, obj[key], path+"."+key); err != nil {
				return err
			}
		}
		return nil

	case genai.TypeArray:
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("%s: expected array, got %s", path, jsonKind(value))
		}
		if schema.Items == nil {
			return nil
		}
		for i, item := range arr {
			if err := validateValue(schema.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case genai.TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %s", path, jsonKind(value))
		}
		return nil

	case genai.TypeNumber, genai.TypeInteger:
		if _, ok := value.(json.Number); !ok {
			return fmt.Errorf("%s: expected number, got %s", path, jsonKind(value))
		}
		return nil

	case genai.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %s", path, jsonKind(value))
		}
		return nil
	}

	return fmt.Errorf("%s: unsupported schema type %q", path, schema.Type)
}

func jsonKind(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", value)
}
