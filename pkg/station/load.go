package station

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "stations.schema.json"

const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["stations"],
  "properties": {
    "stations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "frequency": {"type": "string"},
          "name": {"type": "string", "minLength": 1},
          "tagline": {"type": "string"},
          "description": {"type": "string"},
          "instruction": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  }
}`

type file struct {
	Stations []Station `yaml:"stations"`
}

// Load reads a station catalog from a YAML file and validates it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("station: couldn't read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML station catalog.
func Parse(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("station: invalid yaml: %w", err)
	}
	s, err := jsonschema.CompileString(schemaURL, schema)
	if err != nil {
		return nil, fmt.Errorf("station: couldn't compile schema: %w", err)
	}
	if err := s.Validate(raw); err != nil {
		return nil, fmt.Errorf("station: catalog validation failed: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("station: couldn't unmarshal catalog: %w", err)
	}
	return New(f.Stations)
}
