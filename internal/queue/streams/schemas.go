package streams

import "fmt"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventJobRequested,
		Version:   PayloadVersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "source", "reference"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "source": {"type": "string", "enum": ["prompt", "pdf", "arxiv"]},
    "reference": {"type": "string", "minLength": 1},
    "instruction": {"type": "string"},
    "max_analysts": {"type": "integer", "minimum": 0},
    "host": {"$ref": "#/definitions/identity"},
    "guest": {"$ref": "#/definitions/identity"}
  },
  "additionalProperties": false,
  "definitions": {
    "identity": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "background": {"type": "string"}
      },
      "additionalProperties": false
    }
  }
}`),
	},
	{
		EventType: EventJobCompleted,
		Version:   PayloadVersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "script_id"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "script_id": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "lines": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventJobFailed,
		Version:   PayloadVersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "error"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "stage": {"type": "string"},
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventStage,
		Version:   PayloadVersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["pipeline_id", "pipeline", "stage", "status"],
  "properties": {
    "pipeline_id": {"type": "string", "minLength": 1},
    "pipeline": {"type": "string", "enum": ["prompt", "pdf", "arxiv"]},
    "stage": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["started", "completed", "failed"]},
    "duration_ms": {"type": "integer", "minimum": 0},
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the baseline event schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewBaseRegistry returns a registry holding every built-in schema.
func NewBaseRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
