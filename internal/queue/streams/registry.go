package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaKey struct {
	eventType string
	version   string
}

// SchemaRegistry holds the compiled payload schema of every event the
// podcaster publishes, one per event type and payload version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[schemaKey]*jsonschema.Schema)}
}

// Register compiles raw and makes it the schema for eventType at version.
func (r *SchemaRegistry) Register(eventType, version string, raw []byte) error {
	if eventType == "" || version == "" {
		return fmt.Errorf("event type and version are required")
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s@%s: empty schema", eventType, version)
	}
	url := eventType + "@" + version + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%s@%s: %w", eventType, version, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("%s@%s: compile: %w", eventType, version, err)
	}
	r.mu.Lock()
	r.schemas[schemaKey{eventType, version}] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks a payload against the schema registered for its event.
// Unknown events are rejected so that producers cannot publish unversioned data.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[schemaKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema for %s@%s", eventType, version)
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%s payload: %w", eventType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s payload: %w", eventType, err)
	}
	return nil
}
