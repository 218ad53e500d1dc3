package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Separator joins a backend id and a local capability name.
const Separator = ":"

// defaultInputSchema is used for tools that declare no input schema.
var defaultInputSchema = json.RawMessage(`{"type":"object","properties":{},"required":[]}`)

// Capability is one operation exposed by a backend. It is immutable once
// listed and lives as long as the backend's session.
type Capability struct {
	Backend     string          `json:"backend"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// QualifiedName returns the catalog-wide name, backend:name.
func (c Capability) QualifiedName() string {
	return QualifiedName(c.Backend, c.Name)
}

// QualifiedName joins a backend id and a local name.
func QualifiedName(backend, name string) string {
	return backend + Separator + name
}

// SplitQualifiedName splits on the first separator. ok is false when the
// name has no separator or either side is empty.
func SplitQualifiedName(qualified string) (backend, name string, ok bool) {
	backend, name, found := strings.Cut(qualified, Separator)
	if !found || backend == "" || name == "" {
		return "", "", false
	}
	return backend, name, true
}

// toCapability validates a listed tool and converts it. The input schema
// must compile as a JSON Schema.
func toCapability(backend string, index int, tool Tool) (Capability, error) {
	if tool.Name == "" {
		return Capability{}, fmt.Errorf("tool %d has no name", index)
	}
	schema := tool.InputSchema
	if len(bytes.TrimSpace(schema)) == 0 || bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
		schema = defaultInputSchema
	}
	if err := compileSchema(fmt.Sprintf("capability-%d.json", index), schema); err != nil {
		return Capability{}, fmt.Errorf("tool %q: invalid input schema: %w", tool.Name, err)
	}
	return Capability{
		Backend:     backend,
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}, nil
}

func compileSchema(location string, raw json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if _, ok := doc.(map[string]any); !ok {
		return fmt.Errorf("schema is not an object")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(location, doc); err != nil {
		return err
	}
	_, err = compiler.Compile(location)
	return err
}
