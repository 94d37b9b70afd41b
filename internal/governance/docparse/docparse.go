// Package docparse provides the narrow parsing adapter the Policy
// Registry depends on instead of importing a YAML/JSON library
// directly. A Parser turns raw document bytes into a generic
// map[string]any; the registry normalizes that shape on its own.
package docparse

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser decodes one policy document's raw bytes into a generic
// key-value tree.
type Parser interface {
	Parse(data []byte) (map[string]any, error)
}

// YAML is the default Parser for .yaml/.yml policy documents.
type YAML struct{}

// Parse decodes YAML bytes, normalizing map[any]any nodes (yaml.v3's
// native decode target) down to map[string]any so downstream
// normalization code never has to type-switch on key type.
func (YAML) Parse(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return stringifyKeys(raw).(map[string]any), nil
}

// JSON is the default Parser for .json policy documents.
type JSON struct{}

// Parse decodes JSON bytes into a generic key-value tree.
func (JSON) Parse(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return raw, nil
}

// Registry selects a Parser by file extension.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry returns a Registry pre-populated with the YAML and JSON
// adapters, the only two document shapes spec.md §6 accepts.
func NewRegistry() *Registry {
	return &Registry{byExt: map[string]Parser{
		".yaml": YAML{},
		".yml":  YAML{},
		".json": JSON{},
	}}
}

// Register binds an additional Parser to a file extension (including
// the leading dot), overriding any existing binding.
func (r *Registry) Register(ext string, p Parser) {
	r.byExt[ext] = p
}

// ErrUnsupportedExtension is returned by ParserFor when no Parser is
// registered for a path's extension.
type ErrUnsupportedExtension struct{ Ext string }

func (e *ErrUnsupportedExtension) Error() string {
	return fmt.Sprintf("docparse: unsupported extension %q", e.Ext)
}

// ParserFor returns the Parser registered for path's extension.
func (r *Registry) ParserFor(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.byExt[ext]
	if !ok {
		return nil, &ErrUnsupportedExtension{Ext: ext}
	}
	return p, nil
}

// stringifyKeys recursively converts map[any]any/[]any nodes that a
// yaml.v3 decode into map[string]any can still leave nested (e.g. under
// an any-typed value) into map[string]any/[]any so callers never meet a
// map[any]any.
func stringifyKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = stringifyKeys(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = stringifyKeys(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = stringifyKeys(vv)
		}
		return out
	default:
		return v
	}
}
