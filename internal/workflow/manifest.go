package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamType is the declared type of a workflow parameter
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeInteger ParamType = "integer"
	ParamTypeNumber  ParamType = "number"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeImage   ParamType = "image"
)

// ParamPatch locates the template field a parameter writes to
type ParamPatch struct {
	NodeID string `json:"node_id"`
	Field  string `json:"field"`
}

// ParamDef describes one tunable parameter of a workflow
type ParamDef struct {
	Type        ParamType  `json:"type"`
	Label       string     `json:"label,omitempty"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Default     any        `json:"default,omitempty"`
	Min         *float64   `json:"min,omitempty"`
	Max         *float64   `json:"max,omitempty"`
	Choices     []any      `json:"choices,omitempty"`
	Patch       ParamPatch `json:"patch"`
}

// Manifest is the manifest.json of a workflow directory
type Manifest struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Version      string              `json:"version,omitempty"`
	TemplateFile string              `json:"template_file"`
	Params       map[string]ParamDef `json:"params"`
	Presets      map[string]any      `json:"presets,omitempty"`
}

// ParamsCopy returns a copy of the parameter definitions safe to modify
func (m *Manifest) ParamsCopy() map[string]ParamDef {
	out := make(map[string]ParamDef, len(m.Params))
	for name, def := range m.Params {
		if def.Choices != nil {
			def.Choices = append([]any(nil), def.Choices...)
		}
		out[name] = def
	}
	return out
}

// ManifestError reports a manifest or template that cannot be used
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "template_file", "params"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "version": {"type": "string"},
    "template_file": {"type": "string", "minLength": 1},
    "presets": {"type": "object"},
    "params": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type", "patch"],
        "properties": {
          "type": {"enum": ["string", "integer", "number", "boolean", "image"]},
          "required": {"type": "boolean"},
          "min": {"type": "number"},
          "max": {"type": "number"},
          "choices": {"type": "array"},
          "patch": {
            "type": "object",
            "required": ["node_id", "field"],
            "properties": {
              "node_id": {"type": "string", "minLength": 1},
              "field": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    }
  }
}`

func compileManifestSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.schema.json", bytes.NewReader([]byte(manifestSchema))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("manifest.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// loadManifest reads, validates and decodes a manifest file
func loadManifest(schema *jsonschema.Schema, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	return &manifest, nil
}

// loadTemplate reads an engine graph template
func loadTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	var template map[string]any
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	return template, nil
}
