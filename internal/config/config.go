// Package config loads the typed configuration an Agent receives through
// OnConfigure. Configuration is authored as YAML and optionally validated
// against a JSON schema before being unmarshaled into the caller's type.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Load unmarshals data (YAML) into a fresh T.
func Load[T any](data []byte) (T, error) {
	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadWithSchema validates data against schema (a JSON schema document,
// itself expressed in YAML or JSON) before unmarshaling it into T. Schema
// violations are returned without attempting the unmarshal.
func LoadWithSchema[T any](data, schema []byte) (T, error) {
	var cfg T

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("config: unmarshal for validation: %w", err)
	}
	docJSON, err := toJSONCompatible(doc)
	if err != nil {
		return cfg, fmt.Errorf("config: normalize for validation: %w", err)
	}

	var schemaDoc any
	if err := yaml.Unmarshal(schema, &schemaDoc); err != nil {
		return cfg, fmt.Errorf("config: unmarshal schema: %w", err)
	}
	schemaJSON, err := toJSONCompatible(schemaDoc)
	if err != nil {
		return cfg, fmt.Errorf("config: normalize schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.json", schemaJSON); err != nil {
		return cfg, fmt.Errorf("config: add schema resource: %w", err)
	}
	compiled, err := c.Compile("config.json")
	if err != nil {
		return cfg, fmt.Errorf("config: compile schema: %w", err)
	}
	if err := compiled.Validate(docJSON); err != nil {
		return cfg, fmt.Errorf("config: schema validation: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// toJSONCompatible round-trips a yaml.v3-decoded value (which produces
// map[string]any keyed by string, but nested map[any]any in older decode
// paths) through JSON so the jsonschema validator, which expects
// map[string]any, can consume it safely.
func toJSONCompatible(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
