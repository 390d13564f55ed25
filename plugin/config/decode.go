package config

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// decodeTOML decodes a TOML document. Features are declared as an array of
// tables:
//
//	config-version = "1.2.0.1"
//
//	[[features]]
//	id = "fly"
//	enabled = true
//	permission = "newplayerperks.perk.fly"
func decodeTOML(data []byte) (*rawDocument, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}
	header := tree.ToMap()
	delete(header, keyFeatures)
	raw := &rawDocument{header: normalise(header).(map[string]any)}

	switch features := tree.Get(keyFeatures).(type) {
	case nil:
	case []*toml.Tree:
		for _, sub := range features {
			raw.entries = append(raw.entries, rawEntry{
				line:   sub.Position().Line,
				values: normalise(sub.ToMap()).(map[string]any),
			})
		}
	case []any:
		// Arrays mixing tables and other values.
		for _, item := range features {
			sub, ok := item.(*toml.Tree)
			if !ok {
				raw.entries = append(raw.entries, rawEntry{err: fmt.Errorf("expected a table, got %T", item)})
				continue
			}
			raw.entries = append(raw.entries, rawEntry{
				line:   sub.Position().Line,
				values: normalise(sub.ToMap()).(map[string]any),
			})
		}
	default:
		return nil, fmt.Errorf("decode toml: %s must be an array of tables, got %T", keyFeatures, features)
	}
	return raw, nil
}

// decodeYAML decodes a YAML document. Every entry of the features sequence is
// decoded separately, so a type error in one entry only rejects that entry.
func decodeYAML(data []byte) (*rawDocument, error) {
	raw := &rawDocument{header: map[string]any{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return raw, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return raw, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("decode yaml: line %d: document must be a mapping", top.Line)
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i].Value, top.Content[i+1]
		if key != keyFeatures {
			var v any
			if err := value.Decode(&v); err != nil {
				return nil, fmt.Errorf("decode yaml: line %d: %s: %w", value.Line, key, err)
			}
			raw.header[key] = normalise(v)
			continue
		}
		if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
			continue
		}
		if value.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("decode yaml: line %d: %s must be a list", value.Line, keyFeatures)
		}
		for _, item := range value.Content {
			raw.entries = append(raw.entries, decodeYAMLEntry(item))
		}
	}
	return raw, nil
}

func decodeYAMLEntry(node *yaml.Node) rawEntry {
	entry := rawEntry{line: node.Line}
	if node.Kind != yaml.MappingNode {
		entry.err = errors.New("expected a mapping")
		return entry
	}
	var values map[string]any
	if err := node.Decode(&values); err != nil {
		entry.err = err
		return entry
	}
	entry.values = normalise(values).(map[string]any)
	return entry
}
