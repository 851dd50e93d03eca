package settings

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ApplyYAML reads a flat YAML mapping of option names to values and assigns
// them. Unknown options are rejected.
func (s *Settings) ApplyYAML(r io.Reader) error {
	var raw map[string]any
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("settings: decode yaml: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(k, raw[k]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyYAMLFile is ApplyYAML on a file path.
func (s *Settings) ApplyYAMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return s.ApplyYAML(f)
}

// WriteYAML dumps the current values in declaration order.
func (s *Settings) WriteYAML(w io.Writer) error {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range s.order {
		var val yaml.Node
		if err := val.Encode(s.values[name]); err != nil {
			return err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &val)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return err
	}
	return enc.Close()
}
