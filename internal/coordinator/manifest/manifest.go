// Package manifest loads the list of chunk values a coordinator run submits.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrEmpty = errors.New("manifest has no chunks")

// Manifest is either a bare YAML sequence of chunk values or a mapping with
// a "chunks" sequence.
type Manifest struct {
	Chunks []string `yaml:"chunks"`
}

func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	chunks, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chunks, nil
}

func Parse(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, ErrEmpty
	}

	var chunks []string
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&chunks); err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
	case yaml.MappingNode:
		var m Manifest
		if err := root.Decode(&m); err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
		chunks = m.Chunks
	default:
		return nil, fmt.Errorf("invalid manifest: expected a sequence or a mapping, got %s", root.Tag)
	}

	if len(chunks) == 0 {
		return nil, ErrEmpty
	}
	return chunks, nil
}
