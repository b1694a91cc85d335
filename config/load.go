package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the document at path. Files ending in .yaml or
// .yml are parsed as YAML, anything else as TOML.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	snap, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	return snap, nil
}

// Format names a supported document syntax
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes a document over the defaults and validates the result
func Parse(data []byte, format Format) (*Snapshot, error) {
	snap := NewSnapshot()

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(snap); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), snap)
		if err != nil {
			return nil, fmt.Errorf("failed to parse toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse toml: unknown keys %v", undecoded)
		}
	}

	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return snap, nil
}
