// Package config provides configuration helpers and file parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads an override layer from path. The format follows the file
// extension: .yaml and .yml are YAML, anything else is TOML. Missing file is
// not an error.
func LoadFile(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("failed to stat config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return loadTOML(path)
	}
}

func loadTOML(path string) (Overrides, error) {
	var ov Overrides
	md, err := toml.DecodeFile(path, &ov)
	if err != nil {
		return Overrides{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return Overrides{}, fmt.Errorf("failed to decode config: unknown keys %s", strings.Join(keys, ", "))
	}
	return ov, nil
}

func loadYAML(path string) (Overrides, error) {
	file, err := os.Open(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only config.
			_ = cerr
		}
	}()

	var ov Overrides
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
		return Overrides{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return ov, nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.String(), nil
}

// Decode parses a TOML document produced by Encode.
func Decode(text string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
