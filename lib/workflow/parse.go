// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Parse parses a YAML workflow definition. Unknown fields are
// rejected so a typo like "paths_ignore" fails loudly instead of
// silently disabling a filter.
func Parse(data []byte) (*Definition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var definition Definition
	if err := decoder.Decode(&definition); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &definition, nil
}

// ParseJSON parses a JSONC workflow definition: JSON extended with
// comments and trailing commas. Unknown fields are rejected.
func ParseJSON(data []byte) (*Definition, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()

	var definition Definition
	if err := decoder.Decode(&definition); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &definition, nil
}

// ReadFile reads and parses a workflow definition, choosing the
// format by extension: .yaml and .yml parse as YAML, .json and
// .jsonc as JSONC.
func ReadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definition: %w", err)
	}

	var definition *Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		definition, err = Parse(data)
	case ".json", ".jsonc":
		definition, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("%s: unsupported workflow definition extension %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return definition, nil
}

// NameFromPath derives a workflow name from a definition file path:
// the base name without its extension. Used as the fallback when a
// definition omits name.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
