// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// definitionExtensions are the file extensions LoadDir recognizes.
var definitionExtensions = map[string]bool{
	".yaml": true, ".yml": true, ".json": true, ".jsonc": true,
}

// AddDefinition registers a parsed workflow definition. The
// definition must validate cleanly and its name must be unused.
func (e *Engine) AddDefinition(def *workflow.Definition) error {
	if def == nil {
		return errors.New("engine: nil definition")
	}
	if issues := def.Validate(); len(issues) > 0 {
		return fmt.Errorf("engine: workflow %q is invalid: %s", def.Name, strings.Join(issues, "; "))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byName[def.Name]; exists {
		return fmt.Errorf("engine: workflow %q already loaded", def.Name)
	}
	e.byName[def.Name] = def
	e.definitions = append(e.definitions, def)
	return nil
}

// Definitions returns the loaded definitions in load order.
func (e *Engine) Definitions() []*workflow.Definition {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make([]*workflow.Definition, len(e.definitions))
	copy(snapshot, e.definitions)
	return snapshot
}

// Definition returns the loaded definition with the given name.
func (e *Engine) Definition(name string) (*workflow.Definition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.byName[name]
	return def, ok
}

// LoadDir loads every workflow definition file in dir (non-recursive,
// sorted by file name) and returns the number loaded. Files that fail
// to parse or validate are skipped and reported in the joined error;
// the remaining files still load, so one broken definition does not
// take the engine down.
func (e *Engine) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("engine: reading workflows directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !definitionExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	loaded := 0
	var problems []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		def, err := workflow.ReadFile(path)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := e.AddDefinition(def); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		e.logger.Info("workflow loaded", "file", name, "workflow", def.Name)
		loaded++
	}
	return loaded, errors.Join(problems...)
}
