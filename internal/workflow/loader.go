package workflow

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads workflow definitions from project directories, falling back
// to an embedded filesystem for the built-in definitions. The first source
// that knows an id wins, so a project file shadows an embedded one.
type Loader struct {
	// Dirs are searched in order for <id>.yaml / <id>.yml files.
	Dirs []string

	// Fallback serves embedded definitions when no directory has the id.
	Fallback fs.FS
}

// NewLoader creates a Loader over the given directories with an optional
// embedded fallback (may be nil).
func NewLoader(fallback fs.FS, dirs ...string) *Loader {
	return &Loader{Dirs: dirs, Fallback: fallback}
}

// Definition implements Source.
func (l *Loader) Definition(id string) (*Definition, error) {
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("workflow id %q contains invalid path elements", id)
	}

	for _, dir := range l.Dirs {
		for _, ext := range []string{".yaml", ".yml"} {
			data, err := os.ReadFile(filepath.Join(dir, id+ext))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read workflow %s: %w", id, err)
			}
			return parseDefinition(id, data)
		}
	}

	if l.Fallback != nil {
		for _, ext := range []string{".yaml", ".yml"} {
			data, err := fs.ReadFile(l.Fallback, id+ext)
			if err != nil {
				continue
			}
			return parseDefinition(id, data)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
}

// List returns the ids of every known definition, project files first,
// deduplicated and sorted within each source.
func (l *Loader) List() ([]string, error) {
	seen := make(map[string]bool)
	var ids []string

	add := func(name string) {
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			return
		}
		id := strings.TrimSuffix(filepath.Base(name), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, dir := range l.Dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list workflows in %s: %w", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			add(name)
		}
	}

	if l.Fallback != nil {
		entries, err := fs.ReadDir(l.Fallback, ".")
		if err == nil {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if !e.IsDir() {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				add(name)
			}
		}
	}

	return ids, nil
}

func parseDefinition(id string, data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", id, err)
	}
	if def.ID == "" {
		def.ID = id
	}
	if def.ID != id {
		return nil, fmt.Errorf("workflow file %s declares id %q", id, def.ID)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// MapSource serves definitions from memory. Useful for tests and for
// resolving definitions that were assembled programmatically.
type MapSource map[string]*Definition

// Definition implements Source.
func (m MapSource) Definition(id string) (*Definition, error) {
	def, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return def, nil
}
