// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ollaflow/ollaflow/internal/util"
)

// =============================================================================
// TEMPLATE
// =============================================================================

// Template is one named prompt template.
type Template struct {
	// Name is the file stem the template was loaded under.
	Name string `yaml:"-"`

	// Description is a short human-readable summary.
	Description string `yaml:"description,omitempty"`

	// Text is the template body. {key} placeholders are filled by Combine.
	Text string `yaml:"template"`
}

// Render substitutes {key} placeholders from vars. Placeholders with no
// matching variable are left in place.
func (t Template) Render(vars map[string]string) string {
	out := t.Text
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the loaded templates for one directory. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]Template
}

// NewRegistry creates a Registry rooted at dir and loads every template
// in it. A missing directory is not an error; it is created on the first
// Add.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		templates: make(map[string]Template),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the directory the registry is rooted at.
func (r *Registry) Dir() string {
	return r.dir
}

// Reload re-reads every template file in the registry directory,
// replacing the in-memory set.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	loaded := make(map[string]Template)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := templateStem(entry.Name())
		if !ok {
			continue
		}
		tmpl, err := loadTemplate(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to load template %s: %w", name, err)
		}
		tmpl.Name = name
		loaded[name] = tmpl
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	return nil
}

// Get returns the template with the given name.
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[name]
	return tmpl, ok
}

// List returns the template names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add stores a new template and writes it to disk. It fails if a template
// with the same name already exists.
func (r *Registry) Add(tmpl Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tmpl.Name]; exists {
		return fmt.Errorf("template %s already exists", tmpl.Name)
	}
	if err := r.saveLocked(tmpl); err != nil {
		return err
	}
	r.templates[tmpl.Name] = tmpl
	return nil
}

// Update replaces an existing template and writes it to disk.
func (r *Registry) Update(tmpl Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tmpl.Name]; !exists {
		return fmt.Errorf("template %s not found", tmpl.Name)
	}
	if err := r.saveLocked(tmpl); err != nil {
		return err
	}
	r.templates[tmpl.Name] = tmpl
	return nil
}

// Delete removes a template from memory and disk. Both recognized
// extensions are removed, so a .yaml-loaded template cannot come back on
// the next Reload.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[name]; !exists {
		return fmt.Errorf("template %s not found", name)
	}
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(r.dir, name+ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete template %s: %w", name, err)
		}
	}
	delete(r.templates, name)
	return nil
}

// Combine renders the named templates in order, fills placeholders from
// vars, and joins the rendered bodies with blank lines. Unknown names are
// an error.
func (r *Registry) Combine(names []string, vars map[string]string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := make([]string, 0, len(names))
	for _, name := range names {
		tmpl, ok := r.templates[name]
		if !ok {
			return "", fmt.Errorf("template %s not found", name)
		}
		rendered := strings.TrimSpace(tmpl.Render(vars))
		if rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// saveLocked marshals a template and writes it atomically. Callers must
// hold r.mu.
func (r *Registry) saveLocked(tmpl Template) error {
	data, err := yaml.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template %s: %w", tmpl.Name, err)
	}
	path := filepath.Join(r.dir, tmpl.Name+".yml")
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write template %s: %w", tmpl.Name, err)
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// templateStem returns the file stem for recognized template files.
func templateStem(filename string) (string, bool) {
	ext := filepath.Ext(filename)
	if ext != ".yml" && ext != ".yaml" {
		return "", false
	}
	return strings.TrimSuffix(filename, ext), true
}

func loadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, err
	}
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return Template{}, err
	}
	return tmpl, nil
}
