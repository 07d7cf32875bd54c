// Package templates provides the grant form templates a project is created
// from. The definitions are embedded at build time.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtin []byte

type Section struct {
	Title       string `yaml:"title" json:"title"`
	Order       int    `yaml:"order" json:"order"`
	Placeholder string `yaml:"placeholder" json:"placeholder"`
	MinWords    int    `yaml:"minWords" json:"minWords"`
	MaxWords    int    `yaml:"maxWords" json:"maxWords"`
}

type Template struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Sections    []Section `yaml:"sections" json:"sections"`
}

// Registry is an immutable, ordered set of templates.
type Registry struct {
	templates []Template
	byID      map[string]int
}

// Load parses the embedded templates.
func Load() (*Registry, error) {
	return Parse(builtin)
}

// Parse reads a YAML list of templates. Sections are sorted by order.
func Parse(data []byte) (*Registry, error) {
	var list []Template
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := &Registry{byID: make(map[string]int, len(list))}
	for _, t := range list {
		if t.ID == "" {
			return nil, errors.New("template without id")
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		for _, s := range t.Sections {
			if s.Title == "" {
				return nil, fmt.Errorf("template %s: section without title", t.ID)
			}
			if s.MaxWords > 0 && s.MinWords > s.MaxWords {
				return nil, fmt.Errorf("template %s: section %q has minWords above maxWords", t.ID, s.Title)
			}
		}
		sort.SliceStable(t.Sections, func(i, j int) bool { return t.Sections[i].Order < t.Sections[j].Order })
		r.byID[t.ID] = len(r.templates)
		r.templates = append(r.templates, t)
	}
	return r, nil
}

// List returns every template in file order.
func (r *Registry) List() []Template {
	out := make([]Template, len(r.templates))
	copy(out, r.templates)
	return out
}

func (r *Registry) Get(id string) (Template, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Template{}, false
	}
	return r.templates[i], true
}

// Limits returns the word limits of a template section, or zeros when
// either is unknown.
func (r *Registry) Limits(templateID, sectionTitle string) (minWords, maxWords int) {
	t, ok := r.Get(templateID)
	if !ok {
		return 0, 0
	}
	for _, s := range t.Sections {
		if s.Title == sectionTitle {
			return s.MinWords, s.MaxWords
		}
	}
	return 0, 0
}
