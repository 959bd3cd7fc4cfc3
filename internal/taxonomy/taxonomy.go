// Package taxonomy holds the flag vocabulary experts choose from.
package taxonomy

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yml
var defaultTaxonomy []byte

// Flag is one selectable specific flag.
type Flag struct {
	Name    string `yaml:"name" json:"name"`
	Primary string `yaml:"primary" json:"primary"`
	Context string `yaml:"-" json:"context"`
}

// Group is a set of flags sharing a user context.
type Group struct {
	Context string `yaml:"context" json:"context"`
	Flags   []Flag `yaml:"flags" json:"flags"`
}

// Taxonomy indexes flags by name.
type Taxonomy struct {
	Groups          []Group  `yaml:"groups" json:"groups"`
	DisplayContexts []string `yaml:"display_contexts" json:"displayContexts"`

	byName map[string]Flag
}

// Parse decodes a taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}

	t.byName = make(map[string]Flag)
	for gi := range t.Groups {
		g := &t.Groups[gi]
		for fi := range g.Flags {
			f := &g.Flags[fi]
			f.Context = g.Context
			if _, dup := t.byName[f.Name]; dup {
				return nil, fmt.Errorf("duplicate flag %q in taxonomy", f.Name)
			}
			t.byName[f.Name] = *f
		}
	}
	return &t, nil
}

// Default returns the built-in taxonomy.
func Default() *Taxonomy {
	t, err := Parse(defaultTaxonomy)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup finds a flag by name.
func (t *Taxonomy) Lookup(name string) (Flag, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// IsDisplayContext reports whether ctx is one of the known display contexts.
func (t *Taxonomy) IsDisplayContext(ctx string) bool {
	for _, c := range t.DisplayContexts {
		if c == ctx {
			return true
		}
	}
	return false
}
