// Package catalog holds the immutable item templates that pulls materialize
// and fusion promotes between.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// Query selects templates. Zero-valued fields match anything except Rarity,
// which always matches exactly. A non-empty Types matches any listed type.
type Query struct {
	Rarity   rarity.Rarity
	SubGrade rarity.SubGrade
	Types    []ItemType
}

func (q Query) matches(t ItemTemplate) bool {
	if t.Rarity != q.Rarity {
		return false
	}
	if q.SubGrade != 0 && t.SubGrade != q.SubGrade {
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, typ := range q.Types {
		if t.Type == typ {
			return true
		}
	}
	return false
}

// Catalog holds all registered templates indexed by ID and by key.
// It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	byID  map[string]ItemTemplate
	byKey map[Key]string
	order []string
}

// New returns an empty Catalog.
//
// Postcondition: all internal maps are initialised.
func New() *Catalog {
	return &Catalog{
		byID:  make(map[string]ItemTemplate),
		byKey: make(map[Key]string),
	}
}

// Register validates and adds t.
//
// Postcondition: ByID(t.ID) and Template(t.Key()) return t; returns error if
// t is invalid or its ID or key is already registered.
func (c *Catalog) Register(t ItemTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[t.ID]; exists {
		return fmt.Errorf("catalog: Register: template ID %q already registered", t.ID)
	}
	if other, exists := c.byKey[t.Key()]; exists {
		return fmt.Errorf("catalog: Register: key %s already registered as %q", t.Key(), other)
	}
	c.byID[t.ID] = t
	c.byKey[t.Key()] = t.ID
	c.order = append(c.order, t.ID)
	return nil
}

// ByID returns the template with the given ID.
func (c *Catalog) ByID(id string) (ItemTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// Template returns the template registered under k.
//
// Postcondition: ok is true iff a template-equal entry is registered.
func (c *Catalog) Template(k Key) (ItemTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byKey[k]
	if !ok {
		return ItemTemplate{}, false
	}
	return c.byID[id], true
}

// Find returns every template matching q in registration order.
func (c *Catalog) Find(q Query) []ItemTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ItemTemplate
	for _, id := range c.order {
		if t := c.byID[id]; q.matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// All returns every template in registration order.
func (c *Catalog) All() []ItemTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ItemTemplate, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of registered templates.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// LoadTemplates reads all *.yaml and *.yml files from dir. Each file holds a
// YAML sequence of templates. A template with subgrade 0 defaults to 1, and a
// template without an ID gets DeriveID(key).
//
// Precondition: dir is a readable directory path.
// Postcondition: returns all valid templates or the first encountered error.
func LoadTemplates(dir string) ([]ItemTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("LoadTemplates: cannot read directory %q: %w", dir, err)
	}

	var out []ItemTemplate
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadTemplates: cannot read file %q: %w", path, err)
		}
		var batch []ItemTemplate
		if err := yaml.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("LoadTemplates: cannot parse file %q: %w", path, err)
		}
		for i := range batch {
			if batch[i].SubGrade == 0 {
				batch[i].SubGrade = rarity.MinSubGrade
			}
			if batch[i].ID == "" {
				batch[i].ID = DeriveID(batch[i].Key())
			}
			if err := batch[i].Validate(); err != nil {
				return nil, fmt.Errorf("LoadTemplates: invalid template in %q: %w", path, err)
			}
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Load builds a Catalog from every template file in dir.
//
// Postcondition: returns a populated Catalog or a non-nil error.
func Load(dir string) (*Catalog, error) {
	templates, err := LoadTemplates(dir)
	if err != nil {
		return nil, err
	}
	c := New()
	for _, t := range templates {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}
