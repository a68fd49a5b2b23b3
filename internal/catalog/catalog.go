package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-esri/internal/log"
)

var (
	ErrNotFound = errors.New("service not found")
	ErrExists   = errors.New("service already exists")
	ErrInvalid  = errors.New("invalid service")
)

// FileName is the catalog file inside the data directory.
const FileName = "services.yaml"

// Catalog is the set of configured services, persisted as YAML.
type Catalog struct {
	dataDir string
	bus     *Bus

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads the catalog from dataDir. A missing file yields an empty
// catalog; an unreadable one is an error.
func Open(dataDir string) (*Catalog, error) {
	c := &Catalog{
		dataDir: dataDir,
		bus:     NewBus(),
		entries: make(map[string]Entry),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Bus returns the bus catalog events are published on.
func (c *Catalog) Bus() *Bus { return c.bus }

// List returns all entries ordered by id.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns an entry by id.
func (c *Catalog) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Create validates and adds e. The id is derived from the name when
// empty, and is a random uuid when the name yields nothing usable.
func (c *Catalog) Create(e Entry) (Entry, error) {
	if err := Validate(e); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	if e.ID == "" {
		e.ID = generateID(e.Name)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := c.entries[e.ID]; exists {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %q", ErrExists, e.ID)
	}
	c.entries[e.ID] = e
	if err := c.save(); err != nil {
		delete(c.entries, e.ID)
		c.mu.Unlock()
		return Entry{}, err
	}
	c.mu.Unlock()

	log.Info("[catalog] service created", zap.String("id", e.ID), zap.String("type", e.Type))
	c.bus.Publish(Event{Action: "created", ID: e.ID})
	return e, nil
}

// Update replaces the entry with the given id.
func (c *Catalog) Update(id string, e Entry) (Entry, error) {
	if err := Validate(e); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	prev, exists := c.entries[id]
	if !exists {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	e.ID = id
	c.entries[id] = e
	if err := c.save(); err != nil {
		c.entries[id] = prev
		c.mu.Unlock()
		return Entry{}, err
	}
	c.mu.Unlock()

	c.bus.Publish(Event{Action: "updated", ID: id})
	return e, nil
}

// Delete removes the entry with the given id.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	prev, exists := c.entries[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(c.entries, id)
	if err := c.save(); err != nil {
		c.entries[id] = prev
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	log.Info("[catalog] service deleted", zap.String("id", id))
	c.bus.Publish(Event{Action: "deleted", ID: id})
	return nil
}

// Seed adds entries that are not in the catalog yet and reports how many
// were added.
func (c *Catalog) Seed(entries []Entry) (int, error) {
	n := 0
	for _, e := range entries {
		if e.ID != "" {
			if _, ok := c.Get(e.ID); ok {
				continue
			}
		} else if _, ok := c.Get(generateID(e.Name)); ok {
			continue
		}
		if _, err := c.Create(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Validate checks the fields every service type needs.
func Validate(e Entry) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	switch e.Type {
	case TypeDynamic, TypeTiled, TypeImage, TypeFeature, TypeVectorTile:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, e.Type)
	}
	u, err := url.Parse(strings.TrimSpace(e.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalid)
	}
	if e.Opacity < 0 || e.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be between 0 and 1", ErrInvalid)
	}
	return nil
}

func (c *Catalog) configFile() string {
	return filepath.Join(c.dataDir, FileName)
}

func (c *Catalog) load() error {
	data, err := os.ReadFile(c.configFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", c.configFile(), err)
	}
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		c.entries[e.ID] = e
	}
	return nil
}

// save writes the catalog; callers hold mu.
func (c *Catalog) save() error {
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return err
	}
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile(), data, 0o644)
}

// generateID creates a URL-safe id from a name.
func generateID(name string) string {
	id := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
