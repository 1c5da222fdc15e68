// Package catalog resolves the closed set of event type definitions the
// server dispatches. Types are declared in a designer-editable JSON
// document and resolved once at start; there is no runtime discovery.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"emberfall/server/internal/event"
)

type source interface {
	Load() ([]byte, error)
	Path() string
}

type fileSource struct {
	path string
}

func (f fileSource) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f fileSource) Path() string {
	return f.path
}

// MemorySource supplies catalog JSON from memory; tests use it instead of
// files on disk.
type MemorySource struct {
	Name string
	Data []byte
}

func (m MemorySource) Load() ([]byte, error) {
	return m.Data, nil
}

func (m MemorySource) Path() string {
	if m.Name == "" {
		return "<memory>"
	}
	return m.Name
}

// Definition is the resolved, runtime view of one event type.
type Definition struct {
	TypeID       uint16
	Name         string
	Priority     event.Priority
	ParallelSafe bool
	Forward      bool
	Payload      string
	Description  string
}

// DefaultPaths returns the canonical catalog locations relative to the
// server module root.
func DefaultPaths() []string {
	return []string{
		filepath.Join("config", "events", "definitions.json"),
	}
}

// Catalog merges one or more catalog sources into a stable lookup table.
// Call Reload to pick up on-disk changes during development.
type Catalog struct {
	mu      sync.RWMutex
	sources []source
	byID    map[uint16]Definition
	byName  map[string]Definition
}

// Load constructs a Catalog from file paths. Missing files are skipped so
// a default path list works before any catalog is authored.
func Load(paths ...string) (*Catalog, error) {
	sources := make([]source, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		sources = append(sources, fileSource{path: trimmed})
	}
	return NewCatalog(sources...)
}

// NewCatalog constructs a Catalog from arbitrary sources. Later sources
// override earlier ones by type id, supporting local overlays.
func NewCatalog(sources ...source) (*Catalog, error) {
	c := &Catalog{sources: append([]source(nil), sources...)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-parses every source and swaps the lookup tables atomically.
func (c *Catalog) Reload() error {
	byID := make(map[uint16]Definition)
	byName := make(map[string]Definition)
	for _, src := range c.sources {
		data, err := src.Load()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("catalog: failed loading %s: %w", src.Path(), err)
		}
		documents, err := decodeEntries(data)
		if err != nil {
			return fmt.Errorf("catalog: failed parsing %s: %w", src.Path(), err)
		}
		seen := make(map[uint16]struct{}, len(documents))
		for _, doc := range documents {
			def, err := resolveEntry(doc)
			if err != nil {
				return fmt.Errorf("catalog: %s: %w", src.Path(), err)
			}
			if _, dup := seen[def.TypeID]; dup {
				return fmt.Errorf("catalog: %s: duplicate typeId %d", src.Path(), def.TypeID)
			}
			seen[def.TypeID] = struct{}{}
			if existing, taken := byName[def.Name]; taken && existing.TypeID != def.TypeID {
				return fmt.Errorf("catalog: %s: name %q already bound to typeId %d", src.Path(), def.Name, existing.TypeID)
			}
			if previous, override := byID[def.TypeID]; override {
				delete(byName, previous.Name)
			}
			byID[def.TypeID] = def
			byName[def.Name] = def
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.byName = byName
	c.mu.Unlock()
	return nil
}

func resolveEntry(doc EntryDocument) (Definition, error) {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		return Definition{}, fmt.Errorf("entry with typeId %d missing name", doc.TypeID)
	}
	if doc.TypeID == 0 {
		return Definition{}, fmt.Errorf("entry %q: typeId 0 is reserved", name)
	}
	prio, ok := event.ParsePriority(strings.TrimSpace(doc.Priority))
	if !ok {
		return Definition{}, fmt.Errorf("entry %q: unknown priority %q", name, doc.Priority)
	}
	return Definition{
		TypeID:       doc.TypeID,
		Name:         name,
		Priority:     prio,
		ParallelSafe: doc.ParallelSafe,
		Forward:      doc.Forward,
		Payload:      strings.TrimSpace(doc.Payload),
		Description:  strings.TrimSpace(doc.Description),
	}, nil
}

// decodeEntries accepts the canonical array format or an object keyed by
// entry name.
func decodeEntries(data []byte) ([]EntryDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var docs []EntryDocument
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var keyed map[string]EntryDocument
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keyed))
	for name := range keyed {
		names = append(names, name)
	}
	sort.Strings(names)
	docs := make([]EntryDocument, 0, len(keyed))
	for _, name := range names {
		doc := keyed[name]
		if strings.TrimSpace(doc.Name) == "" {
			doc.Name = name
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Lookup resolves a type id.
func (c *Catalog) Lookup(typeID uint16) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.byID[typeID]
	return def, ok
}

// ByName resolves a wire name.
func (c *Catalog) ByName(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.byName[name]
	return def, ok
}

// Name returns the wire name for typeID, or a numeric fallback for types
// not in the catalog.
func (c *Catalog) Name(typeID uint16) string {
	if def, ok := c.Lookup(typeID); ok {
		return def.Name
	}
	return fmt.Sprintf("type_%d", typeID)
}

// All returns every definition ordered by type id.
func (c *Catalog) All() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]Definition, 0, len(c.byID))
	for _, def := range c.byID {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].TypeID < defs[j].TypeID })
	return defs
}

// Forwarded returns the definitions the gateway forwards, ordered by
// type id.
func (c *Catalog) Forwarded() []Definition {
	all := c.All()
	forwarded := all[:0]
	for _, def := range all {
		if def.Forward {
			forwarded = append(forwarded, def)
		}
	}
	return forwarded
}

// Len reports how many types are defined.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
