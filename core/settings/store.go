// Package settings owns the host-wide settings store. Every module's declared
// schema is merged into the store under the module's id, so two modules can
// never collide, and persisted values are validated against the declared
// types and constraints on each merge. All reads and writes of persisted
// configuration go through this package; no other component touches the file.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"

	"github.com/Breadcord/Breadcord/core/metrics"
)

// ValidationError reports a settings key whose value or declaration is invalid.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings key %q: %s", e.Key, e.Reason)
}

// Store is the merged settings store: the union of all modules' declared
// entries plus host-level entries, backed by one TOML document on disk.
type Store struct {
	mu       sync.RWMutex
	path     string
	reserved map[string]struct{}
	schemas  map[string]*Schema
	values   map[string]map[string]interface{}
}

// NewStore creates a Store persisting to path. The reserved namespaces are
// host-level; a module whose id matches one is rejected at merge time.
func NewStore(path string, reserved ...string) *Store {
	s := &Store{
		path:     path,
		reserved: make(map[string]struct{}, len(reserved)),
		schemas:  make(map[string]*Schema),
		values:   make(map[string]map[string]interface{}),
	}
	for _, ns := range reserved {
		s.reserved[ns] = struct{}{}
	}
	return s
}

// Load reads the persisted settings document. A missing file is not an error;
// the store starts empty and is created on first save.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings store: %w", err)
	}
	values := make(map[string]map[string]interface{})
	if err := toml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse settings store: %w", err)
	}
	s.values = values
	return nil
}

// Merge merges a module's declared schema into the store under the module's
// namespace, applying defaults for missing values and validating every
// persisted value against the declared type and constraints. Merging is
// idempotent; re-merging an unchanged schema leaves values untouched.
func (s *Store) Merge(moduleID string, schema *Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reserved[moduleID]; ok {
		return &ValidationError{Key: moduleID, Reason: "namespace is reserved by the host"}
	}
	return s.mergeLocked(moduleID, schema)
}

// MergeHost merges host-level entries into a reserved namespace.
func (s *Store) MergeHost(namespace string, schema *Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reserved[namespace]; !ok {
		return &ValidationError{Key: namespace, Reason: "host entries must use a reserved namespace"}
	}
	return s.mergeLocked(namespace, schema)
}

func (s *Store) mergeLocked(ns string, schema *Schema) error {
	if schema == nil {
		schema = &Schema{}
	}

	existing := s.values[ns]
	merged := make(map[string]interface{}, len(schema.Entries))
	for _, entry := range schema.Entries {
		value, ok := existing[entry.Key]
		if !ok {
			merged[entry.Key] = entry.Default
			continue
		}
		value = normalize(value)
		if err := entry.validate(value); err != nil {
			return err
		}
		merged[entry.Key] = value
	}
	s.values[ns] = merged
	s.schemas[ns] = schema
	return s.saveLocked()
}

// Release drops a module's schema from the store. Persisted values are kept
// on disk so a reinstalled module finds its configuration again.
func (s *Store) Release(moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemas, moduleID)
}

// Get returns the value for a key in a namespace. The namespace must have a
// merged schema declaring the key.
func (s *Store) Get(ns, key string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.entryLocked(ns, key)
	if err != nil {
		return nil, err
	}
	if value, ok := s.values[ns][key]; ok {
		return value, nil
	}
	return entry.Default, nil
}

// Set validates and persists a value for a key in a namespace.
func (s *Store) Set(ns, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ns, key)
	if err != nil {
		return err
	}
	value = normalize(value)
	if err := entry.validate(value); err != nil {
		return err
	}
	s.values[ns][key] = value
	return s.saveLocked()
}

// Entries returns the declared schema entries for a namespace.
func (s *Store) Entries(ns string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if schema, ok := s.schemas[ns]; ok {
		return append([]Entry(nil), schema.Entries...)
	}
	return nil
}

// Namespaces returns every namespace with a merged schema.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.schemas))
	for ns := range s.schemas {
		out = append(out, ns)
	}
	return out
}

// Namespace returns a view of the store scoped to one namespace, handed to
// modules through their entry context.
func (s *Store) Namespace(ns string) *Namespace {
	return &Namespace{store: s, ns: ns}
}

func (s *Store) entryLocked(ns, key string) (Entry, error) {
	schema, ok := s.schemas[ns]
	if !ok {
		return Entry{}, &ValidationError{Key: ns + "." + key, Reason: "namespace has no merged schema"}
	}
	for _, entry := range schema.Entries {
		if entry.Key == key {
			return entry, nil
		}
	}
	return Entry{}, &ValidationError{Key: ns + "." + key, Reason: "key not declared in schema"}
}

// saveLocked persists the store atomically: write a temp file, then rename.
func (s *Store) saveLocked() error {
	data, err := toml.Marshal(s.values)
	if err != nil {
		metrics.SettingsWriteCounter.WithLabelValues("failed").Inc()
		return fmt.Errorf("marshal settings store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			metrics.SettingsWriteCounter.WithLabelValues("failed").Inc()
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		metrics.SettingsWriteCounter.WithLabelValues("failed").Inc()
		return fmt.Errorf("write settings store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		metrics.SettingsWriteCounter.WithLabelValues("failed").Inc()
		return fmt.Errorf("replace settings store: %w", err)
	}
	metrics.SettingsWriteCounter.WithLabelValues("success").Inc()
	return nil
}

// Namespace is a module-scoped view of the store.
type Namespace struct {
	store *Store
	ns    string
}

// Get returns the value for a key in this namespace.
func (n *Namespace) Get(key string) (interface{}, error) {
	return n.store.Get(n.ns, key)
}

// Set validates and persists a value for a key in this namespace.
func (n *Namespace) Set(key string, value interface{}) error {
	return n.store.Set(n.ns, key, value)
}

// Decode decodes the namespace's values into a struct using mapstructure tags.
func (n *Namespace) Decode(out interface{}) error {
	n.store.mu.RLock()
	values := make(map[string]interface{}, len(n.store.values[n.ns]))
	for k, v := range n.store.values[n.ns] {
		values[k] = v
	}
	n.store.mu.RUnlock()
	if err := mapstructure.Decode(values, out); err != nil {
		return fmt.Errorf("decode settings for %q: %w", n.ns, err)
	}
	return nil
}
