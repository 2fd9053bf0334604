package identity

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Resolver maps a raw provider identity onto a logical customer id.
type Resolver interface {
	Resolve(raw string) (string, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(raw string) (string, bool)

func (f ResolverFunc) Resolve(raw string) (string, bool) { return f(raw) }

// Chain tries each resolver in order and returns the first match.
type Chain []Resolver

func (c Chain) Resolve(raw string) (string, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if id, ok := r.Resolve(raw); ok {
			return id, true
		}
	}
	return "", false
}

// AliasTable is a static lookup of raw ids (sandbox UUIDs, test fixtures)
// to logical customer ids. Keys match case-insensitively.
type AliasTable struct {
	mu      sync.RWMutex
	entries map[string]string
}

// aliasFile is the YAML document shape:
//
//	aliases:
//	  3f2b6f9e-0000-4000-8000-000000000001: demo-customer
type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

func NewAliasTable(entries map[string]string) *AliasTable {
	t := &AliasTable{entries: make(map[string]string, len(entries))}
	for raw, id := range entries {
		t.Set(raw, id)
	}
	return t
}

// LoadAliasTable reads a YAML alias file. A missing file yields an empty table.
func LoadAliasTable(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewAliasTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alias file %s: %w", path, err)
	}
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	return NewAliasTable(f.Aliases), nil
}

func (t *AliasTable) Resolve(raw string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.entries[normalizeKey(raw)]
	return id, ok
}

// Set adds or replaces one mapping.
func (t *AliasTable) Set(raw, customerID string) {
	raw = normalizeKey(raw)
	customerID = strings.TrimSpace(customerID)
	if raw == "" || customerID == "" {
		return
	}
	t.mu.Lock()
	t.entries[raw] = customerID
	t.mu.Unlock()
}

func (t *AliasTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
