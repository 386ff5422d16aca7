package collection

import (
	"sync"

	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// AliasTable implements the supplemented alias feature named in spec §3:
// "aliases provide renaming without data move." It is a small
// copy-on-read map from alias name to the current collection name,
// held by whatever registry owns a node's collections (outside this
// package's scope); Collection itself is unaware of its own aliases.
type AliasTable struct {
	mu      sync.RWMutex
	byAlias map[string]string
}

// NewAliasTable returns an empty alias table.
func NewAliasTable() *AliasTable {
	return &AliasTable{byAlias: make(map[string]string)}
}

// Set points alias at collection, replacing any prior target.
func (a *AliasTable) Set(alias, collectionName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byAlias[alias] = collectionName
}

// Resolve returns the collection name an alias currently points at. If
// name isn't a known alias, it's returned unchanged so callers can treat
// every collection reference uniformly.
func (a *AliasTable) Resolve(name string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if target, ok := a.byAlias[name]; ok {
		return target
	}
	return name
}

// Remove deletes an alias. Returns an error if the alias did not exist,
// mirroring the vector store's delete-returns-bool shape but surfaced as
// an error since callers of the admin surface expect one here.
func (a *AliasTable) Remove(alias string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byAlias[alias]; !ok {
		return vgerr.New(vgerr.UnknownCollection, "alias not found")
	}
	delete(a.byAlias, alias)
	return nil
}

// Aliases returns every alias currently pointing at collectionName.
func (a *AliasTable) Aliases(collectionName string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for alias, target := range a.byAlias {
		if target == collectionName {
			out = append(out, alias)
		}
	}
	return out
}
