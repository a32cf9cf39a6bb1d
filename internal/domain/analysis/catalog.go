package analysis

import (
	"fmt"
	"sync"
)

// Catalog is the explicit manifest of compiled-in plugins. Each plugin
// package registers its factory under an entry name; plugin directories
// reference those entries from their manifests.
type Catalog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Factory
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Factory)}
}

// Register adds a factory under entry. Registering the same entry twice is
// a programming error and panics.
func (c *Catalog) Register(entry string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry == "" || f == nil {
		panic("analysis: catalog entry requires a name and a factory")
	}
	if _, dup := c.entries[entry]; dup {
		panic(fmt.Sprintf("analysis: catalog entry %q registered twice", entry))
	}
	c.entries[entry] = f
	c.order = append(c.order, entry)
}

// Lookup returns the factory registered under entry.
func (c *Catalog) Lookup(entry string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.entries[entry]
	return f, ok
}

// Entries returns the registered entry names in registration order.
func (c *Catalog) Entries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}
