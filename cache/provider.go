package cache

import (
	"sort"
	"sync"
	"time"
)

// Provider is the cache store: named generations of stored responses.
// Each generation maps keys (URL paths) to []byte values, which represent HTTP responses.
// Generations are independent: deleting one never touches the others.
//
// Implementations must be thread-safe!
type Provider interface {
	// Open returns the generation with the given name, creating it if it does not exist.
	Open(name string) (Generation, error)
	// Generations returns the names of all existing generations.
	Generations() ([]string, error)
	// HasGeneration checks if a generation with the given name exists.
	HasGeneration(name string) (bool, error)
	// DeleteGeneration removes a generation and everything stored in it.
	// Deleting a missing generation is not an error.
	DeleteGeneration(name string) error
}

// Generation is a single named cache, keyed by URL path.
type Generation interface {
	Name() string
	// Get returns the stored response for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(key string) ([]byte, bool, error)
	// Put stores the given response under the given key, replacing any previous entry.
	Put(key string, bytes []byte) error
	// Purge removes the entry for the given key.
	Purge(key string) error
	// Has checks if the specified key exists.
	Has(key string) bool
	// Keys calls the given callback for each key in the generation.
	Keys(cb func(string))
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

type MemProvider struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemProvider() MemProvider {
	return MemProvider{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m MemProvider) Open(name string) (Generation, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		m.db[name] = make(map[string]CacheEntry)
	}
	return memGeneration{provider: m, name: name}, nil
}

func (m MemProvider) Generations() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemProvider) HasGeneration(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[name]
	return ok, nil
}

func (m MemProvider) DeleteGeneration(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, name)
	return nil
}

type memGeneration struct {
	provider MemProvider
	name     string
}

func (g memGeneration) Name() string {
	return g.name
}

func (g memGeneration) Get(key string) ([]byte, bool, error) {
	g.provider.mutex.RLock()
	defer g.provider.mutex.RUnlock()
	entry, ok := g.provider.db[g.name][key]
	if !ok {
		return nil, false, nil
	}
	return entry.Bytes, true, nil
}

func (g memGeneration) Put(key string, bytes []byte) error {
	g.provider.mutex.Lock()
	defer g.provider.mutex.Unlock()
	entries, ok := g.provider.db[g.name]
	if !ok {
		// the generation was deleted while in use, writing recreates it
		entries = make(map[string]CacheEntry)
		g.provider.db[g.name] = entries
	}
	entries[key] = CacheEntry{Key: key, StoredAt: time.Now(), Bytes: bytes}
	return nil
}

func (g memGeneration) Purge(key string) error {
	g.provider.mutex.Lock()
	defer g.provider.mutex.Unlock()
	delete(g.provider.db[g.name], key)
	return nil
}

func (g memGeneration) Has(key string) bool {
	g.provider.mutex.RLock()
	defer g.provider.mutex.RUnlock()
	_, ok := g.provider.db[g.name][key]
	return ok
}

func (g memGeneration) Keys(cb func(string)) {
	g.provider.mutex.RLock()
	keys := make([]string, 0, len(g.provider.db[g.name]))
	for key := range g.provider.db[g.name] {
		keys = append(keys, key)
	}
	g.provider.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
}
