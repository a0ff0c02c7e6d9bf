package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"

	"quasar_backend/models"

	"golang.org/x/sync/singleflight"
)

// Instance is a constructed provider adaptor held by the cache. Capability
// interfaces (historical pulls, live streams) are asserted by callers.
type Instance interface {
	ProviderName() string
}

// Factory builds a provider instance from its registry record, decrypted
// secrets (nil for user index providers) and the preference snapshot taken
// at load time.
type Factory func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, preferences models.PreferenceBlob) (Instance, error)

// ConstructionError wraps an adaptor failure during load. The cache entry
// stays unloaded and the next Get re-attempts construction from scratch.
type ConstructionError struct {
	Provider string
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct provider %q: %v", e.Provider, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// RecordSource reads provider records from the registry
type RecordSource interface {
	ReadRecord(name string) (*models.ProviderRecord, error)
}

// SecretSource decrypts the full credential set for a provider
type SecretSource interface {
	Open(name string) (map[string]string, error)
}

// PreferenceSource resolves the current preference blob for a provider
type PreferenceSource interface {
	Get(name string) (models.PreferenceBlob, error)
}

// entry is one loaded provider with the preference snapshot it was
// constructed with
type entry struct {
	instance    Instance
	preferences models.PreferenceBlob
}

// Cache holds loaded provider instances keyed by name. Loads are
// serialized per name: concurrent Gets during a load wait on the in-flight
// construction instead of racing. Invalidation discards the entry without
// blocking; the next Get reloads lazily.
type Cache struct {
	records RecordSource
	secrets SecretSource
	prefs   PreferenceSource
	factory Factory

	mu     sync.RWMutex
	loaded map[string]*entry
	gens   map[string]uint64
	group  singleflight.Group
}

// NewCache creates an empty lifecycle cache
func NewCache(records RecordSource, secrets SecretSource, prefs PreferenceSource, factory Factory) *Cache {
	return &Cache{
		records: records,
		secrets: secrets,
		prefs:   prefs,
		factory: factory,
		loaded:  make(map[string]*entry),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached instance for name, loading it on demand. A failed
// load leaves the entry unloaded and propagates the error; retrying is
// driven by the caller's next Get.
func (c *Cache) Get(ctx context.Context, name string) (Instance, error) {
	c.mu.RLock()
	e, ok := c.loaded[name]
	c.mu.RUnlock()
	if ok {
		return e.instance, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		// Another caller may have completed the load while we queued
		c.mu.RLock()
		e, ok := c.loaded[name]
		c.mu.RUnlock()
		if ok {
			return e.instance, nil
		}
		return c.load(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(Instance), nil
}

// load fetches the record, credentials and current preferences, constructs
// the instance and stores it. The generation captured before fetching
// guards against an Invalidate racing the in-flight load: if the name was
// invalidated while we were constructing, the instance is returned to the
// caller but not cached, so the next Get reloads with fresh state.
func (c *Cache) load(ctx context.Context, name string) (Instance, error) {
	c.mu.RLock()
	gen := c.gens[name]
	c.mu.RUnlock()

	rec, err := c.records.ReadRecord(name)
	if err != nil {
		return nil, err
	}

	var secrets map[string]string
	if rec.Kind != models.KindUserIndex {
		secrets, err = c.secrets.Open(name)
		if err != nil {
			return nil, err
		}
	}

	preferences, err := c.prefs.Get(name)
	if err != nil {
		return nil, err
	}

	instance, err := c.factory(ctx, rec, secrets, preferences)
	if err != nil {
		cerr := &ConstructionError{Provider: name, Err: err}
		log.Printf("Provider load failed: provider=%s error=%v", name, err)
		return nil, cerr
	}

	c.mu.Lock()
	if c.gens[name] == gen {
		c.loaded[name] = &entry{instance: instance, preferences: preferences}
	}
	c.mu.Unlock()

	log.Printf("Provider loaded: provider=%s kind=%s", name, rec.Kind)
	return instance, nil
}

// Invalidate discards the cached instance for name, if any. It never
// blocks and never reloads eagerly; the next Get performs the reload.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	_, wasLoaded := c.loaded[name]
	delete(c.loaded, name)
	c.gens[name]++
	c.mu.Unlock()

	// Drop any in-flight load result so the next Get starts fresh
	c.group.Forget(name)

	if wasLoaded {
		log.Printf("Provider unloaded: provider=%s", name)
	}
}

// PreferenceSnapshot returns the preference blob the loaded instance was
// constructed with, if the provider is currently loaded
func (c *Cache) PreferenceSnapshot(name string) (models.PreferenceBlob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.loaded[name]
	if !ok {
		return models.PreferenceBlob{}, false
	}
	return e.preferences, true
}

// Loaded reports whether a provider instance is currently cached
func (c *Cache) Loaded(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.loaded[name]
	return ok
}
