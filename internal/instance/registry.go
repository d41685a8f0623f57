package instance

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/partition"
	"golang.org/x/sync/singleflight"
)

// Factory builds an uninitialized runtime for a key.
type Factory func(key partition.Key) *Runtime

// Options tune registry policy.
type Options struct {
	// Compatibility sends every partition to the authority's runtime.
	Compatibility bool
}

// ReloadResult reports one partition's reload.
type ReloadResult struct {
	Key   partition.Key
	Stats loader.Statistics
	Err   error
}

// Registry maps partition keys to runtimes and creates them on first use.
type Registry struct {
	factory Factory
	opts    Options

	mu       sync.RWMutex
	runtimes map[partition.Key]*Runtime

	creating singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, opts Options) *Registry {
	return &Registry{
		factory:  factory,
		opts:     opts,
		runtimes: make(map[partition.Key]*Runtime),
	}
}

// GetOrCreate returns the runtime for key, creating and initializing it if needed.
//
// With compatibility enabled every key is redirected to the authority. The authority is
// always created before any replica, since replicas only read what it compiled. When
// Initialize fails nothing is registered and the error is returned.
func (r *Registry) GetOrCreate(key partition.Key) (*Runtime, error) {
	if err := partition.Validate(key); err != nil {
		return nil, err
	}

	if r.opts.Compatibility && !key.IsAuthority() {
		log.Printf("[Registry] Compatibility mode: %s uses the authority runtime", key)
		key = partition.Authority
	}

	if rt, ok := r.get(key); ok {
		return rt, nil
	}

	if !key.IsAuthority() {
		if _, err := r.GetOrCreate(partition.Authority); err != nil {
			return nil, fmt.Errorf("failed to create authority before %s: %w", key, err)
		}
	}

	v, err, _ := r.creating.Do(strconv.Itoa(int(key)), func() (interface{}, error) {
		if rt, ok := r.get(key); ok {
			return rt, nil
		}

		rt := r.factory(key)
		if err := rt.Initialize(RoleFor(key)); err != nil {
			logEvent("runtime_init_failed", map[string]interface{}{
				"partition": int(key),
				"error":     err.Error(),
			})
			return nil, err
		}

		r.mu.Lock()
		r.runtimes[key] = rt
		r.mu.Unlock()

		stats := rt.Stats()
		logEvent("runtime_created", map[string]interface{}{
			"partition": int(key),
			"role":      string(RoleFor(key)),
			"scripts":   stats.Loaded(),
			"failed":    stats.Failed,
		})
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Runtime), nil
}

// Authority returns the authority runtime, creating it if needed.
func (r *Registry) Authority() (*Runtime, error) {
	return r.GetOrCreate(partition.Authority)
}

// Lookup returns an existing runtime without creating one. Compatibility redirection
// applies.
func (r *Registry) Lookup(key partition.Key) (*Runtime, bool) {
	if r.opts.Compatibility {
		key = partition.Authority
	}
	return r.get(key)
}

func (r *Registry) get(key partition.Key) (*Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[key]
	return rt, ok
}

// Keys returns every registered key, authority first, then ascending.
func (r *Registry) Keys() []partition.Key {
	r.mu.RLock()
	keys := make([]partition.Key, 0, len(r.runtimes))
	for k := range r.runtimes {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// All returns every registered runtime in Keys order.
func (r *Registry) All() []*Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Len returns the number of registered runtimes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runtimes)
}

// Unload shuts down and removes the runtime for key. Missing keys are ignored.
func (r *Registry) Unload(key partition.Key) {
	r.mu.Lock()
	rt, ok := r.runtimes[key]
	delete(r.runtimes, key)
	r.mu.Unlock()

	if !ok {
		return
	}

	rt.Shutdown()
	logEvent("runtime_unloaded", map[string]interface{}{
		"partition": int(key),
	})
}

// UnloadAll shuts down every runtime and empties the registry.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	runtimes := r.runtimes
	r.runtimes = make(map[partition.Key]*Runtime)
	r.mu.Unlock()

	for _, rt := range runtimes {
		rt.Shutdown()
	}
	log.Printf("[Registry] Unloaded %d runtime(s)", len(runtimes))
}

// ReloadAll reloads the authority first, so its refreshed cache feeds the replicas,
// then every replica in ascending order. A failed reload is reported and that runtime is
// removed; the others still reload. Partitions that already succeeded are kept.
func (r *Registry) ReloadAll() []ReloadResult {
	runtimes := r.All()
	results := make([]ReloadResult, 0, len(runtimes))

	for _, rt := range runtimes {
		stats, err := rt.Reload()
		if err != nil {
			r.mu.Lock()
			if r.runtimes[rt.key] == rt {
				delete(r.runtimes, rt.key)
			}
			r.mu.Unlock()
			log.Printf("[Registry] Reload of %s failed: %v", rt.key, err)
		}
		results = append(results, ReloadResult{Key: rt.key, Stats: stats, Err: err})
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logEvent("reload_all_complete", map[string]interface{}{
		"partitions": len(results),
		"failed":     failed,
	})
	return results
}

func logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "registry"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Registry] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
