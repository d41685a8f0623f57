package bytecode

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a content hash of a script file.
//
// Modification times are never consulted: a file rewritten within the same mtime
// granularity bucket still gets a new fingerprint.
type Fingerprint uint64

// FingerprintOf hashes file contents.
func FingerprintOf(data []byte) Fingerprint {
	return Fingerprint(xxhash.Sum64(data))
}

// FingerprintFile reads and hashes the file at path.
func FingerprintFile(path string) (Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to fingerprint %s: %w", path, err)
	}
	return FingerprintOf(data), nil
}

// Entry is one cached script.
// An entry with CompileSucceeded=false is a failure marker and holds no chunk.
type Entry struct {
	Path             string
	Chunk            *Chunk
	Fingerprint      Fingerprint
	CompileSucceeded bool
	Origin           Origin
	StoredAt         time.Time

	seq uint64
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries int    `json:"entries"`
	Failed  int    `json:"failed"`
	Bytes   int64  `json:"bytes"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`

	// Persisted counts records in the persistent tier.
	Persisted int `json:"persisted"`
}

// Cache maps script paths to compiled chunks. The authority's loader writes to it
// and every replica reads from it, so the authority must populate it first.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	seq     uint64

	hits   atomic.Uint64
	misses atomic.Uint64

	persister Persister
}

// NewCache creates an empty cache. persister may be nil.
func NewCache(persister Persister) *Cache {
	return &Cache{
		entries:   make(map[string]*Entry),
		persister: persister,
	}
}

// Get returns the chunk for path, or false on a miss. It misses when the path is
// unknown, when the file's current fingerprint differs from the stored one (the
// stale entry is evicted), when the entry is a failure marker, or when the file
// cannot be read.
func (c *Cache) Get(path string) (*Chunk, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	entry, ok := c.Lookup(path, FingerprintOf(data))
	if !ok || !entry.CompileSucceeded {
		return nil, false
	}
	return entry.Chunk, true
}

// Lookup returns the entry stored for path if its fingerprint still equals fp.
// Failure markers are returned too, so the loader can skip recompiling a script
// that is known to be broken and unchanged. Only successful entries count as hits.
func (c *Cache) Lookup(path string, fp Fingerprint) (*Entry, bool) {
	c.mu.RLock()
	entry := c.entries[path]
	c.mu.RUnlock()

	if entry != nil && entry.Fingerprint != fp {
		c.evict(path, entry)
		entry = nil
	}

	if entry == nil {
		entry = c.restore(path, fp)
	}

	if entry == nil {
		c.misses.Add(1)
		return nil, false
	}

	if entry.CompileSucceeded {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, true
}

// Put stores an entry under a fingerprint the caller already computed. Any existing
// entry is overwritten.
func (c *Cache) Put(path string, fp Fingerprint, chunk *Chunk, success bool, origin Origin) *Entry {
	if !success {
		chunk = nil
	}

	c.mu.Lock()
	c.seq++
	entry := &Entry{
		Path:             path,
		Chunk:            chunk,
		Fingerprint:      fp,
		CompileSucceeded: success,
		Origin:           origin,
		StoredAt:         time.Now(),
		seq:              c.seq,
	}
	c.entries[path] = entry
	c.mu.Unlock()

	c.persist(entry)
	return entry
}

// Store overwrites the entry for path, fingerprinting the file as part of the call.
func (c *Cache) Store(path string, chunk *Chunk, success bool) error {
	fp, err := FingerprintFile(path)
	if err != nil {
		return err
	}
	c.Put(path, fp, chunk, success, OriginCompiled)
	return nil
}

// Invalidate evicts path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.Delete(path); err != nil {
			log.Printf("[Cache] Failed to delete persisted chunk %s: %v", path, err)
		}
	}
}

// InvalidateAll evicts every entry and forgets the recorded load order.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.order = nil
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.Clear(); err != nil {
			log.Printf("[Cache] Failed to clear persisted chunks: %v", err)
		}
	}

	log.Printf("[Cache] Invalidated all entries")
}

// SetLoadOrder records the order in which the authority loaded its scripts.
func (c *Cache) SetLoadOrder(paths []string) {
	order := make([]string, len(paths))
	copy(order, paths)

	c.mu.Lock()
	c.order = order
	c.mu.Unlock()
}

// Loaded returns every successfully compiled entry, in the authority's last load
// order. Entries stored outside a recorded pass follow in store order.
func (c *Cache) Loaded() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Entry, 0, len(c.entries))
	seen := make(map[string]bool, len(c.order))
	for _, path := range c.order {
		entry, ok := c.entries[path]
		if !ok || !entry.CompileSucceeded || seen[path] {
			continue
		}
		seen[path] = true
		result = append(result, entry)
	}

	var rest []*Entry
	for path, entry := range c.entries {
		if entry.CompileSucceeded && !seen[path] {
			rest = append(rest, entry)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].seq < rest[j].seq })

	return append(result, rest...)
}

// Len returns the number of entries, failure markers included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports entry counts, total chunk bytes and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Entries: len(c.entries),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
	for _, entry := range c.entries {
		if !entry.CompileSucceeded {
			stats.Failed++
			continue
		}
		stats.Bytes += int64(entry.Chunk.Size)
	}

	if c.persister != nil {
		paths, err := c.persister.Paths()
		if err != nil {
			log.Printf("[Cache] Failed to list persisted chunks: %v", err)
		}
		stats.Persisted = len(paths)
	}
	return stats
}

// evict removes entry if it is still the one stored for path.
func (c *Cache) evict(path string, entry *Entry) {
	c.mu.Lock()
	if c.entries[path] == entry {
		delete(c.entries, path)
	}
	c.mu.Unlock()

	log.Printf("[Cache] Evicted %s: fingerprint changed", path)
}

// restore promotes a persisted record whose fingerprint still matches.
func (c *Cache) restore(path string, fp Fingerprint) *Entry {
	if c.persister == nil {
		return nil
	}

	rec, err := c.persister.Load(path)
	if err != nil {
		log.Printf("[Cache] Failed to load persisted chunk %s: %v", path, err)
		return nil
	}
	if rec == nil || rec.Fingerprint != fp {
		return nil
	}

	chunk, err := Undump(path, rec.Data)
	if err != nil {
		log.Printf("[Cache] Discarding persisted chunk %s: %v", path, err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[path]; ok && existing.Fingerprint == fp {
		return existing
	}
	origin := rec.Origin
	if origin == "" {
		origin = OriginCompiled
	}
	c.seq++
	entry := &Entry{
		Path:             path,
		Chunk:            chunk,
		Fingerprint:      fp,
		CompileSucceeded: true,
		Origin:           origin,
		StoredAt:         time.UnixMilli(rec.SavedAtMs),
		seq:              c.seq,
	}
	c.entries[path] = entry
	return entry
}

// persist writes successful entries through to the persister and drops stale
// records for failures.
func (c *Cache) persist(entry *Entry) {
	if c.persister == nil {
		return
	}

	if !entry.CompileSucceeded {
		if err := c.persister.Delete(entry.Path); err != nil {
			log.Printf("[Cache] Failed to delete persisted chunk %s: %v", entry.Path, err)
		}
		return
	}

	data, err := Dump(entry.Chunk)
	if err != nil {
		log.Printf("[Cache] Failed to dump %s for persistence: %v", entry.Path, err)
		return
	}

	rec := &Record{
		Path:        entry.Path,
		Fingerprint: entry.Fingerprint,
		Origin:      entry.Origin,
		Data:        data,
		SavedAtMs:   entry.StoredAt.UnixMilli(),
	}
	if err := c.persister.Save(rec); err != nil {
		log.Printf("[Cache] Failed to persist %s: %v", entry.Path, err)
	}
}
