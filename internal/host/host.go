// Package host wires the runtime, cache, loader, router and bus together and exposes
// the hooks a game server calls.
//
// Every entry point takes the host lock, so interpreters are only ever driven by one
// goroutine at a time. Lua callbacks run while the lock is held and must not call back
// into the Host.
package host

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/bindings"
	"github.com/dyluth/warren/internal/bus"
	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/event"
	"github.com/dyluth/warren/internal/instance"
	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/partition"
	lua "github.com/yuin/gopher-lua"
)

// Host is the composition root. It owns exactly one of each process-wide service.
type Host struct {
	mu sync.Mutex

	compiler *bytecode.Compiler
	cache    *bytecode.Cache
	store    *bytecode.BoltStore
	loader   *loader.Loader
	bus      *bus.Bus
	registry *instance.Registry
	router   *event.Router
	binder   *bindings.Binder
}

// New builds a host from a validated configuration. world may be nil when the host
// never routes entity subjects.
func New(cfg *config.WarrenConfig, world event.World) (*Host, error) {
	if cfg == nil || cfg.Runtime == nil || cfg.Cache == nil {
		return nil, fmt.Errorf("configuration must be validated before use")
	}

	h := &Host{
		compiler: bytecode.NewCompiler(),
		bus:      bus.New(),
	}

	var persister bytecode.Persister
	if cfg.Cache.PersistPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.PersistPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		store, err := bytecode.OpenBoltStore(cfg.Cache.PersistPath)
		if err != nil {
			return nil, err
		}
		h.store = store
		persister = store
	}
	h.cache = bytecode.NewCache(persister)

	var transpiler loader.Transpiler
	if len(cfg.Scripts.Transpiler) > 0 {
		transpiler = &loader.CommandTranspiler{Command: cfg.Scripts.Transpiler}
	}
	h.loader = loader.New(h.cache, h.compiler, transpiler)

	settings := instance.Settings{
		ScriptRoot:    cfg.Scripts.Root,
		RequirePaths:  cfg.Scripts.RequirePaths,
		CallStackSize: *cfg.Runtime.CallStackSize,
		RegistrySize:  *cfg.Runtime.RegistrySize,
	}
	h.registry = instance.NewRegistry(func(key partition.Key) *instance.Runtime {
		return instance.NewRuntime(key, settings, instance.Services{
			Loader:   h.loader,
			Cache:    h.cache,
			Compiler: h.compiler,
			Bus:      h.bus,
			Binder:   h.binder,
		})
	}, instance.Options{Compatibility: cfg.Runtime.Compatibility})
	h.router = event.NewRouter(h.registry.Targets(), world)
	h.binder = bindings.New(h.router, h.bus)

	return h, nil
}

// Start creates the authority runtime, compiling every script under the root.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.registry.Authority(); err != nil {
		return fmt.Errorf("failed to start authority: %w", err)
	}

	logEvent("host_started", map[string]interface{}{
		"cache_entries": h.cache.Len(),
	})
	return nil
}

// Close unloads every runtime and closes the persistent store.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.UnloadAll()
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			return fmt.Errorf("failed to close bytecode store: %w", err)
		}
		h.store = nil
	}
	return nil
}

// PartitionCreated creates the partition's runtime and fires Partition Create.
func (h *Host) PartitionCreated(key partition.Key) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.registry.GetOrCreate(key); err != nil {
		return err
	}
	h.router.Dispatch(event.Partition{Key: key}, event.PartitionCreate, withID(event.PartitionCreate, lua.LNumber(key))...)
	return nil
}

// PartitionDestroyed fires Partition Destroy and unloads the partition's runtime.
func (h *Host) PartitionDestroyed(key partition.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.router.Dispatch(event.Partition{Key: key}, event.PartitionDestroy, withID(event.PartitionDestroy, lua.LNumber(key))...)
	if !key.IsAuthority() {
		h.registry.Unload(key)
	}
}

// SubjectEntered fires Partition Enter for subject and delivers the partition's
// pending messages.
func (h *Host) SubjectEntered(subject event.Subject, key partition.Key) {
	h.partitionMove(subject, key, event.PartitionEnter)
}

// SubjectLeft fires Partition Leave for subject and delivers the partition's pending
// messages.
func (h *Host) SubjectLeft(subject event.Subject, key partition.Key) {
	h.partitionMove(subject, key, event.PartitionLeave)
}

func (h *Host) partitionMove(subject event.Subject, key partition.Key, id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.router.Dispatch(event.Partition{Key: key}, id, withID(id, lua.LNumber(key), subjectGUID(subject))...)
	h.bus.Deliver(key)
}

// Action dispatches a vetoable event. It returns false if any callback objected.
func (h *Host) Action(subject event.Subject, id uint32, args ...lua.LValue) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.router.DispatchVetoable(subject, id, withID(id, args...)...)
}

// Notify dispatches an event whose results are ignored.
func (h *Host) Notify(subject event.Subject, id uint32, args ...lua.LValue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.Dispatch(subject, id, withID(id, args...)...)
}

// EntityEvent dispatches a keyed event to every runtime subscribed to entity.
func (h *Host) EntityEvent(entity uint32, cat event.Category, id uint32, args ...lua.LValue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.DispatchKeyed(entity, cat, id, withID(id, args...)...)
}

// EntityAction is the vetoable form of EntityEvent.
func (h *Host) EntityAction(entity uint32, cat event.Category, id uint32, args ...lua.LValue) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.router.DispatchKeyedVetoable(entity, cat, id, withID(id, args...)...)
}

// Wake delivers key's pending messages and returns the number of handler calls.
func (h *Host) Wake(key partition.Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bus.Deliver(key)
}

// Tick fires Server Tick with the elapsed milliseconds, then Partition Update in
// every replica, then drains every mailbox.
func (h *Host) Tick(elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := lua.LNumber(elapsed.Milliseconds())
	h.router.Dispatch(event.Global{}, event.ServerTick, withID(event.ServerTick, ms)...)
	for _, key := range h.registry.Keys() {
		if key.IsAuthority() {
			continue
		}
		h.router.Dispatch(event.Partition{Key: key}, event.PartitionUpdate, withID(event.PartitionUpdate, lua.LNumber(key), ms)...)
	}
	for _, key := range h.bus.Partitions() {
		h.bus.Deliver(key)
	}
}

// ReloadAll reloads every runtime, authority first.
func (h *Host) ReloadAll() []instance.ReloadResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.ReloadAll()
}

// ClearCache drops every cached chunk, persisted ones included. Loaded runtimes keep
// running; the next reload recompiles.
func (h *Host) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.InvalidateAll()
}

// CacheStats reports the bytecode cache.
func (h *Host) CacheStats() bytecode.Stats {
	return h.cache.Stats()
}

// CompilerStats reports compiler activity.
func (h *Host) CompilerStats() bytecode.CompilerStats {
	return h.compiler.Stats()
}

// Execute runs inline source in key's runtime, creating it if needed.
func (h *Host) Execute(key partition.Key, source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rt, err := h.registry.GetOrCreate(key)
	if err != nil {
		return err
	}
	return rt.ExecuteInline(source)
}

// Runtimes summarises every runtime in key order.
func (h *Host) Runtimes() []instance.Summary {
	runtimes := h.registry.All()
	summaries := make([]instance.Summary, 0, len(runtimes))
	for _, rt := range runtimes {
		summaries = append(summaries, rt.Summary())
	}
	return summaries
}

// Ready reports whether the authority exists and is ready.
func (h *Host) Ready() bool {
	rt, ok := h.registry.Lookup(partition.Authority)
	return ok && rt.State() == instance.StateReady
}

// withID prepends the event id, which callbacks receive as their first argument.
func withID(id uint32, args ...lua.LValue) []lua.LValue {
	return append([]lua.LValue{lua.LNumber(id)}, args...)
}

func subjectGUID(s event.Subject) lua.LValue {
	switch v := s.(type) {
	case event.Player:
		return lua.LNumber(v.GUID)
	case event.Creature:
		return lua.LNumber(v.GUID)
	case event.GameObject:
		return lua.LNumber(v.GUID)
	case event.Item:
		return lua.LNumber(v.GUID)
	case event.Object:
		return lua.LNumber(v.GUID)
	default:
		return lua.LNil
	}
}

func logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "host"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Host] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
