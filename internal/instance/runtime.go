package instance

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/alicebob/gopher-json"
	"github.com/dyluth/warren/internal/bus"
	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/event"
	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/partition"
	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrInterpreter marks failures to create or prepare an interpreter. Only these
	// abort Initialize.
	ErrInterpreter = errors.New("interpreter initialization failed")

	// ErrNotReady is returned when a runtime has no open interpreter.
	ErrNotReady = errors.New("runtime not ready")
)

// LoadError reports bytecode that raised while running inside an interpreter. It is
// distinct from a compile error: the chunk was valid, its execution was not.
type LoadError struct {
	Path      string
	Partition partition.Key
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to run %s in %s: %v", e.Path, e.Partition, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a Runtime.
type State string

const (
	StateUninitialized State = "Uninitialized"
	StateInitializing  State = "Initializing"
	StateReady         State = "Ready"
	StateShuttingDown  State = "ShuttingDown"
	StateShutdown      State = "Shutdown"
)

// Role decides how a runtime obtains its bytecode.
type Role string

const (
	// RoleAuthority discovers and compiles scripts, filling the shared cache.
	RoleAuthority Role = "authority"
	// RoleReplica only injects what the authority already cached.
	RoleReplica Role = "replica"
)

// RoleFor returns the role a partition key implies.
func RoleFor(key partition.Key) Role {
	if key.IsAuthority() {
		return RoleAuthority
	}
	return RoleReplica
}

// Binder installs the script-facing API into a runtime's interpreter.
type Binder interface {
	Bind(rt *Runtime) error
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(rt *Runtime) error

// Bind implements Binder.
func (f BinderFunc) Bind(rt *Runtime) error { return f(rt) }

// Settings are the interpreter options shared by every runtime.
type Settings struct {
	ScriptRoot    string
	RequirePaths  []string
	CallStackSize int
	RegistrySize  int
}

// Services are the process-wide collaborators a runtime uses. Binder and Bus may be
// nil.
type Services struct {
	Loader   *loader.Loader
	Cache    *bytecode.Cache
	Compiler *bytecode.Compiler
	Bus      *bus.Bus
	Binder   Binder
}

// Runtime owns one interpreter for one partition.
//
// The interpreter is not safe for concurrent use. A runtime must only be driven by one
// goroutine at a time; the mutex only protects lifecycle bookkeeping.
type Runtime struct {
	key      partition.Key
	settings Settings
	services Services
	events   *event.Table

	mu      sync.Mutex
	state   State
	role    Role
	L       *lua.LState
	paths   []string
	stats   loader.Statistics
	readyAt time.Time
}

// NewRuntime creates an uninitialized runtime.
func NewRuntime(key partition.Key, settings Settings, services Services) *Runtime {
	return &Runtime{
		key:      key,
		settings: settings,
		services: services,
		events:   event.NewTable(),
		state:    StateUninitialized,
		role:     RoleFor(key),
	}
}

// Initialize opens a fresh interpreter, installs bindings and loads scripts.
//
// An authority loads every script under the script root through the loader. A replica
// injects the cache's successfully compiled chunks in the authority's load order and
// never compiles. Script failures are only counted in Stats; interpreter and binding
// failures return an ErrInterpreter error and leave the runtime Uninitialized and empty.
// Initialize on a Ready runtime does nothing.
func (rt *Runtime) Initialize(role Role) error {
	rt.mu.Lock()
	switch rt.state {
	case StateReady:
		rt.mu.Unlock()
		return nil
	case StateInitializing, StateShuttingDown:
		state := rt.state
		rt.mu.Unlock()
		return fmt.Errorf("cannot initialize %s while %s", rt.key, state)
	}
	rt.state = StateInitializing
	rt.role = role
	rt.mu.Unlock()

	L, err := rt.openState()
	if err != nil {
		rt.reset(StateUninitialized)
		return fmt.Errorf("%w for %s: %v", ErrInterpreter, rt.key, err)
	}

	rt.mu.Lock()
	rt.L = L
	rt.mu.Unlock()

	if rt.services.Binder != nil {
		if err := rt.services.Binder.Bind(rt); err != nil {
			rt.reset(StateUninitialized)
			return fmt.Errorf("%w for %s: failed to install bindings: %v", ErrInterpreter, rt.key, err)
		}
	}

	var stats loader.Statistics
	if role == RoleAuthority {
		stats = rt.loadAuthority()
	} else {
		stats = rt.loadReplica()
	}

	rt.mu.Lock()
	rt.stats = stats
	rt.state = StateReady
	rt.readyAt = time.Now()
	rt.mu.Unlock()

	log.Printf("[Runtime] %s ready as %s: %d compiled, %d cached, %d precompiled, %d failed in %s",
		rt.key, role, stats.Compiled, stats.Cached, stats.Precompiled, stats.Failed, stats.Duration)

	event.Fire(rt, event.CategoryServer, event.ServerStateOpen, lua.LNumber(event.ServerStateOpen))
	return nil
}

func (rt *Runtime) openState() (L *lua.LState, err error) {
	defer func() {
		if r := recover(); r != nil {
			if L != nil {
				L.Close()
			}
			L = nil
			err = fmt.Errorf("%v", r)
		}
	}()

	L = lua.NewState(lua.Options{
		CallStackSize: rt.settings.CallStackSize,
		RegistrySize:  rt.settings.RegistrySize,
	})
	json.Preload(L)

	if err := rt.extendSearchPath(L); err != nil {
		L.Close()
		return nil, err
	}
	return L, nil
}

// extendSearchPath prepends the script root, its subdirectories and the configured
// require paths to package.path.
func (rt *Runtime) extendSearchPath(L *lua.LState) error {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return fmt.Errorf("package library not loaded")
	}

	var dirs []string
	if rt.settings.ScriptRoot != "" {
		found, err := loader.SearchDirs(rt.settings.ScriptRoot)
		if err != nil {
			log.Printf("[Runtime] %s: %v", rt.key, err)
		}
		dirs = append(dirs, found...)
	}
	dirs = append(dirs, rt.settings.RequirePaths...)

	var patterns []string
	for _, dir := range dirs {
		patterns = append(patterns,
			filepath.Join(dir, "?.lua"),
			filepath.Join(dir, "?", "init.lua"),
		)
	}
	if current := lua.LVAsString(pkg.RawGetString("path")); current != "" {
		patterns = append(patterns, current)
	}

	pkg.RawSetString("path", lua.LString(strings.Join(patterns, ";")))
	return nil
}

func (rt *Runtime) loadAuthority() loader.Statistics {
	if rt.services.Loader == nil || rt.settings.ScriptRoot == "" {
		log.Printf("[Runtime] %s has no script root, nothing to load", rt.key)
		return loader.Statistics{}
	}

	stats, err := rt.services.Loader.LoadDirectory(rt, rt.settings.ScriptRoot)
	if err != nil {
		log.Printf("[Runtime] %s: %v", rt.key, err)
	}
	return stats
}

func (rt *Runtime) loadReplica() loader.Statistics {
	start := time.Now()
	var stats loader.Statistics

	if rt.services.Cache == nil {
		return stats
	}

	entries := rt.services.Cache.Loaded()
	if len(entries) == 0 {
		log.Printf("[Runtime] %s: cache is empty, 0 scripts loaded", rt.key)
	}

	for _, entry := range entries {
		if err := rt.Inject(entry.Path, entry.Chunk); err != nil {
			log.Printf("[Runtime] %s: %v", rt.key, err)
			stats.Failed++
			stats.Failures = append(stats.Failures, loader.Failure{Path: entry.Path, Err: err})
			continue
		}
		if entry.Origin == bytecode.OriginPrecompiled {
			stats.Precompiled++
		} else {
			stats.Cached++
		}
	}

	stats.Duration = time.Since(start)
	return stats
}

// Inject runs chunk in this runtime's interpreter and records path as loaded.
func (rt *Runtime) Inject(path string, chunk *bytecode.Chunk) error {
	if err := rt.run(path, chunk); err != nil {
		return err
	}

	rt.mu.Lock()
	rt.paths = append(rt.paths, path)
	rt.mu.Unlock()
	return nil
}

func (rt *Runtime) run(name string, chunk *bytecode.Chunk) error {
	L := rt.LState()
	if L == nil {
		return fmt.Errorf("%s: %w", rt.key, ErrNotReady)
	}

	L.Push(L.NewFunctionFromProto(chunk.Proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return &LoadError{Path: name, Partition: rt.key, Err: err}
	}
	return nil
}

// ExecuteInline compiles source with the shared compiler and runs it here. The chunk is
// not recorded as a loaded script.
func (rt *Runtime) ExecuteInline(source string) error {
	if rt.services.Compiler == nil {
		return fmt.Errorf("no compiler available")
	}

	name := "=inline:" + rt.key.String()
	chunk, err := rt.services.Compiler.Compile([]byte(source), name)
	if err != nil {
		return err
	}
	return rt.run(name, chunk)
}

// Call runs fn with args in this runtime's interpreter and returns its first result.
func (rt *Runtime) Call(fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	L := rt.LState()
	if L == nil {
		return lua.LNil, fmt.Errorf("%s: %w", rt.key, ErrNotReady)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// Shutdown fires the close event, closes the interpreter and clears every piece of
// per-runtime state, including this partition's message queue and handlers. Calling it
// on a runtime that is not running does nothing.
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	if rt.state != StateReady {
		rt.mu.Unlock()
		return
	}
	rt.state = StateShuttingDown
	rt.mu.Unlock()

	event.Fire(rt, event.CategoryServer, event.ServerStateClose, lua.LNumber(event.ServerStateClose))

	rt.reset(StateShutdown)
	log.Printf("[Runtime] %s shut down", rt.key)
}

// reset closes the interpreter and empties all owned state.
func (rt *Runtime) reset(state State) {
	rt.mu.Lock()
	L := rt.L
	rt.L = nil
	rt.paths = nil
	rt.stats = loader.Statistics{}
	rt.readyAt = time.Time{}
	rt.mu.Unlock()

	if L != nil && !L.IsClosed() {
		L.Close()
	}
	rt.events.Reset()
	if rt.services.Bus != nil {
		rt.services.Bus.ClearPartition(rt.key)
	}

	rt.mu.Lock()
	rt.state = state
	rt.mu.Unlock()
}

// Reload shuts down and initializes again with the same role.
func (rt *Runtime) Reload() (loader.Statistics, error) {
	role := rt.Role()
	rt.Shutdown()
	if err := rt.Initialize(role); err != nil {
		return loader.Statistics{}, err
	}
	return rt.Stats(), nil
}

// Key returns the partition key.
func (rt *Runtime) Key() partition.Key { return rt.key }

// Events returns the runtime's event table.
func (rt *Runtime) Events() *event.Table { return rt.events }

// LState returns the open interpreter, or nil when there is none.
func (rt *Runtime) LState() *lua.LState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.L
}

// State returns the lifecycle state.
func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Role returns the role of the last Initialize.
func (rt *Runtime) Role() Role {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.role
}

// LoadedPaths returns a copy of the scripts loaded in the current pass, in load order.
func (rt *Runtime) LoadedPaths() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, len(rt.paths))
	copy(out, rt.paths)
	return out
}

// Stats returns the statistics of the last load.
func (rt *Runtime) Stats() loader.Statistics {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stats
}

// Summary is a snapshot of a runtime for operators.
type Summary struct {
	Key         partition.Key `json:"key"`
	Role        Role          `json:"role"`
	State       State         `json:"state"`
	Scripts     int           `json:"scripts"`
	Callbacks   int           `json:"callbacks"`
	Compiled    int           `json:"compiled"`
	Cached      int           `json:"cached"`
	Precompiled int           `json:"precompiled"`
	Failed      int           `json:"failed"`
	ReadySince  time.Time     `json:"ready_since,omitempty"`
}

// Summary returns the runtime's current summary.
func (rt *Runtime) Summary() Summary {
	rt.mu.Lock()
	s := Summary{
		Key:         rt.key,
		Role:        rt.role,
		State:       rt.state,
		Scripts:     len(rt.paths),
		Compiled:    rt.stats.Compiled,
		Cached:      rt.stats.Cached,
		Precompiled: rt.stats.Precompiled,
		Failed:      rt.stats.Failed,
		ReadySince:  rt.readyAt,
	}
	rt.mu.Unlock()

	s.Callbacks = rt.events.Len()
	return s
}
