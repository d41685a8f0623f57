package instance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/warren/internal/bus"
	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/event"
	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

// testEnv wires the process-wide services the way the host does.
type testEnv struct {
	root     string
	cache    *bytecode.Cache
	compiler *bytecode.Compiler
	bus      *bus.Bus
	binder   Binder
	marks    []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		root:     t.TempDir(),
		cache:    bytecode.NewCache(nil),
		compiler: bytecode.NewCompiler(),
		bus:      bus.New(),
	}
	env.binder = BinderFunc(env.bind)
	return env
}

// bind installs on_server(id, fn), a minimal event registration binding, and
// mark(text), which records text on the test env.
func (e *testEnv) bind(rt *Runtime) error {
	L := rt.LState()
	L.SetGlobal("on_server", L.NewFunction(func(L *lua.LState) int {
		id := uint32(L.CheckInt(1))
		rt.Events().Register(event.CategoryServer, id, L.CheckFunction(2))
		return 0
	}))
	L.SetGlobal("mark", L.NewFunction(func(L *lua.LState) int {
		e.marks = append(e.marks, rt.Key().String()+":"+L.CheckString(1))
		return 0
	}))
	return nil
}

func (e *testEnv) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (e *testEnv) services() Services {
	return Services{
		Loader:   loader.New(e.cache, e.compiler, nil),
		Cache:    e.cache,
		Compiler: e.compiler,
		Bus:      e.bus,
		Binder:   e.binder,
	}
}

func (e *testEnv) runtime(key partition.Key) *Runtime {
	return NewRuntime(key, Settings{ScriptRoot: e.root}, e.services())
}

func global(rt *Runtime, name string) lua.LValue {
	return rt.LState().GetGlobal(name)
}

func TestRuntime_InitializeAuthority(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.lua", `loaded_a = true`)
	env.write(t, "b.lua", `function (`)
	c := env.write(t, "lib/c.lua", `error("raised")`)

	rt := env.runtime(partition.Authority)
	require.NoError(t, rt.Initialize(RoleAuthority))
	defer rt.Shutdown()

	assert.Equal(t, StateReady, rt.State())
	assert.Equal(t, RoleAuthority, rt.Role())
	assert.Equal(t, lua.LTrue, global(rt, "loaded_a"))
	assert.Equal(t, []string{a}, rt.LoadedPaths())

	stats := rt.Stats()
	assert.Equal(t, 1, stats.Compiled)
	assert.Equal(t, 2, stats.Failed)

	var loadErr *LoadError
	for _, f := range stats.Failures {
		if f.Path == c {
			require.True(t, errors.As(f.Err, &loadErr))
		}
	}
	require.NotNil(t, loadErr, "runtime errors are load errors")
	assert.Equal(t, partition.Authority, loadErr.Partition)

	t.Run("initialize on a ready runtime is a no-op", func(t *testing.T) {
		require.NoError(t, rt.Initialize(RoleAuthority))
		assert.Equal(t, 1, env.compiler.Count(a))
	})
}

func TestRuntime_ReplicaNeverCompiles(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.lua", `value = "from cache"`)
	b := env.write(t, "b.lua", `value = value .. "!"`)

	authority := env.runtime(partition.Authority)
	require.NoError(t, authority.Initialize(RoleAuthority))
	defer authority.Shutdown()

	for i := 0; i < 5; i++ {
		replica := env.runtime(partition.Key(i))
		require.NoError(t, replica.Initialize(RoleReplica))

		assert.Equal(t, lua.LString("from cache!"), global(replica, "value"))
		assert.Equal(t, []string{a, b}, replica.LoadedPaths())
		assert.Equal(t, 2, replica.Stats().Cached)
		assert.Equal(t, 0, replica.Stats().Compiled)
		replica.Shutdown()
	}

	assert.Equal(t, 1, env.compiler.Count(a))
	assert.Equal(t, 1, env.compiler.Count(b))
}

func TestRuntime_ReplicaWithEmptyCache(t *testing.T) {
	env := newTestEnv(t)
	replica := env.runtime(3)

	require.NoError(t, replica.Initialize(RoleReplica))
	defer replica.Shutdown()

	assert.Equal(t, StateReady, replica.State())
	assert.Empty(t, replica.LoadedPaths())
	assert.Equal(t, 0, replica.Stats().Loaded())
}

func TestRuntime_BinderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.lua", `x = 1`)
	env.binder = BinderFunc(func(rt *Runtime) error {
		return errors.New("binding exploded")
	})

	rt := env.runtime(partition.Authority)
	err := rt.Initialize(RoleAuthority)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterpreter))
	assert.Contains(t, err.Error(), "binding exploded")

	assert.Equal(t, StateUninitialized, rt.State())
	assert.Nil(t, rt.LState())
	assert.Empty(t, rt.LoadedPaths())
	assert.Equal(t, 0, env.compiler.Stats().Compiles, "nothing is loaded after a fatal failure")
}

func TestRuntime_Shutdown(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.lua", `
on_server(1, function() mark("open") end)
on_server(2, function() mark("close") end)
`)

	rt := env.runtime(partition.Authority)
	require.NoError(t, rt.Initialize(RoleAuthority))
	assert.Equal(t, []string{"authority:open"}, env.marks, "state open fires after load")

	env.bus.RegisterHandler(partition.Authority, "ping", func(bus.Message) error { return nil })
	L := rt.LState()

	rt.Shutdown()
	assert.Equal(t, StateShutdown, rt.State())
	assert.Equal(t, []string{"authority:open", "authority:close"}, env.marks, "state close fires before the interpreter closes")
	assert.True(t, L.IsClosed())
	assert.Nil(t, rt.LState())
	assert.Empty(t, rt.LoadedPaths())
	assert.Equal(t, 0, rt.Events().Len())
	assert.Equal(t, 0, env.bus.Handlers(partition.Authority, "ping"))

	t.Run("idempotent", func(t *testing.T) {
		rt.Shutdown()
		assert.Equal(t, StateShutdown, rt.State())
	})

	t.Run("calls after shutdown are rejected", func(t *testing.T) {
		err := rt.ExecuteInline(`x = 1`)
		assert.True(t, errors.Is(err, ErrNotReady))
	})
}

func TestRuntime_Reload(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "a.lua", `version = 1`)

	rt := env.runtime(partition.Authority)
	require.NoError(t, rt.Initialize(RoleAuthority))
	defer rt.Shutdown()
	require.NoError(t, rt.ExecuteInline(`leftover = true`))

	env.write(t, "a.lua", `version = 2`)
	stats, err := rt.Reload()
	require.NoError(t, err)

	assert.Equal(t, partition.Authority, rt.Key())
	assert.Equal(t, RoleAuthority, rt.Role())
	assert.Equal(t, 1, stats.Compiled)
	assert.Equal(t, lua.LNumber(2), global(rt, "version"))
	assert.Equal(t, lua.LNil, global(rt, "leftover"), "a reload starts from a fresh interpreter")
	assert.Equal(t, []string{path}, rt.LoadedPaths())
	assert.Equal(t, 2, env.compiler.Count(path))
}

func TestRuntime_ExecuteInline(t *testing.T) {
	env := newTestEnv(t)
	rt := env.runtime(4)
	require.NoError(t, rt.Initialize(RoleReplica))
	defer rt.Shutdown()

	require.NoError(t, rt.ExecuteInline(`answer = 6 * 7`))
	assert.Equal(t, lua.LNumber(42), global(rt, "answer"))
	assert.Empty(t, rt.LoadedPaths())
	assert.Equal(t, 1, env.compiler.Count("=inline:partition-4"))

	err := rt.ExecuteInline(`this is not lua`)
	var compileErr *bytecode.CompileError
	assert.True(t, errors.As(err, &compileErr))

	err = rt.ExecuteInline(`error("inline boom")`)
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, loadErr.Error(), "inline boom")
}

func TestRuntime_RequireAndJSON(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "lib/util.lua", `return { double = function(x) return x * 2 end }`)
	env.write(t, "main.lua", `
local util = require("util")
local json = require("json")
doubled = util.double(21)
encoded = json.encode({ ok = true })
`)

	rt := env.runtime(partition.Authority)
	require.NoError(t, rt.Initialize(RoleAuthority))
	defer rt.Shutdown()

	assert.Equal(t, lua.LNumber(42), global(rt, "doubled"))
	assert.Equal(t, lua.LString(`{"ok":true}`), global(rt, "encoded"))
}

func TestRuntime_Call(t *testing.T) {
	env := newTestEnv(t)
	rt := env.runtime(partition.Authority)
	require.NoError(t, rt.Initialize(RoleAuthority))
	defer rt.Shutdown()

	require.NoError(t, rt.ExecuteInline(`function add(a, b) return a + b end`))
	fn := global(rt, "add").(*lua.LFunction)

	ret, err := rt.Call(fn, lua.LNumber(1), lua.LNumber(2))
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(3), ret)

	require.NoError(t, rt.ExecuteInline(`function fail() error("nope") end`))
	_, err = rt.Call(global(rt, "fail").(*lua.LFunction))
	assert.Error(t, err)

	summary := rt.Summary()
	assert.Equal(t, StateReady, summary.State)
	assert.Equal(t, RoleAuthority, summary.Role)
}
