package bytecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}

func compileFile(t *testing.T, c *Compiler, path string) *Chunk {
	t.Helper()
	chunk, err := c.CompileFile(path)
	require.NoError(t, err)
	return chunk
}

func TestCache_GetStore(t *testing.T) {
	dir := t.TempDir()
	compiler := NewCompiler()

	t.Run("unknown path misses", func(t *testing.T) {
		cache := NewCache(nil)
		path := writeScript(t, dir, "unknown.lua", `x = 1`)

		chunk, ok := cache.Get(path)
		assert.False(t, ok)
		assert.Nil(t, chunk)
		assert.Equal(t, uint64(1), cache.Stats().Misses)
	})

	t.Run("stored chunk hits", func(t *testing.T) {
		cache := NewCache(nil)
		path := writeScript(t, dir, "hit.lua", `x = 1`)
		chunk := compileFile(t, compiler, path)

		require.NoError(t, cache.Store(path, chunk, true))

		got, ok := cache.Get(path)
		require.True(t, ok)
		assert.Same(t, chunk, got)
		assert.Equal(t, uint64(1), cache.Stats().Hits)
	})

	t.Run("failure marker misses", func(t *testing.T) {
		cache := NewCache(nil)
		path := writeScript(t, dir, "bad.lua", `function (`)

		require.NoError(t, cache.Store(path, nil, false))

		_, ok := cache.Get(path)
		assert.False(t, ok)

		entry, ok := cache.Lookup(path, mustFingerprint(t, path))
		require.True(t, ok, "lookup still reports the marker")
		assert.False(t, entry.CompileSucceeded)
		assert.Nil(t, entry.Chunk)

		stats := cache.Stats()
		assert.Equal(t, 1, stats.Entries)
		assert.Equal(t, 1, stats.Failed)
	})

	t.Run("store overwrites unconditionally", func(t *testing.T) {
		cache := NewCache(nil)
		path := writeScript(t, dir, "overwrite.lua", `x = 1`)
		first := compileFile(t, compiler, path)
		second := compileFile(t, compiler, path)

		require.NoError(t, cache.Store(path, first, true))
		require.NoError(t, cache.Store(path, second, true))

		got, ok := cache.Get(path)
		require.True(t, ok)
		assert.Same(t, second, got)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("store fails when file is unreadable", func(t *testing.T) {
		cache := NewCache(nil)
		err := cache.Store(filepath.Join(dir, "ghost.lua"), nil, false)
		assert.Error(t, err)
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("deleted file misses", func(t *testing.T) {
		cache := NewCache(nil)
		path := writeScript(t, dir, "deleted.lua", `x = 1`)
		require.NoError(t, cache.Store(path, compileFile(t, compiler, path), true))
		require.NoError(t, os.Remove(path))

		_, ok := cache.Get(path)
		assert.False(t, ok)
	})
}

func TestCache_ContentChangeInvalidates(t *testing.T) {
	dir := t.TempDir()
	compiler := NewCompiler()
	cache := NewCache(nil)

	path := writeScript(t, dir, "changing.lua", `value = 1`)
	require.NoError(t, cache.Store(path, compileFile(t, compiler, path), true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	mtime := info.ModTime()

	// Same length, same mtime: only the content differs.
	require.NoError(t, os.WriteFile(path, []byte(`value = 2`), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	info, err = os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(mtime))

	_, ok := cache.Get(path)
	assert.False(t, ok, "content change must invalidate even with an unchanged mtime")
	assert.Equal(t, 0, cache.Len(), "stale entry is evicted")
}

func TestCache_Invalidate(t *testing.T) {
	dir := t.TempDir()
	compiler := NewCompiler()
	cache := NewCache(nil)

	a := writeScript(t, dir, "a.lua", `a = 1`)
	b := writeScript(t, dir, "b.lua", `b = 1`)
	require.NoError(t, cache.Store(a, compileFile(t, compiler, a), true))
	require.NoError(t, cache.Store(b, compileFile(t, compiler, b), true))

	cache.Invalidate(a)
	_, ok := cache.Get(a)
	assert.False(t, ok)
	_, ok = cache.Get(b)
	assert.True(t, ok)

	cache.Invalidate(filepath.Join(dir, "never-stored.lua"))

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.Loaded())
}

func TestCache_Loaded(t *testing.T) {
	dir := t.TempDir()
	compiler := NewCompiler()
	cache := NewCache(nil)

	a := writeScript(t, dir, "a.lua", `a = 1`)
	b := writeScript(t, dir, "b.lua", `b = 1`)
	c := writeScript(t, dir, "c.lua", `c = 1`)
	bad := writeScript(t, dir, "bad.lua", `function (`)

	require.NoError(t, cache.Store(a, compileFile(t, compiler, a), true))
	require.NoError(t, cache.Store(b, compileFile(t, compiler, b), true))
	require.NoError(t, cache.Store(bad, nil, false))

	t.Run("store order without a recorded pass", func(t *testing.T) {
		assert.Equal(t, []string{a, b}, entryPaths(cache.Loaded()))
	})

	t.Run("recorded load order wins", func(t *testing.T) {
		cache.SetLoadOrder([]string{b, bad, a})
		require.NoError(t, cache.Store(c, compileFile(t, compiler, c), true))

		assert.Equal(t, []string{b, a, c}, entryPaths(cache.Loaded()))
	})
}

func TestCache_Stats(t *testing.T) {
	dir := t.TempDir()
	compiler := NewCompiler()
	cache := NewCache(nil)

	a := writeScript(t, dir, "a.lua", `a = "some string constant"`)
	chunk := compileFile(t, compiler, a)
	require.NoError(t, cache.Store(a, chunk, true))

	_, _ = cache.Get(a)
	_, _ = cache.Get(filepath.Join(dir, "missing.lua"))

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, int64(chunk.Size), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCache_Persister(t *testing.T) {
	dir := t.TempDir()
	compiler := NewCompiler()

	store, err := OpenBoltStore(filepath.Join(dir, "chunks.db"))
	require.NoError(t, err)
	defer store.Close()

	path := writeScript(t, dir, "persisted.lua", `answer = 42`)

	first := NewCache(store)
	require.NoError(t, first.Store(path, compileFile(t, compiler, path), true))

	t.Run("fresh cache restores from the persister", func(t *testing.T) {
		second := NewCache(store)
		chunk, ok := second.Get(path)
		require.True(t, ok)
		assert.Equal(t, path, chunk.Name)

		entry, ok := second.Lookup(path, mustFingerprint(t, path))
		require.True(t, ok)
		assert.Equal(t, OriginCompiled, entry.Origin)
	})

	t.Run("restored entries keep their recorded origin", func(t *testing.T) {
		out := writeScript(t, dir, "mod.out", `ignored`)
		chunk := compileFile(t, compiler, path)
		fp := mustFingerprint(t, out)
		first.Put(out, fp, chunk, true, OriginPrecompiled)

		fresh := NewCache(store)
		entry, ok := fresh.Lookup(out, fp)
		require.True(t, ok)
		assert.Equal(t, OriginPrecompiled, entry.Origin)
	})

	t.Run("changed file is not restored", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(`answer = 43`), 0644))

		third := NewCache(store)
		_, ok := third.Get(path)
		assert.False(t, ok)
	})

	t.Run("failure marker drops the persisted record", func(t *testing.T) {
		require.NoError(t, first.Store(path, nil, false))

		rec, err := store.Load(path)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("invalidate all clears the persister", func(t *testing.T) {
		require.NoError(t, first.Store(path, compileFile(t, compiler, path), true))
		assert.Equal(t, 2, first.Stats().Persisted)
		first.InvalidateAll()

		paths, err := store.Paths()
		require.NoError(t, err)
		assert.Empty(t, paths)
		assert.Equal(t, 0, first.Stats().Persisted)
	})
}

func mustFingerprint(t *testing.T, path string) Fingerprint {
	t.Helper()
	fp, err := FingerprintFile(path)
	require.NoError(t, err)
	return fp
}

func entryPaths(entries []*Entry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestFingerprintOf(t *testing.T) {
	assert.Equal(t, FingerprintOf([]byte("abc")), FingerprintOf([]byte("abc")))
	assert.NotEqual(t, FingerprintOf([]byte("abc")), FingerprintOf([]byte("abd")))
}
