// Package loader discovers script files and feeds their bytecode into interpreters.
//
// Source files are compiled at most once per content fingerprint: the loader asks the
// bytecode cache first, compiles only on a miss, and records failures as markers so
// a broken file is not recompiled every pass.
package loader

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies a script file by extension.
// The numeric order is the load precedence on a name collision.
type Kind int

const (
	// KindOverride files (.ext) load first so they can set up state the rest use.
	KindOverride Kind = iota
	// KindSource files (.lua) are plain Lua source.
	KindSource
	// KindTranspiled files (.moon) are translated to Lua before compiling.
	KindTranspiled
	// KindPrecompiled files (.out) hold a dumped chunk and are never compiled.
	KindPrecompiled
)

var kindByExt = map[string]Kind{
	".ext":  KindOverride,
	".lua":  KindSource,
	".moon": KindTranspiled,
	".out":  KindPrecompiled,
}

func (k Kind) String() string {
	switch k {
	case KindOverride:
		return "override"
	case KindSource:
		return "source"
	case KindTranspiled:
		return "transpiled"
	case KindPrecompiled:
		return "precompiled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf returns the kind for path, or false for unrecognized extensions.
func KindOf(path string) (Kind, bool) {
	k, ok := kindByExt[strings.ToLower(filepath.Ext(path))]
	return k, ok
}

// Script is one discovered file.
type Script struct {
	Path string // path as given to the loader (root joined with Rel)
	Rel  string // slash-separated path relative to the root
	Kind Kind
}

// Discover walks root recursively and returns every recognized script, ordered by
// kind precedence and then by relative path. Hidden directories are skipped.
func Discover(root string) ([]Script, error) {
	var scripts []Script

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		kind, ok := KindOf(path)
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		scripts = append(scripts, Script{
			Path: path,
			Rel:  filepath.ToSlash(rel),
			Kind: kind,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover scripts in %s: %w", root, err)
	}

	sort.Slice(scripts, func(i, j int) bool {
		if scripts[i].Kind != scripts[j].Kind {
			return scripts[i].Kind < scripts[j].Kind
		}
		return scripts[i].Rel < scripts[j].Rel
	})

	return scripts, nil
}

// SearchDirs returns root and every non-hidden directory below it, in walk order.
// Runtimes add them to the interpreter's module search path.
func SearchDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan script directories in %s: %w", root, err)
	}
	return dirs, nil
}
