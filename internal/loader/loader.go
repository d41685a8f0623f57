package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dyluth/warren/internal/bytecode"
)

// ErrPreviouslyFailed is returned for an unchanged script whose last compile failed.
var ErrPreviouslyFailed = errors.New("script failed to compile and has not changed")

// Target receives bytecode. Inject runs the chunk inside the target's interpreter.
type Target interface {
	Inject(path string, chunk *bytecode.Chunk) error
}

// Outcome classifies one load by where its bytecode came from.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCompiled
	OutcomeCached
	OutcomePrecompiled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompiled:
		return "compiled"
	case OutcomeCached:
		return "cached"
	case OutcomePrecompiled:
		return "precompiled"
	default:
		return "failed"
	}
}

// Failure records why one script did not load.
type Failure struct {
	Path string
	Err  error
}

// Statistics summarises one LoadDirectory pass.
type Statistics struct {
	Compiled    int
	Cached      int
	Precompiled int
	Failed      int
	Duration    time.Duration
	Failures    []Failure
}

// Loaded returns the number of scripts that made it into the target.
func (s Statistics) Loaded() int {
	return s.Compiled + s.Cached + s.Precompiled
}

func (s *Statistics) record(path string, outcome Outcome, err error) {
	switch outcome {
	case OutcomeCompiled:
		s.Compiled++
	case OutcomeCached:
		s.Cached++
	case OutcomePrecompiled:
		s.Precompiled++
	default:
		s.Failed++
		s.Failures = append(s.Failures, Failure{Path: path, Err: err})
	}
}

// Loader compiles and injects scripts through a shared cache.
type Loader struct {
	cache      *bytecode.Cache
	compiler   *bytecode.Compiler
	transpiler Transpiler
}

// New creates a loader. transpiler may be nil, in which case transpiled scripts fail
// with ErrNoTranspiler.
func New(cache *bytecode.Cache, compiler *bytecode.Compiler, transpiler Transpiler) *Loader {
	return &Loader{
		cache:      cache,
		compiler:   compiler,
		transpiler: transpiler,
	}
}

// LoadInto brings one script's bytecode into target.
//
// A fresh cache entry is injected directly and reported by where its bytecode came
// from, so a precompiled file stays precompiled on every pass. Precompiled files are undumped and never
// compiled. Everything else is compiled and stored, including failures, which are
// stored as markers and reported as ErrPreviouslyFailed until the file changes.
func (l *Loader) LoadInto(target Target, script Script) (Outcome, error) {
	data, err := os.ReadFile(script.Path)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to read script: %w", err)
	}
	fp := bytecode.FingerprintOf(data)

	if entry, ok := l.cache.Lookup(script.Path, fp); ok {
		if !entry.CompileSucceeded {
			return OutcomeFailed, fmt.Errorf("%s: %w", script.Path, ErrPreviouslyFailed)
		}
		if err := target.Inject(script.Path, entry.Chunk); err != nil {
			return OutcomeFailed, err
		}
		if entry.Origin == bytecode.OriginPrecompiled {
			return OutcomePrecompiled, nil
		}
		return OutcomeCached, nil
	}

	if script.Kind == KindPrecompiled {
		chunk, err := bytecode.Undump(script.Path, data)
		if err != nil {
			l.cache.Put(script.Path, fp, nil, false, bytecode.OriginPrecompiled)
			return OutcomeFailed, fmt.Errorf("failed to read precompiled %s: %w", script.Path, err)
		}
		l.cache.Put(script.Path, fp, chunk, true, bytecode.OriginPrecompiled)
		if err := target.Inject(script.Path, chunk); err != nil {
			return OutcomeFailed, err
		}
		return OutcomePrecompiled, nil
	}

	source := data
	if script.Kind == KindTranspiled {
		if l.transpiler == nil {
			return OutcomeFailed, fmt.Errorf("%s: %w", script.Path, ErrNoTranspiler)
		}
		source, err = l.transpiler.Transpile(script.Path, data)
		if err != nil {
			l.cache.Put(script.Path, fp, nil, false, bytecode.OriginCompiled)
			return OutcomeFailed, err
		}
	}

	chunk, err := l.compiler.Compile(source, script.Path)
	if err != nil {
		l.cache.Put(script.Path, fp, nil, false, bytecode.OriginCompiled)
		return OutcomeFailed, err
	}
	l.cache.Put(script.Path, fp, chunk, true, bytecode.OriginCompiled)

	if err := target.Inject(script.Path, chunk); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeCompiled, nil
}

// LoadDirectory discovers every script under root and loads each into target in
// discovery order. Individual failures only count in the statistics; the returned
// error is set only when discovery itself fails. The successfully loaded paths become
// the cache's load order, which replicas follow.
func (l *Loader) LoadDirectory(target Target, root string) (Statistics, error) {
	start := time.Now()

	scripts, err := Discover(root)
	if err != nil {
		return Statistics{}, err
	}

	var stats Statistics
	loaded := make([]string, 0, len(scripts))
	for _, script := range scripts {
		outcome, err := l.LoadInto(target, script)
		stats.record(script.Path, outcome, err)
		if err != nil {
			log.Printf("[Loader] Failed to load %s: %v", script.Rel, err)
			continue
		}
		loaded = append(loaded, script.Path)
	}

	l.cache.SetLoadOrder(loaded)
	stats.Duration = time.Since(start)

	logEvent("load_pass_complete", map[string]interface{}{
		"root":        root,
		"compiled":    stats.Compiled,
		"cached":      stats.Cached,
		"precompiled": stats.Precompiled,
		"failed":      stats.Failed,
		"duration_us": stats.Duration.Microseconds(),
	})

	return stats, nil
}

func logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "loader"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Loader] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
