package bytecode

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// CompileError reports a script that could not be compiled.
type CompileError struct {
	Chunk   string
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Chunk, e.Message)
}

// CompilerStats summarises compiler activity since construction.
type CompilerStats struct {
	Compiles int
	Failures int
}

// Compiler is the single process-wide compiler. Compilation is serialized, and it
// never touches any runtime's interpreter.
type Compiler struct {
	mu       sync.Mutex
	counts   map[string]int
	compiles int
	failures int
}

// NewCompiler creates a compiler with empty counters.
func NewCompiler() *Compiler {
	return &Compiler{
		counts: make(map[string]int),
	}
}

// Compile turns source text into a chunk named chunkName.
// On failure it returns a *CompileError and no chunk.
func (c *Compiler) Compile(source []byte, chunkName string) (chunk *Chunk, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[chunkName]++
	c.compiles++

	defer func() {
		if rcv := recover(); rcv != nil {
			chunk = nil
			err = &CompileError{Chunk: chunkName, Message: fmt.Sprint(rcv)}
		}
		if err != nil {
			c.failures++
		}
	}()

	stmts, err := parse.Parse(bytes.NewReader(source), chunkName)
	if err != nil {
		return nil, &CompileError{Chunk: chunkName, Message: err.Error()}
	}

	proto, err := lua.Compile(stmts, chunkName)
	if err != nil {
		return nil, &CompileError{Chunk: chunkName, Message: err.Error()}
	}

	return newChunk(chunkName, proto), nil
}

// CompileFile reads and compiles the file at path. The path is the chunk name.
func (c *Compiler) CompileFile(path string) (*Chunk, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return c.Compile(source, path)
}

// Count returns how many times chunkName has been compiled.
func (c *Compiler) Count(chunkName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[chunkName]
}

// Stats returns aggregate counters.
func (c *Compiler) Stats() CompilerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CompilerStats{Compiles: c.compiles, Failures: c.failures}
}
