package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNoTranspiler is returned for transpiled scripts when no transpiler is configured.
var ErrNoTranspiler = errors.New("no transpiler configured")

// Transpiler turns a non-Lua source file into Lua source.
type Transpiler interface {
	Transpile(path string, source []byte) ([]byte, error)
}

// CommandTranspiler runs an external program with the source on stdin and reads Lua
// from its stdout, e.g. []string{"moonc", "--"}.
type CommandTranspiler struct {
	Command []string
}

// Transpile implements Transpiler.
func (c *CommandTranspiler) Transpile(path string, source []byte) ([]byte, error) {
	if len(c.Command) == 0 {
		return nil, ErrNoTranspiler
	}

	cmd := exec.Command(c.Command[0], c.Command[1:]...)
	cmd.Stdin = bytes.NewReader(source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("failed to transpile %s: %s", path, msg)
	}

	return stdout.Bytes(), nil
}

// TranspilerFunc adapts a function to the Transpiler interface.
type TranspilerFunc func(path string, source []byte) ([]byte, error)

// Transpile implements Transpiler.
func (f TranspilerFunc) Transpile(path string, source []byte) ([]byte, error) {
	return f(path, source)
}
