// Package bytecode compiles Lua source once and shares the result between every
// interpreter in the process.
//
// A Chunk wraps a gopher-lua *FunctionProto. Protos are immutable after compilation,
// so the same Chunk can be instantiated in any number of LStates without
// recompiling. The Cache maps script paths to chunks and keeps them coherent with the
// files on disk through content fingerprints.
package bytecode

import (
	lua "github.com/yuin/gopher-lua"
)

// Origin records where a chunk's bytecode came from.
type Origin string

const (
	// OriginCompiled chunks were produced by the Compiler from source text.
	OriginCompiled Origin = "compiled"

	// OriginPrecompiled chunks were read from a binary .out file.
	OriginPrecompiled Origin = "precompiled"
)

// Chunk is compiled, directly executable script code.
type Chunk struct {
	Name  string
	Proto *lua.FunctionProto
	Size  int // approximate footprint in bytes, used for cache statistics
}

func newChunk(name string, proto *lua.FunctionProto) *Chunk {
	return &Chunk{
		Name:  name,
		Proto: proto,
		Size:  protoSize(proto),
	}
}

// protoSize estimates the memory held by a proto tree.
func protoSize(p *lua.FunctionProto) int {
	if p == nil {
		return 0
	}

	n := len(p.Code)*4 + len(p.DbgSourcePositions)*8
	for _, c := range p.Constants {
		if s, ok := c.(lua.LString); ok {
			n += len(s)
		} else {
			n += 8
		}
	}
	for _, name := range p.DbgUpvalues {
		n += len(name)
	}
	for _, child := range p.FunctionPrototypes {
		n += protoSize(child)
	}
	return n
}
