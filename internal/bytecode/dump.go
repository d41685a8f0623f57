package bytecode

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/fxamacker/cbor/v2"
	lua "github.com/yuin/gopher-lua"
)

// ErrBadChunk is returned for binary data that is not a chunk this package wrote.
var ErrBadChunk = errors.New("bad binary chunk")

const (
	chunkMagic  = "WRNC"
	chunkFormat = 1
)

const (
	constNil uint8 = iota
	constBool
	constNumber
	constString
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type binaryChunk struct {
	Magic  string       `cbor:"magic"`
	Format int          `cbor:"format"`
	Name   string       `cbor:"name"`
	Proto  *binaryProto `cbor:"proto"`
}

type binaryProto struct {
	SourceName       string           `cbor:"src"`
	LineDefined      int              `cbor:"line"`
	LastLineDefined  int              `cbor:"last"`
	NumUpvalues      uint8            `cbor:"nup"`
	NumParameters    uint8            `cbor:"npar"`
	IsVarArg         uint8            `cbor:"va"`
	NumUsedRegisters uint8            `cbor:"nreg"`
	Code             []uint32         `cbor:"code"`
	Constants        []binaryConstant `cbor:"k"`
	Protos           []*binaryProto   `cbor:"p,omitempty"`
	SourcePositions  []int            `cbor:"pos,omitempty"`
	Locals           []binaryLocal    `cbor:"loc,omitempty"`
	Calls            []binaryCall     `cbor:"calls,omitempty"`
	Upvalues         []string         `cbor:"upv,omitempty"`
}

type binaryConstant struct {
	Kind   uint8   `cbor:"t"`
	Bool   bool    `cbor:"b,omitempty"`
	Number float64 `cbor:"n,omitempty"`
	String string  `cbor:"s,omitempty"`
}

type binaryLocal struct {
	Name    string `cbor:"name"`
	StartPc int    `cbor:"start"`
	EndPc   int    `cbor:"end"`
}

type binaryCall struct {
	Name string `cbor:"name"`
	Pc   int    `cbor:"pc"`
}

// Dump serializes a chunk into the binary form read by Undump. Precompiled .out
// scripts and persisted cache records both use it.
func Dump(c *Chunk) ([]byte, error) {
	if c == nil || c.Proto == nil {
		return nil, fmt.Errorf("cannot dump empty chunk")
	}

	proto, err := encodeProto(c.Proto)
	if err != nil {
		return nil, fmt.Errorf("failed to dump %s: %w", c.Name, err)
	}

	return cborEncMode.Marshal(&binaryChunk{
		Magic:  chunkMagic,
		Format: chunkFormat,
		Name:   c.Name,
		Proto:  proto,
	})
}

// Undump restores a chunk written by Dump. name overrides the recorded chunk name
// when non-empty.
func Undump(name string, data []byte) (*Chunk, error) {
	var bc binaryChunk
	if err := cbor.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadChunk, err)
	}
	if bc.Magic != chunkMagic {
		return nil, fmt.Errorf("%w: missing magic", ErrBadChunk)
	}
	if bc.Format != chunkFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrBadChunk, bc.Format)
	}
	if bc.Proto == nil {
		return nil, fmt.Errorf("%w: no function", ErrBadChunk)
	}

	proto, err := decodeProto(bc.Proto)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = bc.Name
	}
	return newChunk(name, proto), nil
}

func encodeProto(p *lua.FunctionProto) (*binaryProto, error) {
	bp := &binaryProto{
		SourceName:       p.SourceName,
		LineDefined:      p.LineDefined,
		LastLineDefined:  p.LastLineDefined,
		NumUpvalues:      p.NumUpvalues,
		NumParameters:    p.NumParameters,
		IsVarArg:         p.IsVarArg,
		NumUsedRegisters: p.NumUsedRegisters,
		Code:             p.Code,
		SourcePositions:  p.DbgSourcePositions,
		Upvalues:         p.DbgUpvalues,
	}

	for _, c := range p.Constants {
		switch v := c.(type) {
		case lua.LNumber:
			bp.Constants = append(bp.Constants, binaryConstant{Kind: constNumber, Number: float64(v)})
		case lua.LString:
			bp.Constants = append(bp.Constants, binaryConstant{Kind: constString, String: string(v)})
		case lua.LBool:
			bp.Constants = append(bp.Constants, binaryConstant{Kind: constBool, Bool: bool(v)})
		case *lua.LNilType:
			bp.Constants = append(bp.Constants, binaryConstant{Kind: constNil})
		default:
			return nil, fmt.Errorf("unsupported constant type %s", c.Type())
		}
	}
	for _, l := range p.DbgLocals {
		bp.Locals = append(bp.Locals, binaryLocal{Name: l.Name, StartPc: l.StartPc, EndPc: l.EndPc})
	}
	for _, call := range p.DbgCalls {
		bp.Calls = append(bp.Calls, binaryCall{Name: call.Name, Pc: call.Pc})
	}
	for _, child := range p.FunctionPrototypes {
		bc, err := encodeProto(child)
		if err != nil {
			return nil, err
		}
		bp.Protos = append(bp.Protos, bc)
	}
	return bp, nil
}

func decodeProto(bp *binaryProto) (*lua.FunctionProto, error) {
	p := &lua.FunctionProto{
		SourceName:         bp.SourceName,
		LineDefined:        bp.LineDefined,
		LastLineDefined:    bp.LastLineDefined,
		NumUpvalues:        bp.NumUpvalues,
		NumParameters:      bp.NumParameters,
		IsVarArg:           bp.IsVarArg,
		NumUsedRegisters:   bp.NumUsedRegisters,
		Code:               bp.Code,
		Constants:          make([]lua.LValue, 0, len(bp.Constants)),
		FunctionPrototypes: make([]*lua.FunctionProto, 0, len(bp.Protos)),
		DbgSourcePositions: bp.SourcePositions,
		DbgLocals:          make([]*lua.DbgLocalInfo, 0, len(bp.Locals)),
		DbgCalls:           make([]lua.DbgCall, 0, len(bp.Calls)),
		DbgUpvalues:        bp.Upvalues,
	}

	for _, c := range bp.Constants {
		switch c.Kind {
		case constNil:
			p.Constants = append(p.Constants, lua.LNil)
		case constBool:
			p.Constants = append(p.Constants, lua.LBool(c.Bool))
		case constNumber:
			p.Constants = append(p.Constants, lua.LNumber(c.Number))
		case constString:
			p.Constants = append(p.Constants, lua.LString(c.String))
		default:
			return nil, fmt.Errorf("%w: unknown constant kind %d", ErrBadChunk, c.Kind)
		}
	}
	for _, l := range bp.Locals {
		p.DbgLocals = append(p.DbgLocals, &lua.DbgLocalInfo{Name: l.Name, StartPc: l.StartPc, EndPc: l.EndPc})
	}
	for _, call := range bp.Calls {
		p.DbgCalls = append(p.DbgCalls, lua.DbgCall{Name: call.Name, Pc: call.Pc})
	}
	for _, child := range bp.Protos {
		cp, err := decodeProto(child)
		if err != nil {
			return nil, err
		}
		p.FunctionPrototypes = append(p.FunctionPrototypes, cp)
	}

	if err := restoreStringConstants(p); err != nil {
		return nil, err
	}
	return p, nil
}

// restoreStringConstants rebuilds the VM's private string view of the constant
// table, which gopher-lua only fills in while compiling. Without it any global
// access in a restored proto would index an empty slice.
func restoreStringConstants(p *lua.FunctionProto) error {
	field := reflect.ValueOf(p).Elem().FieldByName("stringConstants")
	if !field.IsValid() || field.Kind() != reflect.Slice || field.Type().Elem().Kind() != reflect.String {
		return fmt.Errorf("%w: interpreter does not support binary chunks", ErrBadChunk)
	}

	strs := make([]string, len(p.Constants))
	for i, c := range p.Constants {
		if s, ok := c.(lua.LString); ok {
			strs[i] = string(s)
		}
	}
	reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem().Set(reflect.ValueOf(strs))
	return nil
}
