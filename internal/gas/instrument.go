// Package gas rewrites contract modules so that execution reports its cost to
// the host. Every function body is split into straight-line segments and each
// segment charges its instruction count through an imported env.gas function
// before it runs. memory.grow is routed through a helper that charges per page.
package gas

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-runtime/wasm"
)

const (
	// ImportModule and ImportName identify the injected charge function.
	ImportModule = "env"
	ImportName   = "gas"
)

// Config holds the costs applied by Instrument.
type Config struct {
	// InstructionCost is charged for every original instruction, including
	// the closing end of blocks and functions.
	InstructionCost uint64 `toml:"instruction_cost"`
	// MemoryGrowCost is charged per requested page before memory.grow runs.
	MemoryGrowCost uint64 `toml:"memory_grow_cost"`
}

func DefaultConfig() Config {
	return Config{
		InstructionCost: 1,
		MemoryGrowCost:  1024,
	}
}

var (
	// ErrAlreadyInstrumented is returned for modules that already import env.gas.
	ErrAlreadyInstrumented = errors.New("module already imports env.gas")
	// ErrUnsupportedTypes is returned for modules declaring GC types.
	ErrUnsupportedTypes = errors.New("module declares GC types")
)

// Instrument parses code, injects metering and returns the re-encoded module.
func Instrument(code []byte, cfg Config) ([]byte, error) {
	m, err := wasm.ParseModule(code)
	if err != nil {
		return nil, fmt.Errorf("parse module: %w", err)
	}
	if err := instrumentModule(m, cfg); err != nil {
		return nil, err
	}
	return m.Encode(), nil
}

func instrumentModule(m *wasm.Module, cfg Config) error {
	if len(m.TypeDefs) > 0 {
		return ErrUnsupportedTypes
	}
	for _, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindFunc && imp.Module == ImportModule && imp.Name == ImportName {
			return ErrAlreadyInstrumented
		}
	}

	gasType := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}})
	gasIdx := uint32(m.NumImportedFuncs())
	m.Imports = append(m.Imports, wasm.Import{
		Module: ImportModule,
		Name:   ImportName,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: gasType},
	})

	// every defined function moves up by one
	shift := func(idx uint32) uint32 {
		if idx >= gasIdx {
			return idx + 1
		}
		return idx
	}

	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc {
			m.Exports[i].Idx = shift(m.Exports[i].Idx)
		}
	}
	if m.Start != nil {
		start := shift(*m.Start)
		m.Start = &start
	}
	for i := range m.Elements {
		for j := range m.Elements[i].FuncIdxs {
			m.Elements[i].FuncIdxs[j] = shift(m.Elements[i].FuncIdxs[j])
		}
		for j := range m.Elements[i].Exprs {
			expr, err := shiftConstExpr(m.Elements[i].Exprs[j], shift)
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			m.Elements[i].Exprs[j] = expr
		}
	}
	for i := range m.Globals {
		expr, err := shiftConstExpr(m.Globals[i].Init, shift)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals[i].Init = expr
	}

	// the grow helper is appended after all defined functions
	growIdx := uint32(m.NumImportedFuncs() + len(m.Funcs))
	usesGrow := false

	for i := range m.Code {
		instrs, err := wasm.DecodeInstructions(m.Code[i].Code)
		if err != nil {
			return fmt.Errorf("decode func %d: %w", gasIdx+uint32(i), err)
		}
		out, grows := meter(instrs, cfg, gasIdx, growIdx, shift)
		usesGrow = usesGrow || grows
		m.Code[i].Code = wasm.EncodeInstructions(out)
	}

	if usesGrow {
		helperType := m.AddType(wasm.FuncType{
			Params:  []wasm.ValType{wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		})
		m.Funcs = append(m.Funcs, helperType)
		m.Code = append(m.Code, wasm.FuncBody{Code: growHelper(cfg, gasIdx)})
	}

	// function names no longer line up with indices
	sections := m.CustomSections[:0]
	for _, cs := range m.CustomSections {
		if cs.Name != "name" {
			sections = append(sections, cs)
		}
	}
	m.CustomSections = sections

	return nil
}

// meter splits instrs into segments ending at control flow and prefixes each
// with a charge of its length. It reports whether memory.grow was rewritten.
func meter(instrs []wasm.Instruction, cfg Config, gasIdx, growIdx uint32, shift func(uint32) uint32) ([]wasm.Instruction, bool) {
	out := make([]wasm.Instruction, 0, len(instrs)+len(instrs)/2)
	grows := false
	start := 0
	for i := range instrs {
		if !endsSegment(instrs[i].Opcode) && i != len(instrs)-1 {
			continue
		}
		seg := instrs[start : i+1]
		out = append(out, charge(uint64(len(seg))*cfg.InstructionCost, gasIdx)...)
		for _, in := range seg {
			rewritten, grow := rewrite(in, growIdx, shift)
			grows = grows || grow
			out = append(out, rewritten)
		}
		start = i + 1
	}
	return out, grows
}

func charge(cost uint64, gasIdx uint32) []wasm.Instruction {
	return []wasm.Instruction{
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: int64(cost)}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: gasIdx}},
	}
}

func rewrite(in wasm.Instruction, growIdx uint32, shift func(uint32) uint32) (wasm.Instruction, bool) {
	switch in.Opcode {
	case wasm.OpCall, wasm.OpReturnCall:
		if imm, ok := in.Imm.(wasm.CallImm); ok {
			in.Imm = wasm.CallImm{FuncIdx: shift(imm.FuncIdx)}
		}
	case wasm.OpRefFunc:
		if imm, ok := in.Imm.(wasm.RefFuncImm); ok {
			in.Imm = wasm.RefFuncImm{FuncIdx: shift(imm.FuncIdx)}
		}
	case wasm.OpMemoryGrow:
		// only the default memory is charged
		if imm, ok := in.Imm.(wasm.MemoryIdxImm); ok && imm.MemIdx == 0 {
			return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: growIdx}}, true
		}
	}
	return in, false
}

func endsSegment(op byte) bool {
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn, wasm.OpUnreachable,
		wasm.OpReturnCall, wasm.OpReturnCallIndirect, wasm.OpReturnCallRef,
		wasm.OpTry, wasm.OpCatch, wasm.OpCatchAll, wasm.OpDelegate,
		wasm.OpThrow, wasm.OpRethrow, wasm.OpThrowRef, wasm.OpTryTable,
		wasm.OpBrOnNull, wasm.OpBrOnNonNull:
		return true
	}
	return false
}

// growHelper charges pages*MemoryGrowCost and then grows memory 0.
func growHelper(cfg Config, gasIdx uint32) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
		{Opcode: wasm.OpI64ExtendI32U},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: int64(cfg.MemoryGrowCost)}},
		{Opcode: wasm.OpI64Mul},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: gasIdx}},
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
		{Opcode: wasm.OpMemoryGrow, Imm: wasm.MemoryIdxImm{MemIdx: 0}},
		{Opcode: wasm.OpEnd},
	})
}

func shiftConstExpr(expr []byte, shift func(uint32) uint32) ([]byte, error) {
	if len(expr) == 0 {
		return expr, nil
	}
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return nil, fmt.Errorf("decode init expr: %w", err)
	}
	changed := false
	for i := range instrs {
		if imm, ok := instrs[i].Imm.(wasm.RefFuncImm); ok && instrs[i].Opcode == wasm.OpRefFunc {
			instrs[i].Imm = wasm.RefFuncImm{FuncIdx: shift(imm.FuncIdx)}
			changed = true
		}
	}
	if !changed {
		return expr, nil
	}
	return wasm.EncodeInstructions(instrs), nil
}
