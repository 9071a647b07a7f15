package translate

import (
	"encoding/binary"

	"github.com/rather-labs/move-wasm/abi"
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/wasm"
)

// EmitEvent returns the per-struct event emission routine:
// (event_struct_ptr i32). The log follows Solidity's rules: topic 0 is the
// keccak of the UpperCamelCase event signature, the data section is the
// ABI-encoded tuple of the struct's fields.
func EmitEvent(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	s, ok := ctx.StructDef(t.Module, t.Index)
	if !ok {
		return 0, errors.UnknownDefinition(errors.PhaseNative, "struct", int(t.Index))
	}
	name := "emit_event_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	fields := make([]itypes.Type, len(s.Fields))
	for i, f := range s.Fields {
		field, err := f.Instantiate(t.TypeArgs)
		if err != nil {
			return 0, err
		}
		fields[i] = field
	}
	sig, err := abiSignature(ctx, snakeToUpperCamel(s.Identifier), fields)
	if err != nil {
		return 0, err
	}
	topic := keccak256([]byte(sig))

	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32}, nil)
	structPtr := b.Param(0)

	// Topic word first; the packed tuple lands right behind it.
	buf := b.AddLocal(wasm.I32)
	b.I32Const(32).Call(ctx.Allocator).LocalSet(buf)
	for i := 0; i < 32; i += 8 {
		// i64.store writes little-endian, so the constant is read the same
		// way and memory holds the hash bytes in order.
		b.LocalGet(buf).
			I64Const(int64(binary.LittleEndian.Uint64(topic[i:]))).
			I64Store(uint32(i))
	}

	srcs := make([]wasm.LocalID, len(fields))
	for i, field := range fields {
		src := b.AddLocal(field.ValType())
		b.LocalGet(structPtr).I32Load(uint32(4 * i))
		if field.IsStackType() {
			b.LoadKindOp(field.LoadOp(), 0)
		}
		b.LocalSet(src)
		srcs[i] = src
	}

	_, length, err := abi.EmitPackValues(ctx, b, fields, srcs)
	if err != nil {
		return 0, err
	}

	b.LocalGet(buf)
	b.LocalGet(length).I32Const(32).I32Add()
	b.I32Const(1)
	b.Call(ctx.Host.EmitLog)
	return b.Finish(), nil
}
