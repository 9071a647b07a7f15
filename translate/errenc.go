package translate

import (
	"github.com/rather-labs/move-wasm/abi"
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

const revertAbortCodeName = "revert_abort_code"

// RevertAbortCode returns the routine behind the Abort opcode: (code i64).
// It publishes an Error(string) payload whose string is the decimal abort
// code, then traps.
func RevertAbortCode(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(revertAbortCodeName, func(ctx *codegen.Context) wasm.FuncID {
		toAscii := rtlib.U64ToAsciiBase10(ctx)
		swap := rtlib.SwapI32Bytes(ctx)
		b := ctx.Module.NewBuilder(revertAbortCodeName, []wasm.ValType{wasm.I64}, nil)
		code := b.Param(0)

		str := b.AddLocal(wasm.I32)
		msgLen := b.AddLocal(wasm.I32)
		total := b.AddLocal(wasm.I32)
		buf := b.AddLocal(wasm.I32)

		b.LocalGet(code).Call(toAscii).LocalTee(str)
		b.I32Load8U(0).LocalSet(msgLen)

		// selector(4) + head(32) + length(32) + message padded to a word.
		b.LocalGet(msgLen).I32Const(31).I32Add().I32Const(-32).I32And()
		b.I32Const(68).I32Add().LocalSet(total)
		b.LocalGet(total).Call(ctx.Allocator).LocalSet(buf)

		for i, sel := range rtlib.ErrorSelector {
			b.LocalGet(buf).I32Const(int32(sel)).I32Store8(uint32(i))
		}
		b.LocalGet(buf).I32Const(0x20).I32Store8(4 + 31)
		b.LocalGet(buf).LocalGet(msgLen).Call(swap).I32Store(4 + 32 + 28)

		b.LocalGet(buf).I32Const(68).I32Add()
		b.LocalGet(str).I32Const(1).I32Add()
		b.LocalGet(msgLen)
		b.MemoryCopy()

		b.LocalGet(buf).LocalGet(total).Call(ctx.Host.WriteResult)
		b.Unreachable()
		return b.Finish()
	})
}

// CustomErrorRevert returns the per-struct routine that reverts with a
// Solidity custom error: (error_struct_ptr i32). The payload is the error
// selector followed by the ABI-encoded tuple of the struct's fields.
func CustomErrorRevert(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	s, ok := ctx.StructDef(t.Module, t.Index)
	if !ok {
		return 0, errors.UnknownDefinition(errors.PhaseEntry, "struct", int(t.Index))
	}
	name := "revert_custom_error_" + itypes.TypesDigest([]itypes.Type{t})
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
	selector, err := ErrorSelector(ctx, s.Identifier, fields)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32}, nil)
	structPtr := b.Param(0)

	// Selector first; the packed tuple follows contiguously because the
	// packer allocates straight behind it.
	sel := b.AddLocal(wasm.I32)
	b.I32Const(4).Call(ctx.Allocator).LocalSet(sel)
	for i, v := range selector {
		b.LocalGet(sel).I32Const(int32(v)).I32Store8(uint32(i))
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

	b.LocalGet(sel)
	b.LocalGet(length).I32Const(4).I32Add()
	b.Call(ctx.Host.WriteResult)
	b.Unreachable()
	return b.Finish(), nil
}
