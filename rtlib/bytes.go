package rtlib

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/wasm"
)

// Routine names. They double as the memoization keys.
const (
	SwapI32BytesName      = "swap_i32_bytes"
	SwapI64BytesName      = "swap_i64_bytes"
	ValidatePointerName   = "validate_pointer_32bit"
	IsZeroName            = "is_zero"
	HeapTypeEqualityName  = "heap_type_equality"
	U64ToAsciiBase10Name  = "u64_to_ascii_base10"
)

// SwapI32Bytes reverses the byte order of an i32: (v i32) -> i32.
func SwapI32Bytes(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(SwapI32BytesName, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(SwapI32BytesName, []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
		v := b.Param(0)
		// (v << 24) | ((v & 0xFF00) << 8) | ((v >> 8) & 0xFF00) | (v >> 24)
		b.LocalGet(v).I32Const(24).I32Shl()
		b.LocalGet(v).I32Const(0xFF00).I32And().I32Const(8).I32Shl().I32Or()
		b.LocalGet(v).I32Const(8).I32ShrU().I32Const(0xFF00).I32And().I32Or()
		b.LocalGet(v).I32Const(24).I32ShrU().I32Or()
		return b.Finish()
	})
}

// SwapI64Bytes reverses the byte order of an i64: (v i64) -> i64.
func SwapI64Bytes(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(SwapI64BytesName, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(SwapI64BytesName, []wasm.ValType{wasm.I64}, []wasm.ValType{wasm.I64})
		v := b.Param(0)
		b.LocalGet(v).I64Const(56).I64Shl()
		b.LocalGet(v).I64Const(40).I64Shl().I64Const(0x00FF_0000_0000_0000).I64And().I64Or()
		b.LocalGet(v).I64Const(24).I64Shl().I64Const(0x0000_FF00_0000_0000).I64And().I64Or()
		b.LocalGet(v).I64Const(8).I64Shl().I64Const(0x0000_00FF_0000_0000).I64And().I64Or()
		b.LocalGet(v).I64Const(8).I64ShrU().I64Const(0x0000_0000_FF00_0000).I64And().I64Or()
		b.LocalGet(v).I64Const(24).I64ShrU().I64Const(0x0000_0000_00FF_0000).I64And().I64Or()
		b.LocalGet(v).I64Const(40).I64ShrU().I64Const(0x0000_0000_0000_FF00).I64And().I64Or()
		b.LocalGet(v).I64Const(56).I64ShrU().I64Or()
		return b.Finish()
	})
}

// ValidatePointer32 checks that an i64 fits unsigned 32 bits and wraps it:
// (v i64) -> i32. Values with any bit above 31 set revert InvalidPointer.
func ValidatePointer32(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(ValidatePointerName, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertInvalidPointer(ctx)
		b := ctx.Module.NewBuilder(ValidatePointerName, []wasm.ValType{wasm.I64}, []wasm.ValType{wasm.I32})
		v := b.Param(0)
		b.LocalGet(v).I64Const(32).I64ShrU().I64Eqz().
			IfElse(wasm.ResultI32, func() {
				b.LocalGet(v).I32WrapI64()
			}, func() {
				b.Call(revert)
				b.Unreachable()
			})
		return b.Finish()
	})
}

// IsZero reports whether len bytes at ptr are all zero: (ptr, len i32) -> i32.
func IsZero(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(IsZeroName, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(IsZeroName, []wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		ptr, length := b.Param(0), b.Param(1)
		off := b.AddLocal(wasm.I32)
		res := b.AddLocal(wasm.I32)
		b.I32Const(1).LocalSet(res)
		b.Block(wasm.NoResult, func(end wasm.Label) {
			b.Loop(wasm.NoResult, func(head wasm.Label) {
				b.LocalGet(off).LocalGet(length).I32GeU().BrIf(end)
				b.LocalGet(ptr).LocalGet(off).I32Add().I32Load8U(0).
					If(wasm.NoResult, func() {
						b.I32Const(0).LocalSet(res)
						b.Br(end)
					})
				b.LocalGet(off).I32Const(1).I32Add().LocalSet(off)
				b.Br(head)
			})
		})
		b.LocalGet(res)
		return b.Finish()
	})
}

// HeapTypeEquality compares len bytes at two pointers:
// (p1, p2, len i32) -> i32.
func HeapTypeEquality(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(HeapTypeEqualityName, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(HeapTypeEqualityName,
			[]wasm.ValType{wasm.I32, wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		p1, p2, length := b.Param(0), b.Param(1), b.Param(2)
		off := b.AddLocal(wasm.I32)
		res := b.AddLocal(wasm.I32)
		b.I32Const(1).LocalSet(res)
		b.Block(wasm.NoResult, func(end wasm.Label) {
			b.Loop(wasm.NoResult, func(head wasm.Label) {
				b.LocalGet(off).LocalGet(length).I32GeU().BrIf(end)
				b.LocalGet(p1).LocalGet(off).I32Add().I32Load8U(0)
				b.LocalGet(p2).LocalGet(off).I32Add().I32Load8U(0)
				b.I32Ne().If(wasm.NoResult, func() {
					b.I32Const(0).LocalSet(res)
					b.Br(end)
				})
				b.LocalGet(off).I32Const(1).I32Add().LocalSet(off)
				b.Br(head)
			})
		})
		b.LocalGet(res)
		return b.Finish()
	})
}

// U64ToAsciiBase10 renders an u64 as a length-prefixed decimal blob:
// (v i64) -> i32 pointing at [len u8][digits]. Zero renders as "0".
func U64ToAsciiBase10(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(U64ToAsciiBase10Name, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(U64ToAsciiBase10Name, []wasm.ValType{wasm.I64}, []wasm.ValType{wasm.I32})
		v := b.Param(0)
		ptr := b.AddLocal(wasm.I32)
		idx := b.AddLocal(wasm.I32)
		length := b.AddLocal(wasm.I32)

		// 1 length byte plus at most 20 digits for 2^64-1.
		b.I32Const(21).Call(ctx.Allocator).LocalSet(ptr)

		b.LocalGet(v).I64Eqz().IfElse(wasm.NoResult, func() {
			b.LocalGet(ptr).I32Const(1).I32Store8(0)
			b.LocalGet(ptr).I32Const('0').I32Store8(1)
		}, func() {
			// Write digits backwards from the end of the buffer.
			b.I32Const(20).LocalSet(idx)
			b.Block(wasm.NoResult, func(end wasm.Label) {
				b.Loop(wasm.NoResult, func(head wasm.Label) {
					b.LocalGet(v).I64Eqz().BrIf(end)
					b.LocalGet(ptr).LocalGet(idx).I32Add()
					b.LocalGet(v).I64Const(10).I64RemU().I32WrapI64().
						I32Const('0').I32Add()
					b.I32Store8(0)
					b.LocalGet(v).I64Const(10).I64DivU().LocalSet(v)
					b.LocalGet(idx).I32Const(1).I32Sub().LocalSet(idx)
					b.Br(head)
				})
			})
			// length = 20 - idx; shift digits to sit right after the length
			// byte, then record the length.
			b.I32Const(20).LocalGet(idx).I32Sub().LocalSet(length)
			b.LocalGet(ptr).I32Const(1).I32Add()
			b.LocalGet(ptr).LocalGet(idx).I32Add().I32Const(1).I32Add()
			b.LocalGet(length)
			b.MemoryCopy()
			b.LocalGet(ptr).LocalGet(length).I32Store8(0)
		})
		b.LocalGet(ptr)
		return b.Finish()
	})
}
