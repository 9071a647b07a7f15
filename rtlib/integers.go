package rtlib

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/wasm"
)

const (
	HeapIntAddName       = "heap_int_add"
	HeapIntSubName       = "heap_int_sub"
	AddU32Name           = "add_u32"
	AddU64Name           = "add_u64"
	CheckOverflowName    = "check_overflow_u8_u16"
	DowncastToU32Name    = "downcast_heap_to_u32"
	DowncastToU64Name    = "downcast_heap_to_u64"
)

// HeapIntAdd adds two heap integers limb by limb:
// (n1_ptr, n2_ptr, heap_size i32) -> i32 pointer to a fresh sum of the same
// width. Carry out of the most significant limb reverts Overflow.
func HeapIntAdd(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(HeapIntAddName, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		b := ctx.Module.NewBuilder(HeapIntAddName,
			[]wasm.ValType{wasm.I32, wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		n1Ptr, n2Ptr, heapSize := b.Param(0), b.Param(1), b.Param(2)

		ptr := b.AddLocal(wasm.I32)
		off := b.AddLocal(wasm.I32)
		carry := b.AddLocal(wasm.I32)
		sum := b.AddLocal(wasm.I64)
		n1 := b.AddLocal(wasm.I64)
		n2 := b.AddLocal(wasm.I64)

		b.LocalGet(heapSize).Call(ctx.Allocator).LocalSet(ptr)

		b.Block(wasm.NoResult, func(done wasm.Label) {
			b.Loop(wasm.NoResult, func(next wasm.Label) {
				// sum = n1[off] + n2[off] + carry
				b.LocalGet(n1Ptr).LocalGet(off).I32Add().I64Load(0).LocalTee(n1)
				b.LocalGet(n2Ptr).LocalGet(off).I32Add().I64Load(0).LocalTee(n2)
				b.I64Add()
				b.LocalGet(carry).I64ExtendI32U().I64Add()
				b.LocalSet(sum)

				b.LocalGet(ptr).LocalGet(off).I32Add().LocalGet(sum).I64Store(0)

				// carry = ((n1 != 0 && n2 != 0) || carry) && (sum <= n1 || sum <= n2)
				b.LocalGet(n1).I64Const(0).I64Ne()
				b.LocalGet(n2).I64Const(0).I64Ne()
				b.I32And()
				b.LocalGet(carry).I32Or()
				b.LocalGet(sum).LocalGet(n1).I64LeU()
				b.LocalGet(sum).LocalGet(n2).I64LeU()
				b.I32Or()
				b.I32And()
				b.LocalSet(carry)

				// Last limb?
				b.LocalGet(off).LocalGet(heapSize).I32Const(8).I32Sub().I32Eq().
					IfElse(wasm.NoResult, func() {
						b.LocalGet(carry).If(wasm.NoResult, func() {
							b.Call(revert)
						})
						b.Br(done)
					}, func() {
						b.LocalGet(off).I32Const(8).I32Add().LocalSet(off)
						b.Br(next)
					})
			})
		})
		b.LocalGet(ptr)
		return b.Finish()
	})
}

// HeapIntSub subtracts two heap integers with borrow propagation:
// (n1_ptr, n2_ptr, heap_size i32) -> i32 pointer to n1 - n2. A borrow out of
// the most significant limb means a negative result and reverts Overflow.
func HeapIntSub(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(HeapIntSubName, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		b := ctx.Module.NewBuilder(HeapIntSubName,
			[]wasm.ValType{wasm.I32, wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		n1Ptr, n2Ptr, heapSize := b.Param(0), b.Param(1), b.Param(2)

		ptr := b.AddLocal(wasm.I32)
		off := b.AddLocal(wasm.I32)
		borrow := b.AddLocal(wasm.I32)
		n1 := b.AddLocal(wasm.I64)
		n2 := b.AddLocal(wasm.I64)

		b.LocalGet(heapSize).Call(ctx.Allocator).LocalSet(ptr)

		b.Block(wasm.NoResult, func(done wasm.Label) {
			b.Loop(wasm.NoResult, func(next wasm.Label) {
				b.LocalGet(n1Ptr).LocalGet(off).I32Add().I64Load(0).LocalSet(n1)
				b.LocalGet(n2Ptr).LocalGet(off).I32Add().I64Load(0).LocalSet(n2)

				// diff = n1 - n2 - borrow (wrapping)
				b.LocalGet(ptr).LocalGet(off).I32Add()
				b.LocalGet(n1).LocalGet(n2).I64Sub()
				b.LocalGet(borrow).I64ExtendI32U().I64Sub()
				b.I64Store(0)

				// borrow = (n1 < n2) || (n1 == n2 && borrow)
				b.LocalGet(n1).LocalGet(n2).I64LtU()
				b.LocalGet(n1).LocalGet(n2).I64Eq()
				b.LocalGet(borrow).I32And()
				b.I32Or()
				b.LocalSet(borrow)

				b.LocalGet(off).LocalGet(heapSize).I32Const(8).I32Sub().I32Eq().
					IfElse(wasm.NoResult, func() {
						b.LocalGet(borrow).If(wasm.NoResult, func() {
							b.Call(revert)
						})
						b.Br(done)
					}, func() {
						b.LocalGet(off).I32Const(8).I32Add().LocalSet(off)
						b.Br(next)
					})
			})
		})
		b.LocalGet(ptr)
		return b.Finish()
	})
}

// AddU32 adds two u32 values with a wrap check: (n1, n2 i32) -> i32. The
// two's-complement sum is kept only when it is strictly greater than both
// operands or one operand is zero.
func AddU32(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(AddU32Name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		b := ctx.Module.NewBuilder(AddU32Name,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		n1, n2 := b.Param(0), b.Param(1)
		res := b.AddLocal(wasm.I32)

		b.LocalGet(n1).LocalGet(n2).I32Add().LocalTee(res)
		b.LocalGet(n1).I32GeU()
		b.LocalGet(res).LocalGet(n2).I32GeU()
		b.I32And().
			IfElse(wasm.ResultI32, func() {
				b.LocalGet(res)
			}, func() {
				b.Call(revert)
				b.Unreachable()
			})
		return b.Finish()
	})
}

// AddU64 is AddU32 at 64 bits: (n1, n2 i64) -> i64.
func AddU64(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(AddU64Name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		b := ctx.Module.NewBuilder(AddU64Name,
			[]wasm.ValType{wasm.I64, wasm.I64}, []wasm.ValType{wasm.I64})
		n1, n2 := b.Param(0), b.Param(1)
		res := b.AddLocal(wasm.I64)

		b.LocalGet(n1).LocalGet(n2).I64Add().LocalTee(res)
		b.LocalGet(n1).I64GeU()
		b.LocalGet(res).LocalGet(n2).I64GeU()
		b.I32And().
			IfElse(wasm.ResultI64, func() {
				b.LocalGet(res)
			}, func() {
				b.Call(revert)
				b.Unreachable()
			})
		return b.Finish()
	})
}

// CheckOverflowU8U16 bounds-checks a narrow integer: (n, max i32) -> i32.
// Values above max revert Overflow, otherwise n passes through.
func CheckOverflowU8U16(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(CheckOverflowName, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		b := ctx.Module.NewBuilder(CheckOverflowName,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		n, max := b.Param(0), b.Param(1)
		b.LocalGet(n).LocalGet(max).I32GtU().
			IfElse(wasm.ResultI32, func() {
				b.Call(revert)
				b.Unreachable()
			}, func() {
				b.LocalGet(n)
			})
		return b.Finish()
	})
}

// DowncastHeapToU32 reads the low 4 bytes of a heap integer and reverts
// Overflow unless every byte above them is zero:
// (ptr, heap_size i32) -> i32.
func DowncastHeapToU32(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(DowncastToU32Name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		isZero := IsZero(ctx)
		b := ctx.Module.NewBuilder(DowncastToU32Name,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		ptr, heapSize := b.Param(0), b.Param(1)

		b.LocalGet(ptr).I32Const(4).I32Add()
		b.LocalGet(heapSize).I32Const(4).I32Sub()
		b.Call(isZero).I32Eqz().If(wasm.NoResult, func() {
			b.Call(revert)
		})
		b.LocalGet(ptr).I32Load(0)
		return b.Finish()
	})
}

// DowncastHeapToU64 is DowncastHeapToU32 with an 8-byte window:
// (ptr, heap_size i32) -> i64.
func DowncastHeapToU64(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(DowncastToU64Name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		isZero := IsZero(ctx)
		b := ctx.Module.NewBuilder(DowncastToU64Name,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I64})
		ptr, heapSize := b.Param(0), b.Param(1)

		b.LocalGet(ptr).I32Const(8).I32Add()
		b.LocalGet(heapSize).I32Const(8).I32Sub()
		b.Call(isZero).I32Eqz().If(wasm.NoResult, func() {
			b.Call(revert)
		})
		b.LocalGet(ptr).I64Load(0)
		return b.Finish()
	})
}

// UpcastToHeap widens a scalar into a fresh heap integer of the given size.
// The emitted function is (v i64) -> i32; u8..u32 callers extend first.
func UpcastToHeap(ctx *codegen.Context, heapSize uint32) wasm.FuncID {
	name := "upcast_to_heap_" + sizeSuffix(heapSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I64}, []wasm.ValType{wasm.I32})
		v := b.Param(0)
		ptr := b.AddLocal(wasm.I32)
		b.I32Const(int32(heapSize)).Call(ctx.Allocator).LocalSet(ptr)
		b.LocalGet(ptr).I32Const(0).I32Const(int32(heapSize)).MemoryFill()
		b.LocalGet(ptr).LocalGet(v).I64Store(0)
		b.LocalGet(ptr)
		return b.Finish()
	})
}

func sizeSuffix(size uint32) string {
	switch size {
	case 16:
		return "16"
	case 32:
		return "32"
	default:
		panic("rtlib: unsupported heap size")
	}
}
