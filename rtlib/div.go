package rtlib

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/wasm"
)

// HeapIntDivMod divides two heap integers of the given byte size:
// (dividend_ptr, divisor_ptr i32) -> (quotient_ptr, remainder_ptr i32).
// Division is unsigned and truncates; a zero divisor reverts DivisionByZero.
//
// The body is bit-wise restoring division: the remainder is shifted left one
// bit per iteration, takes the next dividend bit, and the divisor is
// subtracted back out whenever it fits. The per-limb shift, compare and
// subtract chains are unrolled at compile time; only the bit counter is a
// runtime loop.
func HeapIntDivMod(ctx *codegen.Context, heapSize uint32) wasm.FuncID {
	name := "heap_int_divmod_" + sizeSuffix(heapSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertDivisionByZero(ctx)
		isZero := IsZero(ctx)
		b := ctx.Module.NewBuilder(name,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32, wasm.I32})
		dividend, divisor := b.Param(0), b.Param(1)

		quot := b.AddLocal(wasm.I32)
		rem := b.AddLocal(wasm.I32)
		bit := b.AddLocal(wasm.I32)    // bit index, counting down
		addr := b.AddLocal(wasm.I32)   // limb address scratch
		a := b.AddLocal(wasm.I64)      // limb scratch
		c := b.AddLocal(wasm.I64)      // limb scratch
		ge := b.AddLocal(wasm.I32)     // remainder >= divisor
		borrow := b.AddLocal(wasm.I32)

		limbs := int(heapSize / 8)
		nbits := int32(heapSize * 8)

		b.LocalGet(divisor).I32Const(int32(heapSize)).Call(isZero).
			If(wasm.NoResult, func() {
				b.Call(revert)
			})

		b.I32Const(int32(heapSize)).Call(ctx.Allocator).LocalSet(quot)
		b.LocalGet(quot).I32Const(0).I32Const(int32(heapSize)).MemoryFill()
		b.I32Const(int32(heapSize)).Call(ctx.Allocator).LocalSet(rem)
		b.LocalGet(rem).I32Const(0).I32Const(int32(heapSize)).MemoryFill()

		b.I32Const(nbits - 1).LocalSet(bit)
		b.Block(wasm.NoResult, func(done wasm.Label) {
			b.Loop(wasm.NoResult, func(next wasm.Label) {
				// rem <<= 1, high limb first so each source is still intact.
				for limb := limbs - 1; limb > 0; limb-- {
					b.LocalGet(rem)
					b.LocalGet(rem).I64Load(uint32(8*limb)).I64Const(1).I64Shl()
					b.LocalGet(rem).I64Load(uint32(8*(limb-1))).I64Const(63).I64ShrU()
					b.I64Or()
					b.I64Store(uint32(8 * limb))
				}
				b.LocalGet(rem)
				b.LocalGet(rem).I64Load(0).I64Const(1).I64Shl()
				b.I64Store(0)

				// rem[0] |= dividend bit
				b.LocalGet(dividend).
					LocalGet(bit).I32Const(6).I32ShrU().I32Const(8).I32Mul().
					I32Add().LocalSet(addr)
				b.LocalGet(rem)
				b.LocalGet(rem).I64Load(0)
				b.LocalGet(addr).I64Load(0)
				b.LocalGet(bit).I32Const(63).I32And().I64ExtendI32U().I64ShrU()
				b.I64Const(1).I64And()
				b.I64Or()
				b.I64Store(0)

				// ge = rem >= divisor, comparing high limbs first.
				b.Block(wasm.NoResult, func(decided wasm.Label) {
					b.I32Const(1).LocalSet(ge)
					for limb := limbs - 1; limb >= 0; limb-- {
						b.LocalGet(rem).I64Load(uint32(8 * limb)).LocalSet(a)
						b.LocalGet(divisor).I64Load(uint32(8 * limb)).LocalSet(c)
						b.LocalGet(a).LocalGet(c).I64Ne().If(wasm.NoResult, func() {
							b.LocalGet(a).LocalGet(c).I64GtU().LocalSet(ge)
							b.Br(decided)
						})
					}
				})

				b.LocalGet(ge).If(wasm.NoResult, func() {
					// rem -= divisor
					b.I32Const(0).LocalSet(borrow)
					for limb := 0; limb < limbs; limb++ {
						b.LocalGet(rem).I64Load(uint32(8 * limb)).LocalSet(a)
						b.LocalGet(divisor).I64Load(uint32(8 * limb)).LocalSet(c)
						b.LocalGet(rem)
						b.LocalGet(a).LocalGet(c).I64Sub()
						b.LocalGet(borrow).I64ExtendI32U().I64Sub()
						b.I64Store(uint32(8 * limb))
						b.LocalGet(a).LocalGet(c).I64LtU()
						b.LocalGet(a).LocalGet(c).I64Eq().LocalGet(borrow).I32And()
						b.I32Or().LocalSet(borrow)
					}

					// quot |= 1 << bit
					b.LocalGet(quot).
						LocalGet(bit).I32Const(6).I32ShrU().I32Const(8).I32Mul().
						I32Add().LocalSet(addr)
					b.LocalGet(addr)
					b.LocalGet(addr).I64Load(0)
					b.I64Const(1).
						LocalGet(bit).I32Const(63).I32And().I64ExtendI32U().I64Shl()
					b.I64Or()
					b.I64Store(0)
				})

				b.LocalGet(bit).I32Eqz().BrIf(done)
				b.LocalGet(bit).I32Const(1).I32Sub().LocalSet(bit)
				b.Br(next)
			})
		})

		b.LocalGet(quot)
		b.LocalGet(rem)
		return b.Finish()
	})
}
