package rtlib

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/wasm"
)

// HeapIntMul multiplies two heap integers of the given byte size:
// (n1_ptr, n2_ptr i32) -> i32 pointer to the product. Any contribution past
// the operand width reverts Overflow.
//
// The body is schoolbook multiplication over 32-bit limbs, unrolled at
// compile time: each partial product of two 32-bit limbs fits an i64
// together with the running carry, so no intermediate can wrap.
func HeapIntMul(ctx *codegen.Context, heapSize uint32) wasm.FuncID {
	name := "heap_int_mul_" + sizeSuffix(heapSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOverflow(ctx)
		b := ctx.Module.NewBuilder(name,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		n1Ptr, n2Ptr := b.Param(0), b.Param(1)

		res := b.AddLocal(wasm.I32)
		limb := b.AddLocal(wasm.I64)
		acc := b.AddLocal(wasm.I64)
		carry := b.AddLocal(wasm.I64)

		b.I32Const(int32(heapSize)).Call(ctx.Allocator).LocalSet(res)
		b.LocalGet(res).I32Const(0).I32Const(int32(heapSize)).MemoryFill()

		limbs := int(heapSize / 4)
		for i := 0; i < limbs; i++ {
			// limb = n1[i]; rows of zero contribute nothing but still cost
			// code, so the row is guarded at runtime.
			b.LocalGet(n1Ptr).I64Load32U(uint32(4 * i)).LocalSet(limb)
			b.I64Const(0).LocalSet(carry)
			b.LocalGet(limb).I64Eqz().I32Eqz().If(wasm.NoResult, func() {
				for j := 0; j < limbs; j++ {
					k := i + j
					if k < limbs {
						// acc = res[k] + n1[i]*n2[j] + carry
						b.LocalGet(res).I64Load32U(uint32(4 * k))
						b.LocalGet(limb)
						b.LocalGet(n2Ptr).I64Load32U(uint32(4 * j))
						b.I64Mul().I64Add()
						b.LocalGet(carry).I64Add()
						b.LocalSet(acc)
						// res[k] = low32(acc); carry = acc >> 32
						b.LocalGet(res).LocalGet(acc).I64Store32(uint32(4 * k))
						b.LocalGet(acc).I64Const(32).I64ShrU().LocalSet(carry)
					} else {
						// Past the operand width: any non-zero product is an
						// overflow.
						b.LocalGet(limb)
						b.LocalGet(n2Ptr).I64Load32U(uint32(4 * j))
						b.I64Mul().I64Eqz().I32Eqz().If(wasm.NoResult, func() {
							b.Call(revert)
						})
					}
				}
				// A carry out of the last in-range column is an overflow too.
				b.LocalGet(carry).I64Eqz().I32Eqz().If(wasm.NoResult, func() {
					b.Call(revert)
				})
			})
		}
		b.LocalGet(res)
		return b.Finish()
	})
}
