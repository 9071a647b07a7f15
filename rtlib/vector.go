package rtlib

import (
	"fmt"

	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/wasm"
)

// Vectors live in linear memory as a {length, capacity} header of two 32-bit
// words followed by capacity element slots. Stack-kind elements sit inline in
// their slots at natural width; heap-kind elements are pointers.

// VecElemPtr returns the bounds-checked address of element i:
// (vec_ptr, index i32) -> i32. An index at or past length reverts
// OutOfBounds.
func VecElemPtr(ctx *codegen.Context, slotSize uint32) wasm.FuncID {
	name := fmt.Sprintf("vec_elem_ptr_%d", slotSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOutOfBounds(ctx)
		b := ctx.Module.NewBuilder(name,
			[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
		vec, idx := b.Param(0), b.Param(1)
		b.LocalGet(idx).LocalGet(vec).I32Load(0).I32GeU().
			If(wasm.NoResult, func() {
				b.Call(revert)
			})
		b.LocalGet(vec).I32Const(itypes.VectorHeaderSize).I32Add()
		b.LocalGet(idx).I32Const(int32(slotSize)).I32Mul().I32Add()
		return b.Finish()
	})
}

// VecPush appends a value, growing the backing block when length meets
// capacity: (vec_ptr, value) -> i32 new vec_ptr. Growth doubles capacity
// (minimum 1) and copies the occupied slots.
func VecPush(ctx *codegen.Context, elem itypes.Type) wasm.FuncID {
	slotSize := elem.WasmMemoryDataSize()
	name := fmt.Sprintf("vec_push_%s_%d", elem.ValType(), slotSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(name,
			[]wasm.ValType{wasm.I32, elem.ValType()}, []wasm.ValType{wasm.I32})
		vec, val := b.Param(0), b.Param(1)
		length := b.AddLocal(wasm.I32)
		capacity := b.AddLocal(wasm.I32)
		grown := b.AddLocal(wasm.I32)

		b.LocalGet(vec).I32Load(0).LocalSet(length)
		b.LocalGet(vec).I32Load(4).LocalSet(capacity)

		b.LocalGet(length).LocalGet(capacity).I32GeU().If(wasm.NoResult, func() {
			// capacity = max(1, capacity*2)
			b.LocalGet(capacity).I32Eqz().
				IfElse(wasm.ResultI32, func() {
					b.I32Const(1)
				}, func() {
					b.LocalGet(capacity).I32Const(2).I32Mul()
				}).
				LocalSet(capacity)
			b.LocalGet(capacity).I32Const(int32(slotSize)).I32Mul().
				I32Const(itypes.VectorHeaderSize).I32Add().
				Call(ctx.Allocator).LocalSet(grown)
			b.LocalGet(grown).LocalGet(length).I32Store(0)
			b.LocalGet(grown).LocalGet(capacity).I32Store(4)
			b.LocalGet(grown).I32Const(itypes.VectorHeaderSize).I32Add()
			b.LocalGet(vec).I32Const(itypes.VectorHeaderSize).I32Add()
			b.LocalGet(length).I32Const(int32(slotSize)).I32Mul()
			b.MemoryCopy()
			b.LocalGet(grown).LocalSet(vec)
		})

		// slot = vec + header + length*slotSize
		b.LocalGet(vec).I32Const(itypes.VectorHeaderSize).I32Add().
			LocalGet(length).I32Const(int32(slotSize)).I32Mul().I32Add()
		b.LocalGet(val)
		b.StoreKindOp(elem.StoreOp(), 0)

		b.LocalGet(vec).LocalGet(length).I32Const(1).I32Add().I32Store(0)
		b.LocalGet(vec)
		return b.Finish()
	})
}

// VecPop removes and returns the last element: (vec_ptr) -> value. Popping
// an empty vector reverts OutOfBounds.
func VecPop(ctx *codegen.Context, elem itypes.Type) wasm.FuncID {
	slotSize := elem.WasmMemoryDataSize()
	name := fmt.Sprintf("vec_pop_%s_%d", elem.ValType(), slotSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		revert := RevertOutOfBounds(ctx)
		b := ctx.Module.NewBuilder(name,
			[]wasm.ValType{wasm.I32}, []wasm.ValType{elem.ValType()})
		vec := b.Param(0)
		length := b.AddLocal(wasm.I32)

		b.LocalGet(vec).I32Load(0).LocalTee(length).I32Eqz().
			If(wasm.NoResult, func() {
				b.Call(revert)
			})
		b.LocalGet(length).I32Const(1).I32Sub().LocalSet(length)
		b.LocalGet(vec).I32Const(itypes.VectorHeaderSize).I32Add().
			LocalGet(length).I32Const(int32(slotSize)).I32Mul().I32Add()
		b.LoadKindOp(elem.LoadOp(), 0)
		b.LocalGet(vec).LocalGet(length).I32Store(0)
		return b.Finish()
	})
}

// VecSwap exchanges two elements: (vec_ptr, i, j i32). Either index out of
// range reverts OutOfBounds.
func VecSwap(ctx *codegen.Context, slotSize uint32) wasm.FuncID {
	name := fmt.Sprintf("vec_swap_%d", slotSize)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		elemPtr := VecElemPtr(ctx, slotSize)
		b := ctx.Module.NewBuilder(name,
			[]wasm.ValType{wasm.I32, wasm.I32, wasm.I32}, nil)
		vec, i, j := b.Param(0), b.Param(1), b.Param(2)
		pi := b.AddLocal(wasm.I32)
		pj := b.AddLocal(wasm.I32)
		tmp := b.AddLocal(wasm.I64)

		b.LocalGet(vec).LocalGet(i).Call(elemPtr).LocalSet(pi)
		b.LocalGet(vec).LocalGet(j).Call(elemPtr).LocalSet(pj)

		load, store := slotOps(slotSize)
		b.LocalGet(pi).LoadKindOp(load, 0).LocalSet(tmp)
		b.LocalGet(pi).LocalGet(pj).LoadKindOp(load, 0).StoreKindOp(store, 0)
		b.LocalGet(pj).LocalGet(tmp).StoreKindOp(store, 0)
		return b.Finish()
	})
}

// slotOps returns i64-typed load/store opcodes covering the slot width, so a
// single i64 temporary fits every slot size.
func slotOps(slotSize uint32) (load, store byte) {
	switch slotSize {
	case 1:
		return wasm.OpI64Load8U, wasm.OpI64Store8
	case 2:
		return wasm.OpI64Load16U, wasm.OpI64Store16
	case 4:
		return wasm.OpI64Load32U, wasm.OpI64Store32
	case 8:
		return wasm.OpI64Load, wasm.OpI64Store
	default:
		panic("rtlib: unsupported vector slot size")
	}
}
