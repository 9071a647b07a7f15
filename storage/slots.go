package storage

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

const (
	DeriveMappingSlotName = "derive_mapping_slot"
	DeriveDynArraySlotName = "derive_dyn_array_slot"
	SlotAddU64Name        = "slot_add_u64_be"
	WriteObjectSlotName   = "write_object_slot"
	GetIdBytesPtrName     = "get_id_bytes_ptr"
)

// DeriveMappingSlot computes keccak256(pad32(key) ‖ pad32(slot)):
// (mapping_slot_ptr, key_ptr, derived_slot_ptr i32). All three point at
// 32-byte words.
func DeriveMappingSlot(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(DeriveMappingSlotName, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(DeriveMappingSlotName,
			[]wasm.ValType{wasm.I32, wasm.I32, wasm.I32}, nil)
		slotPtr, keyPtr, derivedPtr := b.Param(0), b.Param(1), b.Param(2)
		data := b.AddLocal(wasm.I32)

		b.I32Const(64).Call(ctx.Allocator).LocalSet(data)
		b.LocalGet(data).LocalGet(keyPtr).I32Const(32).MemoryCopy()
		b.LocalGet(data).I32Const(32).I32Add().LocalGet(slotPtr).I32Const(32).MemoryCopy()
		b.LocalGet(data).I32Const(64).LocalGet(derivedPtr).Call(ctx.Host.NativeKeccak256)
		return b.Finish()
	})
}

// SlotAddU64 adds a small delta to a big-endian 32-byte slot number:
// (slot_ptr i32, delta i64, dest_ptr i32). Source and destination may alias.
func SlotAddU64(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(SlotAddU64Name, func(ctx *codegen.Context) wasm.FuncID {
		swap := rtlib.SwapI64Bytes(ctx)
		b := ctx.Module.NewBuilder(SlotAddU64Name,
			[]wasm.ValType{wasm.I32, wasm.I64, wasm.I32}, nil)
		slot, delta, dest := b.Param(0), b.Param(1), b.Param(2)
		v := b.AddLocal(wasm.I64)
		sum := b.AddLocal(wasm.I64)
		carry := b.AddLocal(wasm.I64)

		b.LocalGet(delta).LocalSet(carry)
		// Big-endian limbs from the least significant end upward.
		for limb := 3; limb >= 0; limb-- {
			off := uint32(limb * 8)
			b.LocalGet(slot).I64Load(off).Call(swap).LocalSet(v)
			b.LocalGet(v).LocalGet(carry).I64Add().LocalSet(sum)
			// carry = sum < v (wrapped) — the next limb absorbs at most 1.
			b.LocalGet(sum).LocalGet(v).I64LtU().I64ExtendI32U().LocalSet(carry)
			b.LocalGet(dest).LocalGet(sum).Call(swap).I64Store(off)
		}
		return b.Finish()
	})
}

// DeriveDynArraySlot derives the slot of element i of a dynamic array at
// base slot p: keccak256(p) + i*ceil(elem_size/32):
// (array_slot_ptr, elem_index i32, elem_size i32, derived_slot_ptr i32).
func DeriveDynArraySlot(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(DeriveDynArraySlotName, func(ctx *codegen.Context) wasm.FuncID {
		slotAdd := SlotAddU64(ctx)
		b := ctx.Module.NewBuilder(DeriveDynArraySlotName,
			[]wasm.ValType{wasm.I32, wasm.I32, wasm.I32, wasm.I32}, nil)
		arraySlot, index, elemSize, derived := b.Param(0), b.Param(1), b.Param(2), b.Param(3)

		// base = keccak256(p), written straight into the destination.
		b.LocalGet(arraySlot).I32Const(32).LocalGet(derived).
			Call(ctx.Host.NativeKeccak256)

		// delta = index * ceil(elem_size/32), widened before the multiply so
		// it cannot wrap.
		b.LocalGet(derived)
		b.LocalGet(index).I64ExtendI32U()
		b.LocalGet(elemSize).I32Const(31).I32Add().I32Const(32).I32DivU().I64ExtendI32U()
		b.I64Mul()
		b.LocalGet(derived)
		b.Call(slotAdd)
		return b.Finish()
	})
}

// GetIdBytesPtr resolves a key struct's 32-byte id payload: the first field
// is its UID, whose single field points at the raw bytes:
// (struct_ptr i32) -> i32.
func GetIdBytesPtr(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(GetIdBytesPtrName, func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder(GetIdBytesPtrName,
			[]wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
		b.LocalGet(b.Param(0)).I32Load(0).I32Load(0)
		return b.Finish()
	})
}

// WriteObjectSlot derives the storage slot of the (owner_key, object_id)
// pair in the two-level objects mapping and leaves it in the well-known
// scratch area at DataObjectsMappingSlotOffset:
// (owner_key_ptr, id_ptr i32).
//
// The objects mapping lives at base slot 0; the owner key selects the inner
// mapping and the object id the final slot.
func WriteObjectSlot(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(WriteObjectSlotName, func(ctx *codegen.Context) wasm.FuncID {
		derive := DeriveMappingSlot(ctx)
		b := ctx.Module.NewBuilder(WriteObjectSlotName,
			[]wasm.ValType{wasm.I32, wasm.I32}, nil)
		ownerPtr, idPtr := b.Param(0), b.Param(1)
		base := b.AddLocal(wasm.I32)
		inner := b.AddLocal(wasm.I32)

		// Base slot 0 for the objects mapping.
		b.I32Const(32).Call(ctx.Allocator).LocalSet(base)
		b.LocalGet(base).I32Const(0).I32Const(32).MemoryFill()
		b.I32Const(32).Call(ctx.Allocator).LocalSet(inner)

		b.LocalGet(base).LocalGet(ownerPtr).LocalGet(inner).Call(derive)
		b.LocalGet(inner).LocalGet(idPtr).
			I32Const(codegen.DataObjectsMappingSlotOffset).Call(derive)
		return b.Finish()
	})
}
