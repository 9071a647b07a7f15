package storage

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

const DeleteObjectName = "delete_object"

// requireKey rejects object operations on structs without the key ability.
func requireKey(ctx *codegen.Context, t itypes.Type) error {
	s, ok := ctx.StructDef(t.Module, t.Index)
	if !ok {
		return errors.UnknownDefinition(errors.PhaseNative, "struct", int(t.Index))
	}
	if !s.Abilities.Key {
		return errors.MissingAbility(s.Identifier, "key")
	}
	return nil
}

// DeleteObject removes an object's slot range from its current owner's
// bucket: (struct_ptr i32). The owner is read from the 32-byte prefix.
func DeleteObject(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(DeleteObjectName, func(ctx *codegen.Context) wasm.FuncID {
		writeSlot := WriteObjectSlot(ctx)
		getID := GetIdBytesPtr(ctx)
		del := DeleteStorageSlots(ctx)
		b := ctx.Module.NewBuilder(DeleteObjectName, []wasm.ValType{wasm.I32}, nil)
		structPtr := b.Param(0)

		b.LocalGet(structPtr).I32Const(itypes.OwnerPrefixSize).I32Sub()
		b.LocalGet(structPtr).Call(getID)
		b.Call(writeSlot)
		b.I32Const(codegen.DataObjectsMappingSlotOffset).Call(del)
		return b.Finish()
	})
}

// Transfer emits the per-struct transfer operation:
// (struct_ptr, recipient_ptr i32). Valid only while Owned: a shared or
// frozen object reverts NotAuthorized. The object moves buckets — the old
// slot range is deleted, the owner prefix rewritten, and the struct saved
// under (recipient, id).
func Transfer(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	if err := requireKey(ctx, t); err != nil {
		return 0, err
	}
	name := "transfer_object_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	equality := rtlib.HeapTypeEquality(ctx)
	revert := rtlib.RevertNotAuthorized(ctx)
	deleteObj := DeleteObject(ctx)
	writeSlot := WriteObjectSlot(ctx)
	getID := GetIdBytesPtr(ctx)
	save, err := EncodeAndSave(ctx, t)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32, wasm.I32}, nil)
	structPtr, recipient := b.Param(0), b.Param(1)
	owner := b.AddLocal(wasm.I32)

	b.LocalGet(structPtr).I32Const(itypes.OwnerPrefixSize).I32Sub().LocalSet(owner)

	b.LocalGet(owner).I32Const(codegen.DataSharedObjectsKeyOffset).I32Const(32).Call(equality)
	b.LocalGet(owner).I32Const(codegen.DataFrozenObjectsKeyOffset).I32Const(32).Call(equality)
	b.I32Or().If(wasm.NoResult, func() {
		b.Call(revert)
	})

	b.LocalGet(structPtr).Call(deleteObj)

	b.LocalGet(recipient)
	b.LocalGet(structPtr).Call(getID)
	b.Call(writeSlot)

	b.LocalGet(owner).LocalGet(recipient).I32Const(32).MemoryCopy()
	b.LocalGet(structPtr).I32Const(codegen.DataObjectsMappingSlotOffset).Call(save)
	return b.Finish(), nil
}

// Share emits the per-struct share operation: (struct_ptr i32). Valid only
// while Owned; sharing an already-shared or frozen object reverts
// NotAuthorized. The struct is saved under the shared-objects sentinel.
func Share(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	if err := requireKey(ctx, t); err != nil {
		return 0, err
	}
	name := "share_object_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	equality := rtlib.HeapTypeEquality(ctx)
	revert := rtlib.RevertNotAuthorized(ctx)
	writeSlot := WriteObjectSlot(ctx)
	getID := GetIdBytesPtr(ctx)
	save, err := EncodeAndSave(ctx, t)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32}, nil)
	structPtr := b.Param(0)
	owner := b.AddLocal(wasm.I32)

	b.LocalGet(structPtr).I32Const(itypes.OwnerPrefixSize).I32Sub().LocalSet(owner)

	b.LocalGet(owner).I32Const(codegen.DataSharedObjectsKeyOffset).I32Const(32).Call(equality)
	b.LocalGet(owner).I32Const(codegen.DataFrozenObjectsKeyOffset).I32Const(32).Call(equality)
	b.I32Or().If(wasm.NoResult, func() {
		b.Call(revert)
	})

	b.I32Const(codegen.DataSharedObjectsKeyOffset)
	b.LocalGet(structPtr).Call(getID)
	b.Call(writeSlot)

	b.LocalGet(owner).I32Const(codegen.DataSharedObjectsKeyOffset).I32Const(32).MemoryCopy()
	b.LocalGet(structPtr).I32Const(codegen.DataObjectsMappingSlotOffset).Call(save)
	return b.Finish(), nil
}

// Freeze emits the per-struct freeze operation: (struct_ptr i32). Freezing
// a frozen object is a no-op; freezing a shared object reverts
// NotAuthorized; an owned object moves into the frozen bucket.
func Freeze(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	if err := requireKey(ctx, t); err != nil {
		return 0, err
	}
	name := "freeze_object_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	equality := rtlib.HeapTypeEquality(ctx)
	revert := rtlib.RevertNotAuthorized(ctx)
	deleteObj := DeleteObject(ctx)
	writeSlot := WriteObjectSlot(ctx)
	getID := GetIdBytesPtr(ctx)
	save, err := EncodeAndSave(ctx, t)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32}, nil)
	structPtr := b.Param(0)
	owner := b.AddLocal(wasm.I32)

	b.Block(wasm.NoResult, func(done wasm.Label) {
		b.LocalGet(structPtr).I32Const(itypes.OwnerPrefixSize).I32Sub().LocalSet(owner)

		// Already frozen: idempotent.
		b.LocalGet(owner).I32Const(codegen.DataFrozenObjectsKeyOffset).I32Const(32).Call(equality)
		b.BrIf(done)

		b.LocalGet(owner).I32Const(codegen.DataSharedObjectsKeyOffset).I32Const(32).Call(equality)
		b.If(wasm.NoResult, func() {
			b.Call(revert)
		})

		b.LocalGet(structPtr).Call(deleteObj)

		b.I32Const(codegen.DataFrozenObjectsKeyOffset)
		b.LocalGet(structPtr).Call(getID)
		b.Call(writeSlot)

		b.LocalGet(owner).I32Const(codegen.DataFrozenObjectsKeyOffset).I32Const(32).MemoryCopy()
		b.LocalGet(structPtr).I32Const(codegen.DataObjectsMappingSlotOffset).Call(save)
	})
	return b.Finish(), nil
}
