package storage

import (
	"github.com/rather-labs/move-wasm/abi"
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

const DeleteStorageSlotsName = "delete_storage_slots"

// EncodeAndSave returns the per-type routine that ABI-encodes a value and
// writes it into consecutive storage slots starting at slot_ptr:
// (value_ptr, slot_ptr i32). The first slot holds the big-endian byte length
// of the encoding; the following ceil(len/32) slots hold the data.
func EncodeAndSave(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	name := "encode_and_save_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	swap := rtlib.SwapI32Bytes(ctx)
	slotAdd := SlotAddU64(ctx)
	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32, wasm.I32}, nil)
	valuePtr, slotPtr := b.Param(0), b.Param(1)

	buf, length, err := abi.EmitPackValues(ctx, b, []itypes.Type{t}, []wasm.LocalID{valuePtr})
	if err != nil {
		return 0, err
	}

	slotKey := b.AddLocal(wasm.I32)
	lenWord := b.AddLocal(wasm.I32)
	off := b.AddLocal(wasm.I32)

	b.I32Const(32).Call(ctx.Allocator).LocalSet(slotKey)
	b.LocalGet(slotKey).LocalGet(slotPtr).I32Const(32).MemoryCopy()

	b.I32Const(32).Call(ctx.Allocator).LocalSet(lenWord)
	b.LocalGet(lenWord).I32Const(0).I32Const(32).MemoryFill()
	b.LocalGet(lenWord).LocalGet(length).Call(swap).I32Store(28)
	b.LocalGet(slotKey).LocalGet(lenWord).Call(ctx.Host.StorageCacheBytes32)

	b.Block(wasm.NoResult, func(done wasm.Label) {
		b.Loop(wasm.NoResult, func(next wasm.Label) {
			b.LocalGet(off).LocalGet(length).I32GeU().BrIf(done)
			b.LocalGet(slotKey).I64Const(1).LocalGet(slotKey).Call(slotAdd)
			b.LocalGet(slotKey)
			b.LocalGet(buf).LocalGet(off).I32Add()
			b.Call(ctx.Host.StorageCacheBytes32)
			b.LocalGet(off).I32Const(32).I32Add().LocalSet(off)
			b.Br(next)
		})
	})
	return b.Finish(), nil
}

// ReadAndDecode returns the per-type routine that reads a value's slot range
// and materializes it in memory: (slot_ptr, owner_ptr i32) -> i32. The owner
// key is written into the 32-byte prefix preceding the decoded struct. An
// empty slot reverts NotFound.
func ReadAndDecode(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	name := "read_and_decode_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	swap := rtlib.SwapI32Bytes(ctx)
	slotAdd := SlotAddU64(ctx)
	revert := rtlib.RevertNotFound(ctx)
	b := ctx.Module.NewBuilder(name,
		[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32})
	slotPtr, ownerPtr := b.Param(0), b.Param(1)

	slotKey := b.AddLocal(wasm.I32)
	length := b.AddLocal(wasm.I32)
	buf := b.AddLocal(wasm.I32)
	end := b.AddLocal(wasm.I32)
	off := b.AddLocal(wasm.I32)

	b.I32Const(32).Call(ctx.Allocator).LocalSet(slotKey)
	b.LocalGet(slotKey).LocalGet(slotPtr).I32Const(32).MemoryCopy()

	b.LocalGet(slotKey).I32Const(codegen.DataSlotDataOffset).
		Call(ctx.Host.StorageLoadBytes32)
	b.I32Const(codegen.DataSlotDataOffset).I32Load(28).Call(swap).LocalSet(length)
	b.LocalGet(length).I32Eqz().If(wasm.NoResult, func() {
		b.Call(revert)
	})

	b.LocalGet(length).Call(ctx.Allocator).LocalSet(buf)
	b.LocalGet(buf).LocalGet(length).I32Add().LocalSet(end)
	b.Block(wasm.NoResult, func(done wasm.Label) {
		b.Loop(wasm.NoResult, func(next wasm.Label) {
			b.LocalGet(off).LocalGet(length).I32GeU().BrIf(done)
			b.LocalGet(slotKey).I64Const(1).LocalGet(slotKey).Call(slotAdd)
			b.LocalGet(slotKey)
			b.LocalGet(buf).LocalGet(off).I32Add()
			b.Call(ctx.Host.StorageLoadBytes32)
			b.LocalGet(off).I32Const(32).I32Add().LocalSet(off)
			b.Br(next)
		})
	})

	// The owner prefix is bump-allocated immediately before the struct
	// block: the decoder's first allocation is the block itself, so the
	// prefix lands exactly 32 bytes below it.
	b.I32Const(itypes.OwnerPrefixSize).Call(ctx.Allocator).Drop()
	value, err := abi.EmitUnpackValue(ctx, b, t, buf, buf, end)
	if err != nil {
		return 0, err
	}
	b.LocalGet(value).I32Const(itypes.OwnerPrefixSize).I32Sub().
		LocalGet(ownerPtr).I32Const(32).MemoryCopy()
	b.LocalGet(value)
	return b.Finish(), nil
}

// DeleteStorageSlots zeroes the slot range of a previously saved value:
// (slot_ptr i32). Reading the length word tells how many data slots follow.
func DeleteStorageSlots(ctx *codegen.Context) wasm.FuncID {
	return ctx.RuntimeFn(DeleteStorageSlotsName, func(ctx *codegen.Context) wasm.FuncID {
		swap := rtlib.SwapI32Bytes(ctx)
		slotAdd := SlotAddU64(ctx)
		b := ctx.Module.NewBuilder(DeleteStorageSlotsName, []wasm.ValType{wasm.I32}, nil)
		slotPtr := b.Param(0)

		slotKey := b.AddLocal(wasm.I32)
		length := b.AddLocal(wasm.I32)
		zero := b.AddLocal(wasm.I32)
		off := b.AddLocal(wasm.I32)

		b.I32Const(32).Call(ctx.Allocator).LocalSet(slotKey)
		b.LocalGet(slotKey).LocalGet(slotPtr).I32Const(32).MemoryCopy()

		b.LocalGet(slotKey).I32Const(codegen.DataSlotDataOffset).
			Call(ctx.Host.StorageLoadBytes32)
		b.I32Const(codegen.DataSlotDataOffset).I32Load(28).Call(swap).LocalSet(length)

		b.I32Const(32).Call(ctx.Allocator).LocalSet(zero)
		b.LocalGet(zero).I32Const(0).I32Const(32).MemoryFill()

		b.LocalGet(slotKey).LocalGet(zero).Call(ctx.Host.StorageCacheBytes32)
		b.Block(wasm.NoResult, func(done wasm.Label) {
			b.Loop(wasm.NoResult, func(next wasm.Label) {
				b.LocalGet(off).LocalGet(length).I32GeU().BrIf(done)
				b.LocalGet(slotKey).I64Const(1).LocalGet(slotKey).Call(slotAdd)
				b.LocalGet(slotKey).LocalGet(zero).Call(ctx.Host.StorageCacheBytes32)
				b.LocalGet(off).I32Const(32).I32Add().LocalSet(off)
				b.Br(next)
			})
		})
		return b.Finish()
	})
}

// LoadObject returns the per-type routine that finds a key struct by id:
// (id_ptr i32) -> i32. The owner buckets are probed in order — the caller's
// account, the shared sentinel, the frozen sentinel — and the first occupied
// slot is decoded with its owner key as prefix. Objects under any other
// owner are unreachable and revert NotFound.
func LoadObject(ctx *codegen.Context, t itypes.Type) (wasm.FuncID, error) {
	name := "load_object_" + itypes.TypesDigest([]itypes.Type{t})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	writeSlot := WriteObjectSlot(ctx)
	isZero := rtlib.IsZero(ctx)
	revert := rtlib.RevertNotFound(ctx)
	decode, err := ReadAndDecode(ctx, t)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name, []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
	idPtr := b.Param(0)
	owner := b.AddLocal(wasm.I32)

	// slotOccupied derives the slot for one owner bucket and reports
	// whether it holds data.
	slotOccupied := func(ownerOffset int32) {
		b.I32Const(ownerOffset).LocalGet(idPtr).Call(writeSlot)
		b.I32Const(codegen.DataObjectsMappingSlotOffset).
			I32Const(codegen.DataSlotDataOffset).
			Call(ctx.Host.StorageLoadBytes32)
		b.I32Const(codegen.DataSlotDataOffset).I32Const(32).Call(isZero).I32Eqz()
	}

	// Caller's bucket first; the host writes the 20-byte address into the
	// zero-padded scratch word.
	b.I32Const(codegen.DataMsgSenderOffset + 12).Call(ctx.Host.MsgSender)
	slotOccupied(codegen.DataMsgSenderOffset)
	b.IfElse(wasm.NoResult, func() {
		b.I32Const(codegen.DataMsgSenderOffset).LocalSet(owner)
	}, func() {
		slotOccupied(codegen.DataSharedObjectsKeyOffset)
		b.IfElse(wasm.NoResult, func() {
			b.I32Const(codegen.DataSharedObjectsKeyOffset).LocalSet(owner)
		}, func() {
			slotOccupied(codegen.DataFrozenObjectsKeyOffset)
			b.IfElse(wasm.NoResult, func() {
				b.I32Const(codegen.DataFrozenObjectsKeyOffset).LocalSet(owner)
			}, func() {
				b.Call(revert)
			})
		})
	})

	b.I32Const(codegen.DataObjectsMappingSlotOffset).LocalGet(owner).Call(decode)
	return b.Finish(), nil
}
