package storage

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

const HasChildObjectName = "has_child_object"

// HashTypeAndKey derives a child object id from
// (parent_id, serialized_key, key_type_name):
// (parent_id_ptr i32, key <valtype>) -> i32 pointing at the 32-byte id.
//
// Serialization rules: stack scalars append their little-endian bytes at
// natural width, heap scalars their raw heap bytes, struct keys their fields
// in order, vector keys their elements in sequence with no length prefix.
func HashTypeAndKey(ctx *codegen.Context, keyType itypes.Type) (wasm.FuncID, error) {
	if err := validKeyType(keyType); err != nil {
		return 0, err
	}
	name := "hash_type_and_key_" + itypes.TypesDigest([]itypes.Type{keyType})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	b := ctx.Module.NewBuilder(name,
		[]wasm.ValType{wasm.I32, keyType.ValType()}, []wasm.ValType{wasm.I32})
	parentID, key := b.Param(0), b.Param(1)

	dataStart := b.AddLocal(wasm.I32)
	length := b.AddLocal(wasm.I32)
	out := b.AddLocal(wasm.I32)

	b.I32Const(32).Call(ctx.Allocator).LocalSet(dataStart)
	b.LocalGet(dataStart).LocalGet(parentID).I32Const(32).MemoryCopy()

	if err := serializeKey(ctx, b, keyType, key); err != nil {
		return 0, err
	}

	// The canonical type name closes the hashed data.
	typeName := keyType.Name(ctx)
	namePtr := b.AddLocal(wasm.I32)
	b.I32Const(int32(len(typeName))).Call(ctx.Allocator).LocalSet(namePtr)
	for i := 0; i < len(typeName); i++ {
		b.LocalGet(namePtr).I32Const(int32(typeName[i])).I32Store8(uint32(i))
	}

	// Everything allocated since dataStart is the hash input.
	b.GlobalGet(ctx.NextFreePtr).LocalGet(dataStart).I32Sub().LocalSet(length)
	b.I32Const(32).Call(ctx.Allocator).LocalSet(out)
	b.LocalGet(dataStart).LocalGet(length).LocalGet(out).
		Call(ctx.Host.NativeKeccak256)
	b.LocalGet(out)
	return b.Finish(), nil
}

func validKeyType(t itypes.Type) error {
	switch t.Kind {
	case itypes.KindBool, itypes.KindU8, itypes.KindU16, itypes.KindU32,
		itypes.KindU64, itypes.KindU128, itypes.KindU256, itypes.KindAddress,
		itypes.KindStruct, itypes.KindGenericStructInstance:
		return nil
	case itypes.KindVector:
		return validKeyType(*t.Inner)
	default:
		return errors.InvalidKeyType(t.String())
	}
}

// serializeKey appends the key's canonical bytes through the allocator. val
// holds the value (stack kinds) or a pointer (heap kinds).
func serializeKey(ctx *codegen.Context, b *wasm.Builder, t itypes.Type, val wasm.LocalID) error {
	switch t.Kind {
	case itypes.KindBool, itypes.KindU8, itypes.KindU16, itypes.KindU32, itypes.KindU64:
		p := b.AddLocal(wasm.I32)
		b.I32Const(int32(t.WasmMemoryDataSize())).Call(ctx.Allocator).LocalSet(p)
		b.LocalGet(p).LocalGet(val).StoreKindOp(t.StoreOp(), 0)
		return nil

	case itypes.KindU128, itypes.KindU256, itypes.KindAddress:
		size := t.WasmMemoryDataSize()
		if hs, ok := t.HeapSize(); ok {
			size = hs
		}
		p := b.AddLocal(wasm.I32)
		b.I32Const(int32(size)).Call(ctx.Allocator).LocalSet(p)
		b.LocalGet(p).LocalGet(val).I32Const(int32(size)).MemoryCopy()
		return nil

	case itypes.KindStruct, itypes.KindGenericStructInstance:
		s, ok := ctx.StructDef(t.Module, t.Index)
		if !ok {
			return errors.UnknownDefinition(errors.PhaseNative, "struct", int(t.Index))
		}
		for i, f := range s.Fields {
			field, err := f.Instantiate(t.TypeArgs)
			if err != nil {
				return err
			}
			fieldVal := b.AddLocal(field.ValType())
			b.LocalGet(val).I32Load(uint32(4 * i))
			if field.IsStackType() {
				b.LoadKindOp(field.LoadOp(), 0)
			}
			b.LocalSet(fieldVal)
			if err := serializeKey(ctx, b, field, fieldVal); err != nil {
				return err
			}
		}
		return nil

	case itypes.KindVector:
		elem := *t.Inner
		slotSize := elem.WasmMemoryDataSize()
		length := b.AddLocal(wasm.I32)
		idx := b.AddLocal(wasm.I32)
		elemVal := b.AddLocal(elem.ValType())

		b.LocalGet(val).I32Load(0).LocalSet(length)
		b.I32Const(0).LocalSet(idx)
		var innerErr error
		b.Block(wasm.NoResult, func(done wasm.Label) {
			b.Loop(wasm.NoResult, func(next wasm.Label) {
				b.LocalGet(idx).LocalGet(length).I32GeU().BrIf(done)
				b.LocalGet(val).I32Const(itypes.VectorHeaderSize).I32Add().
					LocalGet(idx).I32Const(int32(slotSize)).I32Mul().I32Add()
				b.LoadKindOp(elem.LoadOp(), 0).LocalSet(elemVal)
				if innerErr == nil {
					innerErr = serializeKey(ctx, b, elem, elemVal)
				}
				b.LocalGet(idx).I32Const(1).I32Add().LocalSet(idx)
				b.Br(next)
			})
		})
		return innerErr

	default:
		return errors.InvalidKeyType(t.String())
	}
}

// AddChildObject attaches a value under (parent_id, key):
// (parent_id_ptr i32, key <valtype>, value_ptr i32). The derived child id is
// hash_type_and_key(parent, key); the value's owner prefix becomes the
// parent id and its encoding is saved at the derived slot.
func AddChildObject(ctx *codegen.Context, keyType, valType itypes.Type) (wasm.FuncID, error) {
	name := "add_child_object_" + itypes.TypesDigest([]itypes.Type{keyType, valType})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	hash, err := HashTypeAndKey(ctx, keyType)
	if err != nil {
		return 0, err
	}
	writeSlot := WriteObjectSlot(ctx)
	save, err := EncodeAndSave(ctx, valType)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name,
		[]wasm.ValType{wasm.I32, keyType.ValType(), wasm.I32}, nil)
	parentID, key, value := b.Param(0), b.Param(1), b.Param(2)
	childID := b.AddLocal(wasm.I32)

	b.LocalGet(parentID).LocalGet(key).Call(hash).LocalSet(childID)
	b.LocalGet(parentID).LocalGet(childID).Call(writeSlot)

	b.LocalGet(value).I32Const(itypes.OwnerPrefixSize).I32Sub().
		LocalGet(parentID).I32Const(32).MemoryCopy()
	b.LocalGet(value).I32Const(codegen.DataObjectsMappingSlotOffset).Call(save)
	return b.Finish(), nil
}

// BorrowChildObject reads a child back from storage:
// (parent_id_ptr i32, key <valtype>) -> i32. A missing child reverts
// NotFound; the decoded struct carries the parent id as owner prefix.
func BorrowChildObject(ctx *codegen.Context, keyType, valType itypes.Type) (wasm.FuncID, error) {
	name := "borrow_child_object_" + itypes.TypesDigest([]itypes.Type{keyType, valType})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	hash, err := HashTypeAndKey(ctx, keyType)
	if err != nil {
		return 0, err
	}
	writeSlot := WriteObjectSlot(ctx)
	decode, err := ReadAndDecode(ctx, valType)
	if err != nil {
		return 0, err
	}

	b := ctx.Module.NewBuilder(name,
		[]wasm.ValType{wasm.I32, keyType.ValType()}, []wasm.ValType{wasm.I32})
	parentID, key := b.Param(0), b.Param(1)
	childID := b.AddLocal(wasm.I32)

	b.LocalGet(parentID).LocalGet(key).Call(hash).LocalSet(childID)
	b.LocalGet(parentID).LocalGet(childID).Call(writeSlot)
	b.I32Const(codegen.DataObjectsMappingSlotOffset).LocalGet(parentID).Call(decode)
	return b.Finish(), nil
}

// RemoveChildObject borrows the child, deletes its slot range, and yields
// the in-memory struct: (parent_id_ptr i32, key <valtype>) -> i32.
func RemoveChildObject(ctx *codegen.Context, keyType, valType itypes.Type) (wasm.FuncID, error) {
	name := "remove_child_object_" + itypes.TypesDigest([]itypes.Type{keyType, valType})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	borrow, err := BorrowChildObject(ctx, keyType, valType)
	if err != nil {
		return 0, err
	}
	del := DeleteStorageSlots(ctx)

	b := ctx.Module.NewBuilder(name,
		[]wasm.ValType{wasm.I32, keyType.ValType()}, []wasm.ValType{wasm.I32})
	parentID, key := b.Param(0), b.Param(1)
	value := b.AddLocal(wasm.I32)

	b.LocalGet(parentID).LocalGet(key).Call(borrow).LocalSet(value)
	// The scratch slot still holds the derived slot from the borrow.
	b.I32Const(codegen.DataObjectsMappingSlotOffset).Call(del)
	b.LocalGet(value)
	return b.Finish(), nil
}

// HasChildObject probes the slot derived from (parent_id, key):
// (parent_id_ptr i32, key <valtype>) -> i32.
func HasChildObject(ctx *codegen.Context, keyType itypes.Type) (wasm.FuncID, error) {
	name := HasChildObjectName + "_" + itypes.TypesDigest([]itypes.Type{keyType})
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id, nil
	}

	hash, err := HashTypeAndKey(ctx, keyType)
	if err != nil {
		return 0, err
	}
	writeSlot := WriteObjectSlot(ctx)
	isZero := rtlib.IsZero(ctx)

	b := ctx.Module.NewBuilder(name,
		[]wasm.ValType{wasm.I32, keyType.ValType()}, []wasm.ValType{wasm.I32})
	parentID, key := b.Param(0), b.Param(1)
	childID := b.AddLocal(wasm.I32)

	b.LocalGet(parentID).LocalGet(key).Call(hash).LocalSet(childID)
	b.LocalGet(parentID).LocalGet(childID).Call(writeSlot)
	b.I32Const(codegen.DataObjectsMappingSlotOffset).
		I32Const(codegen.DataSlotDataOffset).
		Call(ctx.Host.StorageLoadBytes32)
	b.I32Const(codegen.DataSlotDataOffset).I32Const(32).Call(isZero).I32Eqz()
	return b.Finish(), nil
}
