package abi

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

// unpacker emits deserialization code into one function body.
type unpacker struct {
	ctx *codegen.Context
	b   *wasm.Builder

	// calldataEnd bounds every tail access.
	calldataEnd wasm.LocalID
}

// EmitUnpackParams reads one value per type from calldata, left to right.
// The global calldata reader must point at the first parameter head; it is
// advanced by each parameter's head size. calldataEnd is a local holding the
// first address past the calldata. The returned locals hold scalar values or
// pointers to fresh in-memory representations.
func EmitUnpackParams(ctx *codegen.Context, b *wasm.Builder, types []itypes.Type, calldataEnd wasm.LocalID) ([]wasm.LocalID, error) {
	u := &unpacker{ctx: ctx, b: b, calldataEnd: calldataEnd}

	paramsBase := b.AddLocal(wasm.I32)
	b.GlobalGet(ctx.CalldataReader).LocalSet(paramsBase)

	dsts := make([]wasm.LocalID, len(types))
	for i, t := range types {
		reader := b.AddLocal(wasm.I32)
		b.GlobalGet(ctx.CalldataReader).LocalSet(reader)

		dst := b.AddLocal(t.ValType())
		if err := u.unpackAt(t, reader, 0, paramsBase, dst); err != nil {
			return nil, err
		}
		dsts[i] = dst

		size, err := t.EncodedSize(ctx)
		if err != nil {
			return nil, err
		}
		b.GlobalGet(ctx.CalldataReader).I32Const(int32(size)).I32Add().
			GlobalSet(ctx.CalldataReader)
	}
	return dsts, nil
}

// EmitUnpackValue materializes a single value whose head slot sits at the
// address in reader, resolving dynamic offsets against ref and bounding
// every access by end. The storage decoder drives this directly, outside the
// global calldata reader.
func EmitUnpackValue(ctx *codegen.Context, b *wasm.Builder, t itypes.Type, reader, ref, end wasm.LocalID) (wasm.LocalID, error) {
	u := &unpacker{ctx: ctx, b: b, calldataEnd: end}
	dst := b.AddLocal(t.ValType())
	if err := u.unpackAt(t, reader, 0, ref, dst); err != nil {
		return 0, err
	}
	return dst, nil
}

// unpackAt materializes a value of type t from the head slot at reader+off,
// leaving it in dst. Offsets inside dynamic heads are resolved against ref.
func (u *unpacker) unpackAt(t itypes.Type, reader wasm.LocalID, off uint32, ref, dst wasm.LocalID) error {
	b, ctx := u.b, u.ctx
	switch t.Kind {
	case itypes.KindBool, itypes.KindU8:
		b.LocalGet(reader).I32Load8U(off + 31).LocalSet(dst)
		return nil

	case itypes.KindU16:
		// Two byte loads beat a load16 plus swap at this width.
		b.LocalGet(reader).I32Load8U(off + 30).I32Const(8).I32Shl()
		b.LocalGet(reader).I32Load8U(off + 31).I32Or()
		b.LocalSet(dst)
		return nil

	case itypes.KindU32:
		swap := rtlib.SwapI32Bytes(ctx)
		b.LocalGet(reader).I32Load(off + 28).Call(swap).LocalSet(dst)
		return nil

	case itypes.KindU64:
		swap := rtlib.SwapI64Bytes(ctx)
		b.LocalGet(reader).I64Load(off + 24).Call(swap).LocalSet(dst)
		return nil

	case itypes.KindU128, itypes.KindU256:
		swap := rtlib.SwapI64Bytes(ctx)
		size, _ := t.HeapSize()
		limbs := size / 8
		b.I32Const(int32(size)).Call(ctx.Allocator).LocalSet(dst)
		for limb := uint32(0); limb < limbs; limb++ {
			src := off + (limbs-1-limb)*8 + (32 - limbs*8)
			b.LocalGet(dst)
			b.LocalGet(reader).I64Load(src)
			b.Call(swap)
			b.I64Store(limb * 8)
		}
		return nil

	case itypes.KindAddress, itypes.KindSigner:
		b.I32Const(32).Call(ctx.Allocator).LocalSet(dst)
		b.LocalGet(dst)
		b.LocalGet(reader).I32Const(int32(off)).I32Add()
		b.I32Const(32)
		b.MemoryCopy()
		return nil

	case itypes.KindImmRef, itypes.KindMutRef:
		inner := *t.Inner
		if inner.IsRef() {
			return errors.RefInRef(errors.PhaseAbiUnpack, t.String())
		}
		// Materialize the inner value, then box it in a slot so the ref is
		// uniformly "address of the slot holding the value or pointer".
		val := b.AddLocal(inner.ValType())
		if err := u.unpackAt(inner, reader, off, ref, val); err != nil {
			return err
		}
		cell := b.AddLocal(wasm.I32)
		b.I32Const(int32(inner.WasmMemoryDataSize())).
			Call(ctx.Allocator).LocalSet(cell)
		b.LocalGet(cell).LocalGet(val).StoreKindOp(inner.StoreOp(), 0)
		b.LocalGet(cell).LocalSet(dst)
		return nil

	case itypes.KindStruct, itypes.KindGenericStructInstance:
		return u.unpackStruct(t, reader, off, ref, dst)

	case itypes.KindVector:
		return u.unpackVector(t, reader, off, ref, dst)

	case itypes.KindTypeParameter:
		return errors.Uninstantiated(errors.PhaseAbiUnpack, int(t.Param))

	default:
		return errors.Unsupported(errors.PhaseAbiUnpack, t.String())
	}
}

func (u *unpacker) unpackStruct(t itypes.Type, reader wasm.LocalID, off uint32, ref, dst wasm.LocalID) error {
	b, ctx := u.b, u.ctx
	s, ok := ctx.StructDef(t.Module, t.Index)
	if !ok {
		return errors.UnknownDefinition(errors.PhaseAbiUnpack, "struct", int(t.Index))
	}
	dynamic, err := t.IsDynamic(ctx)
	if err != nil {
		return err
	}

	fieldReader := reader
	fieldOff := off
	subRef := ref
	if dynamic {
		tail := b.AddLocal(wasm.I32)
		if err := u.followOffsetWord(reader, off, ref, tail); err != nil {
			return err
		}
		fieldReader = tail
		fieldOff = 0
		subRef = tail
	}

	block := b.AddLocal(wasm.I32)
	b.I32Const(int32(4*len(s.Fields))).Call(ctx.Allocator).LocalSet(block)

	for i, f := range s.Fields {
		field, err := f.Instantiate(t.TypeArgs)
		if err != nil {
			return err
		}
		val := b.AddLocal(field.ValType())
		if err := u.unpackAt(field, fieldReader, fieldOff, subRef, val); err != nil {
			return err
		}
		if field.IsStackType() {
			cell := b.AddLocal(wasm.I32)
			b.I32Const(int32(field.WasmMemoryDataSize())).
				Call(ctx.Allocator).LocalSet(cell)
			b.LocalGet(cell).LocalGet(val).StoreKindOp(field.StoreOp(), 0)
			b.LocalGet(block).LocalGet(cell).I32Store(uint32(4 * i))
		} else {
			b.LocalGet(block).LocalGet(val).I32Store(uint32(4 * i))
		}
		size, err := field.EncodedSize(ctx)
		if err != nil {
			return err
		}
		fieldOff += size
	}
	b.LocalGet(block).LocalSet(dst)
	return nil
}

func (u *unpacker) unpackVector(t itypes.Type, reader wasm.LocalID, off uint32, ref, dst wasm.LocalID) error {
	b, ctx := u.b, u.ctx
	elem := *t.Inner
	if elem.IsRef() {
		return errors.RefInRef(errors.PhaseAbiUnpack, t.String())
	}
	elemSize, err := elem.EncodedSize(ctx)
	if err != nil {
		return err
	}
	slotSize := elem.WasmMemoryDataSize()
	swap := rtlib.SwapI32Bytes(ctx)
	revert := rtlib.RevertInvalidPointer(ctx)

	tail := b.AddLocal(wasm.I32)
	if err := u.followOffsetWord(reader, off, ref, tail); err != nil {
		return err
	}

	length := b.AddLocal(wasm.I32)
	heads := b.AddLocal(wasm.I32)
	vec := b.AddLocal(wasm.I32)
	idx := b.AddLocal(wasm.I32)
	elemReader := b.AddLocal(wasm.I32)
	elemVal := b.AddLocal(elem.ValType())

	// The length word must itself lie inside calldata.
	b.LocalGet(tail).I32Const(32).I32Add().LocalGet(u.calldataEnd).I32GtU().
		If(wasm.NoResult, func() {
			b.Call(revert)
		})
	b.LocalGet(tail).I32Load(28).Call(swap).LocalSet(length)
	b.LocalGet(tail).I32Const(32).I32Add().LocalSet(heads)

	// All element heads must lie inside calldata.
	b.LocalGet(heads).
		LocalGet(length).I32Const(int32(elemSize)).I32Mul().I32Add().
		LocalGet(u.calldataEnd).I32GtU().
		If(wasm.NoResult, func() {
			b.Call(revert)
		})

	b.LocalGet(length).I32Const(int32(slotSize)).I32Mul().
		I32Const(itypes.VectorHeaderSize).I32Add().
		Call(ctx.Allocator).LocalSet(vec)
	b.LocalGet(vec).LocalGet(length).I32Store(0)
	b.LocalGet(vec).LocalGet(length).I32Store(4)

	b.I32Const(0).LocalSet(idx)
	b.Block(wasm.NoResult, func(done wasm.Label) {
		b.Loop(wasm.NoResult, func(next wasm.Label) {
			b.LocalGet(idx).LocalGet(length).I32GeU().BrIf(done)

			b.LocalGet(heads).
				LocalGet(idx).I32Const(int32(elemSize)).I32Mul().I32Add().
				LocalSet(elemReader)

			if err == nil {
				err = u.unpackAt(elem, elemReader, 0, heads, elemVal)
			}

			b.LocalGet(vec).I32Const(itypes.VectorHeaderSize).I32Add().
				LocalGet(idx).I32Const(int32(slotSize)).I32Mul().I32Add()
			b.LocalGet(elemVal)
			b.StoreKindOp(elem.StoreOp(), 0)

			b.LocalGet(idx).I32Const(1).I32Add().LocalSet(idx)
			b.Br(next)
		})
	})
	if err != nil {
		return err
	}
	b.LocalGet(vec).LocalSet(dst)
	return nil
}

// followOffsetWord reads the 32-byte offset word at reader+off, validates it
// fits 32 bits, and leaves ref+offset in tail. Calldata offsets with any of
// their upper 24 bytes set revert InvalidPointer.
func (u *unpacker) followOffsetWord(reader wasm.LocalID, off uint32, ref, tail wasm.LocalID) error {
	b, ctx := u.b, u.ctx
	isZero := rtlib.IsZero(ctx)
	revert := rtlib.RevertInvalidPointer(ctx)
	swap := rtlib.SwapI64Bytes(ctx)
	validate := rtlib.ValidatePointer32(ctx)

	b.LocalGet(reader).I32Const(int32(off)).I32Add().I32Const(24).Call(isZero).
		I32Eqz().If(wasm.NoResult, func() {
		b.Call(revert)
	})
	b.LocalGet(ref)
	b.LocalGet(reader).I64Load(off + 24).Call(swap).Call(validate)
	b.I32Add()
	b.LocalSet(tail)
	return nil
}
