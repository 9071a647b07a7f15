package abi

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

// packer emits serialization code into one function body.
type packer struct {
	ctx *codegen.Context
	b   *wasm.Builder
}

// EmitPackValues packs the given values into a fresh ABI buffer. Each src
// local holds the value (stack types) or a pointer to it. It returns locals
// holding the buffer pointer and the total encoded length.
//
// Nothing may allocate between the head allocation and the last tail write:
// the encoding is laid out by consecutive bump allocations and closed by the
// allocator frontier.
func EmitPackValues(ctx *codegen.Context, b *wasm.Builder, types []itypes.Type, srcs []wasm.LocalID) (buf, length wasm.LocalID, err error) {
	p := &packer{ctx: ctx, b: b}

	var headSize uint32
	for _, t := range types {
		size, err := t.EncodedSize(ctx)
		if err != nil {
			return 0, 0, err
		}
		headSize += size
	}

	buf = b.AddLocal(wasm.I32)
	length = b.AddLocal(wasm.I32)
	b.I32Const(int32(headSize)).Call(ctx.Allocator).LocalSet(buf)

	var off uint32
	for i, t := range types {
		if err := p.pack(t, srcs[i], buf, off, buf); err != nil {
			return 0, 0, err
		}
		size, _ := t.EncodedSize(ctx)
		off += size
	}

	// length = allocator frontier - buffer start
	b.GlobalGet(ctx.NextFreePtr).LocalGet(buf).I32Sub().LocalSet(length)
	return buf, length, nil
}

// pack writes one value of type t into the head slot at writer+off. Dynamic
// tails are appended through the allocator; their offset words are relative
// to calldataRef.
func (p *packer) pack(t itypes.Type, src, writer wasm.LocalID, off uint32, calldataRef wasm.LocalID) error {
	b, ctx := p.b, p.ctx
	switch t.Kind {
	case itypes.KindBool, itypes.KindU8:
		b.LocalGet(writer).LocalGet(src).I32Store8(off + 31)
		return nil

	case itypes.KindU16:
		b.LocalGet(writer).LocalGet(src).I32Const(8).I32ShrU().I32Store8(off + 30)
		b.LocalGet(writer).LocalGet(src).I32Store8(off + 31)
		return nil

	case itypes.KindU32:
		swap := rtlib.SwapI32Bytes(ctx)
		b.LocalGet(writer).LocalGet(src).Call(swap).I32Store(off + 28)
		return nil

	case itypes.KindU64:
		swap := rtlib.SwapI64Bytes(ctx)
		b.LocalGet(writer).LocalGet(src).Call(swap).I64Store(off + 24)
		return nil

	case itypes.KindU128, itypes.KindU256:
		swap := rtlib.SwapI64Bytes(ctx)
		size, _ := t.HeapSize()
		limbs := size / 8
		for limb := uint32(0); limb < limbs; limb++ {
			// Little-endian limb k lands big-endian at the mirrored slot.
			dst := off + (limbs-1-limb)*8 + (32 - limbs*8)
			b.LocalGet(writer)
			b.LocalGet(src).I64Load(limb * 8)
			b.Call(swap)
			b.I64Store(dst)
		}
		return nil

	case itypes.KindAddress, itypes.KindSigner:
		b.LocalGet(writer).I32Const(int32(off)).I32Add()
		b.LocalGet(src)
		b.I32Const(32)
		b.MemoryCopy()
		return nil

	case itypes.KindImmRef, itypes.KindMutRef:
		inner := *t.Inner
		if inner.IsRef() {
			return errors.RefInRef(errors.PhaseAbiPack, t.String())
		}
		// A reference is the address of the slot holding the value (stack
		// kinds) or the pointer (heap kinds); one load dereferences both.
		val := b.AddLocal(inner.ValType())
		b.LocalGet(src).LoadKindOp(inner.LoadOp(), 0).LocalSet(val)
		return p.pack(inner, val, writer, off, calldataRef)

	case itypes.KindStruct, itypes.KindGenericStructInstance:
		return p.packStruct(t, src, writer, off, calldataRef)

	case itypes.KindVector:
		return p.packVector(t, src, writer, off, calldataRef)

	case itypes.KindTypeParameter:
		return errors.Uninstantiated(errors.PhaseAbiPack, int(t.Param))

	default:
		return errors.Unsupported(errors.PhaseAbiPack, t.String())
	}
}

// packStruct handles both the static layout (fields written contiguously in
// place) and the dynamic one (offset word plus a tail carrying the struct's
// own head block).
func (p *packer) packStruct(t itypes.Type, src, writer wasm.LocalID, off uint32, calldataRef wasm.LocalID) error {
	b, ctx := p.b, p.ctx
	s, ok := ctx.StructDef(t.Module, t.Index)
	if !ok {
		return errors.UnknownDefinition(errors.PhaseAbiPack, "struct", int(t.Index))
	}
	dynamic, err := t.IsDynamic(ctx)
	if err != nil {
		return err
	}

	fieldWriter := writer
	fieldOff := off
	subRef := calldataRef
	if dynamic {
		// Head block for the struct's own fields becomes the tail; field
		// offsets restart against it.
		var headSize uint32
		for _, f := range s.Fields {
			field, err := f.Instantiate(t.TypeArgs)
			if err != nil {
				return err
			}
			size, err := field.EncodedSize(ctx)
			if err != nil {
				return err
			}
			headSize += size
		}
		tail := b.AddLocal(wasm.I32)
		b.I32Const(int32(headSize)).Call(ctx.Allocator).LocalSet(tail)
		p.writeOffsetWord(writer, off, tail, calldataRef)
		fieldWriter = tail
		fieldOff = 0
		subRef = tail
	}

	for i, f := range s.Fields {
		field, err := f.Instantiate(t.TypeArgs)
		if err != nil {
			return err
		}
		val := b.AddLocal(field.ValType())
		b.LocalGet(src).I32Load(uint32(4 * i))
		if field.IsStackType() {
			// The middle pointer addresses a cell holding the value.
			b.LoadKindOp(field.LoadOp(), 0)
		}
		b.LocalSet(val)
		if err := p.pack(field, val, fieldWriter, fieldOff, subRef); err != nil {
			return err
		}
		size, err := field.EncodedSize(ctx)
		if err != nil {
			return err
		}
		fieldOff += size
	}
	return nil
}

// packVector writes the offset word, the big-endian length, and then the
// element heads (and recursively their tails) into the tail.
func (p *packer) packVector(t itypes.Type, src, writer wasm.LocalID, off uint32, calldataRef wasm.LocalID) error {
	b, ctx := p.b, p.ctx
	elem := *t.Inner
	if elem.IsRef() {
		return errors.RefInRef(errors.PhaseAbiPack, t.String())
	}
	elemSize, err := elem.EncodedSize(ctx)
	if err != nil {
		return err
	}
	slotSize := elem.WasmMemoryDataSize()
	swap := rtlib.SwapI32Bytes(ctx)

	length := b.AddLocal(wasm.I32)
	tail := b.AddLocal(wasm.I32)
	heads := b.AddLocal(wasm.I32)
	idx := b.AddLocal(wasm.I32)
	elemVal := b.AddLocal(elem.ValType())
	elemWriter := b.AddLocal(wasm.I32)

	b.LocalGet(src).I32Load(0).LocalSet(length)

	// Length word, then the contiguous block of element heads.
	b.I32Const(32).Call(ctx.Allocator).LocalSet(tail)
	p.writeOffsetWord(writer, off, tail, calldataRef)
	b.LocalGet(tail).LocalGet(length).Call(swap).I32Store(28)

	b.LocalGet(length).I32Const(int32(elemSize)).I32Mul().
		Call(ctx.Allocator).LocalSet(heads)

	b.I32Const(0).LocalSet(idx)
	b.Block(wasm.NoResult, func(done wasm.Label) {
		b.Loop(wasm.NoResult, func(next wasm.Label) {
			b.LocalGet(idx).LocalGet(length).I32GeU().BrIf(done)

			// elemVal = vector slot idx
			b.LocalGet(src).I32Const(itypes.VectorHeaderSize).I32Add().
				LocalGet(idx).I32Const(int32(slotSize)).I32Mul().I32Add()
			b.LoadKindOp(elem.LoadOp(), 0).LocalSet(elemVal)

			b.LocalGet(heads).
				LocalGet(idx).I32Const(int32(elemSize)).I32Mul().I32Add().
				LocalSet(elemWriter)

			if err == nil {
				err = p.pack(elem, elemVal, elemWriter, 0, heads)
			}

			b.LocalGet(idx).I32Const(1).I32Add().LocalSet(idx)
			b.Br(next)
		})
	})
	return err
}

// writeOffsetWord stores (tail - calldataRef) as a 32-byte big-endian word
// at writer+off.
func (p *packer) writeOffsetWord(writer wasm.LocalID, off uint32, tail, calldataRef wasm.LocalID) {
	b := p.b
	swap := rtlib.SwapI32Bytes(p.ctx)
	b.LocalGet(writer)
	b.LocalGet(tail).LocalGet(calldataRef).I32Sub()
	b.Call(swap)
	b.I32Store(off + 28)
}
