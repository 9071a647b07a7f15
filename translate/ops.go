package translate

import (
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/movebc"
	"github.com/rather-labs/move-wasm/rtlib"
	"github.com/rather-labs/move-wasm/wasm"
)

func maxOf(k itypes.Kind) int64 {
	switch k {
	case itypes.KindU8:
		return 0xFF
	case itypes.KindU16:
		return 0xFFFF
	case itypes.KindU32:
		return 0xFFFFFFFF
	default:
		return 0
	}
}

// arith translates the five integer operators. Both operands must share one
// integer type; every operation checks its bounds and reverts on violation.
func (fs *funcState) arith(op movebc.Opcode) error {
	b, ctx := fs.b, fs.ctx()
	rhs, err := fs.pop(op.String())
	if err != nil {
		return err
	}
	if err := fs.popExpect(op.String(), rhs); err != nil {
		return err
	}
	if !rhs.Kind.IsInteger() {
		return errors.TypeMismatch(errors.PhaseTranslate, "integer", rhs.String())
	}
	t := rhs
	fs.push(t)

	if size, heap := t.HeapSize(); heap {
		switch op {
		case movebc.OpAdd:
			b.I32Const(int32(size)).Call(rtlib.HeapIntAdd(ctx))
		case movebc.OpSub:
			b.I32Const(int32(size)).Call(rtlib.HeapIntSub(ctx))
		case movebc.OpMul:
			b.Call(rtlib.HeapIntMul(ctx, size))
		case movebc.OpDiv:
			tmp := b.AddLocal(wasm.I32)
			b.Call(rtlib.HeapIntDivMod(ctx, size))
			b.LocalSet(tmp) // discard the remainder
		case movebc.OpMod:
			tmp := b.AddLocal(wasm.I32)
			b.Call(rtlib.HeapIntDivMod(ctx, size))
			b.LocalSet(tmp)
			b.Drop()
			b.LocalGet(tmp)
		}
		return nil
	}

	wide := t.Kind == itypes.KindU64
	switch op {
	case movebc.OpAdd:
		switch t.Kind {
		case itypes.KindU8, itypes.KindU16:
			b.I32Add().I32Const(int32(maxOf(t.Kind))).Call(rtlib.CheckOverflowU8U16(ctx))
		case itypes.KindU32:
			b.Call(rtlib.AddU32(ctx))
		case itypes.KindU64:
			b.Call(rtlib.AddU64(ctx))
		}

	case movebc.OpSub:
		revert := rtlib.RevertOverflow(ctx)
		rv := b.AddLocal(t.ValType())
		lv := b.AddLocal(t.ValType())
		b.LocalSet(rv).LocalSet(lv)
		if wide {
			b.LocalGet(rv).LocalGet(lv).I64GtU()
		} else {
			b.LocalGet(rv).LocalGet(lv).I32GtU()
		}
		b.If(wasm.NoResult, func() {
			b.Call(revert)
		})
		if wide {
			b.LocalGet(lv).LocalGet(rv).I64Sub()
		} else {
			b.LocalGet(lv).LocalGet(rv).I32Sub()
		}

	case movebc.OpMul:
		switch t.Kind {
		case itypes.KindU8, itypes.KindU16:
			b.I32Mul().I32Const(int32(maxOf(t.Kind))).Call(rtlib.CheckOverflowU8U16(ctx))
		case itypes.KindU32:
			revert := rtlib.RevertOverflow(ctx)
			prod := b.AddLocal(wasm.I64)
			rv := b.AddLocal(wasm.I32)
			b.LocalSet(rv)
			b.I64ExtendI32U()
			b.LocalGet(rv).I64ExtendI32U()
			b.I64Mul().LocalTee(prod)
			b.I64Const(32).I64ShrU().I64Eqz().I32Eqz().If(wasm.NoResult, func() {
				b.Call(revert)
			})
			b.LocalGet(prod).I32WrapI64()
		case itypes.KindU64:
			revert := rtlib.RevertOverflow(ctx)
			rv := b.AddLocal(wasm.I64)
			lv := b.AddLocal(wasm.I64)
			res := b.AddLocal(wasm.I64)
			b.LocalSet(rv).LocalSet(lv)
			b.LocalGet(lv).LocalGet(rv).I64Mul().LocalSet(res)
			// No 128-bit product in core wasm: check by dividing back.
			b.LocalGet(lv).I64Eqz().I32Eqz().If(wasm.NoResult, func() {
				b.LocalGet(res).LocalGet(lv).I64DivU().LocalGet(rv).I64Ne().
					If(wasm.NoResult, func() {
						b.Call(revert)
					})
			})
			b.LocalGet(res)
		}

	case movebc.OpDiv, movebc.OpMod:
		revert := rtlib.RevertDivisionByZero(ctx)
		rv := b.AddLocal(t.ValType())
		b.LocalTee(rv)
		if wide {
			b.I64Eqz()
		} else {
			b.I32Eqz()
		}
		b.If(wasm.NoResult, func() {
			b.Call(revert)
		})
		b.LocalGet(rv)
		switch {
		case wide && op == movebc.OpDiv:
			b.I64DivU()
		case wide:
			b.I64RemU()
		case op == movebc.OpDiv:
			b.I32DivU()
		default:
			b.I32RemU()
		}
	}
	return nil
}

// cast translates the integer casts, trapping on narrowing overflow.
func (fs *funcState) cast(op movebc.Opcode) error {
	b, ctx := fs.b, fs.ctx()
	from, err := fs.pop(op.String())
	if err != nil {
		return err
	}
	if !from.Kind.IsInteger() {
		return errors.TypeMismatch(errors.PhaseTranslate, "integer", from.String())
	}

	var to itypes.Type
	switch op {
	case movebc.OpCastU8:
		to = itypes.U8()
	case movebc.OpCastU16:
		to = itypes.U16()
	case movebc.OpCastU32:
		to = itypes.U32()
	case movebc.OpCastU64:
		to = itypes.U64()
	case movebc.OpCastU128:
		to = itypes.U128()
	case movebc.OpCastU256:
		to = itypes.U256()
	}
	fs.push(to)

	fromSize, fromHeap := from.HeapSize()
	toSize, toHeap := to.HeapSize()

	switch {
	case fromHeap && toHeap:
		switch {
		case fromSize == toSize:
			// Same width: the pointer is the value.
		case fromSize < toSize:
			// Widen: fresh zeroed block, low bytes copied.
			src := b.AddLocal(wasm.I32)
			dst := b.AddLocal(wasm.I32)
			b.LocalSet(src)
			b.I32Const(int32(toSize)).Call(ctx.Allocator).LocalSet(dst)
			b.LocalGet(dst).I32Const(0).I32Const(int32(toSize)).MemoryFill()
			b.LocalGet(dst).LocalGet(src).I32Const(int32(fromSize)).MemoryCopy()
			b.LocalGet(dst)
		default:
			// Narrow: the dropped bytes must be zero.
			revert := rtlib.RevertOverflow(ctx)
			isZero := rtlib.IsZero(ctx)
			src := b.AddLocal(wasm.I32)
			dst := b.AddLocal(wasm.I32)
			b.LocalSet(src)
			b.LocalGet(src).I32Const(int32(toSize)).I32Add().
				I32Const(int32(fromSize - toSize)).Call(isZero).
				I32Eqz().If(wasm.NoResult, func() {
				b.Call(revert)
			})
			b.I32Const(int32(toSize)).Call(ctx.Allocator).LocalSet(dst)
			b.LocalGet(dst).LocalGet(src).I32Const(int32(toSize)).MemoryCopy()
			b.LocalGet(dst)
		}

	case fromHeap:
		// Heap to scalar.
		if to.Kind == itypes.KindU64 {
			b.I32Const(int32(fromSize)).Call(rtlib.DowncastHeapToU64(ctx))
		} else {
			b.I32Const(int32(fromSize)).Call(rtlib.DowncastHeapToU32(ctx))
			if to.Kind != itypes.KindU32 {
				b.I32Const(int32(maxOf(to.Kind))).Call(rtlib.CheckOverflowU8U16(ctx))
			}
		}

	case toHeap:
		// Scalar to heap.
		if from.Kind != itypes.KindU64 {
			b.I64ExtendI32U()
		}
		b.Call(rtlib.UpcastToHeap(ctx, toSize))

	default:
		// Scalar to scalar.
		fromWide := from.Kind == itypes.KindU64
		toWide := to.Kind == itypes.KindU64
		switch {
		case fromWide && toWide:
		case fromWide:
			revert := rtlib.RevertOverflow(ctx)
			v := b.AddLocal(wasm.I64)
			b.LocalTee(v)
			b.I64Const(maxOf(to.Kind)).I64GtU().If(wasm.NoResult, func() {
				b.Call(revert)
			})
			b.LocalGet(v).I32WrapI64()
		case toWide:
			b.I64ExtendI32U()
		default:
			if rank(to.Kind) < rank(from.Kind) {
				b.I32Const(int32(maxOf(to.Kind))).Call(rtlib.CheckOverflowU8U16(ctx))
			}
		}
	}
	return nil
}

func rank(k itypes.Kind) int {
	switch k {
	case itypes.KindU8:
		return 0
	case itypes.KindU16:
		return 1
	case itypes.KindU32:
		return 2
	case itypes.KindU64:
		return 3
	default:
		return 4
	}
}

// equality translates Eq/Neq over stack scalars and heap scalars; deep
// equality of aggregates is not generated.
func (fs *funcState) equality(op movebc.Opcode) error {
	b, ctx := fs.b, fs.ctx()
	rhs, err := fs.pop(op.String())
	if err != nil {
		return err
	}
	if err := fs.popExpect(op.String(), rhs); err != nil {
		return err
	}
	fs.push(itypes.Bool())

	switch {
	case rhs.IsStackType():
		if rhs.Kind == itypes.KindU64 {
			b.I64Eq()
		} else {
			b.I32Eq()
		}
	case rhs.Kind.IsHeapScalar():
		size, _ := rhs.HeapSize()
		b.I32Const(int32(size)).Call(rtlib.HeapTypeEquality(ctx))
	default:
		return errors.Unsupported(errors.PhaseTranslate,
			"equality over "+rhs.String())
	}
	if op == movebc.OpNeq {
		b.I32Eqz()
	}
	return nil
}

// packStruct builds a struct value from its fields: owner prefix for key
// structs, one middle-pointer slot per field, cells for stack fields, and
// the back-pointer behind an identity field's payload.
func (fs *funcState) packStruct(instr *movebc.Instruction) error {
	b, ctx := fs.b, fs.ctx()
	args, err := fs.instantiateArgs(instr.TypeArgs)
	if err != nil {
		return err
	}
	st := fs.structTypeFor(instr.StructIdx, args)
	def, ok := ctx.StructDef(st.Module, st.Index)
	if !ok {
		return errors.UnknownDefinition(errors.PhaseTranslate, "struct", int(instr.StructIdx))
	}

	fields := make([]itypes.Type, len(def.Fields))
	for i, f := range def.Fields {
		if fields[i], err = f.Instantiate(args); err != nil {
			return err
		}
	}

	// Fields arrive with the last one on top; spill them all.
	fieldLoc := make([]wasm.LocalID, len(fields))
	for i := len(fields) - 1; i >= 0; i-- {
		if err := fs.popExpect("pack", fields[i]); err != nil {
			return err
		}
		fieldLoc[i] = b.AddLocal(fields[i].ValType())
		b.LocalSet(fieldLoc[i])
	}

	if def.Abilities.Key {
		// Fresh objects start out owned by the caller. The prefix sits
		// immediately below the struct block.
		prefix := b.AddLocal(wasm.I32)
		b.I32Const(itypes.OwnerPrefixSize).Call(ctx.Allocator).LocalSet(prefix)
		b.LocalGet(prefix).I32Const(12).I32Add().Call(ctx.Host.MsgSender)
	}

	block := b.AddLocal(wasm.I32)
	b.I32Const(int32(4 * len(fields))).Call(ctx.Allocator).LocalSet(block)

	for i, field := range fields {
		if field.IsStackType() {
			cell := b.AddLocal(wasm.I32)
			b.I32Const(int32(field.WasmMemoryDataSize())).
				Call(ctx.Allocator).LocalSet(cell)
			b.LocalGet(cell).LocalGet(fieldLoc[i]).StoreKindOp(field.StoreOp(), 0)
			b.LocalGet(block).LocalGet(cell).I32Store(uint32(4 * i))
		} else {
			b.LocalGet(block).LocalGet(fieldLoc[i]).I32Store(uint32(4 * i))
		}
	}

	if def.IdentityField(ctx) != itypes.IdNone {
		// Re-home the id payload so the 4 bytes before it can carry the
		// back-pointer to this struct.
		uidBlock := fieldLoc[0]
		payload := b.AddLocal(wasm.I32)
		fresh := b.AddLocal(wasm.I32)
		b.LocalGet(uidBlock).I32Load(0).LocalSet(payload)
		b.I32Const(36).Call(ctx.Allocator).LocalSet(fresh)
		b.LocalGet(fresh).LocalGet(block).I32Store(0)
		b.LocalGet(fresh).I32Const(4).I32Add().LocalGet(payload).I32Const(32).MemoryCopy()
		b.LocalGet(uidBlock).LocalGet(fresh).I32Const(4).I32Add().I32Store(0)
	}

	b.LocalGet(block)
	fs.push(st)
	return nil
}

// unpackStruct is the reverse of packStruct: fields land on the stack in
// declaration order, stack fields loaded out of their cells.
func (fs *funcState) unpackStruct(instr *movebc.Instruction) error {
	b, ctx := fs.b, fs.ctx()
	args, err := fs.instantiateArgs(instr.TypeArgs)
	if err != nil {
		return err
	}
	st := fs.structTypeFor(instr.StructIdx, args)
	def, ok := ctx.StructDef(st.Module, st.Index)
	if !ok {
		return errors.UnknownDefinition(errors.PhaseTranslate, "struct", int(instr.StructIdx))
	}
	if err := fs.popExpect("unpack", st); err != nil {
		return err
	}

	ptr := b.AddLocal(wasm.I32)
	b.LocalSet(ptr)

	if def.IdentityField(ctx) != itypes.IdNone {
		// Structs decoded from storage carry no back-pointer slot; re-home
		// the id payload so delete and transfer can find the enclosing
		// struct behind the unpacked UID.
		uidBlock := b.AddLocal(wasm.I32)
		payload := b.AddLocal(wasm.I32)
		fresh := b.AddLocal(wasm.I32)
		b.LocalGet(ptr).I32Load(0).LocalSet(uidBlock)
		b.LocalGet(uidBlock).I32Load(0).LocalSet(payload)
		b.I32Const(36).Call(ctx.Allocator).LocalSet(fresh)
		b.LocalGet(fresh).LocalGet(ptr).I32Store(0)
		b.LocalGet(fresh).I32Const(4).I32Add().LocalGet(payload).I32Const(32).MemoryCopy()
		b.LocalGet(uidBlock).LocalGet(fresh).I32Const(4).I32Add().I32Store(0)
	}

	for i, f := range def.Fields {
		field, err := f.Instantiate(args)
		if err != nil {
			return err
		}
		b.LocalGet(ptr).I32Load(uint32(4 * i))
		if field.IsStackType() {
			b.LoadKindOp(field.LoadOp(), 0)
		}
		fs.push(field)
	}
	return nil
}

// borrowField resolves a field borrow to the address of the slot holding
// the field's value or pointer.
func (fs *funcState) borrowField(instr *movebc.Instruction) error {
	b, ctx := fs.b, fs.ctx()
	args, err := fs.instantiateArgs(instr.TypeArgs)
	if err != nil {
		return err
	}
	st := fs.structTypeFor(instr.StructIdx, args)
	def, ok := ctx.StructDef(st.Module, st.Index)
	if !ok {
		return errors.UnknownDefinition(errors.PhaseTranslate, "struct", int(instr.StructIdx))
	}
	if int(instr.FieldIdx) >= len(def.Fields) {
		return errors.FieldMissing(errors.PhaseTranslate, def.Identifier, int(instr.FieldIdx))
	}

	ref, err := fs.pop("borrow_field")
	if err != nil {
		return err
	}
	mutable := instr.Op == movebc.OpMutBorrowField || instr.Op == movebc.OpMutBorrowFieldGeneric
	if !ref.IsRef() || !ref.Inner.Equal(st) {
		return errors.TypeMismatch(errors.PhaseTranslate, "&"+st.String(), ref.String())
	}
	if mutable && ref.Kind != itypes.KindMutRef {
		return errors.TypeMismatch(errors.PhaseTranslate, "&mut "+st.String(), ref.String())
	}

	field, err := def.Fields[instr.FieldIdx].Instantiate(args)
	if err != nil {
		return err
	}

	// Dereference to the struct block, then to the field's slot.
	b.I32Load(0)
	if field.IsStackType() {
		b.I32Load(uint32(4 * instr.FieldIdx))
	} else {
		b.I32Const(int32(4 * instr.FieldIdx)).I32Add()
	}
	if mutable {
		fs.push(itypes.MutRefTo(field))
	} else {
		fs.push(itypes.ImmRefTo(field))
	}
	return nil
}

// vector translates the vector opcodes through the rtlib helpers.
func (fs *funcState) vector(instr *movebc.Instruction) error {
	b, ctx := fs.b, fs.ctx()
	if instr.ElemType == nil {
		return errors.InvalidBytecode("%s without an element type", instr.Op)
	}
	elem, err := instr.ElemType.Instantiate(fs.typeArgs)
	if err != nil {
		return err
	}
	vecType := itypes.VectorOf(elem)
	slotSize := elem.WasmMemoryDataSize()

	switch instr.Op {
	case movebc.OpVecPack:
		n := int(instr.Imm)
		elemLoc := make([]wasm.LocalID, n)
		for i := n - 1; i >= 0; i-- {
			if err := fs.popExpect("vec_pack", elem); err != nil {
				return err
			}
			elemLoc[i] = b.AddLocal(elem.ValType())
			b.LocalSet(elemLoc[i])
		}
		vec := b.AddLocal(wasm.I32)
		b.I32Const(int32(itypes.VectorHeaderSize + uint32(n)*slotSize)).
			Call(ctx.Allocator).LocalSet(vec)
		b.LocalGet(vec).I32Const(int32(n)).I32Store(0)
		b.LocalGet(vec).I32Const(int32(n)).I32Store(4)
		for i := 0; i < n; i++ {
			b.LocalGet(vec).LocalGet(elemLoc[i]).
				StoreKindOp(elem.StoreOp(), itypes.VectorHeaderSize+uint32(i)*slotSize)
		}
		b.LocalGet(vec)
		fs.push(vecType)
		return nil

	case movebc.OpVecLen:
		if err := fs.popVectorRef(instr, vecType, false); err != nil {
			return err
		}
		b.I32Load(0).I32Load(0).I64ExtendI32U()
		fs.push(itypes.U64())
		return nil

	case movebc.OpVecPushBack:
		if err := fs.popExpect("vec_push_back", elem); err != nil {
			return err
		}
		val := b.AddLocal(elem.ValType())
		b.LocalSet(val)
		if err := fs.popVectorRef(instr, vecType, true); err != nil {
			return err
		}
		ref := b.AddLocal(wasm.I32)
		b.LocalTee(ref)
		b.LocalGet(ref).I32Load(0)
		b.LocalGet(val)
		b.Call(rtlib.VecPush(ctx, elem))
		b.I32Store(0)
		return nil

	case movebc.OpVecPopBack:
		if err := fs.popVectorRef(instr, vecType, true); err != nil {
			return err
		}
		b.I32Load(0)
		b.Call(rtlib.VecPop(ctx, elem))
		fs.push(elem)
		return nil

	case movebc.OpVecImmBorrow, movebc.OpVecMutBorrow:
		if err := fs.popExpect(instr.Op.String(), itypes.U64()); err != nil {
			return err
		}
		idx := b.AddLocal(wasm.I32)
		fs.checkedIndex(idx)
		mutable := instr.Op == movebc.OpVecMutBorrow
		if err := fs.popVectorRef(instr, vecType, mutable); err != nil {
			return err
		}
		b.I32Load(0)
		b.LocalGet(idx)
		b.Call(rtlib.VecElemPtr(ctx, slotSize))
		if mutable {
			fs.push(itypes.MutRefTo(elem))
		} else {
			fs.push(itypes.ImmRefTo(elem))
		}
		return nil

	case movebc.OpVecUnpack:
		// The inverse of vec_pack: the vector must hold exactly the declared
		// arity, its elements land on the stack in index order.
		n := uint32(instr.Imm)
		if err := fs.popExpect("vec_unpack", vecType); err != nil {
			return err
		}
		revert := rtlib.RevertOutOfBounds(ctx)
		vec := b.AddLocal(wasm.I32)
		b.LocalSet(vec)
		b.LocalGet(vec).I32Load(0).I32Const(int32(n)).I32Ne().
			If(wasm.NoResult, func() {
				b.Call(revert)
			})
		for i := uint32(0); i < n; i++ {
			b.LocalGet(vec).
				LoadKindOp(elem.LoadOp(), itypes.VectorHeaderSize+i*slotSize)
			fs.push(elem)
		}
		return nil

	case movebc.OpVecSwap:
		if err := fs.popExpect("vec_swap", itypes.U64()); err != nil {
			return err
		}
		j := b.AddLocal(wasm.I32)
		fs.checkedIndex(j)
		if err := fs.popExpect("vec_swap", itypes.U64()); err != nil {
			return err
		}
		i := b.AddLocal(wasm.I32)
		fs.checkedIndex(i)
		if err := fs.popVectorRef(instr, vecType, true); err != nil {
			return err
		}
		b.I32Load(0)
		b.LocalGet(i)
		b.LocalGet(j)
		b.Call(rtlib.VecSwap(ctx, slotSize))
		return nil
	}
	return errors.Unsupported(errors.PhaseTranslate, instr.Op.String())
}

// popVectorRef checks the operand under translation is a (mutable when
// required) reference to the expected vector type; the ref stays on the
// wasm stack.
func (fs *funcState) popVectorRef(instr *movebc.Instruction, vecType itypes.Type, needMut bool) error {
	ref, err := fs.pop(instr.Op.String())
	if err != nil {
		return err
	}
	if !ref.IsRef() || !ref.Inner.Equal(vecType) {
		return errors.TypeMismatch(errors.PhaseTranslate, "&"+vecType.String(), ref.String())
	}
	if needMut && ref.Kind != itypes.KindMutRef {
		return errors.TypeMismatch(errors.PhaseTranslate, "&mut "+vecType.String(), ref.String())
	}
	return nil
}

// checkedIndex narrows a u64 index on the wasm stack into the given i32
// local, reverting OutOfBounds when it exceeds 32 bits.
func (fs *funcState) checkedIndex(dst wasm.LocalID) {
	b := fs.b
	revert := rtlib.RevertOutOfBounds(fs.ctx())
	wideIdx := b.AddLocal(wasm.I64)
	b.LocalTee(wideIdx)
	b.I64Const(32).I64ShrU().I64Eqz().I32Eqz().If(wasm.NoResult, func() {
		b.Call(revert)
	})
	b.LocalGet(wideIdx).I32WrapI64().LocalSet(dst)
}
