package wasm

// BlockType is the result arity of a block, loop or if.
type BlockType int8

const (
	NoResult  BlockType = 0
	ResultI32 BlockType = 1
	ResultI64 BlockType = 2
)

func (bt BlockType) encoding() byte {
	switch bt {
	case ResultI32:
		return byte(I32)
	case ResultI64:
		return byte(I64)
	default:
		return 0x40 // empty block type
	}
}

// Label names an enclosing block or loop for branch instructions. For a
// block the branch target is the end of the block; for a loop it is the loop
// header.
type Label struct {
	depth int
}

// Builder assembles one function body. It is created from the owning module,
// threaded explicitly through every emitter, and turned into a defined
// function by Finish. There is no shared mutable state between builders.
type Builder struct {
	mod     *Module
	name    string
	params  []ValType
	results []ValType
	locals  []ValType
	code    []byte
	depth   int
}

// NewBuilder starts a function with the given signature. The name is
// registered on Finish and doubles as the memoization key for runtime
// routines.
func (m *Module) NewBuilder(name string, params, results []ValType) *Builder {
	return &Builder{
		mod:     m,
		name:    name,
		params:  append([]ValType(nil), params...),
		results: append([]ValType(nil), results...),
	}
}

// AddLocal declares a local variable and returns its index. Parameters
// occupy the first indices.
func (b *Builder) AddLocal(t ValType) LocalID {
	b.locals = append(b.locals, t)
	return LocalID(len(b.params) + len(b.locals) - 1)
}

// Param returns the local id of the i-th parameter.
func (b *Builder) Param(i int) LocalID {
	if i < 0 || i >= len(b.params) {
		panic("wasm: parameter index out of range")
	}
	return LocalID(i)
}

// Finish appends the body to the module and returns the function id.
func (b *Builder) Finish() FuncID {
	body := FuncBody{
		Locals: groupLocals(b.locals),
		Code:   append(b.code, OpEnd),
	}
	return b.mod.defineFunc(b.name, FuncType{Params: b.params, Results: b.results}, body)
}

func groupLocals(locals []ValType) []LocalEntry {
	var entries []LocalEntry
	for _, t := range locals {
		if n := len(entries); n > 0 && entries[n-1].Type == t {
			entries[n-1].Count++
			continue
		}
		entries = append(entries, LocalEntry{Count: 1, Type: t})
	}
	return entries
}

func (b *Builder) op(op byte) *Builder {
	b.code = append(b.code, op)
	return b
}

func (b *Builder) u32(v uint32) *Builder {
	b.code = appendLEB128u(b.code, v)
	return b
}

// Constants.

func (b *Builder) I32Const(v int32) *Builder {
	b.op(OpI32Const)
	b.code = appendLEB128s(b.code, v)
	return b
}

func (b *Builder) I64Const(v int64) *Builder {
	b.op(OpI64Const)
	b.code = appendLEB128s64(b.code, v)
	return b
}

// Variable access.

func (b *Builder) LocalGet(id LocalID) *Builder  { return b.op(OpLocalGet).u32(uint32(id)) }
func (b *Builder) LocalSet(id LocalID) *Builder  { return b.op(OpLocalSet).u32(uint32(id)) }
func (b *Builder) LocalTee(id LocalID) *Builder  { return b.op(OpLocalTee).u32(uint32(id)) }
func (b *Builder) GlobalGet(id GlobalID) *Builder { return b.op(OpGlobalGet).u32(uint32(id)) }
func (b *Builder) GlobalSet(id GlobalID) *Builder { return b.op(OpGlobalSet).u32(uint32(id)) }

// Parametric.

func (b *Builder) Drop() *Builder   { return b.op(OpDrop) }
func (b *Builder) Select() *Builder { return b.op(OpSelect) }

// Calls and traps.

func (b *Builder) Call(id FuncID) *Builder { return b.op(OpCall).u32(uint32(id)) }
func (b *Builder) Return() *Builder        { return b.op(OpReturn) }
func (b *Builder) Unreachable() *Builder   { return b.op(OpUnreachable) }
func (b *Builder) Nop() *Builder           { return b.op(OpNop) }

// Memory access. All accesses are emitted with byte alignment, which is
// always valid and lets heap values sit at arbitrary offsets.

func (b *Builder) memArg(offset uint32) *Builder {
	b.code = appendLEB128u(b.code, 0) // align 2^0
	b.code = appendLEB128u(b.code, offset)
	return b
}

func (b *Builder) I32Load(offset uint32) *Builder    { return b.op(OpI32Load).memArg(offset) }
func (b *Builder) I64Load(offset uint32) *Builder    { return b.op(OpI64Load).memArg(offset) }
func (b *Builder) I32Load8U(offset uint32) *Builder  { return b.op(OpI32Load8U).memArg(offset) }
func (b *Builder) I32Load16U(offset uint32) *Builder { return b.op(OpI32Load16U).memArg(offset) }
func (b *Builder) I64Load32U(offset uint32) *Builder { return b.op(OpI64Load32U).memArg(offset) }
func (b *Builder) I32Store(offset uint32) *Builder   { return b.op(OpI32Store).memArg(offset) }
func (b *Builder) I64Store(offset uint32) *Builder   { return b.op(OpI64Store).memArg(offset) }
func (b *Builder) I32Store8(offset uint32) *Builder  { return b.op(OpI32Store8).memArg(offset) }
func (b *Builder) I32Store16(offset uint32) *Builder { return b.op(OpI32Store16).memArg(offset) }
func (b *Builder) I64Store32(offset uint32) *Builder { return b.op(OpI64Store32).memArg(offset) }

func (b *Builder) MemorySize() *Builder { return b.op(OpMemorySize).u32(0) }
func (b *Builder) MemoryGrow() *Builder { return b.op(OpMemoryGrow).u32(0) }

// MemoryCopy copies within memory 0; operands are dest, src, len.
func (b *Builder) MemoryCopy() *Builder {
	return b.op(OpPrefixMisc).u32(MiscMemoryCopy).u32(0).u32(0)
}

// MemoryFill fills within memory 0; operands are dest, value, len.
func (b *Builder) MemoryFill() *Builder {
	return b.op(OpPrefixMisc).u32(MiscMemoryFill).u32(0)
}

// i32 arithmetic and comparison.

func (b *Builder) I32Add() *Builder  { return b.op(OpI32Add) }
func (b *Builder) I32Sub() *Builder  { return b.op(OpI32Sub) }
func (b *Builder) I32Mul() *Builder  { return b.op(OpI32Mul) }
func (b *Builder) I32DivU() *Builder { return b.op(OpI32DivU) }
func (b *Builder) I32RemU() *Builder { return b.op(OpI32RemU) }
func (b *Builder) I32And() *Builder  { return b.op(OpI32And) }
func (b *Builder) I32Or() *Builder   { return b.op(OpI32Or) }
func (b *Builder) I32Xor() *Builder  { return b.op(OpI32Xor) }
func (b *Builder) I32Shl() *Builder  { return b.op(OpI32Shl) }
func (b *Builder) I32ShrU() *Builder { return b.op(OpI32ShrU) }
func (b *Builder) I32Rotl() *Builder { return b.op(OpI32Rotl) }
func (b *Builder) I32Eqz() *Builder  { return b.op(OpI32Eqz) }
func (b *Builder) I32Eq() *Builder   { return b.op(OpI32Eq) }
func (b *Builder) I32Ne() *Builder   { return b.op(OpI32Ne) }
func (b *Builder) I32LtS() *Builder  { return b.op(OpI32LtS) }
func (b *Builder) I32LtU() *Builder  { return b.op(OpI32LtU) }
func (b *Builder) I32GtU() *Builder  { return b.op(OpI32GtU) }
func (b *Builder) I32LeU() *Builder  { return b.op(OpI32LeU) }
func (b *Builder) I32GeU() *Builder  { return b.op(OpI32GeU) }

// i64 arithmetic and comparison.

func (b *Builder) I64Add() *Builder  { return b.op(OpI64Add) }
func (b *Builder) I64Sub() *Builder  { return b.op(OpI64Sub) }
func (b *Builder) I64Mul() *Builder  { return b.op(OpI64Mul) }
func (b *Builder) I64DivU() *Builder { return b.op(OpI64DivU) }
func (b *Builder) I64RemU() *Builder { return b.op(OpI64RemU) }
func (b *Builder) I64And() *Builder  { return b.op(OpI64And) }
func (b *Builder) I64Or() *Builder   { return b.op(OpI64Or) }
func (b *Builder) I64Xor() *Builder  { return b.op(OpI64Xor) }
func (b *Builder) I64Shl() *Builder  { return b.op(OpI64Shl) }
func (b *Builder) I64ShrU() *Builder { return b.op(OpI64ShrU) }
func (b *Builder) I64Rotl() *Builder { return b.op(OpI64Rotl) }
func (b *Builder) I64Eqz() *Builder  { return b.op(OpI64Eqz) }
func (b *Builder) I64Eq() *Builder   { return b.op(OpI64Eq) }
func (b *Builder) I64Ne() *Builder   { return b.op(OpI64Ne) }
func (b *Builder) I64LtU() *Builder  { return b.op(OpI64LtU) }
func (b *Builder) I64GtU() *Builder  { return b.op(OpI64GtU) }
func (b *Builder) I64LeU() *Builder  { return b.op(OpI64LeU) }
func (b *Builder) I64GeU() *Builder  { return b.op(OpI64GeU) }

// Conversions.

func (b *Builder) I32WrapI64() *Builder    { return b.op(OpI32WrapI64) }
func (b *Builder) I64ExtendI32U() *Builder { return b.op(OpI64ExtendI32U) }

// Structured control flow. The callback receives the label of the entered
// construct; Br/BrIf resolve labels to relative depths at emission time.

func (b *Builder) Block(bt BlockType, body func(end Label)) *Builder {
	b.op(OpBlock)
	b.code = append(b.code, bt.encoding())
	b.depth++
	body(Label{depth: b.depth})
	b.depth--
	return b.op(OpEnd)
}

func (b *Builder) Loop(bt BlockType, body func(head Label)) *Builder {
	b.op(OpLoop)
	b.code = append(b.code, bt.encoding())
	b.depth++
	body(Label{depth: b.depth})
	b.depth--
	return b.op(OpEnd)
}

// If emits a then-only conditional.
func (b *Builder) If(bt BlockType, then func()) *Builder {
	b.op(OpIf)
	b.code = append(b.code, bt.encoding())
	b.depth++
	then()
	b.depth--
	return b.op(OpEnd)
}

// IfElse emits a two-armed conditional.
func (b *Builder) IfElse(bt BlockType, then, otherwise func()) *Builder {
	b.op(OpIf)
	b.code = append(b.code, bt.encoding())
	b.depth++
	then()
	b.op(OpElse)
	otherwise()
	b.depth--
	return b.op(OpEnd)
}

// Br branches unconditionally to the given label.
func (b *Builder) Br(l Label) *Builder {
	return b.op(OpBr).u32(b.relativeDepth(l))
}

// BrIf branches to the label when the i32 on top of the stack is non-zero.
func (b *Builder) BrIf(l Label) *Builder {
	return b.op(OpBrIf).u32(b.relativeDepth(l))
}

func (b *Builder) relativeDepth(l Label) uint32 {
	if l.depth <= 0 || l.depth > b.depth {
		panic("wasm: branch to a label that is not in scope")
	}
	return uint32(b.depth - l.depth)
}

// RawByte appends one instruction byte verbatim. The translator uses it for
// load/store opcodes selected from a type's load kind.
func (b *Builder) RawByte(op byte) *Builder { return b.op(op) }

// LoadKindOp emits a load of the given opcode with an immediate offset.
func (b *Builder) LoadKindOp(op byte, offset uint32) *Builder {
	return b.op(op).memArg(offset)
}

// StoreKindOp emits a store of the given opcode with an immediate offset.
func (b *Builder) StoreKindOp(op byte, offset uint32) *Builder {
	return b.op(op).memArg(offset)
}
