package translate

import (
	"encoding/binary"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/movebc"
	"github.com/rather-labs/move-wasm/wasm"
)

// Framework holds the module-table indices of the reserved framework
// modules. Input types reference them by these indices.
type Framework struct {
	Object    uint16
	TxContext uint16
	Transfer  uint16
	DynField  uint16
}

// Reserved framework definition indices within their modules.
const (
	UIDIndex       = 0
	NamedIdIndex   = 1
	TxContextIndex = 0
)

// Module-table indices under the standard registration order: framework
// modules first, then the user module. Input types reference definitions by
// these indices.
const (
	ObjectModuleIndex    uint16 = 0
	TxContextModuleIndex uint16 = 1
	TransferModuleIndex  uint16 = 2
	DynFieldModuleIndex  uint16 = 3
	UserModuleIndex      uint16 = 4
)

// RegisterFramework installs the framework definitions the translator
// treats specially. Call it once per compilation, before registering the
// user module, so the module indices above stay stable.
func RegisterFramework(ctx *codegen.Context) Framework {
	fw := Framework{
		Object:    ctx.RegisterModule(itypes.FrameworkObjectModule),
		TxContext: ctx.RegisterModule("tx_context"),
		Transfer:  ctx.RegisterModule(itypes.FrameworkTransferModule),
		DynField:  ctx.RegisterModule(itypes.FrameworkDynamicFieldModule),
	}
	ctx.RegisterStruct(&itypes.IStruct{
		Module:     fw.Object,
		Index:      UIDIndex,
		Identifier: itypes.UIDStructName,
		Fields:     []itypes.Type{itypes.Address()},
		FieldNames: []string{"id"},
		Abilities:  itypes.Abilities{Store: true},
	})
	ctx.RegisterStruct(&itypes.IStruct{
		Module:     fw.Object,
		Index:      NamedIdIndex,
		Identifier: itypes.NamedIdStructName,
		Fields:     []itypes.Type{itypes.Address(), itypes.VectorOf(itypes.U8())},
		FieldNames: []string{"id", "name"},
		Abilities:  itypes.Abilities{Store: true},
	})
	ctx.RegisterStruct(&itypes.IStruct{
		Module:     fw.TxContext,
		Index:      TxContextIndex,
		Identifier: "TxContext",
		Abilities:  itypes.Abilities{Drop: true},
	})
	return fw
}

// Translator drives the translation of one input module.
type Translator struct {
	ctx        *codegen.Context
	mod        *movebc.Module
	fw         Framework
	userModule uint16
	inProgress map[string]bool
}

// New registers the input module's definitions and returns a translator.
func New(ctx *codegen.Context, fw Framework, mod *movebc.Module) *Translator {
	userIdx := ctx.RegisterModule(mod.ID.Name)
	for i, sd := range mod.Structs {
		fields := make([]itypes.Type, len(sd.Fields))
		names := make([]string, len(sd.Fields))
		for j, f := range sd.Fields {
			fields[j] = f.Type
			names[j] = f.Name
		}
		ctx.RegisterStruct(&itypes.IStruct{
			Module:     userIdx,
			Index:      uint16(i),
			Identifier: sd.Name,
			Fields:     fields,
			FieldNames: names,
			Abilities:  sd.Abilities,
		})
	}
	for i, ed := range mod.Enums {
		variants := make([]itypes.Variant, len(ed.Variants))
		for j, v := range ed.Variants {
			fields := make([]itypes.Type, len(v.Fields))
			for k, f := range v.Fields {
				fields[k] = f.Type
			}
			variants[j] = itypes.Variant{Name: v.Name, Fields: fields}
		}
		ctx.RegisterEnum(&itypes.IEnum{
			Module:     userIdx,
			Index:      uint16(i),
			Identifier: ed.Name,
			Variants:   variants,
			Abilities:  ed.Abilities,
		})
	}
	return &Translator{
		ctx:        ctx,
		mod:        mod,
		fw:         fw,
		userModule: userIdx,
		inProgress: make(map[string]bool),
	}
}

// Translate emits every entry function and the dispatching entrypoint.
func (t *Translator) Translate() error {
	hasEntry := false
	for idx := range t.mod.Functions {
		fn := &t.mod.Functions[idx]
		if !fn.IsEntry {
			continue
		}
		if fn.TypeParameters > 0 {
			return errors.Unsupported(errors.PhaseTranslate,
				"generic entry function "+fn.Name)
		}
		if _, err := t.translateFunction(idx, nil); err != nil {
			return err
		}
		hasEntry = true
	}
	if !hasEntry {
		return errors.InvalidBytecode("module %s declares no entry function", t.mod.ID.Name)
	}
	return t.buildEntrypoint()
}

// translateFunction monomorphizes and emits one function. The memoization
// key is the function name plus the type-argument digest.
func (t *Translator) translateFunction(idx int, typeArgs []itypes.Type) (wasm.FuncID, error) {
	fn := &t.mod.Functions[idx]
	// Qualified names keep user functions clear of the runtime routines'
	// memoization namespace.
	name := t.mod.ID.Name + "::" + fn.Name
	if len(typeArgs) > 0 {
		name += "_" + itypes.TypesDigest(typeArgs)
	}
	if id, ok := t.ctx.Module.FuncByName(name); ok {
		return id, nil
	}
	if t.inProgress[name] {
		return 0, errors.Unsupported(errors.PhaseTranslate, "recursive call to "+fn.Name)
	}
	t.inProgress[name] = true
	defer delete(t.inProgress, name)

	t.ctx.Logger().Debug("translating function",
		zap.String("name", name), zap.Int("type_args", len(typeArgs)))

	localTypes := make([]itypes.Type, 0, len(fn.Params)+len(fn.Locals))
	for _, p := range append(append([]itypes.Type{}, fn.Params...), fn.Locals...) {
		inst, err := p.Instantiate(typeArgs)
		if err != nil {
			return 0, err
		}
		localTypes = append(localTypes, inst)
	}
	returns := make([]itypes.Type, len(fn.Returns))
	for i, r := range fn.Returns {
		inst, err := r.Instantiate(typeArgs)
		if err != nil {
			return 0, err
		}
		returns[i] = inst
	}

	params := make([]wasm.ValType, len(fn.Params))
	for i := range fn.Params {
		params[i] = localTypes[i].ValType()
	}
	results := make([]wasm.ValType, len(returns))
	for i, r := range returns {
		results[i] = r.ValType()
	}

	b := t.ctx.Module.NewBuilder(name, params, results)
	fs := &funcState{
		t:          t,
		fn:         fn,
		typeArgs:   typeArgs,
		returns:    returns,
		b:          b,
		localTypes: localTypes,
	}
	if err := fs.prologue(); err != nil {
		return 0, err
	}
	if err := fs.translateCode(); err != nil {
		return 0, err
	}
	return b.Finish(), nil
}

// funcState carries the per-function translation state: the abstract typed
// operand stack mirroring the wasm value stack, the local mapping, and the
// dispatcher plumbing for branchy code.
type funcState struct {
	t          *Translator
	fn         *movebc.FunctionDef
	typeArgs   []itypes.Type
	returns    []itypes.Type
	b          *wasm.Builder
	localTypes []itypes.Type

	wasmLocal []wasm.LocalID
	boxed     []bool

	stack []itypes.Type

	// Dispatcher state, used only when the body branches.
	pc       wasm.LocalID
	dispatch wasm.Label
	blockOf  map[int]int32
}

func (fs *funcState) ctx() *codegen.Context { return fs.t.ctx }

// prologue maps Move locals onto wasm locals and boxes every borrowed local
// in a bump-allocated cell so borrows have an address to hand out.
func (fs *funcState) prologue() error {
	n := len(fs.localTypes)
	fs.wasmLocal = make([]wasm.LocalID, n)
	fs.boxed = make([]bool, n)

	for _, instr := range fs.fn.Code {
		switch instr.Op {
		case movebc.OpImmBorrowLoc, movebc.OpMutBorrowLoc:
			if int(instr.Imm) >= n {
				return errors.InvalidBytecode("borrow of unknown local %d", instr.Imm)
			}
			fs.boxed[instr.Imm] = true
		}
	}

	b := fs.b
	for i := 0; i < n; i++ {
		lt := fs.localTypes[i]
		isParam := i < len(fs.fn.Params)
		switch {
		case fs.boxed[i]:
			cell := b.AddLocal(wasm.I32)
			b.I32Const(int32(lt.WasmMemoryDataSize())).
				Call(fs.ctx().Allocator).LocalSet(cell)
			if isParam {
				b.LocalGet(cell).LocalGet(wasm.LocalID(i)).
					StoreKindOp(lt.StoreOp(), 0)
			}
			fs.wasmLocal[i] = cell
		case isParam:
			fs.wasmLocal[i] = wasm.LocalID(i)
		default:
			fs.wasmLocal[i] = b.AddLocal(lt.ValType())
		}
	}
	return nil
}

func (fs *funcState) push(t itypes.Type) {
	fs.stack = append(fs.stack, t)
}

func (fs *funcState) pop(op string) (itypes.Type, error) {
	if len(fs.stack) == 0 {
		return itypes.Type{}, errors.StackUnderflow(errors.PhaseTranslate, op)
	}
	t := fs.stack[len(fs.stack)-1]
	fs.stack = fs.stack[:len(fs.stack)-1]
	return t, nil
}

func (fs *funcState) popExpect(op string, want itypes.Type) error {
	got, err := fs.pop(op)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return errors.TypeMismatch(errors.PhaseTranslate, want.String(), got.String())
	}
	return nil
}

// instantiateArgs resolves an instruction's type arguments against the
// enclosing function's instantiation.
func (fs *funcState) instantiateArgs(args []itypes.Type) ([]itypes.Type, error) {
	out := make([]itypes.Type, len(args))
	for i, a := range args {
		inst, err := a.Instantiate(fs.typeArgs)
		if err != nil {
			return nil, err
		}
		out[i] = inst
	}
	return out, nil
}

// structTypeFor builds the itypes reference for a pack/unpack target.
func (fs *funcState) structTypeFor(idx uint16, args []itypes.Type) itypes.Type {
	if len(args) > 0 {
		return itypes.GenericStructInstance(fs.t.userModule, idx, args)
	}
	return itypes.StructType(fs.t.userModule, idx)
}

// endsBlock reports whether an instruction never falls through to the next
// one. Conditional branches do fall through on the untaken path, so the
// block behind them still needs the fallthrough epilogue.
func endsBlock(op movebc.Opcode) bool {
	switch op {
	case movebc.OpRet, movebc.OpAbort, movebc.OpBranch:
		return true
	}
	return false
}

// translateCode emits the function body. Straight-line bodies translate
// directly; bodies with branches run through a dispatcher loop keyed by a
// basic-block counter, which supports arbitrary reducible layouts with the
// constraint that the operand stack is empty across block edges.
func (fs *funcState) translateCode() error {
	branchy := false
	for _, instr := range fs.fn.Code {
		switch instr.Op {
		case movebc.OpBranch, movebc.OpBrTrue, movebc.OpBrFalse:
			branchy = true
		}
	}
	if len(fs.fn.Code) == 0 {
		return errors.InvalidBytecode("function %s has an empty body", fs.fn.Name)
	}

	if !branchy {
		for i := range fs.fn.Code {
			if err := fs.translateInstr(&fs.fn.Code[i]); err != nil {
				return err
			}
		}
		if last := fs.fn.Code[len(fs.fn.Code)-1].Op; last != movebc.OpRet && last != movebc.OpAbort {
			return errors.InvalidBytecode("function %s falls off the end", fs.fn.Name)
		}
		return nil
	}

	leaders := fs.blockLeaders()
	fs.blockOf = make(map[int]int32, len(leaders))
	for k, start := range leaders {
		fs.blockOf[start] = int32(k)
	}

	b := fs.b
	fs.pc = b.AddLocal(wasm.I32)
	b.I32Const(0).LocalSet(fs.pc)

	var err error
	b.Loop(wasm.NoResult, func(dispatch wasm.Label) {
		fs.dispatch = dispatch
		for k, start := range leaders {
			end := len(fs.fn.Code)
			if k+1 < len(leaders) {
				end = leaders[k+1]
			}
			b.Block(wasm.NoResult, func(skip wasm.Label) {
				b.LocalGet(fs.pc).I32Const(int32(k)).I32Ne().BrIf(skip)
				for i := start; i < end && err == nil; i++ {
					err = fs.translateInstr(&fs.fn.Code[i])
				}
				if err != nil {
					return
				}
				if !endsBlock(fs.fn.Code[end-1].Op) {
					// Fall through to the next leader.
					err = fs.gotoBlock(end)
				}
			})
			if err != nil {
				return
			}
		}
		b.Unreachable()
	})
	// Control never leaves the dispatcher normally; returns happen inside.
	b.Unreachable()
	return err
}

// blockLeaders returns the sorted instruction offsets that begin basic
// blocks: the entry, every branch target, and every instruction following a
// branch.
func (fs *funcState) blockLeaders() []int {
	set := map[int]bool{0: true}
	for i, instr := range fs.fn.Code {
		switch instr.Op {
		case movebc.OpBranch, movebc.OpBrTrue, movebc.OpBrFalse:
			set[int(instr.Imm)] = true
			if i+1 < len(fs.fn.Code) {
				set[i+1] = true
			}
		}
	}
	leaders := make([]int, 0, len(set))
	for off := range set {
		leaders = append(leaders, off)
	}
	sort.Ints(leaders)
	return leaders
}

// gotoBlock sets the dispatcher counter to the block starting at the given
// instruction offset and restarts the dispatch loop. The operand stack must
// be empty at every block edge.
func (fs *funcState) gotoBlock(target int) error {
	if len(fs.stack) != 0 {
		return errors.Unsupported(errors.PhaseTranslate,
			"operand stack not empty across a branch")
	}
	k, ok := fs.blockOf[target]
	if !ok {
		return errors.InvalidBytecode("branch to non-leader offset %d", target)
	}
	fs.b.I32Const(k).LocalSet(fs.pc)
	fs.b.Br(fs.dispatch)
	return nil
}

func (fs *funcState) translateInstr(instr *movebc.Instruction) error {
	b := fs.b
	switch instr.Op {
	case movebc.OpNop:
		return nil

	case movebc.OpLdTrue:
		b.I32Const(1)
		fs.push(itypes.Bool())
		return nil

	case movebc.OpLdFalse:
		b.I32Const(0)
		fs.push(itypes.Bool())
		return nil

	case movebc.OpLdU8:
		b.I32Const(int32(instr.Imm))
		fs.push(itypes.U8())
		return nil

	case movebc.OpLdU16:
		b.I32Const(int32(instr.Imm))
		fs.push(itypes.U16())
		return nil

	case movebc.OpLdU32:
		b.I32Const(int32(uint32(instr.Imm)))
		fs.push(itypes.U32())
		return nil

	case movebc.OpLdU64:
		b.I64Const(int64(instr.Imm))
		fs.push(itypes.U64())
		return nil

	case movebc.OpLdU128:
		return fs.ldHeapConst(instr.Big, itypes.U128())

	case movebc.OpLdU256:
		return fs.ldHeapConst(instr.Big, itypes.U256())

	case movebc.OpLdConst:
		return fs.ldConst(instr)

	case movebc.OpCopyLoc, movebc.OpMoveLoc:
		i := int(instr.Imm)
		if i >= len(fs.localTypes) {
			return errors.InvalidBytecode("access to unknown local %d", i)
		}
		lt := fs.localTypes[i]
		if fs.boxed[i] {
			b.LocalGet(fs.wasmLocal[i]).LoadKindOp(lt.LoadOp(), 0)
		} else {
			b.LocalGet(fs.wasmLocal[i])
		}
		fs.push(lt)
		return nil

	case movebc.OpStLoc:
		i := int(instr.Imm)
		if i >= len(fs.localTypes) {
			return errors.InvalidBytecode("store to unknown local %d", i)
		}
		lt := fs.localTypes[i]
		if err := fs.popExpect("st_loc", lt); err != nil {
			return err
		}
		if fs.boxed[i] {
			v := b.AddLocal(lt.ValType())
			b.LocalSet(v)
			b.LocalGet(fs.wasmLocal[i]).LocalGet(v).StoreKindOp(lt.StoreOp(), 0)
		} else {
			b.LocalSet(fs.wasmLocal[i])
		}
		return nil

	case movebc.OpPop:
		if _, err := fs.pop("pop"); err != nil {
			return err
		}
		b.Drop()
		return nil

	case movebc.OpAdd, movebc.OpSub, movebc.OpMul, movebc.OpDiv, movebc.OpMod:
		return fs.arith(instr.Op)

	case movebc.OpCastU8, movebc.OpCastU16, movebc.OpCastU32,
		movebc.OpCastU64, movebc.OpCastU128, movebc.OpCastU256:
		return fs.cast(instr.Op)

	case movebc.OpEq, movebc.OpNeq:
		return fs.equality(instr.Op)

	case movebc.OpPack, movebc.OpPackGeneric:
		return fs.packStruct(instr)

	case movebc.OpUnpack, movebc.OpUnpackGeneric:
		return fs.unpackStruct(instr)

	case movebc.OpImmBorrowLoc, movebc.OpMutBorrowLoc:
		i := int(instr.Imm)
		lt := fs.localTypes[i]
		if lt.IsRef() {
			return errors.RefInRef(errors.PhaseTranslate, lt.String())
		}
		b.LocalGet(fs.wasmLocal[i])
		if instr.Op == movebc.OpMutBorrowLoc {
			fs.push(itypes.MutRefTo(lt))
		} else {
			fs.push(itypes.ImmRefTo(lt))
		}
		return nil

	case movebc.OpImmBorrowField, movebc.OpMutBorrowField,
		movebc.OpImmBorrowFieldGeneric, movebc.OpMutBorrowFieldGeneric:
		return fs.borrowField(instr)

	case movebc.OpReadRef:
		ref, err := fs.pop("read_ref")
		if err != nil {
			return err
		}
		if !ref.IsRef() {
			return errors.TypeMismatch(errors.PhaseTranslate, "&_", ref.String())
		}
		inner := *ref.Inner
		b.LoadKindOp(inner.LoadOp(), 0)
		fs.push(inner)
		return nil

	case movebc.OpWriteRef:
		ref, err := fs.pop("write_ref")
		if err != nil {
			return err
		}
		if ref.Kind != itypes.KindMutRef {
			return errors.TypeMismatch(errors.PhaseTranslate, "&mut _", ref.String())
		}
		inner := *ref.Inner
		r := b.AddLocal(wasm.I32)
		b.LocalSet(r)
		if err := fs.popExpect("write_ref", inner); err != nil {
			return err
		}
		v := b.AddLocal(inner.ValType())
		b.LocalSet(v)
		b.LocalGet(r).LocalGet(v).StoreKindOp(inner.StoreOp(), 0)
		return nil

	case movebc.OpFreezeRef:
		ref, err := fs.pop("freeze_ref")
		if err != nil {
			return err
		}
		if ref.Kind != itypes.KindMutRef {
			return errors.TypeMismatch(errors.PhaseTranslate, "&mut _", ref.String())
		}
		fs.push(itypes.ImmRefTo(*ref.Inner))
		return nil

	case movebc.OpCall, movebc.OpCallGeneric:
		return fs.call(instr)

	case movebc.OpRet:
		for i := len(fs.returns) - 1; i >= 0; i-- {
			if err := fs.popExpect("ret", fs.returns[i]); err != nil {
				return err
			}
		}
		if len(fs.stack) != 0 {
			return errors.InvalidBytecode("return with %d extra stack values", len(fs.stack))
		}
		b.Return()
		return nil

	case movebc.OpAbort:
		if err := fs.popExpect("abort", itypes.U64()); err != nil {
			return err
		}
		b.Call(RevertAbortCode(fs.ctx()))
		b.Unreachable()
		fs.stack = fs.stack[:0]
		return nil

	case movebc.OpBranch:
		return fs.gotoBlock(int(instr.Imm))

	case movebc.OpBrTrue, movebc.OpBrFalse:
		if err := fs.popExpect("br", itypes.Bool()); err != nil {
			return err
		}
		if len(fs.stack) != 0 {
			return errors.Unsupported(errors.PhaseTranslate,
				"operand stack not empty across a branch")
		}
		if instr.Op == movebc.OpBrFalse {
			b.I32Eqz()
		}
		var err error
		b.If(wasm.NoResult, func() {
			err = fs.gotoBlock(int(instr.Imm))
		})
		return err

	case movebc.OpVecPack, movebc.OpVecLen, movebc.OpVecPushBack,
		movebc.OpVecPopBack, movebc.OpVecImmBorrow, movebc.OpVecMutBorrow,
		movebc.OpVecSwap, movebc.OpVecUnpack:
		return fs.vector(instr)

	default:
		return errors.Unsupported(errors.PhaseTranslate, instr.Op.String())
	}
}

// ldHeapConst materializes a u128/u256 constant in fresh heap memory.
func (fs *funcState) ldHeapConst(v *big.Int, t itypes.Type) error {
	if v == nil {
		return errors.InvalidBytecode("%s constant without a value", t)
	}
	if err := fs.emitHeapIntValue(v, t); err != nil {
		return err
	}
	fs.push(t)
	return nil
}

// emitHeapIntValue allocates a heap integer holding v and leaves its
// pointer on the wasm stack. The abstract stack is untouched.
func (fs *funcState) emitHeapIntValue(v *big.Int, t itypes.Type) error {
	b := fs.b
	size, _ := t.HeapSize()
	if v.Sign() < 0 || v.BitLen() > int(size*8) {
		return errors.InvalidBytecode("%s constant out of range", t)
	}
	ptr := b.AddLocal(wasm.I32)
	b.I32Const(int32(size)).Call(fs.ctx().Allocator).LocalSet(ptr)

	be := make([]byte, size)
	v.FillBytes(be)

	// Little-endian 64-bit limbs; allocator memory starts zeroed, so only
	// non-zero limbs need a store.
	limbs := size / 8
	for limb := uint32(0); limb < limbs; limb++ {
		chunk := binary.BigEndian.Uint64(be[size-8*(limb+1) : size-8*limb])
		if chunk != 0 {
			b.LocalGet(ptr).I64Const(int64(chunk)).I64Store(limb * 8)
		}
	}
	b.LocalGet(ptr)
	return nil
}
