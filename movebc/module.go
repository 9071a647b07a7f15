package movebc

import (
	"math/big"

	"github.com/rather-labs/move-wasm/itypes"
)

// Address is a 32-byte account or module address.
type Address [32]byte

// ModuleID identifies a module by publisher address and name.
type ModuleID struct {
	Address Address
	Name    string
}

// Module is one compiled Move module.
type Module struct {
	ID        ModuleID
	Structs   []StructDef
	Enums     []EnumDef
	Functions []FunctionDef
	Constants []Constant

	// Handles lists every function a Call instruction can target: local
	// definitions and framework natives alike.
	Handles []FunctionHandle
}

// Constant is one constant-pool entry: a declared type and the BCS
// serialization of the value, exactly as the front-end emits it. Move
// restricts constants to primitives and vectors of them; ld_const
// materializes the value from Data at its use site.
type Constant struct {
	Type itypes.Type
	Data []byte
}

// StructDef declares a struct; the registered itypes.IStruct mirrors it.
type StructDef struct {
	Name      string
	Abilities itypes.Abilities
	Fields    []FieldDef
}

// FieldDef is one struct field.
type FieldDef struct {
	Name string
	Type itypes.Type
}

// EnumDef declares an enum.
type EnumDef struct {
	Name      string
	Abilities itypes.Abilities
	Variants  []VariantDef
}

// VariantDef is one enum variant.
type VariantDef struct {
	Name   string
	Fields []FieldDef
}

// Visibility of a function.
type Visibility uint8

const (
	Private Visibility = iota
	Public
)

// FunctionDef is one function body with its signature.
type FunctionDef struct {
	Name       string
	Visibility Visibility

	// IsEntry marks externally callable functions: they get a selector and
	// an ABI wrapper.
	IsEntry bool

	// TypeParameters is the arity of the function's generic signature.
	TypeParameters int

	Params  []itypes.Type
	Returns []itypes.Type

	// Locals lists the non-parameter locals; local index i ≥ len(Params)
	// maps to Locals[i-len(Params)].
	Locals []itypes.Type

	Code []Instruction
}

// FunctionHandle names a callable function. Local functions carry the index
// of their definition; framework natives are matched by module and name.
type FunctionHandle struct {
	Module string
	Name   string

	// LocalIndex is the index into Module.Functions, or -1 for natives.
	LocalIndex int
}

// Opcode is the instruction tag.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpLdTrue
	OpLdFalse
	OpLdU8
	OpLdU16
	OpLdU32
	OpLdU64
	OpLdU128
	OpLdU256
	OpLdConst
	OpCopyLoc
	OpMoveLoc
	OpStLoc
	OpPop
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpCastU8
	OpCastU16
	OpCastU32
	OpCastU64
	OpCastU128
	OpCastU256
	OpEq
	OpNeq
	OpPack
	OpPackGeneric
	OpUnpack
	OpUnpackGeneric
	OpImmBorrowLoc
	OpMutBorrowLoc
	OpImmBorrowField
	OpMutBorrowField
	OpImmBorrowFieldGeneric
	OpMutBorrowFieldGeneric
	OpReadRef
	OpWriteRef
	OpFreezeRef
	OpCall
	OpCallGeneric
	OpRet
	OpAbort
	OpBranch
	OpBrTrue
	OpBrFalse
	OpVecPack
	OpVecLen
	OpVecPushBack
	OpVecPopBack
	OpVecImmBorrow
	OpVecMutBorrow
	OpVecSwap
	OpVecUnpack
)

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpLdTrue: "ld_true", OpLdFalse: "ld_false",
	OpLdU8: "ld_u8", OpLdU16: "ld_u16", OpLdU32: "ld_u32", OpLdU64: "ld_u64",
	OpLdU128: "ld_u128", OpLdU256: "ld_u256", OpLdConst: "ld_const",
	OpCopyLoc: "copy_loc", OpMoveLoc: "move_loc", OpStLoc: "st_loc", OpPop: "pop",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpCastU8: "cast_u8", OpCastU16: "cast_u16", OpCastU32: "cast_u32",
	OpCastU64: "cast_u64", OpCastU128: "cast_u128", OpCastU256: "cast_u256",
	OpEq: "eq", OpNeq: "neq",
	OpPack: "pack", OpPackGeneric: "pack_generic",
	OpUnpack: "unpack", OpUnpackGeneric: "unpack_generic",
	OpImmBorrowLoc: "imm_borrow_loc", OpMutBorrowLoc: "mut_borrow_loc",
	OpImmBorrowField: "imm_borrow_field", OpMutBorrowField: "mut_borrow_field",
	OpImmBorrowFieldGeneric: "imm_borrow_field_generic",
	OpMutBorrowFieldGeneric: "mut_borrow_field_generic",
	OpReadRef: "read_ref", OpWriteRef: "write_ref", OpFreezeRef: "freeze_ref",
	OpCall: "call", OpCallGeneric: "call_generic",
	OpRet: "ret", OpAbort: "abort",
	OpBranch: "branch", OpBrTrue: "br_true", OpBrFalse: "br_false",
	OpVecPack: "vec_pack", OpVecLen: "vec_len",
	OpVecPushBack: "vec_push_back", OpVecPopBack: "vec_pop_back",
	OpVecImmBorrow: "vec_imm_borrow", OpVecMutBorrow: "vec_mut_borrow",
	OpVecSwap: "vec_swap", OpVecUnpack: "vec_unpack",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "unknown"
}

// Instruction is one decoded instruction. Which immediate fields are
// meaningful depends on the opcode.
type Instruction struct {
	Op Opcode

	// Imm carries small immediates: ld constants, constant-pool indices,
	// local indices, field indices, branch targets (instruction offsets),
	// vec_pack and vec_unpack arities.
	Imm uint64

	// Big carries ld_u128 / ld_u256 constants.
	Big *big.Int

	// StructIdx selects the struct definition for pack/unpack/borrow-field.
	StructIdx uint16

	// FieldIdx selects the field for borrow-field.
	FieldIdx uint16

	// HandleIdx selects the function handle for calls.
	HandleIdx uint16

	// TypeArgs instantiate generic instructions.
	TypeArgs []itypes.Type

	// ElemType is the element type for vector instructions.
	ElemType *itypes.Type
}
