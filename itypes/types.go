package itypes

import (
	"fmt"
	"strings"

	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/wasm"
)

// Heap footprints in bytes.
const (
	U128HeapSize    = 16
	U256HeapSize    = 32
	AddressHeapSize = 32 // 20-byte account address, left-padded with 12 zero bytes
	SignerHeapSize  = 32

	// VectorHeaderSize covers the {length, capacity} pair that precedes a
	// vector's element slots.
	VectorHeaderSize = 8

	// OwnerPrefixSize is the 32-byte owner key preceding every struct with
	// the key ability in linear memory.
	OwnerPrefixSize = 32
)

// Type is one intermediate type. The zero value is bool; construct through
// the helpers below.
type Type struct {
	Kind Kind

	// Inner is the element type for vectors and the referent for borrows.
	Inner *Type

	// Module and Index locate a struct or enum definition in the
	// compilation context tables.
	Module uint16
	Index  uint16

	// TypeArgs instantiate a generic struct or enum.
	TypeArgs []Type

	// Param is the substitution index for KindTypeParameter.
	Param uint16
}

// Resolver gives property computation access to the definition tables owned
// by the compilation context.
type Resolver interface {
	StructDef(module, index uint16) (*IStruct, bool)
	EnumDef(module, index uint16) (*IEnum, bool)
	// ModuleName returns the human-readable name of a module table entry,
	// used in canonical type names.
	ModuleName(module uint16) string
}

// Constructors.

func Bool() Type    { return Type{Kind: KindBool} }
func U8() Type      { return Type{Kind: KindU8} }
func U16() Type     { return Type{Kind: KindU16} }
func U32() Type     { return Type{Kind: KindU32} }
func U64() Type     { return Type{Kind: KindU64} }
func U128() Type    { return Type{Kind: KindU128} }
func U256() Type    { return Type{Kind: KindU256} }
func Address() Type { return Type{Kind: KindAddress} }
func Signer() Type  { return Type{Kind: KindSigner} }

func VectorOf(inner Type) Type { return Type{Kind: KindVector, Inner: &inner} }
func ImmRefTo(inner Type) Type { return Type{Kind: KindImmRef, Inner: &inner} }
func MutRefTo(inner Type) Type { return Type{Kind: KindMutRef, Inner: &inner} }

func StructType(module, index uint16) Type {
	return Type{Kind: KindStruct, Module: module, Index: index}
}

func GenericStructInstance(module, index uint16, args []Type) Type {
	return Type{Kind: KindGenericStructInstance, Module: module, Index: index, TypeArgs: args}
}

func EnumType(module, index uint16) Type {
	return Type{Kind: KindEnum, Module: module, Index: index}
}

func GenericEnumInstance(module, index uint16, args []Type) Type {
	return Type{Kind: KindGenericEnumInstance, Module: module, Index: index, TypeArgs: args}
}

func TypeParameter(index uint16) Type {
	return Type{Kind: KindTypeParameter, Param: index}
}

// IsRef reports whether the type is a borrow.
func (t Type) IsRef() bool {
	return t.Kind == KindImmRef || t.Kind == KindMutRef
}

// IsStackType reports whether values of this type live directly on the wasm
// value stack. Everything else is represented by an i32 pointer into linear
// memory.
func (t Type) IsStackType() bool {
	switch t.Kind {
	case KindBool, KindU8, KindU16, KindU32, KindU64:
		return true
	}
	return false
}

// StackDataSize is the width of the value's wasm stack representation in
// bytes: 8 for u64, 4 for everything else (scalars and pointers alike).
func (t Type) StackDataSize() uint32 {
	if t.Kind == KindU64 {
		return 8
	}
	return 4
}

// ValType is the wasm value type of the stack representation.
func (t Type) ValType() wasm.ValType {
	if t.Kind == KindU64 {
		return wasm.I64
	}
	return wasm.I32
}

// HeapSize returns the linear-memory footprint for heap scalars. ok is false
// for kinds without a fixed heap footprint.
func (t Type) HeapSize() (size uint32, ok bool) {
	switch t.Kind {
	case KindU128:
		return U128HeapSize, true
	case KindU256:
		return U256HeapSize, true
	case KindAddress:
		return AddressHeapSize, true
	case KindSigner:
		return SignerHeapSize, true
	}
	return 0, false
}

// WasmMemoryDataSize is the size of the slot that holds the value — or the
// pointer to it — inside an aggregate or a vector.
func (t Type) WasmMemoryDataSize() uint32 {
	switch t.Kind {
	case KindBool, KindU8:
		return 1
	case KindU16:
		return 2
	case KindU64:
		return 8
	default:
		// u32 values and every pointer representation.
		return 4
	}
}

// LoadOp returns the wasm load opcode matching the type's slot width.
func (t Type) LoadOp() byte {
	switch t.Kind {
	case KindBool, KindU8:
		return wasm.OpI32Load8U
	case KindU16:
		return wasm.OpI32Load16U
	case KindU64:
		return wasm.OpI64Load
	default:
		return wasm.OpI32Load
	}
}

// StoreOp returns the wasm store opcode matching the type's slot width.
func (t Type) StoreOp() byte {
	switch t.Kind {
	case KindBool, KindU8:
		return wasm.OpI32Store8
	case KindU16:
		return wasm.OpI32Store16
	case KindU64:
		return wasm.OpI64Store
	default:
		return wasm.OpI32Store
	}
}

// IsDynamic reports the Solidity ABI dynamicity of the type: vectors are
// dynamic, a struct is dynamic iff any field is dynamic, references follow
// their referent. Enums follow the same rule over every variant.
func (t Type) IsDynamic(r Resolver) (bool, error) {
	switch t.Kind {
	case KindVector:
		return true, nil
	case KindImmRef, KindMutRef:
		return t.Inner.IsDynamic(r)
	case KindStruct, KindGenericStructInstance:
		s, ok := r.StructDef(t.Module, t.Index)
		if !ok {
			return false, errors.UnknownDefinition(errors.PhaseAbiPack, "struct", int(t.Index))
		}
		for _, f := range s.Fields {
			field, err := f.Instantiate(t.TypeArgs)
			if err != nil {
				return false, err
			}
			dyn, err := field.IsDynamic(r)
			if err != nil {
				return false, err
			}
			if dyn {
				return true, nil
			}
		}
		return false, nil
	case KindEnum, KindGenericEnumInstance:
		e, ok := r.EnumDef(t.Module, t.Index)
		if !ok {
			return false, errors.UnknownDefinition(errors.PhaseAbiPack, "enum", int(t.Index))
		}
		for _, v := range e.Variants {
			for _, f := range v.Fields {
				field, err := f.Instantiate(t.TypeArgs)
				if err != nil {
					return false, err
				}
				dyn, err := field.IsDynamic(r)
				if err != nil {
					return false, err
				}
				if dyn {
					return true, nil
				}
			}
		}
		return false, nil
	case KindTypeParameter:
		return false, errors.Uninstantiated(errors.PhaseAbiPack, int(t.Param))
	default:
		return false, nil
	}
}

// EncodedSize is the ABI head size of the type: 32 for every dynamic type
// (the offset slot) and for every static scalar; the sum of field sizes for
// a static struct.
func (t Type) EncodedSize(r Resolver) (uint32, error) {
	dyn, err := t.IsDynamic(r)
	if err != nil {
		return 0, err
	}
	if dyn {
		return 32, nil
	}
	switch t.Kind {
	case KindImmRef, KindMutRef:
		return t.Inner.EncodedSize(r)
	case KindStruct, KindGenericStructInstance:
		s, _ := r.StructDef(t.Module, t.Index)
		var total uint32
		for _, f := range s.Fields {
			field, err := f.Instantiate(t.TypeArgs)
			if err != nil {
				return 0, err
			}
			size, err := field.EncodedSize(r)
			if err != nil {
				return 0, err
			}
			total += size
		}
		return total, nil
	case KindEnum, KindGenericEnumInstance:
		// Static enums encode as the discriminant word followed by the
		// widest variant's fields, each padded to a word.
		e, _ := r.EnumDef(t.Module, t.Index)
		var widest uint32
		for _, v := range e.Variants {
			var size uint32
			for _, f := range v.Fields {
				field, err := f.Instantiate(t.TypeArgs)
				if err != nil {
					return 0, err
				}
				fs, err := field.EncodedSize(r)
				if err != nil {
					return 0, err
				}
				size += fs
			}
			if size > widest {
				widest = size
			}
		}
		return 32 + widest, nil
	default:
		return 32, nil
	}
}

// Instantiate substitutes type parameters with the given arguments. Types
// with no parameters pass through unchanged. A parameter index past the
// argument list is a compile error.
func (t Type) Instantiate(args []Type) (Type, error) {
	if len(args) == 0 {
		return t, nil
	}
	switch t.Kind {
	case KindTypeParameter:
		if int(t.Param) >= len(args) {
			return Type{}, errors.Uninstantiated(errors.PhaseTranslate, int(t.Param))
		}
		return args[t.Param], nil
	case KindVector, KindImmRef, KindMutRef:
		inner, err := t.Inner.Instantiate(args)
		if err != nil {
			return Type{}, err
		}
		out := t
		out.Inner = &inner
		return out, nil
	case KindGenericStructInstance, KindGenericEnumInstance:
		out := t
		out.TypeArgs = make([]Type, len(t.TypeArgs))
		for i, a := range t.TypeArgs {
			sub, err := a.Instantiate(args)
			if err != nil {
				return Type{}, err
			}
			out.TypeArgs[i] = sub
		}
		return out, nil
	default:
		return t, nil
	}
}

// HasTypeParameter reports whether any type parameter survives in t.
func (t Type) HasTypeParameter() bool {
	switch t.Kind {
	case KindTypeParameter:
		return true
	case KindVector, KindImmRef, KindMutRef:
		return t.Inner.HasTypeParameter()
	case KindGenericStructInstance, KindGenericEnumInstance:
		for _, a := range t.TypeArgs {
			if a.HasTypeParameter() {
				return true
			}
		}
	}
	return false
}

// SolidityName is the canonical ABI type string used in selector signatures.
func (t Type) SolidityName(r Resolver) (string, error) {
	switch t.Kind {
	case KindBool:
		return "bool", nil
	case KindU8:
		return "uint8", nil
	case KindU16:
		return "uint16", nil
	case KindU32:
		return "uint32", nil
	case KindU64:
		return "uint64", nil
	case KindU128:
		return "uint128", nil
	case KindU256:
		return "uint256", nil
	case KindAddress, KindSigner:
		return "address", nil
	case KindVector:
		inner, err := t.Inner.SolidityName(r)
		if err != nil {
			return "", err
		}
		return inner + "[]", nil
	case KindImmRef, KindMutRef:
		return t.Inner.SolidityName(r)
	case KindStruct, KindGenericStructInstance:
		s, ok := r.StructDef(t.Module, t.Index)
		if !ok {
			return "", errors.UnknownDefinition(errors.PhaseEntry, "struct", int(t.Index))
		}
		parts := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			field, err := f.Instantiate(t.TypeArgs)
			if err != nil {
				return "", err
			}
			if parts[i], err = field.SolidityName(r); err != nil {
				return "", err
			}
		}
		return "(" + strings.Join(parts, ",") + ")", nil
	case KindEnum, KindGenericEnumInstance:
		return "uint8", nil
	case KindTypeParameter:
		return "", errors.Uninstantiated(errors.PhaseEntry, int(t.Param))
	default:
		return "", errors.Unsupported(errors.PhaseEntry, fmt.Sprintf("abi name for %s", t.Kind))
	}
}

// Name is the canonical Move-style type name, used by dynamic-field key
// hashing and diagnostics.
func (t Type) Name(r Resolver) string {
	switch t.Kind {
	case KindVector:
		return "vector<" + t.Inner.Name(r) + ">"
	case KindImmRef:
		return "&" + t.Inner.Name(r)
	case KindMutRef:
		return "&mut " + t.Inner.Name(r)
	case KindStruct, KindEnum:
		return t.defName(r, nil)
	case KindGenericStructInstance, KindGenericEnumInstance:
		return t.defName(r, t.TypeArgs)
	case KindTypeParameter:
		return fmt.Sprintf("T%d", t.Param)
	default:
		return t.Kind.String()
	}
}

func (t Type) defName(r Resolver, args []Type) string {
	var ident string
	switch t.Kind {
	case KindStruct, KindGenericStructInstance:
		if s, ok := r.StructDef(t.Module, t.Index); ok {
			ident = s.Identifier
		}
	default:
		if e, ok := r.EnumDef(t.Module, t.Index); ok {
			ident = e.Identifier
		}
	}
	name := r.ModuleName(t.Module) + "::" + ident
	if len(args) == 0 {
		return name
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Name(r)
	}
	return name + "<" + strings.Join(parts, ",") + ">"
}

// String renders the type without resolver access, for error messages.
func (t Type) String() string {
	switch t.Kind {
	case KindVector:
		return "vector<" + t.Inner.String() + ">"
	case KindImmRef:
		return "&" + t.Inner.String()
	case KindMutRef:
		return "&mut " + t.Inner.String()
	case KindStruct, KindGenericStructInstance:
		return fmt.Sprintf("struct(%d,%d)", t.Module, t.Index)
	case KindEnum, KindGenericEnumInstance:
		return fmt.Sprintf("enum(%d,%d)", t.Module, t.Index)
	case KindTypeParameter:
		return fmt.Sprintf("T%d", t.Param)
	default:
		return t.Kind.String()
	}
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Module != o.Module || t.Index != o.Index || t.Param != o.Param {
		return false
	}
	if (t.Inner == nil) != (o.Inner == nil) {
		return false
	}
	if t.Inner != nil && !t.Inner.Equal(*o.Inner) {
		return false
	}
	if len(t.TypeArgs) != len(o.TypeArgs) {
		return false
	}
	for i := range t.TypeArgs {
		if !t.TypeArgs[i].Equal(o.TypeArgs[i]) {
			return false
		}
	}
	return true
}
