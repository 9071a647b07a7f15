package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which compilation stage raised the error.
type Phase string

const (
	PhaseTranslate Phase = "translate" // bytecode walking and operand-stack typing
	PhaseAbiPack   Phase = "abipack"   // ABI serialization codegen
	PhaseAbiUnpack Phase = "abiunpack" // ABI deserialization codegen
	PhaseNative    Phase = "native"    // object / dynamic-field / storage codegen
	PhaseRuntime   Phase = "runtime"   // runtime routine emission
	PhaseEntry     Phase = "entry"     // selector table and entrypoint wiring
)

// Kind categorizes the error.
type Kind string

const (
	KindTypeMismatch      Kind = "type_mismatch"
	KindStackUnderflow    Kind = "stack_underflow"
	KindFieldMissing      Kind = "field_missing"
	KindRefInRef          Kind = "ref_in_ref"
	KindUninstantiated    Kind = "uninstantiated_type_parameter"
	KindInvalidKeyType    Kind = "invalid_key_type"
	KindUnknownDefinition Kind = "unknown_definition"
	KindUnsupported       Kind = "unsupported"
	KindInvalidBytecode   Kind = "invalid_bytecode"
	KindMissingAbility    Kind = "missing_ability"
)

// Error is the structured error type used throughout the compiler.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string // intermediate type involved, if any
	Index  int    // field / parameter / local index, -1 when not applicable
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))
	if e.Type != "" {
		b.WriteString(": type ")
		b.WriteString(e.Type)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at index %d", e.Index)
	}
	if e.Detail != "" {
		b.WriteString(" - ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target matches this error by phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates an error with no extra context.
func New(phase Phase, kind Kind) *Error {
	return &Error{Phase: phase, Kind: kind, Index: -1}
}

// TypeMismatch reports an operand of the wrong intermediate type.
func TypeMismatch(phase Phase, wantType, gotType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Type:   gotType,
		Index:  -1,
		Detail: fmt.Sprintf("expected %s", wantType),
	}
}

// StackUnderflow reports a pop from an empty abstract operand stack.
func StackUnderflow(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStackUnderflow,
		Index:  -1,
		Detail: fmt.Sprintf("operand stack empty while translating %s", op),
	}
}

// FieldMissing reports a struct field index past the declaration list.
func FieldMissing(phase Phase, structName string, index int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Type:   structName,
		Index:  index,
		Detail: "field index out of range",
	}
}

// RefInRef reports a reference whose referent is itself a reference.
func RefInRef(phase Phase, typeName string) *Error {
	return &Error{Phase: phase, Kind: KindRefInRef, Type: typeName, Index: -1}
}

// Uninstantiated reports a type parameter that survived monomorphization.
func Uninstantiated(phase Phase, index int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUninstantiated,
		Index:  index,
		Detail: "type parameter reached code generation",
	}
}

// InvalidKeyType reports a dynamic-field key outside the allowed set.
func InvalidKeyType(typeName string) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindInvalidKeyType,
		Type:   typeName,
		Index:  -1,
		Detail: "dynamic-field keys must be scalars, heap integers, address, struct or vector",
	}
}

// UnknownDefinition reports a struct, enum or function index that resolves to
// nothing.
func UnknownDefinition(phase Phase, what string, index int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownDefinition,
		Index:  index,
		Detail: fmt.Sprintf("unknown %s", what),
	}
}

// Unsupported reports a construct the compiler does not handle.
func Unsupported(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindUnsupported, Index: -1, Detail: what}
}

// InvalidBytecode reports malformed input bytecode.
func InvalidBytecode(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseTranslate,
		Kind:   KindInvalidBytecode,
		Index:  -1,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// MissingAbility reports an operation that requires an ability the struct
// does not declare (for example transfer on a struct without key).
func MissingAbility(structName, ability string) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindMissingAbility,
		Type:   structName,
		Index:  -1,
		Detail: fmt.Sprintf("requires the %s ability", ability),
	}
}

// Wrap attaches phase and kind to an underlying error.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Cause: cause, Index: -1, Detail: detail}
}
