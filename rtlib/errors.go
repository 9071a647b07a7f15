package rtlib

import (
	"encoding/binary"

	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/wasm"
)

// ErrorSelector is the first 4 bytes of keccak256("Error(string)").
var ErrorSelector = [4]byte{0x08, 0xC3, 0x79, 0xA0}

// Runtime error messages. The message text is the payload of the standard
// Error(string) revert blob.
const (
	MsgOverflow       = "Overflow"
	MsgOutOfBounds    = "OutOfBounds"
	MsgDivisionByZero = "DivisionByZero"
	MsgInvalidPointer = "InvalidPointer"
	MsgNotAuthorized  = "NotAuthorized"
	MsgNotFound       = "NotFound"
)

// ErrorStringPayload builds the ABI-encoded Error(string) revert payload:
// selector, head word pointing at offset 0x20, big-endian length word, then
// the UTF-8 bytes padded to a 32-byte boundary.
func ErrorStringPayload(msg string) []byte {
	padded := (len(msg) + 31) &^ 31
	out := make([]byte, 4+32+32+padded)
	copy(out, ErrorSelector[:])
	out[4+31] = 0x20
	binary.BigEndian.PutUint32(out[4+32+28:4+32+32], uint32(len(msg)))
	copy(out[4+32+32:], msg)
	return out
}

// Revert returns the memoized trap helper for one runtime error message.
// The helper writes the revert payload and executes unreachable; it never
// returns.
func Revert(ctx *codegen.Context, msg string) wasm.FuncID {
	name := "revert_" + snakeOf(msg)
	return ctx.RuntimeFn(name, func(ctx *codegen.Context) wasm.FuncID {
		payload := ErrorStringPayload(msg)
		offset := ctx.AddStaticData(payload)
		b := ctx.Module.NewBuilder(name, nil, nil)
		b.I32Const(int32(offset)).
			I32Const(int32(len(payload))).
			Call(ctx.Host.WriteResult).
			Unreachable()
		return b.Finish()
	})
}

// RevertOverflow and friends are the call sites' shorthands.

func RevertOverflow(ctx *codegen.Context) wasm.FuncID       { return Revert(ctx, MsgOverflow) }
func RevertOutOfBounds(ctx *codegen.Context) wasm.FuncID    { return Revert(ctx, MsgOutOfBounds) }
func RevertDivisionByZero(ctx *codegen.Context) wasm.FuncID { return Revert(ctx, MsgDivisionByZero) }
func RevertInvalidPointer(ctx *codegen.Context) wasm.FuncID { return Revert(ctx, MsgInvalidPointer) }
func RevertNotAuthorized(ctx *codegen.Context) wasm.FuncID  { return Revert(ctx, MsgNotAuthorized) }
func RevertNotFound(ctx *codegen.Context) wasm.FuncID       { return Revert(ctx, MsgNotFound) }

func snakeOf(msg string) string {
	out := make([]byte, 0, len(msg)+4)
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			out = append(out, c-'A'+'a')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
