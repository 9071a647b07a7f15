// Package translate walks Move bytecode and emits the output module's
// functions: one wasm function per (definition, type arguments) pair, ABI
// wrappers for entry functions, the selector-dispatching entrypoint, and the
// revert blobs for aborts and user-declared errors.
//
// The translator keeps a typed abstract operand stack alongside the real
// wasm stack; every opcode checks the types it pops and a mismatch aborts
// compilation with a structured diagnostic. Control flow is recovered with a
// dispatcher loop over basic blocks, which handles arbitrary branch layouts
// as long as the operand stack is empty across block edges — the shape the
// Move compiler produces.
package translate
