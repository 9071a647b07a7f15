// Package errors defines the structured error type used across the compiler.
//
// Every compile-time failure carries a Phase (which stage of compilation
// raised it) and a Kind (what went wrong), plus optional context: the
// intermediate type involved, a field or parameter index, and a detail
// message. Errors compare by (Phase, Kind) under errors.Is, so tests can
// assert on the category without matching message text.
//
// Runtime failures of generated code are not represented here — those are
// WebAssembly traps turned into revert blobs by the entrypoint frame.
package errors
