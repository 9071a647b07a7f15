// Package codegen owns the compilation context shared by every code
// generator: the output module under construction, the linear-memory layout,
// the bump allocator, the vm_hooks import table, and the definition tables
// for structs, enums and modules.
//
// The context is created once per compilation and passed by pointer. Nothing
// in it is mutated outside its methods; emitters receive the context plus a
// wasm.Builder and append instructions, registering runtime routines through
// RuntimeFn so each helper is emitted at most once per module.
package codegen
