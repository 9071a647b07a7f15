// Package wasm models the WebAssembly module produced by the compiler and
// encodes it to the binary format.
//
// The package is intentionally narrower than a general-purpose wasm toolkit:
// it covers exactly the feature set generated modules use — core value types
// i32/i64, imported functions, one linear memory, mutable globals, active
// data segments, and the subset of MVP instructions the code generators emit
// plus bulk-memory memory.copy and memory.fill.
//
// Function bodies are produced through Builder, an explicit append-only
// instruction emitter. Control flow uses structured labels:
//
//	b := mod.NewBuilder("grow", []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
//	b.Block(wasm.NoResult, func(end wasm.Label) {
//	    b.Loop(wasm.NoResult, func(again wasm.Label) {
//	        b.LocalGet(0).I32Eqz().BrIf(end)
//	        ...
//	        b.Br(again)
//	    })
//	})
//	id := b.Finish()
//
// Encoding is deterministic: the same module model always yields the same
// bytes.
package wasm
