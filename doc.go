// Package movewasm compiles Move bytecode modules into self-contained
// WebAssembly modules for Stylus-style EVM-compatible hosts.
//
// The produced module exposes the host contract surface — an exported
// memory, the allocator frontier global, and user_entrypoint(len) — and
// imports its chain access from the vm_hooks namespace. Entry functions are
// dispatched by 4-byte Solidity selector, parameters and results travel in
// Solidity ABI, key structs persist through keccak-derived storage slots,
// and runtime failures revert with Error(string) payloads.
//
// # Packages
//
//	movewasm/      Root package: the Compile entry point
//	├── movebc/    Input model: the compiled Move module shape
//	├── itypes/    Intermediate type system and struct/enum descriptors
//	├── codegen/   Compilation context, memory layout, allocator, vm_hooks
//	├── rtlib/     Runtime routines emitted into produced modules
//	├── abi/       Solidity ABI packer and unpacker code generators
//	├── storage/   Slot derivation, object lifecycle, dynamic fields
//	├── translate/ Bytecode translator, entrypoint, error encoding
//	├── wasm/      Output module model, body builder, binary encoder
//	├── sandbox/   wazero-backed vm_hooks host for executing output in tests
//	└── errors/    Structured compile-time errors
//
// # Quick start
//
//	bytecode := loadModule() // *movebc.Module from the front-end
//	wasmBytes, err := movewasm.Compile(bytecode, movewasm.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("contract.wasm", wasmBytes, 0o644)
package movewasm
