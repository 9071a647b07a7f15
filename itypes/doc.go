// Package itypes defines the intermediate type system Move values take after
// translation.
//
// A Type is a closed tagged variant: stack-residing scalars (bool and the
// integer widths up to u64), heap-residing scalars (u128, u256, address,
// signer), vectors, struct and enum references (generic or not), borrows, and
// unresolved type parameters. Every kind carries fixed layout rules — the
// width of its wasm stack representation, its heap footprint, the size of the
// slot that holds it inside an aggregate, and its Solidity ABI classification
// (static or dynamic, encoded size).
//
// Struct and enum types do not embed their definitions; they reference them
// by (module, index) and property computation goes through a Resolver so the
// tables stay owned by the compilation context.
package itypes
