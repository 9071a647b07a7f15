// Package movebc models the compiled Move module the translator consumes.
//
// This is the shape of the front-end's output, not a deserializer: a module
// is a list of struct, enum and function definitions under a module id, with
// function bodies as flat instruction vectors. Signatures and field types
// are carried directly in intermediate form (itypes.Type) — the front-end's
// signature tokens map onto it one to one, with struct handles resolved to
// (module, index) pairs during loading, which is outside this layer.
package movebc
