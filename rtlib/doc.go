// Package rtlib emits the runtime support routines every produced module
// carries: heap-integer arithmetic with overflow trapping, checked scalar
// arithmetic, endianness swaps, pointer validation, byte-range predicates,
// decimal rendering for abort codes, and the vector header helpers.
//
// Routines are emitted on first reference and memoized by name through the
// compilation context, so each one exists at most once per output module.
// All of them trap by reverting: the helper publishes a Solidity
// Error(string) payload through write_result and then executes unreachable,
// so the host observes both the trap and the reason.
package rtlib
