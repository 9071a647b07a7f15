// Package storage generates the persistence layer of produced modules: slot
// derivation for mappings and dynamic arrays, the object-slot scheme for key
// structs, struct encode/save and read/decode through the host's 32-byte KV
// hooks, the object lifecycle operations (transfer, share, freeze, delete),
// and the dynamic-field operations keyed on arbitrary value types.
//
// Slot numbers are 32-byte big-endian words. A struct's encoded form is its
// ABI encoding; it is stored as a big-endian length word followed by the
// encoding, one storage word per 32 bytes. Ownership is the 32-byte prefix
// preceding every key struct in memory: an account address, the shared
// sentinel, or the frozen sentinel.
package storage
