// Package sandbox executes compiled modules under wazero with an in-process
// implementation of every vm_hooks host function.
//
// Storage is a plain map of 32-byte words with a write cache that
// storage_flush_cache folds in, keccak is computed with x/crypto sha3, and
// calldata/return-data move through byte buffers on the sandbox. Block and
// transaction context are fixed constants so tests are reproducible; only
// the caller address and msg.value can be overridden, through the Sender and
// MsgValue fields.
//
// A Sandbox owns the compiled module and the persistent storage; each
// Instantiate call produces a fresh Instance with its own linear memory,
// mirroring the per-invocation memory wipe of the real host.
package sandbox
