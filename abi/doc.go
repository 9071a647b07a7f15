// Package abi generates the Solidity ABI serialization code embedded in
// produced modules.
//
// The packer writes in-memory values into a calldata-style buffer: 32-byte
// big-endian head words for static types, offset words plus appended tails
// for dynamic ones. Tails rely on the bump allocator being the only source
// of memory during a pack, so consecutive allocations form one contiguous
// buffer and the total encoded length falls out of the allocator frontier.
//
// The unpacker is the mirror: it walks the calldata left to right through
// the global reader pointer, validates every offset and length before
// following it, and materializes values in their in-memory representation.
package abi
