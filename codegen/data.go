package codegen

// Static linear-memory layout. The front of memory holds the two sentinel
// owner keys, a handful of 32-byte scratch areas the native operations
// communicate through, and a region for static data registered at compile
// time (revert payloads, constants). The bump allocator starts above it all.
const (
	// DataSharedObjectsKeyOffset holds the 32-byte shared-objects sentinel
	// (trailing 0x01).
	DataSharedObjectsKeyOffset = 0

	// DataFrozenObjectsKeyOffset holds the 32-byte frozen-objects sentinel
	// (trailing 0x02).
	DataFrozenObjectsKeyOffset = 32

	// DataObjectsMappingSlotOffset receives the derived storage slot written
	// by the write_object_slot routine.
	DataObjectsMappingSlotOffset = 64

	// DataSlotDataOffset is the 32-byte buffer storage word reads and writes
	// go through.
	DataSlotDataOffset = 96

	// DataStorageObjectOwnerOffset receives the owner key of the object most
	// recently decoded from storage.
	DataStorageObjectOwnerOffset = 128

	// DataMsgSenderOffset is where the entrypoint asks the host to write the
	// caller address (20 bytes, left-padded to 32).
	DataMsgSenderOffset = 160

	// DataUIDCounterOffset holds the per-invocation counter mixed into
	// fresh object ids.
	DataUIDCounterOffset = 192

	// StaticDataOffset is the start of the compile-time registered data
	// region (see Context.AddStaticData).
	StaticDataOffset = 256

	// HeapBaseOffset is the first byte the bump allocator may hand out.
	HeapBaseOffset = 2048
)

// WasmPageSize is the linear-memory page granularity.
const WasmPageSize = 65536

// staticData builds the fixed front-of-memory image up to StaticDataOffset.
func staticData() []byte {
	data := make([]byte, StaticDataOffset)
	data[DataSharedObjectsKeyOffset+31] = 0x01
	data[DataFrozenObjectsKeyOffset+31] = 0x02
	return data
}
