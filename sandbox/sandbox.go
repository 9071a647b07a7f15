package sandbox

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/crypto/sha3"
)

// Fixed transaction context. Tests rely on these values being stable.
var (
	// MsgSender is the 20-byte caller account.
	MsgSender = [20]byte{
		0xCA, 0xFE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xBE, 0xEF,
	}

	// TxOrigin is the 20-byte transaction signer.
	TxOrigin = [20]byte{
		0x0F, 0xF1, 0xCE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
	}
)

const (
	chainID        = 412346
	blockNumber    = 12_345_678
	blockGasLimit  = 30_000_000
	blockTimestamp = 1_700_000_000
)

// Log is one captured emit_log call.
type Log struct {
	Topics int
	Data   []byte
}

// Sandbox hosts compiled modules. Storage persists across instances the way
// the chain's KV store persists across invocations.
type Sandbox struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	// Storage is the committed 32-byte word store.
	Storage map[[32]byte][32]byte

	// Logs collects every emit_log call across instances.
	Logs []Log

	// MsgValue is returned by the msg_value hook.
	MsgValue [32]byte

	// Sender overrides MsgSender when set (length 20).
	Sender []byte

	// SessionID names instances for debugging.
	SessionID uuid.UUID

	cache    map[[32]byte][32]byte
	calldata []byte
	retData  []byte
}

// New compiles the module bytes and prepares the vm_hooks host module.
func New(ctx context.Context, wasmBytes []byte) (*Sandbox, error) {
	s := &Sandbox{
		runtime:   wazero.NewRuntime(ctx),
		Storage:   make(map[[32]byte][32]byte),
		cache:     make(map[[32]byte][32]byte),
		SessionID: uuid.New(),
	}

	if err := s.instantiateHost(ctx); err != nil {
		s.runtime.Close(ctx)
		return nil, err
	}

	compiled, err := s.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		s.runtime.Close(ctx)
		return nil, fmt.Errorf("sandbox: compile module: %w", err)
	}
	s.compiled = compiled
	return s, nil
}

// Close releases the runtime.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// SetStorage seeds a committed storage word.
func (s *Sandbox) SetStorage(key, value [32]byte) {
	s.Storage[key] = value
}

// FlushCache folds pending cached writes into committed storage, as the
// storage_flush_cache hook does at end of invocation. Tests drive it when
// they call exported functions directly instead of the entrypoint.
func (s *Sandbox) FlushCache() {
	for k, v := range s.cache {
		s.Storage[k] = v
	}
	s.cache = make(map[[32]byte][32]byte)
}

// senderBytes returns the effective caller address.
func (s *Sandbox) senderBytes() []byte {
	if len(s.Sender) == 20 {
		return s.Sender
	}
	return MsgSender[:]
}

func keccak256(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Keccak256 exposes the host hash for test expectations.
func Keccak256(data []byte) [32]byte { return keccak256(data) }

func (s *Sandbox) instantiateHost(ctx context.Context) error {
	b := s.runtime.NewHostModuleBuilder("vm_hooks")

	readMem := func(m api.Module, ptr, size uint32) []byte {
		buf, ok := m.Memory().Read(ptr, size)
		if !ok {
			panic(fmt.Sprintf("sandbox: host read out of bounds: ptr=%d size=%d", ptr, size))
		}
		return buf
	}
	writeMem := func(m api.Module, ptr uint32, data []byte) {
		if !m.Memory().Write(ptr, data) {
			panic(fmt.Sprintf("sandbox: host write out of bounds: ptr=%d size=%d", ptr, len(data)))
		}
	}

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
		writeMem(m, ptr, s.calldata)
	}).Export("read_args")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr, length uint32) {
		s.retData = append([]byte(nil), readMem(m, ptr, length)...)
	}).Export("write_result")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, keyPtr, destPtr uint32) {
		var key [32]byte
		copy(key[:], readMem(m, keyPtr, 32))
		val, ok := s.cache[key]
		if !ok {
			val = s.Storage[key]
		}
		writeMem(m, destPtr, val[:])
	}).Export("storage_load_bytes32")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, keyPtr, valPtr uint32) {
		var key, val [32]byte
		copy(key[:], readMem(m, keyPtr, 32))
		copy(val[:], readMem(m, valPtr, 32))
		s.cache[key] = val
	}).Export("storage_cache_bytes32")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, clear uint32) {
		for k, v := range s.cache {
			s.Storage[k] = v
		}
		if clear != 0 {
			s.cache = make(map[[32]byte][32]byte)
		}
	}).Export("storage_flush_cache")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, inPtr, inLen, outPtr uint32) {
		sum := keccak256(readMem(m, inPtr, inLen))
		writeMem(m, outPtr, sum[:])
	}).Export("native_keccak256")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr, length, topics uint32) {
		s.Logs = append(s.Logs, Log{
			Topics: int(topics),
			Data:   append([]byte(nil), readMem(m, ptr, length)...),
		})
	}).Export("emit_log")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
		writeMem(m, ptr, s.senderBytes())
	}).Export("msg_sender")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
		writeMem(m, ptr, TxOrigin[:])
	}).Export("tx_origin")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
		writeMem(m, ptr, s.MsgValue[:])
	}).Export("msg_value")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
		writeMem(m, ptr, make([]byte, 32))
	}).Export("block_basefee")
	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
		writeMem(m, ptr, make([]byte, 32))
	}).Export("tx_gas_price")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context) int64 { return chainID }).Export("chainid")
	b.NewFunctionBuilder().WithFunc(func(_ context.Context) int64 { return blockNumber }).Export("block_number")
	b.NewFunctionBuilder().WithFunc(func(_ context.Context) int64 { return blockGasLimit }).Export("block_gas_limit")
	b.NewFunctionBuilder().WithFunc(func(_ context.Context) int64 { return blockTimestamp }).Export("block_timestamp")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, contract, calldata, calldataLen, value uint32, gas int64, retLenPtr uint32) uint32 {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], 0)
		writeMem(m, retLenPtr, lenBuf[:])
		return 0
	}).Export("call_contract")

	for _, name := range []string{"static_call_contract", "delegate_call_contract"} {
		b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, contract, calldata, calldataLen uint32, gas int64, retLenPtr uint32) uint32 {
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], 0)
			writeMem(m, retLenPtr, lenBuf[:])
			return 0
		}).Export(name)
	}

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, dest, offset, size uint32) uint32 {
		return 0
	}).Export("read_return_data")

	b.NewFunctionBuilder().WithFunc(func(_ context.Context, pages uint32) {}).Export("pay_for_memory_grow")

	_, err := b.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("sandbox: instantiate vm_hooks: %w", err)
	}
	return nil
}

// Instance is one instantiation of the module with fresh linear memory.
type Instance struct {
	mod api.Module
	sb  *Sandbox
}

// Instantiate creates a fresh instance. Storage persists from previous
// instances; memory does not.
func (s *Sandbox) Instantiate(ctx context.Context) (*Instance, error) {
	name := s.SessionID.String() + "-" + uuid.NewString()
	mod, err := s.runtime.InstantiateModule(ctx, s.compiled,
		wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate: %w", err)
	}
	return &Instance{mod: mod, sb: s}, nil
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// CallEntrypoint invokes user_entrypoint with the given calldata. The
// returned status is the entrypoint result; trapped reports whether the call
// aborted via unreachable, in which case status is meaningless and any
// return data published before the trap is still visible.
func (i *Instance) CallEntrypoint(ctx context.Context, calldata []byte) (status int32, ret []byte, trapped bool, err error) {
	i.sb.calldata = append([]byte(nil), calldata...)
	i.sb.retData = nil

	fn := i.mod.ExportedFunction("user_entrypoint")
	if fn == nil {
		return 0, nil, false, fmt.Errorf("sandbox: module has no user_entrypoint export")
	}
	results, callErr := fn.Call(ctx, uint64(len(calldata)))
	if callErr != nil {
		return 0, i.sb.retData, true, nil
	}
	if len(results) != 1 {
		return 0, nil, false, fmt.Errorf("sandbox: user_entrypoint returned %d values", len(results))
	}
	return int32(results[0]), i.sb.retData, false, nil
}

// Call invokes an arbitrary exported function. A trap surfaces as an error.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("sandbox: no export %q", name)
	}
	return fn.Call(ctx, args...)
}

// ReadMemory copies size bytes from linear memory.
func (i *Instance) ReadMemory(offset, size uint32) ([]byte, error) {
	buf, ok := i.mod.Memory().Read(offset, size)
	if !ok {
		return nil, fmt.Errorf("sandbox: memory read out of bounds: offset=%d size=%d", offset, size)
	}
	return append([]byte(nil), buf...), nil
}

// WriteMemory copies bytes into linear memory.
func (i *Instance) WriteMemory(offset uint32, data []byte) error {
	if !i.mod.Memory().Write(offset, data) {
		return fmt.Errorf("sandbox: memory write out of bounds: offset=%d size=%d", offset, len(data))
	}
	return nil
}
