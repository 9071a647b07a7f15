package sandbox

import (
	"bytes"
	"context"
	"testing"

	"github.com/rather-labs/move-wasm/wasm"
)

// echoModule builds a module whose entrypoint copies calldata straight back
// through write_result and returns 0.
func echoModule() []byte {
	m := wasm.NewModule()
	readArgs := m.AddImportFunc("vm_hooks", "read_args", wasm.FuncType{Params: []wasm.ValType{wasm.I32}})
	writeResult := m.AddImportFunc("vm_hooks", "write_result", wasm.FuncType{Params: []wasm.ValType{wasm.I32, wasm.I32}})
	keccak := m.AddImportFunc("vm_hooks", "native_keccak256", wasm.FuncType{Params: []wasm.ValType{wasm.I32, wasm.I32, wasm.I32}})
	m.AddMemory(1, nil)

	const buf = 4096
	b := m.NewBuilder("user_entrypoint", []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
	b.I32Const(buf).Call(readArgs)
	b.I32Const(buf).LocalGet(b.Param(0)).Call(writeResult)
	b.I32Const(0)
	id := b.Finish()

	h := m.NewBuilder("hash_calldata", []wasm.ValType{wasm.I32}, nil)
	h.I32Const(buf).Call(readArgs)
	h.I32Const(buf).LocalGet(h.Param(0)).I32Const(8192).Call(keccak)
	hashID := h.Finish()

	m.AddExport("memory", wasm.KindMemory, 0)
	m.AddExport("user_entrypoint", wasm.KindFunc, uint32(id))
	m.AddExport("hash_calldata", wasm.KindFunc, uint32(hashID))
	return m.Encode()
}

func TestEntrypointEcho(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, echoModule())
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close(ctx)

	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)

	calldata := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	status, ret, trapped, err := inst.CallEntrypoint(ctx, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if trapped {
		t.Fatal("unexpected trap")
	}
	if status != 0 {
		t.Errorf("status: got %d, want 0", status)
	}
	if !bytes.Equal(ret, calldata) {
		t.Errorf("return data: got %x, want %x", ret, calldata)
	}
}

func TestKeccakHostMatchesLocal(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, echoModule())
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close(ctx)

	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)

	sb.calldata = []byte("move-to-wasm")
	if _, err := inst.Call(ctx, "hash_calldata", uint64(len(sb.calldata))); err != nil {
		t.Fatal(err)
	}
	got, err := inst.ReadMemory(8192, 32)
	if err != nil {
		t.Fatal(err)
	}
	want := Keccak256([]byte("move-to-wasm"))
	if !bytes.Equal(got, want[:]) {
		t.Errorf("keccak: got %x, want %x", got, want)
	}
}

func TestStoragePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, echoModule())
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close(ctx)

	var key, val [32]byte
	key[31] = 7
	val[0] = 0xAB
	sb.SetStorage(key, val)

	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	inst.Close(ctx)

	if got := sb.Storage[key]; got != val {
		t.Errorf("storage word changed: got %x, want %x", got, val)
	}
}
