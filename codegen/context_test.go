package codegen

import (
	"bytes"
	"context"
	"testing"

	"github.com/rather-labs/move-wasm/sandbox"
	"github.com/rather-labs/move-wasm/wasm"
)

func TestStaticDataImage(t *testing.T) {
	data := staticData()
	if len(data) != StaticDataOffset {
		t.Fatalf("static data length: got %d, want %d", len(data), StaticDataOffset)
	}
	wantShared := make([]byte, 32)
	wantShared[31] = 0x01
	if !bytes.Equal(data[DataSharedObjectsKeyOffset:DataSharedObjectsKeyOffset+32], wantShared) {
		t.Error("shared-objects sentinel mismatch")
	}
	wantFrozen := make([]byte, 32)
	wantFrozen[31] = 0x02
	if !bytes.Equal(data[DataFrozenObjectsKeyOffset:DataFrozenObjectsKeyOffset+32], wantFrozen) {
		t.Error("frozen-objects sentinel mismatch")
	}
}

func TestAddStaticDataDedupes(t *testing.T) {
	ctx := NewContext(nil)
	a := ctx.AddStaticData([]byte("Overflow"))
	b := ctx.AddStaticData([]byte("Overflow"))
	c := ctx.AddStaticData([]byte("OutOfBounds"))
	if a != b {
		t.Errorf("identical blobs got different offsets: %d, %d", a, b)
	}
	if c == a {
		t.Error("distinct blobs share an offset")
	}
	if a < StaticDataOffset || c+11 > HeapBaseOffset {
		t.Errorf("offsets outside static region: %d, %d", a, c)
	}
}

func TestRuntimeFnMemoizes(t *testing.T) {
	ctx := NewContext(nil)
	calls := 0
	emit := func(c *Context) wasm.FuncID {
		calls++
		b := c.Module.NewBuilder("is_zero_probe", []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
		b.LocalGet(0).I32Eqz()
		return b.Finish()
	}
	first := ctx.RuntimeFn("is_zero_probe", emit)
	second := ctx.RuntimeFn("is_zero_probe", emit)
	if first != second {
		t.Errorf("memoized ids differ: %d != %d", first, second)
	}
	if calls != 1 {
		t.Errorf("emitter ran %d times, want 1", calls)
	}
}

func TestAllocatorBumpsAndGrows(t *testing.T) {
	cctx := NewContext(nil)
	cctx.Module.AddExport(AllocatorName, wasm.KindFunc, uint32(cctx.Allocator))

	ctx := context.Background()
	sb, err := sandbox.New(ctx, cctx.Module.Encode())
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close(ctx)

	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)

	res, err := inst.Call(ctx, AllocatorName, 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := uint32(res[0]); got != HeapBaseOffset {
		t.Errorf("first allocation: got %d, want %d", got, HeapBaseOffset)
	}

	res, err = inst.Call(ctx, AllocatorName, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := uint32(res[0]); got != HeapBaseOffset+16 {
		t.Errorf("second allocation: got %d, want %d", got, HeapBaseOffset+16)
	}

	// Allocate past the initial page; the resulting block must be writable
	// end to end, which requires the allocator to have grown memory.
	res, err = inst.Call(ctx, AllocatorName, 3*WasmPageSize)
	if err != nil {
		t.Fatal(err)
	}
	end := uint32(res[0]) + 3*WasmPageSize - 4
	if err := inst.WriteMemory(end, []byte{1, 2, 3, 4}); err != nil {
		t.Errorf("allocation not backed by memory: %v", err)
	}
}
