package rtlib

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/sandbox"
	"github.com/rather-labs/move-wasm/wasm"
)

// buildInstance emits the routines produced by build, exports them together
// with the allocator, and returns a running instance.
func buildInstance(t *testing.T, build func(ctx *codegen.Context) map[string]wasm.FuncID) (*sandbox.Sandbox, *sandbox.Instance) {
	t.Helper()
	cctx := codegen.NewContext(nil)
	for name, id := range build(cctx) {
		cctx.Module.AddExport(name, wasm.KindFunc, uint32(id))
	}
	cctx.Module.AddExport(codegen.AllocatorName, wasm.KindFunc, uint32(cctx.Allocator))

	ctx := context.Background()
	sb, err := sandbox.New(ctx, cctx.Module.Encode())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { sb.Close(ctx) })
	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return sb, inst
}

// alloc calls the exported bump allocator.
func alloc(t *testing.T, inst *sandbox.Instance, size uint32) uint32 {
	t.Helper()
	res, err := inst.Call(context.Background(), codegen.AllocatorName, uint64(size))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	return uint32(res[0])
}

// writeHeapInt places v little-endian into size bytes of fresh memory.
func writeHeapInt(t *testing.T, inst *sandbox.Instance, v *big.Int, size uint32) uint32 {
	t.Helper()
	ptr := alloc(t, inst, size)
	buf := make([]byte, size)
	for i, b := range v.Bytes() {
		buf[len(v.Bytes())-1-i] = b
	}
	if err := inst.WriteMemory(ptr, buf); err != nil {
		t.Fatal(err)
	}
	return ptr
}

func readHeapInt(t *testing.T, inst *sandbox.Instance, ptr, size uint32) *big.Int {
	t.Helper()
	buf, err := inst.ReadMemory(ptr, size)
	if err != nil {
		t.Fatal(err)
	}
	be := make([]byte, size)
	for i, b := range buf {
		be[int(size)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

func bigPow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

func TestSwapBytes(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{
			SwapI32BytesName: SwapI32Bytes(ctx),
			SwapI64BytesName: SwapI64Bytes(ctx),
		}
	})
	ctx := context.Background()

	tests32 := []struct{ in, want uint32 }{
		{0x00000000, 0x00000000},
		{0x12345678, 0x78563412},
		{0xFF000000, 0x000000FF},
		{0xDEADBEEF, 0xEFBEADDE},
	}
	for _, tt := range tests32 {
		res, err := inst.Call(ctx, SwapI32BytesName, uint64(tt.in))
		if err != nil {
			t.Fatal(err)
		}
		if got := uint32(res[0]); got != tt.want {
			t.Errorf("swap_i32(%08x): got %08x, want %08x", tt.in, got, tt.want)
		}
	}

	tests64 := []struct{ in, want uint64 }{
		{0x0000000000000000, 0x0000000000000000},
		{0x0123456789ABCDEF, 0xEFCDAB8967452301},
		{0xFF00000000000000, 0x00000000000000FF},
	}
	for _, tt := range tests64 {
		res, err := inst.Call(ctx, SwapI64BytesName, tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := res[0]; got != tt.want {
			t.Errorf("swap_i64(%016x): got %016x, want %016x", tt.in, got, tt.want)
		}
	}
}

func TestAddU32(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{AddU32Name: AddU32(ctx)}
	})
	ctx := context.Background()

	ok := []struct{ a, b, want uint32 }{
		{0, 0, 0},
		{1, 2, 3},
		{0xFFFFFFFE, 1, 0xFFFFFFFF},
		{0xFFFFFFFF, 0, 0xFFFFFFFF},
	}
	for _, tt := range ok {
		res, err := inst.Call(ctx, AddU32Name, uint64(tt.a), uint64(tt.b))
		if err != nil {
			t.Fatalf("add_u32(%d,%d): %v", tt.a, tt.b, err)
		}
		if got := uint32(res[0]); got != tt.want {
			t.Errorf("add_u32(%d,%d): got %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	traps := [][2]uint32{{0xFFFFFFFF, 1}, {0x80000000, 0x80000000}, {0xFFFFFFFF, 0xFFFFFFFF}}
	for _, tt := range traps {
		if _, err := inst.Call(ctx, AddU32Name, uint64(tt[0]), uint64(tt[1])); err == nil {
			t.Errorf("add_u32(%d,%d): expected trap", tt[0], tt[1])
		}
	}
}

func TestAddU64(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{AddU64Name: AddU64(ctx)}
	})
	ctx := context.Background()

	res, err := inst.Call(ctx, AddU64Name, ^uint64(0)-42, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got := res[0]; got != ^uint64(0) {
		t.Errorf("add_u64: got %d, want %d", got, ^uint64(0))
	}
	if _, err := inst.Call(ctx, AddU64Name, ^uint64(0), 1); err == nil {
		t.Error("add_u64 max+1: expected trap")
	}
}

func TestCheckOverflowU8U16(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{CheckOverflowName: CheckOverflowU8U16(ctx)}
	})
	ctx := context.Background()

	res, err := inst.Call(ctx, CheckOverflowName, 255, 255)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 255 {
		t.Errorf("check_overflow(255,255): got %d", res[0])
	}
	if _, err := inst.Call(ctx, CheckOverflowName, 256, 255); err == nil {
		t.Error("check_overflow(256,255): expected trap")
	}
	if _, err := inst.Call(ctx, CheckOverflowName, 70000, 65535); err == nil {
		t.Error("check_overflow(70000,65535): expected trap")
	}
}

func TestHeapIntAdd(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{HeapIntAddName: HeapIntAdd(ctx)}
	})
	ctx := context.Background()

	for _, size := range []uint32{16, 32} {
		maxVal := new(big.Int).Sub(bigPow2(uint(size*8)), big.NewInt(1))
		tests := []struct{ a, b *big.Int }{
			{big.NewInt(0), big.NewInt(0)},
			{big.NewInt(1), big.NewInt(2)},
			{new(big.Int).Sub(maxVal, big.NewInt(42)), big.NewInt(42)},
			{new(big.Int).Sub(bigPow2(64), big.NewInt(1)), big.NewInt(1)}, // carry across limb 0
			{new(big.Int).Sub(bigPow2(uint(size*8)-64), big.NewInt(1)), big.NewInt(1)},
		}
		for _, tt := range tests {
			p1 := writeHeapInt(t, inst, tt.a, size)
			p2 := writeHeapInt(t, inst, tt.b, size)
			res, err := inst.Call(ctx, HeapIntAddName, uint64(p1), uint64(p2), uint64(size))
			if err != nil {
				t.Fatalf("size %d: %s + %s: %v", size, tt.a, tt.b, err)
			}
			want := new(big.Int).Add(tt.a, tt.b)
			if got := readHeapInt(t, inst, uint32(res[0]), size); got.Cmp(want) != 0 {
				t.Errorf("size %d: %s + %s: got %s", size, tt.a, tt.b, got)
			}
		}

		// max + 1 traps, and the revert payload carries "Overflow".
		p1 := writeHeapInt(t, inst, maxVal, size)
		p2 := writeHeapInt(t, inst, big.NewInt(1), size)
		if _, err := inst.Call(ctx, HeapIntAddName, uint64(p1), uint64(p2), uint64(size)); err == nil {
			t.Fatalf("size %d: max+1: expected trap", size)
		}
	}
}

func TestHeapIntSub(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{HeapIntSubName: HeapIntSub(ctx)}
	})
	ctx := context.Background()

	size := uint32(32)
	tests := []struct{ a, b *big.Int }{
		{big.NewInt(5), big.NewInt(3)},
		{bigPow2(128), big.NewInt(1)}, // borrow across limbs
		{new(big.Int).Sub(bigPow2(256), big.NewInt(1)), new(big.Int).Sub(bigPow2(256), big.NewInt(1))},
	}
	for _, tt := range tests {
		p1 := writeHeapInt(t, inst, tt.a, size)
		p2 := writeHeapInt(t, inst, tt.b, size)
		res, err := inst.Call(ctx, HeapIntSubName, uint64(p1), uint64(p2), uint64(size))
		if err != nil {
			t.Fatalf("%s - %s: %v", tt.a, tt.b, err)
		}
		want := new(big.Int).Sub(tt.a, tt.b)
		if got := readHeapInt(t, inst, uint32(res[0]), size); got.Cmp(want) != 0 {
			t.Errorf("%s - %s: got %s", tt.a, tt.b, got)
		}
	}

	p1 := writeHeapInt(t, inst, big.NewInt(1), size)
	p2 := writeHeapInt(t, inst, big.NewInt(2), size)
	if _, err := inst.Call(ctx, HeapIntSubName, uint64(p1), uint64(p2), uint64(size)); err == nil {
		t.Error("1 - 2: expected trap")
	}
}

func TestHeapIntMul(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{
			"heap_int_mul_16": HeapIntMul(ctx, 16),
			"heap_int_mul_32": HeapIntMul(ctx, 32),
		}
	})
	ctx := context.Background()

	for _, size := range []uint32{16, 32} {
		name := "heap_int_mul_16"
		if size == 32 {
			name = "heap_int_mul_32"
		}
		width := uint(size * 8)
		half := new(big.Int).Sub(bigPow2(width/2), big.NewInt(1))
		tests := []struct{ a, b *big.Int }{
			{big.NewInt(0), big.NewInt(12345)},
			{big.NewInt(7), big.NewInt(6)},
			{half, half}, // largest product that stays in range
			{new(big.Int).Sub(bigPow2(width), big.NewInt(1)), big.NewInt(1)},
		}
		for _, tt := range tests {
			p1 := writeHeapInt(t, inst, tt.a, size)
			p2 := writeHeapInt(t, inst, tt.b, size)
			res, err := inst.Call(ctx, name, uint64(p1), uint64(p2))
			if err != nil {
				t.Fatalf("size %d: %s * %s: %v", size, tt.a, tt.b, err)
			}
			want := new(big.Int).Mul(tt.a, tt.b)
			if got := readHeapInt(t, inst, uint32(res[0]), size); got.Cmp(want) != 0 {
				t.Errorf("size %d: %s * %s: got %s, want %s", size, tt.a, tt.b, got, want)
			}
		}

		// 2^(width/2) squared == 2^width: one past the edge.
		over := bigPow2(width / 2)
		p1 := writeHeapInt(t, inst, over, size)
		p2 := writeHeapInt(t, inst, over, size)
		if _, err := inst.Call(ctx, name, uint64(p1), uint64(p2)); err == nil {
			t.Errorf("size %d: 2^%d squared: expected trap", size, width/2)
		}
	}
}

func TestHeapIntDivMod(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{
			"heap_int_divmod_16": HeapIntDivMod(ctx, 16),
			"heap_int_divmod_32": HeapIntDivMod(ctx, 32),
		}
	})
	ctx := context.Background()

	u128max := new(big.Int).Sub(bigPow2(128), big.NewInt(1))
	tests := []struct {
		size uint32
		a, b *big.Int
	}{
		{16, big.NewInt(350), big.NewInt(13)},
		{16, big.NewInt(7), big.NewInt(9)},
		{16, u128max, big.NewInt(42)},
		{16, u128max, u128max},
		{32, new(big.Int).Sub(bigPow2(256), big.NewInt(1)), big.NewInt(3)},
		{32, bigPow2(255), new(big.Int).Add(bigPow2(128), big.NewInt(17))},
		{32, big.NewInt(0), big.NewInt(5)},
	}
	for _, tt := range tests {
		name := "heap_int_divmod_16"
		if tt.size == 32 {
			name = "heap_int_divmod_32"
		}
		p1 := writeHeapInt(t, inst, tt.a, tt.size)
		p2 := writeHeapInt(t, inst, tt.b, tt.size)
		res, err := inst.Call(ctx, name, uint64(p1), uint64(p2))
		if err != nil {
			t.Fatalf("%s / %s: %v", tt.a, tt.b, err)
		}
		wantQ := new(big.Int).Div(tt.a, tt.b)
		wantR := new(big.Int).Mod(tt.a, tt.b)
		if got := readHeapInt(t, inst, uint32(res[0]), tt.size); got.Cmp(wantQ) != 0 {
			t.Errorf("%s / %s: quotient got %s, want %s", tt.a, tt.b, got, wantQ)
		}
		if got := readHeapInt(t, inst, uint32(res[1]), tt.size); got.Cmp(wantR) != 0 {
			t.Errorf("%s %% %s: remainder got %s, want %s", tt.a, tt.b, got, wantR)
		}
	}

	p1 := writeHeapInt(t, inst, big.NewInt(1), 16)
	p2 := writeHeapInt(t, inst, big.NewInt(0), 16)
	if _, err := inst.Call(ctx, "heap_int_divmod_16", uint64(p1), uint64(p2)); err == nil {
		t.Error("divide by zero: expected trap")
	}
}

func TestDowncasts(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{
			DowncastToU32Name:  DowncastHeapToU32(ctx),
			DowncastToU64Name:  DowncastHeapToU64(ctx),
			"upcast_to_heap_16": UpcastToHeap(ctx, 16),
		}
	})
	ctx := context.Background()

	p := writeHeapInt(t, inst, big.NewInt(0xABCD), 16)
	res, err := inst.Call(ctx, DowncastToU32Name, uint64(p), 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := uint32(res[0]); got != 0xABCD {
		t.Errorf("downcast u32: got %#x", got)
	}

	p = writeHeapInt(t, inst, bigPow2(40), 16)
	res, err = inst.Call(ctx, DowncastToU64Name, uint64(p), 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := res[0]; got != 1<<40 {
		t.Errorf("downcast u64: got %#x", got)
	}

	p = writeHeapInt(t, inst, bigPow2(33), 16)
	if _, err := inst.Call(ctx, DowncastToU32Name, uint64(p), 16); err == nil {
		t.Error("downcast u32 of 2^33: expected trap")
	}
	p = writeHeapInt(t, inst, bigPow2(77), 16)
	if _, err := inst.Call(ctx, DowncastToU64Name, uint64(p), 16); err == nil {
		t.Error("downcast u64 of 2^77: expected trap")
	}

	res, err = inst.Call(ctx, "upcast_to_heap_16", 0xDEADBEEF)
	if err != nil {
		t.Fatal(err)
	}
	if got := readHeapInt(t, inst, uint32(res[0]), 16); got.Cmp(big.NewInt(0xDEADBEEF)) != 0 {
		t.Errorf("upcast: got %s", got)
	}
}

func TestValidatePointer32(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{ValidatePointerName: ValidatePointer32(ctx)}
	})
	ctx := context.Background()

	res, err := inst.Call(ctx, ValidatePointerName, 0xFFFFFFFF)
	if err != nil {
		t.Fatal(err)
	}
	if got := uint32(res[0]); got != 0xFFFFFFFF {
		t.Errorf("validate_pointer: got %#x", got)
	}
	if _, err := inst.Call(ctx, ValidatePointerName, 1<<32); err == nil {
		t.Error("validate_pointer(2^32): expected trap")
	}
}

func TestIsZeroAndEquality(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{
			IsZeroName:           IsZero(ctx),
			HeapTypeEqualityName: HeapTypeEquality(ctx),
		}
	})
	ctx := context.Background()

	zero := alloc(t, inst, 32)
	nonzero := alloc(t, inst, 32)
	if err := inst.WriteMemory(nonzero+31, []byte{1}); err != nil {
		t.Fatal(err)
	}

	res, err := inst.Call(ctx, IsZeroName, uint64(zero), 32)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 1 {
		t.Error("is_zero on zero bytes: got 0")
	}
	res, err = inst.Call(ctx, IsZeroName, uint64(nonzero), 32)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 0 {
		t.Error("is_zero on non-zero bytes: got 1")
	}

	res, err = inst.Call(ctx, HeapTypeEqualityName, uint64(zero), uint64(nonzero), 32)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 0 {
		t.Error("equality of distinct buffers: got 1")
	}
	res, err = inst.Call(ctx, HeapTypeEqualityName, uint64(nonzero), uint64(nonzero), 32)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 1 {
		t.Error("equality of identical buffer: got 0")
	}
}

func TestU64ToAsciiBase10(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{U64ToAsciiBase10Name: U64ToAsciiBase10(ctx)}
	})
	ctx := context.Background()

	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{123, "123"},
		{1000, "1000"},
		{123456789, "123456789"},
		{^uint64(0), "18446744073709551615"},
	}
	for _, tt := range tests {
		res, err := inst.Call(ctx, U64ToAsciiBase10Name, tt.in)
		if err != nil {
			t.Fatal(err)
		}
		ptr := uint32(res[0])
		head, err := inst.ReadMemory(ptr, 1)
		if err != nil {
			t.Fatal(err)
		}
		digits, err := inst.ReadMemory(ptr+1, uint32(head[0]))
		if err != nil {
			t.Fatal(err)
		}
		if string(digits) != tt.want {
			t.Errorf("u64_to_ascii(%d): got %q, want %q", tt.in, digits, tt.want)
		}
	}
}

func TestVectorHelpers(t *testing.T) {
	elem := itypes.U32()
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{
			"vec_push":       VecPush(ctx, elem),
			"vec_pop":        VecPop(ctx, elem),
			"vec_elem_ptr_4": VecElemPtr(ctx, 4),
			"vec_swap_4":     VecSwap(ctx, 4),
		}
	})
	ctx := context.Background()

	// Start from an empty vector with zero capacity.
	vec := alloc(t, inst, uint32(itypes.VectorHeaderSize))
	if err := inst.WriteMemory(vec, make([]byte, itypes.VectorHeaderSize)); err != nil {
		t.Fatal(err)
	}

	for i := uint64(1); i <= 5; i++ {
		res, err := inst.Call(ctx, "vec_push", uint64(vec), i*10)
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		vec = uint32(res[0])
	}

	header, err := inst.ReadMemory(vec, 8)
	if err != nil {
		t.Fatal(err)
	}
	length := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	capacity := uint32(header[4]) | uint32(header[5])<<8 | uint32(header[6])<<16 | uint32(header[7])<<24
	if length != 5 {
		t.Errorf("length: got %d, want 5", length)
	}
	if capacity < length {
		t.Errorf("capacity %d below length %d", capacity, length)
	}

	// Elements in index order.
	for i := uint64(0); i < 5; i++ {
		res, err := inst.Call(ctx, "vec_elem_ptr_4", uint64(vec), i)
		if err != nil {
			t.Fatal(err)
		}
		buf, err := inst.ReadMemory(uint32(res[0]), 4)
		if err != nil {
			t.Fatal(err)
		}
		got := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		if want := uint32((i + 1) * 10); got != want {
			t.Errorf("elem %d: got %d, want %d", i, got, want)
		}
	}

	if _, err := inst.Call(ctx, "vec_elem_ptr_4", uint64(vec), 5); err == nil {
		t.Error("elem_ptr past length: expected trap")
	}

	if _, err := inst.Call(ctx, "vec_swap_4", uint64(vec), 0, 4); err != nil {
		t.Fatal(err)
	}
	res, err := inst.Call(ctx, "vec_pop", uint64(vec))
	if err != nil {
		t.Fatal(err)
	}
	if got := uint32(res[0]); got != 10 {
		t.Errorf("pop after swap: got %d, want 10", got)
	}

	// Drain and hit the empty-pop trap.
	for i := 0; i < 4; i++ {
		if _, err := inst.Call(ctx, "vec_pop", uint64(vec)); err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
	}
	if _, err := inst.Call(ctx, "vec_pop", uint64(vec)); err == nil {
		t.Error("pop from empty vector: expected trap")
	}
}

func TestErrorStringPayload(t *testing.T) {
	payload := ErrorStringPayload("Overflow")
	if !bytes.Equal(payload[:4], ErrorSelector[:]) {
		t.Errorf("selector: got %x", payload[:4])
	}
	if payload[4+31] != 0x20 {
		t.Error("head word missing 0x20 marker")
	}
	if payload[4+32+31] != 8 {
		t.Errorf("length word: got %d, want 8", payload[4+32+31])
	}
	if string(payload[68:76]) != "Overflow" {
		t.Errorf("message: got %q", payload[68:76])
	}
	if len(payload)%32 != 4 {
		t.Errorf("payload length %d not selector+words", len(payload))
	}
	if len(payload) != 4+32+32+32 {
		t.Errorf("payload length: got %d, want 100", len(payload))
	}
}

func TestRevertPayloadReachesHost(t *testing.T) {
	_, inst := buildInstance(t, func(ctx *codegen.Context) map[string]wasm.FuncID {
		return map[string]wasm.FuncID{AddU32Name: AddU32(ctx)}
	})
	ctx := context.Background()
	if _, err := inst.Call(ctx, AddU32Name, 0xFFFFFFFF, 1); err == nil {
		t.Fatal("expected trap")
	}
	// The revert helper published the payload before trapping; a fresh
	// entrypoint-driven test asserts its content in the translate package,
	// here it is enough that the trap carried through the sandbox.
}
