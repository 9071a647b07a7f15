package abi

import (
	"bytes"
	"context"
	stderrors "errors"
	"math/big"
	"testing"

	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/sandbox"
	"github.com/rather-labs/move-wasm/wasm"
)

// word builds one 32-byte big-endian ABI word.
func word(v *big.Int) []byte {
	out := make([]byte, 32)
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func wordU(v uint64) []byte { return word(new(big.Int).SetUint64(v)) }

// buildRoundTrip compiles a module whose exported "roundtrip" function
// unpacks the given parameter types from calldata and packs them straight
// back, returning (buf_ptr, buf_len).
func buildRoundTrip(t *testing.T, types []itypes.Type, register func(*codegen.Context)) (*sandbox.Sandbox, *sandbox.Instance) {
	t.Helper()
	cctx := codegen.NewContext(nil)
	if register != nil {
		register(cctx)
	}

	b := cctx.Module.NewBuilder("roundtrip",
		[]wasm.ValType{wasm.I32, wasm.I32}, []wasm.ValType{wasm.I32, wasm.I32})
	calldataPtr, calldataLen := b.Param(0), b.Param(1)
	end := b.AddLocal(wasm.I32)

	b.LocalGet(calldataPtr).GlobalSet(cctx.CalldataReader)
	b.LocalGet(calldataPtr).LocalGet(calldataLen).I32Add().LocalSet(end)

	dsts, err := EmitUnpackParams(cctx, b, types, end)
	if err != nil {
		t.Fatalf("unpack emit: %v", err)
	}
	buf, length, err := EmitPackValues(cctx, b, types, dsts)
	if err != nil {
		t.Fatalf("pack emit: %v", err)
	}
	b.LocalGet(buf).LocalGet(length)
	id := b.Finish()

	cctx.Module.AddExport("roundtrip", wasm.KindFunc, uint32(id))
	cctx.Module.AddExport(codegen.AllocatorName, wasm.KindFunc, uint32(cctx.Allocator))

	ctx := context.Background()
	sb, err2 := sandbox.New(ctx, cctx.Module.Encode())
	if err2 != nil {
		t.Fatalf("sandbox: %v", err2)
	}
	t.Cleanup(func() { sb.Close(ctx) })
	inst, err2 := sb.Instantiate(ctx)
	if err2 != nil {
		t.Fatalf("instantiate: %v", err2)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return sb, inst
}

// roundTrip feeds calldata through the module and returns the re-packed
// bytes, or an error on trap.
func roundTrip(t *testing.T, inst *sandbox.Instance, calldata []byte) ([]byte, error) {
	t.Helper()
	ctx := context.Background()
	res, err := inst.Call(ctx, codegen.AllocatorName, uint64(len(calldata)))
	if err != nil {
		t.Fatal(err)
	}
	ptr := uint32(res[0])
	if err := inst.WriteMemory(ptr, calldata); err != nil {
		t.Fatal(err)
	}
	res, err = inst.Call(ctx, "roundtrip", uint64(ptr), uint64(len(calldata)))
	if err != nil {
		return nil, err
	}
	out, err := inst.ReadMemory(uint32(res[0]), uint32(res[1]))
	if err != nil {
		t.Fatal(err)
	}
	return out, nil
}

func TestScalarRoundTrip(t *testing.T) {
	types := []itypes.Type{
		itypes.Bool(), itypes.U8(), itypes.U16(), itypes.U32(), itypes.U64(),
	}
	_, inst := buildRoundTrip(t, types, nil)

	calldata := bytes.Join([][]byte{
		wordU(1), wordU(255), wordU(0xBEEF), wordU(0xDEADBEEF), wordU(1 << 63),
	}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func TestHeapScalarRoundTrip(t *testing.T) {
	u128max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	u256big, _ := new(big.Int).SetString("113427455640312821154458202477256070485", 10)
	addr := new(big.Int).SetBytes(bytes.Repeat([]byte{0xA5}, 20))

	types := []itypes.Type{itypes.U128(), itypes.U256(), itypes.Address()}
	_, inst := buildRoundTrip(t, types, nil)

	calldata := bytes.Join([][]byte{
		word(u128max), word(u256big), word(addr),
	}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func TestVectorU128RoundTrip(t *testing.T) {
	u128max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	types := []itypes.Type{itypes.VectorOf(itypes.U128())}
	_, inst := buildRoundTrip(t, types, nil)

	calldata := bytes.Join([][]byte{
		wordU(0x20), // offset
		wordU(3),    // length
		wordU(1), wordU(2), word(u128max),
	}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func TestNestedVectorRoundTrip(t *testing.T) {
	// [[1,2,3],[4,5,6]] as uint32[][], exactly abi.encode's layout.
	types := []itypes.Type{itypes.VectorOf(itypes.VectorOf(itypes.U32()))}
	_, inst := buildRoundTrip(t, types, nil)

	calldata := bytes.Join([][]byte{
		wordU(0x20), // offset to the outer array
		wordU(2),    // outer length
		wordU(0x40), // inner 0, relative to the first element slot
		wordU(0xC0), // inner 1
		wordU(3), wordU(1), wordU(2), wordU(3),
		wordU(3), wordU(4), wordU(5), wordU(6),
	}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func TestEmptyVectorRoundTrip(t *testing.T) {
	types := []itypes.Type{itypes.VectorOf(itypes.U64())}
	_, inst := buildRoundTrip(t, types, nil)

	calldata := bytes.Join([][]byte{wordU(0x20), wordU(0)}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func registerPairStruct(cctx *codegen.Context) {
	mod := cctx.RegisterModule("pairs")
	cctx.RegisterStruct(&itypes.IStruct{
		Module:     mod,
		Index:      0,
		Identifier: "Pair",
		Fields:     []itypes.Type{itypes.U64(), itypes.U256()},
		FieldNames: []string{"lo", "hi"},
	})
	cctx.RegisterStruct(&itypes.IStruct{
		Module:     mod,
		Index:      1,
		Identifier: "Tagged",
		Fields:     []itypes.Type{itypes.U32(), itypes.VectorOf(itypes.U8())},
		FieldNames: []string{"tag", "data"},
	})
}

func TestStaticStructRoundTrip(t *testing.T) {
	types := []itypes.Type{itypes.StructType(0, 0)}
	_, inst := buildRoundTrip(t, types, registerPairStruct)

	calldata := bytes.Join([][]byte{wordU(5), wordU(700)}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func TestDynamicStructRoundTrip(t *testing.T) {
	types := []itypes.Type{itypes.StructType(0, 1)}
	_, inst := buildRoundTrip(t, types, registerPairStruct)

	calldata := bytes.Join([][]byte{
		wordU(0x20), // offset to the tuple
		wordU(7),    // tag
		wordU(0x40), // offset to data, relative to tuple start
		wordU(3),    // data length
		{1, 2, 3}, bytes.Repeat([]byte{0}, 29), // data, right-padded
	}, nil)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}

func TestInvalidOffsetWordTraps(t *testing.T) {
	types := []itypes.Type{itypes.VectorOf(itypes.U8())}
	_, inst := buildRoundTrip(t, types, nil)

	// Offset word with a bit above 31 set.
	bad := wordU(0x20)
	bad[7] = 0x01
	calldata := bytes.Join([][]byte{bad, wordU(0)}, nil)
	if _, err := roundTrip(t, inst, calldata); err == nil {
		t.Error("expected trap for over-wide offset word")
	}
}

func TestVectorPastCalldataEndTraps(t *testing.T) {
	types := []itypes.Type{itypes.VectorOf(itypes.U8())}
	_, inst := buildRoundTrip(t, types, nil)

	// Length claims 100 elements but calldata ends after the length word.
	calldata := bytes.Join([][]byte{wordU(0x20), wordU(100)}, nil)
	if _, err := roundTrip(t, inst, calldata); err == nil {
		t.Error("expected trap for length past calldata end")
	}
}

func TestPackUninstantiatedParameterFails(t *testing.T) {
	cctx := codegen.NewContext(nil)
	b := cctx.Module.NewBuilder("f", nil, nil)
	src := b.AddLocal(wasm.I32)
	_, _, err := EmitPackValues(cctx, b, []itypes.Type{itypes.TypeParameter(0)}, []wasm.LocalID{src})
	if !stderrors.Is(err, errors.New(errors.PhaseAbiPack, errors.KindUninstantiated)) {
		t.Errorf("expected uninstantiated error, got %v", err)
	}
}

func TestUnpackRefInRefFails(t *testing.T) {
	cctx := codegen.NewContext(nil)
	b := cctx.Module.NewBuilder("f", nil, nil)
	end := b.AddLocal(wasm.I32)
	bad := itypes.ImmRefTo(itypes.ImmRefTo(itypes.U64()))
	_, err := EmitUnpackParams(cctx, b, []itypes.Type{bad}, end)
	if !stderrors.Is(err, errors.New(errors.PhaseAbiUnpack, errors.KindRefInRef)) {
		t.Errorf("expected ref-in-ref error, got %v", err)
	}
}

func TestReferenceParameterRoundTrip(t *testing.T) {
	types := []itypes.Type{itypes.ImmRefTo(itypes.U64())}
	_, inst := buildRoundTrip(t, types, nil)

	calldata := wordU(42)
	got, err := roundTrip(t, inst, calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, calldata) {
		t.Errorf("round trip:\n got %x\nwant %x", got, calldata)
	}
}
