package wasm

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
)

func TestEncodeHeader(t *testing.T) {
	m := NewModule()
	got := m.Encode()
	want := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("empty module: got %x, want %x", got, want)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	build := func() []byte {
		m := NewModule()
		m.AddImportFunc("vm_hooks", "native_keccak256", FuncType{Params: []ValType{I32, I32, I32}})
		m.AddMemory(1, nil)
		g := m.AddGlobal(I32, true, I32InitExpr(1024))
		m.AddData(0, []byte{1, 2, 3, 4})
		b := m.NewBuilder("bump", []ValType{I32}, []ValType{I32})
		b.GlobalGet(g).LocalGet(0).I32Add().GlobalSet(g).GlobalGet(g)
		id := b.Finish()
		m.AddExport("memory", KindMemory, 0)
		m.AddExport("bump", KindFunc, uint32(id))
		return m.Encode()
	}
	a, b := build(), build()
	if !bytes.Equal(a, b) {
		t.Error("two identical builds produced different bytes")
	}
}

// TestEncodeValidates compiles a representative generated module under
// wazero to check that every section and instruction encoding is well formed.
func TestEncodeValidates(t *testing.T) {
	m := NewModule()
	keccak := m.AddImportFunc("vm_hooks", "native_keccak256", FuncType{Params: []ValType{I32, I32, I32}})
	m.AddMemory(1, nil)
	next := m.AddGlobal(I32, true, I32InitExpr(2048))
	m.AddData(0, bytes.Repeat([]byte{0xAA}, 64))

	alloc := m.NewBuilder("alloc", []ValType{I32}, []ValType{I32})
	ptr := alloc.AddLocal(I32)
	alloc.GlobalGet(next).LocalSet(ptr)
	alloc.GlobalGet(next).LocalGet(alloc.Param(0)).I32Add().GlobalSet(next)
	alloc.LocalGet(ptr)
	allocID := alloc.Finish()

	b := m.NewBuilder("hash64", []ValType{I32}, []ValType{I32})
	out := b.AddLocal(I32)
	b.I32Const(32).Call(allocID).LocalSet(out)
	b.Block(NoResult, func(end Label) {
		b.Loop(NoResult, func(head Label) {
			b.LocalGet(b.Param(0)).I32Eqz().BrIf(end)
			b.LocalGet(b.Param(0)).I32Const(1).I32Sub().LocalSet(b.Param(0))
			b.Br(head)
		})
	})
	b.LocalGet(b.Param(0)).I32Const(64).LocalGet(out).Call(keccak)
	b.LocalGet(out)
	id := b.Finish()

	m.AddExport("memory", KindMemory, 0)
	m.AddExport("hash64", KindFunc, uint32(id))

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	if _, err := rt.CompileModule(ctx, m.Encode()); err != nil {
		t.Fatalf("generated module does not validate: %v", err)
	}
}

func TestI32InitExpr(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{OpI32Const, 0x00, OpEnd}},
		{1, []byte{OpI32Const, 0x01, OpEnd}},
		{64, []byte{OpI32Const, 0xC0, 0x00, OpEnd}},
		{1024, []byte{OpI32Const, 0x80, 0x08, OpEnd}},
	}
	for _, tt := range tests {
		if got := I32InitExpr(tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("I32InitExpr(%d): got %x, want %x", tt.v, got, tt.want)
		}
	}
}
