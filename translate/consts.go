package translate

import (
	"encoding/binary"
	"math/big"

	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/movebc"
	"github.com/rather-labs/move-wasm/wasm"
)

// ldConst materializes a constant-pool entry at its use site. The pool
// carries BCS bytes; decoding happens here at compile time and the value is
// rebuilt in fresh memory per use, so later mutation of a moved constant
// never aliases the pool.
func (fs *funcState) ldConst(instr *movebc.Instruction) error {
	if int(instr.Imm) >= len(fs.t.mod.Constants) {
		return errors.InvalidBytecode("constant %d out of range (%d constants)",
			instr.Imm, len(fs.t.mod.Constants))
	}
	c := fs.t.mod.Constants[instr.Imm]

	r := &bcsReader{data: c.Data}
	if err := fs.emitConstValue(c.Type, r); err != nil {
		return err
	}
	if r.off != len(r.data) {
		return errors.InvalidBytecode("constant %d: %d trailing bytes after %s",
			instr.Imm, len(r.data)-r.off, c.Type)
	}
	fs.push(c.Type)
	return nil
}

// emitConstValue decodes one BCS value of type t and emits the code that
// leaves it on the wasm stack: scalars as immediates, heap values as
// pointers to freshly built memory. Move limits constants to primitives and
// vectors of them; anything else is a compile error.
func (fs *funcState) emitConstValue(t itypes.Type, r *bcsReader) error {
	b := fs.b
	switch t.Kind {
	case itypes.KindBool, itypes.KindU8:
		v, err := r.byte()
		if err != nil {
			return err
		}
		b.I32Const(int32(v))
		return nil

	case itypes.KindU16:
		raw, err := r.bytes(2)
		if err != nil {
			return err
		}
		b.I32Const(int32(binary.LittleEndian.Uint16(raw)))
		return nil

	case itypes.KindU32:
		raw, err := r.bytes(4)
		if err != nil {
			return err
		}
		b.I32Const(int32(binary.LittleEndian.Uint32(raw)))
		return nil

	case itypes.KindU64:
		raw, err := r.bytes(8)
		if err != nil {
			return err
		}
		b.I64Const(int64(binary.LittleEndian.Uint64(raw)))
		return nil

	case itypes.KindU128, itypes.KindU256:
		size, _ := t.HeapSize()
		raw, err := r.bytes(int(size))
		if err != nil {
			return err
		}
		be := make([]byte, size)
		for i, v := range raw {
			be[int(size)-1-i] = v
		}
		return fs.emitHeapIntValue(new(big.Int).SetBytes(be), t)

	case itypes.KindAddress:
		raw, err := r.bytes(32)
		if err != nil {
			return err
		}
		ptr := b.AddLocal(wasm.I32)
		b.I32Const(32).Call(fs.ctx().Allocator).LocalSet(ptr)
		for i := 0; i < 32; i += 8 {
			chunk := binary.LittleEndian.Uint64(raw[i:])
			if chunk != 0 {
				b.LocalGet(ptr).I64Const(int64(chunk)).I64Store(uint32(i))
			}
		}
		b.LocalGet(ptr)
		return nil

	case itypes.KindVector:
		elem := *t.Inner
		n, err := r.uleb()
		if err != nil {
			return err
		}
		slotSize := elem.WasmMemoryDataSize()

		vec := b.AddLocal(wasm.I32)
		b.I32Const(int32(itypes.VectorHeaderSize + uint32(n)*slotSize)).
			Call(fs.ctx().Allocator).LocalSet(vec)
		b.LocalGet(vec).I32Const(int32(n)).I32Store(0)
		b.LocalGet(vec).I32Const(int32(n)).I32Store(4)
		for i := uint32(0); i < n; i++ {
			b.LocalGet(vec)
			if err := fs.emitConstValue(elem, r); err != nil {
				return err
			}
			b.StoreKindOp(elem.StoreOp(), itypes.VectorHeaderSize+i*slotSize)
		}
		b.LocalGet(vec)
		return nil

	default:
		return errors.Unsupported(errors.PhaseTranslate,
			"constant of type "+t.String())
	}
}

// bcsReader walks a constant's BCS bytes.
type bcsReader struct {
	data []byte
	off  int
}

func (r *bcsReader) byte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, errors.InvalidBytecode("constant data truncated at offset %d", r.off)
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *bcsReader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errors.InvalidBytecode("constant data truncated at offset %d", r.off)
	}
	v := r.data[r.off : r.off+n]
	r.off += n
	return v, nil
}

// uleb reads a BCS sequence length (unsigned LEB128, capped at 32 bits).
func (r *bcsReader) uleb() (uint32, error) {
	var result uint32
	var shift uint
	for {
		v, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint32(v&0x7F) << shift
		if v&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errors.InvalidBytecode("constant length prefix overflows u32")
		}
	}
}
