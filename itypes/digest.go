package itypes

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"
)

// Fixed siphash key: instantiation digests must be stable across processes
// so that two compilations of the same input emit identical function names.
const (
	digestK0 = 0x6d6f76652d746f2d // "move-to-"
	digestK1 = 0x7761736d2e696431 // "wasm.id1"
)

// InstantiationDigest returns a short stable digest identifying a generic
// definition together with its type arguments. It keys the memoization of
// monomorphized functions and native operations.
func InstantiationDigest(module, index uint16, args []Type) string {
	h := siphash.New(digestKey())
	var idx [4]byte
	binary.LittleEndian.PutUint16(idx[0:2], module)
	binary.LittleEndian.PutUint16(idx[2:4], index)
	h.Write(idx[:])
	for _, a := range args {
		writeType(h, a)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// TypesDigest digests a bare type list, for runtime routines that are
// generic over types but not tied to a definition.
func TypesDigest(args []Type) string {
	h := siphash.New(digestKey())
	for _, a := range args {
		writeType(h, a)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func digestKey() []byte {
	var key [16]byte
	binary.LittleEndian.PutUint64(key[:8], digestK0)
	binary.LittleEndian.PutUint64(key[8:], digestK1)
	return key[:]
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

// writeType serializes a type unambiguously: every node contributes its tag,
// definition coordinates and child count, so distinct trees never collide by
// concatenation.
func writeType(w byteWriter, t Type) {
	var node [7]byte
	node[0] = byte(t.Kind)
	binary.LittleEndian.PutUint16(node[1:3], t.Module)
	binary.LittleEndian.PutUint16(node[3:5], t.Index)
	binary.LittleEndian.PutUint16(node[5:7], t.Param)
	w.Write(node[:])
	if t.Inner != nil {
		w.Write([]byte{1})
		writeType(w, *t.Inner)
	} else {
		w.Write([]byte{0})
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(t.TypeArgs)))
	w.Write(n[:])
	for _, a := range t.TypeArgs {
		writeType(w, a)
	}
}
