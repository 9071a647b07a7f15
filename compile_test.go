package movewasm

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/movebc"
	"github.com/rather-labs/move-wasm/sandbox"
	"github.com/rather-labs/move-wasm/translate"
)

func word(v *big.Int) []byte {
	out := make([]byte, 32)
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func wordU(v uint64) []byte { return word(new(big.Int).SetUint64(v)) }

func selector(sig string) []byte {
	h := sandbox.Keccak256([]byte(sig))
	return h[:4]
}

func ins(op movebc.Opcode) movebc.Instruction { return movebc.Instruction{Op: op} }

func insImm(op movebc.Opcode, imm uint64) movebc.Instruction {
	return movebc.Instruction{Op: op, Imm: imm}
}

// invoke runs one entrypoint call on a fresh instance, mirroring the
// per-invocation memory wipe of the host.
func invoke(t *testing.T, sb *sandbox.Sandbox, calldata []byte) (int32, []byte, bool) {
	t.Helper()
	ctx := context.Background()
	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer inst.Close(ctx)
	status, ret, trapped, err := inst.CallEntrypoint(ctx, calldata)
	if err != nil {
		t.Fatalf("entrypoint: %v", err)
	}
	return status, ret, trapped
}

func compileAndHost(t *testing.T, mod *movebc.Module) *sandbox.Sandbox {
	t.Helper()
	wasmBytes, err := Compile(mod, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ctx := context.Background()
	sb, err := sandbox.New(ctx, wasmBytes)
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { sb.Close(ctx) })
	return sb
}

// arithModule exercises arithmetic, ABI round trips, aborts and custom
// errors through the external ABI.
func arithModule() *movebc.Module {
	user := translate.UserModuleIndex
	errStruct := itypes.StructType(user, 0)
	vecU128 := itypes.VectorOf(itypes.U128())
	matrix := itypes.VectorOf(itypes.VectorOf(itypes.U32()))

	return &movebc.Module{
		ID: movebc.ModuleID{Name: "calc"},
		Structs: []movebc.StructDef{
			{
				Name:      "error_bad_input",
				Abilities: itypes.Abilities{Drop: true},
				Fields: []movebc.FieldDef{
					{Name: "code", Type: itypes.U32()},
					{Name: "msg", Type: itypes.VectorOf(itypes.U8())},
				},
			},
		},
		Handles: []movebc.FunctionHandle{
			{Module: "errors", Name: "revert", LocalIndex: -1},
		},
		Functions: []movebc.FunctionDef{
			{
				Name:    "add",
				IsEntry: true,
				Params:  []itypes.Type{itypes.U256(), itypes.U256()},
				Returns: []itypes.Type{itypes.U256()},
				Code: []movebc.Instruction{
					insImm(movebc.OpCopyLoc, 0),
					insImm(movebc.OpCopyLoc, 1),
					ins(movebc.OpAdd),
					ins(movebc.OpRet),
				},
			},
			{
				Name:    "echo_vec",
				IsEntry: true,
				Params:  []itypes.Type{vecU128},
				Returns: []itypes.Type{vecU128},
				Code: []movebc.Instruction{
					insImm(movebc.OpMoveLoc, 0),
					ins(movebc.OpRet),
				},
			},
			{
				Name:    "echo_matrix",
				IsEntry: true,
				Params:  []itypes.Type{matrix},
				Returns: []itypes.Type{matrix},
				Code: []movebc.Instruction{
					insImm(movebc.OpMoveLoc, 0),
					ins(movebc.OpRet),
				},
			},
			{
				Name:    "fail",
				IsEntry: true,
				Code: []movebc.Instruction{
					insImm(movebc.OpLdU64, 123),
					ins(movebc.OpAbort),
				},
			},
			{
				Name:    "bad_input",
				IsEntry: true,
				Code: []movebc.Instruction{
					insImm(movebc.OpLdU32, 7),
					insImm(movebc.OpLdU8, 1),
					insImm(movebc.OpLdU8, 2),
					insImm(movebc.OpLdU8, 3),
					{Op: movebc.OpVecPack, Imm: 3, ElemType: typePtr(itypes.U8())},
					{Op: movebc.OpPack, StructIdx: 0},
					{Op: movebc.OpCallGeneric, HandleIdx: 0, TypeArgs: []itypes.Type{errStruct}},
					ins(movebc.OpRet),
				},
			},
		},
	}
}

func typePtr(t itypes.Type) *itypes.Type { return &t }

func TestU256AddWithCarry(t *testing.T) {
	sb := compileAndHost(t, arithModule())
	sel := selector("add(uint256,uint256)")

	u256max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	almost := new(big.Int).Sub(u256max, big.NewInt(42))

	calldata := append(append(append([]byte{}, sel...), word(almost)...), wordU(42)...)
	status, ret, trapped := invoke(t, sb, calldata)
	if trapped || status != 0 {
		t.Fatalf("add: status=%d trapped=%v", status, trapped)
	}
	if !bytes.Equal(ret, word(u256max)) {
		t.Errorf("add result: got %x", ret)
	}

	// One more overflows: the revert blob leads with the Error(string)
	// selector and carries "Overflow".
	calldata = append(append(append([]byte{}, sel...), word(u256max)...), wordU(1)...)
	_, ret, trapped = invoke(t, sb, calldata)
	if !trapped {
		t.Fatal("max+1: expected trap")
	}
	if !bytes.Equal(ret[:4], []byte{0x08, 0xC3, 0x79, 0xA0}) {
		t.Errorf("revert selector: got %x", ret[:4])
	}
	if !bytes.Contains(ret, []byte("Overflow")) {
		t.Errorf("revert blob missing Overflow: %x", ret)
	}
}

func TestVectorU128RoundTripThroughEntrypoint(t *testing.T) {
	sb := compileAndHost(t, arithModule())
	sel := selector("echoVec(uint128[])")

	u128max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	payload := bytes.Join([][]byte{
		wordU(0x20), wordU(3), wordU(1), wordU(2), word(u128max),
	}, nil)
	calldata := append(append([]byte{}, sel...), payload...)

	status, ret, trapped := invoke(t, sb, calldata)
	if trapped || status != 0 {
		t.Fatalf("echo_vec: status=%d trapped=%v", status, trapped)
	}
	if !bytes.Equal(ret, payload) {
		t.Errorf("echo_vec:\n got %x\nwant %x", ret, payload)
	}
}

func TestNestedVectorPackMatchesSolidity(t *testing.T) {
	sb := compileAndHost(t, arithModule())
	sel := selector("echoMatrix(uint32[][])")

	// abi.encode((uint32[][])([[1,2,3],[4,5,6]]))
	payload := bytes.Join([][]byte{
		wordU(0x20),
		wordU(2),
		wordU(0x40),
		wordU(0xC0),
		wordU(3), wordU(1), wordU(2), wordU(3),
		wordU(3), wordU(4), wordU(5), wordU(6),
	}, nil)
	calldata := append(append([]byte{}, sel...), payload...)

	status, ret, trapped := invoke(t, sb, calldata)
	if trapped || status != 0 {
		t.Fatalf("echo_matrix: status=%d trapped=%v", status, trapped)
	}
	if !bytes.Equal(ret, payload) {
		t.Errorf("echo_matrix:\n got %x\nwant %x", ret, payload)
	}
}

func TestAbortCodeRendersDecimal(t *testing.T) {
	sb := compileAndHost(t, arithModule())

	_, ret, trapped := invoke(t, sb, selector("fail()"))
	if !trapped {
		t.Fatal("fail(): expected trap")
	}
	if !bytes.Equal(ret[:4], []byte{0x08, 0xC3, 0x79, 0xA0}) {
		t.Errorf("revert selector: got %x", ret[:4])
	}
	// Error(string) layout: head word, length word, then the message.
	if got := binary.BigEndian.Uint32(ret[4+32+28 : 4+32+32]); got != 3 {
		t.Errorf("message length: got %d, want 3", got)
	}
	if string(ret[68:71]) != "123" {
		t.Errorf("message: got %q, want 123", ret[68:71])
	}
}

func TestCustomErrorBlob(t *testing.T) {
	sb := compileAndHost(t, arithModule())

	_, ret, trapped := invoke(t, sb, selector("badInput()"))
	if !trapped {
		t.Fatal("bad_input(): expected trap")
	}
	wantSel := selector("ErrorBadInput(uint32,uint8[])")
	if !bytes.Equal(ret[:4], wantSel) {
		t.Errorf("custom error selector: got %x, want %x", ret[:4], wantSel)
	}
	// abi.encode(uint32(7), uint8[]{1,2,3})
	wantBody := bytes.Join([][]byte{
		wordU(7),
		wordU(0x40),
		wordU(3),
		wordU(1), wordU(2), wordU(3),
	}, nil)
	if !bytes.Equal(ret[4:], wantBody) {
		t.Errorf("custom error body:\n got %x\nwant %x", ret[4:], wantBody)
	}
}

func TestUnknownSelectorReturnsOne(t *testing.T) {
	sb := compileAndHost(t, arithModule())
	status, _, trapped := invoke(t, sb, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if trapped {
		t.Fatal("unexpected trap")
	}
	if status != 1 {
		t.Errorf("status: got %d, want 1", status)
	}
}

// counterModule is a storage-backed object: create it, increment through a
// mutable borrow, read it back.
func counterModule() *movebc.Module {
	user := translate.UserModuleIndex
	counter := itypes.StructType(user, 0)
	uid := itypes.StructType(translate.ObjectModuleIndex, translate.UIDIndex)
	txRef := itypes.MutRefTo(itypes.StructType(translate.TxContextModuleIndex, translate.TxContextIndex))

	return &movebc.Module{
		ID: movebc.ModuleID{Name: "counter"},
		Structs: []movebc.StructDef{
			{
				Name:      "Counter",
				Abilities: itypes.Abilities{Key: true, Store: true},
				Fields: []movebc.FieldDef{
					{Name: "id", Type: uid},
					{Name: "value", Type: itypes.U64()},
				},
			},
		},
		Handles: []movebc.FunctionHandle{
			{Module: "object", Name: "new", LocalIndex: -1},
			{Module: "tx_context", Name: "sender", LocalIndex: -1},
			{Module: "transfer", Name: "transfer", LocalIndex: -1},
		},
		Functions: []movebc.FunctionDef{
			{
				Name:    "create",
				IsEntry: true,
				Params:  []itypes.Type{txRef},
				Locals:  []itypes.Type{counter},
				Code: []movebc.Instruction{
					insImm(movebc.OpCopyLoc, 0),
					{Op: movebc.OpCall, HandleIdx: 0}, // object::new
					insImm(movebc.OpLdU64, 0),
					{Op: movebc.OpPack, StructIdx: 0},
					insImm(movebc.OpStLoc, 1),
					insImm(movebc.OpMoveLoc, 1),
					insImm(movebc.OpCopyLoc, 0),
					{Op: movebc.OpCall, HandleIdx: 1}, // tx_context::sender
					{Op: movebc.OpCallGeneric, HandleIdx: 2, TypeArgs: []itypes.Type{counter}},
					ins(movebc.OpRet),
				},
			},
			{
				Name:    "increment",
				IsEntry: true,
				Params:  []itypes.Type{itypes.MutRefTo(counter)},
				Locals:  []itypes.Type{itypes.MutRefTo(itypes.U64())},
				Code: []movebc.Instruction{
					insImm(movebc.OpCopyLoc, 0),
					{Op: movebc.OpMutBorrowField, StructIdx: 0, FieldIdx: 1},
					insImm(movebc.OpStLoc, 1),
					insImm(movebc.OpCopyLoc, 1),
					ins(movebc.OpReadRef),
					insImm(movebc.OpLdU64, 1),
					ins(movebc.OpAdd),
					insImm(movebc.OpCopyLoc, 1),
					ins(movebc.OpWriteRef),
					ins(movebc.OpRet),
				},
			},
			{
				Name:    "get",
				IsEntry: true,
				Params:  []itypes.Type{itypes.ImmRefTo(counter)},
				Returns: []itypes.Type{itypes.U64()},
				Code: []movebc.Instruction{
					insImm(movebc.OpCopyLoc, 0),
					{Op: movebc.OpImmBorrowField, StructIdx: 0, FieldIdx: 1},
					ins(movebc.OpReadRef),
					ins(movebc.OpRet),
				},
			},
		},
	}
}

func TestCounterLifecycle(t *testing.T) {
	sb := compileAndHost(t, counterModule())

	status, _, trapped := invoke(t, sb, selector("create()"))
	if trapped || status != 0 {
		t.Fatalf("create: status=%d trapped=%v", status, trapped)
	}

	// The object id is keccak(pad32(sender) ‖ LE32(counter=1)).
	idInput := make([]byte, 36)
	copy(idInput[12:32], sandbox.MsgSender[:])
	binary.LittleEndian.PutUint32(idInput[32:], 1)
	id := sandbox.Keccak256(idInput)

	incCalldata := append(append([]byte{}, selector("increment(address)")...), id[:]...)
	for i := 0; i < 3; i++ {
		status, _, trapped = invoke(t, sb, incCalldata)
		if trapped || status != 0 {
			t.Fatalf("increment %d: status=%d trapped=%v", i, status, trapped)
		}
	}

	getCalldata := append(append([]byte{}, selector("get(address)")...), id[:]...)
	status, ret, trapped := invoke(t, sb, getCalldata)
	if trapped || status != 0 {
		t.Fatalf("get: status=%d trapped=%v", status, trapped)
	}
	if !bytes.Equal(ret, wordU(3)) {
		t.Errorf("counter value: got %x, want 3", ret)
	}
}

func TestUnknownObjectIdTraps(t *testing.T) {
	sb := compileAndHost(t, counterModule())
	bogus := bytes.Repeat([]byte{0x42}, 32)
	calldata := append(append([]byte{}, selector("get(address)")...), bogus...)
	_, ret, trapped := invoke(t, sb, calldata)
	if !trapped {
		t.Fatal("get of unknown object: expected trap")
	}
	if !bytes.Contains(ret, []byte("NotFound")) {
		t.Errorf("revert blob missing NotFound: %x", ret)
	}
}

func TestCompileDeterministic(t *testing.T) {
	a, err := Compile(arithModule(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile(arithModule(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two compilations of the same module differ")
	}
}

func TestModuleShape(t *testing.T) {
	wasmBytes, err := Compile(counterModule(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	sb, err := sandbox.New(ctx, wasmBytes)
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close(ctx)
	inst, err := sb.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)

	// The exported memory is readable through the sandbox; the allocator
	// frontier global export is not inspected here.
	if _, err := inst.ReadMemory(0, 64); err != nil {
		t.Errorf("memory export unusable: %v", err)
	}
}
