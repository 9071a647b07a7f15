package movebc

import "fmt"

// Validate performs the structural checks that do not need type knowledge:
// indices in range, branch targets inside the body, constants present where
// an opcode requires one. The translator assumes a validated module.
func (m *Module) Validate() error {
	for i := range m.Handles {
		h := &m.Handles[i]
		if h.LocalIndex >= len(m.Functions) {
			return fmt.Errorf("movebc: handle %d targets function %d of %d",
				i, h.LocalIndex, len(m.Functions))
		}
	}
	for i := range m.Functions {
		if err := m.validateFunction(i); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) validateFunction(idx int) error {
	fn := &m.Functions[idx]
	numLocals := len(fn.Params) + len(fn.Locals)

	for pc, instr := range fn.Code {
		fail := func(format string, args ...any) error {
			prefix := fmt.Sprintf("movebc: %s+%d: %s: ", fn.Name, pc, instr.Op)
			return fmt.Errorf(prefix+format, args...)
		}

		switch instr.Op {
		case OpCopyLoc, OpMoveLoc, OpStLoc, OpImmBorrowLoc, OpMutBorrowLoc:
			if int(instr.Imm) >= numLocals {
				return fail("local %d out of range (%d locals)", instr.Imm, numLocals)
			}
		case OpBranch, OpBrTrue, OpBrFalse:
			if int(instr.Imm) >= len(fn.Code) {
				return fail("target %d past body end %d", instr.Imm, len(fn.Code))
			}
		case OpLdU128, OpLdU256:
			if instr.Big == nil {
				return fail("missing constant")
			}
		case OpLdConst:
			if int(instr.Imm) >= len(m.Constants) {
				return fail("constant %d out of range (%d constants)", instr.Imm, len(m.Constants))
			}
		case OpPack, OpPackGeneric, OpUnpack, OpUnpackGeneric,
			OpImmBorrowField, OpMutBorrowField,
			OpImmBorrowFieldGeneric, OpMutBorrowFieldGeneric:
			if int(instr.StructIdx) >= len(m.Structs) {
				return fail("struct %d out of range (%d structs)", instr.StructIdx, len(m.Structs))
			}
		case OpCall, OpCallGeneric:
			if int(instr.HandleIdx) >= len(m.Handles) {
				return fail("handle %d out of range (%d handles)", instr.HandleIdx, len(m.Handles))
			}
		case OpVecPack, OpVecLen, OpVecPushBack, OpVecPopBack,
			OpVecImmBorrow, OpVecMutBorrow, OpVecSwap, OpVecUnpack:
			if instr.ElemType == nil {
				return fail("missing element type")
			}
		}
	}
	return nil
}
