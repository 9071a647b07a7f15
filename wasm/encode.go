package wasm

import (
	"encoding/binary"
	"sort"
)

// Encode serializes the module to the WebAssembly binary format.
func (m *Module) Encode() []byte {
	var w []byte
	w = binary.LittleEndian.AppendUint32(w, Magic)
	w = binary.LittleEndian.AppendUint32(w, Version)

	if len(m.Types) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, FuncTypeByte)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		w = appendSection(w, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, KindFunc)
			sec = appendLEB128u(sec, imp.TypeIdx)
		}
		w = appendSection(w, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec = appendLEB128u(sec, typeIdx)
		}
		w = appendSection(w, SectionFunction, sec)
	}

	if len(m.Memories) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			sec = appendLimits(sec, mem)
		}
		w = appendSection(w, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = append(sec, byte(g.Type))
			if g.Mutable {
				sec = append(sec, 1)
			} else {
				sec = append(sec, 0)
			}
			sec = append(sec, g.Init...)
		}
		w = appendSection(w, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec = appendName(sec, exp.Name)
			sec = append(sec, exp.Kind)
			sec = appendLEB128u(sec, exp.Idx)
		}
		w = appendSection(w, SectionExport, sec)
	}

	if len(m.Code) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Code)))
		for _, body := range m.Code {
			var fb []byte
			fb = appendLEB128u(fb, uint32(len(body.Locals)))
			for _, local := range body.Locals {
				fb = appendLEB128u(fb, local.Count)
				fb = append(fb, byte(local.Type))
			}
			fb = append(fb, body.Code...)
			sec = appendLEB128u(sec, uint32(len(fb)))
			sec = append(sec, fb...)
		}
		w = appendSection(w, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		var sec []byte
		sec = appendLEB128u(sec, uint32(len(m.Data)))
		for _, d := range m.Data {
			sec = appendLEB128u(sec, 0) // active, memory 0
			sec = append(sec, OpI32Const)
			sec = appendLEB128s(sec, int32(d.Offset))
			sec = append(sec, OpEnd)
			sec = appendLEB128u(sec, uint32(len(d.Init)))
			sec = append(sec, d.Init...)
		}
		w = appendSection(w, SectionData, sec)
	}

	if ns := m.encodeNameSection(); ns != nil {
		w = appendSection(w, SectionCustom, ns)
	}

	return w
}

// encodeNameSection emits the "name" custom section carrying function names,
// in ascending index order. Returns nil when no function has a name.
func (m *Module) encodeNameSection() []byte {
	if len(m.funcNames) == 0 {
		return nil
	}
	ids := make([]FuncID, 0, len(m.funcNames))
	for id := range m.funcNames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var assoc []byte
	assoc = appendLEB128u(assoc, uint32(len(ids)))
	for _, id := range ids {
		assoc = appendLEB128u(assoc, uint32(id))
		assoc = appendName(assoc, m.funcNames[id])
	}

	var sec []byte
	sec = appendName(sec, "name")
	sec = append(sec, 1) // function names subsection
	sec = appendLEB128u(sec, uint32(len(assoc)))
	sec = append(sec, assoc...)
	return sec
}

func appendSection(w []byte, id byte, data []byte) []byte {
	w = append(w, id)
	w = appendLEB128u(w, uint32(len(data)))
	return append(w, data...)
}

func appendValTypes(buf []byte, types []ValType) []byte {
	buf = appendLEB128u(buf, uint32(len(types)))
	for _, t := range types {
		buf = append(buf, byte(t))
	}
	return buf
}

func appendName(buf []byte, s string) []byte {
	buf = appendLEB128u(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendLimits(buf []byte, mem MemoryType) []byte {
	if mem.Max != nil {
		buf = append(buf, LimitsHasMax)
		buf = appendLEB128u(buf, mem.Min)
		return appendLEB128u(buf, *mem.Max)
	}
	buf = append(buf, LimitsMinOnly)
	return appendLEB128u(buf, mem.Min)
}
