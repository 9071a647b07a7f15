package wasm

import "fmt"

// ValType is a core WebAssembly value type. Generated modules only ever use
// i32 and i64; the f-types are kept so the encoder stays honest about what a
// byte means.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

func (v ValType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// FuncID indexes the module's function index space (imports first, then
// locally defined functions).
type FuncID uint32

// GlobalID indexes the module's global index space.
type GlobalID uint32

// LocalID indexes a function's locals (parameters first).
type LocalID uint32

// Import is an imported function. Generated modules import nothing but
// functions.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// MemoryType declares a linear memory by its page limits.
type MemoryType struct {
	Min uint32
	Max *uint32
}

// Global is a module global with its init expression bytes (constant
// expression including the end opcode).
type Global struct {
	Type    ValType
	Mutable bool
	Init    []byte
}

// Export makes a definition visible to the host.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// DataSegment is an active data segment in memory 0 at a constant offset.
type DataSegment struct {
	Offset uint32
	Init   []byte
}

// LocalEntry groups consecutive locals of one type, as the code section
// encodes them.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is a defined function's locals and raw body bytes (terminated by
// the end opcode).
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// Module is the output module under construction.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index per defined function
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment

	funcNames map[FuncID]string
	byName    map[string]FuncID
	sealed    bool // set once a local function exists; no more imports
}

// NewModule returns an empty module.
func NewModule() *Module {
	return &Module{
		funcNames: make(map[FuncID]string),
		byName:    make(map[string]FuncID),
	}
}

// AddType interns a function type and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if typesEqual(t, ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func typesEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

// AddImportFunc declares an imported function. All imports must be declared
// before the first defined function, otherwise the function index space would
// shift under already-emitted calls.
func (m *Module) AddImportFunc(module, name string, ft FuncType) FuncID {
	if m.sealed {
		panic("wasm: import declared after a function was defined")
	}
	key := module + "." + name
	if id, ok := m.byName[key]; ok {
		return id
	}
	typeIdx := m.AddType(ft)
	id := FuncID(len(m.Imports))
	m.Imports = append(m.Imports, Import{Module: module, Name: name, TypeIdx: typeIdx})
	m.byName[key] = id
	m.funcNames[id] = name
	return id
}

// NumImportedFuncs returns the size of the imported part of the function
// index space.
func (m *Module) NumImportedFuncs() int {
	return len(m.Imports)
}

// defineFunc appends a function body and returns its id. Used by
// Builder.Finish.
func (m *Module) defineFunc(name string, ft FuncType, body FuncBody) FuncID {
	m.sealed = true
	typeIdx := m.AddType(ft)
	m.Funcs = append(m.Funcs, typeIdx)
	m.Code = append(m.Code, body)
	id := FuncID(len(m.Imports) + len(m.Funcs) - 1)
	if name != "" {
		m.byName[name] = id
		m.funcNames[id] = name
	}
	return id
}

// FuncByName looks up a previously defined or imported function. Runtime
// routine emission uses it as the memoization table.
func (m *Module) FuncByName(name string) (FuncID, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// FuncName returns the registered name of a function, if any.
func (m *Module) FuncName(id FuncID) string {
	return m.funcNames[id]
}

// AddMemory declares a linear memory and returns its index.
func (m *Module) AddMemory(minPages uint32, maxPages *uint32) uint32 {
	m.Memories = append(m.Memories, MemoryType{Min: minPages, Max: maxPages})
	return uint32(len(m.Memories) - 1)
}

// AddGlobal declares a global and returns its id.
func (m *Module) AddGlobal(t ValType, mutable bool, init []byte) GlobalID {
	m.Globals = append(m.Globals, Global{Type: t, Mutable: mutable, Init: init})
	return GlobalID(len(m.Globals) - 1)
}

// AddExport exposes a definition under the given name.
func (m *Module) AddExport(name string, kind byte, idx uint32) {
	m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
}

// AddData places bytes at a fixed offset in memory 0.
func (m *Module) AddData(offset uint32, init []byte) {
	m.Data = append(m.Data, DataSegment{Offset: offset, Init: init})
}

// I32InitExpr builds the constant init expression `i32.const v; end`.
func I32InitExpr(v int32) []byte {
	buf := []byte{OpI32Const}
	buf = appendLEB128s(buf, v)
	return append(buf, OpEnd)
}
