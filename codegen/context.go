package codegen

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/wasm"
)

// Context is the compilation context threaded through every code generator.
type Context struct {
	Module *wasm.Module

	// Memory is the index of the single linear memory.
	Memory uint32

	// Allocator is the bump-allocator function: (size i32) -> (ptr i32).
	Allocator wasm.FuncID

	// NextFreePtr is the exported mutable global the allocator advances.
	NextFreePtr wasm.GlobalID

	// CalldataReader is the global the ABI unpacker advances parameter by
	// parameter.
	CalldataReader wasm.GlobalID

	// Host holds the vm_hooks import ids.
	Host HostImports

	// BuildID stamps this compilation in logs.
	BuildID uuid.UUID

	logger      *zap.Logger
	moduleNames []string
	structs     map[[2]uint16]*itypes.IStruct
	enums       map[[2]uint16]*itypes.IEnum
	dataCursor  uint32
	staticBlobs map[string]uint32
}

// NewContext creates a fresh output module with the host imports declared,
// one exported memory, the allocator emitted, and the static data segment
// in place.
func NewContext(logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := wasm.NewModule()
	ctx := &Context{
		Module:  m,
		BuildID: uuid.New(),
		logger:  logger,
		structs:     make(map[[2]uint16]*itypes.IStruct),
		enums:       make(map[[2]uint16]*itypes.IEnum),
		dataCursor:  StaticDataOffset,
		staticBlobs: make(map[string]uint32),
	}

	ctx.Host = declareHostImports(m)
	ctx.Memory = m.AddMemory(1, nil)
	ctx.NextFreePtr = m.AddGlobal(wasm.I32, true, wasm.I32InitExpr(HeapBaseOffset))
	ctx.CalldataReader = m.AddGlobal(wasm.I32, true, wasm.I32InitExpr(0))
	m.AddData(0, staticData())
	ctx.Allocator = emitAllocator(ctx)

	m.AddExport("memory", wasm.KindMemory, ctx.Memory)
	m.AddExport("global_next_free_memory_pointer", wasm.KindGlobal, uint32(ctx.NextFreePtr))

	logger.Debug("compilation context created",
		zap.String("build_id", ctx.BuildID.String()))
	return ctx
}

// Logger returns the compilation logger.
func (ctx *Context) Logger() *zap.Logger { return ctx.logger }

// RegisterModule adds a module name to the table and returns its index.
func (ctx *Context) RegisterModule(name string) uint16 {
	for i, n := range ctx.moduleNames {
		if n == name {
			return uint16(i)
		}
	}
	ctx.moduleNames = append(ctx.moduleNames, name)
	return uint16(len(ctx.moduleNames) - 1)
}

// RegisterStruct adds a struct definition to the table.
func (ctx *Context) RegisterStruct(s *itypes.IStruct) {
	ctx.structs[[2]uint16{s.Module, s.Index}] = s
}

// RegisterEnum adds an enum definition to the table.
func (ctx *Context) RegisterEnum(e *itypes.IEnum) {
	ctx.enums[[2]uint16{e.Module, e.Index}] = e
}

// StructDef implements itypes.Resolver.
func (ctx *Context) StructDef(module, index uint16) (*itypes.IStruct, bool) {
	s, ok := ctx.structs[[2]uint16{module, index}]
	return s, ok
}

// EnumDef implements itypes.Resolver.
func (ctx *Context) EnumDef(module, index uint16) (*itypes.IEnum, bool) {
	e, ok := ctx.enums[[2]uint16{module, index}]
	return e, ok
}

// ModuleName implements itypes.Resolver.
func (ctx *Context) ModuleName(module uint16) string {
	if int(module) < len(ctx.moduleNames) {
		return ctx.moduleNames[module]
	}
	return ""
}

// AddStaticData places bytes in the compile-time data region and returns
// their offset. Identical blobs are stored once. The region is bounded by
// HeapBaseOffset; overflowing it means the module carries more static
// payloads than the layout reserves, which is a bug in the caller.
func (ctx *Context) AddStaticData(blob []byte) uint32 {
	if off, ok := ctx.staticBlobs[string(blob)]; ok {
		return off
	}
	off := ctx.dataCursor
	if off+uint32(len(blob)) > HeapBaseOffset {
		panic("codegen: static data region exhausted")
	}
	ctx.dataCursor += uint32(len(blob))
	ctx.Module.AddData(off, append([]byte(nil), blob...))
	ctx.staticBlobs[string(blob)] = off
	return off
}

// RuntimeFn returns the function registered under name, emitting it through
// emit on first use. Every runtime routine and native operation goes through
// here so each distinct instantiation exists at most once in the output.
func (ctx *Context) RuntimeFn(name string, emit func(*Context) wasm.FuncID) wasm.FuncID {
	if id, ok := ctx.Module.FuncByName(name); ok {
		return id
	}
	ctx.logger.Debug("emitting runtime function", zap.String("name", name))
	id := emit(ctx)
	if got := ctx.Module.FuncName(id); got != name {
		// The emitter must register the function under the memoization name,
		// otherwise a second lookup would emit it again.
		panic("codegen: runtime function emitted under name " + got + ", expected " + name)
	}
	return id
}
