package codegen

import "github.com/rather-labs/move-wasm/wasm"

// AllocatorName is the memoization name of the bump allocator.
const AllocatorName = "alloc"

// emitAllocator defines the bump allocator: (size i32) -> (ptr i32).
//
// The returned pointer is the previous value of the next-free global; the
// global advances by size. When the new frontier passes the current memory
// size the function grows memory by whole pages, notifying the host through
// pay_for_memory_grow first. A failed grow traps.
func emitAllocator(ctx *Context) wasm.FuncID {
	b := ctx.Module.NewBuilder(AllocatorName, []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
	size := b.Param(0)
	ptr := b.AddLocal(wasm.I32)
	frontier := b.AddLocal(wasm.I32)
	pages := b.AddLocal(wasm.I32)

	b.GlobalGet(ctx.NextFreePtr).LocalSet(ptr)

	// frontier = ptr + size
	b.LocalGet(ptr).LocalGet(size).I32Add().LocalSet(frontier)

	// if frontier > memory.size * page_size, grow
	b.LocalGet(frontier).
		MemorySize().
		I32Const(WasmPageSize).
		I32Mul().
		I32GtU().
		If(wasm.NoResult, func() {
			// pages = (frontier - memory.size*page_size + page_size - 1) / page_size
			b.LocalGet(frontier).
				MemorySize().
				I32Const(WasmPageSize).
				I32Mul().
				I32Sub().
				I32Const(WasmPageSize - 1).
				I32Add().
				I32Const(WasmPageSize).
				I32DivU().
				LocalSet(pages)
			b.LocalGet(pages).Call(ctx.Host.PayForMemoryGrow)
			b.LocalGet(pages).
				MemoryGrow().
				I32Const(-1).
				I32Eq().
				If(wasm.NoResult, func() {
					b.Unreachable()
				})
		})

	b.LocalGet(frontier).GlobalSet(ctx.NextFreePtr)
	b.LocalGet(ptr)
	return b.Finish()
}
