package translate

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/rather-labs/move-wasm/abi"
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/storage"
	"github.com/rather-labs/move-wasm/wasm"
)

// EntrypointName is the single exported entrypoint of produced modules.
const EntrypointName = "user_entrypoint"

// paramKind classifies how an entry parameter is materialized from
// calldata.
type paramKind uint8

const (
	paramCalldata paramKind = iota // ABI-decoded from calldata
	paramObject                    // 32-byte object id, loaded from storage
	paramTxContext                 // synthesized, no calldata footprint
)

type entryParam struct {
	kind paramKind
	typ  itypes.Type // declared parameter type
	obj  itypes.Type // object struct type for paramObject
	ref  bool        // parameter is a reference
}

// classifyParam decides how one entry parameter surfaces in the external
// ABI: key structs travel as their id, the transaction context does not
// travel at all.
func (t *Translator) classifyParam(p itypes.Type) (entryParam, error) {
	ep := entryParam{kind: paramCalldata, typ: p}
	inner := p
	if p.IsRef() {
		ep.ref = true
		inner = *p.Inner
	}
	switch inner.Kind {
	case itypes.KindStruct, itypes.KindGenericStructInstance:
		def, ok := t.ctx.StructDef(inner.Module, inner.Index)
		if !ok {
			return ep, errors.UnknownDefinition(errors.PhaseEntry, "struct", int(inner.Index))
		}
		if inner.Module == t.fw.TxContext && def.Identifier == "TxContext" {
			ep.kind = paramTxContext
			return ep, nil
		}
		if def.Abilities.Key {
			ep.kind = paramObject
			ep.obj = inner
			return ep, nil
		}
	}
	return ep, nil
}

// abiParams lists the calldata types an entry function's selector hashes
// over: object parameters surface as address, context parameters vanish.
func (t *Translator) abiParams(params []entryParam) []itypes.Type {
	out := make([]itypes.Type, 0, len(params))
	for _, p := range params {
		switch p.kind {
		case paramCalldata:
			out = append(out, p.typ)
		case paramObject:
			out = append(out, itypes.Address())
		}
	}
	return out
}

// buildEntrypoint wires the selector table and the per-function wrappers
// into user_entrypoint(len) -> status.
func (t *Translator) buildEntrypoint() error {
	type dispatchEntry struct {
		selector uint32 // little-endian interpretation of the 4 bytes
		fnIdx    int
		params   []entryParam
	}
	var table []dispatchEntry
	seen := map[uint32]string{}

	for idx := range t.mod.Functions {
		fn := &t.mod.Functions[idx]
		if !fn.IsEntry {
			continue
		}
		params := make([]entryParam, len(fn.Params))
		for i, p := range fn.Params {
			ep, err := t.classifyParam(p)
			if err != nil {
				return err
			}
			params[i] = ep
		}
		sel, err := FunctionSelector(t.ctx, fn.Name, t.abiParams(params))
		if err != nil {
			return err
		}
		raw := binary.LittleEndian.Uint32(sel[:])
		if prev, dup := seen[raw]; dup {
			return errors.Wrap(errors.PhaseEntry, errors.KindUnsupported, nil,
				"selector collision between "+prev+" and "+fn.Name)
		}
		seen[raw] = fn.Name
		table = append(table, dispatchEntry{selector: raw, fnIdx: idx, params: params})
		t.ctx.Logger().Debug("entry function registered",
			zap.String("name", fn.Name), zap.Uint32("selector", raw))
	}

	b := t.ctx.Module.NewBuilder(EntrypointName,
		[]wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})
	length := b.Param(0)
	calldata := b.AddLocal(wasm.I32)
	selector := b.AddLocal(wasm.I32)

	b.LocalGet(length).Call(t.ctx.Allocator).LocalSet(calldata)
	b.LocalGet(calldata).Call(t.ctx.Host.ReadArgs)

	b.LocalGet(length).I32Const(4).I32LtU().If(wasm.NoResult, func() {
		b.I32Const(1).Return()
	})
	b.LocalGet(calldata).I32Load(0).LocalSet(selector)

	var wrapErr error
	for _, entry := range table {
		entry := entry
		b.LocalGet(selector).I32Const(int32(entry.selector)).I32Eq().
			If(wasm.NoResult, func() {
				if wrapErr == nil {
					wrapErr = t.emitWrapper(b, entry.fnIdx, entry.params, calldata, length)
				}
			})
		if wrapErr != nil {
			return wrapErr
		}
	}

	// Unknown selector.
	b.I32Const(1)
	id := b.Finish()
	t.ctx.Module.AddExport(EntrypointName, wasm.KindFunc, uint32(id))
	return nil
}

// emitWrapper unpacks the parameters, calls the translated function, packs
// the results, flushes storage, and returns 0. The body runs inside the
// selector's if-arm and leaves via return.
func (t *Translator) emitWrapper(b *wasm.Builder, fnIdx int, params []entryParam, calldata, length wasm.LocalID) error {
	ctx := t.ctx
	fn := &t.mod.Functions[fnIdx]
	target, err := t.translateFunction(fnIdx, nil)
	if err != nil {
		return err
	}

	end := b.AddLocal(wasm.I32)
	b.LocalGet(calldata).LocalGet(length).I32Add().LocalSet(end)
	b.LocalGet(calldata).I32Const(4).I32Add().GlobalSet(ctx.CalldataReader)

	// All calldata-borne values decode in one pass so dynamic offsets
	// resolve against the start of the parameter area.
	abiTypes := t.abiParams(params)
	dsts, err := abi.EmitUnpackParams(ctx, b, abiTypes, end)
	if err != nil {
		return err
	}

	// Materialize arguments in declaration order.
	argLocals := make([]wasm.LocalID, len(params))
	next := 0
	for i, p := range params {
		switch p.kind {
		case paramTxContext:
			l := b.AddLocal(wasm.I32)
			b.I32Const(0).LocalSet(l)
			argLocals[i] = l

		case paramObject:
			idLocal := dsts[next]
			next++
			load, err := storage.LoadObject(ctx, p.obj)
			if err != nil {
				return err
			}
			l := b.AddLocal(wasm.I32)
			b.LocalGet(idLocal).Call(load)
			if p.ref {
				v := b.AddLocal(wasm.I32)
				b.LocalSet(v)
				b.I32Const(4).Call(ctx.Allocator).LocalSet(l)
				b.LocalGet(l).LocalGet(v).I32Store(0)
			} else {
				b.LocalSet(l)
			}
			argLocals[i] = l

		default:
			argLocals[i] = dsts[next]
			next++
		}
	}

	for _, l := range argLocals {
		b.LocalGet(l)
	}
	b.Call(target)

	// Objects borrowed mutably survive the call in place; persist their
	// state back into their current owner bucket. By-value objects are the
	// callee's responsibility (transfer, share, freeze or delete).
	for i, p := range params {
		if p.kind != paramObject || !p.ref || p.typ.Kind != itypes.KindMutRef {
			continue
		}
		save, err := storage.EncodeAndSave(ctx, p.obj)
		if err != nil {
			return err
		}
		writeSlot := storage.WriteObjectSlot(ctx)
		getID := storage.GetIdBytesPtr(ctx)
		ptr := b.AddLocal(wasm.I32)
		b.LocalGet(argLocals[i]).I32Load(0).LocalSet(ptr)
		b.LocalGet(ptr).I32Const(itypes.OwnerPrefixSize).I32Sub()
		b.LocalGet(ptr).Call(getID)
		b.Call(writeSlot)
		b.LocalGet(ptr).I32Const(codegen.DataObjectsMappingSlotOffset).Call(save)
	}

	if len(fn.Returns) > 0 {
		rets := make([]wasm.LocalID, len(fn.Returns))
		for i := len(fn.Returns) - 1; i >= 0; i-- {
			rets[i] = b.AddLocal(fn.Returns[i].ValType())
			b.LocalSet(rets[i])
		}
		buf, outLen, err := abi.EmitPackValues(ctx, b, fn.Returns, rets)
		if err != nil {
			return err
		}
		b.LocalGet(buf).LocalGet(outLen).Call(ctx.Host.WriteResult)
	}

	b.I32Const(1).Call(ctx.Host.StorageFlushCache)
	b.I32Const(0).Return()
	return nil
}
