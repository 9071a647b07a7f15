package translate

import (
	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/errors"
	"github.com/rather-labs/move-wasm/itypes"
	"github.com/rather-labs/move-wasm/movebc"
	"github.com/rather-labs/move-wasm/storage"
	"github.com/rather-labs/move-wasm/wasm"
)

// call resolves a function handle: local definitions monomorphize and emit
// recursively, framework handles map onto the native operations.
func (fs *funcState) call(instr *movebc.Instruction) error {
	if int(instr.HandleIdx) >= len(fs.t.mod.Handles) {
		return errors.UnknownDefinition(errors.PhaseTranslate, "function handle", int(instr.HandleIdx))
	}
	handle := fs.t.mod.Handles[instr.HandleIdx]
	args, err := fs.instantiateArgs(instr.TypeArgs)
	if err != nil {
		return err
	}

	if handle.LocalIndex >= 0 {
		return fs.callLocal(handle.LocalIndex, args)
	}
	return fs.callNative(handle, args)
}

func (fs *funcState) callLocal(idx int, args []itypes.Type) error {
	target := &fs.t.mod.Functions[idx]

	params := make([]itypes.Type, len(target.Params))
	for i, p := range target.Params {
		inst, err := p.Instantiate(args)
		if err != nil {
			return err
		}
		params[i] = inst
	}
	for i := len(params) - 1; i >= 0; i-- {
		if err := fs.popExpect("call "+target.Name, params[i]); err != nil {
			return err
		}
	}

	id, err := fs.t.translateFunction(idx, args)
	if err != nil {
		return err
	}
	fs.b.Call(id)

	for _, r := range target.Returns {
		inst, err := r.Instantiate(args)
		if err != nil {
			return err
		}
		fs.push(inst)
	}
	return nil
}

// callNative lowers a framework call onto the generated native operations.
func (fs *funcState) callNative(handle movebc.FunctionHandle, args []itypes.Type) error {
	b, ctx := fs.b, fs.ctx()
	key := handle.Module + "::" + handle.Name

	oneTypeArg := func() (itypes.Type, error) {
		if len(args) != 1 {
			return itypes.Type{}, errors.InvalidBytecode("%s expects one type argument", key)
		}
		return args[0], nil
	}

	switch key {
	case "transfer::transfer", "transfer::public_transfer":
		t, err := oneTypeArg()
		if err != nil {
			return err
		}
		if err := fs.popExpect(key, itypes.Address()); err != nil {
			return err
		}
		if err := fs.popExpect(key, t); err != nil {
			return err
		}
		fn, err := storage.Transfer(ctx, t)
		if err != nil {
			return err
		}
		b.Call(fn)
		return nil

	case "transfer::share_object", "transfer::public_share_object":
		t, err := oneTypeArg()
		if err != nil {
			return err
		}
		if err := fs.popExpect(key, t); err != nil {
			return err
		}
		fn, err := storage.Share(ctx, t)
		if err != nil {
			return err
		}
		b.Call(fn)
		return nil

	case "transfer::freeze_object", "transfer::public_freeze_object":
		t, err := oneTypeArg()
		if err != nil {
			return err
		}
		if err := fs.popExpect(key, t); err != nil {
			return err
		}
		fn, err := storage.Freeze(ctx, t)
		if err != nil {
			return err
		}
		b.Call(fn)
		return nil

	case "object::new":
		// (&mut TxContext) -> UID; the context carries nothing at runtime.
		if _, err := fs.pop(key); err != nil {
			return err
		}
		b.Drop()
		b.Call(fs.newUID())
		fs.push(itypes.StructType(fs.t.fw.Object, UIDIndex))
		return nil

	case "object::delete":
		uid := itypes.StructType(fs.t.fw.Object, UIDIndex)
		if err := fs.popExpect(key, uid); err != nil {
			return err
		}
		b.Call(fs.deleteByUID())
		return nil

	case "event::emit":
		t, err := oneTypeArg()
		if err != nil {
			return err
		}
		if err := fs.popExpect(key, t); err != nil {
			return err
		}
		fn, err := EmitEvent(ctx, t)
		if err != nil {
			return err
		}
		b.Call(fn)
		return nil

	case "errors::revert":
		// Revert with a user-declared error struct.
		t, err := oneTypeArg()
		if err != nil {
			return err
		}
		if err := fs.popExpect(key, t); err != nil {
			return err
		}
		fn, err := CustomErrorRevert(ctx, t)
		if err != nil {
			return err
		}
		b.Call(fn)
		b.Unreachable()
		fs.stack = fs.stack[:0]
		return nil

	case "tx_context::sender":
		if _, err := fs.pop(key); err != nil {
			return err
		}
		b.Drop()
		b.Call(fs.nativeSender())
		fs.push(itypes.Address())
		return nil

	case "dynamic_field::add":
		keyT, valT, err := twoTypeArgs(key, args)
		if err != nil {
			return err
		}
		value := b.AddLocal(valT.ValType())
		if err := fs.popExpect(key, valT); err != nil {
			return err
		}
		b.LocalSet(value)
		k := b.AddLocal(keyT.ValType())
		if err := fs.popExpect(key, keyT); err != nil {
			return err
		}
		b.LocalSet(k)
		if err := fs.popUIDRef(key); err != nil {
			return err
		}
		b.LocalGet(k)
		b.LocalGet(value)
		fn, err := storage.AddChildObject(ctx, keyT, valT)
		if err != nil {
			return err
		}
		b.Call(fn)
		return nil

	case "dynamic_field::borrow", "dynamic_field::borrow_mut":
		keyT, valT, err := twoTypeArgs(key, args)
		if err != nil {
			return err
		}
		k := b.AddLocal(keyT.ValType())
		if err := fs.popExpect(key, keyT); err != nil {
			return err
		}
		b.LocalSet(k)
		if err := fs.popUIDRef(key); err != nil {
			return err
		}
		b.LocalGet(k)
		fn, err := storage.BorrowChildObject(ctx, keyT, valT)
		if err != nil {
			return err
		}
		b.Call(fn)
		// Box the struct pointer so the result is a proper reference.
		cell := b.AddLocal(wasm.I32)
		v := b.AddLocal(wasm.I32)
		b.LocalSet(v)
		b.I32Const(4).Call(ctx.Allocator).LocalSet(cell)
		b.LocalGet(cell).LocalGet(v).I32Store(0)
		b.LocalGet(cell)
		if handle.Name == "borrow_mut" {
			fs.push(itypes.MutRefTo(valT))
		} else {
			fs.push(itypes.ImmRefTo(valT))
		}
		return nil

	case "dynamic_field::remove":
		keyT, valT, err := twoTypeArgs(key, args)
		if err != nil {
			return err
		}
		k := b.AddLocal(keyT.ValType())
		if err := fs.popExpect(key, keyT); err != nil {
			return err
		}
		b.LocalSet(k)
		if err := fs.popUIDRef(key); err != nil {
			return err
		}
		b.LocalGet(k)
		fn, err := storage.RemoveChildObject(ctx, keyT, valT)
		if err != nil {
			return err
		}
		b.Call(fn)
		fs.push(valT)
		return nil

	case "dynamic_field::exists_", "dynamic_field::exists_with_type":
		keyT := itypes.Type{}
		switch len(args) {
		case 1:
			keyT = args[0]
		case 2:
			keyT = args[0]
		default:
			return errors.InvalidBytecode("%s expects type arguments", key)
		}
		k := b.AddLocal(keyT.ValType())
		if err := fs.popExpect(key, keyT); err != nil {
			return err
		}
		b.LocalSet(k)
		if err := fs.popUIDRef(key); err != nil {
			return err
		}
		b.LocalGet(k)
		fn, err := storage.HasChildObject(ctx, keyT)
		if err != nil {
			return err
		}
		b.Call(fn)
		fs.push(itypes.Bool())
		return nil
	}
	return errors.Unsupported(errors.PhaseTranslate, "native "+key)
}

func twoTypeArgs(key string, args []itypes.Type) (itypes.Type, itypes.Type, error) {
	if len(args) != 2 {
		return itypes.Type{}, itypes.Type{}, errors.InvalidBytecode(
			"%s expects two type arguments", key)
	}
	return args[0], args[1], nil
}

// popUIDRef consumes a &UID operand and leaves the id-bytes pointer on the
// wasm stack.
func (fs *funcState) popUIDRef(op string) error {
	ref, err := fs.pop(op)
	if err != nil {
		return err
	}
	uid := itypes.StructType(fs.t.fw.Object, UIDIndex)
	if !ref.IsRef() || !ref.Inner.Equal(uid) {
		return errors.TypeMismatch(errors.PhaseTranslate, "&UID", ref.String())
	}
	// ref -> UID block -> id byte pointer.
	fs.b.I32Load(0).I32Load(0)
	return nil
}

// newUID emits the object-id factory: () -> i32 pointing at a fresh UID
// block. The id is keccak(sender ‖ invocation counter); four bytes are
// reserved before the payload for the enclosing struct's back-pointer.
func (fs *funcState) newUID() wasm.FuncID {
	ctx := fs.ctx()
	return ctx.RuntimeFn("new_uid", func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder("new_uid", nil, []wasm.ValType{wasm.I32})
		buf := b.AddLocal(wasm.I32)
		payload := b.AddLocal(wasm.I32)
		uidBlock := b.AddLocal(wasm.I32)

		// Bump the per-invocation counter.
		b.I32Const(codegen.DataUIDCounterOffset)
		b.I32Const(codegen.DataUIDCounterOffset).I32Load(0).I32Const(1).I32Add()
		b.I32Store(0)

		// Hash input: 32-byte padded sender followed by the counter.
		b.I32Const(36).Call(ctx.Allocator).LocalSet(buf)
		b.LocalGet(buf).I32Const(12).I32Add().Call(ctx.Host.MsgSender)
		b.LocalGet(buf).I32Const(codegen.DataUIDCounterOffset).I32Load(0).I32Store(32)

		// Back-pointer slot, then the 32-byte payload.
		b.I32Const(36).Call(ctx.Allocator).I32Const(4).I32Add().LocalSet(payload)
		b.LocalGet(buf).I32Const(36).LocalGet(payload).Call(ctx.Host.NativeKeccak256)

		b.I32Const(4).Call(ctx.Allocator).LocalSet(uidBlock)
		b.LocalGet(uidBlock).LocalGet(payload).I32Store(0)
		b.LocalGet(uidBlock)
		return b.Finish()
	})
}

// deleteByUID follows the UID back-pointer to the enclosing struct and
// removes its slot range: (uid_block i32).
func (fs *funcState) deleteByUID() wasm.FuncID {
	ctx := fs.ctx()
	return ctx.RuntimeFn("delete_object_by_uid", func(ctx *codegen.Context) wasm.FuncID {
		del := storage.DeleteObject(ctx)
		b := ctx.Module.NewBuilder("delete_object_by_uid", []wasm.ValType{wasm.I32}, nil)
		uidBlock := b.Param(0)

		// The 4 bytes before the id payload point at the enclosing struct.
		b.LocalGet(uidBlock).I32Load(0).I32Const(4).I32Sub().I32Load(0)
		b.Call(del)
		return b.Finish()
	})
}

// nativeSender materializes the caller address: () -> i32 to 32 padded
// bytes.
func (fs *funcState) nativeSender() wasm.FuncID {
	ctx := fs.ctx()
	return ctx.RuntimeFn("native_sender", func(ctx *codegen.Context) wasm.FuncID {
		b := ctx.Module.NewBuilder("native_sender", nil, []wasm.ValType{wasm.I32})
		p := b.AddLocal(wasm.I32)
		b.I32Const(32).Call(ctx.Allocator).LocalSet(p)
		b.LocalGet(p).I32Const(12).I32Add().Call(ctx.Host.MsgSender)
		b.LocalGet(p)
		return b.Finish()
	})
}
