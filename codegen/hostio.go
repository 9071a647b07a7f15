package codegen

import "github.com/rather-labs/move-wasm/wasm"

// HostModule is the import namespace every Stylus-style host provides.
const HostModule = "vm_hooks"

// HostImports carries the function ids of every vm_hooks import. All imports
// are declared up front so the function index space is fixed before any code
// is generated.
type HostImports struct {
	ReadArgs           wasm.FuncID
	WriteResult        wasm.FuncID
	StorageLoadBytes32 wasm.FuncID
	StorageCacheBytes32 wasm.FuncID
	StorageFlushCache  wasm.FuncID
	NativeKeccak256    wasm.FuncID
	EmitLog            wasm.FuncID
	MsgSender          wasm.FuncID
	TxOrigin           wasm.FuncID
	MsgValue           wasm.FuncID
	BlockBasefee       wasm.FuncID
	TxGasPrice         wasm.FuncID
	ChainID            wasm.FuncID
	BlockNumber        wasm.FuncID
	BlockGasLimit      wasm.FuncID
	BlockTimestamp     wasm.FuncID
	CallContract       wasm.FuncID
	StaticCallContract wasm.FuncID
	DelegateCallContract wasm.FuncID
	ReadReturnData     wasm.FuncID
	PayForMemoryGrow   wasm.FuncID
}

func declareHostImports(m *wasm.Module) HostImports {
	i32 := wasm.I32
	i64 := wasm.I64
	fn := func(name string, params, results []wasm.ValType) wasm.FuncID {
		return m.AddImportFunc(HostModule, name, wasm.FuncType{Params: params, Results: results})
	}

	return HostImports{
		ReadArgs:            fn("read_args", []wasm.ValType{i32}, nil),
		WriteResult:         fn("write_result", []wasm.ValType{i32, i32}, nil),
		StorageLoadBytes32:  fn("storage_load_bytes32", []wasm.ValType{i32, i32}, nil),
		StorageCacheBytes32: fn("storage_cache_bytes32", []wasm.ValType{i32, i32}, nil),
		StorageFlushCache:   fn("storage_flush_cache", []wasm.ValType{i32}, nil),
		NativeKeccak256:     fn("native_keccak256", []wasm.ValType{i32, i32, i32}, nil),
		EmitLog:             fn("emit_log", []wasm.ValType{i32, i32, i32}, nil),
		MsgSender:           fn("msg_sender", []wasm.ValType{i32}, nil),
		TxOrigin:            fn("tx_origin", []wasm.ValType{i32}, nil),
		MsgValue:            fn("msg_value", []wasm.ValType{i32}, nil),
		BlockBasefee:        fn("block_basefee", []wasm.ValType{i32}, nil),
		TxGasPrice:          fn("tx_gas_price", []wasm.ValType{i32}, nil),
		ChainID:             fn("chainid", nil, []wasm.ValType{i64}),
		BlockNumber:         fn("block_number", nil, []wasm.ValType{i64}),
		BlockGasLimit:       fn("block_gas_limit", nil, []wasm.ValType{i64}),
		BlockTimestamp:      fn("block_timestamp", nil, []wasm.ValType{i64}),
		CallContract:        fn("call_contract", []wasm.ValType{i32, i32, i32, i32, i64, i32}, []wasm.ValType{i32}),
		StaticCallContract:  fn("static_call_contract", []wasm.ValType{i32, i32, i32, i64, i32}, []wasm.ValType{i32}),
		DelegateCallContract: fn("delegate_call_contract", []wasm.ValType{i32, i32, i32, i64, i32}, []wasm.ValType{i32}),
		ReadReturnData:      fn("read_return_data", []wasm.ValType{i32, i32, i32}, []wasm.ValType{i32}),
		PayForMemoryGrow:    fn("pay_for_memory_grow", []wasm.ValType{i32}, nil),
	}
}
