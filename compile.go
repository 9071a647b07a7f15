package movewasm

import (
	"go.uber.org/zap"

	"github.com/rather-labs/move-wasm/codegen"
	"github.com/rather-labs/move-wasm/movebc"
	"github.com/rather-labs/move-wasm/translate"
)

// Options configures a compilation.
type Options struct {
	// Logger receives debug traces of function emission. Nil means silent.
	Logger *zap.Logger
}

// Compile translates one Move module into a WebAssembly binary.
//
// The framework modules are registered first, so input types reference them
// at the indices in translate (ObjectModuleIndex and friends) and the user
// module's own definitions at UserModuleIndex.
func Compile(mod *movebc.Module, opts Options) ([]byte, error) {
	if err := mod.Validate(); err != nil {
		return nil, err
	}
	ctx := codegen.NewContext(opts.Logger)
	fw := translate.RegisterFramework(ctx)
	tr := translate.New(ctx, fw, mod)
	if err := tr.Translate(); err != nil {
		return nil, err
	}
	ctx.Logger().Info("compilation finished",
		zap.String("module", mod.ID.Name),
		zap.String("build_id", ctx.BuildID.String()))
	return ctx.Module.Encode(), nil
}
