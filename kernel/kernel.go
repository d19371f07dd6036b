// Package kernel loads WebAssembly modules and exposes their exported
// numeric functions as entry points in the function registry, so
// inference kernels compiled to wasm are callable through the same
// directory as native ones.
package kernel

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/micro-rpc/errors"
	"github.com/wippyai/micro-rpc/packed"
	"github.com/wippyai/micro-rpc/registry"
)

// Entry status words returned by wasm-backed entry points.
const (
	statusOK          int32 = 0
	statusBadArgCount int32 = 1
	statusTrap        int32 = 2
)

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in 64KB
	// pages. 0 means the wazero default.
	MemoryLimitPages uint32
}

// Engine owns the wazero runtime shared by all loaded modules.
type Engine struct {
	runtime wazero.Runtime
}

// NewEngine creates a wazero-backed engine.
func NewEngine(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
}

// Load compiles and instantiates a wasm module.
func (e *Engine) Load(ctx context.Context, wasmBytes []byte) (*Module, error) {
	mod, err := e.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseKernel, errors.KindInvalidInput, err, "instantiate module")
	}
	return &Module{mod: mod}, nil
}

// Close releases the runtime and every module instantiated from it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Module is one instantiated wasm module.
type Module struct {
	mod api.Module
}

// Name returns the module's declared name, if any.
func (m *Module) Name() string {
	return m.mod.Name()
}

// Register adds every exported function with numeric-only signature to
// the registry under its export name, in name order so registration
// ordinals are stable across runs. Exports with reference or vector
// types in their signature are skipped with a diagnostic. ctx is
// captured and used for the eventual calls.
func (m *Module) Register(ctx context.Context, reg *registry.MutableRegistry, override bool) error {
	defs := m.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs[name]
		if !numericSignature(def) {
			Logger().Warn("skipping export with non-numeric signature",
				zap.String("name", name))
			continue
		}
		fn := m.mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		if err := reg.Set(name, m.entryFor(ctx, name, fn, def), override); err != nil {
			return errors.Registration(errors.PhaseKernel, name, err)
		}
		Logger().Debug("registered kernel", zap.String("name", name))
	}
	return nil
}

func numericSignature(def api.FunctionDefinition) bool {
	for _, types := range [][]api.ValueType{def.ParamTypes(), def.ResultTypes()} {
		for _, ty := range types {
			switch ty {
			case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
			default:
				return false
			}
		}
	}
	return true
}

// entryFor adapts a wasm function to the packed calling convention.
// Arguments are converted according to the wasm parameter types, reading
// each packed value per its type code. Results are logged and discarded;
// the return channel is reserved at this layer.
func (m *Module) entryFor(ctx context.Context, name string, fn api.Function, def api.FunctionDefinition) packed.Entry {
	paramTypes := def.ParamTypes()
	return func(values []packed.Value, codes []packed.TypeCode, _ []packed.Value, _ []packed.TypeCode) int32 {
		if len(values) != len(paramTypes) {
			Logger().Warn("argument count mismatch",
				zap.String("name", name),
				zap.Int("got", len(values)),
				zap.Int("want", len(paramTypes)))
			return statusBadArgCount
		}
		params := make([]uint64, len(values))
		for i := range values {
			params[i] = paramWord(values[i], codes[i], paramTypes[i])
		}
		results, err := fn.Call(ctx, params...)
		if err != nil {
			Logger().Error("kernel trapped", zap.String("name", name), zap.Error(err))
			return statusTrap
		}
		if len(results) > 0 {
			Logger().Debug("kernel result discarded",
				zap.String("name", name),
				zap.Uint64("result", results[0]))
		}
		return statusOK
	}
}

func paramWord(v packed.Value, code packed.TypeCode, ty api.ValueType) uint64 {
	switch ty {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(asInt(v, code)))
	case api.ValueTypeI64:
		return uint64(asInt(v, code))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(asFloat(v, code)))
	default: // api.ValueTypeF64
		return api.EncodeF64(asFloat(v, code))
	}
}

func asInt(v packed.Value, code packed.TypeCode) int64 {
	if code == packed.TypeCodeFloat {
		return int64(v.Float64())
	}
	return v.Int64()
}

func asFloat(v packed.Value, code packed.TypeCode) float64 {
	if code == packed.TypeCodeFloat {
		return v.Float64()
	}
	return float64(v.Int64())
}
