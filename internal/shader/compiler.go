package shader

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/compute/gpucore"
)

// Compiler turns generated WGSL into device programs.
type Compiler interface {
	// Compile returns one artifact per requested target. A rejection for
	// a specific target is reported as a *gpucore.CompilationError naming
	// that target.
	Compile(source string, targets []gpucore.ShaderTarget) (map[gpucore.ShaderTarget]gpucore.Bytecode, error)
}

// NagaCompiler compiles WGSL with the pure-Go naga toolchain. The source
// is parsed, lowered and validated once and then emitted for every target.
type NagaCompiler struct {
	// Debug embeds debug information in SPIR-V output.
	Debug bool
}

// Compile implements Compiler.
func (c NagaCompiler) Compile(source string, targets []gpucore.ShaderTarget) (map[gpucore.ShaderTarget]gpucore.Bytecode, error) {
	module, err := c.frontend(source)
	if err != nil {
		return nil, &gpucore.CompilationError{Target: gpucore.TargetWGSL, Err: err}
	}

	out := make(map[gpucore.ShaderTarget]gpucore.Bytecode, len(targets))
	for _, t := range targets {
		if _, done := out[t]; done {
			continue
		}
		code, err := c.emit(module, source, t)
		if err != nil {
			return nil, &gpucore.CompilationError{Target: t, Err: err}
		}
		out[t] = code
	}
	return out, nil
}

func (c NagaCompiler) frontend(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, err
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, err
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	if len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, ve := range verrs {
			errs[i] = ve
		}
		return nil, fmt.Errorf("validation: %w", errors.Join(errs...))
	}
	return module, nil
}

func (c NagaCompiler) emit(module *ir.Module, source string, t gpucore.ShaderTarget) (gpucore.Bytecode, error) {
	switch t {
	case gpucore.TargetWGSL:
		return gpucore.Bytecode{Target: t, Text: source}, nil

	case gpucore.TargetSPIRV:
		b, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3, Debug: c.Debug})
		if err != nil {
			return gpucore.Bytecode{}, err
		}
		words, err := spirvWords(b)
		if err != nil {
			return gpucore.Bytecode{}, err
		}
		return gpucore.Bytecode{Target: t, Words: words}, nil

	case gpucore.TargetHLSL:
		text, _, err := hlsl.Compile(module, hlsl.DefaultOptions())
		if err != nil {
			return gpucore.Bytecode{}, err
		}
		return gpucore.Bytecode{Target: t, Text: text}, nil

	case gpucore.TargetMSL:
		text, _, err := msl.Compile(module, msl.DefaultOptions())
		if err != nil {
			return gpucore.Bytecode{}, err
		}
		return gpucore.Bytecode{Target: t, Text: text}, nil

	case gpucore.TargetGLSL:
		text, _, err := glsl.Compile(module, glsl.Options{LangVersion: glsl.Version430})
		if err != nil {
			return gpucore.Bytecode{}, err
		}
		return gpucore.Bytecode{Target: t, Text: text}, nil

	default:
		return gpucore.Bytecode{}, fmt.Errorf("unsupported target %s", t)
	}
}

// spirvWords converts little-endian SPIR-V bytes to words.
func spirvWords(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V length %d is not a multiple of 4", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words, nil
}
