package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayton-lang/kayton/pkg/bytecode"
	"github.com/kayton-lang/kayton/pkg/compiler"
	"github.com/kayton-lang/kayton/pkg/host"
	"github.com/kayton-lang/kayton/pkg/lexer"
	"github.com/kayton-lang/kayton/pkg/parser"
	"github.com/kayton-lang/kayton/pkg/stdlib"
	"github.com/kayton-lang/kayton/pkg/vm"
)

func compileSource(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	p := parser.New(lexer.New(src))
	program := p.ParseProgram()
	require.Empty(t, p.Errors())

	module, errs := compiler.Compile(program)
	require.Empty(t, errs)
	require.NoError(t, bytecode.Verify(module))
	return module
}

func newTestHost(t *testing.T) *host.Host {
	t.Helper()
	h := host.New()
	t.Cleanup(h.Close)
	require.NoError(t, h.RegisterExtensions(stdlib.Extensions()))
	return h
}

func TestCompilesArithmetic(t *testing.T) {
	module := compileSource(t, `fn main() { 2 + 3 }`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(5), result)
}

func TestCompilesBranch(t *testing.T) {
	module := compileSource(t, `
		fn main() {
			if 3 < 7 { 10 } else { 99 }
		}
	`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(10), result)
}

func TestCompilesRecursion(t *testing.T) {
	module := compileSource(t, `
		fn fact(n) {
			if n <= 1 { 1 } else { n * fact(n - 1) }
		}
		fn main() { fact(5) }
	`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(120), result)
}

func TestCompilesHostCall(t *testing.T) {
	module := compileSource(t, `
		fn main() { len("hi") }
	`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(2), result)
}

func TestCompilesHostCallThroughPrint(t *testing.T) {
	module := compileSource(t, `
		fn main() { print(len("hello")) }
	`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.UnitValue(), result)
}

func TestCompilesLetAndMutationFreeLocals(t *testing.T) {
	module := compileSource(t, `
		fn main() {
			let x = 10;
			let y = 20;
			x + y
		}
	`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(30), result)
}

func TestCompilesIfWithoutElseAsUnit(t *testing.T) {
	module := compileSource(t, `fn main() { if false { 1 } }`)
	h := newTestHost(t)
	result, err := vm.RunModule(module, "main", h.APICtx())
	require.NoError(t, err)
	assert.Equal(t, vm.UnitValue(), result)
}

func TestCompileFailsOnDuplicateFunction(t *testing.T) {
	p := parser.New(lexer.New(`
		fn f() { 1 }
		fn f() { 2 }
	`))
	program := p.ParseProgram()
	require.Empty(t, p.Errors())

	_, errs := compiler.Compile(program)
	assert.NotEmpty(t, errs)
}

func TestCompileFailsOnUndefinedName(t *testing.T) {
	p := parser.New(lexer.New(`fn f() { x }`))
	program := p.ParseProgram()
	require.Empty(t, p.Errors())

	_, errs := compiler.Compile(program)
	assert.NotEmpty(t, errs)
}
