package vm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayton-lang/kayton/pkg/bytecode"
	"github.com/kayton-lang/kayton/pkg/vm"
)

func TestDisassembleListsEveryInstruction(t *testing.T) {
	m := bytecode.NewModule()
	answer := m.AddConstant(bytecode.IntConstant(42))
	m.AddFunction(bytecode.Function{
		Name: "main",
		Instructions: []bytecode.Instruction{
			bytecode.LoadConst(answer),
			bytecode.Return,
		},
	})

	d := vm.NewDisassembler(m)
	d.Color = false
	var buf strings.Builder
	require.NoError(t, d.Disassemble(&buf))

	out := buf.String()
	assert.Contains(t, out, "main(params=0 locals=0)")
	assert.Contains(t, out, "LoadConst")
	assert.Contains(t, out, "const#0 (42)")
	assert.Contains(t, out, "Return")
}

func TestDumpValueRendersInts(t *testing.T) {
	out := vm.DumpValue(vm.IntValue(7))
	assert.Contains(t, out, "Int")
	assert.Contains(t, out, "7")
}
