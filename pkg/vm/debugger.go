// Package vm - bytecode disassembly and state dumping.
package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"

	"github.com/kayton-lang/kayton/pkg/bytecode"
)

// Disassembler renders a compiled Module back into human-readable
// instruction listings, for the `kayton disasm` command and for
// debugging failed runs.
type Disassembler struct {
	module *bytecode.Module
	Color  bool // set false for plain-text output (tests, redirected files)
}

func NewDisassembler(module *bytecode.Module) *Disassembler {
	return &Disassembler{module: module, Color: true}
}

// Disassemble writes a full listing of every function in the module to w.
func (d *Disassembler) Disassemble(w io.Writer) error {
	for i, fn := range d.module.Functions {
		if err := d.disassembleFunction(w, bytecode.FunctionId(i), &fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *Disassembler) disassembleFunction(w io.Writer, id bytecode.FunctionId, fn *bytecode.Function) error {
	header := fmt.Sprintf("function #%d %s(params=%d locals=%d)", id, fn.Name, fn.Params, fn.Locals)
	if d.Color {
		header = color.New(color.FgCyan, color.Bold).Sprint(header)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for ip, inst := range fn.Instructions {
		line := d.formatInstruction(ip, inst)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func (d *Disassembler) formatInstruction(ip int, inst bytecode.Instruction) string {
	opName := inst.Op.String()
	if d.Color {
		opName = color.New(color.FgYellow).Sprint(opName)
	}
	var operand string
	switch inst.Op {
	case bytecode.OpLoadConst:
		operand = d.describeConst(inst.Const)
	case bytecode.OpCallHostDynamic:
		operand = d.describeConst(inst.Const) + fmt.Sprintf(" argc=%d", inst.ArgCount)
	case bytecode.OpLoadLocal, bytecode.OpStoreLocal:
		operand = fmt.Sprintf("local=%d", inst.Local)
	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		operand = fmt.Sprintf("-> %d", inst.Target)
	case bytecode.OpCall:
		operand = fmt.Sprintf("fn=%d argc=%d", inst.Function, inst.ArgCount)
	case bytecode.OpCallHost:
		operand = fmt.Sprintf("slot=%d argc=%d", inst.Slot, inst.ArgCount)
	}
	line := fmt.Sprintf("  %4d: %s", ip, opName)
	if operand != "" {
		line += " " + operand
	}
	return line
}

func (d *Disassembler) describeConst(id bytecode.ConstId) string {
	if int(id) >= len(d.module.Constants) {
		return fmt.Sprintf("const#%d <out of range>", id)
	}
	c := d.module.Constants[id]
	switch c.Tag {
	case bytecode.ConstInt:
		return fmt.Sprintf("const#%d (%d)", id, c.Int)
	case bytecode.ConstBool:
		return fmt.Sprintf("const#%d (%t)", id, c.Bool)
	case bytecode.ConstString:
		return fmt.Sprintf("const#%d (%q)", id, c.String)
	default:
		return fmt.Sprintf("const#%d (unit)", id)
	}
}

// DumpValue renders a Value with spew. For a Handle it dumps the
// abi.ValueKind the host reports for it; a capsule shows only its tag,
// not its payload.
func DumpValue(v Value) string {
	var b strings.Builder
	switch v.Kind {
	case ValHandle:
		kind, err := v.Handle.Describe()
		if err != nil {
			fmt.Fprintf(&b, "<handle %d: %v>", v.Handle.Raw(), err)
			break
		}
		b.WriteString(spew.Sdump(kind))
	default:
		b.WriteString(spew.Sdump(v))
	}
	return b.String()
}
