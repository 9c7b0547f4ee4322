// Package vm implements the Kayton bytecode interpreter: a stack
// machine with per-call frames, running against a compiled
// bytecode.Module and a host context it reaches through pkg/api.
//
// Execution keeps three things live at once: an operand stack shared
// across the whole run, a stack of Frames (one per in-flight function
// call, each with its own instruction pointer and locals), and the
// api.Ctx used to cross into host extensions. A function call pushes a
// Frame and keeps running the same loop; Return pops it and either
// hands the result to the caller's stack or, if no caller remains,
// ends the run.
//
// Example trace for a function whose body is just `2 + 3`:
//
//	ip=0 LoadConst(0)  stack=[2]
//	ip=1 LoadConst(1)  stack=[2 3]
//	ip=2 Add           stack=[5]
//	ip=3 Return        frames empty -> result Int(5)
package vm

import (
	"fmt"

	"github.com/kayton-lang/kayton/pkg/abi"
	"github.com/kayton-lang/kayton/pkg/api"
	"github.com/kayton-lang/kayton/pkg/bytecode"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	ValInt ValueKind = iota
	ValBool
	ValStr
	ValUnit
	ValHandle
)

// Value is anything that can sit on the VM's operand stack: either an
// unboxed primitive the VM can operate on directly, or a Handle into
// the host's value store for anything the VM treats opaquely (strings
// returned from a host call, bytes, capsules).
type Value struct {
	Kind   ValueKind
	Int    int64
	Bool   bool
	Str    string
	Handle *api.Handle
}

func IntValue(v int64) Value          { return Value{Kind: ValInt, Int: v} }
func BoolValue(v bool) Value          { return Value{Kind: ValBool, Bool: v} }
func StrValue(v string) Value         { return Value{Kind: ValStr, Str: v} }
func UnitValue() Value                { return Value{Kind: ValUnit} }
func HandleValue(h *api.Handle) Value { return Value{Kind: ValHandle, Handle: h} }

func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValInt:
		return v.Int == other.Int
	case ValBool:
		return v.Bool == other.Bool
	case ValStr:
		return v.Str == other.Str
	case ValUnit:
		return true
	case ValHandle:
		return v.Handle.Raw() == other.Handle.Raw()
	default:
		return false
	}
}

// cloneValue returns an independent owned copy of v: Handle-kind
// values retain the underlying handle (mirroring the reference
// implementation's KayHandle::Clone -> inc_ref); every other kind is
// a plain Go value copy and owns nothing to retain.
func cloneValue(v Value) (Value, error) {
	if v.Kind != ValHandle {
		return v, nil
	}
	cloned, err := v.Handle.Clone()
	if err != nil {
		return Value{}, wrapAbiErr(err)
	}
	return HandleValue(cloned), nil
}

// releaseValue drops v's reference on the handle store if v is
// Handle-kind (mirroring KayHandle::Drop -> dec_ref); other kinds own
// no handle and are a no-op.
func releaseValue(v Value) error {
	if v.Kind != ValHandle {
		return nil
	}
	return wrapAbiErr(v.Handle.Release())
}

func valueFromConstant(c bytecode.Constant) Value {
	switch c.Tag {
	case bytecode.ConstInt:
		return IntValue(c.Int)
	case bytecode.ConstBool:
		return BoolValue(c.Bool)
	case bytecode.ConstString:
		return StrValue(c.String)
	default:
		return UnitValue()
	}
}

// ErrorKind discriminates the variants of Error.
type ErrorKind int

const (
	EntryNotFound ErrorKind = iota
	BadFunction
	BadConstant
	HostNameType
	BadLocal
	StackUnderflow
	CallArity
	TypeError
	HostFailure
)

// Error is the VM's runtime error type. Expected is populated for
// TypeError; ExpectedArity/FoundArity for CallArity; Cause for
// HostFailure.
type Error struct {
	Kind          ErrorKind
	Name          string
	FunctionID    bytecode.FunctionId
	ConstID       bytecode.ConstId
	Expected      string
	ExpectedArity int
	FoundArity    int
	Cause         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case EntryNotFound:
		return fmt.Sprintf("entry function `%s` not found", e.Name)
	case BadFunction:
		return fmt.Sprintf("function index %d out of range", e.FunctionID)
	case BadConstant:
		return fmt.Sprintf("constant index %d out of range", e.ConstID)
	case HostNameType:
		return "host call requires a string constant"
	case BadLocal:
		return "local index out of range"
	case StackUnderflow:
		return "stack underflow"
	case CallArity:
		return fmt.Sprintf("call arity mismatch: expected %d, found %d", e.ExpectedArity, e.FoundArity)
	case TypeError:
		return fmt.Sprintf("type error: expected %s", e.Expected)
	case HostFailure:
		return fmt.Sprintf("host call failed: %v", e.Cause)
	default:
		return "unknown vm error"
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func errEntryNotFound(name string) *Error { return &Error{Kind: EntryNotFound, Name: name} }
func errBadFunction(id bytecode.FunctionId) *Error {
	return &Error{Kind: BadFunction, FunctionID: id}
}
func errBadConstant(id bytecode.ConstId) *Error { return &Error{Kind: BadConstant, ConstID: id} }
func errHostNameType() *Error                   { return &Error{Kind: HostNameType} }
func errBadLocal() *Error                       { return &Error{Kind: BadLocal} }
func errStackUnderflow() *Error                 { return &Error{Kind: StackUnderflow} }
func errCallArity(expected, found int) *Error {
	return &Error{Kind: CallArity, ExpectedArity: expected, FoundArity: found}
}
func errTypeError(expected string) *Error { return &Error{Kind: TypeError, Expected: expected} }
func errHostFailure(cause error) *Error   { return &Error{Kind: HostFailure, Cause: cause} }

// Frame is one function activation: the function it is executing, its
// instruction pointer within that function, and its local slots
// (parameters occupy the first Params of them).
type Frame struct {
	Function bytecode.FunctionId
	IP       int
	Locals   []Value
}

func newFrame(fn bytecode.FunctionId, locals []Value) Frame {
	return Frame{Function: fn, Locals: locals}
}

// RunModule looks up entry in module and runs it to completion against
// ctx, returning the value the entry function produced.
func RunModule(module *bytecode.Module, entry string, ctx api.Ctx) (Value, error) {
	entryID, ok := module.FunctionIndex(entry)
	if !ok {
		return Value{}, errEntryNotFound(entry)
	}
	machine := New(module, ctx)
	return machine.Run(entryID)
}

// VM is one bytecode interpreter run: a module, an operand stack, a
// call-frame stack, and the host context it bridges to.
type VM struct {
	module *bytecode.Module
	stack  []Value
	frames []Frame
	ctx    api.Ctx
}

// New creates a VM ready to run functions from module against ctx.
func New(module *bytecode.Module, ctx api.Ctx) *VM {
	return &VM{module: module, ctx: ctx}
}

// Run executes entry and every function it calls until the call stack
// empties, returning the final value.
func (m *VM) Run(entry bytecode.FunctionId) (Value, error) {
	if err := m.callFunction(entry, nil); err != nil {
		return Value{}, err
	}
	for {
		frameIndex := len(m.frames) - 1
		if frameIndex < 0 {
			return UnitValue(), nil
		}
		fn, err := m.functionAt(m.frames[frameIndex].Function)
		if err != nil {
			return Value{}, err
		}
		ip := m.frames[frameIndex].IP
		if ip >= len(fn.Instructions) {
			return Value{}, errBadFunction(m.frames[frameIndex].Function)
		}
		inst := fn.Instructions[ip]

		result, done, err := m.step(frameIndex, inst)
		if err != nil {
			return Value{}, newRuntimeError(err, m.Trace())
		}
		if done {
			return result, nil
		}
	}
}

// step executes a single instruction against frameIndex. It returns
// (value, true, nil) only when execution has fully unwound (Return
// with no caller frame left).
func (m *VM) step(frameIndex int, inst bytecode.Instruction) (Value, bool, error) {
	switch inst.Op {
	case bytecode.OpLoadConst:
		if int(inst.Const) >= len(m.module.Constants) {
			m.push(UnitValue())
		} else {
			m.push(valueFromConstant(m.module.Constants[inst.Const]))
		}
		m.advance(frameIndex)

	case bytecode.OpLoadLocal:
		locals := m.frames[frameIndex].Locals
		if int(inst.Local) >= len(locals) {
			return Value{}, false, errBadLocal()
		}
		cloned, err := cloneValue(locals[inst.Local])
		if err != nil {
			return Value{}, false, err
		}
		m.push(cloned)
		m.advance(frameIndex)

	case bytecode.OpStoreLocal:
		value, err := m.pop()
		if err != nil {
			return Value{}, false, err
		}
		if int(inst.Local) >= len(m.frames[frameIndex].Locals) {
			return Value{}, false, errBadLocal()
		}
		if err := releaseValue(m.frames[frameIndex].Locals[inst.Local]); err != nil {
			return Value{}, false, err
		}
		m.frames[frameIndex].Locals[inst.Local] = value
		m.frames[frameIndex].IP++

	case bytecode.OpJump:
		m.frames[frameIndex].IP = inst.Target

	case bytecode.OpJumpIfFalse:
		cond, err := m.popBool()
		if err != nil {
			return Value{}, false, err
		}
		if !cond {
			m.frames[frameIndex].IP = inst.Target
		} else {
			m.frames[frameIndex].IP++
		}

	case bytecode.OpAdd:
		if err := m.binaryInt(func(a, b int64) int64 { return a + b }); err != nil {
			return Value{}, false, err
		}
		m.advance(frameIndex)

	case bytecode.OpSub:
		if err := m.binaryInt(func(a, b int64) int64 { return a - b }); err != nil {
			return Value{}, false, err
		}
		m.advance(frameIndex)

	case bytecode.OpMul:
		if err := m.binaryInt(func(a, b int64) int64 { return a * b }); err != nil {
			return Value{}, false, err
		}
		m.advance(frameIndex)

	case bytecode.OpDiv:
		rhs, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		lhs, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		if rhs == 0 {
			return Value{}, false, errHostFailure(fmt.Errorf("division by zero"))
		}
		m.push(IntValue(lhs / rhs))
		m.advance(frameIndex)

	case bytecode.OpNeg:
		v, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		m.push(IntValue(-v))
		m.advance(frameIndex)

	case bytecode.OpNot:
		v, err := m.popBool()
		if err != nil {
			return Value{}, false, err
		}
		m.push(BoolValue(!v))
		m.advance(frameIndex)

	case bytecode.OpEq, bytecode.OpNe:
		rhs, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		lhs, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		if inst.Op == bytecode.OpEq {
			m.push(BoolValue(lhs == rhs))
		} else {
			m.push(BoolValue(lhs != rhs))
		}
		m.advance(frameIndex)

	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		rhs, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		lhs, err := m.popInt()
		if err != nil {
			return Value{}, false, err
		}
		var result bool
		switch inst.Op {
		case bytecode.OpLt:
			result = lhs < rhs
		case bytecode.OpLe:
			result = lhs <= rhs
		case bytecode.OpGt:
			result = lhs > rhs
		case bytecode.OpGe:
			result = lhs >= rhs
		}
		m.push(BoolValue(result))
		m.advance(frameIndex)

	case bytecode.OpCall:
		args := make([]Value, inst.ArgCount)
		for i := int(inst.ArgCount) - 1; i >= 0; i-- {
			v, err := m.pop()
			if err != nil {
				return Value{}, false, err
			}
			args[i] = v
		}
		if err := m.callFunction(inst.Function, args); err != nil {
			return Value{}, false, err
		}

	case bytecode.OpCallHost:
		result, err := m.invokeHost(inst.Slot, inst.ArgCount)
		if err != nil {
			return Value{}, false, err
		}
		m.push(result)
		m.advance(frameIndex)

	case bytecode.OpCallHostDynamic:
		if int(inst.Const) >= len(m.module.Constants) {
			return Value{}, false, errBadConstant(inst.Const)
		}
		nameConst := m.module.Constants[inst.Const]
		if nameConst.Tag != bytecode.ConstString {
			return Value{}, false, errHostNameType()
		}
		result, err := m.invokeHostDynamic(nameConst.String, inst.ArgCount)
		if err != nil {
			return Value{}, false, err
		}
		m.push(result)
		m.advance(frameIndex)

	case bytecode.OpReturn:
		result := UnitValue()
		if len(m.stack) > 0 {
			result, _ = m.pop()
		}
		frame := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		for _, local := range frame.Locals {
			if err := releaseValue(local); err != nil {
				return Value{}, false, err
			}
		}
		if len(m.frames) > 0 {
			m.push(result)
			m.frames[len(m.frames)-1].IP++
		} else {
			return result, true, nil
		}

	case bytecode.OpPop:
		value, err := m.pop()
		if err != nil {
			return Value{}, false, err
		}
		if err := releaseValue(value); err != nil {
			return Value{}, false, err
		}
		m.advance(frameIndex)

	default:
		return Value{}, false, fmt.Errorf("unhandled opcode %s", inst.Op)
	}
	return Value{}, false, nil
}

func (m *VM) functionAt(id bytecode.FunctionId) (*bytecode.Function, error) {
	if int(id) >= len(m.module.Functions) {
		return nil, errBadFunction(id)
	}
	return &m.module.Functions[id], nil
}

func (m *VM) invokeHost(slot bytecode.HostSlot, argCount uint16) (Value, error) {
	args, err := m.collectHostArgs(argCount)
	if err != nil {
		return Value{}, err
	}
	handle, callErr := m.ctx.CallSlot(abi.HostSlot(slot), args)
	relErr := releaseHostArgs(args)
	if callErr != nil {
		return Value{}, errHostFailure(callErr)
	}
	if relErr != nil {
		return Value{}, relErr
	}
	return m.handleToValue(handle)
}

func (m *VM) invokeHostDynamic(name string, argCount uint16) (Value, error) {
	args, err := m.collectHostArgs(argCount)
	if err != nil {
		return Value{}, err
	}
	handle, callErr := m.ctx.CallDynamic(name, args)
	relErr := releaseHostArgs(args)
	if callErr != nil {
		return Value{}, errHostFailure(callErr)
	}
	if relErr != nil {
		return Value{}, relErr
	}
	return m.handleToValue(handle)
}

// releaseHostArgs drops the VM's own reference on every handle
// collected for a host call, mirroring the reference implementation's
// owned Vec<KayHandle> being dropped at the end of invoke_host: the
// callee received its own inc_ref'd reference during the call
// (abi/host's call_host contract), so the VM's reference is no longer
// needed once the call returns.
func releaseHostArgs(args []*api.Handle) error {
	var firstErr error
	for _, h := range args {
		if err := h.Release(); err != nil && firstErr == nil {
			firstErr = wrapAbiErr(err)
		}
	}
	return firstErr
}

func (m *VM) collectHostArgs(argCount uint16) ([]*api.Handle, error) {
	handles := make([]*api.Handle, argCount)
	for i := int(argCount) - 1; i >= 0; i-- {
		value, err := m.pop()
		if err != nil {
			return nil, err
		}
		handle, err := m.ensureHandle(value)
		if err != nil {
			return nil, err
		}
		handles[i] = handle
	}
	return handles, nil
}

// ensureHandle materializes a host handle for value, allocating a
// fresh one for unboxed primitives or reusing an existing Handle.
func (m *VM) ensureHandle(value Value) (*api.Handle, error) {
	switch value.Kind {
	case ValInt:
		h, err := m.ctx.AllocInt(value.Int)
		return h, wrapAbiErr(err)
	case ValBool:
		h, err := m.ctx.AllocBool(value.Bool)
		return h, wrapAbiErr(err)
	case ValStr:
		h, err := m.ctx.AllocString(value.Str)
		return h, wrapAbiErr(err)
	case ValUnit:
		h, err := m.ctx.AllocUnit()
		return h, wrapAbiErr(err)
	case ValHandle:
		return value.Handle, nil
	default:
		return nil, errTypeError("value")
	}
}

// handleToValue lowers a host handle back into a VM Value, unboxing
// ints, bools, and unit but leaving strings, bytes, and capsules as
// Handles since the VM never inspects their contents directly.
func (m *VM) handleToValue(handle *api.Handle) (Value, error) {
	kind, err := handle.Describe()
	if err != nil {
		return Value{}, errHostFailure(err)
	}
	switch kind.Tag {
	case abi.KindInt:
		v := IntValue(kind.Int)
		if err := handle.Release(); err != nil {
			return Value{}, wrapAbiErr(err)
		}
		return v, nil
	case abi.KindBool:
		v := BoolValue(kind.Bool)
		if err := handle.Release(); err != nil {
			return Value{}, wrapAbiErr(err)
		}
		return v, nil
	case abi.KindUnit:
		if err := handle.Release(); err != nil {
			return Value{}, wrapAbiErr(err)
		}
		return UnitValue(), nil
	default:
		return HandleValue(handle), nil
	}
}

func (m *VM) callFunction(id bytecode.FunctionId, args []Value) error {
	fn, err := m.functionAt(id)
	if err != nil {
		return err
	}
	expected := int(fn.Params)
	if expected != len(args) {
		return errCallArity(expected, len(args))
	}
	locals := make([]Value, fn.Locals)
	copy(locals, args)
	for i := len(args); i < len(locals); i++ {
		locals[i] = UnitValue()
	}
	m.frames = append(m.frames, newFrame(id, locals))
	return nil
}

func (m *VM) advance(frameIndex int) {
	if frameIndex < len(m.frames) {
		m.frames[frameIndex].IP++
	}
}

func (m *VM) push(v Value) { m.stack = append(m.stack, v) }

func (m *VM) pop() (Value, error) {
	if len(m.stack) == 0 {
		return Value{}, errStackUnderflow()
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *VM) popInt() (int64, error) {
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	if v.Kind != ValInt {
		return 0, errTypeError("int")
	}
	return v.Int, nil
}

func (m *VM) popBool() (bool, error) {
	v, err := m.pop()
	if err != nil {
		return false, err
	}
	if v.Kind != ValBool {
		return false, errTypeError("bool")
	}
	return v.Bool, nil
}

func (m *VM) binaryInt(op func(a, b int64) int64) error {
	rhs, err := m.popInt()
	if err != nil {
		return err
	}
	lhs, err := m.popInt()
	if err != nil {
		return err
	}
	m.push(IntValue(op(lhs, rhs)))
	return nil
}

func wrapAbiErr(err error) error {
	if err == nil {
		return nil
	}
	return errHostFailure(err)
}
