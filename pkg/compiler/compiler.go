// Package compiler compiles a Kayton AST into a bytecode.Module.
//
// Compilation happens in two passes over the function list: first every
// function's name and arity is registered so that calls to functions
// declared later in the file resolve to a Call instruction instead of
// falling back to a host lookup, then each function's body is walked to
// emit its instructions. Within a function, a flat symbol table maps
// parameter and `let` names to local slot indices; blocks don't get
// their own scope, so a `let` shadowing an outer name reuses a fresh
// slot rather than erroring, matching the loose, single-pass style of
// the rest of this pipeline.
package compiler

import (
	"fmt"

	"github.com/kayton-lang/kayton/pkg/ast"
	"github.com/kayton-lang/kayton/pkg/bytecode"
)

// Compiler turns one ast.Program into one bytecode.Module.
type Compiler struct {
	module *bytecode.Module

	// funcBody holds each function's body/params while the function
	// table is being pre-registered, keyed by its assigned FunctionId.
	funcBody map[bytecode.FunctionId]*ast.FunctionDecl

	locals     map[string]uint16
	localCount uint16
	instr      []bytecode.Instruction
}

// New creates a Compiler.
func New() *Compiler {
	return &Compiler{module: bytecode.NewModule()}
}

// Compile compiles program into a bytecode.Module. It returns every
// error it can find; when the error slice is non-empty the returned
// module is nil.
func Compile(program *ast.Program) (*bytecode.Module, []error) {
	c := New()
	return c.compileProgram(program)
}

func (c *Compiler) compileProgram(program *ast.Program) (*bytecode.Module, []error) {
	var errs []error

	c.funcBody = make(map[bytecode.FunctionId]*ast.FunctionDecl, len(program.Functions))
	for _, fn := range program.Functions {
		if _, exists := c.module.FunctionIndex(fn.Name); exists {
			errs = append(errs, fmt.Errorf("function %q declared more than once", fn.Name))
			continue
		}
		id := c.module.AddFunction(bytecode.Function{
			Name:   fn.Name,
			Params: uint16(len(fn.Params)),
		})
		c.funcBody[id] = fn
	}

	for id, fn := range c.funcBody {
		if err := c.compileFunctionBody(id, fn); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return c.module, nil
}

func (c *Compiler) compileFunctionBody(id bytecode.FunctionId, fn *ast.FunctionDecl) error {
	c.locals = make(map[string]uint16, len(fn.Params))
	c.localCount = 0
	c.instr = nil

	for _, param := range fn.Params {
		c.declareLocal(param)
	}

	if err := c.compileBlock(fn.Body); err != nil {
		return fmt.Errorf("function %q: %w", fn.Name, err)
	}
	c.emit(bytecode.Return)

	compiled := c.module.Functions[id]
	compiled.Locals = c.localCount
	compiled.Instructions = c.instr
	c.module.Functions[id] = compiled
	return nil
}

func (c *Compiler) declareLocal(name string) uint16 {
	slot := c.localCount
	c.locals[name] = slot
	c.localCount++
	return slot
}

func (c *Compiler) emit(inst bytecode.Instruction) int {
	c.instr = append(c.instr, inst)
	return len(c.instr) - 1
}

// patchTarget rewrites the Target of the jump instruction at index to
// point at the current end of the instruction stream.
func (c *Compiler) patchTarget(index int) {
	c.instr[index].Target = len(c.instr)
}

// compileBlock compiles a block's statements, leaving the value of its
// last ExpressionStatement on the stack (or Unit, if the block is
// empty or doesn't end in one).
func (c *Compiler) compileBlock(block *ast.BlockExpression) error {
	for i, stmt := range block.Statements {
		last := i == len(block.Statements)-1
		if err := c.compileStatement(stmt, last); err != nil {
			return err
		}
	}
	if len(block.Statements) == 0 {
		c.emit(bytecode.LoadConst(c.constant(bytecode.UnitConstant())))
	}
	return nil
}

// compileStatement compiles one statement. If keepValue is true and the
// statement is an ExpressionStatement, its value is left on the stack;
// otherwise it's popped (or, for Let/Return, never pushed to begin
// with).
func (c *Compiler) compileStatement(stmt ast.Statement, keepValue bool) error {
	switch s := stmt.(type) {
	case *ast.LetStatement:
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		slot := c.declareLocal(s.Name)
		c.emit(bytecode.StoreLocal(slot))
		if keepValue {
			c.emit(bytecode.LoadConst(c.constant(bytecode.UnitConstant())))
		}
		return nil

	case *ast.ReturnStatement:
		if s.Value != nil {
			if err := c.compileExpression(s.Value); err != nil {
				return err
			}
		} else {
			c.emit(bytecode.LoadConst(c.constant(bytecode.UnitConstant())))
		}
		c.emit(bytecode.Return)
		return nil

	case *ast.ExpressionStatement:
		if err := c.compileExpression(s.Expression); err != nil {
			return err
		}
		if !keepValue {
			c.emit(bytecode.Pop)
		}
		return nil

	default:
		return fmt.Errorf("unknown statement type %T", stmt)
	}
}

func (c *Compiler) constant(v bytecode.Constant) bytecode.ConstId {
	return c.module.AddConstant(v)
}

func (c *Compiler) compileExpression(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		c.emit(bytecode.LoadConst(c.constant(bytecode.IntConstant(e.Value))))
		return nil

	case *ast.BoolLiteral:
		c.emit(bytecode.LoadConst(c.constant(bytecode.BoolConstant(e.Value))))
		return nil

	case *ast.StringLiteral:
		c.emit(bytecode.LoadConst(c.constant(bytecode.StringConstant(e.Value))))
		return nil

	case *ast.Identifier:
		slot, ok := c.locals[e.Name]
		if !ok {
			return fmt.Errorf("undefined name %q", e.Name)
		}
		c.emit(bytecode.LoadLocal(slot))
		return nil

	case *ast.PrefixExpression:
		if err := c.compileExpression(e.Right); err != nil {
			return err
		}
		switch e.Operator {
		case "-":
			c.emit(bytecode.Neg)
		case "!":
			c.emit(bytecode.Not)
		default:
			return fmt.Errorf("unknown prefix operator %q", e.Operator)
		}
		return nil

	case *ast.InfixExpression:
		return c.compileInfix(e)

	case *ast.IfExpression:
		return c.compileIf(e)

	case *ast.CallExpression:
		return c.compileCall(e)

	default:
		return fmt.Errorf("unknown expression type %T", expr)
	}
}

func (c *Compiler) compileInfix(e *ast.InfixExpression) error {
	if err := c.compileExpression(e.Left); err != nil {
		return err
	}
	if err := c.compileExpression(e.Right); err != nil {
		return err
	}
	switch e.Operator {
	case "+":
		c.emit(bytecode.Add)
	case "-":
		c.emit(bytecode.Sub)
	case "*":
		c.emit(bytecode.Mul)
	case "/":
		c.emit(bytecode.Div)
	case "==":
		c.emit(bytecode.Eq)
	case "!=":
		c.emit(bytecode.Ne)
	case "<":
		c.emit(bytecode.Lt)
	case "<=":
		c.emit(bytecode.Le)
	case ">":
		c.emit(bytecode.Gt)
	case ">=":
		c.emit(bytecode.Ge)
	default:
		return fmt.Errorf("unknown infix operator %q", e.Operator)
	}
	return nil
}

// compileIf lowers `if cond { cons } else { alt }` to:
//
//	<cond>
//	JumpIfFalse L1
//	<cons>
//	Jump L2
//	L1: <alt, or LoadConst Unit if absent>
//	L2:
func (c *Compiler) compileIf(e *ast.IfExpression) error {
	if err := c.compileExpression(e.Condition); err != nil {
		return err
	}
	jumpIfFalse := c.emit(bytecode.JumpIfFalse(0))

	if err := c.compileBlock(e.Consequence); err != nil {
		return err
	}
	jumpEnd := c.emit(bytecode.Jump(0))

	c.patchTarget(jumpIfFalse)
	if e.Alternative != nil {
		if err := c.compileBlock(e.Alternative); err != nil {
			return err
		}
	} else {
		c.emit(bytecode.LoadConst(c.constant(bytecode.UnitConstant())))
	}
	c.patchTarget(jumpEnd)
	return nil
}

// compileCall resolves e.Function against the module's function table
// at compile time: a known function compiles to Call, anything else is
// assumed to be a host extension and compiles to CallHostDynamic,
// resolved by name at run time.
func (c *Compiler) compileCall(e *ast.CallExpression) error {
	for _, arg := range e.Args {
		if err := c.compileExpression(arg); err != nil {
			return err
		}
	}
	argc := uint16(len(e.Args))

	if id, ok := c.module.FunctionIndex(e.Function); ok {
		c.emit(bytecode.CallFn(id, argc))
		return nil
	}
	nameConst := c.constant(bytecode.StringConstant(e.Function))
	c.emit(bytecode.CallHostByName(nameConst, argc))
	return nil
}
