// Package ast defines the abstract syntax tree for Kayton source: a
// small expression-oriented language where `if` and a `{ ... }` block
// both evaluate to the value of their last expression, the way the
// language's value model treats everything (including control flow)
// uniformly.
package ast

// Node is the interface every AST node implements.
type Node interface {
	TokenLiteral() string
}

// Expression is a node that evaluates to a value.
type Expression interface {
	Node
	expressionNode()
}

// Statement is a node executed for effect; Program and BlockExpression
// bodies are sequences of these.
type Statement interface {
	Node
	statementNode()
}

// Program is the root node: a flat list of function declarations. A
// Kayton source file has no module-level expressions, only functions.
type Program struct {
	Functions []*FunctionDecl
}

func (p *Program) TokenLiteral() string {
	if len(p.Functions) > 0 {
		return p.Functions[0].TokenLiteral()
	}
	return ""
}

// FunctionDecl is a top-level `fn name(params) { body }` declaration.
type FunctionDecl struct {
	Name   string
	Params []string
	Body   *BlockExpression
}

func (f *FunctionDecl) TokenLiteral() string { return "fn" }

// LetStatement binds the value of Value to Name for the rest of the
// enclosing block.
type LetStatement struct {
	Name  string
	Value Expression
}

func (l *LetStatement) TokenLiteral() string { return "let" }
func (l *LetStatement) statementNode()       {}

// ReturnStatement exits the enclosing function immediately with Value
// (Unit if Value is nil).
type ReturnStatement struct {
	Value Expression
}

func (r *ReturnStatement) TokenLiteral() string { return "return" }
func (r *ReturnStatement) statementNode()       {}

// ExpressionStatement is an expression evaluated for its side effects.
// Its value is discarded unless it is the last statement in a block,
// in which case it becomes the block's value.
type ExpressionStatement struct {
	Expression Expression
}

func (e *ExpressionStatement) TokenLiteral() string { return e.Expression.TokenLiteral() }
func (e *ExpressionStatement) statementNode()       {}

// Identifier is a reference to a local binding or parameter.
type Identifier struct {
	Name string
}

func (i *Identifier) TokenLiteral() string { return i.Name }
func (i *Identifier) expressionNode()      {}

// IntLiteral is an integer constant.
type IntLiteral struct {
	Value int64
}

func (n *IntLiteral) TokenLiteral() string { return "int" }
func (n *IntLiteral) expressionNode()      {}

// BoolLiteral is a boolean constant.
type BoolLiteral struct {
	Value bool
}

func (b *BoolLiteral) TokenLiteral() string { return "bool" }
func (b *BoolLiteral) expressionNode()      {}

// StringLiteral is a string constant.
type StringLiteral struct {
	Value string
}

func (s *StringLiteral) TokenLiteral() string { return "string" }
func (s *StringLiteral) expressionNode()      {}

// PrefixExpression is a unary operator applied to Right: `-x` or `!x`.
type PrefixExpression struct {
	Operator string
	Right    Expression
}

func (p *PrefixExpression) TokenLiteral() string { return p.Operator }
func (p *PrefixExpression) expressionNode()      {}

// InfixExpression is a binary operator applied to Left and Right.
type InfixExpression struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (i *InfixExpression) TokenLiteral() string { return i.Operator }
func (i *InfixExpression) expressionNode()      {}

// BlockExpression is a `{ ... }` body: a sequence of statements whose
// value is the value of its last ExpressionStatement, or Unit if the
// block is empty or ends in a Let/Return.
type BlockExpression struct {
	Statements []Statement
}

func (b *BlockExpression) TokenLiteral() string { return "{" }
func (b *BlockExpression) expressionNode()      {}

// IfExpression evaluates Condition, then Consequence or Alternative.
// Alternative is nil for a bodyless `if` (the expression is Unit when
// the condition is false).
type IfExpression struct {
	Condition   Expression
	Consequence *BlockExpression
	Alternative *BlockExpression
}

func (i *IfExpression) TokenLiteral() string { return "if" }
func (i *IfExpression) expressionNode()      {}

// CallExpression invokes Function (a user-defined function or, if no
// such function exists, a host extension looked up by name) with Args.
type CallExpression struct {
	Function string
	Args     []Expression
}

func (c *CallExpression) TokenLiteral() string { return c.Function }
func (c *CallExpression) expressionNode()      {}
