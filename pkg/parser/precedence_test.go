package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayton-lang/kayton/pkg/ast"
	"github.com/kayton-lang/kayton/pkg/lexer"
	"github.com/kayton-lang/kayton/pkg/parser"
)

// exprOf parses a single-statement function body and returns its
// expression, for precedence-shape assertions.
func exprOf(t *testing.T, src string) ast.Expression {
	t.Helper()
	p := parser.New(lexer.New("fn f() { " + src + " }"))
	program := p.ParseProgram()
	require.Empty(t, p.Errors(), "parser errors: %v", p.Errors())
	stmt := program.Functions[0].Body.Statements[0].(*ast.ExpressionStatement)
	return stmt.Expression
}

func TestMultiplicationBindsTighterThanAddition(t *testing.T) {
	// 1 + 2 * 3  =>  1 + (2 * 3)
	expr := exprOf(t, "1 + 2 * 3")
	add, ok := expr.(*ast.InfixExpression)
	require.True(t, ok)
	assert.Equal(t, "+", add.Operator)

	_, ok = add.Left.(*ast.IntLiteral)
	assert.True(t, ok)

	mul, ok := add.Right.(*ast.InfixExpression)
	require.True(t, ok)
	assert.Equal(t, "*", mul.Operator)
}

func TestComparisonBindsLooserThanAdditive(t *testing.T) {
	// 1 + 2 < 3 * 4  =>  (1 + 2) < (3 * 4)
	expr := exprOf(t, "1 + 2 < 3 * 4")
	lt := expr.(*ast.InfixExpression)
	assert.Equal(t, "<", lt.Operator)

	left, ok := lt.Left.(*ast.InfixExpression)
	require.True(t, ok)
	assert.Equal(t, "+", left.Operator)

	right, ok := lt.Right.(*ast.InfixExpression)
	require.True(t, ok)
	assert.Equal(t, "*", right.Operator)
}

func TestEqualityBindsLoosestAmongBinaryOps(t *testing.T) {
	// a < b == c < d  =>  (a < b) == (c < d)
	expr := exprOf(t, "a < b == c < d")
	eq := expr.(*ast.InfixExpression)
	assert.Equal(t, "==", eq.Operator)

	left := eq.Left.(*ast.InfixExpression)
	assert.Equal(t, "<", left.Operator)
	right := eq.Right.(*ast.InfixExpression)
	assert.Equal(t, "<", right.Operator)
}

func TestParenthesesOverridePrecedence(t *testing.T) {
	// (1 + 2) * 3
	expr := exprOf(t, "(1 + 2) * 3")
	mul := expr.(*ast.InfixExpression)
	assert.Equal(t, "*", mul.Operator)

	left, ok := mul.Left.(*ast.InfixExpression)
	require.True(t, ok)
	assert.Equal(t, "+", left.Operator)
}

func TestUnaryBindsTighterThanBinary(t *testing.T) {
	// -a * b  =>  (-a) * b
	expr := exprOf(t, "-a * b")
	mul := expr.(*ast.InfixExpression)
	assert.Equal(t, "*", mul.Operator)

	neg, ok := mul.Left.(*ast.PrefixExpression)
	require.True(t, ok)
	assert.Equal(t, "-", neg.Operator)
}

func TestCallBindsTighterThanBinary(t *testing.T) {
	// f(a) + 1  =>  (f(a)) + 1
	expr := exprOf(t, "f(a) + 1")
	add := expr.(*ast.InfixExpression)
	assert.Equal(t, "+", add.Operator)

	call, ok := add.Left.(*ast.CallExpression)
	require.True(t, ok)
	assert.Equal(t, "f", call.Function)
}

func TestLeftAssociativityOfSameLevelOperators(t *testing.T) {
	// 1 - 2 - 3  =>  (1 - 2) - 3
	expr := exprOf(t, "1 - 2 - 3")
	outer := expr.(*ast.InfixExpression)
	assert.Equal(t, "-", outer.Operator)

	inner, ok := outer.Left.(*ast.InfixExpression)
	require.True(t, ok)
	assert.Equal(t, "-", inner.Operator)

	_, ok = outer.Right.(*ast.IntLiteral)
	assert.True(t, ok)
}
