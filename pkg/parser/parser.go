// Package parser implements the Kayton language parser.
//
// The parser converts a token stream from pkg/lexer into the AST
// defined in pkg/ast. It's a recursive-descent parser with a
// Pratt-style expression parser for operator precedence:
//
//   - Each grammar rule corresponds to a parsing method.
//   - The parser keeps a two-token window, curTok and peekTok, so it
//     can decide what to parse without consuming tokens prematurely.
//   - Expression parsing dispatches on curTok's type to a prefix
//     parser, then repeatedly looks at peekTok's binding power to
//     decide whether to fold it into an infix expression.
//
// Grammar (simplified):
//
//	Program    := FunctionDecl*
//	FunctionDecl := "fn" IDENT "(" (IDENT ("," IDENT)*)? ")" Block
//	Block      := "{" Statement* "}"
//	Statement  := LetStmt | ReturnStmt | ExprStmt
//	LetStmt    := "let" IDENT "=" Expression ";"?
//	ReturnStmt := "return" Expression? ";"?
//	ExprStmt   := Expression ";"?
//	Expression := IfExpr | Equality
//	IfExpr     := "if" Expression Block ("else" (IfExpr | Block))?
//	(Equality, Comparison, Additive, Multiplicative, Unary, Call, Primary
//	 follow the usual C-like precedence chain, built with a Pratt table
//	 rather than one function per level.)
//
// Errors accumulate in Errors() rather than stopping at the first one,
// so a single parse reports every syntax error it can find.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kayton-lang/kayton/pkg/ast"
	"github.com/kayton-lang/kayton/pkg/lexer"
)

type precedence int

const (
	precLowest precedence = iota
	precEquality
	precComparison
	precAdditive
	precMultiplicative
	precPrefix
	precCall
)

var precedences = map[lexer.TokenType]precedence{
	lexer.TokenEq:         precEquality,
	lexer.TokenNotEq:      precEquality,
	lexer.TokenLess:       precComparison,
	lexer.TokenLessEq:     precComparison,
	lexer.TokenGreater:    precComparison,
	lexer.TokenGreaterEq:  precComparison,
	lexer.TokenPlus:       precAdditive,
	lexer.TokenMinus:      precAdditive,
	lexer.TokenStar:       precMultiplicative,
	lexer.TokenSlash:      precMultiplicative,
	lexer.TokenLParen:     precCall,
}

// Parser is a single-use recursive-descent parser over one token
// stream. Create a new Parser for each source file.
type Parser struct {
	l *lexer.Lexer

	curTok  lexer.Token
	peekTok lexer.Token

	errors []string

	prefixParsers map[lexer.TokenType]func() ast.Expression
	infixParsers  map[lexer.TokenType]func(ast.Expression) ast.Expression
}

// New creates a Parser reading tokens from l.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParsers = map[lexer.TokenType]func() ast.Expression{
		lexer.TokenIdentifier: p.parseIdentifierOrCall,
		lexer.TokenInt:        p.parseIntLiteral,
		lexer.TokenString:     p.parseStringLiteral,
		lexer.TokenTrue:       p.parseBoolLiteral,
		lexer.TokenFalse:      p.parseBoolLiteral,
		lexer.TokenBang:       p.parsePrefixExpression,
		lexer.TokenMinus:      p.parsePrefixExpression,
		lexer.TokenLParen:     p.parseGroupedExpression,
		lexer.TokenIf:         p.parseIfExpression,
	}

	p.infixParsers = map[lexer.TokenType]func(ast.Expression) ast.Expression{
		lexer.TokenPlus:      p.parseInfixExpression,
		lexer.TokenMinus:     p.parseInfixExpression,
		lexer.TokenStar:      p.parseInfixExpression,
		lexer.TokenSlash:     p.parseInfixExpression,
		lexer.TokenEq:        p.parseInfixExpression,
		lexer.TokenNotEq:     p.parseInfixExpression,
		lexer.TokenLess:      p.parseInfixExpression,
		lexer.TokenLessEq:    p.parseInfixExpression,
		lexer.TokenGreater:   p.parseInfixExpression,
		lexer.TokenGreaterEq: p.parseInfixExpression,
	}

	p.nextToken()
	p.nextToken()
	return p
}

// Errors returns every syntax error accumulated during ParseProgram.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) curIs(t lexer.TokenType) bool  { return p.curTok.Type == t }
func (p *Parser) peekIs(t lexer.TokenType) bool { return p.peekTok.Type == t }

func (p *Parser) expectPeek(t lexer.TokenType) bool {
	if p.peekIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) peekError(t lexer.TokenType) {
	p.errors = append(p.errors, fmt.Sprintf(
		"line %d: expected next token to be %s, got %s (%q) instead",
		p.peekTok.Line, t, p.peekTok.Type, p.peekTok.Literal))
}

func (p *Parser) peekPrecedence() precedence {
	if pr, ok := precedences[p.peekTok.Type]; ok {
		return pr
	}
	return precLowest
}

func (p *Parser) curPrecedence() precedence {
	if pr, ok := precedences[p.curTok.Type]; ok {
		return pr
	}
	return precLowest
}

// ParseProgram parses the whole token stream as a sequence of function
// declarations.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}
	for !p.curIs(lexer.TokenEOF) {
		if !p.curIs(lexer.TokenFn) {
			p.errors = append(p.errors, fmt.Sprintf("line %d: expected `fn`, got %s", p.curTok.Line, p.curTok.Type))
			p.nextToken()
			continue
		}
		if fn := p.parseFunctionDecl(); fn != nil {
			program.Functions = append(program.Functions, fn)
		}
	}
	return program
}

func (p *Parser) parseFunctionDecl() *ast.FunctionDecl {
	fn := &ast.FunctionDecl{}

	if !p.expectPeek(lexer.TokenIdentifier) {
		return nil
	}
	fn.Name = p.curTok.Literal

	if !p.expectPeek(lexer.TokenLParen) {
		return nil
	}
	fn.Params = p.parseParamList()

	if !p.expectPeek(lexer.TokenLBrace) {
		return nil
	}
	fn.Body = p.parseBlockExpression()
	return fn
}

func (p *Parser) parseParamList() []string {
	var params []string
	if p.peekIs(lexer.TokenRParen) {
		p.nextToken()
		return params
	}
	p.nextToken()
	params = append(params, p.curTok.Literal)
	for p.peekIs(lexer.TokenComma) {
		p.nextToken()
		p.nextToken()
		params = append(params, p.curTok.Literal)
	}
	if !p.expectPeek(lexer.TokenRParen) {
		return params
	}
	return params
}

// parseBlockExpression parses statements up to a closing `}`. curTok
// must be `{` on entry; on return curTok is the matching `}`.
func (p *Parser) parseBlockExpression() *ast.BlockExpression {
	block := &ast.BlockExpression{}
	p.nextToken()
	for !p.curIs(lexer.TokenRBrace) && !p.curIs(lexer.TokenEOF) {
		if stmt := p.parseStatement(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curTok.Type {
	case lexer.TokenLet:
		return p.parseLetStatement()
	case lexer.TokenReturn:
		return p.parseReturnStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseLetStatement() ast.Statement {
	stmt := &ast.LetStatement{}
	if !p.expectPeek(lexer.TokenIdentifier) {
		return nil
	}
	stmt.Name = p.curTok.Literal
	if !p.expectPeek(lexer.TokenAssign) {
		return nil
	}
	p.nextToken()
	stmt.Value = p.parseExpression(precLowest)
	if p.peekIs(lexer.TokenSemicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseReturnStatement() ast.Statement {
	stmt := &ast.ReturnStatement{}
	if p.peekIs(lexer.TokenSemicolon) || p.peekIs(lexer.TokenRBrace) {
		p.nextToken()
		return stmt
	}
	p.nextToken()
	stmt.Value = p.parseExpression(precLowest)
	if p.peekIs(lexer.TokenSemicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	stmt := &ast.ExpressionStatement{Expression: p.parseExpression(precLowest)}
	if p.peekIs(lexer.TokenSemicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpression(prec precedence) ast.Expression {
	prefix, ok := p.prefixParsers[p.curTok.Type]
	if !ok {
		p.errors = append(p.errors, fmt.Sprintf("line %d: no prefix parser for %s (%q)", p.curTok.Line, p.curTok.Type, p.curTok.Literal))
		return nil
	}
	left := prefix()

	for !p.peekIs(lexer.TokenSemicolon) && prec < p.peekPrecedence() {
		infix, ok := p.infixParsers[p.peekTok.Type]
		if !ok {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifierOrCall() ast.Expression {
	name := p.curTok.Literal
	if !p.peekIs(lexer.TokenLParen) {
		return &ast.Identifier{Name: name}
	}
	p.nextToken()
	return p.parseCallArgs(name)
}

func (p *Parser) parseCallArgs(name string) ast.Expression {
	call := &ast.CallExpression{Function: name}
	if p.peekIs(lexer.TokenRParen) {
		p.nextToken()
		return call
	}
	p.nextToken()
	call.Args = append(call.Args, p.parseExpression(precLowest))
	for p.peekIs(lexer.TokenComma) {
		p.nextToken()
		p.nextToken()
		call.Args = append(call.Args, p.parseExpression(precLowest))
	}
	if !p.expectPeek(lexer.TokenRParen) {
		return call
	}
	return call
}

func (p *Parser) parseIntLiteral() ast.Expression {
	v, err := strconv.ParseInt(p.curTok.Literal, 10, 64)
	if err != nil {
		p.errors = append(p.errors, fmt.Sprintf("line %d: invalid integer literal %q", p.curTok.Line, p.curTok.Literal))
		return nil
	}
	return &ast.IntLiteral{Value: v}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Value: p.curTok.Literal}
}

func (p *Parser) parseBoolLiteral() ast.Expression {
	return &ast.BoolLiteral{Value: p.curIs(lexer.TokenTrue)}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expr := &ast.PrefixExpression{Operator: p.curTok.Literal}
	p.nextToken()
	expr.Right = p.parseExpression(precPrefix)
	return expr
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expr := &ast.InfixExpression{Left: left, Operator: p.curTok.Literal}
	prec := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(prec)
	return expr
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	expr := p.parseExpression(precLowest)
	if !p.expectPeek(lexer.TokenRParen) {
		return nil
	}
	return expr
}

func (p *Parser) parseIfExpression() ast.Expression {
	expr := &ast.IfExpression{}
	p.nextToken()
	expr.Condition = p.parseExpression(precLowest)

	if !p.expectPeek(lexer.TokenLBrace) {
		return nil
	}
	expr.Consequence = p.parseBlockExpression()

	if p.peekIs(lexer.TokenElse) {
		p.nextToken()
		switch {
		case p.peekIs(lexer.TokenIf):
			p.nextToken()
			alt := &ast.BlockExpression{Statements: []ast.Statement{
				&ast.ExpressionStatement{Expression: p.parseIfExpression()},
			}}
			expr.Alternative = alt
		case p.expectPeek(lexer.TokenLBrace):
			expr.Alternative = p.parseBlockExpression()
		}
	}
	return expr
}
