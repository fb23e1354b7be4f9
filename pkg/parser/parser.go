// Package parser turns a lexer.Token stream into an ast.Program for
// the bytecode assembly language (see pkg/lexer's package doc).
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/udog/pkg/ast"
	"github.com/kristofer/udog/pkg/lexer"
)

type Parser struct {
	tokens []lexer.Token
	pos    int
}

func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse reads the whole token stream into a Program: an optional
// header of `arity N` / `upvalues N` / `slots N` directives (each on
// its own line, in any order, each at most once), followed by label
// definitions and instructions, one per line, until EOF.
func (p *Parser) Parse() (*ast.Program, error) {
	prog := &ast.Program{NumSlots: 1}
	sawHeader := map[string]bool{}

	for {
		p.skipBlankLines()
		if p.at(lexer.TokenEOF) {
			return prog, nil
		}

		line := p.collectLine()
		if len(line) == 0 {
			continue
		}

		if len(line) == 2 && line[0].Type == lexer.TokenIdent && line[1].Type == lexer.TokenColon {
			prog.Statements = append(prog.Statements, &ast.LabelDef{Name: line[0].Literal, Line: line[0].Line})
			continue
		}

		head := line[0]
		if head.Type != lexer.TokenIdent {
			return nil, fmt.Errorf("udog assembler: line %d: expected a mnemonic or label, got %q", head.Line, head.Literal)
		}

		switch head.Literal {
		case "arity", "upvalues", "slots":
			if len(line) != 2 || line[1].Type != lexer.TokenInt {
				return nil, fmt.Errorf("udog assembler: line %d: %q expects one integer argument", head.Line, head.Literal)
			}
			if sawHeader[head.Literal] {
				return nil, fmt.Errorf("udog assembler: line %d: duplicate %q directive", head.Line, head.Literal)
			}
			sawHeader[head.Literal] = true
			n, _ := strconv.Atoi(line[1].Literal)
			switch head.Literal {
			case "arity":
				prog.Arity = n
			case "upvalues":
				prog.NumUpvalues = n
			case "slots":
				prog.NumSlots = n
			}
			continue
		}

		instr := &ast.Instruction{Mnemonic: head.Literal, Line: head.Line}
		for _, tok := range line[1:] {
			operand, err := operandOf(tok)
			if err != nil {
				return nil, err
			}
			instr.Operands = append(instr.Operands, operand)
		}
		prog.Statements = append(prog.Statements, instr)
	}
}

func operandOf(tok lexer.Token) (ast.Operand, error) {
	switch tok.Type {
	case lexer.TokenInt:
		return ast.Operand{Kind: ast.OperandInt, Text: tok.Literal}, nil
	case lexer.TokenFloat:
		return ast.Operand{Kind: ast.OperandFloat, Text: tok.Literal}, nil
	case lexer.TokenString:
		return ast.Operand{Kind: ast.OperandString, Text: tok.Literal}, nil
	case lexer.TokenIdent:
		return ast.Operand{Kind: ast.OperandLabel, Text: tok.Literal}, nil
	default:
		return ast.Operand{}, fmt.Errorf("udog assembler: line %d: unexpected token %q in operand position", tok.Line, tok.Literal)
	}
}

func (p *Parser) at(tt lexer.TokenType) bool {
	return p.pos < len(p.tokens) && p.tokens[p.pos].Type == tt
}

func (p *Parser) skipBlankLines() {
	for p.at(lexer.TokenNewline) {
		p.pos++
	}
}

// collectLine consumes and returns every token up to (and consuming)
// the next TokenNewline or TokenEOF.
func (p *Parser) collectLine() []lexer.Token {
	var line []lexer.Token
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type == lexer.TokenNewline {
			p.pos++
			break
		}
		if tok.Type == lexer.TokenEOF {
			break
		}
		line = append(line, tok)
		p.pos++
	}
	return line
}
