package lexer

import "testing"

func TestTokenizeBasicLine(t *testing.T) {
	tokens, err := New(`call 1 "foo(_)"`).Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []TokenType{TokenIdent, TokenInt, TokenString, TokenEOF}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d: got %v, want %v", i, tokens[i].Type, tt)
		}
	}
	if tokens[1].Literal != "1" {
		t.Errorf("operand literal = %q, want %q", tokens[1].Literal, "1")
	}
	if tokens[2].Literal != "foo(_)" {
		t.Errorf("string literal = %q, want %q", tokens[2].Literal, "foo(_)")
	}
}

func TestTokenizeNewlinesSignificant(t *testing.T) {
	tokens, err := New("pop\ndup\n").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []TokenType{TokenIdent, TokenNewline, TokenIdent, TokenNewline, TokenEOF}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d: got %v, want %v", i, tokens[i].Type, tt)
		}
	}
}

func TestTokenizeCommentsAndSpaces(t *testing.T) {
	tokens, err := New("  # a comment\n  const 3.5  # trailing\n").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var kinds []TokenType
	for _, tok := range tokens {
		kinds = append(kinds, tok.Type)
	}
	want := []TokenType{TokenNewline, TokenIdent, TokenFloat, TokenNewline, TokenEOF}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want shape %v", kinds, want)
	}
}

func TestTokenizeNegativeNumber(t *testing.T) {
	tokens, err := New("const -5").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[1].Type != TokenInt || tokens[1].Literal != "-5" {
		t.Errorf("got %+v, want INT -5", tokens[1])
	}
}

func TestTokenizeLabelColon(t *testing.T) {
	tokens, err := New("loop_start:\n").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[0].Type != TokenIdent || tokens[0].Literal != "loop_start" {
		t.Errorf("got %+v", tokens[0])
	}
	if tokens[1].Type != TokenColon {
		t.Errorf("got %+v, want COLON", tokens[1])
	}
}

func TestTokenizeIllegalCharacter(t *testing.T) {
	_, err := New("@@@").Tokenize()
	if err == nil {
		t.Fatal("expected an error for an illegal character")
	}
}

func TestTokenTypeString(t *testing.T) {
	if TokenString.String() != "STRING" {
		t.Errorf("TokenString.String() = %q", TokenString.String())
	}
}
