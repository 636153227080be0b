// Package ddl parses the SQLite DDL stored in sqlite_master into document
// descriptors and regenerates DDL from them.
package ddl

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenIdent       // bare word, keywords included
	TokenQuotedIdent // "x", `x` or [x]
	TokenString      // 'x'
	TokenNumber
	TokenBlob // x'00ff'
	TokenOperator
	TokenComma
	TokenLParen
	TokenRParen
	TokenDot
	TokenSemicolon
	TokenOther
)

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return "ERROR"
	case TokenIdent:
		return "IDENT"
	case TokenQuotedIdent:
		return "QUOTED_IDENT"
	case TokenString:
		return "STRING"
	case TokenNumber:
		return "NUMBER"
	case TokenBlob:
		return "BLOB"
	case TokenOperator:
		return "OPERATOR"
	case TokenComma:
		return ","
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenDot:
		return "."
	case TokenSemicolon:
		return ";"
	default:
		return "OTHER"
	}
}

// Token is a lexical token. Literal is the raw source text, so
// input[Pos:End] == Literal.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
	End     int
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type, t.Literal, t.Pos)
}

// Is reports whether the token is the bare keyword kw (case-insensitive).
func (t Token) Is(kw string) bool {
	return t.Type == TokenIdent && strings.EqualFold(t.Literal, kw)
}

// Name returns the identifier the token denotes, with quoting removed.
func (t Token) Name() string {
	if t.Type != TokenQuotedIdent || len(t.Literal) < 2 {
		return t.Literal
	}
	inner := t.Literal[1 : len(t.Literal)-1]
	switch t.Literal[0] {
	case '"':
		return strings.ReplaceAll(inner, `""`, `"`)
	case '`':
		return strings.ReplaceAll(inner, "``", "`")
	default:
		return inner
	}
}

// Lexer tokenizes SQLite DDL. Comments are skipped.
type Lexer struct {
	input   string
	pos     int  // Current position in input
	readPos int  // Reading position (after current char)
	ch      byte // Current character
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// skipSpaceAndComments skips whitespace, "--" line comments and "/* */"
// block comments. It returns false on an unterminated block comment.
func (l *Lexer) skipSpaceAndComments() bool {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for {
				if l.atEOF() {
					return false
				}
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
		default:
			return true
		}
	}
	return true
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	if !l.skipSpaceAndComments() {
		return l.errorToken(l.pos, "unterminated comment")
	}
	start := l.pos
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start, End: start}
	}

	switch {
	case l.ch == ',':
		return l.single(TokenComma)
	case l.ch == '(':
		return l.single(TokenLParen)
	case l.ch == ')':
		return l.single(TokenRParen)
	case l.ch == ';':
		return l.single(TokenSemicolon)
	case l.ch == '.' && isDigit(l.peekChar()):
		return l.readNumber()
	case l.ch == '.':
		return l.single(TokenDot)
	case l.ch == '\'':
		return l.readQuoted('\'', '\'', TokenString)
	case l.ch == '"':
		return l.readQuoted('"', '"', TokenQuotedIdent)
	case l.ch == '`':
		return l.readQuoted('`', '`', TokenQuotedIdent)
	case l.ch == '[':
		return l.readQuoted('[', ']', TokenQuotedIdent)
	case (l.ch == 'x' || l.ch == 'X') && l.peekChar() == '\'':
		l.readChar()
		tok := l.readQuoted('\'', '\'', TokenBlob)
		if tok.Type == TokenBlob {
			tok.Pos = start
			tok.Literal = l.input[start:tok.End]
		}
		return tok
	case isDigit(l.ch):
		return l.readNumber()
	case isIdentStart(l.ch):
		return l.readIdentifier()
	case isOperator(l.ch):
		return l.readOperator()
	default:
		return l.single(TokenOther)
	}
}

func (l *Lexer) single(t TokenType) Token {
	tok := Token{Type: t, Literal: l.input[l.pos:l.readPos], Pos: l.pos, End: l.readPos}
	l.readChar()
	return tok
}

func (l *Lexer) errorToken(pos int, msg string) Token {
	return Token{Type: TokenError, Literal: msg, Pos: pos, End: pos}
}

// readQuoted reads a token delimited by open/close. A doubled close
// character inside the token is an escaped literal character.
func (l *Lexer) readQuoted(open, close byte, t TokenType) Token {
	start := l.pos
	l.readChar() // Skip opening delimiter
	for {
		if l.atEOF() {
			return l.errorToken(start, fmt.Sprintf("unterminated %c", open))
		}
		if l.ch == close {
			if close != ']' && l.peekChar() == close {
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			break
		}
		l.readChar()
	}
	return Token{Type: t, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for !l.atEOF() && (isIdentStart(l.ch) || isDigit(l.ch) || l.ch == '$') {
		l.readChar()
	}
	return Token{Type: TokenIdent, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
}

// readNumber reads integer, decimal, exponent and hexadecimal literals.
func (l *Lexer) readNumber() Token {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for !l.atEOF() && isHexDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
	}
	hasDecimal := false
	for !l.atEOF() && (isDigit(l.ch) || (l.ch == '.' && !hasDecimal)) {
		if l.ch == '.' {
			hasDecimal = true
		}
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for !l.atEOF() && isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
}

var twoCharOperators = map[string]bool{
	"<=": true, ">=": true, "<>": true, "!=": true, "==": true,
	"||": true, "<<": true, ">>": true, "->": true,
}

func (l *Lexer) readOperator() Token {
	start := l.pos
	if l.readPos < len(l.input) && twoCharOperators[l.input[start:l.readPos+1]] {
		l.readChar()
	}
	if l.input[start:l.readPos] == "->" && l.peekChar() == '>' {
		l.readChar()
	}
	l.readChar()
	return Token{Type: TokenOperator, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
}

// Tokenize returns all tokens from the input, ending with EOF or the
// first error token.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' || ch >= 0x80
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}

func isOperator(ch byte) bool {
	return strings.IndexByte("=<>!|+-*/%&~", ch) >= 0
}
