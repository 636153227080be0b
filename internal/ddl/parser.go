package ddl

import (
	"fmt"
	"strings"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// statement is a tokenized DDL statement with a cursor.
type statement struct {
	src  string
	toks []Token // without the trailing EOF
	pos  int
}

// tokenize lexes sql and checks that parentheses balance.
func tokenize(sql string) (*statement, error) {
	all := NewLexer(sql).Tokenize()
	last := all[len(all)-1]
	if last.Type == TokenError {
		return nil, parseError(errors.CodeMalformedDDL, last.Pos, "%s", last.Literal)
	}
	st := &statement{src: sql, toks: all[:len(all)-1]}

	depth := 0
	for _, tok := range st.toks {
		switch tok.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth < 0 {
				return nil, parseError(errors.CodeUnbalancedParentheses, tok.Pos, "unexpected ')'")
			}
		}
	}
	if depth != 0 {
		return nil, parseError(errors.CodeUnbalancedParentheses, len(sql), "%d unclosed '('", depth)
	}
	return st, nil
}

func parseError(code string, pos int, format string, args ...interface{}) *errors.Error {
	msg := fmt.Sprintf("parse error at position %d: %s", pos, fmt.Sprintf(format, args...))
	return errors.NewParseError(code, msg).WithDetails(map[string]interface{}{"position": pos})
}

func (s *statement) peek() Token {
	if s.pos >= len(s.toks) {
		return Token{Type: TokenEOF, Pos: len(s.src), End: len(s.src)}
	}
	return s.toks[s.pos]
}

func (s *statement) next() Token {
	tok := s.peek()
	if s.pos < len(s.toks) {
		s.pos++
	}
	return tok
}

// accept consumes the keyword sequence kws if it is next.
func (s *statement) accept(kws ...string) bool {
	for i, kw := range kws {
		if s.pos+i >= len(s.toks) || !s.toks[s.pos+i].Is(kw) {
			return false
		}
	}
	s.pos += len(kws)
	return true
}

func (s *statement) expect(kws ...string) error {
	if !s.accept(kws...) {
		tok := s.peek()
		return parseError(errors.CodeUnexpectedToken, tok.Pos, "expected %s (got %q)", strings.Join(kws, " "), tok.Literal)
	}
	return nil
}

// name consumes an optionally schema-qualified object name and returns the
// index of its final token.
func (s *statement) name() (int, error) {
	tok := s.next()
	if tok.Type != TokenIdent && tok.Type != TokenQuotedIdent && tok.Type != TokenString {
		return 0, parseError(errors.CodeUnexpectedToken, tok.Pos, "expected name (got %q)", tok.Literal)
	}
	if s.peek().Type == TokenDot {
		s.next()
		tok = s.next()
		if tok.Type != TokenIdent && tok.Type != TokenQuotedIdent && tok.Type != TokenString {
			return 0, parseError(errors.CodeUnexpectedToken, tok.Pos, "expected name after '.' (got %q)", tok.Literal)
		}
	}
	return s.pos - 1, nil
}

// matching returns the index of the ')' closing the '(' at open.
func (s *statement) matching(open int) int {
	depth := 0
	for i := open; i < len(s.toks); i++ {
		switch s.toks[i].Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// text returns the source text of toks[from:to]. Whitespace between tokens
// is kept verbatim; a gap holding a comment becomes a single space.
func (s *statement) text(from, to int) string {
	if from >= to {
		return ""
	}
	var b strings.Builder
	for i := from; i < to; i++ {
		if i > from {
			gap := s.src[s.toks[i-1].End:s.toks[i].Pos]
			if strings.TrimSpace(gap) != "" {
				gap = " "
			}
			b.WriteString(gap)
		}
		b.WriteString(s.toks[i].Literal)
	}
	return b.String()
}

// skipCreatePrefix consumes "CREATE [TEMP|TEMPORARY] [UNIQUE] <kind> [IF NOT EXISTS]"
// and reports whether UNIQUE was present.
func (s *statement) skipCreatePrefix(kind string) (unique bool, err error) {
	if err := s.expect("CREATE"); err != nil {
		return false, err
	}
	if !s.accept("TEMP") {
		s.accept("TEMPORARY")
	}
	if kind == "INDEX" {
		unique = s.accept("UNIQUE")
	}
	if kind == "TABLE" {
		s.accept("VIRTUAL")
	}
	if err := s.expect(kind); err != nil {
		return false, err
	}
	s.accept("IF", "NOT", "EXISTS")
	return unique, nil
}
