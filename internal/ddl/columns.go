package ddl

import (
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// ParseCreateTable parses a CREATE TABLE statement into column descriptors
// in declaration order. Only the parenthesised definition list is read;
// table options after it (WITHOUT ROWID, STRICT) are ignored.
func ParseCreateTable(sql string) ([]types.Column, error) {
	st, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	open := -1
	for i, tok := range st.toks {
		if tok.Is("AS") && open < 0 {
			return nil, parseError(errors.CodeMalformedDDL, tok.Pos, "CREATE TABLE ... AS SELECT has no column definitions")
		}
		if tok.Type == TokenLParen {
			open = i
			break
		}
	}
	if open < 0 {
		return nil, parseError(errors.CodeMalformedDDL, len(sql), "no column definition list")
	}
	return st.columns(open+1, st.matching(open))
}

// ParseColumnList parses the text between a CREATE TABLE statement's outer
// parentheses, e.g. "id INTEGER PRIMARY KEY, name TEXT".
func ParseColumnList(list string) ([]types.Column, error) {
	st, err := tokenize(list)
	if err != nil {
		return nil, err
	}
	return st.columns(0, len(st.toks))
}

// columns splits toks[from:to] at commas of nesting depth zero and parses
// each fragment.
func (s *statement) columns(from, to int) ([]types.Column, error) {
	if from >= to {
		return nil, parseError(errors.CodeMalformedDDL, s.peekAt(from).Pos, "empty column definition list")
	}
	var cols []types.Column
	start, depth := from, 0
	for i := from; i <= to; i++ {
		if i < to {
			switch s.toks[i].Type {
			case TokenLParen:
				depth++
				continue
			case TokenRParen:
				depth--
				continue
			case TokenComma:
				if depth != 0 {
					continue
				}
			default:
				continue
			}
		}
		col, err := s.fragment(start, i)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		start = i + 1
	}
	return cols, nil
}

func (s *statement) peekAt(i int) Token {
	if i < len(s.toks) {
		return s.toks[i]
	}
	return Token{Type: TokenEOF, Pos: len(s.src), End: len(s.src)}
}

// fragment parses one column definition or table constraint.
func (s *statement) fragment(from, to int) (types.Column, error) {
	if from >= to {
		return types.Column{}, parseError(errors.CodeMalformedDDL, s.peekAt(from).Pos, "empty column definition")
	}
	lead := s.toks[from]
	switch {
	case lead.Is("FOREIGN"):
		open := -1
		for i := from + 1; i < to; i++ {
			if s.toks[i].Type == TokenLParen {
				open = i
				break
			}
		}
		if open < 0 {
			return types.Column{}, parseError(errors.CodeMalformedDDL, lead.Pos, "FOREIGN KEY without column list")
		}
		closing := s.matching(open)
		if closing < 0 || closing >= to {
			return types.Column{}, parseError(errors.CodeUnbalancedParentheses, s.toks[open].Pos, "unclosed FOREIGN KEY column list")
		}
		fk := s.text(open+1, closing)
		if fk == "" {
			return types.Column{}, parseError(errors.CodeMalformedDDL, s.toks[open].Pos, "empty FOREIGN KEY column list")
		}
		return types.Column{ForeignKey: fk, Value: s.text(closing+1, to)}, nil

	case lead.Is("CONSTRAINT"):
		if to-from < 3 {
			return types.Column{}, parseError(errors.CodeMalformedDDL, lead.Pos, "CONSTRAINT requires a name and a definition")
		}
		return types.Column{Constraint: s.toks[from+1].Literal, Value: s.text(from+2, to)}, nil

	default:
		if lead.Type != TokenIdent && lead.Type != TokenQuotedIdent && lead.Type != TokenString {
			return types.Column{}, parseError(errors.CodeUnexpectedToken, lead.Pos, "expected column name (got %q)", lead.Literal)
		}
		return types.Column{Column: lead.Literal, Value: s.text(from+1, to)}, nil
	}
}
