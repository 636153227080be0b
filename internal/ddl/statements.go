package ddl

import (
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// ParseIndex parses a CREATE INDEX statement. Value is the indexed
// expression list between the parentheses following ON table.
func ParseIndex(sql string) (types.Index, error) {
	st, err := tokenize(sql)
	if err != nil {
		return types.Index{}, err
	}
	unique, err := st.skipCreatePrefix("INDEX")
	if err != nil {
		return types.Index{}, err
	}
	nameIdx, err := st.name()
	if err != nil {
		return types.Index{}, err
	}
	if err := st.expect("ON"); err != nil {
		return types.Index{}, err
	}
	if _, err := st.name(); err != nil {
		return types.Index{}, err
	}
	open := st.pos
	if st.peek().Type != TokenLParen {
		tok := st.peek()
		return types.Index{}, parseError(errors.CodeUnexpectedToken, tok.Pos, "expected '(' after index table (got %q)", tok.Literal)
	}
	closing := st.matching(open)
	value := st.text(open+1, closing)
	if value == "" {
		return types.Index{}, parseError(errors.CodeMalformedDDL, st.toks[open].Pos, "empty index column list")
	}

	idx := types.Index{Name: st.toks[nameIdx].Name(), Value: value}
	if unique {
		idx.Mode = types.IndexModeUnique
	}
	return idx, nil
}

// TriggerParts is a parsed trigger together with the table it fires on.
type TriggerParts struct {
	types.Trigger
	Table string
}

// ParseTrigger parses a CREATE TRIGGER statement. The trigger and table
// names are located by grammar position, so a body mentioning either
// name is handled.
func ParseTrigger(sql string) (TriggerParts, error) {
	st, err := tokenize(sql)
	if err != nil {
		return TriggerParts{}, err
	}
	if _, err := st.skipCreatePrefix("TRIGGER"); err != nil {
		return TriggerParts{}, err
	}
	nameIdx, err := st.name()
	if err != nil {
		return TriggerParts{}, err
	}

	// time and event run up to the ON that precedes the table name
	eventStart := st.pos
	for st.pos < len(st.toks) && !st.peek().Is("ON") {
		st.next()
	}
	eventEnd := st.pos
	if err := st.expect("ON"); err != nil {
		return TriggerParts{}, err
	}
	if eventEnd == eventStart {
		return TriggerParts{}, parseError(errors.CodeMalformedDDL, st.toks[nameIdx].End, "trigger has no event")
	}
	tableIdx, err := st.name()
	if err != nil {
		return TriggerParts{}, err
	}

	condStart := st.pos
	for st.pos < len(st.toks) && !st.peek().Is("BEGIN") {
		st.next()
	}
	if st.pos >= len(st.toks) {
		return TriggerParts{}, parseError(errors.CodeMalformedDDL, len(sql), "trigger has no BEGIN")
	}
	condEnd := st.pos

	end := len(st.toks)
	for end > st.pos+1 && st.toks[end-1].Type == TokenSemicolon {
		end--
	}
	if !st.toks[end-1].Is("END") {
		return TriggerParts{}, parseError(errors.CodeMalformedDDL, st.toks[end-1].Pos, "trigger body must end with END")
	}

	return TriggerParts{
		Trigger: types.Trigger{
			Name:      st.toks[nameIdx].Name(),
			TimeEvent: st.text(eventStart, eventEnd),
			Condition: st.text(condStart, condEnd),
			Logic:     st.text(condEnd, end),
		},
		Table: st.toks[tableIdx].Name(),
	}, nil
}

// ParseView parses a CREATE VIEW statement. Columns is the optional column
// list after the view name; Value is the text following the first AS at
// nesting depth zero.
func ParseView(sql string) (types.View, error) {
	st, err := tokenize(sql)
	if err != nil {
		return types.View{}, err
	}
	if _, err := st.skipCreatePrefix("VIEW"); err != nil {
		return types.View{}, err
	}
	nameIdx, err := st.name()
	if err != nil {
		return types.View{}, err
	}
	var columns string
	if st.peek().Type == TokenLParen {
		closing := st.matching(st.pos)
		if closing < 0 {
			return types.View{}, parseError(errors.CodeUnbalancedParentheses, st.toks[st.pos].Pos, "unclosed view column list")
		}
		columns = st.text(st.pos+1, closing)
		st.pos = closing + 1
	}
	if err := st.expect("AS"); err != nil {
		return types.View{}, err
	}
	end := len(st.toks)
	if end > st.pos && st.toks[end-1].Type == TokenSemicolon {
		end--
	}
	value := st.text(st.pos, end)
	if value == "" {
		return types.View{}, parseError(errors.CodeMalformedDDL, len(sql), "view has no SELECT")
	}
	return types.View{Name: st.toks[nameIdx].Name(), Columns: columns, Value: value}, nil
}
