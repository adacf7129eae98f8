package sql

import (
	"strconv"
	"strings"

	"github.com/cuemby/ledger/pkg/plan"
	"github.com/cuemby/ledger/pkg/types"
)

// Parser is a minimal recursive-descent parser over the dialect of
// spec.md §6, producing pkg/plan trees. It performs no cost-based
// optimization — the Non-goals of spec.md explicitly exclude that, and
// this parser exists only so the system is runnable end-to-end.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a single SQL statement (a leading/trailing
// ';' is tolerated and ignored) into a pkg/plan tree.
func Parse(sqlText string) (plan.Node, error) {
	lex := NewLexer(sqlText)
	var tokens []Token
	for {
		tok, err := lex.Next()
		if err != nil {
			return nil, &ParseError{Message: err.Error()}
		}
		if tok.Kind == TokEOF {
			tokens = append(tokens, tok)
			break
		}
		if tok.Kind == TokPunct && tok.Text == ";" {
			continue
		}
		tokens = append(tokens, tok)
	}

	p := &Parser{tokens: tokens}
	return p.parseStatement()
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) atEOF() bool { return p.cur().Kind == TokEOF }

func (p *Parser) isKeyword(word string) bool {
	t := p.cur()
	return t.Kind == TokIdent && strings.EqualFold(t.Text, word)
}

func (p *Parser) expectKeyword(word string) error {
	if !p.isKeyword(word) {
		return parseErrorf(p.cur().Pos, "expected %q, got %q", word, p.cur().Text)
	}
	p.advance()
	return nil
}

func (p *Parser) expectPunct(text string) error {
	t := p.cur()
	if t.Kind != TokPunct || t.Text != text {
		return parseErrorf(t.Pos, "expected %q, got %q", text, t.Text)
	}
	p.advance()
	return nil
}

func (p *Parser) expectIdent() (string, error) {
	t := p.cur()
	if t.Kind != TokIdent {
		return "", parseErrorf(t.Pos, "expected identifier, got %q", t.Text)
	}
	p.advance()
	return t.Text, nil
}

// parseQualifiedIdent reads `name` or `name.name`, for column references
// that disambiguate across a join's merged column namespace.
func (p *Parser) parseQualifiedIdent() (string, error) {
	name, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	if p.cur().Kind == TokPunct && p.cur().Text == "." {
		p.advance()
		rest, err := p.expectIdent()
		if err != nil {
			return "", err
		}
		name = name + "." + rest
	}
	return name, nil
}

func (p *Parser) parseStatement() (plan.Node, error) {
	switch {
	case p.isKeyword("CREATE"):
		return p.parseCreateTable()
	case p.isKeyword("DROP"):
		return p.parseDropTable()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	default:
		return nil, parseErrorf(p.cur().Pos, "unrecognized statement starting with %q", p.cur().Text)
	}
}

// --- DDL ---

func (p *Parser) parseCreateTable() (plan.Node, error) {
	p.advance() // CREATE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	var columns []types.Column
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		col, err := p.parseColumnType(name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)

		if p.cur().Kind == TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	return plan.CreateTable{Schema: types.Schema{Table: table, Columns: columns}}, nil
}

func (p *Parser) parseColumnType(name string) (types.Column, error) {
	typeName, err := p.expectIdent()
	if err != nil {
		return types.Column{}, err
	}
	switch strings.ToUpper(typeName) {
	case "INT":
		return types.Column{Name: name, Type: types.ColumnInt}, nil
	case "FLOAT":
		return types.Column{Name: name, Type: types.ColumnFloat}, nil
	case "CHAR":
		n, err := p.parseLengthArg()
		if err != nil {
			return types.Column{}, err
		}
		return types.Column{Name: name, Type: types.ColumnChar, Length: n}, nil
	case "VARCHAR":
		n, err := p.parseLengthArg()
		if err != nil {
			return types.Column{}, err
		}
		return types.Column{Name: name, Type: types.ColumnVarchar, Length: n}, nil
	default:
		return types.Column{}, parseErrorf(p.cur().Pos, "unknown column type %q", typeName)
	}
}

func (p *Parser) parseLengthArg() (int, error) {
	if err := p.expectPunct("("); err != nil {
		return 0, err
	}
	t := p.cur()
	if t.Kind != TokNumber {
		return 0, parseErrorf(t.Pos, "expected length, got %q", t.Text)
	}
	p.advance()
	n, err := strconv.Atoi(t.Text)
	if err != nil {
		return 0, parseErrorf(t.Pos, "invalid length %q", t.Text)
	}
	if err := p.expectPunct(")"); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Parser) parseDropTable() (plan.Node, error) {
	p.advance() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifExists := false
	if p.isKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		ifExists = true
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return plan.DropTable{Table: table, IfExists: ifExists}, nil
}

// --- DML ---

func (p *Parser) parseInsert() (plan.Node, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	var columns []string
	if p.cur().Kind == TokPunct && p.cur().Text == "(" {
		p.advance()
		for {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			columns = append(columns, name)
			if p.cur().Kind == TokPunct && p.cur().Text == "," {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var values []interface{}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur().Kind == TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	return plan.Insert{Table: table, Columns: columns, Values: values}, nil
}

func (p *Parser) parseUpdate() (plan.Node, error) {
	p.advance() // UPDATE
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	var assignments []plan.Assignment
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseAssignmentExpr()
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, plan.Assignment{Column: col, Value: val})
		if p.cur().Kind == TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}

	var where plan.Condition
	if p.isKeyword("WHERE") {
		p.advance()
		where, err = p.parseCondition()
		if err != nil {
			return nil, err
		}
	}

	return plan.Update{Table: table, Assignments: assignments, Where: where}, nil
}

func (p *Parser) parseDelete() (plan.Node, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	var where plan.Condition
	if p.isKeyword("WHERE") {
		p.advance()
		where, err = p.parseCondition()
		if err != nil {
			return nil, err
		}
	}
	return plan.Delete{Table: table, Where: where}, nil
}

// --- Queries ---

func (p *Parser) parseSelect() (plan.Node, error) {
	p.advance() // SELECT

	cols, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}

	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == TokPunct && p.cur().Text == "," {
		p.advance()
		right, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		from = plan.NestedLoopJoin{Left: from, Right: right}
	}
	for p.isKeyword("JOIN") {
		p.advance()
		right, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		var cond plan.Condition
		if p.isKeyword("ON") {
			p.advance()
			cond, err = p.parseCondition()
			if err != nil {
				return nil, err
			}
		}
		from = plan.NestedLoopJoin{Left: from, Right: right, Condition: cond}
	}

	node := from
	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		node = plan.Filter{Condition: where, Child: node}
	}

	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		var orderBy []plan.OrderByClause
		for {
			col, err := p.parseQualifiedIdent()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.isKeyword("ASC") {
				p.advance()
			} else if p.isKeyword("DESC") {
				p.advance()
				desc = true
			}
			orderBy = append(orderBy, plan.OrderByClause{Column: col, Desc: desc})
			if p.cur().Kind == TokPunct && p.cur().Text == "," {
				p.advance()
				continue
			}
			break
		}
		node = plan.Sort{OrderBy: orderBy, Child: node}
	}

	node = plan.Project{Columns: cols, Child: node}

	if p.isKeyword("LIMIT") {
		p.advance()
		t := p.cur()
		if t.Kind != TokNumber {
			return nil, parseErrorf(t.Pos, "expected number after LIMIT, got %q", t.Text)
		}
		p.advance()
		n, err := strconv.Atoi(t.Text)
		if err != nil {
			return nil, parseErrorf(t.Pos, "invalid LIMIT value %q", t.Text)
		}
		node = plan.Limit{N: n, Child: node}
	}

	return node, nil
}

func (p *Parser) parseSelectList() ([]string, error) {
	if p.cur().Kind == TokPunct && p.cur().Text == "*" {
		p.advance()
		return []string{"*"}, nil
	}

	var cols []string
	for {
		name, err := p.parseQualifiedIdent()
		if err != nil {
			return nil, err
		}
		if p.isKeyword("AS") {
			p.advance()
			alias, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			name = name + " AS " + alias
		}
		cols = append(cols, name)
		if p.cur().Kind == TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	return cols, nil
}

func (p *Parser) parseTableRef() (plan.Node, error) {
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	alias := ""
	if p.isKeyword("AS") {
		p.advance()
		alias, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
	} else if p.cur().Kind == TokIdent && !p.isReservedFollowKeyword() {
		alias, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
	}
	return plan.TableScan{Table: table, Alias: alias}, nil
}

// isReservedFollowKeyword reports whether the current identifier token is
// a clause keyword that must not be mistaken for a bare table alias.
func (p *Parser) isReservedFollowKeyword() bool {
	for _, kw := range []string{"WHERE", "JOIN", "ORDER", "LIMIT", "ON", "GROUP"} {
		if p.isKeyword(kw) {
			return true
		}
	}
	return false
}

// --- Expressions / conditions ---

func (p *Parser) parseLiteral() (types.Value, error) {
	t := p.cur()
	switch t.Kind {
	case TokNumber:
		p.advance()
		if strings.Contains(t.Text, ".") {
			f, err := strconv.ParseFloat(t.Text, 32)
			if err != nil {
				return types.Value{}, parseErrorf(t.Pos, "invalid float %q", t.Text)
			}
			return types.FloatValue(float32(f)), nil
		}
		i, err := strconv.ParseInt(t.Text, 10, 32)
		if err != nil {
			return types.Value{}, parseErrorf(t.Pos, "invalid int %q", t.Text)
		}
		return types.IntValue(int32(i)), nil
	case TokString:
		p.advance()
		return types.TextValue(t.Text), nil
	case TokIdent:
		if strings.EqualFold(t.Text, "NULL") {
			p.advance()
			return types.NullValue(), nil
		}
	}
	return types.Value{}, parseErrorf(t.Pos, "expected literal, got %q", t.Text)
}

// parseExprValue parses the right-hand side of a WHERE comparison: a
// literal or a bare column reference (join conditions like a.x = b.y).
func (p *Parser) parseExprValue() (interface{}, error) {
	if p.cur().Kind == TokIdent && !strings.EqualFold(p.cur().Text, "NULL") {
		name, err := p.parseQualifiedIdent()
		if err != nil {
			return nil, err
		}
		return plan.ColumnReference{Column: name}, nil
	}
	return p.parseLiteral()
}

// parseAssignmentExpr parses the right-hand side of an UPDATE SET
// assignment: a literal, a bare column reference, or spec.md §4.2's
// arithmetic form `k * col [+ c]` / `col * k [+ c]`.
func (p *Parser) parseAssignmentExpr() (interface{}, error) {
	if p.cur().Kind == TokNumber {
		start := p.pos
		numText := p.cur().Text
		p.advance()
		if p.cur().Kind == TokPunct && p.cur().Text == "*" {
			p.advance()
			col, err := p.parseQualifiedIdent()
			if err != nil {
				return nil, err
			}
			k, err := strconv.ParseFloat(numText, 64)
			if err != nil {
				return nil, parseErrorf(p.tokens[start].Pos, "invalid coefficient %q", numText)
			}
			c, err := p.parseOptionalConstant()
			if err != nil {
				return nil, err
			}
			return plan.Arithmetic{K: k, Column: col, C: c}, nil
		}
		p.pos = start
		return p.parseLiteral()
	}

	if p.cur().Kind == TokIdent && !strings.EqualFold(p.cur().Text, "NULL") {
		col, err := p.parseQualifiedIdent()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind == TokPunct && p.cur().Text == "*" {
			p.advance()
			kt := p.cur()
			if kt.Kind != TokNumber {
				return nil, parseErrorf(kt.Pos, "expected numeric coefficient, got %q", kt.Text)
			}
			p.advance()
			k, err := strconv.ParseFloat(kt.Text, 64)
			if err != nil {
				return nil, parseErrorf(kt.Pos, "invalid coefficient %q", kt.Text)
			}
			c, err := p.parseOptionalConstant()
			if err != nil {
				return nil, err
			}
			return plan.Arithmetic{K: k, Column: col, C: c}, nil
		}
		return plan.ColumnReference{Column: col}, nil
	}

	return p.parseLiteral()
}

func (p *Parser) parseOptionalConstant() (float64, error) {
	if p.cur().Kind == TokPunct && p.cur().Text == "+" {
		p.advance()
		ct := p.cur()
		if ct.Kind != TokNumber {
			return 0, parseErrorf(ct.Pos, "expected constant after +, got %q", ct.Text)
		}
		p.advance()
		c, err := strconv.ParseFloat(ct.Text, 64)
		if err != nil {
			return 0, parseErrorf(ct.Pos, "invalid constant %q", ct.Text)
		}
		return c, nil
	}
	return 0, nil
}

func (p *Parser) parseCondition() (plan.Condition, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (plan.Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	conds := []plan.Condition{left}
	for p.isKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		conds = append(conds, right)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return plan.LogicalCondition{Operator: plan.LogicalOr, Conditions: conds}, nil
}

func (p *Parser) parseAnd() (plan.Condition, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	conds := []plan.Condition{left}
	for p.isKeyword("AND") {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		conds = append(conds, right)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return plan.LogicalCondition{Operator: plan.LogicalAnd, Conditions: conds}, nil
}

func (p *Parser) parseUnary() (plan.Condition, error) {
	if p.isKeyword("NOT") {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return plan.LogicalCondition{Operator: plan.LogicalNot, Conditions: []plan.Condition{inner}}, nil
	}
	if p.cur().Kind == TokPunct && p.cur().Text == "(" {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (plan.Condition, error) {
	col, err := p.parseQualifiedIdent()
	if err != nil {
		return nil, err
	}

	if p.isKeyword("IS") {
		p.advance()
		notted := false
		if p.isKeyword("NOT") {
			p.advance()
			notted = true
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		op := plan.OpIsNull
		if notted {
			op = plan.OpIsNotNull
		}
		return plan.WhereCondition{Column: col, Operator: op}, nil
	}

	if p.isKeyword("LIKE") {
		p.advance()
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return plan.WhereCondition{Column: col, Operator: plan.OpLike, Value: val}, nil
	}

	if p.isKeyword("IN") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var list []types.Value
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
			if p.cur().Kind == TokPunct && p.cur().Text == "," {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return plan.WhereCondition{Column: col, Operator: plan.OpIn, Value: list}, nil
	}

	if p.isKeyword("BETWEEN") {
		p.advance()
		lo, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return plan.WhereCondition{Column: col, Operator: plan.OpBetween, Value: [2]types.Value{lo, hi}}, nil
	}

	op, err := p.parseComparisonOp()
	if err != nil {
		return nil, err
	}
	rhs, err := p.parseExprValue()
	if err != nil {
		return nil, err
	}
	return plan.WhereCondition{Column: col, Operator: op, Value: rhs}, nil
}

func (p *Parser) parseComparisonOp() (plan.ComparisonOp, error) {
	t := p.cur()
	if t.Kind != TokPunct {
		return "", parseErrorf(t.Pos, "expected comparison operator, got %q", t.Text)
	}
	switch t.Text {
	case "=":
		p.advance()
		return plan.OpEquals, nil
	case "<>", "!=":
		p.advance()
		return plan.OpNotEquals, nil
	case ">":
		p.advance()
		return plan.OpGreater, nil
	case ">=":
		p.advance()
		return plan.OpGreaterEq, nil
	case "<":
		p.advance()
		return plan.OpLess, nil
	case "<=":
		p.advance()
		return plan.OpLessEq, nil
	default:
		return "", parseErrorf(t.Pos, "unknown comparison operator %q", t.Text)
	}
}
