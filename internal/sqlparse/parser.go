package sqlparse

import (
	"strconv"
	"strings"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// Parser holds the lexer and current/peek tokens for recursive-descent
// parsing, generalized to cover compound SELECT, ON CONFLICT, CAST/COLLATE,
// EXPLAIN, ATTACH/DETACH, PRAGMA, and transaction-control statements.
type Parser struct {
	lx       *lexer
	cur      token
	peek     token
	numBinds int
}

// NewParser creates a new SQL parser for the provided input string.
func NewParser(sql string) *Parser {
	p := &Parser{lx: newLexer(sql)}
	p.cur = p.lx.nextToken()
	p.peek = p.lx.nextToken()
	return p
}

func (p *Parser) next() { p.cur, p.peek = p.peek, p.lx.nextToken() }

// Pos returns the byte offset of the first unconsumed token: after
// ParseStatement, the statement's terminating ';' if there is one, else
// the start of whatever follows. ParseStatement never consumes that ';'.
func (p *Parser) Pos() int { return p.cur.Pos }

func (p *Parser) atSymbol(s string) bool  { return p.cur.Typ == tSymbol && p.cur.Val == s }
func (p *Parser) atKeyword(k string) bool { return p.cur.Typ == tKeyword && p.cur.Val == k }

func (p *Parser) expectSymbol(sym string) error {
	if p.atSymbol(sym) {
		p.next()
		return nil
	}
	return p.errf("expected symbol %q", sym)
}

func (p *Parser) expectKeyword(kw string) error {
	if p.atKeyword(kw) {
		p.next()
		return nil
	}
	return p.errf("expected keyword %q", kw)
}

func (p *Parser) errf(format string, a ...any) error {
	return ferrors.Wrap(ferrors.ErrMisuse, sprintf(format, a...), ferrors.ExtendedCode("near "+strconv.Quote(p.cur.Val)))
}

func sprintf(format string, a ...any) string {
	var b strings.Builder
	args := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) && format[i+1] == 'q' && args < len(a) {
			b.WriteString(strconv.Quote(a[args].(string)))
			args++
			i++
			continue
		}
		b.WriteByte(format[i])
	}
	return b.String()
}

// ParseStatement parses a single SQL statement into an AST.
func (p *Parser) ParseStatement() (Statement, error) {
	switch {
	case p.atKeyword("EXPLAIN"):
		return p.parseExplain()
	case p.atKeyword("CREATE"):
		return p.parseCreate()
	case p.atKeyword("DROP"):
		return p.parseDrop()
	case p.atKeyword("INSERT"):
		return p.parseInsert()
	case p.atKeyword("UPDATE"):
		return p.parseUpdate()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	case p.atKeyword("PRAGMA"):
		return p.parsePragma()
	case p.atKeyword("ATTACH"):
		return p.parseAttach()
	case p.atKeyword("DETACH"):
		return p.parseDetach()
	case p.atKeyword("BEGIN"):
		return p.parseBegin()
	case p.atKeyword("COMMIT"):
		p.next()
		return &TxnStatement{Kind: TxnCommit}, nil
	case p.atKeyword("ROLLBACK"):
		return p.parseRollback()
	case p.atKeyword("SAVEPOINT"):
		p.next()
		name := p.parseIdentLike()
		return &TxnStatement{Kind: TxnSavepoint, Savepoint: name}, nil
	case p.atKeyword("RELEASE"):
		p.next()
		if p.atKeyword("SAVEPOINT") {
			p.next()
		}
		name := p.parseIdentLike()
		return &TxnStatement{Kind: TxnRelease, Savepoint: name}, nil
	case p.atKeyword("SELECT") || p.atKeyword("WITH"):
		return p.parseSelectWithCTE()
	default:
		return nil, p.errf("expected a statement")
	}
}

func (p *Parser) parseExplain() (Statement, error) {
	p.next()
	queryPlan := false
	if p.atKeyword("QUERY") {
		p.next()
		if err := p.expectKeyword("PLAN"); err != nil {
			return nil, err
		}
		queryPlan = true
	}
	stmt, err := p.ParseStatement()
	if err != nil {
		return nil, err
	}
	return &Explain{Stmt: stmt, QueryPlan: queryPlan}, nil
}

func (p *Parser) parsePragma() (Statement, error) {
	p.next()
	name := p.parseIdentLike()
	pr := &Pragma{Name: name}
	if p.atSymbol("=") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		pr.Value = e
	} else if p.atSymbol("(") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		pr.Value = e
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	return pr, nil
}

func (p *Parser) parseAttach() (Statement, error) {
	p.next()
	if p.atKeyword("DATABASE") {
		p.next()
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	name := p.parseIdentLike()
	return &AttachDatabase{Expr: e, Name: name}, nil
}

func (p *Parser) parseDetach() (Statement, error) {
	p.next()
	if p.atKeyword("DATABASE") {
		p.next()
	}
	name := p.parseIdentLike()
	return &DetachDatabase{Name: name}, nil
}

func (p *Parser) parseBegin() (Statement, error) {
	p.next()
	excl := false
	if p.atKeyword("DEFERRED") {
		p.next()
	} else if p.atKeyword("IMMEDIATE") || p.atKeyword("EXCLUSIVE") {
		excl = true
		p.next()
	}
	if p.atKeyword("TRANSACTION") {
		p.next()
	}
	return &TxnStatement{Kind: TxnBegin, Exclusive: excl}, nil
}

func (p *Parser) parseRollback() (Statement, error) {
	p.next()
	if p.atKeyword("TRANSACTION") {
		p.next()
	}
	if p.atKeyword("TO") {
		p.next()
		if p.atKeyword("SAVEPOINT") {
			p.next()
		}
		name := p.parseIdentLike()
		return &TxnStatement{Kind: TxnRollback, Savepoint: name}, nil
	}
	return &TxnStatement{Kind: TxnRollback}, nil
}

func (p *Parser) parseOnConflictSuffix() OnConflictAction {
	if !p.atKeyword("OR") {
		return ConflictAbort
	}
	p.next()
	// ABORT, FAIL and IGNORE are not in the keyword table, so they arrive
	// as identifiers.
	word := ""
	if p.cur.Typ == tIdent {
		word = upper(p.cur.Val)
	}
	switch {
	case p.atKeyword("ROLLBACK"):
		p.next()
		return ConflictRollback
	case word == "ABORT":
		p.next()
		return ConflictAbort
	case word == "FAIL":
		p.next()
		return ConflictFail
	case word == "IGNORE":
		p.next()
		return ConflictIgnore
	case p.atKeyword("REPLACE"):
		p.next()
		return ConflictReplace
	default:
		return ConflictAbort
	}
}

func (p *Parser) parseCreate() (Statement, error) {
	p.next()
	if p.atKeyword("UNIQUE") || p.atKeyword("INDEX") {
		return p.parseCreateIndex()
	}
	temp := false
	if p.atKeyword("TEMP") || p.atKeyword("TEMPORARY") {
		temp = true
		p.next()
	}
	if p.atKeyword("INDEX") {
		return p.parseCreateIndex()
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifNotExists := p.parseIfNotExists()
	name := p.parseIdentLike()
	if name == "" {
		return nil, p.errf("expected table name")
	}
	ct := &CreateTable{Name: name, Temp: temp, IfNotExists: ifNotExists}
	if p.atSymbol("(") {
		if err := p.parseColumnDefsInto(ct); err != nil {
			return nil, err
		}
	} else if p.atKeyword("AS") {
		p.next()
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		ct.AsSelect = sel
		return ct, nil
	} else {
		return nil, p.errf("expected '(' or AS SELECT")
	}
	if p.atKeyword("WITHOUT") {
		p.next()
		if err := p.expectKeyword("ROWID"); err != nil {
			return nil, err
		}
		ct.WithoutRowID = true
	}
	return ct, nil
}

func (p *Parser) parseCreateIndex() (Statement, error) {
	unique := false
	if p.atKeyword("UNIQUE") {
		unique = true
		p.next()
	}
	if err := p.expectKeyword("INDEX"); err != nil {
		return nil, err
	}
	ifNotExists := p.parseIfNotExists()
	name := p.parseIdentLike()
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table := p.parseIdentLike()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []OrderItem
	for {
		col := p.parseIdentLike()
		desc := false
		if p.atKeyword("ASC") || p.atKeyword("DESC") {
			desc = p.cur.Val == "DESC"
			p.next()
		}
		cols = append(cols, OrderItem{Col: col, Desc: desc})
		if p.atSymbol(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	idx := &CreateIndex{Name: name, Table: table, Columns: cols, Unique: unique, IfNotExists: ifNotExists}
	if p.atKeyword("WHERE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		idx.Where = e
	}
	return idx, nil
}

func (p *Parser) parseIfNotExists() bool {
	if p.atKeyword("IF") {
		p.next()
		if p.atKeyword("NOT") {
			p.next()
		}
		if p.atKeyword("EXISTS") {
			p.next()
		}
		return true
	}
	return false
}

func (p *Parser) parseIfExists() bool {
	if p.atKeyword("IF") {
		p.next()
		if p.atKeyword("EXISTS") {
			p.next()
		}
		return true
	}
	return false
}

func (p *Parser) parseDrop() (Statement, error) {
	p.next()
	if p.atKeyword("INDEX") {
		p.next()
		ifExists := p.parseIfExists()
		name := p.parseIdentLike()
		return &DropIndex{Name: name, IfExists: ifExists}, nil
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifExists := p.parseIfExists()
	name := p.parseIdentLike()
	if name == "" {
		return nil, p.errf("expected table name")
	}
	return &DropTable{Name: name, IfExists: ifExists}, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	p.next()
	action := ConflictAbort
	if p.atKeyword("OR") {
		action = p.parseOnConflictSuffix()
	} else if p.atKeyword("REPLACE") {
		p.next()
		action = ConflictReplace
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	tname := p.parseIdentLike()
	if tname == "" {
		return nil, p.errf("expected table name")
	}
	ins := &Insert{Table: tname, OnConflict: action}
	if p.atSymbol("(") {
		p.next()
		for {
			id := p.parseIdentLike()
			if id == "" {
				return nil, p.errf("expected column name")
			}
			ins.Cols = append(ins.Cols, id)
			if p.atSymbol(",") {
				p.next()
				continue
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	if p.atKeyword("SELECT") || p.atKeyword("WITH") {
		sel, err := p.parseSelectWithCTE()
		if err != nil {
			return nil, err
		}
		ins.Select = sel
		return ins, nil
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		row, err := p.parseValuesRow()
		if err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.atSymbol(",") {
			p.next()
			continue
		}
		break
	}
	return ins, nil
}

func (p *Parser) parseValuesRow() ([]Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var vals []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		vals = append(vals, e)
		if p.atSymbol(",") {
			p.next()
			continue
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		break
	}
	return vals, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next()
	action := ConflictAbort
	if p.atKeyword("OR") {
		action = p.parseOnConflictSuffix()
	}
	tname := p.parseIdentLike()
	if tname == "" {
		return nil, p.errf("expected table name")
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var sets []SetClause
	for {
		col := p.parseIdentLike()
		if col == "" {
			return nil, p.errf("expected column name")
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sets = append(sets, SetClause{Col: col, Expr: e})
		if p.atSymbol(",") {
			p.next()
			continue
		}
		break
	}
	var where Expr
	if p.atKeyword("WHERE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = e
	}
	return &Update{Table: tname, Sets: sets, Where: where, OnConflict: action}, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tname := p.parseIdentLike()
	if tname == "" {
		return nil, p.errf("expected table name")
	}
	var where Expr
	if p.atKeyword("WHERE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = e
	}
	return &Delete{Table: tname, Where: where}, nil
}

func (p *Parser) parseSelectWithCTE() (*Select, error) {
	var ctes []CTE
	if p.atKeyword("WITH") {
		p.next()
		if p.atKeyword("RECURSIVE") {
			p.next()
		}
		for {
			cteName := p.parseIdentLike()
			if cteName == "" {
				return nil, p.errf("expected CTE name")
			}
			var cols []string
			if p.atSymbol("(") {
				p.next()
				for {
					cols = append(cols, p.parseIdentLike())
					if p.atSymbol(",") {
						p.next()
						continue
					}
					break
				}
				if err := p.expectSymbol(")"); err != nil {
					return nil, err
				}
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			cteSelect, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			ctes = append(ctes, CTE{Name: cteName, Cols: cols, Select: cteSelect})
			if p.atSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	sel.CTEs = ctes
	return sel, nil
}

func (p *Parser) parseSelect() (*Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &Select{}
	if p.atKeyword("DISTINCT") {
		sel.Distinct = true
		p.next()
	} else if p.atKeyword("ALL") {
		p.next()
	}
	if err := p.parseProjections(sel); err != nil {
		return nil, err
	}
	if p.atKeyword("FROM") {
		if err := p.parseFromClause(sel); err != nil {
			return nil, err
		}
		if err := p.parseJoinClauses(sel); err != nil {
			return nil, err
		}
	}
	if p.atKeyword("WHERE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = e
	}
	if p.atKeyword("GROUP") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if p.atSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}
	if p.atKeyword("HAVING") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Having = e
	}
	if p.atKeyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.atKeyword("ASC") || p.atKeyword("DESC") {
				desc = p.cur.Val == "DESC"
				p.next()
			}
			item := OrderItem{Desc: desc}
			if ref, ok := e.(*VarRef); ok && ref.Table == "" {
				item.Col = ref.Name
			} else {
				item.Expr = e
			}
			sel.OrderBy = append(sel.OrderBy, item)
			if p.atSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}
	if p.atKeyword("LIMIT") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Limit = e
	}
	if p.atKeyword("OFFSET") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Offset = e
	}
	if err := p.parseCompoundClause(sel); err != nil {
		return nil, err
	}
	return sel, nil
}

// qualifiedStar marks "table.*" once parsePrimary has already consumed the
// qualifier, so parseProjections can special-case it without a 2-token
// lookahead (the parser otherwise only tracks cur/peek).
type qualifiedStar struct{ table string }

func (p *Parser) parseProjections(sel *Select) error {
	for {
		if p.atSymbol("*") {
			p.next()
			sel.Projs = append(sel.Projs, SelectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			if qs, ok := e.(*qualifiedStar); ok {
				sel.Projs = append(sel.Projs, SelectItem{StarTable: qs.table, Star: true})
			} else if err := p.finishProjection(sel, e); err != nil {
				return err
			}
		}
		if p.atSymbol(",") {
			p.next()
			continue
		}
		break
	}
	return nil
}

func (p *Parser) finishProjection(sel *Select, e Expr) error {
	alias := ""
	if p.atKeyword("AS") {
		p.next()
		alias = p.parseIdentLike()
		if alias == "" {
			return p.errf("expected alias")
		}
	} else if p.cur.Typ == tIdent {
		alias = p.cur.Val
		p.next()
	}
	sel.Projs = append(sel.Projs, SelectItem{Expr: e, Alias: alias})
	return nil
}

func (p *Parser) parseFromClause(sel *Select) error {
	if err := p.expectKeyword("FROM"); err != nil {
		return err
	}
	item, err := p.parseFromItem()
	if err != nil {
		return err
	}
	sel.From = item
	return nil
}

func (p *Parser) parseFromItem() (*FromItem, error) {
	if p.atSymbol("(") {
		p.next()
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		alias := p.parseOptionalAlias()
		return &FromItem{Subquery: sub, Alias: alias}, nil
	}
	name := p.parseIdentLike()
	if name == "" {
		return nil, p.errf("expected table")
	}
	alias := p.parseOptionalAlias()
	if alias == "" {
		alias = name
	}
	return &FromItem{Table: name, Alias: alias}, nil
}

func (p *Parser) parseOptionalAlias() string {
	if p.atKeyword("AS") {
		p.next()
		return p.parseIdentLike()
	}
	if p.cur.Typ == tIdent {
		a := p.cur.Val
		p.next()
		return a
	}
	return ""
}

func (p *Parser) parseJoinClauses(sel *Select) error {
	for {
		if p.atSymbol(",") {
			p.next()
			item, err := p.parseFromItem()
			if err != nil {
				return err
			}
			sel.Joins = append(sel.Joins, JoinClause{Type: JoinCross, Right: *item})
			continue
		}
		if p.atKeyword("CROSS") {
			p.next()
			if err := p.expectKeyword("JOIN"); err != nil {
				return err
			}
			item, err := p.parseFromItem()
			if err != nil {
				return err
			}
			sel.Joins = append(sel.Joins, JoinClause{Type: JoinCross, Right: *item})
			continue
		}
		if p.atKeyword("JOIN") || p.atKeyword("INNER") {
			if p.atKeyword("INNER") {
				p.next()
			}
			p.next()
			jc, err := p.parseJoinTail(JoinInner)
			if err != nil {
				return err
			}
			sel.Joins = append(sel.Joins, jc)
			continue
		}
		if p.atKeyword("LEFT") || p.atKeyword("RIGHT") || p.atKeyword("FULL") {
			jt := JoinLeft
			switch p.cur.Val {
			case "RIGHT":
				jt = JoinRight
			case "FULL":
				jt = JoinFull
			}
			p.next()
			if p.atKeyword("OUTER") {
				p.next()
			}
			if err := p.expectKeyword("JOIN"); err != nil {
				return err
			}
			jc, err := p.parseJoinTail(jt)
			if err != nil {
				return err
			}
			sel.Joins = append(sel.Joins, jc)
			continue
		}
		break
	}
	return nil
}

func (p *Parser) parseJoinTail(jt JoinType) (JoinClause, error) {
	item, err := p.parseFromItem()
	if err != nil {
		return JoinClause{}, err
	}
	jc := JoinClause{Type: jt, Right: *item}
	if p.atKeyword("USING") {
		p.next()
		if err := p.expectSymbol("("); err != nil {
			return JoinClause{}, err
		}
		for {
			jc.Using = append(jc.Using, p.parseIdentLike())
			if p.atSymbol(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return JoinClause{}, err
		}
		return jc, nil
	}
	if err := p.expectKeyword("ON"); err != nil {
		return JoinClause{}, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return JoinClause{}, err
	}
	jc.On = on
	return jc, nil
}

func (p *Parser) parseCompoundClause(sel *Select) error {
	if !(p.atKeyword("UNION") || p.atKeyword("EXCEPT") || p.atKeyword("INTERSECT")) {
		return nil
	}
	op := CompoundUnion
	switch p.cur.Val {
	case "UNION":
		p.next()
		if p.atKeyword("ALL") {
			op = CompoundUnionAll
			p.next()
		}
	case "EXCEPT":
		op = CompoundExcept
		p.next()
	case "INTERSECT":
		op = CompoundIntersect
		p.next()
	}
	right, err := p.parseSelect()
	if err != nil {
		return err
	}
	sel.Compound = &CompoundClause{Op: op, Next: right}
	return nil
}

func (p *Parser) parseColumnDefsInto(ct *CreateTable) error {
	if err := p.expectSymbol("("); err != nil {
		return err
	}
	for {
		if p.atKeyword("PRIMARY") || p.atKeyword("UNIQUE") || p.atKeyword("FOREIGN") || p.atKeyword("CHECK") || p.atKeyword("CONSTRAINT") {
			tc, err := p.parseTableConstraint()
			if err != nil {
				return err
			}
			ct.Constraints = append(ct.Constraints, tc)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return err
			}
			ct.Cols = append(ct.Cols, col)
		}
		if p.atSymbol(",") {
			p.next()
			continue
		}
		return p.expectSymbol(")")
	}
}

func (p *Parser) parseTableConstraint() (TableConstraint, error) {
	if p.atKeyword("CONSTRAINT") {
		p.next()
		p.parseIdentLike() // named constraint, name not tracked separately
	}
	switch {
	case p.atKeyword("PRIMARY"):
		p.next()
		if err := p.expectKeyword("KEY"); err != nil {
			return TableConstraint{}, err
		}
		cols, err := p.parseParenIdentList()
		if err != nil {
			return TableConstraint{}, err
		}
		return TableConstraint{Kind: ConstraintPrimaryKey, Columns: cols}, nil
	case p.atKeyword("UNIQUE"):
		p.next()
		cols, err := p.parseParenIdentList()
		if err != nil {
			return TableConstraint{}, err
		}
		return TableConstraint{Kind: ConstraintUnique, Columns: cols}, nil
	case p.atKeyword("FOREIGN"):
		p.next()
		if err := p.expectKeyword("KEY"); err != nil {
			return TableConstraint{}, err
		}
		cols, err := p.parseParenIdentList()
		if err != nil {
			return TableConstraint{}, err
		}
		if err := p.expectKeyword("REFERENCES"); err != nil {
			return TableConstraint{}, err
		}
		table := p.parseIdentLike()
		refCols, err := p.parseParenIdentList()
		if err != nil {
			return TableConstraint{}, err
		}
		fk := &ForeignKeyRef{Table: table}
		if len(refCols) > 0 {
			fk.Column = refCols[0]
		}
		return TableConstraint{Kind: ConstraintForeignKey, Columns: cols, FK: fk}, nil
	case p.atKeyword("CHECK"):
		p.next()
		if err := p.expectSymbol("("); err != nil {
			return TableConstraint{}, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return TableConstraint{}, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return TableConstraint{}, err
		}
		return TableConstraint{Kind: ConstraintCheck, Check: e}, nil
	}
	return TableConstraint{}, p.errf("expected table constraint")
}

func (p *Parser) parseParenIdentList() ([]string, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		cols = append(cols, p.parseIdentLike())
		if p.atSymbol(",") {
			p.next()
			continue
		}
		break
	}
	return cols, p.expectSymbol(")")
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name := p.parseIdentLike()
	if name == "" {
		return ColumnDef{}, p.errf("expected column name")
	}
	col := ColumnDef{Name: name}
	col.TypeName = p.parseTypeName()
	for {
		switch {
		case p.atKeyword("PRIMARY"):
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnDef{}, err
			}
			col.PrimaryKey = true
			if p.atKeyword("ASC") || p.atKeyword("DESC") {
				p.next()
			}
			if p.atKeyword("AUTOINCREMENT") {
				p.next()
				col.AutoIncrement = true
			}
		case p.atKeyword("NOT"):
			p.next()
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnDef{}, err
			}
			col.NotNull = true
		case p.atKeyword("UNIQUE"):
			p.next()
			col.Unique = true
		case p.atKeyword("DEFAULT"):
			p.next()
			e, err := p.parseDefaultValue()
			if err != nil {
				return ColumnDef{}, err
			}
			col.Default = e
		case p.atKeyword("COLLATE"):
			p.next()
			col.Collate = p.parseIdentLike()
		case p.atKeyword("CHECK"):
			p.next()
			if err := p.expectSymbol("("); err != nil {
				return ColumnDef{}, err
			}
			e, err := p.parseExpr()
			if err != nil {
				return ColumnDef{}, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return ColumnDef{}, err
			}
			col.Check = e
		case p.atKeyword("REFERENCES"):
			p.next()
			table := p.parseIdentLike()
			var refCol string
			if p.atSymbol("(") {
				cols, err := p.parseParenIdentList()
				if err != nil {
					return ColumnDef{}, err
				}
				if len(cols) > 0 {
					refCol = cols[0]
				}
			}
			col.References = &ForeignKeyRef{Table: table, Column: refCol}
		default:
			return col, nil
		}
	}
}

// parseDefaultValue accepts a parenthesized expression or a bare primary,
// matching SQLite's DEFAULT grammar without pulling in full expression
// precedence ambiguity against the following column clause.
func (p *Parser) parseDefaultValue() (Expr, error) {
	if p.atSymbol("(") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	if p.atSymbol("-") || p.atSymbol("+") {
		return p.parseUnary()
	}
	return p.parsePrimary()
}

// parseTypeName captures a declared type and optional (n[,n]) width, as a
// raw string; affinity is derived from it later via sqlvalue.AffinityForTypeName.
func (p *Parser) parseTypeName() string {
	var b strings.Builder
typeWords:
	for p.cur.Typ == tIdent || p.cur.Typ == tKeyword {
		if p.cur.Typ == tKeyword {
			switch p.cur.Val {
			case "PRIMARY", "NOT", "NULL", "UNIQUE", "DEFAULT", "COLLATE", "CHECK", "REFERENCES", "CONSTRAINT":
				break typeWords // start of a column constraint, not part of the type
			}
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.cur.Val)
		p.next()
	}
	if p.atSymbol("(") {
		b.WriteString("(")
		p.next()
		for !p.atSymbol(")") && p.cur.Typ != tEOF {
			b.WriteString(p.cur.Val)
			p.next()
		}
		b.WriteString(")")
		if p.atSymbol(")") {
			p.next()
		}
	}
	return b.String()
}

func (p *Parser) parseIdentLike() string {
	if p.cur.Typ == tIdent || p.cur.Typ == tKeyword {
		s := p.cur.Val
		p.next()
		return s
	}
	return ""
}

// ------------------------------ Expressions ------------------------------

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "OR", Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "AND", Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.atKeyword("NOT") {
		p.next()
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Expr: e}, nil
	}
	return p.parsePredicate()
}

// parsePredicate handles IS [NOT] NULL, [NOT] BETWEEN, [NOT] IN, [NOT]
// LIKE/GLOB, then falls through to plain comparison.
func (p *Parser) parsePredicate() (Expr, error) {
	l, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	return p.parsePredicateTail(l)
}

func (p *Parser) parsePredicateTail(l Expr) (Expr, error) {
	for {
		negate := false
		if p.atKeyword("NOT") && (p.peek.Val == "BETWEEN" || p.peek.Val == "IN" || p.peek.Val == "LIKE" || p.peek.Val == "GLOB") {
			negate = true
			p.next()
		}
		switch {
		case p.atKeyword("IS"):
			p.next()
			neg := false
			if p.atKeyword("NOT") {
				neg = true
				p.next()
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			l = &IsNull{Expr: l, Negate: neg}
			continue
		case p.atKeyword("BETWEEN"):
			p.next()
			lo, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			l = &Between{Expr: l, Low: lo, High: hi, Negate: negate}
			continue
		case p.atKeyword("IN"):
			p.next()
			e, err := p.parseInTail(l, negate)
			if err != nil {
				return nil, err
			}
			l = e
			continue
		case p.atKeyword("LIKE") || p.atKeyword("GLOB"):
			glob := p.cur.Val == "GLOB"
			p.next()
			pat, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			like := &Like{Expr: l, Pattern: pat, Glob: glob, Negate: negate}
			if p.atKeyword("ESCAPE") {
				p.next()
				esc, err := p.parseConcat()
				if err != nil {
					return nil, err
				}
				like.Escape = esc
			}
			l = like
			continue
		case p.cur.Typ == tSymbol && isCmpOp(p.cur.Val):
			op := p.cur.Val
			p.next()
			r, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			l = &Binary{Op: op, Left: l, Right: r}
			continue
		}
		if negate {
			return nil, p.errf("expected BETWEEN/IN/LIKE/GLOB after NOT")
		}
		return l, nil
	}
}

func isCmpOp(s string) bool {
	switch s {
	case "=", "==", "!=", "<>", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func (p *Parser) parseInTail(l Expr, negate bool) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.atKeyword("SELECT") {
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &InSubquery{Expr: l, Select: sel, Negate: negate}, nil
	}
	var items []Expr
	if !p.atSymbol(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, e)
			if p.atSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &InList{Expr: l, Items: items, Negate: negate}, nil
}

func (p *Parser) parseConcat() (Expr, error) {
	l, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}
	for p.atSymbol("||") {
		p.next()
		r, err := p.parseAddSub()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "||", Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseAddSub() (Expr, error) {
	l, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	for p.cur.Typ == tSymbol && (p.cur.Val == "+" || p.cur.Val == "-") {
		op := p.cur.Val
		p.next()
		r, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseMulDiv() (Expr, error) {
	l, err := p.parseCollateLevel()
	if err != nil {
		return nil, err
	}
	for p.cur.Typ == tSymbol && (p.cur.Val == "*" || p.cur.Val == "/") {
		op := p.cur.Val
		p.next()
		r, err := p.parseCollateLevel()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseCollateLevel() (Expr, error) {
	e, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("COLLATE") {
		p.next()
		name := p.parseIdentLike()
		e = &CollateExpr{Expr: e, Name: name}
	}
	return e, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur.Typ == tSymbol && (p.cur.Val == "+" || p.cur.Val == "-") {
		op := p.cur.Val
		p.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, Expr: e}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Typ {
	case tNumber:
		val := p.cur.Val
		p.next()
		if !strings.ContainsAny(val, ".eE") {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				return &Literal{Val: n}, nil
			}
		}
		f, _ := strconv.ParseFloat(val, 64)
		return &Literal{Val: f}, nil
	case tString:
		s := p.cur.Val
		p.next()
		return &Literal{Val: s}, nil
	case tBlob:
		s := p.cur.Val
		p.next()
		return &Literal{Val: hexToBytes(s)}, nil
	case tBindParam:
		name := p.cur.Val
		p.next()
		p.numBinds++
		return &BindParam{Name: name, Index: p.numBinds}, nil
	case tKeyword:
		return p.parseKeywordPrimary()
	case tIdent:
		name := p.cur.Val
		p.next()
		if p.atSymbol(".") {
			p.next()
			if p.atSymbol("*") {
				p.next()
				return &qualifiedStar{table: name}, nil
			}
			col := p.parseIdentLike()
			return &VarRef{Table: name, Name: col}, nil
		}
		if p.atSymbol("(") {
			return p.parseFuncCallNamed(name)
		}
		return &VarRef{Name: name}, nil
	case tSymbol:
		if p.cur.Val == "(" {
			p.next()
			if p.atKeyword("SELECT") {
				sel, err := p.parseSelect()
				if err != nil {
					return nil, err
				}
				if err := p.expectSymbol(")"); err != nil {
					return nil, err
				}
				return &Subquery{Select: sel}, nil
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, p.errf("unexpected token %q", p.cur.Val)
}

func hexToBytes(s string) []byte {
	out := make([]byte, 0, len(s)/2)
	hv := func(c byte) byte {
		switch {
		case c >= '0' && c <= '9':
			return c - '0'
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10
		}
		return 0
	}
	for i := 0; i+1 < len(s); i += 2 {
		out = append(out, hv(s[i])<<4|hv(s[i+1]))
	}
	return out
}

func (p *Parser) parseKeywordPrimary() (Expr, error) {
	switch p.cur.Val {
	case "TRUE":
		p.next()
		return &Literal{Val: true}, nil
	case "FALSE":
		p.next()
		return &Literal{Val: false}, nil
	case "NULL":
		p.next()
		return &Literal{Val: nil}, nil
	case "CAST":
		return p.parseCast()
	case "CASE":
		return p.parseCase()
	case "NOT":
		p.next()
		e, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Expr: e}, nil
	case "EXISTS":
		p.next()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &Exists{Select: sel}, nil
	default:
		name := p.cur.Val
		p.next()
		if p.atSymbol("(") {
			return p.parseFuncCallNamed(name)
		}
		if p.atSymbol(".") {
			p.next()
			col := p.parseIdentLike()
			return &VarRef{Table: name, Name: col}, nil
		}
		// Bare keyword used as a column name (e.g. a column literally
		// named TIMESTAMP); accept it as an identifier-like VarRef.
		return &VarRef{Name: name}, nil
	}
}

func (p *Parser) parseCast() (Expr, error) {
	p.next()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	typeName := p.parseTypeName()
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &Cast{Expr: e, TypeName: typeName}, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.next()
	ce := &CaseExpr{}
	if !p.atKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Operand = operand
	}
	for p.atKeyword("WHEN") {
		p.next()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, WhenClause{Cond: cond, Then: then})
	}
	if p.atKeyword("ELSE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

func (p *Parser) parseFuncCallNamed(name string) (Expr, error) {
	p.next() // consume "("
	fc := &FuncCall{Name: strings.ToUpper(name)}
	if fc.Name == "COUNT" && p.atSymbol("*") {
		p.next()
		fc.Star = true
		return fc, p.expectSymbol(")")
	}
	if p.atKeyword("DISTINCT") {
		fc.Distinct = true
		p.next()
	}
	if !p.atSymbol(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			fc.Args = append(fc.Args, e)
			if p.atSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}
	return fc, p.expectSymbol(")")
}
