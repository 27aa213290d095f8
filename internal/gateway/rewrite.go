// Package gateway validates, rewrites, and executes untrusted candidate SQL
// under enforced per-athlete row isolation. Candidate text is parsed into an
// AST so the tenant predicate lands in the correct clause regardless of
// formatting; the athlete id always travels as a bound parameter.
package gateway

import (
	"errors"
	"io"
	"strings"

	sqlparser "github.com/rqlite/sql"

	"fittalk-gateway/internal/errs"
)

// tenantColumn is the column every executed statement is scoped by.
const tenantColumn = "athlete_id"

// queryTable is the only table candidate queries may read from.
const queryTable = "activities"

// queryColumns are the referenceable columns of the activities table. Column
// references are validated against this set before execution: the renderer
// emits identifiers double-quoted, and SQLite's double-quoted-string fallback
// would otherwise turn an unknown quoted column into a string literal instead
// of an error.
var queryColumns = map[string]struct{}{
	"id":                   {},
	"athlete_id":           {},
	"name":                 {},
	"distance":             {},
	"moving_time":          {},
	"elapsed_time":         {},
	"total_elevation_gain": {},
	"type":                 {},
	"start_date":           {},
	"created_at":           {},
	"updated_at":           {},
}

// Kind classifies a candidate statement. Both kinds receive the same tenant
// predicate treatment; the classification exists for observability.
type Kind string

const (
	KindAggregate Kind = "aggregate"
	KindRowLevel  Kind = "row_level"
)

// Rewritten is the output of a successful rewrite: a statement that is safe
// to execute plus its parameter tuple, the athlete id once per select arm in
// arm order. Candidates may not carry bind placeholders of their own, so the
// tuple is always complete; callers pass it through unchanged.
type Rewritten struct {
	SQL    string
	Params []any
	Kind   Kind
}

// Rewrite validates an untrusted candidate statement and scopes it to the
// given athlete. It rejects anything that is not a single SELECT against the
// activities table referencing only known columns, strips any tenant
// predicate the candidate already carries, and injects an enforced
// "athlete_id = ?" into the WHERE clause of every select arm.
func Rewrite(candidate string, athleteID int64) (*Rewritten, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return nil, errs.Validationf("empty statement")
	}

	// A single trailing terminator is tolerated and stripped; anything after
	// it is caught below when a second statement parses.
	if strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
		if trimmed == "" {
			return nil, errs.Validationf("empty statement")
		}
	}

	parser := sqlparser.NewParser(strings.NewReader(trimmed))

	stmt, err := parser.ParseStatement()
	if err != nil {
		return nil, errs.Validationf("cannot parse statement: %v", err)
	}

	sel, ok := stmt.(*sqlparser.SelectStatement)
	if !ok {
		return nil, errs.Validationf("only a single SELECT statement is allowed")
	}

	// The candidate must be exactly one statement.
	if _, err := parser.ParseStatement(); !errors.Is(err, io.EOF) {
		return nil, errs.Validationf("statement must not be followed by a second statement")
	}

	var params []any
	for arm := sel; arm != nil; arm = arm.Compound {
		if err := validateSource(arm.Source); err != nil {
			return nil, err
		}
		if err := validateArmColumns(arm); err != nil {
			return nil, err
		}

		arm.WhereExpr = withTenantPredicate(stripTenantPredicates(arm.WhereExpr))
		params = append(params, athleteID)
	}

	return &Rewritten{
		SQL:    sel.String(),
		Params: params,
		Kind:   classify(sel),
	}, nil
}

// withTenantPredicate prepends the enforced predicate to an existing WHERE
// expression, or becomes the whole WHERE clause if none exists. An existing
// top-level OR is parenthesized so the enforced predicate binds to the whole
// condition.
func withTenantPredicate(existing sqlparser.Expr) sqlparser.Expr {
	enforced := &sqlparser.BinaryExpr{
		X:  &sqlparser.Ident{Name: tenantColumn},
		Op: sqlparser.EQ,
		Y:  &sqlparser.BindExpr{Name: "?"},
	}

	if existing == nil {
		return enforced
	}

	if be, ok := existing.(*sqlparser.BinaryExpr); ok && be.Op == sqlparser.OR {
		existing = &sqlparser.ParenExpr{X: existing}
	}

	return &sqlparser.BinaryExpr{
		X:  enforced,
		Op: sqlparser.AND,
		Y:  existing,
	}
}

// stripTenantPredicates removes any equality predicate on the tenant column
// from the expression tree, collapsing the surrounding AND/OR nodes. A
// model-supplied tenant value can never substitute for the enforced one.
// Runs after column validation, so the expression tree is known to be free
// of bind placeholders.
func stripTenantPredicates(expr sqlparser.Expr) sqlparser.Expr {
	if expr == nil {
		return nil
	}

	switch e := expr.(type) {
	case *sqlparser.BinaryExpr:
		switch e.Op {
		case sqlparser.AND, sqlparser.OR:
			x := stripTenantPredicates(e.X)
			y := stripTenantPredicates(e.Y)
			if x == nil {
				return y
			}
			if y == nil {
				return x
			}
			e.X, e.Y = x, y
			return e

		case sqlparser.EQ:
			if isTenantRef(e.X) || isTenantRef(e.Y) {
				return nil
			}
		}
		return e

	case *sqlparser.ParenExpr:
		x := stripTenantPredicates(e.X)
		if x == nil {
			return nil
		}
		e.X = x
		return e
	}

	return expr
}

// validateArmColumns checks every expression position of a select arm. All
// column references must name activities columns (or aliases the arm itself
// defines), and bind placeholders are rejected: the candidate contract is
// plain SQL text plus a tenant id, and a candidate-supplied placeholder
// would leave the parameter tuple positionally ambiguous once the tenant
// predicate is injected.
func validateArmColumns(arm *sqlparser.SelectStatement) error {
	allowed := make(map[string]struct{}, len(queryColumns)+len(arm.Columns))
	for col := range queryColumns {
		allowed[col] = struct{}{}
	}
	for _, col := range arm.Columns {
		if col.Alias != nil {
			allowed[strings.ToLower(col.Alias.Name)] = struct{}{}
		}
	}

	var exprs []sqlparser.Expr
	for _, col := range arm.Columns {
		exprs = append(exprs, col.Expr)
	}
	exprs = append(exprs, arm.WhereExpr, arm.HavingExpr)
	exprs = append(exprs, arm.GroupByExprs...)
	for _, term := range arm.OrderingTerms {
		exprs = append(exprs, term.X)
	}
	exprs = append(exprs, arm.LimitExpr, arm.OffsetExpr)

	for _, expr := range exprs {
		if err := validateExprColumns(expr, allowed); err != nil {
			return err
		}
	}
	return nil
}

func validateExprColumns(expr sqlparser.Expr, allowed map[string]struct{}) error {
	switch e := expr.(type) {
	case nil:
		return nil

	case *sqlparser.Ident:
		if _, ok := allowed[strings.ToLower(e.Name)]; !ok {
			return errs.Validationf("unknown column %q", e.Name)
		}
		return nil

	case *sqlparser.QualifiedRef:
		if e.Column == nil {
			return nil
		}
		if _, ok := allowed[strings.ToLower(e.Column.Name)]; !ok {
			return errs.Validationf("unknown column %q", e.Column.Name)
		}
		return nil

	case *sqlparser.BindExpr:
		return errs.Validationf("bind placeholders are not allowed in candidate statements")

	case *sqlparser.BinaryExpr:
		if err := validateExprColumns(e.X, allowed); err != nil {
			return err
		}
		return validateExprColumns(e.Y, allowed)

	case *sqlparser.UnaryExpr:
		return validateExprColumns(e.X, allowed)

	case *sqlparser.ParenExpr:
		return validateExprColumns(e.X, allowed)

	case *sqlparser.Call:
		for _, arg := range e.Args {
			if err := validateExprColumns(arg, allowed); err != nil {
				return err
			}
		}
		return nil

	case *sqlparser.ExprList:
		for _, x := range e.Exprs {
			if err := validateExprColumns(x, allowed); err != nil {
				return err
			}
		}
		return nil

	case *sqlparser.Range:
		if err := validateExprColumns(e.X, allowed); err != nil {
			return err
		}
		return validateExprColumns(e.Y, allowed)

	case *sqlparser.NumberLit, *sqlparser.StringLit, *sqlparser.NullLit, *sqlparser.BoolLit:
		return nil

	default:
		return errs.Validationf("unsupported expression")
	}
}

// validateSource restricts the FROM clause to the activities table. Nested
// selects are rejected: the parser subset in use has no scalar subqueries,
// so rejecting FROM subqueries closes the remaining path around the
// enforced predicate.
func validateSource(source sqlparser.Source) error {
	switch s := source.(type) {
	case nil:
		return nil
	case *sqlparser.QualifiedTableName:
		if !strings.EqualFold(s.Name.Name, queryTable) {
			return errs.Validationf("table %q is not queryable", s.Name.Name)
		}
		return nil
	case *sqlparser.ParenSource:
		return validateSource(s.X)
	case *sqlparser.JoinClause:
		if err := validateSource(s.X); err != nil {
			return err
		}
		return validateSource(s.Y)
	default:
		return errs.Validationf("subqueries are not allowed in FROM")
	}
}

func isTenantRef(expr sqlparser.Expr) bool {
	switch e := expr.(type) {
	case *sqlparser.Ident:
		return strings.EqualFold(e.Name, tenantColumn)
	case *sqlparser.QualifiedRef:
		return e.Column != nil && strings.EqualFold(e.Column.Name, tenantColumn)
	}
	return false
}

// classify reports whether the statement is an aggregate or row-level query
func classify(sel *sqlparser.SelectStatement) Kind {
	if len(sel.GroupByExprs) > 0 || sel.HavingExpr != nil {
		return KindAggregate
	}
	for _, col := range sel.Columns {
		if containsAggregate(col.Expr) {
			return KindAggregate
		}
	}
	return KindRowLevel
}

func containsAggregate(expr sqlparser.Expr) bool {
	switch e := expr.(type) {
	case *sqlparser.Call:
		switch strings.ToUpper(e.Name.Name) {
		case "COUNT", "SUM", "AVG", "MIN", "MAX":
			return true
		}
		for _, arg := range e.Args {
			if containsAggregate(arg) {
				return true
			}
		}
	case *sqlparser.BinaryExpr:
		return containsAggregate(e.X) || containsAggregate(e.Y)
	case *sqlparser.UnaryExpr:
		return containsAggregate(e.X)
	case *sqlparser.ParenExpr:
		return containsAggregate(e.X)
	}
	return false
}
