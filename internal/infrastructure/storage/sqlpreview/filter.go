// Package sqlpreview renders a filter tree as a SQL WHERE clause for
// debugging and cohort-size estimation against a relational mirror of the
// catalog data. It builds SQL text only and issues no database calls.
package sqlpreview

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/squirrel"

	"cohortql/internal/domain/filter"
)

// identSyntax whitelists identifiers used in generated SQL.
var identSyntax = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Exporter renders filter trees against a root table. Nested conditions
// become EXISTS subqueries against a child table named after the nested
// path, joined on NestedForeignKey.
type Exporter struct {
	// Table is the root table name.
	Table string

	// NestedForeignKey is the child-table column referencing the root
	// table's id (e.g. "subject_id").
	NestedForeignKey string
}

// NewExporter creates an exporter for the given root table.
func NewExporter(table, nestedForeignKey string) *Exporter {
	return &Exporter{Table: table, NestedForeignKey: nestedForeignKey}
}

// Render produces the full SELECT preview statement with placeholders and
// arguments. A nil tree selects everything.
func (e *Exporter) Render(n filter.Node) (string, []any, error) {
	if err := validIdent(e.Table); err != nil {
		return "", nil, err
	}

	q := squirrel.Select("count(*)").From(e.Table)

	if n != nil {
		pred, err := e.toSqlizer(n)
		if err != nil {
			return "", nil, err
		}
		q = q.Where(pred)
	}

	return q.ToSql()
}

// RenderWhere produces just the WHERE clause expression and arguments. A nil
// tree yields an empty clause.
func (e *Exporter) RenderWhere(n filter.Node) (string, []any, error) {
	if n == nil {
		return "", nil, nil
	}
	pred, err := e.toSqlizer(n)
	if err != nil {
		return "", nil, err
	}
	return pred.ToSql()
}

// toSqlizer maps a filter node to a squirrel predicate.
func (e *Exporter) toSqlizer(n filter.Node) (squirrel.Sqlizer, error) {
	switch node := n.(type) {
	case filter.Group:
		return e.groupToSqlizer(node.Combinator, node.Children)

	case filter.In:
		conj := squirrel.And{}
		for _, field := range node.SortedFields() {
			if err := validIdent(field); err != nil {
				return nil, err
			}
			conj = append(conj, squirrel.Eq{field: node.Fields[field]})
		}
		if len(conj) == 1 {
			return conj[0], nil
		}
		return conj, nil

	case filter.Cmp:
		if err := validIdent(node.Field); err != nil {
			return nil, err
		}
		switch node.Op {
		case filter.OpGte:
			return squirrel.GtOrEq{node.Field: node.Value}, nil
		case filter.OpLte:
			return squirrel.LtOrEq{node.Field: node.Value}, nil
		case filter.OpGt:
			return squirrel.Gt{node.Field: node.Value}, nil
		case filter.OpLt:
			return squirrel.Lt{node.Field: node.Value}, nil
		case filter.OpContains:
			return squirrel.ILike{node.Field: fmt.Sprintf("%%%v%%", node.Value)}, nil
		}
		return nil, fmt.Errorf("unsupported comparison operator %q", node.Op)

	case filter.Nested:
		return e.nestedToSqlizer(node)
	}

	return nil, fmt.Errorf("unknown filter node type %T", n)
}

func (e *Exporter) groupToSqlizer(combinator filter.Combinator, children []filter.Node) (squirrel.Sqlizer, error) {
	preds := make([]squirrel.Sqlizer, 0, len(children))
	for _, child := range children {
		pred, err := e.toSqlizer(child)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	if combinator == filter.CombineOr {
		return squirrel.Or(preds), nil
	}
	return squirrel.And(preds), nil
}

// nestedToSqlizer renders a Nested node as an EXISTS subquery against the
// child table named by the nested path.
func (e *Exporter) nestedToSqlizer(node filter.Nested) (squirrel.Sqlizer, error) {
	if err := validIdent(node.Path); err != nil {
		return nil, err
	}
	if err := validIdent(e.NestedForeignKey); err != nil {
		return nil, err
	}

	pred, err := e.groupToSqlizer(node.Combinator, node.Children)
	if err != nil {
		return nil, err
	}

	sub := squirrel.Select("1").
		From(node.Path).
		Where(fmt.Sprintf("%s.%s = %s.id", node.Path, e.NestedForeignKey, e.Table)).
		Where(pred)

	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return nil, err
	}

	return squirrel.Expr("EXISTS ("+subSQL+")", subArgs...), nil
}

// validIdent rejects identifiers that cannot safely appear in generated SQL.
func validIdent(ident string) error {
	if !identSyntax.MatchString(ident) {
		return fmt.Errorf("invalid SQL identifier %q", ident)
	}
	return nil
}
