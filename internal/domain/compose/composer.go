// Package compose turns resolved (field, operator, value) triples into a
// nested filter tree, grouping conditions by entity path.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cohortql/internal/catalog"
	"cohortql/internal/domain/filter"
	"cohortql/internal/domain/resolve"
	"cohortql/pkg/logger"
)

// truthy is the fixed set of strings coerced to boolean true.
var truthy = map[string]bool{
	"true": true,
	"yes":  true,
	"1":    true,
	"y":    true,
}

// Composer builds filter trees from resolved fields.
type Composer struct {
	log *logger.Logger
}

// NewComposer creates a filter composer.
func NewComposer(log *logger.Logger) *Composer {
	return &Composer{log: log.WithComponent("compose")}
}

// Compose builds a filter tree from resolved fields joined by the given
// sibling combinator. Fields whose coerced value is empty are dropped and
// logged, never fatal. Conditions on the same sub-entity merge into a single
// Nested node whose children always combine with AND: unrelated nested
// predicates on the same sub-entity are independent constraints, not
// alternatives.
//
// Zero usable conditions yield a nil tree (matches everything); a single
// condition is returned unwrapped.
func (c *Composer) Compose(ctx context.Context, fields []resolve.ResolvedField, combinator filter.Combinator) (filter.Node, error) {
	if !combinator.Valid() {
		combinator = filter.CombineAnd
	}

	var direct []filter.Node
	nestedByPath := make(map[string]*filter.Nested)
	var nestedOrder []string

	for _, rf := range fields {
		value, ok := c.coerceValue(ctx, rf)
		if !ok {
			continue
		}

		entity, field, isNested := splitPath(rf.FieldPath)

		node, err := buildCondition(field, rf.Operator, value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", rf.FieldPath, err)
		}

		if isNested {
			group, exists := nestedByPath[entity]
			if !exists {
				group = &filter.Nested{Path: entity, Combinator: filter.CombineAnd}
				nestedByPath[entity] = group
				nestedOrder = append(nestedOrder, entity)
			}
			group.Children = append(group.Children, node)
		} else {
			direct = append(direct, node)
		}
	}

	all := direct
	for _, path := range nestedOrder {
		all = append(all, *nestedByPath[path])
	}

	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return all[0], nil
	}
	return filter.Group{Combinator: combinator, Children: all}, nil
}

// splitPath splits a field path at the first separator; segment 0 names the
// entity, the remainder is the field on that entity.
func splitPath(path string) (entity, field string, nested bool) {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i], path[i+1:], true
	}
	return "", path, false
}

// coerceValue converts the resolved value per field type. Returns false when
// the coerced value is empty and the field should be dropped.
func (c *Composer) coerceValue(ctx context.Context, rf resolve.ResolvedField) (any, bool) {
	var value any

	switch rf.FieldType {
	case catalog.TypeEnumeration:
		value = rf.Value

	case catalog.TypeNumber:
		value = coerceNumber(rf.Value)

	case catalog.TypeBoolean:
		value = coerceBool(rf.Value)

	case catalog.TypeString:
		if s, ok := rf.Value.(string); ok {
			value = strings.TrimSpace(s)
		} else {
			value = rf.Value
		}

	default:
		value = rf.Value
	}

	if isEmpty(value) {
		c.log.WithContext(ctx).Warnw("dropping field with empty value",
			"field", rf.FieldPath,
			"term", rf.Term,
		)
		return nil, false
	}

	return value, true
}

// coerceNumber parses numeric-looking strings, keeping non-numeric values
// as strings. Integer-valued numbers stay integers.
func coerceNumber(value any) any {
	switch v := value.(type) {
	case int, int64, float64:
		return v
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return v
		}
		if d.IsInteger() {
			return d.IntPart()
		}
		f, _ := d.Float64()
		return f
	}
	return value
}

func coerceBool(value any) any {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return truthy[strings.ToLower(strings.TrimSpace(v))]
	}
	return value != nil
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

// buildCondition maps an operator to a wire condition. eq/in normalize the
// value to a list under IN; range operators pass the value through; textual
// operators map to CONTAINS with any wildcard decoration left to the query
// builder.
func buildCondition(field, operator string, value any) (filter.Node, error) {
	switch operator {
	case "eq", "in":
		return filter.NewIn(field, toList(value)), nil
	case "gte":
		return filter.Cmp{Op: filter.OpGte, Field: field, Value: value}, nil
	case "lte":
		return filter.Cmp{Op: filter.OpLte, Field: field, Value: value}, nil
	case "gt":
		return filter.Cmp{Op: filter.OpGt, Field: field, Value: value}, nil
	case "lt":
		return filter.Cmp{Op: filter.OpLt, Field: field, Value: value}, nil
	case "contains", "startswith", "endswith":
		return filter.Cmp{Op: filter.OpContains, Field: field, Value: value}, nil
	}
	// Unknown operators fall back to IN membership.
	return filter.NewIn(field, toList(value)), nil
}

func toList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return []any{value}
}

// Warnings inspects a composed tree for patterns worth surfacing: an empty
// tree, heavy CONTAINS usage, or repeated conditions on one field. Advisory
// only, never blocks composition.
func (c *Composer) Warnings(n filter.Node) []string {
	var warnings []string

	if filter.CountConditions(n) == 0 {
		warnings = append(warnings, "no filters generated - query may return all records")
	}

	if contains := filter.CountOperator(n, filter.OpContains); contains > 3 {
		warnings = append(warnings, fmt.Sprintf("many string containment filters (%d) may impact performance", contains))
	}

	counts := make(map[string]int)
	countFields(n, "", counts)
	for field, count := range counts {
		if count > 1 {
			warnings = append(warnings, fmt.Sprintf("multiple filters on field %q - may be conflicting", field))
		}
	}

	return warnings
}

func countFields(n filter.Node, prefix string, counts map[string]int) {
	switch node := n.(type) {
	case filter.Group:
		for _, child := range node.Children {
			countFields(child, prefix, counts)
		}
	case filter.In:
		for field := range node.Fields {
			counts[prefix+field]++
		}
	case filter.Cmp:
		counts[prefix+node.Field]++
	case filter.Nested:
		for _, child := range node.Children {
			countFields(child, node.Path+".", counts)
		}
	}
}
