package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrAnchoredUnsupported is returned when a state contains an Anchored value.
// Anchored (ordered/sequential) filters are not implemented; failing loudly
// beats silently dropping a user's selection.
var ErrAnchoredUnsupported = errors.New("anchored filters are not supported")

// Encode converts a FilterState into a wire filter tree.
//
// Option values become IN conditions; Range values become GTE/LTE (wrapped
// in AND when both bounds are present). Keys containing a separator are
// grouped into one Nested node per entity. Zero conditions yield a nil tree,
// a single condition is returned unwrapped, and two or more are combined
// under the state's combine mode.
func Encode(state *State) (Node, error) {
	if state == nil {
		return nil, nil
	}

	if state.Kind == KindComposed {
		children := make([]Node, 0, len(state.Children))
		for _, child := range state.Children {
			node, err := Encode(child)
			if err != nil {
				return nil, err
			}
			if node != nil {
				children = append(children, node)
			}
		}
		if len(children) == 0 {
			return nil, nil
		}
		return Group{Combinator: state.CombineMode, Children: children}, nil
	}

	if len(state.Values) == 0 {
		return nil, nil
	}

	// Deterministic iteration order over the values map.
	keys := make([]string, 0, len(state.Values))
	for key := range state.Values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var direct []Node
	nestedByPath := make(map[string]*Nested)
	var nestedOrder []string

	for _, key := range keys {
		entity, field, isNested := splitKey(key)

		node, err := encodeValue(field, state.Values[key])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if node == nil {
			continue
		}

		if isNested {
			group, ok := nestedByPath[entity]
			if !ok {
				group = &Nested{Path: entity, Combinator: state.CombineMode}
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
	return Group{Combinator: state.CombineMode, Children: all}, nil
}

// splitKey splits a state key on its first separator: "entity.field" is a
// nested key, anything else is direct.
func splitKey(key string) (entity, field string, nested bool) {
	if i := strings.Index(key, "."); i >= 0 {
		return key[:i], key[i+1:], true
	}
	return "", key, false
}

// encodeValue converts one FilterValue into a wire node, or nil when the
// value contributes nothing.
func encodeValue(field string, value Value) (Node, error) {
	switch v := value.(type) {
	case Option:
		if len(v.SelectedValues) == 0 {
			return nil, nil
		}
		values := make([]any, len(v.SelectedValues))
		for i, s := range v.SelectedValues {
			values[i] = s
		}
		return NewIn(field, values), nil

	case Range:
		hasLower := v.LowerBound != nil
		hasUpper := v.UpperBound != nil
		switch {
		case hasLower && hasUpper:
			return Group{Combinator: CombineAnd, Children: []Node{
				Cmp{Op: OpGte, Field: field, Value: v.LowerBound},
				Cmp{Op: OpLte, Field: field, Value: v.UpperBound},
			}}, nil
		case hasLower:
			return Cmp{Op: OpGte, Field: field, Value: v.LowerBound}, nil
		case hasUpper:
			return Cmp{Op: OpLte, Field: field, Value: v.UpperBound}, nil
		}
		return nil, nil

	case Anchored:
		return nil, ErrAnchoredUnsupported
	}

	return nil, fmt.Errorf("unknown filter value type %T", value)
}

// Decode converts a wire filter tree into a STANDARD FilterState.
//
// The outer node determines the combine mode; a bare condition decodes as an
// implicit single-child AND. IN conditions become Options (later entries for
// the same field overwrite earlier ones), GTE/LTE pairs merge into Ranges,
// and Nested IN conditions become Options keyed "path.field". GTE/LTE inside
// Nested blocks are not decoded (known asymmetry with Encode). GT, LT and
// CONTAINS have no FilterState representation and are skipped.
func Decode(n Node) (*State, error) {
	if n == nil {
		return nil, nil
	}

	combinator := CombineAnd
	children := []Node{n}
	if group, ok := n.(Group); ok {
		if !group.Combinator.Valid() {
			return nil, fmt.Errorf("invalid combinator %q", group.Combinator)
		}
		if len(group.Children) == 0 {
			return nil, nil
		}
		combinator = group.Combinator
		children = group.Children
	}

	values := make(map[string]Value)
	for _, child := range children {
		if err := decodeChild(child, values); err != nil {
			return nil, err
		}
	}

	return &State{
		CombineMode: combinator,
		Kind:        KindStandard,
		Values:      values,
	}, nil
}

func decodeChild(n Node, values map[string]Value) error {
	switch node := n.(type) {
	case Group:
		// Encode wraps two-bound Ranges in an inner AND; flatten groups so
		// those bounds merge back into a single Range entry.
		for _, child := range node.Children {
			if err := decodeChild(child, values); err != nil {
				return err
			}
		}
		return nil

	case In:
		for _, field := range node.SortedFields() {
			values[field] = Option{
				SelectedValues: toStrings(node.Fields[field]),
				IsExclusion:    false,
			}
		}
		return nil

	case Cmp:
		switch node.Op {
		case OpGte, OpLte:
			mergeBound(values, node.Field, node.Op, node.Value)
		}
		// GT, LT, CONTAINS: no FilterState representation.
		return nil

	case Nested:
		if !node.Combinator.Valid() {
			return fmt.Errorf("nested %q: invalid combinator %q", node.Path, node.Combinator)
		}
		for _, child := range node.Children {
			in, ok := child.(In)
			if !ok {
				// Range and comparison conditions inside nested blocks are
				// not decoded.
				continue
			}
			for _, field := range in.SortedFields() {
				values[node.Path+"."+field] = Option{
					SelectedValues: toStrings(in.Fields[field]),
					IsExclusion:    false,
				}
			}
		}
		return nil
	}

	return fmt.Errorf("unknown filter node type %T", n)
}

// mergeBound updates an existing Range entry for the field or creates one.
func mergeBound(values map[string]Value, field string, op Operator, bound any) {
	existing, ok := values[field].(Range)
	if !ok {
		existing = Range{}
	}
	if op == OpGte {
		existing.LowerBound = bound
	} else {
		existing.UpperBound = bound
	}
	values[field] = existing
}

func toStrings(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}
