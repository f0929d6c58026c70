// Package filter models the wire filter grammar as an explicit tagged union
// and provides the bidirectional codec between that grammar and the flat
// FilterState representation used by UI layers.
//
// Wire grammar:
//
//	Filter := AND(Filter[]) | OR(Filter[]) | IN(field -> values[])
//	        | GTE(field -> value) | LTE(field -> value)
//	        | GT(field -> value) | LT(field -> value)
//	        | CONTAINS(field -> value)
//	        | Nested(path, AND|OR, Filter[])
package filter

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Combinator joins sibling conditions.
type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// Valid reports whether the combinator is AND or OR.
func (c Combinator) Valid() bool {
	return c == CombineAnd || c == CombineOr
}

// Operator is a leaf comparison operator.
type Operator string

const (
	OpIn       Operator = "IN"
	OpGte      Operator = "GTE"
	OpLte      Operator = "LTE"
	OpGt       Operator = "GT"
	OpLt       Operator = "LT"
	OpContains Operator = "CONTAINS"
)

// Node is one node of a filter tree. Implementations: Group, In, Cmp,
// Nested. A nil Node is the empty filter (matches everything).
type Node interface {
	json.Marshaler
	isNode()
}

// Group combines child filters with AND or OR.
type Group struct {
	Combinator Combinator
	Children   []Node
}

// In selects rows whose field value is in the given list. Multiple fields
// in one In node are permitted by the wire grammar.
type In struct {
	Fields map[string][]any // field -> values
}

// Cmp is a single-field comparison (GTE, LTE, GT, LT, CONTAINS).
type Cmp struct {
	Op    Operator
	Field string
	Value any
}

// Nested scopes child conditions to a related sub-entity. Children reference
// only fields local to that entity; there is no second nesting level.
type Nested struct {
	Path       string
	Combinator Combinator
	Children   []Node
}

func (Group) isNode()  {}
func (In) isNode()     {}
func (Cmp) isNode()    {}
func (Nested) isNode() {}

// NewIn builds a single-field In node.
func NewIn(field string, values []any) In {
	return In{Fields: map[string][]any{field: values}}
}

// MarshalJSON renders {"AND": [...]} / {"OR": [...]}.
func (g Group) MarshalJSON() ([]byte, error) {
	children, err := marshalChildren(g.Children)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{string(g.Combinator): children})
}

// MarshalJSON renders {"IN": {"field": [...]}}.
func (n In) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string][]any{string(OpIn): n.Fields})
}

// MarshalJSON renders {"GTE": {"field": value}} and friends.
func (c Cmp) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string]any{string(c.Op): {c.Field: c.Value}})
}

// MarshalJSON renders {"nested": {"path": p, "AND": [...]}}.
func (n Nested) MarshalJSON() ([]byte, error) {
	children, err := marshalChildren(n.Children)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]map[string]json.RawMessage{
		"nested": {
			"path":                jsonString(n.Path),
			string(n.Combinator): children,
		},
	})
}

func marshalChildren(children []Node) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(children))
	for _, child := range children {
		b, err := json.Marshal(child)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// Marshal serializes a tree to wire JSON. A nil node marshals to null.
func Marshal(n Node) ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	return json.Marshal(n)
}

// Parse deserializes wire JSON into a typed tree. Input is validated
// strictly: every filter object must have exactly one key and that key must
// be a known operator, combinator or "nested". Malformed input is rejected
// rather than guessed at.
func Parse(data []byte) (Node, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid filter JSON: %w", err)
	}
	return parseNode(raw)
}

func parseNode(raw json.RawMessage) (Node, error) {
	if string(raw) == "null" {
		return nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("filter node must be an object: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("filter node must have exactly one key, got %d", len(obj))
	}

	var key string
	var value json.RawMessage
	for k, v := range obj {
		key, value = k, v
	}

	switch key {
	case string(CombineAnd), string(CombineOr):
		children, err := parseChildren(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return Group{Combinator: Combinator(key), Children: children}, nil

	case string(OpIn):
		var fields map[string][]any
		if err := json.Unmarshal(value, &fields); err != nil {
			return nil, fmt.Errorf("IN value must map fields to value lists: %w", err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("IN node has no fields")
		}
		return In{Fields: fields}, nil

	case string(OpGte), string(OpLte), string(OpGt), string(OpLt), string(OpContains):
		var fields map[string]any
		if err := json.Unmarshal(value, &fields); err != nil {
			return nil, fmt.Errorf("%s value must map a field to a value: %w", key, err)
		}
		if len(fields) != 1 {
			return nil, fmt.Errorf("%s node must have exactly one field, got %d", key, len(fields))
		}
		var cmp Cmp
		cmp.Op = Operator(key)
		for f, v := range fields {
			cmp.Field, cmp.Value = f, v
		}
		return cmp, nil

	case "nested":
		return parseNested(value)
	}

	return nil, fmt.Errorf("unknown filter key %q", key)
}

func parseNested(raw json.RawMessage) (Node, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("nested value must be an object: %w", err)
	}

	pathRaw, ok := obj["path"]
	if !ok {
		return nil, fmt.Errorf("nested node missing path")
	}
	var path string
	if err := json.Unmarshal(pathRaw, &path); err != nil {
		return nil, fmt.Errorf("nested path must be a string: %w", err)
	}

	var combinator Combinator
	var childrenRaw json.RawMessage
	for key, value := range obj {
		if Combinator(key).Valid() {
			if combinator != "" {
				return nil, fmt.Errorf("nested node %q has multiple combinators", path)
			}
			combinator = Combinator(key)
			childrenRaw = value
		} else if key != "path" {
			return nil, fmt.Errorf("unknown nested key %q", key)
		}
	}
	if combinator == "" {
		return nil, fmt.Errorf("nested node %q missing AND/OR children", path)
	}

	children, err := parseChildren(childrenRaw)
	if err != nil {
		return nil, fmt.Errorf("nested %q: %w", path, err)
	}

	return Nested{Path: path, Combinator: combinator, Children: children}, nil
}

func parseChildren(raw json.RawMessage) ([]Node, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("combinator value must be an array: %w", err)
	}

	children := make([]Node, 0, len(items))
	for i, item := range items {
		child, err := parseNode(item)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children, nil
}

// SortedFields returns an In node's field names in deterministic order.
func (n In) SortedFields() []string {
	fields := make([]string, 0, len(n.Fields))
	for f := range n.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// CountConditions returns the number of leaf conditions in the tree.
func CountConditions(n Node) int {
	switch node := n.(type) {
	case nil:
		return 0
	case Group:
		total := 0
		for _, child := range node.Children {
			total += CountConditions(child)
		}
		return total
	case In:
		return len(node.Fields)
	case Cmp:
		return 1
	case Nested:
		total := 0
		for _, child := range node.Children {
			total += CountConditions(child)
		}
		return total
	}
	return 0
}

// CountOperator returns the number of leaf conditions using the operator.
func CountOperator(n Node, op Operator) int {
	switch node := n.(type) {
	case nil:
		return 0
	case Group:
		total := 0
		for _, child := range node.Children {
			total += CountOperator(child, op)
		}
		return total
	case In:
		if op == OpIn {
			return len(node.Fields)
		}
		return 0
	case Cmp:
		if node.Op == op {
			return 1
		}
		return 0
	case Nested:
		total := 0
		for _, child := range node.Children {
			total += CountOperator(child, op)
		}
		return total
	}
	return 0
}
