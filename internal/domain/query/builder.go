// Package query assembles the final GraphQL query text and variables from a
// composed filter tree. The selection set is fixed by configuration and does
// not depend on which fields were filtered.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cohortql/internal/core/apperror"
	"cohortql/internal/domain/filter"
	"cohortql/pkg/logger"
)

// Advisory validation limits.
const (
	maxQueryLength    = 10000
	maxContainsOps    = 3
	maxVariablesBytes = 5000
)

// SelectionEntry is one entry of the selection set: a scalar field when
// Fields is empty, otherwise a nested-entity sub-selection.
type SelectionEntry struct {
	Name   string   `yaml:"name" json:"name"`
	Fields []string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Config controls the emitted query shape.
type Config struct {
	// RootEntity is the top-level query field.
	RootEntity string `yaml:"root_entity" json:"rootEntity"`

	// Accessibility is passed through as the accessibility argument.
	Accessibility string `yaml:"accessibility" json:"accessibility"`

	// Limit is the page size (first argument).
	Limit int `yaml:"limit" json:"limit"`

	// Selection is the fixed selection set.
	Selection []SelectionEntry `yaml:"selection" json:"selection"`
}

// DefaultConfig returns the standard subject query shape.
func DefaultConfig() Config {
	return Config{
		RootEntity:    "subject",
		Accessibility: "accessible",
		Limit:         100,
		Selection: []SelectionEntry{
			{Name: "consortium"},
			{Name: "subject_submitter_id"},
			{Name: "sex"},
			{Name: "race"},
			{Name: "ethnicity"},
			{Name: "age_at_censor_status"},
			{Name: "tumor_assessments", Fields: []string{
				"tumor_site", "tumor_state", "tumor_classification", "age_at_tumor_assessment",
			}},
			{Name: "histologies", Fields: []string{"histology", "histology_grade"}},
			{Name: "disease_characteristics", Fields: []string{"diagnosis", "primary_site"}},
		},
	}
}

// Query is the builder output handed to an external execution client.
type Query struct {
	Text        string         `json:"query"`
	Variables   map[string]any `json:"variables"`
	Description string         `json:"description"`
}

// Builder renders queries per its config. Safe for concurrent use.
type Builder struct {
	cfg Config
	log *logger.Logger
}

// NewBuilder creates a query builder. Zero config fields fall back to the
// defaults.
func NewBuilder(cfg Config, log *logger.Logger) *Builder {
	def := DefaultConfig()
	if cfg.RootEntity == "" {
		cfg.RootEntity = def.RootEntity
	}
	if cfg.Accessibility == "" {
		cfg.Accessibility = def.Accessibility
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if len(cfg.Selection) == 0 {
		cfg.Selection = def.Selection
	}
	return &Builder{cfg: cfg, log: log.WithComponent("query")}
}

// Build renders the query for a filter tree. A nil tree produces a query
// without a filter argument and empty variables; a non-empty tree binds the
// serialized tree to the $filter variable, with CONTAINS string values
// decorated with SQL wildcards.
func (b *Builder) Build(ctx context.Context, tree filter.Node) (Query, error) {
	hasFilter := filter.CountConditions(tree) > 0

	variables := map[string]any{}
	if hasFilter {
		raw, err := filter.Marshal(decorateContains(tree))
		if err != nil {
			return Query{}, apperror.NewQueryGeneration("serialize filter tree").WithCause(err)
		}
		var clause any
		if err := json.Unmarshal(raw, &clause); err != nil {
			return Query{}, apperror.NewQueryGeneration("serialize filter tree").WithCause(err)
		}
		variables["filter"] = clause
	}

	q := Query{
		Text:        b.renderText(hasFilter),
		Variables:   variables,
		Description: describe(tree),
	}

	b.log.WithContext(ctx).Debugw("built query",
		"conditions", filter.CountConditions(tree),
		"hasFilter", hasFilter,
	)
	return q, nil
}

// renderText emits the query string; the filter argument appears only when a
// filter will be bound.
func (b *Builder) renderText(hasFilter bool) string {
	var sb strings.Builder

	sb.WriteString("query ($filter: JSON) {\n")
	fmt.Fprintf(&sb, "  %s(\n", b.cfg.RootEntity)
	fmt.Fprintf(&sb, "    accessibility: %s,\n", b.cfg.Accessibility)
	sb.WriteString("    offset: 0,\n")
	fmt.Fprintf(&sb, "    first: %d", b.cfg.Limit)
	if hasFilter {
		sb.WriteString(",\n    filter: $filter")
	}
	sb.WriteString("\n  ) {\n")

	for _, entry := range b.cfg.Selection {
		if len(entry.Fields) == 0 {
			fmt.Fprintf(&sb, "    %s\n", entry.Name)
			continue
		}
		fmt.Fprintf(&sb, "    %s {\n", entry.Name)
		for _, field := range entry.Fields {
			fmt.Fprintf(&sb, "      %s\n", field)
		}
		sb.WriteString("    }\n")
	}

	sb.WriteString("  }\n")
	sb.WriteString("}")
	return sb.String()
}

// decorateContains wraps string CONTAINS values in SQL wildcards unless the
// value already carries one. Other nodes pass through unchanged.
func decorateContains(n filter.Node) filter.Node {
	switch node := n.(type) {
	case filter.Group:
		children := make([]filter.Node, len(node.Children))
		for i, child := range node.Children {
			children[i] = decorateContains(child)
		}
		return filter.Group{Combinator: node.Combinator, Children: children}

	case filter.Cmp:
		if node.Op == filter.OpContains {
			if s, ok := node.Value.(string); ok && !strings.Contains(s, "%") {
				node.Value = "%" + s + "%"
			}
		}
		return node

	case filter.Nested:
		children := make([]filter.Node, len(node.Children))
		for i, child := range node.Children {
			children[i] = decorateContains(child)
		}
		return filter.Nested{Path: node.Path, Combinator: node.Combinator, Children: children}
	}
	return n
}

// ValidateQuery flags patterns that may hurt execution: over-long query text,
// heavy text-search usage, oversized variables. Advisory only, never blocks
// emission.
func (b *Builder) ValidateQuery(q Query) []string {
	var warnings []string

	if len(q.Text) > maxQueryLength {
		warnings = append(warnings, "query is very long and may impact performance")
	}

	raw, err := json.Marshal(q.Variables)
	if err != nil {
		warnings = append(warnings, "query variables are not serializable")
		return warnings
	}

	if count := strings.Count(string(raw), `"`+string(filter.OpContains)+`"`); count > maxContainsOps {
		warnings = append(warnings, fmt.Sprintf("query contains %d text search operations which may be slow", count))
	}

	if len(raw) > maxVariablesBytes {
		warnings = append(warnings, "query variables are very large")
	}

	return warnings
}

// describe renders a human-readable summary of a filter tree, e.g.
// "Cases where Sex is one of 'Male' and Race is one of 'Asian'".
func describe(n filter.Node) string {
	parts, joiner := describeNode(n)
	if len(parts) == 0 {
		return "Query for all cases (no filters applied)"
	}
	return "Cases where " + strings.Join(parts, " "+joiner+" ")
}

func describeNode(n filter.Node) (parts []string, joiner string) {
	joiner = "and"

	switch node := n.(type) {
	case nil:
		return nil, joiner

	case filter.Group:
		if node.Combinator == filter.CombineOr {
			joiner = "or"
		}
		for _, child := range node.Children {
			childParts, _ := describeNode(child)
			parts = append(parts, childParts...)
		}
		return parts, joiner

	case filter.In:
		for _, field := range node.SortedFields() {
			parts = append(parts, fmt.Sprintf("%s is one of %s",
				humanizeField(field), describeValues(node.Fields[field])))
		}
		return parts, joiner

	case filter.Cmp:
		parts = append(parts, fmt.Sprintf("%s %s '%v'",
			humanizeField(node.Field), operatorPhrase(node.Op), node.Value))
		return parts, joiner

	case filter.Nested:
		for _, child := range node.Children {
			childParts, _ := describeNode(child)
			parts = append(parts, childParts...)
		}
		return parts, joiner
	}
	return nil, joiner
}

func operatorPhrase(op filter.Operator) string {
	switch op {
	case filter.OpGte:
		return "is greater than or equal to"
	case filter.OpLte:
		return "is less than or equal to"
	case filter.OpGt:
		return "is greater than"
	case filter.OpLt:
		return "is less than"
	case filter.OpContains:
		return "contains"
	}
	return "matches"
}

// humanizeField renders the last path segment in title case.
func humanizeField(field string) string {
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	words := strings.Split(field, "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

func describeValues(values []any) string {
	switch len(values) {
	case 0:
		return "''"
	case 1:
		return fmt.Sprintf("'%v'", values[0])
	case 2, 3:
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = fmt.Sprintf("'%v'", v)
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	}
	return fmt.Sprintf("['%v', '%v' and %d others]", values[0], values[1], len(values)-2)
}
