// Package resolve deterministically picks one catalog field per ambiguous
// term using scoring heuristics, and carries the chosen value and operator
// forward to filter composition.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cohortql/internal/catalog"
	"cohortql/pkg/logger"
)

// Scoring boosts applied when a term has multiple candidate fields.
const (
	boostPathSubstring  = 0.10 // term appears in the field path
	boostEnumField      = 0.05 // enumeration fields are more specific
	boostHasDescription = 0.02
	boostEnumValueMatch = 0.15 // term matches an enum value substring
	conflictPenalty     = 0.9  // applied to the winner of any conflict
)

// ResolvedField is one disambiguated term mapping.
type ResolvedField struct {
	Term       string            `json:"term"`
	FieldPath  string            `json:"fieldPath"`
	FieldType  catalog.FieldType `json:"fieldType"`
	Value      any               `json:"value"`
	Operator   string            `json:"operator"`
	Confidence float64           `json:"confidence"`
}

// Conflict is the audit record emitted whenever a term had more than one
// candidate, regardless of how confidently it was resolved.
type Conflict struct {
	ID         string   `json:"id"`
	Term       string   `json:"term"`
	Candidates []string `json:"candidates"`
	Chosen     string   `json:"chosen"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
}

// Result holds the resolver output for one batch of candidates.
type Result struct {
	Resolved  []ResolvedField `json:"resolved"`
	Conflicts []Conflict      `json:"conflicts"`
	Warnings  []string        `json:"warnings"`
}

// Resolver applies rule-based conflict resolution.
type Resolver struct {
	log *logger.Logger
}

// NewResolver creates a rule-based resolver.
func NewResolver(log *logger.Logger) *Resolver {
	return &Resolver{log: log.WithComponent("resolve")}
}

// Resolve groups candidates by term and picks one field per term. Terms
// that matched nothing are passed through as warnings.
func (r *Resolver) Resolve(ctx context.Context, candidates []catalog.Candidate, unmatched []string) (Result, error) {
	terms, groups := groupByTerm(candidates)

	result := Result{}
	for _, term := range terms {
		group := groups[term]
		if len(group) == 1 {
			result.Resolved = append(result.Resolved, r.acceptSingle(group[0]))
			continue
		}

		resolved, conflict := r.resolveConflict(ctx, term, group)
		result.Resolved = append(result.Resolved, resolved)
		result.Conflicts = append(result.Conflicts, conflict)
	}

	for _, term := range unmatched {
		result.Warnings = append(result.Warnings, fmt.Sprintf("no catalog field matched term %q", term))
	}

	return result, nil
}

// acceptSingle accepts an unambiguous candidate unchanged.
func (r *Resolver) acceptSingle(c catalog.Candidate) ResolvedField {
	return ResolvedField{
		Term:       c.Term,
		FieldPath:  c.Field.Path,
		FieldType:  c.Field.Type,
		Value:      c.Term,
		Operator:   DefaultOperator(c.Field.Type),
		Confidence: c.MatchScore,
	}
}

// resolveConflict scores every candidate and picks the best, applying the
// fixed conflict penalty to the final confidence.
func (r *Resolver) resolveConflict(ctx context.Context, term string, group []catalog.Candidate) (ResolvedField, Conflict) {
	best := group[0]
	bestScore := -1.0

	for _, c := range group {
		score := r.scoreCandidate(term, c)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}

	confidence := bestScore * conflictPenalty
	if confidence > 1.0 {
		confidence = 1.0
	}

	value := any(term)
	if best.Field.IsEnum() {
		value = r.bestEnumValue(ctx, term, best.Field)
	}

	paths := make([]string, len(group))
	for i, c := range group {
		paths[i] = c.Field.Path
	}

	resolved := ResolvedField{
		Term:       term,
		FieldPath:  best.Field.Path,
		FieldType:  best.Field.Type,
		Value:      value,
		Operator:   DefaultOperator(best.Field.Type),
		Confidence: confidence,
	}

	conflict := Conflict{
		ID:         uuid.New().String(),
		Term:       term,
		Candidates: paths,
		Chosen:     best.Field.Path,
		Reason:     fmt.Sprintf("highest score (%.3f) using rule-based heuristics", bestScore),
		Confidence: confidence,
	}

	return resolved, conflict
}

// scoreCandidate applies the heuristic boosts on top of the match score.
func (r *Resolver) scoreCandidate(term string, c catalog.Candidate) float64 {
	score := c.MatchScore
	termLower := strings.ToLower(term)

	if strings.Contains(strings.ToLower(c.Field.Path), termLower) {
		score += boostPathSubstring
	}
	if c.Field.IsEnum() {
		score += boostEnumField
	}
	if c.Field.Description != "" {
		score += boostHasDescription
	}
	if matchesEnumValue(termLower, c.Field.EnumValues) {
		score += boostEnumValueMatch
	}

	return score
}

// matchesEnumValue checks the term against enum values as a substring in
// either direction.
func matchesEnumValue(termLower string, enumValues []string) bool {
	for _, ev := range enumValues {
		evLower := strings.ToLower(ev)
		if strings.Contains(evLower, termLower) || strings.Contains(termLower, evLower) {
			return true
		}
	}
	return false
}

// bestEnumValue picks the catalog enum value for a term: exact
// case-insensitive match, then bidirectional substring, then the field's
// first enum value.
//
// The first-value fallback mirrors the historical behavior and is likely
// wrong for terms that match nothing; it is kept pending a product decision
// on drop-vs-escalate and logged loudly in the meantime.
func (r *Resolver) bestEnumValue(ctx context.Context, term string, field catalog.Field) string {
	if len(field.EnumValues) == 0 {
		return term
	}

	termLower := strings.ToLower(term)

	for _, ev := range field.EnumValues {
		if strings.ToLower(ev) == termLower {
			return ev
		}
	}

	for _, ev := range field.EnumValues {
		evLower := strings.ToLower(ev)
		if strings.Contains(evLower, termLower) || strings.Contains(termLower, evLower) {
			return ev
		}
	}

	r.log.WithContext(ctx).Warnw("no enum value matched term, falling back to first value",
		"term", term,
		"field", field.Path,
		"fallback", field.EnumValues[0],
	)
	return field.EnumValues[0]
}

// DefaultOperator returns the filter operator for a field type.
func DefaultOperator(t catalog.FieldType) string {
	switch t {
	case catalog.TypeEnumeration, catalog.TypeNumber, catalog.TypeDate, catalog.TypeBoolean:
		return "eq"
	case catalog.TypeString:
		return "contains"
	}
	return "contains"
}

// groupByTerm groups candidates by term, preserving first-seen term order.
func groupByTerm(candidates []catalog.Candidate) ([]string, map[string][]catalog.Candidate) {
	var order []string
	groups := make(map[string][]catalog.Candidate)
	for _, c := range candidates {
		if _, ok := groups[c.Term]; !ok {
			order = append(order, c.Term)
		}
		groups[c.Term] = append(groups[c.Term], c)
	}
	return order, groups
}
