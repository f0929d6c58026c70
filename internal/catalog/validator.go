package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cohortql/internal/core/apperror"
	"cohortql/internal/domain/filter"
	"cohortql/pkg/logger"
)

// pathSyntax accepts lowercase snake_case segments with at most one
// nesting level.
var pathSyntax = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)?$`)

// suggestThreshold is the minimum similarity for fuzzy value suggestions.
// Deliberately looser than the index search threshold: suggestions are
// advisory, search results are binding.
const suggestThreshold = 0.6

// Validator checks field paths and values against the indexed catalog.
// All methods are read-only over the index snapshot and safe for concurrent
// use.
type Validator struct {
	index *Index
	log   *logger.Logger
}

// NewValidator creates a validator over the given index.
func NewValidator(index *Index, log *logger.Logger) *Validator {
	return &Validator{
		index: index,
		log:   log.WithComponent("catalog.validator"),
	}
}

// ValidatePathSyntax checks the shape of a field path without consulting the
// catalog: non-empty, snake_case segments, at most one nesting level.
func (v *Validator) ValidatePathSyntax(path string) error {
	if path == "" {
		return apperror.NewInvalidInput("field path is empty")
	}
	if !pathSyntax.MatchString(path) {
		return apperror.NewInvalidInput(fmt.Sprintf("malformed field path %q", path))
	}
	return nil
}

// ValidateFieldPath reports whether the path names a catalog field.
func (v *Validator) ValidateFieldPath(ctx context.Context, path string) (bool, error) {
	_, ok, err := v.index.FieldByPath(ctx, path)
	return ok, err
}

// FieldInfo returns the catalog field for a path, or a not-found error.
func (v *Validator) FieldInfo(ctx context.Context, path string) (Field, error) {
	field, ok, err := v.index.FieldByPath(ctx, path)
	if err != nil {
		return Field{}, err
	}
	if !ok {
		return Field{}, apperror.NewNotFound(fmt.Sprintf("field %q not in catalog", path))
	}
	return field, nil
}

// EnumerationValues returns the valid values of an enumeration field.
// Non-enumeration fields yield an empty slice, not an error.
func (v *Validator) EnumerationValues(ctx context.Context, path string) ([]string, error) {
	field, err := v.FieldInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	return field.EnumValues, nil
}

// ValidateEnumerationValue reports whether value is a valid value for the
// enumeration field, comparing case-insensitively. For non-enumeration
// fields every value is valid.
func (v *Validator) ValidateEnumerationValue(ctx context.Context, path, value string) (bool, error) {
	field, err := v.FieldInfo(ctx, path)
	if err != nil {
		return false, err
	}
	if !field.IsEnum() {
		return true, nil
	}
	return normalizeEnum(field, value) != "", nil
}

// NormalizeEnumerationValue maps a case-insensitive value to the catalog's
// canonical casing. Unknown values return a not-found error.
func (v *Validator) NormalizeEnumerationValue(ctx context.Context, path, value string) (string, error) {
	field, err := v.FieldInfo(ctx, path)
	if err != nil {
		return "", err
	}
	if !field.IsEnum() {
		return value, nil
	}
	if canonical := normalizeEnum(field, value); canonical != "" {
		return canonical, nil
	}
	return "", apperror.NewNotFound(fmt.Sprintf("value %q is not valid for field %q", value, path))
}

// ValidateEnumerationValues checks a batch of values against one enumeration
// field and partitions them into valid (canonical casing) and invalid.
func (v *Validator) ValidateEnumerationValues(ctx context.Context, path string, values []string) (valid, invalid []string, err error) {
	field, err := v.FieldInfo(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if !field.IsEnum() {
		return values, nil, nil
	}

	for _, value := range values {
		if canonical := normalizeEnum(field, value); canonical != "" {
			valid = append(valid, canonical)
		} else {
			invalid = append(invalid, value)
		}
	}
	return valid, invalid, nil
}

// SuggestEnumerationValues returns up to limit enum values resembling the
// given value: prefix matches first, then fuzzy matches by similarity.
func (v *Validator) SuggestEnumerationValues(ctx context.Context, path, value string, limit int) ([]string, error) {
	field, err := v.FieldInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if !field.IsEnum() || limit <= 0 {
		return nil, nil
	}

	valueLower := strings.ToLower(strings.TrimSpace(value))

	var suggestions []string
	seen := make(map[string]bool)

	for _, ev := range field.EnumValues {
		if strings.HasPrefix(strings.ToLower(ev), valueLower) {
			suggestions = append(suggestions, ev)
			seen[ev] = true
		}
	}

	type scored struct {
		value string
		sim   float64
	}
	var fuzzy []scored
	for _, ev := range field.EnumValues {
		if seen[ev] {
			continue
		}
		if sim := Similarity(valueLower, ev); sim >= suggestThreshold {
			fuzzy = append(fuzzy, scored{value: ev, sim: sim})
		}
	}
	sort.Slice(fuzzy, func(i, j int) bool {
		if fuzzy[i].sim != fuzzy[j].sim {
			return fuzzy[i].sim > fuzzy[j].sim
		}
		return fuzzy[i].value < fuzzy[j].value
	})
	for _, s := range fuzzy {
		suggestions = append(suggestions, s.value)
	}

	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// booleanWords are the string spellings accepted for boolean fields.
var booleanWords = map[string]bool{
	"true": true, "false": true,
	"yes": true, "no": true,
	"1": true, "0": true,
	"y": true, "n": true,
}

// dateLayouts accepted for date fields given as text.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// ValidateFieldValueType reports whether a value is plausible for the
// field's type. Upstream values usually arrive as text, so strings are
// checked per type rather than blanket-accepted: enum membership, numeric
// parse, boolean spelling, date layout.
func (v *Validator) ValidateFieldValueType(field Field, value any) bool {
	if s, ok := value.(string); ok {
		return v.stringMatchesType(field, s)
	}

	switch field.Type {
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeEnumeration, TypeString, TypeDate:
		return false
	}
	return true
}

func (v *Validator) stringMatchesType(field Field, s string) bool {
	switch field.Type {
	case TypeEnumeration:
		return normalizeEnum(field, s) != ""
	case TypeNumber:
		_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return err == nil
	case TypeBoolean:
		return booleanWords[strings.ToLower(strings.TrimSpace(s))]
	case TypeDate:
		trimmed := strings.TrimSpace(s)
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, trimmed); err == nil {
				return true
			}
		}
		return false
	case TypeString:
		return true
	}
	return true
}

// Violation is one problem found while validating a filter tree.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (fv Violation) String() string {
	return fmt.Sprintf("%s: %s", fv.Path, fv.Message)
}

// ValidateFilter walks a filter tree and collects every violation: unknown
// field paths, invalid enumeration values, range operators on non-orderable
// fields. It never stops at the first problem so a caller can report all of
// them at once.
func (v *Validator) ValidateFilter(ctx context.Context, n filter.Node) ([]Violation, error) {
	var violations []Violation
	if err := v.walkFilter(ctx, n, "", &violations); err != nil {
		return nil, err
	}
	return violations, nil
}

func (v *Validator) walkFilter(ctx context.Context, n filter.Node, prefix string, out *[]Violation) error {
	switch node := n.(type) {
	case nil:
		return nil

	case filter.Group:
		for _, child := range node.Children {
			if err := v.walkFilter(ctx, child, prefix, out); err != nil {
				return err
			}
		}
		return nil

	case filter.In:
		for _, field := range node.SortedFields() {
			if err := v.checkInCondition(ctx, prefix+field, node.Fields[field], out); err != nil {
				return err
			}
		}
		return nil

	case filter.Cmp:
		return v.checkCmpCondition(ctx, prefix+node.Field, node, out)

	case filter.Nested:
		for _, child := range node.Children {
			if err := v.walkFilter(ctx, child, node.Path+".", out); err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("unknown filter node type %T", n)
}

func (v *Validator) checkInCondition(ctx context.Context, path string, values []any, out *[]Violation) error {
	field, ok, err := v.index.FieldByPath(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		*out = append(*out, Violation{Path: path, Message: "field not in catalog"})
		return nil
	}
	if !field.IsEnum() {
		return nil
	}

	for _, value := range values {
		s, isString := value.(string)
		if !isString {
			s = fmt.Sprintf("%v", value)
		}
		if normalizeEnum(field, s) == "" {
			*out = append(*out, Violation{
				Path:    path,
				Message: fmt.Sprintf("value %q is not a valid enumeration value", s),
			})
		}
	}
	return nil
}

func (v *Validator) checkCmpCondition(ctx context.Context, path string, node filter.Cmp, out *[]Violation) error {
	field, ok, err := v.index.FieldByPath(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		*out = append(*out, Violation{Path: path, Message: "field not in catalog"})
		return nil
	}

	switch node.Op {
	case filter.OpGte, filter.OpLte, filter.OpGt, filter.OpLt:
		if field.Type != TypeNumber && field.Type != TypeDate {
			*out = append(*out, Violation{
				Path:    path,
				Message: fmt.Sprintf("%s requires a number or date field, got %s", node.Op, field.Type),
			})
		}
	case filter.OpContains:
		if field.Type != TypeString {
			*out = append(*out, Violation{
				Path:    path,
				Message: fmt.Sprintf("CONTAINS requires a string field, got %s", field.Type),
			})
		}
	}
	return nil
}

// normalizeEnum returns the canonical casing for a value, or "" when the
// value is not a member of the enumeration.
func normalizeEnum(field Field, value string) string {
	valueLower := strings.ToLower(strings.TrimSpace(value))
	for _, ev := range field.EnumValues {
		if strings.ToLower(ev) == valueLower {
			return ev
		}
	}
	return ""
}
