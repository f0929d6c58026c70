package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortql/internal/core/apperror"
	"cohortql/internal/domain/filter"
	"cohortql/pkg/logger"
)

func buildTestValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(buildTestIndex(t), logger.Default())
}

func TestValidator_ValidatePathSyntax(t *testing.T) {
	v := buildTestValidator(t)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "bare field", path: "sex"},
		{name: "nested field", path: "tumor_assessments.tumor_site"},
		{name: "empty", path: "", wantErr: true},
		{name: "double nesting", path: "a.b.c", wantErr: true},
		{name: "uppercase", path: "Sex", wantErr: true},
		{name: "leading digit", path: "1sex", wantErr: true},
		{name: "trailing dot", path: "sex.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePathSyntax(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateFieldPath(t *testing.T) {
	v := buildTestValidator(t)
	ctx := context.Background()

	ok, err := v.ValidateFieldPath(ctx, "race")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.ValidateFieldPath(ctx, "unknown_field")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidator_NormalizeEnumerationValue(t *testing.T) {
	v := buildTestValidator(t)
	ctx := context.Background()

	// Case-insensitive match returns the catalog's canonical casing.
	canonical, err := v.NormalizeEnumerationValue(ctx, "consortium", "instruct")
	require.NoError(t, err)
	assert.Equal(t, "INSTRuCT", canonical)

	_, err = v.NormalizeEnumerationValue(ctx, "consortium", "NOPE")
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))

	// Non-enumeration fields pass values through.
	canonical, err = v.NormalizeEnumerationValue(ctx, "clinical_notes", "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", canonical)
}

func TestValidator_ValidateEnumerationValues(t *testing.T) {
	v := buildTestValidator(t)

	valid, invalid, err := v.ValidateEnumerationValues(context.Background(), "sex",
		[]string{"male", "FEMALE", "other"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Male", "Female"}, valid)
	assert.Equal(t, []string{"other"}, invalid)
}

func TestValidator_SuggestEnumerationValues(t *testing.T) {
	v := buildTestValidator(t)

	// Prefix matches rank ahead of fuzzy-only suggestions.
	suggestions, err := v.SuggestEnumerationValues(context.Background(), "sex", "mal", 5)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "Male", suggestions[0])
}

func TestValidator_SuggestEnumerationValues_Limit(t *testing.T) {
	v := buildTestValidator(t)

	suggestions, err := v.SuggestEnumerationValues(context.Background(), "consortium", "in", 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(suggestions), 1)
}

func TestValidator_ValidateFieldValueType(t *testing.T) {
	v := buildTestValidator(t)

	enum := Field{Path: "sex", Type: TypeEnumeration, EnumValues: []string{"Male", "Female"}}
	number := Field{Path: "age_at_censor_status", Type: TypeNumber}
	boolean := Field{Path: "alive", Type: TypeBoolean}
	date := Field{Path: "date_of_diagnosis", Type: TypeDate}
	text := Field{Path: "clinical_notes", Type: TypeString}

	tests := []struct {
		name  string
		field Field
		value any
		want  bool
	}{
		{name: "enum member", field: enum, value: "Male", want: true},
		{name: "enum member ci", field: enum, value: "female", want: true},
		{name: "enum non-member string", field: enum, value: "Martian", want: false},
		{name: "enum non-string", field: enum, value: 3, want: false},

		{name: "number int", field: number, value: 42, want: true},
		{name: "number float", field: number, value: 41.5, want: true},
		{name: "number numeric string", field: number, value: "42", want: true},
		{name: "number decimal string", field: number, value: " 41.5 ", want: true},
		{name: "number non-numeric string", field: number, value: "not a number", want: false},
		{name: "number bool", field: number, value: true, want: false},

		{name: "bool native", field: boolean, value: true, want: true},
		{name: "bool word", field: boolean, value: "yes", want: true},
		{name: "bool word no", field: boolean, value: "No", want: true},
		{name: "bool gibberish", field: boolean, value: "banana", want: false},
		{name: "bool int", field: boolean, value: 1, want: false},

		{name: "date iso", field: date, value: "2020-06-01", want: true},
		{name: "date rfc3339", field: date, value: "2020-06-01T00:00:00Z", want: true},
		{name: "date gibberish", field: date, value: "someday", want: false},
		{name: "date int", field: date, value: 20200601, want: false},

		{name: "string any text", field: text, value: "anything at all", want: true},
		{name: "string non-string", field: text, value: 5, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.ValidateFieldValueType(tt.field, tt.value))
		})
	}
}

func TestValidator_ValidateFilter_CollectsAllViolations(t *testing.T) {
	v := buildTestValidator(t)

	tree := filter.Group{Combinator: filter.CombineAnd, Children: []filter.Node{
		filter.NewIn("sex", []any{"Martian"}),
		filter.NewIn("unknown_field", []any{"x"}),
		filter.Cmp{Op: filter.OpGte, Field: "clinical_notes", Value: 5},
	}}

	violations, err := v.ValidateFilter(context.Background(), tree)
	require.NoError(t, err)

	// All three problems reported in one pass, not just the first.
	require.Len(t, violations, 3)
}

func TestValidator_ValidateFilter_Nested(t *testing.T) {
	v := buildTestValidator(t)

	tree := filter.Nested{
		Path:       "tumor_assessments",
		Combinator: filter.CombineAnd,
		Children: []filter.Node{
			filter.NewIn("tumor_site", []any{"Lung"}),
		},
	}

	violations, err := v.ValidateFilter(context.Background(), tree)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestValidator_ValidateFilter_ValidTree(t *testing.T) {
	v := buildTestValidator(t)

	tree := filter.Group{Combinator: filter.CombineAnd, Children: []filter.Node{
		filter.NewIn("race", []any{"Asian"}),
		filter.Cmp{Op: filter.OpLte, Field: "age_at_censor_status", Value: 6570},
	}}

	violations, err := v.ValidateFilter(context.Background(), tree)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
