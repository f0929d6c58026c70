package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortql/internal/catalog"
	"cohortql/internal/domain/filter"
	"cohortql/internal/domain/resolve"
	"cohortql/pkg/logger"
)

func newTestComposer() *Composer {
	return NewComposer(logger.Default())
}

func composeJSON(t *testing.T, fields []resolve.ResolvedField, combinator filter.Combinator) string {
	t.Helper()
	node, err := newTestComposer().Compose(context.Background(), fields, combinator)
	require.NoError(t, err)
	got, err := filter.Marshal(node)
	require.NoError(t, err)
	return string(got)
}

func TestCompose_Empty(t *testing.T) {
	node, err := newTestComposer().Compose(context.Background(), nil, filter.CombineAnd)
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestCompose_SingleEnumListWrapped(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "male", FieldPath: "sex", FieldType: catalog.TypeEnumeration, Value: "Male", Operator: "eq"},
	}, filter.CombineAnd)

	// Scalar enum equality becomes the list-wrapped IN form, unwrapped from
	// any combinator.
	assert.JSONEq(t, `{"IN":{"sex":["Male"]}}`, got)
}

func TestCompose_TwoConditionsCombined(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "inrg", FieldPath: "consortium", FieldType: catalog.TypeEnumeration, Value: []any{"INRG"}, Operator: "in"},
		{Term: "asian", FieldPath: "race", FieldType: catalog.TypeEnumeration, Value: "Asian", Operator: "eq"},
	}, filter.CombineAnd)

	assert.JSONEq(t, `{"AND":[{"IN":{"consortium":["INRG"]}},{"IN":{"race":["Asian"]}}]}`, got)
}

func TestCompose_OrCombinator(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "male", FieldPath: "sex", FieldType: catalog.TypeEnumeration, Value: "Male", Operator: "eq"},
		{Term: "asian", FieldPath: "race", FieldType: catalog.TypeEnumeration, Value: "Asian", Operator: "eq"},
	}, filter.CombineOr)

	assert.JSONEq(t, `{"OR":[{"IN":{"sex":["Male"]}},{"IN":{"race":["Asian"]}}]}`, got)
}

func TestCompose_NestedFieldsGroupedPerEntity(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "lung", FieldPath: "tumor_assessments.tumor_site", FieldType: catalog.TypeEnumeration, Value: "Lung", Operator: "eq"},
		{Term: "metastatic", FieldPath: "tumor_assessments.tumor_state", FieldType: catalog.TypeEnumeration, Value: "Metastatic", Operator: "eq"},
		{Term: "male", FieldPath: "sex", FieldType: catalog.TypeEnumeration, Value: "Male", Operator: "eq"},
	}, filter.CombineAnd)

	// One Nested node per entity; its children always combine with AND.
	assert.JSONEq(t, `{"AND":[
		{"IN":{"sex":["Male"]}},
		{"nested":{"path":"tumor_assessments","AND":[
			{"IN":{"tumor_site":["Lung"]}},
			{"IN":{"tumor_state":["Metastatic"]}}
		]}}
	]}`, got)
}

func TestCompose_NestedChildrenAlwaysAnd(t *testing.T) {
	// Even under an OR sibling combinator, conditions inside one entity
	// stay AND-joined.
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "lung", FieldPath: "tumor_assessments.tumor_site", FieldType: catalog.TypeEnumeration, Value: "Lung", Operator: "eq"},
		{Term: "metastatic", FieldPath: "tumor_assessments.tumor_state", FieldType: catalog.TypeEnumeration, Value: "Metastatic", Operator: "eq"},
	}, filter.CombineOr)

	assert.JSONEq(t, `{"nested":{"path":"tumor_assessments","AND":[
		{"IN":{"tumor_site":["Lung"]}},
		{"IN":{"tumor_state":["Metastatic"]}}
	]}}`, got)
}

func TestCompose_RangeOperators(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "age", FieldPath: "age_at_censor_status", FieldType: catalog.TypeNumber, Value: "6570", Operator: "lte"},
	}, filter.CombineAnd)

	assert.JSONEq(t, `{"LTE":{"age_at_censor_status":6570}}`, got)
}

func TestCompose_ContainsOperator(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "relapse", FieldPath: "clinical_notes", FieldType: catalog.TypeString, Value: " relapse ", Operator: "contains"},
	}, filter.CombineAnd)

	// String values are trimmed before use.
	assert.JSONEq(t, `{"CONTAINS":{"clinical_notes":"relapse"}}`, got)
}

func TestCompose_UnknownOperatorFallsBackToIn(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "male", FieldPath: "sex", FieldType: catalog.TypeEnumeration, Value: "Male", Operator: "approx"},
	}, filter.CombineAnd)

	assert.JSONEq(t, `{"IN":{"sex":["Male"]}}`, got)
}

func TestCompose_DropsEmptyValues(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "blank", FieldPath: "clinical_notes", FieldType: catalog.TypeString, Value: "   ", Operator: "contains"},
		{Term: "male", FieldPath: "sex", FieldType: catalog.TypeEnumeration, Value: "Male", Operator: "eq"},
	}, filter.CombineAnd)

	// The empty string drops without failing the batch.
	assert.JSONEq(t, `{"IN":{"sex":["Male"]}}`, got)
}

func TestCompose_AllValuesEmpty(t *testing.T) {
	node, err := newTestComposer().Compose(context.Background(), []resolve.ResolvedField{
		{Term: "blank", FieldPath: "clinical_notes", FieldType: catalog.TypeString, Value: "", Operator: "contains"},
	}, filter.CombineAnd)
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestCompose_InvalidCombinatorDefaultsToAnd(t *testing.T) {
	got := composeJSON(t, []resolve.ResolvedField{
		{Term: "male", FieldPath: "sex", FieldType: catalog.TypeEnumeration, Value: "Male", Operator: "eq"},
		{Term: "asian", FieldPath: "race", FieldType: catalog.TypeEnumeration, Value: "Asian", Operator: "eq"},
	}, filter.Combinator("NAND"))

	assert.JSONEq(t, `{"AND":[{"IN":{"sex":["Male"]}},{"IN":{"race":["Asian"]}}]}`, got)
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "integer string", in: "42", want: int64(42)},
		{name: "float string", in: "41.5", want: 41.5},
		{name: "padded string", in: " 18 ", want: int64(18)},
		{name: "non-numeric stays string", in: "teenager", want: "teenager"},
		{name: "int passthrough", in: 7, want: 7},
		{name: "float passthrough", in: 2.5, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceNumber(tt.in))
		})
	}
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{in: true, want: true},
		{in: false, want: false},
		{in: "yes", want: true},
		{in: "TRUE", want: true},
		{in: "1", want: true},
		{in: "y", want: true},
		{in: "no", want: false},
		{in: "0", want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, coerceBool(tt.in), "coerceBool(%v)", tt.in)
	}
}

func TestWarnings(t *testing.T) {
	c := newTestComposer()

	assert.Contains(t, c.Warnings(nil)[0], "no filters")

	heavy := filter.Group{Combinator: filter.CombineAnd, Children: []filter.Node{
		filter.Cmp{Op: filter.OpContains, Field: "a", Value: "x"},
		filter.Cmp{Op: filter.OpContains, Field: "b", Value: "x"},
		filter.Cmp{Op: filter.OpContains, Field: "c", Value: "x"},
		filter.Cmp{Op: filter.OpContains, Field: "d", Value: "x"},
	}}
	warnings := c.Warnings(heavy)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "containment")

	duplicated := filter.Group{Combinator: filter.CombineAnd, Children: []filter.Node{
		filter.NewIn("sex", []any{"Male"}),
		filter.NewIn("sex", []any{"Female"}),
	}}
	warnings = c.Warnings(duplicated)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "sex")
}
