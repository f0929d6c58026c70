package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Empty(t *testing.T) {
	node, err := Encode(nil)
	require.NoError(t, err)
	assert.Nil(t, node)

	node, err = Encode(&State{CombineMode: CombineAnd, Kind: KindStandard})
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestEncode_SingleConditionUnwrapped(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"sex": Option{SelectedValues: []string{"Male"}},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"IN":{"sex":["Male"]}}`, string(got))
}

func TestEncode_MultipleConditions(t *testing.T) {
	state := &State{
		CombineMode: CombineOr,
		Kind:        KindStandard,
		Values: map[string]Value{
			"sex":  Option{SelectedValues: []string{"Male"}},
			"race": Option{SelectedValues: []string{"Asian"}},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	// Keys iterate sorted, so race precedes sex.
	assert.JSONEq(t, `{"OR":[{"IN":{"race":["Asian"]}},{"IN":{"sex":["Male"]}}]}`, string(got))
}

func TestEncode_RangeBothBounds(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"age_at_censor_status": Range{LowerBound: 0, UpperBound: 6570},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"AND":[{"GTE":{"age_at_censor_status":0}},{"LTE":{"age_at_censor_status":6570}}]}`,
		string(got))
}

func TestEncode_RangeSingleBound(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"age_at_censor_status": Range{LowerBound: 18},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"GTE":{"age_at_censor_status":18}}`, string(got))
}

func TestEncode_NestedKeysGrouped(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"tumor_assessments.tumor_site":  Option{SelectedValues: []string{"Lung"}},
			"tumor_assessments.tumor_state": Option{SelectedValues: []string{"Metastatic"}},
			"sex":                           Option{SelectedValues: []string{"Male"}},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"AND":[
		{"IN":{"sex":["Male"]}},
		{"nested":{"path":"tumor_assessments","AND":[
			{"IN":{"tumor_site":["Lung"]}},
			{"IN":{"tumor_state":["Metastatic"]}}
		]}}
	]}`, string(got))
}

func TestEncode_ComposedState(t *testing.T) {
	state := &State{
		CombineMode: CombineOr,
		Kind:        KindComposed,
		Children: []*State{
			{
				CombineMode: CombineAnd,
				Kind:        KindStandard,
				Values:      map[string]Value{"sex": Option{SelectedValues: []string{"Male"}}},
			},
			{
				CombineMode: CombineAnd,
				Kind:        KindStandard,
				Values:      map[string]Value{"race": Option{SelectedValues: []string{"Asian"}}},
			},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"OR":[{"IN":{"sex":["Male"]}},{"IN":{"race":["Asian"]}}]}`, string(got))
}

func TestEncode_EmptyOptionSkipped(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"sex":  Option{},
			"race": Option{SelectedValues: []string{"Asian"}},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	got, err := Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"IN":{"race":["Asian"]}}`, string(got))
}

func TestEncode_AnchoredFailsLoudly(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"timeline": Anchored{},
		},
	}

	_, err := Encode(state)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnchoredUnsupported)
}

func TestDecode_Nil(t *testing.T) {
	state, err := Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestDecode_BareConditionImplicitAnd(t *testing.T) {
	state, err := Decode(NewIn("sex", []any{"Male"}))
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, CombineAnd, state.CombineMode)
	assert.Equal(t, KindStandard, state.Kind)
	assert.Equal(t, Option{SelectedValues: []string{"Male"}}, state.Values["sex"])
}

func TestDecode_LaterInOverwrites(t *testing.T) {
	tree := Group{Combinator: CombineAnd, Children: []Node{
		NewIn("sex", []any{"Male"}),
		NewIn("sex", []any{"Female"}),
	}}

	state, err := Decode(tree)
	require.NoError(t, err)

	assert.Equal(t, Option{SelectedValues: []string{"Female"}}, state.Values["sex"])
}

func TestDecode_MergesRangeBounds(t *testing.T) {
	tree := Group{Combinator: CombineAnd, Children: []Node{
		Cmp{Op: OpGte, Field: "age_at_censor_status", Value: 0},
		Cmp{Op: OpLte, Field: "age_at_censor_status", Value: 6570},
	}}

	state, err := Decode(tree)
	require.NoError(t, err)

	assert.Equal(t, Range{LowerBound: 0, UpperBound: 6570}, state.Values["age_at_censor_status"])
}

func TestDecode_NestedInBecomesDottedKey(t *testing.T) {
	tree := Nested{Path: "tumor_assessments", Combinator: CombineAnd, Children: []Node{
		NewIn("tumor_site", []any{"Lung"}),
	}}

	state, err := Decode(tree)
	require.NoError(t, err)

	assert.Equal(t,
		Option{SelectedValues: []string{"Lung"}},
		state.Values["tumor_assessments.tumor_site"])
}

func TestDecode_SkipsUnrepresentableOperators(t *testing.T) {
	tree := Group{Combinator: CombineAnd, Children: []Node{
		Cmp{Op: OpContains, Field: "clinical_notes", Value: "relapse"},
		Cmp{Op: OpGt, Field: "age_at_censor_status", Value: 0},
		NewIn("sex", []any{"Male"}),
	}}

	state, err := Decode(tree)
	require.NoError(t, err)

	assert.Len(t, state.Values, 1)
	assert.Contains(t, state.Values, "sex")
}

func TestRoundTrip_OptionsAndRanges(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"race":                 Option{SelectedValues: []string{"Asian"}},
			"age_at_censor_status": Range{LowerBound: 0, UpperBound: 18},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	decoded, err := Decode(node)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.Equal(t, state.CombineMode, decoded.CombineMode)
	assert.Equal(t, state.Kind, decoded.Kind)
	assert.Equal(t, state.Values["race"], decoded.Values["race"])
	assert.Equal(t, state.Values["age_at_censor_status"], decoded.Values["age_at_censor_status"])
}

func TestRoundTrip_NestedOptions(t *testing.T) {
	state := &State{
		CombineMode: CombineAnd,
		Kind:        KindStandard,
		Values: map[string]Value{
			"tumor_assessments.tumor_site": Option{SelectedValues: []string{"Lung", "Liver"}},
			"sex":                          Option{SelectedValues: []string{"Male"}},
		},
	}

	node, err := Encode(state)
	require.NoError(t, err)

	decoded, err := Decode(node)
	require.NoError(t, err)
	assert.Equal(t, state.Values, decoded.Values)
}

func TestState_JSONRoundTrip(t *testing.T) {
	state := &State{
		CombineMode: CombineOr,
		Kind:        KindStandard,
		Values: map[string]Value{
			"sex":                  Option{SelectedValues: []string{"Male"}, IsExclusion: true},
			"age_at_censor_status": Range{LowerBound: float64(0), UpperBound: float64(18)},
		},
	}

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__combineMode":"OR"`)
	assert.Contains(t, string(data), `"__type":"STANDARD"`)

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, state.CombineMode, decoded.CombineMode)
	assert.Equal(t, state.Kind, decoded.Kind)
	assert.Equal(t, state.Values, decoded.Values)
}

func TestState_UnmarshalComposed(t *testing.T) {
	raw := `{
		"__combineMode": "OR",
		"__type": "COMPOSED",
		"value": [
			{"__combineMode": "AND", "__type": "STANDARD",
			 "value": {"sex": {"__type": "OPTION", "selectedValues": ["Male"], "isExclusion": false}}}
		]
	}`

	var state State
	require.NoError(t, json.Unmarshal([]byte(raw), &state))

	assert.Equal(t, KindComposed, state.Kind)
	require.Len(t, state.Children, 1)
	assert.Equal(t, Option{SelectedValues: []string{"Male"}}, state.Children[0].Values["sex"])
}
