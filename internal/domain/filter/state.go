package filter

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates FilterState shapes.
type Kind string

const (
	KindStandard Kind = "STANDARD"
	KindComposed Kind = "COMPOSED"
)

// State is the flat, UI-facing representation of selected filter conditions.
// For KindStandard, Values maps a key (bare field name or "entity.field",
// exactly one nesting level) to a Value. For KindComposed, Children holds
// sub-states combined with CombineMode.
type State struct {
	CombineMode Combinator
	Kind        Kind
	Values      map[string]Value
	Children    []*State
}

// Value is one selection in a FilterState: Option, Range or Anchored.
type Value interface {
	isValue()
}

// Option is a discrete selection of values.
type Option struct {
	SelectedValues []string
	IsExclusion    bool
}

// Range bounds a numeric or date field. A nil bound is open.
type Range struct {
	LowerBound any
	UpperBound any
}

// Anchored is the ordered/sequential filter variant. It is not supported by
// the codec: encoding a state containing one fails loudly instead of
// silently dropping the selection.
type Anchored struct {
	Filters map[string]Value
}

func (Option) isValue()   {}
func (Range) isValue()    {}
func (Anchored) isValue() {}

// Wire-format type tags for the UI JSON shape.
const (
	typeStandard = "STANDARD"
	typeComposed = "COMPOSED"
	typeOption   = "OPTION"
	typeRange    = "RANGE"
	typeAnchored = "ANCHORED"
)

// MarshalJSON renders the UI shape:
//
//	{"__combineMode":"AND","__type":"STANDARD","value":{...}}
func (s *State) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}

	out := map[string]any{
		"__combineMode": s.CombineMode,
	}

	switch s.Kind {
	case KindComposed:
		out["__type"] = typeComposed
		out["value"] = s.Children
	default:
		out["__type"] = typeStandard
		values := make(map[string]json.RawMessage, len(s.Values))
		for key, value := range s.Values {
			b, err := marshalValue(value)
			if err != nil {
				return nil, fmt.Errorf("value %q: %w", key, err)
			}
			values[key] = b
		}
		out["value"] = values
	}

	return json.Marshal(out)
}

func marshalValue(v Value) ([]byte, error) {
	switch value := v.(type) {
	case Option:
		return json.Marshal(map[string]any{
			"__type":         typeOption,
			"selectedValues": value.SelectedValues,
			"isExclusion":    value.IsExclusion,
		})
	case Range:
		return json.Marshal(map[string]any{
			"__type":     typeRange,
			"lowerBound": value.LowerBound,
			"upperBound": value.UpperBound,
		})
	case Anchored:
		return json.Marshal(map[string]any{
			"__type": typeAnchored,
		})
	}
	return nil, fmt.Errorf("unknown filter value type %T", v)
}

// UnmarshalJSON parses the UI shape back into a State.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw struct {
		CombineMode Combinator      `json:"__combineMode"`
		Type        string          `json:"__type"`
		Value       json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.CombineMode = raw.CombineMode
	if s.CombineMode == "" {
		s.CombineMode = CombineAnd
	}

	switch raw.Type {
	case typeComposed:
		s.Kind = KindComposed
		return json.Unmarshal(raw.Value, &s.Children)
	case typeStandard, "":
		s.Kind = KindStandard
		var values map[string]json.RawMessage
		if err := json.Unmarshal(raw.Value, &values); err != nil {
			return fmt.Errorf("standard state value must be an object: %w", err)
		}
		s.Values = make(map[string]Value, len(values))
		for key, rawValue := range values {
			value, err := unmarshalValue(rawValue)
			if err != nil {
				return fmt.Errorf("value %q: %w", key, err)
			}
			s.Values[key] = value
		}
		return nil
	}

	return fmt.Errorf("unknown filter state type %q", raw.Type)
}

func unmarshalValue(data []byte) (Value, error) {
	var tag struct {
		Type string `json:"__type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}

	switch tag.Type {
	case typeOption:
		var raw struct {
			SelectedValues []string `json:"selectedValues"`
			IsExclusion    bool     `json:"isExclusion"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return Option{SelectedValues: raw.SelectedValues, IsExclusion: raw.IsExclusion}, nil

	case typeRange:
		var raw struct {
			LowerBound any `json:"lowerBound"`
			UpperBound any `json:"upperBound"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return Range{LowerBound: raw.LowerBound, UpperBound: raw.UpperBound}, nil

	case typeAnchored:
		return Anchored{}, nil
	}

	return nil, fmt.Errorf("unknown filter value type %q", tag.Type)
}
