// Package catalog loads and indexes the static field catalog that drives
// term resolution. The catalog is a JSON array of field descriptors; it is
// loaded once at startup and rebuilt wholesale on demand, never mutated
// incrementally.
package catalog

// FieldType defines the data type of a catalog field.
type FieldType string

const (
	TypeEnumeration FieldType = "enumeration"
	TypeString      FieldType = "string"
	TypeNumber      FieldType = "number"
	TypeBoolean     FieldType = "boolean"
	TypeDate        FieldType = "date"
)

// Field describes a filterable field. Unique by Path, immutable once indexed.
type Field struct {
	// Path is the GraphQL path, dot-separated for nested entities
	// (e.g. "tumor_assessments.tumor_site").
	Path string `json:"path"`

	// Type is the field data type.
	Type FieldType `json:"type"`

	// EnumValues holds valid values for enumeration fields.
	EnumValues []string `json:"enumValues,omitempty"`

	// Description is a human-readable description.
	Description string `json:"description,omitempty"`

	// SearchableTerms are normalized terms that can match this field.
	SearchableTerms []string `json:"searchableTerms"`
}

// IsEnum reports whether the field is an enumeration.
func (f Field) IsEnum() bool {
	return f.Type == TypeEnumeration
}

// Candidate is a catalog field considered as a possible match for a term.
// Transient, produced per search call.
type Candidate struct {
	// Term is the cleaned query term that matched.
	Term string `json:"term"`

	// Field is the matching catalog field.
	Field Field `json:"field"`

	// MatchScore is the match confidence in [0, 1].
	MatchScore float64 `json:"matchScore"`

	// MatchReason explains why this field matched.
	MatchReason string `json:"matchReason"`
}
