package model

// ExtractionKind classifies how confident the model is in its answer.
type ExtractionKind string

const (
	ExtractionExact       ExtractionKind = "exact"
	ExtractionAlternative ExtractionKind = "alternative"
	ExtractionNone        ExtractionKind = "none"
)

// Valid reports whether k is one of the known kinds.
func (k ExtractionKind) Valid() bool {
	switch k {
	case ExtractionExact, ExtractionAlternative, ExtractionNone:
		return true
	default:
		return false
	}
}

// Candidate is one person the model found for the query.
type Candidate struct {
	FullName string `json:"full_name" yaml:"full_name"`
	Position string `json:"position" yaml:"position"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Extraction is the structured answer produced by the language model.
// Candidates is always empty when Kind is ExtractionNone.
type Extraction struct {
	Kind       ExtractionKind `json:"type" yaml:"type"`
	Candidates []Candidate    `json:"candidates" yaml:"candidates"`
}

// Empty reports whether the extraction carries no usable candidate.
func (e Extraction) Empty() bool {
	return e.Kind == ExtractionNone || e.Kind == "" || len(e.Candidates) == 0
}
