package pipeline

import (
	"time"

	"github.com/sells-group/lookup-bot/internal/model"
)

// NoAnswer is shown to users when a run produced nothing.
const NoAnswer = "нет ответа"

// Result is everything a single run produced.
type Result struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	Mode         Mode              `json:"mode" yaml:"mode"`
	Query        string            `json:"query" yaml:"query"`
	Links        []string          `json:"links,omitempty" yaml:"links,omitempty"`
	Counts       model.FetchCounts `json:"counts" yaml:"counts"`
	Corpus       string            `json:"-" yaml:"-"`
	Extraction   model.Extraction  `json:"extraction" yaml:"extraction"`
	Answer       string            `json:"answer" yaml:"answer"`
	Fallback     string            `json:"-" yaml:"-"`
	ArtifactsDir string            `json:"artifacts_dir,omitempty" yaml:"artifacts_dir,omitempty"`
	Elapsed      time.Duration     `json:"elapsed" yaml:"elapsed"`
}

// Text returns the answer, else the fallback text, else sentinel.
func (r *Result) Text(sentinel string) string {
	if r == nil {
		return sentinel
	}
	switch {
	case r.Answer != "":
		return r.Answer
	case r.Fallback != "":
		return r.Fallback
	default:
		return sentinel
	}
}

// OK reports whether the run gathered any corpus text.
func (r *Result) OK() bool {
	return r != nil && r.Corpus != ""
}
