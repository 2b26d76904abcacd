package fetcher

import (
	"slices"
	"strings"

	"github.com/sells-group/lookup-bot/internal/model"
)

// DocumentSeparator joins documents in the aggregate corpus.
const DocumentSeparator = "\n\n-----\n\n"

// Aggregate joins cleaned documents in link order. Blank documents are
// skipped. The input slice is not modified.
func Aggregate(docs []model.CleanedDocument) string {
	sorted := slices.Clone(docs)
	slices.SortStableFunc(sorted, func(a, b model.CleanedDocument) int {
		return a.Index - b.Index
	})

	parts := make([]string, 0, len(sorted))
	for _, d := range sorted {
		if t := strings.TrimSpace(d.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, DocumentSeparator)
}
