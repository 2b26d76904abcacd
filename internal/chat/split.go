package chat

import "strings"

// SplitMessage breaks text into chunks of at most limit runes. Whole lines
// are kept together where possible; a line longer than limit is hard-split.
// Concatenating the chunks yields text unchanged.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	curr := 0
	flush := func() {
		if curr > 0 {
			out = append(out, buf.String())
			buf.Reset()
			curr = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > limit {
			flush()
			for i := 0; i < len(runes); i += limit {
				out = append(out, string(runes[i:min(i+limit, len(runes))]))
			}
			continue
		}
		if curr+len(runes) > limit {
			flush()
		}
		buf.WriteString(line)
		curr += len(runes)
	}
	flush()
	return out
}
