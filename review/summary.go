package review

import "strings"

const (
	// SummaryStart and SummaryEnd delimit the generated summary inside a pull
	// request description.
	SummaryStart = "<!-- louro-summary-start -->"
	SummaryEnd   = "<!-- louro-summary-end -->"
)

// MergeSummary writes summary into a pull request description. An earlier
// summary block is replaced in place and the author's text is kept.
func MergeSummary(original, summary string) string {
	block := SummaryStart + "\n\n---\n\n" + strings.TrimSpace(summary) + "\n\n" + SummaryEnd

	if start := strings.Index(original, SummaryStart); start != -1 {
		if end := strings.Index(original[start:], SummaryEnd); end != -1 {
			end += start + len(SummaryEnd)
			return original[:start] + block + original[end:]
		}
		// Orphan start marker: drop it and append a fresh block.
		original = strings.TrimSpace(strings.Replace(original, SummaryStart, "", 1))
	}

	if strings.TrimSpace(original) == "" {
		return block
	}
	return strings.TrimRight(original, "\n") + "\n\n" + block
}
