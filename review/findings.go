package review

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/louroai/louro/apperr"
)

// Label is the Conventional Comments label of a finding.
type Label string

const (
	LabelPraise     Label = "praise"
	LabelSuggestion Label = "suggestion"
	LabelIssue      Label = "issue"
	LabelQuestion   Label = "question"
	LabelNitpick    Label = "nitpick"
	LabelNote       Label = "note"
	LabelTip        Label = "tip"
)

// Labels lists the closed label vocabulary in prompt order.
var Labels = []Label{LabelPraise, LabelSuggestion, LabelIssue, LabelNitpick, LabelQuestion, LabelNote, LabelTip}

// labelAliases accepts the Portuguese pack's words and a few common synonyms.
var labelAliases = map[string]Label{
	"elogio":   LabelPraise,
	"sugestao": LabelSuggestion,
	"sugestão": LabelSuggestion,
	"problema": LabelIssue,
	"bug":      LabelIssue,
	"pergunta": LabelQuestion,
	"nota":     LabelNote,
	"dica":     LabelTip,
	"nit":      LabelNitpick,
}

// NormalizeLabel maps free-form model output onto the closed vocabulary.
// Anything unknown becomes a note.
func NormalizeLabel(s string) Label {
	s = strings.ToLower(strings.TrimSpace(strings.Trim(s, "*:` ")))
	for _, l := range Labels {
		if s == string(l) {
			return l
		}
	}
	if l, ok := labelAliases[s]; ok {
		return l
	}
	return LabelNote
}

// Finding is one inline comment proposed by the agent.
type Finding struct {
	Path     string `json:"path"`
	Side     Side   `json:"side"`
	Line     int    `json:"line"`
	Label    Label  `json:"label"`
	Blocking bool   `json:"blocking"`
	Body     string `json:"body"`
}

// Anchor returns the diff position the finding claims.
func (f Finding) Anchor() Anchor {
	return Anchor{Path: f.Path, Side: f.Side, Line: f.Line}
}

// Output is the agent's structured answer.
type Output struct {
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

type rawFinding struct {
	Path     string          `json:"path"`
	Side     string          `json:"side"`
	Line     json.Number     `json:"line"`
	Label    string          `json:"label"`
	Blocking json.RawMessage `json:"blocking"`
	Body     string          `json:"body"`
}

type rawOutput struct {
	Summary  string       `json:"summary"`
	Findings []rawFinding `json:"findings"`
	// Comments is accepted as an alias of findings.
	Comments []rawFinding `json:"comments"`
}

// ParseOutput parses the agent's JSON answer. Code fences and prose around the
// object are tolerated. Findings without a path, body or usable line are dropped.
func ParseOutput(text string) (*Output, error) {
	cleaned := extractJSON(text)

	var raw rawOutput
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse review output as JSON: %w", err)
	}

	out := &Output{Summary: strings.TrimSpace(raw.Summary)}
	for _, r := range append(raw.Findings, raw.Comments...) {
		line, err := r.Line.Int64()
		if err != nil || line <= 0 || r.Path == "" || strings.TrimSpace(r.Body) == "" {
			continue
		}
		side, ok := ParseSide(r.Side)
		if !ok {
			continue
		}
		out.Findings = append(out.Findings, Finding{
			Path:     strings.TrimPrefix(r.Path, "/"),
			Side:     side,
			Line:     int(line),
			Label:    NormalizeLabel(r.Label),
			Blocking: parseBlocking(r.Blocking),
			Body:     strings.TrimSpace(r.Body),
		})
	}
	return out, nil
}

// parseBlocking accepts a JSON bool or a string such as "blocking".
func parseBlocking(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.ToLower(strings.TrimSpace(s))
		return s == "true" || s == "blocking" || s == "bloqueante" || s == "yes"
	}
	return false
}

// extractJSON strips markdown code fences and any text around the outermost object.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}
	return strings.TrimSpace(response)
}

// MapFindings keeps the findings whose (path, side, line) is an anchor of the
// diff. Each dropped finding is logged as a MappingError and returned.
func MapFindings(findings []Finding, anchors AnchorSet, logger *slog.Logger) ([]Finding, []*apperr.MappingError) {
	if len(findings) == 0 {
		return nil, nil
	}

	mapped := make([]Finding, 0, len(findings))
	var dropped []*apperr.MappingError

	for _, f := range findings {
		if anchors.Contains(f.Anchor()) {
			mapped = append(mapped, f)
			continue
		}
		mappingErr := &apperr.MappingError{Path: f.Path, Side: string(f.Side), Line: f.Line}
		dropped = append(dropped, mappingErr)
		if logger != nil {
			logger.Warn("dropped finding outside the diff",
				"error", mappingErr,
				"label", f.Label,
				"body_preview", truncateString(f.Body, 50),
			)
		}
	}

	return mapped, dropped
}

// truncateString truncates a string to maxLen and adds "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return cutAtRune(s, maxLen) + "..."
}

// cutAtRune returns the longest prefix of s that is at most n bytes and does
// not split a UTF-8 sequence.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
