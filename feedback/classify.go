// Package feedback handles developer replies to review comments: it classifies
// the reply, turns corrections into repository knowledge and answers in the
// review thread.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/louroai/louro/anthropic"
)

// Label is the closed set of reply classifications.
type Label string

const (
	LabelAgreement  Label = "agreement"
	LabelCorrection Label = "correction"
	LabelQuestion   Label = "question"
	LabelOther      Label = "other"
)

// CorrectionThreshold is the confidence a correction needs before it is written
// to the knowledge index.
const CorrectionThreshold = 0.7

// ParseLabel maps a model label onto the closed set. Anything unknown is other.
func ParseLabel(s string) Label {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agreement", "agree", "positive":
		return LabelAgreement
	case "correction", "disagreement", "negative":
		return LabelCorrection
	case "question":
		return LabelQuestion
	default:
		return LabelOther
	}
}

// Classification is the classifier verdict on one reply.
type Classification struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// IsCorrection reports whether the reply should be learned from.
func (c Classification) IsCorrection() bool {
	return c.Label == LabelCorrection && c.Confidence >= CorrectionThreshold
}

// ParseClassification reads the classifier JSON output. Malformed output is
// classified as other with zero confidence.
func ParseClassification(text string) Classification {
	var raw struct {
		Label      string          `json:"label"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractObject(text)), &raw); err != nil {
		return Classification{Label: LabelOther}
	}

	c := Classification{Label: ParseLabel(raw.Label)}
	conf := strings.Trim(string(raw.Confidence), `"`)
	if v, err := strconv.ParseFloat(conf, 64); err == nil {
		c.Confidence = min(max(v, 0), 1)
	}
	if c.Label == LabelOther && raw.Label != string(LabelOther) {
		c.Confidence = 0
	}
	return c
}

// extractObject strips code fences and surrounding prose from a JSON answer.
func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

// Completer sends a single prompt to a model.
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string) (*anthropic.Result, error)
}

const classifySystemPrompt = `You classify a developer's reply to an automated code review comment. Output one JSON object and nothing else:

{"label": "<agreement|correction|question|other>", "confidence": <0.0 to 1.0>}

- agreement: the developer accepts the comment, thanks the reviewer or says they will change the code.
- correction: the developer says the reviewer is wrong about how this project does things and states the project's actual convention, architecture decision or preferred pattern.
- question: the developer asks the reviewer something.
- other: anything else, including replies addressed to other people.

The reply may be written in any language.`

const extractSystemPrompt = `A developer corrected an automated code reviewer. Rewrite the correction as one concise, self-contained statement of the project's convention, in English, that a reviewer can follow on future pull requests without seeing this conversation. Name concrete identifiers, file patterns or libraries when the developer did. Output only the statement.`

// Classifier runs the classifier-tier model over replies.
type Classifier struct {
	llm    Completer
	model  string
	logger *slog.Logger
}

// NewClassifier creates a Classifier that uses model.
func NewClassifier(llm Completer, model string, logger *slog.Logger) *Classifier {
	return &Classifier{llm: llm, model: model, logger: logger}
}

// Classify labels a reply given its thread. It never fails: model errors yield
// other.
func (c *Classifier) Classify(ctx context.Context, thread, reply string) Classification {
	resp, err := c.llm.Complete(ctx, c.model, classifySystemPrompt, classifyPrompt(thread, reply))
	if err != nil {
		c.logger.Warn("reply classification failed, using other", "error", err)
		return Classification{Label: LabelOther}
	}
	return ParseClassification(resp.Text)
}

// Extract condenses a correction into a convention statement.
func (c *Classifier) Extract(ctx context.Context, thread, reply string) (string, error) {
	resp, err := c.llm.Complete(ctx, c.model, extractSystemPrompt, classifyPrompt(thread, reply))
	if err != nil {
		return "", fmt.Errorf("failed to extract correction: %w", err)
	}
	statement := strings.TrimSpace(resp.Text)
	if statement == "" {
		return "", fmt.Errorf("failed to extract correction: empty statement")
	}
	return statement, nil
}

func classifyPrompt(thread, reply string) string {
	var b strings.Builder
	if thread != "" {
		b.WriteString("<thread>\n")
		b.WriteString(thread)
		b.WriteString("</thread>\n\n")
	}
	b.WriteString("<reply>\n")
	b.WriteString(reply)
	b.WriteString("\n</reply>")
	return b.String()
}
