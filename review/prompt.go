// Package review assembles pull request context, runs the review agent and
// posts its findings as inline comments.
package review

import (
	"fmt"
	"strings"

	"github.com/louroai/louro/config"
	"github.com/louroai/louro/knowledge"
)

// languagePack holds the parts of the prompts that change with the review language.
type languagePack struct {
	directive   string
	labels      map[Label]string
	meanings    map[Label]string
	blocking    string
	nonBlocking string
	confidence  string
	noDesc      string
	suggestion  string
}

var packs = map[string]languagePack{
	config.LanguagePortuguese: {
		directive: "Responda sempre em português brasileiro (pt-BR).",
		labels: map[Label]string{
			LabelPraise: "elogio", LabelSuggestion: "sugestao", LabelIssue: "problema",
			LabelNitpick: "nitpick", LabelQuestion: "pergunta", LabelNote: "nota", LabelTip: "dica",
		},
		meanings: map[Label]string{
			LabelPraise: "algo bem feito", LabelSuggestion: "proposta de melhoria",
			LabelIssue: "bug ou erro identificado", LabelNitpick: "detalhe menor",
			LabelQuestion: "duvida sobre a intencao", LabelNote: "observacao informativa",
			LabelTip: "ideia ou lembrete para o futuro",
		},
		blocking:    "bloqueante",
		nonBlocking: "nao-bloqueante",
		confidence:  "**Confianca:** Alta / Media / Baixa",
		noDesc:      "(Sem descricao)",
		suggestion:  "nome_correto = valor",
	},
	config.LanguageEnglish: {
		directive: "Respond in English (en-US).",
		labels: map[Label]string{
			LabelPraise: "praise", LabelSuggestion: "suggestion", LabelIssue: "issue",
			LabelNitpick: "nitpick", LabelQuestion: "question", LabelNote: "note", LabelTip: "tip",
		},
		meanings: map[Label]string{
			LabelPraise: "something well done", LabelSuggestion: "proposed improvement",
			LabelIssue: "identified bug or error", LabelNitpick: "minor detail",
			LabelQuestion: "doubt about the intent", LabelNote: "informational observation",
			LabelTip: "idea or reminder for the future",
		},
		blocking:    "blocking",
		nonBlocking: "non-blocking",
		confidence:  "**Confidence:** High / Medium / Low",
		noDesc:      "(No description provided)",
		suggestion:  "correct_name = value",
	},
}

func pack(language string) languagePack {
	if p, ok := packs[language]; ok {
		return p
	}
	return packs[config.DefaultLanguage]
}

const systemPromptTemplate = `You are an expert code reviewer. You review pull request diffs and give specific, actionable feedback. %s

Focus on:
- Bugs and logic errors
- Security vulnerabilities
- Performance issues
- Missing error handling
- Consistency with the repository's current architecture and conventions

Rules:
- Only comment on lines that appear in the diff.
- Keep each comment to 1-3 sentences.
- Do not comment on style preferences unless they introduce inconsistency.
- If the code is good, say so briefly without inventing problems.
- Use the read_file, search_file and list_files tools when the diff alone is not enough.

Repository knowledge:
- The knowledge section describes the repository's conventions, the direction it is moving in, and corrections the team made to earlier reviews.
- Legacy code may not follow the current conventions. Enforce the current direction, not the legacy patterns.
- A correction from the team always wins over your own preference.

Diff annotation:
Every line inside a hunk is prefixed with "S NNNNN | " where S is R (RIGHT, the new file) or L (LEFT, the old file) and NNNNN is the line number on that side. Added and unchanged lines are on R, removed lines on L. Use exactly the side and number shown; never compute line numbers from hunk headers.

Suggestions:
When the fix is a single-line replacement on the RIGHT side, include a GitHub suggestion block in the body, e.g.
` + "```suggestion\n%s\n```" + `
For larger changes describe the fix in text.

Answer with ONLY a JSON object, no markdown fences:
{
  "summary": "markdown summary of the pull request",
  "findings": [
    {"path": "path/to/file.go", "side": "RIGHT", "line": 42, "label": "issue", "blocking": true, "body": "..."}
  ]
}

The summary contains a short paragraph on what the pull request does, a bulleted list of the main changes, a table of relevant files (file | what changed) and ends with a line "%s" stating how confident you are in the review.

"label" must be one of these English keys (write the body in the review language):
%s

"blocking" is true only when the finding must be resolved before merging.
If there is nothing to point out, return an empty findings array.`

// SystemPrompt builds the review system prompt for a language and repository config.
func SystemPrompt(language string, cfg *config.RepoConfig) string {
	p := pack(language)

	var labels strings.Builder
	for _, l := range Labels {
		fmt.Fprintf(&labels, "- %s: %s\n", l, p.meanings[l])
	}

	result := fmt.Sprintf(systemPromptTemplate, p.directive, p.suggestion, p.confidence, strings.TrimSuffix(labels.String(), "\n"))

	if cfg != nil && cfg.ProjectNotes != "" {
		result += "\n\n## Project Context\n\n" + cfg.ProjectNotes
	}
	if cfg != nil && cfg.Instructions != "" {
		result += "\n\n## Repository-Specific Instructions\n\n" + cfg.Instructions
	}

	return result
}

const replySystemPromptTemplate = `You are an expert code reviewer answering a developer's reply to one of your review comments on a pull request. You have the diff hunk and the conversation thread. %s

Rules:
- Be collaborative. The developer may be explaining their reasoning, asking for clarification or disagreeing.
- If the developer's point is valid, acknowledge it.
- If you still see a problem, explain it clearly with an example.
- Keep the answer to 1-3 sentences.
- Use the tools to read more of the repository when needed.
- When the developer states a project convention, confirm you will follow it in future reviews.

Use Conventional Comment labels when they fit: %s`

// ReplySystemPrompt builds the system prompt of the comment agent that answers replies.
func ReplySystemPrompt(language string) string {
	p := pack(language)
	words := make([]string, 0, len(Labels))
	for _, l := range Labels {
		words = append(words, "**"+p.labels[l]+":**")
	}
	return fmt.Sprintf(replySystemPromptTemplate, p.directive, strings.Join(words, ", "))
}

// RenderBody formats a finding as "**label (blocking|non-blocking):** body" in
// the review language.
func RenderBody(f Finding, language string) string {
	p := pack(language)
	word := p.labels[f.Label]
	if word == "" {
		word = p.labels[LabelNote]
	}
	decoration := p.nonBlocking
	if f.Blocking {
		decoration = p.blocking
	}
	return fmt.Sprintf("**%s (%s):** %s", word, decoration, f.Body)
}

// BuildPrompt constructs the user prompt for a review: pull request metadata,
// repository knowledge and the annotated diff.
func BuildPrompt(rc *ReviewContext) string {
	var b strings.Builder
	p := pack(rc.Language)

	description := rc.PullRequest.Body
	if strings.TrimSpace(description) == "" {
		description = p.noDesc
	}

	b.WriteString("Review this pull request.\n\n")
	fmt.Fprintf(&b, "**Title:** %s\n", rc.PullRequest.Title)
	if rc.PullRequest.Head != nil && rc.PullRequest.Base != nil {
		fmt.Fprintf(&b, "**Branch:** %s -> %s\n", rc.PullRequest.Head.Ref, rc.PullRequest.Base.Ref)
	}
	fmt.Fprintf(&b, "**Description:**\n%s\n\n", description)

	if len(rc.Knowledge) > 0 {
		b.WriteString(formatKnowledge(rc.Knowledge))
		b.WriteString("\n")
	}

	b.WriteString("## Changed files\n\n")
	for _, f := range rc.Files {
		fmt.Fprintf(&b, "- %s (%s, +%d/-%d)", f.Path, f.Status, f.Additions, f.Deletions)
		if test := TestFileFor(f.Path); test != "" {
			fmt.Fprintf(&b, " tests: %s", test)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n<diff>\n")
	b.WriteString(rc.Diff)
	b.WriteString("</diff>\n")

	if len(rc.Omitted) > 0 {
		fmt.Fprintf(&b, "\n*%d more file(s) omitted (diff too large): %s*\n", len(rc.Omitted), strings.Join(rc.Omitted, ", "))
	}
	if len(rc.Skipped) > 0 {
		fmt.Fprintf(&b, "\n*%d generated, lock or excluded file(s) left out of the review.*\n", len(rc.Skipped))
	}

	return b.String()
}

// formatDiffBlock renders one file of the diff for the prompt.
func formatDiffBlock(fd *FileDiff) string {
	return fmt.Sprintf("### %s (%s, +%d/-%d)\n%s\n", fd.Path, fd.Status, fd.Additions, fd.Deletions, fd.Annotate())
}

// formatKnowledge groups retrieved entries by source, corrections first.
func formatKnowledge(entries []knowledge.Entry) string {
	sections := []struct {
		source knowledge.Source
		title  string
	}{
		{knowledge.SourceCorrection, "Corrections from the team (always follow these)"},
		{knowledge.SourceEvolution, "Current direction of the codebase"},
		{knowledge.SourceOnboarding, "Repository architecture and conventions"},
	}

	var b strings.Builder
	b.WriteString("## Repository knowledge\n\n")
	for _, s := range sections {
		var items []string
		for _, e := range entries {
			if e.Source == s.source {
				items = append(items, strings.TrimSpace(e.Content))
			}
		}
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", s.title)
		for _, item := range items {
			if s.source == knowledge.SourceCorrection {
				fmt.Fprintf(&b, "- %s\n", item)
			} else {
				b.WriteString(item)
				b.WriteString("\n\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
