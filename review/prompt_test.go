package review

import (
	"strings"
	"testing"
	"time"

	"github.com/louroai/louro/config"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
)

func TestSystemPromptLanguage(t *testing.T) {
	tests := []struct {
		language string
		contains string
	}{
		{config.LanguagePortuguese, "português brasileiro"},
		{config.LanguageEnglish, "Respond in English"},
		{"fr-FR", "português brasileiro"},
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			got := SystemPrompt(tt.language, nil)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("system prompt for %s missing %q", tt.language, tt.contains)
			}
			for _, l := range Labels {
				if !strings.Contains(got, "- "+string(l)+":") {
					t.Errorf("system prompt missing label %q", l)
				}
			}
		})
	}
}

func TestSystemPromptRepoConfig(t *testing.T) {
	cfg := &config.RepoConfig{
		Enabled:      true,
		Instructions: "Focus on security issues",
		ProjectNotes: "This is a Go project using chi.",
	}
	got := SystemPrompt(config.LanguageEnglish, cfg)
	if !strings.Contains(got, "## Repository-Specific Instructions\n\nFocus on security issues") {
		t.Error("missing repository instructions")
	}
	if !strings.Contains(got, "## Project Context\n\nThis is a Go project using chi.") {
		t.Error("missing project notes")
	}
}

func TestRenderBody(t *testing.T) {
	tests := []struct {
		name     string
		finding  Finding
		language string
		want     string
	}{
		{"english blocking", Finding{Label: LabelIssue, Blocking: true, Body: "Unparameterized query."}, config.LanguageEnglish, "**issue (blocking):** Unparameterized query."},
		{"english non-blocking", Finding{Label: LabelSuggestion, Body: "Extract a helper."}, config.LanguageEnglish, "**suggestion (non-blocking):** Extract a helper."},
		{"portuguese", Finding{Label: LabelSuggestion, Body: "Extraia um metodo."}, config.LanguagePortuguese, "**sugestao (nao-bloqueante):** Extraia um metodo."},
		{"portuguese blocking", Finding{Label: LabelIssue, Blocking: true, Body: "Bug."}, config.LanguagePortuguese, "**problema (bloqueante):** Bug."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderBody(tt.finding, tt.language); got != tt.want {
				t.Errorf("RenderBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	fd := ParsePatch("internal/user.go", "@@ -1,2 +1,3 @@\n package user\n+var userName string\n func x() {}")
	fd.Status = "modified"
	rc := &ReviewContext{
		Language: config.LanguageEnglish,
		PullRequest: &github.PullRequest{
			Title: "Add user name",
			Head:  &github.Ref{Ref: "feature"},
			Base:  &github.Ref{Ref: "main"},
		},
		Files:   []FileDiff{*fd},
		Diff:    formatDiffBlock(fd),
		Omitted: []string{"big.go"},
		Skipped: []string{"go.sum"},
		Knowledge: []knowledge.Entry{
			{Source: knowledge.SourceOnboarding, Content: "Go service with a repository layer.", CreatedAt: time.Now()},
			{Source: knowledge.SourceCorrection, Content: "Variables use snake_case in this repository.", CreatedAt: time.Now()},
		},
	}

	got := BuildPrompt(rc)

	for _, want := range []string{
		"**Title:** Add user name",
		"**Branch:** feature -> main",
		"(No description provided)",
		"### Corrections from the team (always follow these)\n\n- Variables use snake_case in this repository.",
		"Go service with a repository layer.",
		"- internal/user.go (modified, +1/-0) tests: internal/user_test.go",
		"R     2 | +var userName string",
		"1 more file(s) omitted",
		"1 generated, lock or excluded file(s)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q\n%s", want, got)
		}
	}

	if strings.Index(got, "Corrections from the team") > strings.Index(got, "Repository architecture") {
		t.Error("corrections should come before onboarding knowledge")
	}
}

func TestReplySystemPrompt(t *testing.T) {
	got := ReplySystemPrompt(config.LanguagePortuguese)
	if !strings.Contains(got, "**sugestao:**") || !strings.Contains(got, "português") {
		t.Errorf("unexpected reply prompt: %s", got)
	}
}
