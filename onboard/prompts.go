package onboard

import (
	"fmt"
	"strings"
)

const onboardingSystemPrompt = `You are studying a code repository so that later code reviews follow the way this team actually writes software. You receive the file tree, the key configuration files, structural code samples and recently modified code. You may read more files with the tools.

Write a reference document with these sections:

## Stack
Languages, frameworks, major libraries and build tooling.

## Architecture
The architectural style, how modules are organized (by feature, layer or domain), how dependencies are wired, and the path a request takes through the code.

## Conventions
Naming of files, types, functions and variables; import grouping; error handling; logging; testing style and libraries; lint and format settings.

## Direction
Which patterns the newest code uses and which older patterns it is moving away from. When old and new code disagree, the new code wins.

Be concrete: cite files and identifiers. Do not describe generic best practices that the code does not show.`

const evolutionSystemPrompt = `You are studying the recent history of a code repository to learn where it is heading. You receive recently merged pull request titles, the files changed by recent commits, code from those files and older structural code.

Describe:
1. Patterns being adopted: libraries, structures or conventions that appear in the newest code.
2. Patterns being retired: what the recent changes replace or remove.
3. Migrations in progress, with the files that are already migrated and those that are not.
4. The reference shape of a new file or module in this repository today.

Cite files and identifiers. Reviews will use this to enforce the current direction rather than legacy code.`

// OnboardingPrompt renders the snapshot for the onboarding agent.
func OnboardingPrompt(s *Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (branch %s)\n\n", s.Repo, s.Branch)
	fmt.Fprintf(&b, "## File tree\n\n```\n%s\n```\n\n", strings.Join(s.Tree, "\n"))
	writeFiles(&b, "Configuration files", s.KeyFiles)
	writeFiles(&b, "Structural code (entry points, services, handlers)", s.Structural)
	writeFiles(&b, "Recently modified code (current direction)", s.RecentSamples)
	return b.String()
}

// EvolutionPrompt renders the recent history for the evolution agent.
func EvolutionPrompt(s *Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (branch %s)\n\n", s.Repo, s.Branch)

	b.WriteString("## Recently merged pull requests\n\n")
	if len(s.MergedPRs) == 0 {
		b.WriteString("(none found)\n")
	}
	for _, pr := range s.MergedPRs {
		fmt.Fprintf(&b, "- #%d: %s\n", pr.Number, pr.Title)
	}
	b.WriteString("\n")

	recent := s.RecentFiles[:min(len(s.RecentFiles), maxListedRecent)]
	fmt.Fprintf(&b, "## Files changed in recent commits\n\n%s\n\n", strings.Join(recent, "\n"))

	writeFiles(&b, "Recently modified code (newest patterns)", s.RecentSamples)
	writeFiles(&b, "Older structural code (possibly legacy)", s.Structural)
	return b.String()
}

func writeFiles(b *strings.Builder, title string, files []File) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, f := range files {
		fmt.Fprintf(b, "### %s\n```\n%s\n```\n\n", f.Path, f.Content)
	}
}
