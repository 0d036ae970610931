package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/louroai/louro/config"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
)

const (
	// MaxDiffChars caps the annotated diff handed to the agent (~25k tokens).
	MaxDiffChars = 100_000

	// maxQueryChars bounds the text embedded for knowledge retrieval.
	maxQueryChars = 4000
)

// ErrReviewDisabled is returned when the repository config turns reviews off.
var ErrReviewDisabled = errors.New("reviews disabled by repository config")

// PullRequestSource reads pull requests and their files.
type PullRequestSource interface {
	GetPullRequest(ctx context.Context, installationID int64, owner, repo string, prNumber int) (*github.PullRequest, error)
	ListPullRequestFiles(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]github.PullRequestFile, error)
}

// Retriever returns the repository knowledge relevant to a text.
type Retriever interface {
	Retrieve(ctx context.Context, repo, text string, k, recent int) ([]knowledge.Entry, error)
}

// LanguageSource returns an organization's review language, "" when unset.
type LanguageSource interface {
	GetOrgLanguage(ctx context.Context, org string) (string, error)
}

// AssemblerOptions tunes retrieval and the fallback language.
type AssemblerOptions struct {
	TopK              int
	RecentCorrections int
	DefaultLanguage   string
}

// Assembler gathers the diff, configuration and knowledge for a review.
type Assembler struct {
	prs       PullRequestSource
	configs   *config.Loader
	knowledge Retriever
	languages LanguageSource
	opts      AssemblerOptions
	logger    *slog.Logger
}

// NewAssembler creates an Assembler. knowledge and languages may be nil.
func NewAssembler(prs PullRequestSource, configs *config.Loader, kb Retriever, languages LanguageSource, opts AssemblerOptions, logger *slog.Logger) *Assembler {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = config.DefaultLanguage
	}
	return &Assembler{
		prs:       prs,
		configs:   configs,
		knowledge: kb,
		languages: languages,
		opts:      opts,
		logger:    logger,
	}
}

// Assemble builds the review context of a pull request revision. Failing to
// read the pull request or its files is an error; knowledge lookup failures
// only leave the knowledge section empty.
func (a *Assembler) Assemble(ctx context.Context, ref PullRequestRef) (*ReviewContext, error) {
	owner, name, err := github.SplitRepo(ref.Repo)
	if err != nil {
		return nil, err
	}

	pr, err := a.prs.GetPullRequest(ctx, ref.InstallationID, owner, name, ref.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request: %w", err)
	}
	if ref.HeadSHA == "" && pr.Head != nil {
		ref.HeadSHA = pr.Head.SHA
	}

	rc := &ReviewContext{
		Ref:         ref,
		Owner:       owner,
		Name:        name,
		PullRequest: pr,
	}

	rc.Config, err = a.loadConfig(ctx, rc)
	if err != nil {
		return nil, err
	}
	if !rc.Config.Enabled {
		return nil, ErrReviewDisabled
	}
	rc.Language = a.language(ctx, owner, rc.Config)

	files, err := a.prs.ListPullRequestFiles(ctx, ref.InstallationID, owner, name, ref.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch diff: %w", err)
	}

	a.buildDiff(rc, files)

	a.logger.Info("assembled diff",
		"files", len(rc.Files),
		"skipped", len(rc.Skipped),
		"omitted", len(rc.Omitted),
		"size", rc.TotalSize(),
	)

	if a.knowledge != nil && !rc.IsEmpty() {
		entries, err := a.knowledge.Retrieve(ctx, ref.Repo, queryText(rc), a.opts.TopK, a.opts.RecentCorrections)
		if err != nil {
			a.logger.Warn("knowledge retrieval failed, reviewing without it", "error", err)
		} else {
			rc.Knowledge = entries
		}
	}

	return rc, nil
}

// loadConfig reads the repository config from the base branch so a pull
// request cannot change its own review rules.
func (a *Assembler) loadConfig(ctx context.Context, rc *ReviewContext) (*config.RepoConfig, error) {
	if a.configs == nil {
		return config.DefaultRepoConfig(), nil
	}
	ref := ""
	if rc.PullRequest.Base != nil {
		ref = rc.PullRequest.Base.Ref
	}
	cfg, err := a.configs.Load(ctx, rc.Ref.InstallationID, rc.Owner, rc.Name, ref)
	if err != nil {
		var parseErr *config.ConfigParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("invalid config file %s: %w", parseErr.Path, parseErr.Err)
		}
		a.logger.Warn("failed to load config, using defaults", "error", err)
		return config.DefaultRepoConfig(), nil
	}
	return cfg, nil
}

func (a *Assembler) language(ctx context.Context, org string, cfg *config.RepoConfig) string {
	if cfg.Language != "" {
		if lang, err := config.CanonicalLanguage(cfg.Language); err == nil {
			return lang
		}
	}
	if a.languages != nil {
		lang, err := a.languages.GetOrgLanguage(ctx, org)
		if err != nil {
			a.logger.Warn("failed to read organization language", "org", org, "error", err)
		} else if lang != "" {
			return lang
		}
	}
	return a.opts.DefaultLanguage
}

// buildDiff filters files, parses patches and applies the size cap. Files past
// the cap contribute no anchors.
func (a *Assembler) buildDiff(rc *ReviewContext, files []github.PullRequestFile) {
	var diff strings.Builder
	capped := false

	for _, f := range files {
		if ShouldSkipFile(f.Filename) || rc.Config.ShouldExcludeFile(f.Filename) {
			rc.Skipped = append(rc.Skipped, f.Filename)
			continue
		}
		if f.Patch == "" {
			continue
		}
		if capped {
			rc.Omitted = append(rc.Omitted, f.Filename)
			continue
		}

		fd := ParsePatch(f.Filename, f.Patch)
		fd.Status = f.Status
		fd.Additions = f.Additions
		fd.Deletions = f.Deletions

		block := formatDiffBlock(fd)
		if diff.Len()+len(block) > MaxDiffChars {
			capped = true
			rc.Omitted = append(rc.Omitted, f.Filename)
			continue
		}
		diff.WriteString(block)
		rc.Files = append(rc.Files, *fd)
	}

	rc.Diff = diff.String()
	rc.Anchors = BuildAnchors(rc.Files)
}

// queryText summarizes the change for knowledge retrieval: title, file list
// and added lines.
func queryText(rc *ReviewContext) string {
	var b strings.Builder
	b.WriteString(rc.PullRequest.Title)
	b.WriteString("\n")
	for _, f := range rc.Files {
		b.WriteString(f.Path)
		b.WriteString("\n")
	}
	for _, f := range rc.Files {
		for _, h := range f.Hunks {
			for _, l := range h.Lines {
				if l.Kind != LineAdded {
					continue
				}
				if b.Len() >= maxQueryChars {
					return cutAtRune(b.String(), maxQueryChars)
				}
				b.WriteString(l.Text)
				b.WriteString("\n")
			}
		}
	}
	return cutAtRune(b.String(), maxQueryChars)
}
