package onboard

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/louroai/louro/github"
	"github.com/louroai/louro/review"
)

const (
	// MaxTreePaths bounds the file tree shown to the agents.
	MaxTreePaths = 500
	// MaxFileChars caps each fetched file.
	MaxFileChars = 8000
	// RecentCommits is how many commits of the default branch are inspected.
	RecentCommits = 15
	// MaxSampleFiles bounds each group of code samples.
	MaxSampleFiles = 15
	// MaxConcurrentFetches bounds concurrent GitHub reads during onboarding.
	MaxConcurrentFetches = 5

	recentPullRequests = 15
	maxListedRecent    = 100
)

var keyFiles = []string{
	"go.mod", "package.json", "pyproject.toml", "Cargo.toml", "pom.xml", "build.gradle",
	"tsconfig.json", ".eslintrc.json", ".eslintrc.js", "eslint.config.js",
	".prettierrc", ".prettierrc.json", ".editorconfig", ".golangci.yml", "setup.cfg",
	"Makefile", "Dockerfile", "docker-compose.yml",
	"README.md", "ARCHITECTURE.md", "CONTRIBUTING.md",
}

// structuralMarkers select files that usually show how an application is wired.
var structuralMarkers = []string{
	"main.", "app.", "server.", "index.", "routes.", "router.", "urls.",
	"/cmd/", "/internal/", "/services/", "/service/", "/usecases/", "/handlers/",
	"/handler/", "/controllers/", "/repositories/", "/repository/", "/middleware",
	"/models/", "/domain/", "/entities/",
}

// Source is the GitHub read surface onboarding needs.
type Source interface {
	review.RepoFiles
	GetRepository(ctx context.Context, installationID int64, owner, repo string) (*github.Repository, error)
	ListCommits(ctx context.Context, installationID int64, owner, repo, ref string, limit int) ([]github.Commit, error)
	GetCommitFiles(ctx context.Context, installationID int64, owner, repo, sha string) ([]string, error)
	ListMergedPullRequests(ctx context.Context, installationID int64, owner, repo string, limit int) ([]github.PullRequest, error)
}

// Snapshot is what the onboarding agents get to read about a repository.
type Snapshot struct {
	Repo          string
	Branch        string
	Tree          []string
	KeyFiles      []File
	Structural    []File
	RecentFiles   []string
	RecentSamples []File
	MergedPRs     []github.PullRequest
}

// File is a fetched file, truncated to MaxFileChars.
type File struct {
	Path    string
	Content string
}

type collector struct {
	src            Source
	installationID int64
	owner, name    string
	branch         string
	sem            *semaphore.Weighted
	logf           func(msg string, args ...any)
}

// collect gathers the snapshot. Only the tree is required; missing files,
// commits or pull requests leave their section empty.
func (c *collector) collect(ctx context.Context) (*Snapshot, error) {
	tree, err := c.src.GetTree(ctx, c.installationID, c.owner, c.name, c.branch, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository tree: %w", err)
	}

	snap := &Snapshot{
		Repo:   c.owner + "/" + c.name,
		Branch: c.branch,
		Tree:   tree[:min(len(tree), MaxTreePaths)],
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		recent  []string
	)
	g.Go(func() error {
		snap.KeyFiles = c.fetchFiles(gctx, selectKeyFiles(tree))
		return nil
	})
	g.Go(func() error {
		snap.Structural = c.fetchFiles(gctx, selectStructural(tree))
		return nil
	})
	g.Go(func() error {
		recent = c.recentlyChanged(gctx)
		return nil
	})
	g.Go(func() error {
		prs, err := c.src.ListMergedPullRequests(gctx, c.installationID, c.owner, c.name, recentPullRequests)
		if err != nil {
			c.logf("could not list merged pull requests", "error", err)
			return nil
		}
		snap.MergedPRs = prs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.RecentFiles = recent
	snap.RecentSamples = c.fetchFiles(ctx, recent[:min(len(recent), MaxSampleFiles)])
	return snap, ctx.Err()
}

// fetchFiles reads paths concurrently under the shared semaphore, keeping the
// input order and dropping files that fail or are empty.
func (c *collector) fetchFiles(ctx context.Context, paths []string) []File {
	files := make([]File, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		g.Go(func() error {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer c.sem.Release(1)

			content, err := c.src.GetFileContent(ctx, c.installationID, c.owner, c.name, p, c.branch)
			if err != nil {
				c.logf("could not fetch file", "path", p, "error", err)
				return nil
			}
			if len(content) > MaxFileChars {
				content = content[:MaxFileChars]
			}
			files[i] = File{Path: p, Content: content}
			return nil
		})
	}
	_ = g.Wait()

	return slices.DeleteFunc(files, func(f File) bool { return f.Content == "" })
}

// recentlyChanged lists code files touched by the latest commits, newest first.
func (c *collector) recentlyChanged(ctx context.Context) []string {
	commits, err := c.src.ListCommits(ctx, c.installationID, c.owner, c.name, c.branch, RecentCommits)
	if err != nil {
		c.logf("could not list recent commits", "error", err)
		return nil
	}
	commits = commits[:min(len(commits), RecentCommits)]

	perCommit := make([][]string, len(commits))
	var g errgroup.Group
	for i, commit := range commits {
		g.Go(func() error {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer c.sem.Release(1)

			files, err := c.src.GetCommitFiles(ctx, c.installationID, c.owner, c.name, commit.SHA)
			if err != nil {
				c.logf("could not fetch commit files", "sha", commit.SHA, "error", err)
				return nil
			}
			perCommit[i] = files
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var ordered []string
	for _, files := range perCommit {
		for _, f := range files {
			if seen[f] || !isCodeFile(f) || review.ShouldSkipFile(f) {
				continue
			}
			seen[f] = true
			ordered = append(ordered, f)
		}
	}
	return ordered
}

func selectKeyFiles(tree []string) []string {
	var out []string
	for _, p := range tree {
		if slices.Contains(keyFiles, path.Base(p)) && strings.Count(p, "/") <= 1 {
			out = append(out, p)
		}
	}
	return out
}

func selectStructural(tree []string) []string {
	var out []string
	for _, p := range tree {
		if !isCodeFile(p) || review.ShouldSkipFile(p) || review.IsTestFile(p) {
			continue
		}
		lower := "/" + strings.ToLower(p)
		for _, marker := range structuralMarkers {
			if strings.Contains(lower, marker) {
				out = append(out, p)
				break
			}
		}
		if len(out) == MaxSampleFiles {
			break
		}
	}
	return out
}

func isCodeFile(p string) bool {
	return review.DetectLanguage(p) != ""
}
