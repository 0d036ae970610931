package onboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louroai/louro/anthropic"
	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
	"github.com/louroai/louro/storage"
)

type fakeSource struct {
	mu          sync.Mutex
	tree        []string
	files       map[string]string
	commits     []github.Commit
	commitFiles map[string][]string
	merged      []github.PullRequest
	treeErr     error
	branch      string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	refs        []string
}

func (f *fakeSource) track() func() {
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeSource) GetFileContent(_ context.Context, _ int64, _, _, path, ref string) (string, error) {
	defer f.track()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	return f.files[path], nil
}

func (f *fakeSource) GetTree(_ context.Context, _ int64, _, _, _ string, _ int) ([]string, error) {
	return f.tree, f.treeErr
}

func (f *fakeSource) GetRepository(_ context.Context, _ int64, owner, name string) (*github.Repository, error) {
	return &github.Repository{FullName: owner + "/" + name, DefaultBranch: f.branch}, nil
}

func (f *fakeSource) ListCommits(_ context.Context, _ int64, _, _, _ string, limit int) ([]github.Commit, error) {
	return f.commits[:min(limit, len(f.commits))], nil
}

func (f *fakeSource) GetCommitFiles(_ context.Context, _ int64, _, _, sha string) ([]string, error) {
	defer f.track()()
	return f.commitFiles[sha], nil
}

func (f *fakeSource) ListMergedPullRequests(context.Context, int64, string, string, int) ([]github.PullRequest, error) {
	return f.merged, nil
}

type fakeAgent struct {
	mu       sync.Mutex
	requests []anthropic.Request
	failOn   string
}

func (a *fakeAgent) Run(_ context.Context, req anthropic.Request) (*anthropic.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if req.System == evolutionSystemPrompt {
		if a.failOn == "evolution" {
			return nil, errors.New("model overloaded")
		}
		return &anthropic.Result{Text: "The team is moving handlers to the chi router."}, nil
	}
	return &anthropic.Result{Text: "Go service with cmd/ and internal/ layout; errors wrapped with fmt.Errorf."}, nil
}

func newSource() *fakeSource {
	src := &fakeSource{
		tree: []string{
			"go.mod", "README.md", "cmd/api/main.go", "internal/handlers/user.go",
			"internal/handlers/user_test.go", "docs/guide.md", "go.sum",
		},
		files: map[string]string{
			"go.mod":                    "module example.com/api\n",
			"README.md":                 strings.Repeat("x", MaxFileChars+500),
			"cmd/api/main.go":           "package main\n",
			"internal/handlers/user.go": "package handlers\n",
		},
		commitFiles: map[string][]string{},
		merged:      []github.PullRequest{{Number: 41, Title: "Move user handler to chi"}},
		branch:      "trunk",
	}
	for i := range 20 {
		sha := fmt.Sprintf("c%02d", i)
		src.commits = append(src.commits, github.Commit{SHA: sha})
		src.commitFiles[sha] = []string{"internal/handlers/user.go", "go.sum", fmt.Sprintf("internal/svc/f%02d.go", i)}
	}
	return src
}

func newTestService(t *testing.T, src *fakeSource, agent *fakeAgent) (*Service, *storage.Memory, *knowledge.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := storage.NewMemory()
	require.NoError(t, repos.UpsertRepository(context.Background(), &storage.Repository{FullName: "acme/api", InstallationID: 3}))
	kb := knowledge.NewMemoryStore()
	base := knowledge.NewBase(kb, knowledge.NewHashingEmbedder(), logger)
	return NewService(src, repos, base, agent, "reviewer", logger), repos, kb
}

func TestOnboardActivatesAndStoresKnowledge(t *testing.T) {
	src := newSource()
	agent := &fakeAgent{}
	svc, repos, kb := newTestService(t, src, agent)
	ctx := context.Background()

	require.NoError(t, svc.Onboard(ctx, "acme/api"))

	repo, err := repos.GetRepository(ctx, "acme/api")
	require.NoError(t, err)
	assert.Equal(t, storage.RepoActive, repo.Status)
	assert.Equal(t, "trunk", repo.DefaultBranch)

	entries := kb.All("acme/api")
	require.Len(t, entries, 2)
	sources := []knowledge.Source{entries[0].Source, entries[1].Source}
	assert.ElementsMatch(t, []knowledge.Source{knowledge.SourceOnboarding, knowledge.SourceEvolution}, sources)

	require.Len(t, agent.requests, 2)
	assert.Equal(t, onboardingSystemPrompt, agent.requests[0].System)
	assert.Len(t, agent.requests[0].Tools, 3)
	assert.Contains(t, agent.requests[1].Prompt, "#41: Move user handler to chi")

	assert.LessOrEqual(t, src.maxInFlight.Load(), int32(MaxConcurrentFetches))
	for _, ref := range src.refs {
		assert.Equal(t, "trunk", ref)
	}
}

func TestOnboardFailureResetsToPending(t *testing.T) {
	src := newSource()
	svc, repos, kb := newTestService(t, src, &fakeAgent{failOn: "evolution"})
	ctx := context.Background()

	err := svc.Onboard(ctx, "acme/api")
	require.Error(t, err)

	repo, err := repos.GetRepository(ctx, "acme/api")
	require.NoError(t, err)
	assert.Equal(t, storage.RepoPending, repo.Status)
	assert.Len(t, kb.All("acme/api"), 1)
}

func TestOnboardTreeFailureResetsToPending(t *testing.T) {
	src := newSource()
	src.treeErr = github.ErrNotFound
	agent := &fakeAgent{}
	svc, repos, _ := newTestService(t, src, agent)
	ctx := context.Background()

	err := svc.Onboard(ctx, "acme/api")
	require.ErrorIs(t, err, github.ErrNotFound)
	assert.Empty(t, agent.requests)

	repo, _ := repos.GetRepository(ctx, "acme/api")
	assert.Equal(t, storage.RepoPending, repo.Status)
}

func TestOnboardRejectsActiveRepository(t *testing.T) {
	svc, repos, _ := newTestService(t, newSource(), &fakeAgent{})
	ctx := context.Background()
	require.NoError(t, repos.SetRepositoryStatus(ctx, "acme/api", storage.RepoActive))

	err := svc.Onboard(ctx, "acme/api")
	require.ErrorIs(t, err, storage.ErrInvalidTransition)

	repo, _ := repos.GetRepository(ctx, "acme/api")
	assert.Equal(t, storage.RepoActive, repo.Status)
}

func TestOnboardUnknownRepository(t *testing.T) {
	svc, _, _ := newTestService(t, newSource(), &fakeAgent{})
	require.ErrorIs(t, svc.Onboard(context.Background(), "acme/missing"), storage.ErrRepoNotFound)
}

func TestHandleTaskDecodesRequest(t *testing.T) {
	svc, repos, _ := newTestService(t, newSource(), &fakeAgent{})
	task, err := dispatch.NewTask(dispatch.KindOnboard, github.OnboardKey("acme/api", "t1"), "acme/api", Request{Repo: "acme/api", TriggerID: "t1"})
	require.NoError(t, err)

	require.NoError(t, svc.HandleTask(context.Background(), task))
	repo, _ := repos.GetRepository(context.Background(), "acme/api")
	assert.Equal(t, storage.RepoActive, repo.Status)
}

func TestCollectSnapshot(t *testing.T) {
	src := newSource()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, _, _ := newTestService(t, src, &fakeAgent{})
	c := &collector{src: src, installationID: 3, owner: "acme", name: "api", branch: "trunk", sem: svc.sem, logf: logger.Warn}

	snap, err := c.collect(context.Background())
	require.NoError(t, err)

	var keyPaths []string
	for _, f := range snap.KeyFiles {
		keyPaths = append(keyPaths, f.Path)
		assert.LessOrEqual(t, len(f.Content), MaxFileChars)
	}
	assert.Equal(t, []string{"go.mod", "README.md"}, keyPaths)

	var structural []string
	for _, f := range snap.Structural {
		structural = append(structural, f.Path)
	}
	assert.Equal(t, []string{"cmd/api/main.go", "internal/handlers/user.go"}, structural)

	// 15 commits: the shared handler file plus one file per commit, no go.sum.
	assert.Len(t, snap.RecentFiles, 1+RecentCommits)
	assert.Equal(t, "internal/handlers/user.go", snap.RecentFiles[0])
	assert.NotContains(t, snap.RecentFiles, "go.sum")
	assert.NotContains(t, snap.RecentFiles, "internal/svc/f15.go")

	prompt := OnboardingPrompt(snap)
	assert.Contains(t, prompt, "Repository: acme/api (branch trunk)")
	assert.Contains(t, prompt, "### cmd/api/main.go")
}

func TestTreeIsCapped(t *testing.T) {
	src := newSource()
	for i := range 600 {
		src.tree = append(src.tree, fmt.Sprintf("pkg/f%03d.txt", i))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, _, _ := newTestService(t, src, &fakeAgent{})
	c := &collector{src: src, installationID: 3, owner: "acme", name: "api", branch: "trunk", sem: svc.sem, logf: logger.Warn}

	snap, err := c.collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Tree, MaxTreePaths)
}
