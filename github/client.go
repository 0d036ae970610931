package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v66/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"

	"github.com/louroai/louro/apperr"
)

const (
	// MaxPages caps pagination of any listing.
	MaxPages = 50

	perPage = 100

	requestTimeout = 30 * time.Second
)

// ErrNotFound is wrapped by errors for resources GitHub reports as missing.
var ErrNotFound = errors.New("github resource not found")

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL overrides the REST API root, e.g. for an httptest server.
	BaseURL string
	// MaxConcurrency bounds in-flight requests across all installations.
	MaxConcurrency int
	// Transport is the innermost round tripper. Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// Client provides methods to interact with the GitHub API on behalf of app installations.
type Client struct {
	creds   *Credentials
	baseURL *url.URL
	gate    *semaphore.Weighted
	base    http.RoundTripper
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	clients map[int64]*gh.Client
}

// NewClient creates a new GitHub API client. Each installation gets its own
// go-github client whose transport injects the installation token, caches
// conditional GETs, sleeps through secondary rate limits and retries transient failures.
func NewClient(creds *Credentials, opts ClientOptions, logger *slog.Logger) (*Client, error) {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := parseBaseURL(raw)
	if err != nil {
		return nil, err
	}

	return &Client{
		creds:   creds,
		baseURL: u,
		gate:    semaphore.NewWeighted(int64(concurrency)),
		base:    base,
		logger:  logger,
		sleep:   sleepContext,
		clients: make(map[int64]*gh.Client),
	}, nil
}

// installation returns the go-github client authenticated for the installation.
func (c *Client) installation(installationID int64) *gh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[installationID]; ok {
		return client
	}

	cache := httpcache.NewMemoryCacheTransport()
	cache.Transport = c.base
	rateLimited := github_ratelimit.NewClient(cache)

	transport := &retryTransport{
		next: &oauth2.Transport{
			Source: c.creds.TokenSource(installationID),
			Base:   rateLimited.Transport,
		},
		gate:           c.gate,
		creds:          c.creds,
		installationID: installationID,
		logger:         c.logger,
		sleep:          c.sleep,
	}

	client := gh.NewClient(&http.Client{Transport: transport, Timeout: requestTimeout})
	client.BaseURL = c.baseURL
	c.clients[installationID] = client
	return client
}

// Forget drops the cached token and client of an uninstalled installation.
func (c *Client) Forget(installationID int64) {
	c.creds.Forget(installationID)
	c.mu.Lock()
	delete(c.clients, installationID)
	c.mu.Unlock()
}

// GetPullRequest fetches a pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, installationID int64, owner, repo string, prNumber int) (*PullRequest, error) {
	pr, resp, err := c.installation(installationID).PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, wrapError("fetch pull request", resp, err)
	}
	return mapPullRequest(pr), nil
}

// ListPullRequestFiles fetches the files changed in a pull request with their patches.
func (c *Client) ListPullRequestFiles(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]PullRequestFile, error) {
	client := c.installation(installationID)
	opts := &gh.ListOptions{PerPage: perPage}

	var files []PullRequestFile
	for page := 0; page < MaxPages; page++ {
		batch, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, wrapError("fetch pull request files", resp, err)
		}
		for _, f := range batch {
			files = append(files, PullRequestFile{
				Filename:         f.GetFilename(),
				Status:           f.GetStatus(),
				Additions:        f.GetAdditions(),
				Deletions:        f.GetDeletions(),
				Patch:            f.GetPatch(),
				PreviousFilename: f.GetPreviousFilename(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// GetFileContent fetches the content of a file at ref. A missing file returns "" and no error.
func (c *Client) GetFileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, error) {
	var opts *gh.RepositoryContentGetOptions
	if ref != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: ref}
	}
	file, _, resp, err := c.installation(installationID).Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", wrapError("fetch file", resp, err)
	}
	if file == nil {
		return "", fmt.Errorf("failed to fetch file: %s is a directory", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode file content: %w", err)
	}
	return content, nil
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, installationID int64, owner, repo string) (*Repository, error) {
	r, resp, err := c.installation(installationID).Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, wrapError("fetch repository", resp, err)
	}
	return &Repository{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		Owner:         &User{ID: r.GetOwner().GetID(), Login: r.GetOwner().GetLogin(), Type: r.GetOwner().GetType()},
	}, nil
}

// GetTree lists the blob paths of the tree at ref, at most limit of them.
func (c *Client) GetTree(ctx context.Context, installationID int64, owner, repo, ref string, limit int) ([]string, error) {
	tree, resp, err := c.installation(installationID).Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, wrapError("fetch tree", resp, err)
	}
	var paths []string
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		paths = append(paths, entry.GetPath())
		if limit > 0 && len(paths) >= limit {
			break
		}
	}
	return paths, nil
}

// ListCommits returns the most recent commits on ref.
func (c *Client) ListCommits(ctx context.Context, installationID int64, owner, repo, ref string, limit int) ([]Commit, error) {
	opts := &gh.CommitsListOptions{SHA: ref, ListOptions: gh.ListOptions{PerPage: limit}}
	commits, resp, err := c.installation(installationID).Repositories.ListCommits(ctx, owner, repo, opts)
	if err != nil {
		return nil, wrapError("fetch commits", resp, err)
	}
	result := make([]Commit, 0, len(commits))
	for _, rc := range commits {
		result = append(result, Commit{
			SHA:     rc.GetSHA(),
			Message: rc.GetCommit().GetMessage(),
			Date:    rc.GetCommit().GetAuthor().GetDate().Time,
		})
	}
	return result, nil
}

// GetCommitFiles returns the paths a commit touched.
func (c *Client) GetCommitFiles(ctx context.Context, installationID int64, owner, repo, sha string) ([]string, error) {
	commit, resp, err := c.installation(installationID).Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, wrapError("fetch commit", resp, err)
	}
	paths := make([]string, 0, len(commit.Files))
	for _, f := range commit.Files {
		paths = append(paths, f.GetFilename())
	}
	return paths, nil
}

// ListMergedPullRequests returns up to limit recently merged pull requests.
func (c *Client) ListMergedPullRequests(ctx context.Context, installationID int64, owner, repo string, limit int) ([]PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	prs, resp, err := c.installation(installationID).PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, wrapError("list pull requests", resp, err)
	}
	var merged []PullRequest
	for _, pr := range prs {
		if pr.MergedAt == nil {
			continue
		}
		merged = append(merged, *mapPullRequest(pr))
		if len(merged) >= limit {
			break
		}
	}
	return merged, nil
}

// CreateReview posts a review on a pull request.
func (c *Client) CreateReview(ctx context.Context, installationID int64, owner, repo string, prNumber int, review *ReviewRequest) (*Review, error) {
	req := &gh.PullRequestReviewRequest{
		Body:  gh.String(review.Body),
		Event: gh.String(review.Event),
	}
	if review.CommitID != "" {
		req.CommitID = gh.String(review.CommitID)
	}
	for _, comment := range review.Comments {
		req.Comments = append(req.Comments, &gh.DraftReviewComment{
			Path: gh.String(comment.Path),
			Line: gh.Int(comment.Line),
			Side: gh.String(comment.Side),
			Body: gh.String(comment.Body),
		})
	}

	created, resp, err := c.installation(installationID).PullRequests.CreateReview(ctx, owner, repo, prNumber, req)
	if err != nil {
		return nil, wrapError("create review", resp, err)
	}
	return &Review{ID: created.GetID(), HTMLURL: created.GetHTMLURL(), State: created.GetState()}, nil
}

// UpdatePullRequestBody replaces the description of a pull request.
func (c *Client) UpdatePullRequestBody(ctx context.Context, installationID int64, owner, repo string, prNumber int, body string) error {
	_, resp, err := c.installation(installationID).PullRequests.Edit(ctx, owner, repo, prNumber, &gh.PullRequest{Body: gh.String(body)})
	if err != nil {
		return wrapError("update pull request", resp, err)
	}
	return nil
}

// ListReviewComments fetches all review comments for a pull request.
func (c *Client) ListReviewComments(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]PullRequestComment, error) {
	client := c.installation(installationID)
	opts := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	var comments []PullRequestComment
	for page := 0; page < MaxPages; page++ {
		batch, resp, err := client.PullRequests.ListComments(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, wrapError("fetch comments", resp, err)
		}
		for _, comment := range batch {
			comments = append(comments, mapComment(comment))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return comments, nil
}

// CreateReplyComment posts a reply in the thread of a review comment.
func (c *Client) CreateReplyComment(ctx context.Context, installationID int64, owner, repo string, prNumber int, commentID int64, body string) (*PullRequestComment, error) {
	comment, resp, err := c.installation(installationID).PullRequests.CreateCommentInReplyTo(ctx, owner, repo, prNumber, body, commentID)
	if err != nil {
		return nil, wrapError("create reply", resp, err)
	}
	mapped := mapComment(comment)
	return &mapped, nil
}

// wrapError classifies a go-github failure: 404 wraps ErrNotFound, 429 and 5xx
// become TransientUpstreamError, credential failures pass through unchanged.
func wrapError(op string, resp *gh.Response, err error) error {
	var authErr *apperr.AuthenticationError
	if errors.As(err, &authErr) {
		return err
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("failed to %s: %w: %v", op, ErrNotFound, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return &apperr.TransientUpstreamError{Service: "github", StatusCode: status, Err: fmt.Errorf("failed to %s: %w", op, err)}
	case apperr.IsTransient(err):
		return &apperr.TransientUpstreamError{Service: "github", Err: fmt.Errorf("failed to %s: %w", op, err)}
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

func mapPullRequest(pr *gh.PullRequest) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		State:   pr.GetState(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		Head:    &Ref{Ref: pr.GetHead().GetRef(), SHA: pr.GetHead().GetSHA()},
		Base:    &Ref{Ref: pr.GetBase().GetRef(), SHA: pr.GetBase().GetSHA()},
		User:    &User{ID: pr.GetUser().GetID(), Login: pr.GetUser().GetLogin(), Type: pr.GetUser().GetType()},
		HTMLURL: pr.GetHTMLURL(),
		Draft:   pr.GetDraft(),
	}
}

func mapComment(c *gh.PullRequestComment) PullRequestComment {
	return PullRequestComment{
		ID:          c.GetID(),
		InReplyToID: c.GetInReplyTo(),
		DiffHunk:    c.GetDiffHunk(),
		Path:        c.GetPath(),
		CommitID:    c.GetCommitID(),
		User:        &User{ID: c.GetUser().GetID(), Login: c.GetUser().GetLogin(), Type: c.GetUser().GetType()},
		Body:        c.GetBody(),
		HTMLURL:     c.GetHTMLURL(),
		Line:        c.GetLine(),
		Side:        c.GetSide(),
		CreatedAt:   c.GetCreatedAt().Format(time.RFC3339),
	}
}
