package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/louroai/louro/anthropic"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/storage"
)

// Agent runs a model with tools until it produces a final answer.
type Agent interface {
	Run(ctx context.Context, req anthropic.Request) (*anthropic.Result, error)
}

// Publisher posts review output to GitHub.
type Publisher interface {
	CreateReview(ctx context.Context, installationID int64, owner, repo string, prNumber int, review *github.ReviewRequest) (*github.Review, error)
	UpdatePullRequestBody(ctx context.Context, installationID int64, owner, repo string, prNumber int, body string) error
}

// CommentRecorder stores the comments a run posted.
type CommentRecorder interface {
	SaveComments(ctx context.Context, comments []storage.Comment) error
}

// Result is the mapped output of one review.
type Result struct {
	Summary  string
	Findings []Finding
	// Dropped counts findings that did not map to a diff line.
	Dropped int
	Usage   anthropic.Usage
}

// Generator runs the review agent and posts its findings.
type Generator struct {
	agent     Agent
	files     RepoFiles
	publisher Publisher
	comments  CommentRecorder
	model     string
	logger    *slog.Logger
}

// NewGenerator creates a Generator. comments may be nil.
func NewGenerator(agent Agent, files RepoFiles, publisher Publisher, comments CommentRecorder, model string, logger *slog.Logger) *Generator {
	return &Generator{
		agent:     agent,
		files:     files,
		publisher: publisher,
		comments:  comments,
		model:     model,
		logger:    logger,
	}
}

// Generate runs the agent over the review context and keeps only findings that
// map onto a line of the diff.
func (g *Generator) Generate(ctx context.Context, rc *ReviewContext) (*Result, error) {
	req := anthropic.Request{
		Model:  g.model,
		System: SystemPrompt(rc.Language, rc.Config),
		Prompt: BuildPrompt(rc),
		Tools:  RepoTools(g.files, rc.Ref.InstallationID, rc.Owner, rc.Name, rc.Ref.HeadSHA),
	}

	resp, err := g.agent.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("review agent failed: %w", err)
	}

	g.logger.Info("review agent finished",
		"tool_calls", resp.ToolCalls,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	out, err := ParseOutput(resp.Text)
	if err != nil {
		return nil, err
	}

	mapped, dropped := MapFindings(out.Findings, rc.Anchors, g.logger)

	return &Result{
		Summary:  out.Summary,
		Findings: mapped,
		Dropped:  len(dropped),
		Usage:    resp.Usage,
	}, nil
}

// Post publishes a result: the summary into the pull request description and
// the findings as one COMMENT review pinned to the reviewed commit. The
// description update is best effort. Posted comments are recorded under runID.
func (g *Generator) Post(ctx context.Context, rc *ReviewContext, runID string, res *Result) (*github.Review, error) {
	if res.Summary != "" {
		body := MergeSummary(rc.PullRequest.Body, res.Summary)
		if err := g.publisher.UpdatePullRequestBody(ctx, rc.Ref.InstallationID, rc.Owner, rc.Name, rc.Ref.Number, body); err != nil {
			g.logger.Warn("failed to update pull request description", "error", err)
		}
	}

	if len(res.Findings) == 0 {
		g.logger.Info("no findings to post")
		return nil, nil
	}

	comments := make([]github.ReviewComment, len(res.Findings))
	records := make([]storage.Comment, len(res.Findings))
	for i, f := range res.Findings {
		body := RenderBody(f, rc.Language)
		comments[i] = github.ReviewComment{
			Path: f.Path,
			Line: f.Line,
			Side: string(f.Side),
			Body: body,
		}
		records[i] = storage.Comment{
			RunID:    runID,
			Path:     f.Path,
			Side:     string(f.Side),
			Line:     f.Line,
			Label:    string(f.Label),
			Blocking: f.Blocking,
			Body:     body,
		}
	}

	review, err := g.publisher.CreateReview(ctx, rc.Ref.InstallationID, rc.Owner, rc.Name, rc.Ref.Number, &github.ReviewRequest{
		CommitID: rc.Ref.HeadSHA,
		Event:    "COMMENT",
		Comments: comments,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post review: %w", err)
	}

	g.logger.Info("posted review",
		"review_id", review.ID,
		"comments", len(comments),
		"dropped", res.Dropped,
	)

	if g.comments != nil && runID != "" {
		if err := g.comments.SaveComments(ctx, records); err != nil {
			g.logger.Error("failed to record posted comments", "error", err)
		}
	}

	return review, nil
}
