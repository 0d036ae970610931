package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/storage"
)

// RepoLookup reads tracked repositories.
type RepoLookup interface {
	GetRepository(ctx context.Context, fullName string) (*storage.Repository, error)
}

// Service runs review tasks: assemble, generate, post.
type Service struct {
	assembler *Assembler
	generator *Generator
	repos     RepoLookup
	logger    *slog.Logger
}

// NewService creates a review Service. When repos is nil every repository is
// treated as active, which is what one-shot local reviews want.
func NewService(assembler *Assembler, generator *Generator, repos RepoLookup, logger *slog.Logger) *Service {
	return &Service{
		assembler: assembler,
		generator: generator,
		repos:     repos,
		logger:    logger,
	}
}

// HandleTask is the dispatcher handler for review tasks. A failure leaves the
// pull request untouched; nothing is posted unless generation succeeded.
func (s *Service) HandleTask(ctx context.Context, task *dispatch.Task) error {
	var ref PullRequestRef
	if err := task.Decode(&ref); err != nil {
		return err
	}

	logger := s.logger.With("task_id", task.ID, "repo", ref.Repo, "pr", ref.Number, "sha", ref.HeadSHA)

	if s.repos != nil {
		repo, err := s.repos.GetRepository(ctx, ref.Repo)
		if err != nil {
			return fmt.Errorf("failed to read repository: %w", err)
		}
		if repo == nil || repo.Status != storage.RepoActive {
			logger.Info("skipping review, repository not active")
			return nil
		}
	}

	rc, res, err := s.Review(ctx, ref)
	if errors.Is(err, ErrReviewDisabled) {
		logger.Info("review skipped due to config")
		return nil
	}
	if err != nil {
		return err
	}
	if res == nil {
		logger.Info("no reviewable files")
		return nil
	}

	if _, err := s.generator.Post(ctx, rc, task.ID, res); err != nil {
		return err
	}
	logger.Info("review completed", "findings", len(res.Findings), "dropped", res.Dropped)
	return nil
}

// Review assembles and generates without posting. The result is nil when the
// pull request has no reviewable file.
func (s *Service) Review(ctx context.Context, ref PullRequestRef) (*ReviewContext, *Result, error) {
	rc, err := s.assembler.Assemble(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if rc.IsEmpty() {
		return rc, nil, nil
	}
	res, err := s.generator.Generate(ctx, rc)
	if err != nil {
		return rc, nil, err
	}
	return rc, res, nil
}

// Post publishes a result produced by Review outside the dispatcher.
func (s *Service) Post(ctx context.Context, rc *ReviewContext, res *Result) error {
	_, err := s.generator.Post(ctx, rc, "", res)
	return err
}
