// Package onboard builds the initial knowledge of a repository when it is
// activated: architecture and conventions from the current tree, and the
// direction of the codebase from its recent history.
package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/louroai/louro/anthropic"
	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
	"github.com/louroai/louro/review"
	"github.com/louroai/louro/storage"
)

// Request is the payload of an onboarding task.
type Request struct {
	Repo      string `json:"repo"`
	TriggerID string `json:"trigger_id"`
}

// Repos is the slice of storage onboarding changes.
type Repos interface {
	GetRepository(ctx context.Context, fullName string) (*storage.Repository, error)
	UpsertRepository(ctx context.Context, repo *storage.Repository) error
	TransitionRepository(ctx context.Context, fullName string, from []storage.RepoStatus, to storage.RepoStatus) error
	SetRepositoryStatus(ctx context.Context, fullName string, status storage.RepoStatus) error
}

// KnowledgeWriter stores onboarding results.
type KnowledgeWriter interface {
	Upsert(ctx context.Context, repo string, source knowledge.Source, text string) (id string, created bool, err error)
}

// Agent runs the onboarding agents.
type Agent interface {
	Run(ctx context.Context, req anthropic.Request) (*anthropic.Result, error)
}

// Service runs the onboarding pipeline.
type Service struct {
	src    Source
	repos  Repos
	kb     KnowledgeWriter
	agent  Agent
	model  string
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewService creates an onboarding Service.
func NewService(src Source, repos Repos, kb KnowledgeWriter, agent Agent, model string, logger *slog.Logger) *Service {
	return &Service{
		src:    src,
		repos:  repos,
		kb:     kb,
		agent:  agent,
		model:  model,
		sem:    semaphore.NewWeighted(MaxConcurrentFetches),
		logger: logger,
	}
}

// HandleTask is the dispatcher handler for onboarding tasks.
func (s *Service) HandleTask(ctx context.Context, task *dispatch.Task) error {
	var req Request
	if err := task.Decode(&req); err != nil {
		return err
	}
	return s.Onboard(ctx, req.Repo)
}

// Onboard moves a pending or inactive repository through onboarding to active.
// Any failure after the repository entered onboarding puts it back to pending.
func (s *Service) Onboard(ctx context.Context, fullName string) (err error) {
	logger := s.logger.With("repo", fullName)

	repo, err := s.repos.GetRepository(ctx, fullName)
	if err != nil {
		return fmt.Errorf("failed to read repository: %w", err)
	}
	if repo == nil {
		return storage.ErrRepoNotFound
	}

	from := []storage.RepoStatus{storage.RepoPending, storage.RepoInactive}
	if err := s.repos.TransitionRepository(ctx, fullName, from, storage.RepoOnboarding); err != nil {
		return fmt.Errorf("failed to start onboarding of %s: %w", fullName, err)
	}
	logger.Info("onboarding started")

	defer func() {
		if err == nil {
			return
		}
		logger.Error("onboarding failed, resetting to pending", "error", err)
		// The task context may be done already.
		if resetErr := s.repos.SetRepositoryStatus(context.WithoutCancel(ctx), fullName, storage.RepoPending); resetErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to reset status: %w", resetErr))
		}
	}()

	owner, name, err := github.SplitRepo(fullName)
	if err != nil {
		return err
	}

	branch, err := s.defaultBranch(ctx, repo, owner, name)
	if err != nil {
		return err
	}

	c := &collector{
		src:            s.src,
		installationID: repo.InstallationID,
		owner:          owner,
		name:           name,
		branch:         branch,
		sem:            s.sem,
		logf:           logger.Warn,
	}
	snap, err := c.collect(ctx)
	if err != nil {
		return err
	}
	logger.Info("repository snapshot collected",
		"tree", len(snap.Tree),
		"key_files", len(snap.KeyFiles),
		"structural", len(snap.Structural),
		"recent_files", len(snap.RecentFiles),
	)

	tools := review.RepoTools(s.src, repo.InstallationID, owner, name, branch)

	overview, err := s.run(ctx, onboardingSystemPrompt, OnboardingPrompt(snap), tools)
	if err != nil {
		return fmt.Errorf("onboarding agent failed: %w", err)
	}
	if _, _, err := s.kb.Upsert(ctx, fullName, knowledge.SourceOnboarding, overview); err != nil {
		return fmt.Errorf("failed to store onboarding knowledge: %w", err)
	}

	if len(snap.RecentFiles) > 0 {
		direction, err := s.run(ctx, evolutionSystemPrompt, EvolutionPrompt(snap), tools)
		if err != nil {
			return fmt.Errorf("evolution agent failed: %w", err)
		}
		if _, _, err := s.kb.Upsert(ctx, fullName, knowledge.SourceEvolution, direction); err != nil {
			return fmt.Errorf("failed to store evolution knowledge: %w", err)
		}
	}

	if err := s.repos.SetRepositoryStatus(ctx, fullName, storage.RepoActive); err != nil {
		return fmt.Errorf("failed to activate repository: %w", err)
	}
	logger.Info("onboarding complete, repository active")
	return nil
}

func (s *Service) defaultBranch(ctx context.Context, repo *storage.Repository, owner, name string) (string, error) {
	if repo.DefaultBranch != "" {
		return repo.DefaultBranch, nil
	}
	gr, err := s.src.GetRepository(ctx, repo.InstallationID, owner, name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve default branch: %w", err)
	}
	branch := gr.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	if err := s.repos.UpsertRepository(ctx, &storage.Repository{
		FullName:       repo.FullName,
		InstallationID: repo.InstallationID,
		DefaultBranch:  branch,
	}); err != nil {
		s.logger.Warn("failed to record default branch", "repo", repo.FullName, "error", err)
	}
	return branch, nil
}

func (s *Service) run(ctx context.Context, system, prompt string, tools []anthropic.Tool) (string, error) {
	res, err := s.agent.Run(ctx, anthropic.Request{
		Model:  s.model,
		System: system,
		Prompt: prompt,
		Tools:  tools,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", anthropic.ErrNoText
	}
	return text, nil
}
