package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/louroai/louro/apperr"
	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/feedback"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/review"
	"github.com/louroai/louro/storage"
)

// webhook authenticates a delivery, drops redeliveries and either handles the
// event inline or queues its work. It never waits for a review.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	logger := s.logger.With("delivery_id", deliveryID, "event", eventType)

	ev, err := s.gate.Accept(body, r.Header.Get("X-Hub-Signature-256"), eventType)
	if err != nil {
		var authErr *apperr.AuthenticationError
		switch {
		case errors.As(err, &authErr):
			logger.Warn("webhook rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, github.ErrMalformedPayload):
			logger.Warn("malformed webhook payload", "error", err)
			writeJSON(w, http.StatusOK, messageResponse{Message: "event ignored"})
		case eventType == "":
			logger.Warn("webhook without X-GitHub-Event header")
			writeJSON(w, http.StatusOK, messageResponse{Message: "event ignored"})
		default:
			logger.Debug("event ignored", "reason", err)
			writeJSON(w, http.StatusOK, messageResponse{Message: "event ignored"})
		}
		return
	}

	if ev.Kind == github.EventPing {
		writeJSON(w, http.StatusOK, messageResponse{Message: "pong"})
		return
	}

	ctx := r.Context()
	if deliveryID != "" {
		fresh, err := s.store.MarkDelivery(ctx, deliveryID, eventType)
		if err != nil {
			logger.Error("failed to record delivery", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !fresh {
			logger.Info("duplicate delivery ignored")
			writeJSON(w, http.StatusOK, messageResponse{Message: "duplicate delivery"})
			return
		}
	}

	logger = logger.With("repo", ev.Repo, "installation_id", ev.InstallationID)
	resp, err := s.handleEvent(ctx, logger, ev, deliveryID)
	if err != nil {
		logger.Error("failed to handle webhook", "error", err)
		if deliveryID != "" {
			// Let GitHub's redelivery of this id through.
			if ferr := s.store.ForgetDelivery(context.WithoutCancel(ctx), deliveryID); ferr != nil {
				logger.Error("failed to forget delivery", "error", ferr)
			}
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvent(ctx context.Context, logger *slog.Logger, ev *github.Event, deliveryID string) (messageResponse, error) {
	switch ev.Kind {
	case github.EventPullRequest:
		return s.queueReview(ctx, logger, ev, deliveryID)
	case github.EventReviewComment:
		return s.queueReply(ctx, logger, ev, deliveryID)
	case github.EventPush:
		return s.recordPush(ctx, logger, ev)
	case github.EventInstallation:
		return s.applyInstallation(ctx, logger, ev)
	default:
		return messageResponse{Message: "event ignored"}, nil
	}
}

// activeRepo reports whether the repository is tracked and active.
func (s *Server) activeRepo(ctx context.Context, fullName string) (bool, error) {
	repo, err := s.store.GetRepository(ctx, fullName)
	if err != nil {
		return false, fmt.Errorf("failed to read repository: %w", err)
	}
	return repo != nil && repo.Status == storage.RepoActive, nil
}

func (s *Server) queueReview(ctx context.Context, logger *slog.Logger, ev *github.Event, deliveryID string) (messageResponse, error) {
	pr := ev.PullRequest
	if pr.Draft {
		return messageResponse{Message: "draft pull request ignored"}, nil
	}
	active, err := s.activeRepo(ctx, ev.Repo)
	if err != nil {
		return messageResponse{}, err
	}
	if !active {
		logger.Info("review skipped, repository not active")
		return messageResponse{Message: "repository not active"}, nil
	}

	ref := review.PullRequestRef{
		InstallationID: ev.InstallationID,
		Repo:           ev.Repo,
		Number:         pr.Number,
		HeadSHA:        pr.HeadSHA,
		DeliveryID:     deliveryID,
	}
	return s.dispatch(ctx, logger, dispatch.KindReview, ev.DedupKey(), ev.Repo, deliveryID, ref)
}

func (s *Server) queueReply(ctx context.Context, logger *slog.Logger, ev *github.Event, deliveryID string) (messageResponse, error) {
	if ev.Comment.InReplyToID == 0 {
		return messageResponse{Message: "not a reply"}, nil
	}
	active, err := s.activeRepo(ctx, ev.Repo)
	if err != nil {
		return messageResponse{}, err
	}
	if !active {
		return messageResponse{Message: "repository not active"}, nil
	}
	payload := feedback.ReplyEventFrom(ev, deliveryID)
	return s.dispatch(ctx, logger, dispatch.KindReply, ev.DedupKey(), ev.Repo, deliveryID, payload)
}

func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, kind dispatch.Kind, key, repo, deliveryID string, payload any) (messageResponse, error) {
	task, err := dispatch.NewTask(kind, key, repo, payload)
	if err != nil {
		return messageResponse{}, err
	}
	task.DeliveryID = deliveryID

	created, err := s.dispatcher.Dispatch(ctx, task)
	if err != nil {
		return messageResponse{}, fmt.Errorf("failed to queue %s task: %w", kind, err)
	}
	if !created {
		logger.Info("task already in progress", "kind", kind, "dedup_key", key)
		return messageResponse{Message: string(kind) + " already in progress"}, nil
	}
	logger.Info("task queued", "kind", kind, "task_id", task.ID, "dedup_key", key)
	return messageResponse{Message: string(kind) + " queued", TaskID: task.ID}, nil
}

// recordPush keeps the latest default branch commit of a known repository.
func (s *Server) recordPush(ctx context.Context, logger *slog.Logger, ev *github.Event) (messageResponse, error) {
	if !ev.Push.IsDefaultBranch() {
		return messageResponse{Message: "push ignored"}, nil
	}
	err := s.store.RecordPush(ctx, ev.Repo, ev.Push.After, s.now().UTC())
	if errors.Is(err, storage.ErrRepoNotFound) {
		return messageResponse{Message: "push ignored"}, nil
	}
	if err != nil {
		return messageResponse{}, fmt.Errorf("failed to record push: %w", err)
	}
	logger.Info("push recorded", "sha", ev.Push.After)
	return messageResponse{Message: "push recorded"}, nil
}

// applyInstallation tracks installations and the repositories they grant.
func (s *Server) applyInstallation(ctx context.Context, logger *slog.Logger, ev *github.Event) (messageResponse, error) {
	change := ev.Installation

	if ev.Type == "installation" && ev.Action == "deleted" {
		repos, err := s.store.ListRepositoriesByInstallation(ctx, ev.InstallationID)
		if err != nil {
			return messageResponse{}, fmt.Errorf("failed to list installation repositories: %w", err)
		}
		for _, r := range repos {
			change.Removed = append(change.Removed, r.FullName)
		}
		if err := s.store.DeleteInstallation(ctx, ev.InstallationID); err != nil {
			return messageResponse{}, fmt.Errorf("failed to delete installation: %w", err)
		}
		if s.tokens != nil {
			s.tokens.Forget(ev.InstallationID)
		}
	}

	if len(change.Added) > 0 || ev.Action == "created" {
		if err := s.store.SaveInstallation(ctx, &storage.Installation{
			InstallationID: ev.InstallationID,
			AccountLogin:   change.Account,
			CreatedAt:      s.now().UTC(),
		}); err != nil {
			return messageResponse{}, fmt.Errorf("failed to save installation: %w", err)
		}
	}

	for _, name := range change.Added {
		if err := s.store.UpsertRepository(ctx, &storage.Repository{FullName: name, InstallationID: ev.InstallationID}); err != nil {
			return messageResponse{}, fmt.Errorf("failed to track %s: %w", name, err)
		}
	}
	for _, name := range change.Removed {
		err := s.store.SetRepositoryStatus(ctx, name, storage.RepoInactive)
		if err != nil && !errors.Is(err, storage.ErrRepoNotFound) {
			return messageResponse{}, fmt.Errorf("failed to deactivate %s: %w", name, err)
		}
	}

	logger.Info("installation updated",
		"action", ev.Action,
		"added", len(change.Added),
		"removed", len(change.Removed),
	)
	return messageResponse{Message: "installation updated"}, nil
}
