package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/louroai/louro/config"
	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/onboard"
	"github.com/louroai/louro/storage"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// RepoResponse is the JSON representation of a tracked repository.
type RepoResponse struct {
	FullName       string `json:"full_name"`
	InstallationID int64  `json:"installation_id"`
	DefaultBranch  string `json:"default_branch,omitempty"`
	Status         string `json:"status"`
	LastPushSHA    string `json:"last_push_sha,omitempty"`
	LastPushAt     string `json:"last_push_at,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

// RunResponse is the JSON representation of a background task.
type RunResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	DedupKey   string `json:"dedup_key"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// LanguageRequest is the body of PUT /orgs/{org}/language.
type LanguageRequest struct {
	Language string `json:"language"`
}

// LanguageResponse reports an organization's review language.
type LanguageResponse struct {
	Org       string   `json:"org"`
	Language  string   `json:"language"`
	Supported []string `json:"supported"`
}

func toRepoResponse(r storage.Repository) RepoResponse {
	resp := RepoResponse{
		FullName:       r.FullName,
		InstallationID: r.InstallationID,
		DefaultBranch:  r.DefaultBranch,
		Status:         string(r.Status),
		LastPushSHA:    r.LastPushSHA,
		UpdatedAt:      r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.LastPushAt != nil {
		resp.LastPushAt = r.LastPushAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toRunResponse(t dispatch.Task) RunResponse {
	resp := RunResponse{
		ID:         t.ID,
		Kind:       string(t.Kind),
		DedupKey:   t.DedupKey,
		Status:     string(t.Status),
		Error:      t.Error,
		DeliveryID: t.DeliveryID,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.FinishedAt != nil {
		resp.FinishedAt = t.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func repoName(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("repo")
}

// lookupRepo writes a 404 or 500 and returns nil when the repository cannot be served.
func (s *Server) lookupRepo(w http.ResponseWriter, r *http.Request) *storage.Repository {
	name := repoName(r)
	repo, err := s.store.GetRepository(r.Context(), name)
	if err != nil {
		s.logger.Error("failed to get repository", "repo", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return nil
	}
	return repo
}

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		s.logger.Error("failed to list repositories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepoResponse(repo))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	if repo := s.lookupRepo(w, r); repo != nil {
		writeJSON(w, http.StatusOK, toRepoResponse(*repo))
	}
}

// activateRepo queues onboarding. The repository becomes active when it completes.
func (s *Server) activateRepo(w http.ResponseWriter, r *http.Request) {
	repo := s.lookupRepo(w, r)
	if repo == nil {
		return
	}
	switch repo.Status {
	case storage.RepoActive:
		writeError(w, http.StatusConflict, "repository already active")
		return
	case storage.RepoOnboarding:
		writeError(w, http.StatusConflict, "onboarding already in progress")
		return
	}

	trigger := uuid.NewString()
	task, err := dispatch.NewTask(dispatch.KindOnboard, github.OnboardKey(repo.FullName, trigger), repo.FullName,
		onboard.Request{Repo: repo.FullName, TriggerID: trigger})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if _, err := s.dispatcher.Dispatch(r.Context(), task); err != nil {
		s.logger.Error("failed to queue onboarding", "repo", repo.FullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("onboarding queued", "repo", repo.FullName, "task_id", task.ID)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "onboarding started", TaskID: task.ID})
}

func (s *Server) deactivateRepo(w http.ResponseWriter, r *http.Request) {
	repo := s.lookupRepo(w, r)
	if repo == nil {
		return
	}
	if err := s.store.SetRepositoryStatus(r.Context(), repo.FullName, storage.RepoInactive); err != nil {
		s.logger.Error("failed to deactivate repository", "repo", repo.FullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	repo.Status = storage.RepoInactive
	s.logger.Info("repository deactivated", "repo", repo.FullName)
	writeJSON(w, http.StatusOK, toRepoResponse(*repo))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	name := repoName(r)
	tasks, err := s.runs.ListByRepo(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to list runs", "repo", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]RunResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toRunResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getOrgLanguage(w http.ResponseWriter, r *http.Request) {
	org := r.PathValue("org")
	lang, err := s.store.GetOrgLanguage(r.Context(), org)
	if err != nil {
		s.logger.Error("failed to get organization language", "org", org, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if lang == "" {
		lang = s.defaultLanguage
		if lang == "" {
			lang = config.DefaultLanguage
		}
	}
	writeJSON(w, http.StatusOK, LanguageResponse{Org: org, Language: lang, Supported: config.SupportedLanguages()})
}

func (s *Server) setOrgLanguage(w http.ResponseWriter, r *http.Request) {
	org := r.PathValue("org")

	var req LanguageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lang, err := config.CanonicalLanguage(req.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SetOrgLanguage(r.Context(), org, lang); err != nil {
		s.logger.Error("failed to set organization language", "org", org, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Info("organization language updated", "org", org, "language", lang)
	writeJSON(w, http.StatusOK, LanguageResponse{Org: org, Language: lang, Supported: config.SupportedLanguages()})
}
