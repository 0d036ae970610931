package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Storage used by the local CLI and tests.
type Memory struct {
	mu            sync.Mutex
	installations map[int64]Installation
	repos         map[string]Repository
	languages     map[string]string
	deliveries    map[string]time.Time
	comments      []Comment
	now           func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		installations: make(map[int64]Installation),
		repos:         make(map[string]Repository),
		languages:     make(map[string]string),
		deliveries:    make(map[string]time.Time),
		now:           time.Now,
	}
}

func (m *Memory) SaveInstallation(_ context.Context, install *Installation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := *install
	if i.CreatedAt.IsZero() {
		i.CreatedAt = m.now()
	}
	m.installations[i.InstallationID] = i
	return nil
}

func (m *Memory) GetInstallation(_ context.Context, installationID int64) (*Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installations[installationID]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (m *Memory) DeleteInstallation(_ context.Context, installationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.installations, installationID)
	return nil
}

func (m *Memory) UpsertRepository(_ context.Context, repo *Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.repos[repo.FullName]
	if !ok {
		r := *repo
		if r.Status == "" {
			r.Status = RepoPending
		}
		r.CreatedAt, r.UpdatedAt = now, now
		m.repos[r.FullName] = r
		return nil
	}

	existing.InstallationID = repo.InstallationID
	if repo.DefaultBranch != "" {
		existing.DefaultBranch = repo.DefaultBranch
	}
	if existing.Status == RepoInactive {
		existing.Status = RepoPending
	}
	existing.UpdatedAt = now
	m.repos[existing.FullName] = existing
	return nil
}

func (m *Memory) GetRepository(_ context.Context, fullName string) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[fullName]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListRepositories(_ context.Context) ([]Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedRepos(func(Repository) bool { return true }), nil
}

func (m *Memory) ListRepositoriesByInstallation(_ context.Context, installationID int64) ([]Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedRepos(func(r Repository) bool { return r.InstallationID == installationID }), nil
}

func (m *Memory) sortedRepos(keep func(Repository) bool) []Repository {
	var repos []Repository
	for _, r := range m.repos {
		if keep(r) {
			repos = append(repos, r)
		}
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].FullName < repos[j].FullName })
	return repos
}

func (m *Memory) TransitionRepository(_ context.Context, fullName string, from []RepoStatus, to RepoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[fullName]
	if !ok {
		return ErrRepoNotFound
	}
	if !slices.Contains(from, r.Status) {
		return ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = m.now()
	m.repos[fullName] = r
	return nil
}

func (m *Memory) SetRepositoryStatus(_ context.Context, fullName string, status RepoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[fullName]
	if !ok {
		return ErrRepoNotFound
	}
	r.Status = status
	r.UpdatedAt = m.now()
	m.repos[fullName] = r
	return nil
}

func (m *Memory) RecordPush(_ context.Context, fullName, sha string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[fullName]
	if !ok {
		return ErrRepoNotFound
	}
	r.LastPushSHA = sha
	r.LastPushAt = &at
	r.UpdatedAt = m.now()
	m.repos[fullName] = r
	return nil
}

func (m *Memory) GetOrgLanguage(_ context.Context, org string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.languages[org], nil
}

func (m *Memory) SetOrgLanguage(_ context.Context, org, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.languages[org] = language
	return nil
}

func (m *Memory) MarkDelivery(_ context.Context, deliveryID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.deliveries[deliveryID]; seen {
		return false, nil
	}
	m.deliveries[deliveryID] = m.now()
	return true, nil
}

func (m *Memory) ForgetDelivery(_ context.Context, deliveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveries, deliveryID)
	return nil
}

func (m *Memory) PurgeDeliveries(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for id, at := range m.deliveries {
		if at.Before(olderThan) {
			delete(m.deliveries, id)
			purged++
		}
	}
	return purged, nil
}

func (m *Memory) SaveComments(_ context.Context, comments []Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, c := range comments {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		m.comments = append(m.comments, c)
	}
	return nil
}

func (m *Memory) ListComments(_ context.Context, runID string) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Comment
	for _, c := range m.comments {
		if c.RunID == runID {
			out = append(out, c)
		}
	}
	return out, nil
}
