package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionRepository(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertRepository(ctx, &Repository{FullName: "acme/app", InstallationID: 1}))

	repo, err := m.GetRepository(ctx, "acme/app")
	require.NoError(t, err)
	assert.Equal(t, RepoPending, repo.Status)

	require.NoError(t, m.TransitionRepository(ctx, "acme/app", []RepoStatus{RepoPending, RepoInactive}, RepoOnboarding))

	err = m.TransitionRepository(ctx, "acme/app", []RepoStatus{RepoPending, RepoInactive}, RepoOnboarding)
	assert.ErrorIs(t, err, ErrInvalidTransition, "a second onboarding must not start while one runs")

	err = m.TransitionRepository(ctx, "acme/missing", []RepoStatus{RepoPending}, RepoOnboarding)
	assert.ErrorIs(t, err, ErrRepoNotFound)
}

func TestUpsertRepositoryReactivatesRemoved(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertRepository(ctx, &Repository{FullName: "acme/app", InstallationID: 1, DefaultBranch: "main"}))
	require.NoError(t, m.SetRepositoryStatus(ctx, "acme/app", RepoInactive))

	require.NoError(t, m.UpsertRepository(ctx, &Repository{FullName: "acme/app", InstallationID: 2}))

	repo, err := m.GetRepository(ctx, "acme/app")
	require.NoError(t, err)
	assert.Equal(t, RepoPending, repo.Status)
	assert.Equal(t, int64(2), repo.InstallationID)
	assert.Equal(t, "main", repo.DefaultBranch)
}

func TestMarkDeliveryAndPurge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.MarkDelivery(ctx, "d-1", "pull_request")
	require.NoError(t, err)
	again, err := m.MarkDelivery(ctx, "d-1", "pull_request")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)

	require.NoError(t, m.ForgetDelivery(ctx, "d-1"))
	retried, err := m.MarkDelivery(ctx, "d-1", "pull_request")
	require.NoError(t, err)
	assert.True(t, retried)

	purged, err := m.PurgeDeliveries(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	fresh, err := m.MarkDelivery(ctx, "d-1", "pull_request")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	repo, err := m.GetRepository(ctx, "acme/none")
	assert.NoError(t, err)
	assert.Nil(t, repo)

	install, err := m.GetInstallation(ctx, 5)
	assert.NoError(t, err)
	assert.Nil(t, install)

	lang, err := m.GetOrgLanguage(ctx, "acme")
	assert.NoError(t, err)
	assert.Empty(t, lang)
}
