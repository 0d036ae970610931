package feedback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louroai/louro/anthropic"
	"github.com/louroai/louro/config"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
	"github.com/louroai/louro/review"
	"github.com/louroai/louro/storage"
)

const botLogin = "louro-ai[bot]"

type postedReply struct {
	commentID int64
	body      string
}

type fakeThreads struct {
	mu       sync.Mutex
	comments []github.PullRequestComment
	replies  []postedReply
}

func (f *fakeThreads) GetFileContent(context.Context, int64, string, string, string, string) (string, error) {
	return "", nil
}

func (f *fakeThreads) GetTree(context.Context, int64, string, string, string, int) ([]string, error) {
	return nil, nil
}

func (f *fakeThreads) ListReviewComments(context.Context, int64, string, string, int) ([]github.PullRequestComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]github.PullRequestComment(nil), f.comments...), nil
}

func (f *fakeThreads) CreateReplyComment(_ context.Context, _ int64, _, _ string, _ int, commentID int64, body string) (*github.PullRequestComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, postedReply{commentID: commentID, body: body})
	return &github.PullRequestComment{ID: 9000 + int64(len(f.replies)), Body: body}, nil
}

// fakeModel answers classification prompts with verdict and extraction
// prompts with statement.
type fakeModel struct {
	verdict   string
	statement string
	err       error
	calls     int
}

func (m *fakeModel) Complete(_ context.Context, _, system, _ string) (*anthropic.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if system == classifySystemPrompt {
		return &anthropic.Result{Text: m.verdict}, nil
	}
	return &anthropic.Result{Text: m.statement}, nil
}

type fakeAgent struct {
	requests []anthropic.Request
}

func (a *fakeAgent) Run(_ context.Context, req anthropic.Request) (*anthropic.Result, error) {
	a.requests = append(a.requests, req)
	return &anthropic.Result{Text: "Entendido, vou seguir essa convencao."}, nil
}

type fixture struct {
	threads *fakeThreads
	store   *storage.Memory
	kb      *knowledge.MemoryStore
	model   *fakeModel
	agent   *fakeAgent
	svc     *Service
}

func newFixture(t *testing.T, verdict string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		threads: &fakeThreads{comments: []github.PullRequestComment{
			{ID: 100, User: &github.User{Login: botLogin, Type: "Bot"}, Body: "**sugestao (nao-bloqueante):** Use camelCase here."},
			{ID: 101, InReplyToID: 100, User: &github.User{Login: "dev"}, Body: "No, fixtures use snake_case in this repo."},
		}},
		store: storage.NewMemory(),
		kb:    knowledge.NewMemoryStore(),
		model: &fakeModel{
			verdict:   verdict,
			statement: "Test fixtures in this repository use snake_case names.",
		},
		agent: &fakeAgent{},
	}

	ctx := context.Background()
	require.NoError(t, f.store.UpsertRepository(ctx, &storage.Repository{FullName: "acme/app", InstallationID: 1}))
	require.NoError(t, f.store.SetRepositoryStatus(ctx, "acme/app", storage.RepoActive))

	base := knowledge.NewBase(f.kb, knowledge.NewHashingEmbedder(), logger)
	f.svc = NewService(f.threads, f.store, base, NewClassifier(f.model, "classifier", logger), f.agent,
		Options{BotLogin: botLogin, ReplyModel: "reviewer"}, logger)
	return f
}

func reply(id int64) ReplyEvent {
	return ReplyEvent{
		InstallationID: 1,
		Repo:           "acme/app",
		PRNumber:       7,
		CommentID:      id,
		InReplyToID:    100,
		Author:         "dev",
		Body:           "No, fixtures use snake_case in this repo.",
		Path:           "user_test.go",
		Line:           12,
		CommitID:       "abc123",
	}
}

func TestCorrectionLearnedOnceAndAcknowledged(t *testing.T) {
	f := newFixture(t, `{"label": "correction", "confidence": 0.93}`)
	ctx := context.Background()

	out, err := f.svc.OnReply(ctx, reply(101))
	require.NoError(t, err)
	assert.Equal(t, LabelCorrection, out.Classification.Label)
	assert.True(t, out.Learned)
	assert.True(t, out.Replied)

	second := reply(102)
	f.threads.comments = append(f.threads.comments, github.PullRequestComment{
		ID: 102, InReplyToID: 100, User: &github.User{Login: "dev"}, Body: second.Body,
	})
	out2, err := f.svc.OnReply(ctx, second)
	require.NoError(t, err)
	assert.False(t, out2.Learned)
	assert.Equal(t, out.KnowledgeID, out2.KnowledgeID)

	entries := f.kb.All("acme/app")
	require.Len(t, entries, 1)
	assert.Equal(t, knowledge.SourceCorrection, entries[0].Source)
	assert.Contains(t, entries[0].Content, "snake_case")

	require.Len(t, f.threads.replies, 2)
	assert.Equal(t, int64(101), f.threads.replies[0].commentID)
	assert.Equal(t, review.ReplySystemPrompt(config.LanguagePortuguese), f.agent.requests[0].System)
}

func TestSameCorrectionOnAnotherPullRequestStoredOnce(t *testing.T) {
	f := newFixture(t, `{"label": "correction", "confidence": 0.93}`)
	ctx := context.Background()

	out, err := f.svc.OnReply(ctx, reply(101))
	require.NoError(t, err)
	require.True(t, out.Learned)

	other := reply(202)
	other.PRNumber = 42
	other.Path = "pkg/orders/order_test.go"
	other.Line = 30
	other.InReplyToID = 200
	f.threads.comments = append(f.threads.comments,
		github.PullRequestComment{ID: 200, User: &github.User{Login: botLogin, Type: "Bot"}, Body: "**sugestao (nao-bloqueante):** Use camelCase here."},
		github.PullRequestComment{ID: 202, InReplyToID: 200, User: &github.User{Login: "dev"}, Body: other.Body},
	)

	out2, err := f.svc.OnReply(ctx, other)
	require.NoError(t, err)
	assert.False(t, out2.Learned)
	assert.Equal(t, out.KnowledgeID, out2.KnowledgeID)

	entries := f.kb.All("acme/app")
	require.Len(t, entries, 1)
	assert.Equal(t, "Test fixtures in this repository use snake_case names.", entries[0].Content)
}

func TestLowConfidenceCorrectionNotLearned(t *testing.T) {
	f := newFixture(t, `{"label": "correction", "confidence": 0.5}`)

	out, err := f.svc.OnReply(context.Background(), reply(101))
	require.NoError(t, err)
	assert.False(t, out.Learned)
	assert.True(t, out.Replied)
	assert.Empty(t, f.kb.All("acme/app"))
}

func TestAgreementChangesNothing(t *testing.T) {
	f := newFixture(t, `{"label": "agreement", "confidence": 0.99}`)

	out, err := f.svc.OnReply(context.Background(), reply(101))
	require.NoError(t, err)
	assert.Equal(t, LabelAgreement, out.Classification.Label)
	assert.False(t, out.Replied)
	assert.Empty(t, f.threads.replies)
	assert.Empty(t, f.kb.All("acme/app"))
	assert.Empty(t, f.agent.requests)
}

func TestClassifierFailureIsOther(t *testing.T) {
	f := newFixture(t, "")
	f.model.err = errors.New("overloaded")

	out, err := f.svc.OnReply(context.Background(), reply(101))
	require.NoError(t, err)
	assert.Equal(t, LabelOther, out.Classification.Label)
	assert.Empty(t, f.threads.replies)
}

func TestQuestionAnsweredInOrgLanguage(t *testing.T) {
	f := newFixture(t, "```json\n{\"label\": \"question\", \"confidence\": 0.8}\n```")
	require.NoError(t, f.store.SetOrgLanguage(context.Background(), "acme", config.LanguageEnglish))

	ev := reply(101)
	ev.Body = "Why camelCase?"
	out, err := f.svc.OnReply(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, out.Replied)
	assert.False(t, out.Learned)

	require.Len(t, f.agent.requests, 1)
	req := f.agent.requests[0]
	assert.Equal(t, review.ReplySystemPrompt(config.LanguageEnglish), req.System)
	assert.Equal(t, "reviewer", req.Model)
	assert.Contains(t, req.Prompt, "Use camelCase here.")
	assert.Len(t, req.Tools, 3)
}

func TestRepliesOutsideBotThreadsIgnored(t *testing.T) {
	f := newFixture(t, `{"label": "correction", "confidence": 0.9}`)
	f.threads.comments[0].User = &github.User{Login: "teammate"}

	out, err := f.svc.OnReply(context.Background(), reply(101))
	require.NoError(t, err)
	assert.Equal(t, "thread not started by the bot", out.Skipped)
	assert.Zero(t, f.model.calls)
}

func TestInactiveRepositoryIgnored(t *testing.T) {
	f := newFixture(t, `{"label": "correction", "confidence": 0.9}`)
	require.NoError(t, f.store.SetRepositoryStatus(context.Background(), "acme/app", storage.RepoInactive))

	out, err := f.svc.OnReply(context.Background(), reply(101))
	require.NoError(t, err)
	assert.Equal(t, "repository not active", out.Skipped)
	assert.Zero(t, f.model.calls)
	assert.Empty(t, f.threads.replies)
}

func TestBotOwnCommentIgnored(t *testing.T) {
	f := newFixture(t, `{"label": "question", "confidence": 0.9}`)
	ev := reply(103)
	ev.Author = botLogin

	out, err := f.svc.OnReply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "own comment", out.Skipped)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Classification
	}{
		{"plain", `{"label": "question", "confidence": 0.6}`, Classification{LabelQuestion, 0.6}},
		{"fenced", "```json\n{\"label\":\"agreement\",\"confidence\":1}\n```", Classification{LabelAgreement, 1}},
		{"string confidence", `{"label": "correction", "confidence": "0.75"}`, Classification{LabelCorrection, 0.75}},
		{"clamped", `{"label": "correction", "confidence": 3}`, Classification{LabelCorrection, 1}},
		{"unknown label", `{"label": "sarcasm", "confidence": 0.9}`, Classification{LabelOther, 0}},
		{"not json", "I think it's a correction", Classification{LabelOther, 0}},
		{"empty", "", Classification{LabelOther, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseClassification(tt.in))
		})
	}
}

func TestThreadContext(t *testing.T) {
	comments := []github.PullRequestComment{
		{ID: 3, InReplyToID: 1, User: &github.User{Login: "dev"}, Body: "first reply"},
		{ID: 1, User: &github.User{Login: botLogin}, Body: "root"},
		{ID: 2, User: &github.User{Login: botLogin}, Body: "other thread"},
		{ID: 4, InReplyToID: 3, User: &github.User{Login: "dev2"}, Body: "target"},
	}

	root := ThreadRoot(comments, 4)
	require.NotNil(t, root)
	assert.Equal(t, int64(1), root.ID)
	assert.Nil(t, ThreadRoot(comments, 99))

	got := BuildThreadContext(comments, 4)
	assert.Equal(t, botLogin+":\nroot\n\ndev:\nfirst reply\n\n", got)
}
