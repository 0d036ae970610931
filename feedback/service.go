package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/louroai/louro/anthropic"
	"github.com/louroai/louro/config"
	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
	"github.com/louroai/louro/review"
	"github.com/louroai/louro/storage"
)

// ReplyEvent is a developer comment posted in a review thread. It is the
// payload of a reply task.
type ReplyEvent struct {
	InstallationID int64  `json:"installation_id"`
	Repo           string `json:"repo"`
	PRNumber       int    `json:"pr_number"`
	CommentID      int64  `json:"comment_id"`
	InReplyToID    int64  `json:"in_reply_to_id"`
	Author         string `json:"author"`
	Body           string `json:"body"`
	Path           string `json:"path,omitempty"`
	Line           int    `json:"line,omitempty"`
	DiffHunk       string `json:"diff_hunk,omitempty"`
	CommitID       string `json:"commit_id,omitempty"`
	DeliveryID     string `json:"delivery_id,omitempty"`
}

// ReplyEventFrom builds a ReplyEvent from a classified webhook delivery.
func ReplyEventFrom(e *github.Event, deliveryID string) ReplyEvent {
	c := e.Comment
	return ReplyEvent{
		InstallationID: e.InstallationID,
		Repo:           e.Repo,
		PRNumber:       c.PRNumber,
		CommentID:      c.ID,
		InReplyToID:    c.InReplyToID,
		Author:         c.Author,
		Body:           c.Body,
		Path:           c.Path,
		Line:           c.Line,
		DiffHunk:       c.DiffHunk,
		CommitID:       c.CommitID,
		DeliveryID:     deliveryID,
	}
}

// Threads reads review threads and answers in them.
type Threads interface {
	review.RepoFiles
	ListReviewComments(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]github.PullRequestComment, error)
	CreateReplyComment(ctx context.Context, installationID int64, owner, repo string, prNumber int, commentID int64, body string) (*github.PullRequestComment, error)
}

// Store is the slice of storage the feedback loop reads.
type Store interface {
	GetRepository(ctx context.Context, fullName string) (*storage.Repository, error)
	GetOrgLanguage(ctx context.Context, org string) (string, error)
}

// KnowledgeWriter records learned conventions.
type KnowledgeWriter interface {
	Upsert(ctx context.Context, repo string, source knowledge.Source, text string) (id string, created bool, err error)
}

// Agent runs the comment agent.
type Agent interface {
	Run(ctx context.Context, req anthropic.Request) (*anthropic.Result, error)
}

// Options configures a Service.
type Options struct {
	BotLogin        string
	ReplyModel      string
	DefaultLanguage string
}

// Outcome reports what OnReply did with a reply.
type Outcome struct {
	Skipped        string
	Classification Classification
	KnowledgeID    string
	Learned        bool
	Replied        bool
}

// Service is the feedback loop: classify, learn, answer.
type Service struct {
	threads    Threads
	store      Store
	kb         KnowledgeWriter
	classifier *Classifier
	agent      Agent
	opts       Options
	logger     *slog.Logger
}

// NewService creates a feedback Service.
func NewService(threads Threads, store Store, kb KnowledgeWriter, classifier *Classifier, agent Agent, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = config.DefaultLanguage
	}
	return &Service{
		threads:    threads,
		store:      store,
		kb:         kb,
		classifier: classifier,
		agent:      agent,
		opts:       opts,
		logger:     logger,
	}
}

// HandleTask is the dispatcher handler for reply tasks.
func (s *Service) HandleTask(ctx context.Context, task *dispatch.Task) error {
	var ev ReplyEvent
	if err := task.Decode(&ev); err != nil {
		return err
	}
	_, err := s.OnReply(ctx, ev)
	return err
}

// OnReply handles one reply. Replies outside an active repository or outside a
// thread the bot started are ignored. Agreement and other replies change
// nothing; corrections are learned and, like questions, get an answer.
func (s *Service) OnReply(ctx context.Context, ev ReplyEvent) (*Outcome, error) {
	logger := s.logger.With("repo", ev.Repo, "pr", ev.PRNumber, "comment_id", ev.CommentID)
	out := &Outcome{}

	if ev.InReplyToID == 0 {
		out.Skipped = "not a reply"
		return out, nil
	}
	if s.isBot(ev.Author) {
		out.Skipped = "own comment"
		return out, nil
	}

	repo, err := s.store.GetRepository(ctx, ev.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository: %w", err)
	}
	if repo == nil || repo.Status != storage.RepoActive {
		logger.Info("skipping reply, repository not active")
		out.Skipped = "repository not active"
		return out, nil
	}

	owner, name, err := github.SplitRepo(ev.Repo)
	if err != nil {
		return nil, err
	}

	comments, err := s.threads.ListReviewComments(ctx, ev.InstallationID, owner, name, ev.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch review thread: %w", err)
	}
	comments = withReply(comments, ev)

	root := ThreadRoot(comments, ev.CommentID)
	if root == nil || root.User == nil || !s.isBot(root.User.Login) {
		logger.Info("skipping reply, thread not started by the bot")
		out.Skipped = "thread not started by the bot"
		return out, nil
	}

	thread := BuildThreadContext(comments, ev.CommentID)
	out.Classification = s.classifier.Classify(ctx, thread, ev.Body)
	logger.Info("reply classified",
		"label", out.Classification.Label,
		"confidence", out.Classification.Confidence,
	)

	if out.Classification.IsCorrection() {
		s.learn(ctx, logger, ev, thread, out)
	}

	switch out.Classification.Label {
	case LabelCorrection, LabelQuestion:
	default:
		return out, nil
	}

	language := s.language(ctx, logger, owner)
	answer, err := s.answer(ctx, ev, owner, name, thread, out.Classification.Label, language)
	if err != nil {
		return out, err
	}
	if _, err := s.threads.CreateReplyComment(ctx, ev.InstallationID, owner, name, ev.PRNumber, ev.CommentID, answer); err != nil {
		return out, fmt.Errorf("failed to post reply: %w", err)
	}
	out.Replied = true
	logger.Info("replied in thread", "label", out.Classification.Label, "learned", out.Learned)
	return out, nil
}

// learn extracts and stores a correction. Failures are logged; the thread
// still gets an answer.
func (s *Service) learn(ctx context.Context, logger *slog.Logger, ev ReplyEvent, thread string, out *Outcome) {
	statement, err := s.classifier.Extract(ctx, thread, ev.Body)
	if err != nil {
		logger.Warn("correction not learned", "error", err)
		return
	}
	// Only the statement is stored; where it was learned goes to the log.
	id, created, err := s.kb.Upsert(ctx, ev.Repo, knowledge.SourceCorrection, statement)
	if err != nil {
		logger.Error("failed to store correction", "error", err)
		return
	}
	out.KnowledgeID = id
	out.Learned = created
	logger.Info("correction processed", "knowledge_id", id, "created", created, "path", ev.Path, "pr", ev.PRNumber)
}

func (s *Service) answer(ctx context.Context, ev ReplyEvent, owner, name, thread string, label Label, language string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "A developer replied to one of your review comments.\n\n")
	if ev.Path != "" {
		fmt.Fprintf(&b, "File: %s, line %d\n\n", ev.Path, ev.Line)
	}
	if ev.DiffHunk != "" {
		fmt.Fprintf(&b, "<diff_hunk>\n%s\n</diff_hunk>\n\n", ev.DiffHunk)
	}
	if thread != "" {
		fmt.Fprintf(&b, "<thread>\n%s</thread>\n\n", thread)
	}
	fmt.Fprintf(&b, "<reply author=%q>\n%s\n</reply>\n\n", ev.Author, ev.Body)
	if label == LabelCorrection {
		b.WriteString("The developer is correcting you about how this project works. Acknowledge the correction briefly and confirm you will follow it in future reviews.")
	} else {
		b.WriteString("Answer the developer's question. Read files from the repository when the answer depends on code outside the hunk.")
	}

	ref := ev.CommitID
	if ref == "" {
		ref = "HEAD"
	}
	res, err := s.agent.Run(ctx, anthropic.Request{
		Model:  s.opts.ReplyModel,
		System: review.ReplySystemPrompt(language),
		Prompt: b.String(),
		Tools:  review.RepoTools(s.threads, ev.InstallationID, owner, name, ref),
	})
	if err != nil {
		return "", fmt.Errorf("comment agent failed: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("comment agent returned an empty reply")
	}
	return text, nil
}

func (s *Service) language(ctx context.Context, logger *slog.Logger, org string) string {
	lang, err := s.store.GetOrgLanguage(ctx, org)
	if err != nil {
		logger.Warn("failed to read organization language", "org", org, "error", err)
		return s.opts.DefaultLanguage
	}
	if lang == "" {
		return s.opts.DefaultLanguage
	}
	return lang
}

func (s *Service) isBot(login string) bool {
	return s.opts.BotLogin != "" && strings.EqualFold(login, s.opts.BotLogin)
}

// withReply makes sure the reply itself is in the thread listing, which can lag
// behind the webhook.
func withReply(comments []github.PullRequestComment, ev ReplyEvent) []github.PullRequestComment {
	for _, c := range comments {
		if c.ID == ev.CommentID {
			return comments
		}
	}
	return append(comments, github.PullRequestComment{
		ID:          ev.CommentID,
		InReplyToID: ev.InReplyToID,
		Path:        ev.Path,
		User:        &github.User{Login: ev.Author},
		Body:        ev.Body,
	})
}
