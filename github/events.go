package github

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind is the classification of an accepted webhook delivery.
type EventKind string

const (
	EventPing          EventKind = "ping"
	EventPullRequest   EventKind = "pull_request"
	EventReviewComment EventKind = "review_comment"
	EventPush          EventKind = "push"
	EventInstallation  EventKind = "installation"
)

// Event is a verified and classified webhook delivery. Exactly one of the
// kind-specific members is set, matching Kind.
type Event struct {
	Kind           EventKind
	Type           string // X-GitHub-Event header value
	Action         string
	InstallationID int64
	Repo           string // owner/name
	Sender         string

	PullRequest  *PullRequestEvent
	Comment      *CommentEvent
	Push         *PushEvent
	Installation *InstallationChange
}

// PullRequestEvent identifies the pull request revision to review.
type PullRequestEvent struct {
	Number  int
	HeadSHA string
	HeadRef string
	BaseRef string
	Title   string
	Body    string
	Author  string
	Draft   bool
}

// CommentEvent is a newly created review comment, usually a reply in a thread.
type CommentEvent struct {
	ID          int64
	InReplyToID int64
	PRNumber    int
	Path        string
	Line        int
	Side        string
	DiffHunk    string
	Body        string
	Author      string
	CommitID    string
}

// PushEvent is a push to a branch of a repository.
type PushEvent struct {
	Ref           string
	After         string
	Pusher        string
	DefaultBranch string
}

// IsDefaultBranch reports whether the push updated the repository's default branch.
func (p *PushEvent) IsDefaultBranch() bool {
	return p.DefaultBranch != "" && p.Ref == "refs/heads/"+p.DefaultBranch
}

// InstallationChange lists the repositories an installation event adds or removes.
type InstallationChange struct {
	Account string
	Added   []string
	Removed []string
}

// Owner returns the owner part of the event repository.
func (e *Event) Owner() string {
	owner, _, _ := strings.Cut(e.Repo, "/")
	return owner
}

// Name returns the name part of the event repository.
func (e *Event) Name() string {
	_, name, _ := strings.Cut(e.Repo, "/")
	return name
}

// DedupKey returns the identity of the unit of work the event starts, or "" when
// the event is handled inline.
func (e *Event) DedupKey() string {
	switch {
	case e.Kind == EventPullRequest && e.PullRequest != nil:
		return ReviewKey(e.Repo, e.PullRequest.Number, e.PullRequest.HeadSHA)
	case e.Kind == EventReviewComment && e.Comment != nil:
		return ReplyKey(e.Comment.ID)
	default:
		return ""
	}
}

// ReviewKey is the dedup key of a review run: repo, pull request and head SHA.
func ReviewKey(repo string, number int, headSHA string) string {
	return fmt.Sprintf("%s#%d@%s", repo, number, headSHA)
}

// ReplyKey is the dedup key of a reply handling run.
func ReplyKey(commentID int64) string {
	return "comment:" + strconv.FormatInt(commentID, 10)
}

// OnboardKey is the dedup key of an onboarding run started by one activation request.
func OnboardKey(repo, triggerID string) string {
	return repo + "/" + triggerID
}

// SplitRepo splits "owner/name".
func SplitRepo(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return owner, name, nil
}
