package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louroai/louro/apperr"
)

var (
	// ErrInvalidSignature indicates the webhook signature verification failed.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMissingSignature indicates the webhook signature header is missing.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrUnsupportedEvent indicates the webhook event type is not handled.
	ErrUnsupportedEvent = errors.New("unsupported event type")
	// ErrIgnoredAction indicates a known event type whose action or sender is not acted upon.
	ErrIgnoredAction = errors.New("ignored event action")
	// ErrMalformedPayload indicates the payload could not be decoded or lacks required fields.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Gate authenticates and classifies inbound GitHub webhook deliveries.
type Gate struct {
	secret []byte
}

// NewGate creates a gate verifying signatures with the given webhook secret.
func NewGate(secret string) *Gate {
	return &Gate{
		secret: []byte(secret),
	}
}

// VerifySignature verifies the webhook payload signature.
// The signature header should be in the format "sha256=<hex-encoded-signature>".
func (g *Gate) VerifySignature(payload []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return ErrMissingSignature
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return ErrInvalidSignature
	}

	signature, err := hex.DecodeString(parts[1])
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(signature, expected) {
		return ErrInvalidSignature
	}

	return nil
}

// Accept verifies the delivery and classifies it. Signature failures are returned as
// *apperr.AuthenticationError; everything else that is not acted upon wraps one of
// ErrUnsupportedEvent, ErrIgnoredAction or ErrMalformedPayload.
func (g *Gate) Accept(body []byte, signatureHeader, eventType string) (*Event, error) {
	if err := g.VerifySignature(body, signatureHeader); err != nil {
		return nil, &apperr.AuthenticationError{Err: err}
	}

	switch eventType {
	case "ping":
		return &Event{Kind: EventPing, Type: eventType}, nil
	case "pull_request":
		return parsePullRequest(body)
	case "pull_request_review_comment":
		return parseReviewComment(body)
	case "push":
		return parsePush(body)
	case "installation", "installation_repositories":
		return parseInstallation(eventType, body)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

func parsePullRequest(body []byte) (*Event, error) {
	var p pullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch p.Action {
	case "opened", "synchronize", "reopened":
	default:
		return nil, fmt.Errorf("%w: pull_request.%s", ErrIgnoredAction, p.Action)
	}

	if p.PullRequest == nil || p.PullRequest.Head == nil || p.Repository == nil || p.Installation == nil {
		return nil, fmt.Errorf("%w: pull_request payload missing pull_request, repository or installation", ErrMalformedPayload)
	}

	pr := p.PullRequest
	e := newRepoEvent(EventPullRequest, "pull_request", p.Action, p.Repository, p.Installation, p.Sender)
	e.PullRequest = &PullRequestEvent{
		Number:  pr.Number,
		HeadSHA: pr.Head.SHA,
		HeadRef: pr.Head.Ref,
		Title:   pr.Title,
		Body:    pr.Body,
		Draft:   pr.Draft,
	}
	if pr.Base != nil {
		e.PullRequest.BaseRef = pr.Base.Ref
	}
	if pr.User != nil {
		e.PullRequest.Author = pr.User.Login
	}
	return e, nil
}

func parseReviewComment(body []byte) (*Event, error) {
	var p reviewCommentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Action != "created" {
		return nil, fmt.Errorf("%w: pull_request_review_comment.%s", ErrIgnoredAction, p.Action)
	}
	if p.Comment == nil || p.PullRequest == nil || p.Repository == nil || p.Installation == nil {
		return nil, fmt.Errorf("%w: review comment payload missing comment, pull_request, repository or installation", ErrMalformedPayload)
	}
	// Our own comments and other apps' comments never start feedback work.
	if isBotSender(p.Sender) || isBotSender(p.Comment.User) {
		return nil, fmt.Errorf("%w: comment from bot", ErrIgnoredAction)
	}

	c := p.Comment
	e := newRepoEvent(EventReviewComment, "pull_request_review_comment", p.Action, p.Repository, p.Installation, p.Sender)
	e.Comment = &CommentEvent{
		ID:          c.ID,
		InReplyToID: c.InReplyToID,
		PRNumber:    p.PullRequest.Number,
		Path:        c.Path,
		Line:        c.Line,
		Side:        c.Side,
		DiffHunk:    c.DiffHunk,
		Body:        c.Body,
		CommitID:    c.CommitID,
	}
	if c.User != nil {
		e.Comment.Author = c.User.Login
	}
	return e, nil
}

func parsePush(body []byte) (*Event, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Repository == nil || p.Ref == "" {
		return nil, fmt.Errorf("%w: push payload missing repository or ref", ErrMalformedPayload)
	}

	e := newRepoEvent(EventPush, "push", "", p.Repository, p.Installation, p.Sender)
	e.Push = &PushEvent{
		Ref:           p.Ref,
		After:         p.After,
		DefaultBranch: p.Repository.DefaultBranch,
	}
	if p.Pusher != nil {
		e.Push.Pusher = p.Pusher.Name
	}
	return e, nil
}

func parseInstallation(eventType string, body []byte) (*Event, error) {
	var p installationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Installation == nil || p.Installation.ID == 0 {
		return nil, fmt.Errorf("%w: payload is missing installation", ErrMalformedPayload)
	}

	change := &InstallationChange{}
	if p.Installation.Account != nil {
		change.Account = p.Installation.Account.Login
	}

	switch {
	case eventType == "installation" && p.Action == "created":
		change.Added = repoNames(p.Repositories)
	case eventType == "installation" && p.Action == "deleted":
		change.Removed = repoNames(p.Repositories)
	case eventType == "installation_repositories" && p.Action == "added":
		change.Added = repoNames(p.RepositoriesAdded)
	case eventType == "installation_repositories" && p.Action == "removed":
		change.Removed = repoNames(p.RepositoriesRemoved)
	default:
		return nil, fmt.Errorf("%w: %s.%s", ErrIgnoredAction, eventType, p.Action)
	}

	return &Event{
		Kind:           EventInstallation,
		Type:           eventType,
		Action:         p.Action,
		InstallationID: p.Installation.ID,
		Installation:   change,
	}, nil
}

func newRepoEvent(kind EventKind, eventType, action string, repo *Repository, inst *Installation, sender *User) *Event {
	e := &Event{
		Kind:   kind,
		Type:   eventType,
		Action: action,
		Repo:   repo.FullName,
	}
	if inst != nil {
		e.InstallationID = inst.ID
	}
	if sender != nil {
		e.Sender = sender.Login
	}
	return e
}

func repoNames(repos []installationRepo) []string {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.FullName != "" {
			names = append(names, r.FullName)
		}
	}
	return names
}

func isBotSender(u *User) bool {
	if u == nil {
		return false
	}
	return u.IsBot() || strings.HasSuffix(u.Login, "[bot]")
}
