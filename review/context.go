package review

import (
	"github.com/louroai/louro/config"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
)

// PullRequestRef identifies one revision of a pull request. It is the payload
// of a review task.
type PullRequestRef struct {
	InstallationID int64  `json:"installation_id"`
	Repo           string `json:"repo"`
	Number         int    `json:"number"`
	HeadSHA        string `json:"head_sha"`
	DeliveryID     string `json:"delivery_id,omitempty"`
}

// ReviewContext is everything the agent sees about a pull request revision.
type ReviewContext struct {
	Ref         PullRequestRef
	Owner       string
	Name        string
	PullRequest *github.PullRequest
	Config      *config.RepoConfig
	Language    string

	// Files are the reviewed files in diff order. Only their lines are anchors.
	Files []FileDiff
	// Diff is the annotated text of Files, at most MaxDiffChars long.
	Diff    string
	Anchors AnchorSet
	// Omitted lists files cut by the diff size cap.
	Omitted []string
	// Skipped lists lock, generated, binary and excluded files.
	Skipped []string

	Knowledge []knowledge.Entry
}

// IsEmpty reports whether no file is left to review.
func (c *ReviewContext) IsEmpty() bool {
	return len(c.Files) == 0
}

// TotalSize returns the size of the annotated diff in characters.
func (c *ReviewContext) TotalSize() int {
	return len(c.Diff)
}
