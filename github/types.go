// Package github provides the GitHub App credential manager, the REST client and
// the webhook gate used by the reviewer.
package github

import "time"

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	State   string `json:"state"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Head    *Ref   `json:"head"`
	Base    *Ref   `json:"base"`
	User    *User  `json:"user"`
	HTMLURL string `json:"html_url"`
	Draft   bool   `json:"draft"`
}

// Ref represents a git reference (branch/commit).
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// Repository represents a GitHub repository.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         *User  `json:"owner"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

// User represents a GitHub user, bot or organization.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// IsBot reports whether the account is a GitHub App or bot user.
func (u *User) IsBot() bool {
	return u != nil && u.Type == "Bot"
}

// Installation represents a GitHub App installation.
type Installation struct {
	ID      int64 `json:"id"`
	Account *User `json:"account,omitempty"`
}

// PullRequestFile represents a file changed in a pull request.
type PullRequestFile struct {
	Filename         string `json:"filename"`
	Status           string `json:"status"` // added, removed, modified, renamed, copied, changed, unchanged
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Patch            string `json:"patch,omitempty"`
	PreviousFilename string `json:"previous_filename,omitempty"`
}

// ReviewComment is an inline comment attached to a review request.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Side string `json:"side"` // LEFT or RIGHT
	Body string `json:"body"`
}

// ReviewRequest represents a request to create a pull request review.
type ReviewRequest struct {
	CommitID string          `json:"commit_id,omitempty"`
	Body     string          `json:"body"`
	Event    string          `json:"event"` // APPROVE, REQUEST_CHANGES, COMMENT
	Comments []ReviewComment `json:"comments,omitempty"`
}

// Review represents a created pull request review.
type Review struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// PullRequestComment represents a review comment on a pull request.
type PullRequestComment struct {
	ID          int64  `json:"id"`
	InReplyToID int64  `json:"in_reply_to_id,omitempty"`
	DiffHunk    string `json:"diff_hunk"`
	Path        string `json:"path"`
	CommitID    string `json:"commit_id"`
	User        *User  `json:"user"`
	Body        string `json:"body"`
	HTMLURL     string `json:"html_url"`
	Line        int    `json:"line,omitempty"`
	Side        string `json:"side,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Commit is a commit summary from the commits listing.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// pullRequestPayload is the body of a pull_request event.
type pullRequestPayload struct {
	Action       string        `json:"action"`
	Number       int           `json:"number"`
	PullRequest  *PullRequest  `json:"pull_request"`
	Repository   *Repository   `json:"repository"`
	Installation *Installation `json:"installation"`
	Sender       *User         `json:"sender"`
}

// reviewCommentPayload is the body of a pull_request_review_comment event.
type reviewCommentPayload struct {
	Action       string              `json:"action"`
	Comment      *PullRequestComment `json:"comment"`
	PullRequest  *PullRequest        `json:"pull_request"`
	Repository   *Repository         `json:"repository"`
	Installation *Installation       `json:"installation"`
	Sender       *User               `json:"sender"`
}

// pushPayload is the body of a push event.
type pushPayload struct {
	Ref          string        `json:"ref"`
	After        string        `json:"after"`
	Repository   *Repository   `json:"repository"`
	Installation *Installation `json:"installation"`
	Pusher       *struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Sender *User `json:"sender"`
}

// installationRepo is the short repository form carried by installation events.
type installationRepo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

// installationPayload is the body of installation and installation_repositories events.
type installationPayload struct {
	Action              string             `json:"action"`
	Installation        *Installation      `json:"installation"`
	Repositories        []installationRepo `json:"repositories"`
	RepositoriesAdded   []installationRepo `json:"repositories_added"`
	RepositoriesRemoved []installationRepo `json:"repositories_removed"`
	Sender              *User              `json:"sender"`
}
