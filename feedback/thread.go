package feedback

import (
	"fmt"
	"sort"
	"strings"

	"github.com/louroai/louro/github"
)

// ThreadRoot returns the first comment of the thread containing commentID, or
// nil when the comment is not in the list.
func ThreadRoot(comments []github.PullRequestComment, commentID int64) *github.PullRequestComment {
	byID := make(map[int64]*github.PullRequestComment, len(comments))
	for i := range comments {
		byID[comments[i].ID] = &comments[i]
	}

	current, ok := byID[commentID]
	if !ok {
		return nil
	}
	// Bounded walk in case of a reply cycle in bad data.
	for range len(comments) {
		parent, ok := byID[current.InReplyToID]
		if current.InReplyToID == 0 || !ok {
			break
		}
		current = parent
	}
	return current
}

// BuildThreadContext renders the conversation around targetCommentID, excluding
// the target itself, oldest first.
func BuildThreadContext(comments []github.PullRequestComment, targetCommentID int64) string {
	var b strings.Builder
	for _, c := range threadComments(comments, targetCommentID) {
		author := "unknown"
		if c.User != nil {
			author = c.User.Login
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", author, c.Body)
	}
	return b.String()
}

// threadComments collects every comment of the target's thread except the target.
func threadComments(comments []github.PullRequestComment, targetCommentID int64) []github.PullRequestComment {
	root := ThreadRoot(comments, targetCommentID)
	if root == nil {
		return nil
	}

	inThread := map[int64]bool{root.ID: true}
	for changed := true; changed; {
		changed = false
		for _, c := range comments {
			if !inThread[c.ID] && inThread[c.InReplyToID] {
				inThread[c.ID] = true
				changed = true
			}
		}
	}

	var out []github.PullRequestComment
	for _, c := range comments {
		if inThread[c.ID] && c.ID != targetCommentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
