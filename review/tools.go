package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louroai/louro/anthropic"
)

const (
	// MaxToolFileSize caps the content a tool returns for one file (50KB).
	MaxToolFileSize = 50 * 1024

	// maxListedFiles caps list_files output.
	maxListedFiles = 1000

	maxSearchMatches = 100
)

// RepoFiles reads repository content at a ref.
type RepoFiles interface {
	GetFileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, error)
	GetTree(ctx context.Context, installationID int64, owner, repo, ref string, limit int) ([]string, error)
}

// RepoTools returns the read_file, search_file and list_files tools bound to one
// repository at ref. They give the agent lazy access to files outside the diff.
func RepoTools(files RepoFiles, installationID int64, owner, repo, ref string) []anthropic.Tool {
	readFile := func(ctx context.Context, input json.RawMessage) (string, error) {
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
			return "", fmt.Errorf("read_file needs a path")
		}
		content, err := files.GetFileContent(ctx, installationID, owner, repo, in.Path, ref)
		if err != nil {
			return "", err
		}
		if content == "" {
			return fmt.Sprintf("File not found: %s at %s", in.Path, ref), nil
		}
		if len(content) > MaxToolFileSize {
			content = content[:MaxToolFileSize] + "\n... (truncated)"
		}
		return content, nil
	}

	searchFile := func(ctx context.Context, input json.RawMessage) (string, error) {
		var in struct {
			Path  string `json:"path"`
			Query string `json:"query"`
		}
		if err := json.Unmarshal(input, &in); err != nil || in.Path == "" || in.Query == "" {
			return "", fmt.Errorf("search_file needs a path and a query")
		}
		content, err := files.GetFileContent(ctx, installationID, owner, repo, in.Path, ref)
		if err != nil {
			return "", err
		}
		if content == "" {
			return fmt.Sprintf("File not found: %s", in.Path), nil
		}
		query := strings.ToLower(in.Query)
		var matches []string
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), query) {
				matches = append(matches, fmt.Sprintf("L%d: %s", i+1, line))
				if len(matches) == maxSearchMatches {
					break
				}
			}
		}
		if len(matches) == 0 {
			return fmt.Sprintf("No matches for %q in %s", in.Query, in.Path), nil
		}
		return strings.Join(matches, "\n"), nil
	}

	listFiles := func(ctx context.Context, input json.RawMessage) (string, error) {
		var in struct {
			Prefix string `json:"prefix"`
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &in)
		}
		paths, err := files.GetTree(ctx, installationID, owner, repo, ref, 0)
		if err != nil {
			return "", err
		}
		var out []string
		for _, p := range paths {
			if in.Prefix != "" && !strings.HasPrefix(p, in.Prefix) {
				continue
			}
			out = append(out, p)
			if len(out) == maxListedFiles {
				out = append(out, "... (more files not listed)")
				break
			}
		}
		if len(out) == 0 {
			return "No files found", nil
		}
		return strings.Join(out, "\n"), nil
	}

	return []anthropic.Tool{
		{
			Name:        "read_file",
			Description: "Read the full content of a file in the repository at the reviewed commit.",
			Properties: map[string]any{
				"path": map[string]any{"type": "string", "description": "File path relative to the repository root."},
			},
			Required: []string{"path"},
			Call:     readFile,
		},
		{
			Name:        "search_file",
			Description: "Return the numbered lines of a file that contain the query (case-insensitive).",
			Properties: map[string]any{
				"path":  map[string]any{"type": "string", "description": "File path relative to the repository root."},
				"query": map[string]any{"type": "string", "description": "Text to look for."},
			},
			Required: []string{"path", "query"},
			Call:     searchFile,
		},
		{
			Name:        "list_files",
			Description: "List the files of the repository, optionally only those under a path prefix.",
			Properties: map[string]any{
				"prefix": map[string]any{"type": "string", "description": "Optional directory prefix such as \"internal/\"."},
			},
			Call: listFiles,
		},
	}
}
