package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louroai/louro/apperr"
)

// newTestClient serves the token endpoint from tokens and every other path from api.
func newTestClient(t *testing.T, tokens *tokenServer, api http.Handler) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/app/", tokens)
	mux.Handle("/", api)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	creds := NewCredentials(1, testPrivateKey(t), server.URL, nil, testLogger())
	client, err := NewClient(creds, ClientOptions{BaseURL: server.URL, MaxConcurrency: 2}, testLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestGetPullRequest(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/pulls/42" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "token ghs_1" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, `{"number": 42, "title": "Add fixtures", "head": {"ref": "feature", "sha": "abc123"}, "base": {"ref": "main"}}`)
	}))

	pr, err := client.GetPullRequest(context.Background(), 99, "acme", "app", 42)
	if err != nil {
		t.Fatalf("GetPullRequest() error = %v", err)
	}
	if pr.Title != "Add fixtures" || pr.Head.SHA != "abc123" || pr.Base.Ref != "main" {
		t.Errorf("pr = %+v", pr)
	}
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	var calls atomic.Int32
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message": "Bad credentials"}`)
			return
		}
		if got := r.Header.Get("Authorization"); got != "token ghs_2" {
			t.Errorf("Authorization = %q, want refreshed token", got)
		}
		_, _ = io.WriteString(w, `{"number": 1}`)
	}))

	if _, err := client.GetPullRequest(context.Background(), 99, "acme", "app", 1); err != nil {
		t.Fatalf("GetPullRequest() error = %v", err)
	}
	if got := tokens.exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestServerErrorsRetried(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	var calls atomic.Int32
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"number": 1}`)
	}))

	if _, err := client.GetPullRequest(context.Background(), 99, "acme", "app", 1); err != nil {
		t.Fatalf("GetPullRequest() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestServerErrorsExhausted(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	var calls atomic.Int32
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.GetPullRequest(context.Background(), 99, "acme", "app", 1)
	if !apperr.IsTransient(err) {
		t.Errorf("GetPullRequest() error = %v, want transient", err)
	}
	if got := calls.Load(); got != MaxServerRetries+1 {
		t.Errorf("calls = %d, want %d", got, MaxServerRetries+1)
	}
}

func TestNotFound(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message": "Not Found"}`)
	}))

	_, err := client.ListPullRequestFiles(context.Background(), 99, "acme", "app", 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ListPullRequestFiles() error = %v, want ErrNotFound", err)
	}

	content, err := client.GetFileContent(context.Background(), 99, "acme", "app", "missing.go", "main")
	if err != nil || content != "" {
		t.Errorf("GetFileContent() = %q, %v, want empty and no error", content, err)
	}
}

func TestGetFileContent(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") != "abc123" {
			t.Errorf("ref = %q", r.URL.Query().Get("ref"))
		}
		// "package main\n" base64-encoded.
		_, _ = io.WriteString(w, `{"type": "file", "encoding": "base64", "path": "main.go", "content": "cGFja2FnZSBtYWluCg=="}`)
	}))

	content, err := client.GetFileContent(context.Background(), 99, "acme", "app", "main.go", "abc123")
	if err != nil {
		t.Fatalf("GetFileContent() error = %v", err)
	}
	if content != "package main\n" {
		t.Errorf("content = %q", content)
	}
}

func TestCreateReviewSendsAnchors(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	var got struct {
		CommitID string `json:"commit_id"`
		Event    string `json:"event"`
		Comments []struct {
			Path string `json:"path"`
			Line int    `json:"line"`
			Side string `json:"side"`
			Body string `json:"body"`
		} `json:"comments"`
	}
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/pulls/42/reviews") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode review: %v", err)
		}
		_, _ = io.WriteString(w, `{"id": 5, "state": "COMMENTED"}`)
	}))

	review, err := client.CreateReview(context.Background(), 99, "acme", "app", 42, &ReviewRequest{
		CommitID: "abc123",
		Event:    "COMMENT",
		Body:     "summary",
		Comments: []ReviewComment{{Path: "a.go", Line: 3, Side: "LEFT", Body: "why?"}},
	})
	if err != nil {
		t.Fatalf("CreateReview() error = %v", err)
	}
	if review.ID != 5 {
		t.Errorf("review = %+v", review)
	}
	if got.CommitID != "abc123" || got.Event != "COMMENT" || len(got.Comments) != 1 {
		t.Fatalf("request = %+v", got)
	}
	if c := got.Comments[0]; c.Path != "a.go" || c.Line != 3 || c.Side != "LEFT" || c.Body != "why?" {
		t.Errorf("comment = %+v", c)
	}
}

func TestUpdatePullRequestBody(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	var got map[string]any
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || !strings.HasSuffix(r.URL.Path, "/repos/acme/app/pulls/42") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode edit: %v", err)
		}
		_, _ = io.WriteString(w, `{"number": 42}`)
	}))

	if err := client.UpdatePullRequestBody(context.Background(), 99, "acme", "app", 42, "Resumo da revisão"); err != nil {
		t.Fatalf("UpdatePullRequestBody() error = %v", err)
	}
	if got["body"] != "Resumo da revisão" {
		t.Errorf("request = %v", got)
	}
	if _, ok := got["title"]; ok {
		t.Errorf("title sent on a body-only edit: %v", got)
	}
}

func TestListReviewCommentsPaginates(t *testing.T) {
	tokens := &tokenServer{ttl: time.Hour}
	var serverURL string
	client := newTestClient(t, tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `<`+serverURL+`/repos/acme/app/pulls/1/comments?page=2>; rel="next"`)
			_, _ = io.WriteString(w, `[{"id": 1, "body": "root", "user": {"login": "louro-ai[bot]"}}]`)
			return
		}
		_, _ = io.WriteString(w, `[{"id": 2, "in_reply_to_id": 1, "body": "reply", "user": {"login": "dev"}}]`)
	}))
	serverURL = strings.TrimSuffix(client.baseURL.String(), "/")

	comments, err := client.ListReviewComments(context.Background(), 99, "acme", "app", 1)
	if err != nil {
		t.Fatalf("ListReviewComments() error = %v", err)
	}
	if len(comments) != 2 || comments[1].InReplyToID != 1 || comments[0].User.Login != "louro-ai[bot]" {
		t.Errorf("comments = %+v", comments)
	}
}
