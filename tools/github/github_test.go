package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/testutil"
	"github.com/BaSui01/storyflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{Token: "secret", BaseURL: srv.URL, RateLimit: 1000}, nil)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAcceptanceCriteria(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"absent", "Just a bug.", ""},
		{"until blank line", "Intro\n\nAcceptance Criteria:\n- a\n- b\n\nNotes here", "- a\n- b"},
		{"case insensitive to end", "acceptance criteria: works offline", "works offline"},
		{"trailing newline", "Acceptance Criteria: done\n", "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AcceptanceCriteria(tt.body))
		})
	}
}

func TestLinkedIssueNumbers(t *testing.T) {
	body := "Blocks #12 and #7, see https://github.com/acme/app/issues/30 and #12 again. Self #5. " +
		"Other repo https://github.com/other/app/issues/99"
	assert.Equal(t, []int{12, 7, 30}, LinkedIssueNumbers("acme", "app", body, 5))
	assert.Empty(t, LinkedIssueNumbers("acme", "app", "nothing", 1))
}

func TestGetIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		switch r.URL.Path {
		case "/repos/acme/app/issues/5":
			writeJSON(w, map[string]any{
				"number":   5,
				"title":    "Login",
				"body":     "Users log in.\nAcceptance Criteria:\n- email works\n\nRelated #6 and #404",
				"html_url": "https://github.com/acme/app/issues/5",
			})
		case "/repos/acme/app/issues/6":
			writeJSON(w, map[string]any{"number": 6, "title": "Signup", "html_url": "https://github.com/acme/app/issues/6"})
		default:
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		}
	})

	issue, err := c.GetIssue(context.Background(), GetIssueInput{Owner: "acme", Repo: "app", IssueNumber: 5})
	require.NoError(t, err)
	assert.Equal(t, "Login", issue.Title)
	assert.Equal(t, "- email works", issue.AcceptanceCriteria)
	assert.Equal(t, []LinkedIssue{{Number: 6, Title: "Signup", URL: "https://github.com/acme/app/issues/6"}}, issue.LinkedIssues)
}

func TestGetIssue_PrimaryFailurePropagates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	})

	_, err := c.GetIssue(context.Background(), GetIssueInput{Owner: "acme", Repo: "app", IssueNumber: 1})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Bad credentials")
}

func TestCreateIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/app/issues", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "New story", body["title"])
		assert.Equal(t, []any{"story"}, body["labels"])
		assert.NotContains(t, body, "assignees")
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"number": 42, "title": "New story", "html_url": "https://github.com/acme/app/issues/42"})
	})

	created, err := c.CreateIssue(context.Background(), CreateIssueInput{Owner: "acme", Repo: "app", Title: "New story", Labels: []string{"story"}})
	require.NoError(t, err)
	assert.Equal(t, &CreatedIssue{Number: 42, URL: "https://github.com/acme/app/issues/42", Title: "New story"}, created)
}

func TestGetFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/app/contents/docs/README.md":
			assert.Equal(t, "main", r.URL.Query().Get("ref"))
			enc := base64.StdEncoding.EncodeToString([]byte("# Hello\nworld"))
			writeJSON(w, map[string]any{
				"type": "file", "name": "README.md", "path": "docs/README.md",
				"encoding": "base64", "content": enc[:8] + "\n" + enc[8:],
			})
		case "/repos/acme/app/contents/docs":
			writeJSON(w, []map[string]any{
				{"type": "file", "name": "README.md", "path": "docs/README.md"},
				{"type": "dir", "name": "img", "path": "docs/img"},
			})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	file, err := c.GetFile(ctx, GetFileInput{Owner: "acme", Repo: "app", Path: "docs/README.md", Ref: "main"})
	require.NoError(t, err)
	assert.Equal(t, "file", file.Type)
	assert.Equal(t, "# Hello\nworld", file.Content)

	dir, err := c.GetFile(ctx, GetFileInput{Owner: "acme", Repo: "app", Path: "/docs/"})
	require.NoError(t, err)
	assert.Equal(t, "dir", dir.Type)
	assert.Equal(t, []DirEntry{
		{Name: "README.md", Path: "docs/README.md", Type: "file"},
		{Name: "img", Path: "docs/img", Type: "dir"},
	}, dir.Entries)

	_, err = c.GetFile(ctx, GetFileInput{Owner: "acme", Repo: "app", Path: "missing"})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolFailed, types.GetErrorCode(err))
}

func TestTools_ThroughExecutor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"number": 1, "title": "T", "body": "", "html_url": "u"})
	})
	exec := tools.NewExecutor(tools.NewRegistry(c.Tools()...))
	assert.Equal(t, []string{"github-create-issue", "github-get-file", "github-get-issue"}, exec.Registry().Names())

	res := exec.ExecuteOne(context.Background(), testCall("github-get-issue", `{"owner":"a","repo":"b","issueNumber":1}`))
	require.NoError(t, res.Err)
	testutil.AssertJSONEqual(t, `{"number":1,"title":"T","body":"","acceptanceCriteria":"","linkedIssues":[]}`, res.Result)

	res = exec.ExecuteOne(context.Background(), testCall("github-get-issue", `{"owner":"a","repo":"b"}`))
	require.Error(t, res.Err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(res.Err))
}

func testCall(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call-1", Name: name, Arguments: json.RawMessage(args)}
}
