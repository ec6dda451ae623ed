package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRESTClient(t *testing.T, r http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := NewRESTClient("", testRetrier())
	require.NoError(t, c.SetBaseURL(srv.URL))
	return c
}

func TestRESTListPullCommitsFollowsLinkHeader(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/repos/{owner}/{name}/pulls/{number}/commits", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "100", req.URL.Query().Get("per_page"))
		if req.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"sha":"c"}]`)
			return
		}
		next := fmt.Sprintf("<http://%s%s?page=2&per_page=100>; rel=\"next\"", req.Host, req.URL.Path)
		w.Header().Set("Link", next)
		fmt.Fprint(w, `[{"sha":"a"},{"sha":"b"}]`)
	})
	c := newTestRESTClient(t, r)

	commits, err := c.ListPullCommits(context.Background(), "acme", "api", 7)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, "a", commits[0].GetSHA())
	assert.Equal(t, "c", commits[2].GetSHA())
}

func TestRESTSearchIssues(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/search/issues", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		assert.Equal(t, "is:pr author:octo repo:acme/api", q.Get("q"))
		assert.Equal(t, "updated", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("order"))
		fmt.Fprint(w, `{"total_count":2,"incomplete_results":false,"items":[{"number":5,"pull_request":{}},{"number":4,"pull_request":{}}]}`)
	})
	c := newTestRESTClient(t, r)

	items, err := c.SearchIssues(context.Background(), "is:pr author:octo repo:acme/api")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 5, items[0].GetNumber())
}

func TestRESTRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	r := chi.NewRouter()
	r.Get("/repos/{owner}/{name}", func(w http.ResponseWriter, req *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message":"bad gateway"}`)
			return
		}
		fmt.Fprintf(w, `{"id":1,"name":%q,"full_name":"acme/api"}`, chi.URLParam(req, "name"))
	})
	c := newTestRESTClient(t, r)

	repo, err := c.GetRepository(context.Background(), "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, "api", repo.GetName())
	assert.Equal(t, int32(2), hits.Load())
}

func TestRESTDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	r := chi.NewRouter()
	r.Get("/repos/{owner}/{name}/pulls/{number}/reviews", func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	c := newTestRESTClient(t, r)

	_, err := c.ListPullReviews(context.Background(), "acme", "api", 3)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, IsTransient(err))
}

func TestRESTListPullReviewCommentsAndEvents(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/repos/{owner}/{name}/pulls/{number}/comments", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[{"id":10,"pull_request_review_id":77,"path":"main.go","body":"nit"}]`)
	})
	r.Get("/repos/{owner}/{name}/issues/{number}/events", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	r.Get("/repos/{owner}/{name}/pulls/{number}/files", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[{"filename":"main.go","status":"modified","additions":3,"deletions":1}]`)
	})
	c := newTestRESTClient(t, r)

	comments, err := c.ListPullReviewComments(context.Background(), "acme", "api", 3)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(77), comments[0].GetPullRequestReviewID())

	events, err := c.ListIssueEvents(context.Background(), "acme", "api", 3)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	files, err := c.ListPullFiles(context.Background(), "acme", "api", 3)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 3, files[0].GetAdditions())
}

func TestGraphQLViewerLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"viewer":{"login":"octocat"}}}`)
	}))
	defer srv.Close()

	c := NewEnterpriseGraphQLClient(srv.URL, "secret", testRetrier())
	login, err := c.ViewerLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
}
