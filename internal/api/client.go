package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
)

// PerPage is the page size requested from every list endpoint
const PerPage = 100

// ErrMalformedPayload is returned when an upstream response cannot be parsed
// into the expected shape
var ErrMalformedPayload = errors.New("malformed upstream payload")

// Client is the subset of the GitHub REST API needed to extract pull request activity
type Client interface {
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
	// SearchIssues returns every match for query, most recently updated first
	SearchIssues(ctx context.Context, query string) ([]*github.Issue, error)
	ListPullCommits(ctx context.Context, owner, name string, number int) ([]*github.RepositoryCommit, error)
	ListPullFiles(ctx context.Context, owner, name string, number int) ([]*github.CommitFile, error)
	ListPullReviews(ctx context.Context, owner, name string, number int) ([]*github.PullRequestReview, error)
	ListPullReviewComments(ctx context.Context, owner, name string, number int) ([]*github.PullRequestComment, error)
	ListIssueEvents(ctx context.Context, owner, name string, number int) ([]*github.IssueEvent, error)
}

// Identity resolves the GitHub login of the authenticated user
type Identity interface {
	ViewerLogin(ctx context.Context) (string, error)
}

// HTTPError is an upstream response with a non-success status code
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("github responded with HTTP %d: %s", e.StatusCode, e.Message)
}

// RateLimitError reports that GitHub throttled a request.
// ResetTime is zero when GitHub did not say when the limit resets.
type RateLimitError struct {
	ResetTime time.Time
	Err       error
}

func (e *RateLimitError) Error() string {
	if e.ResetTime.IsZero() {
		return fmt.Sprintf("github rate limit exceeded: %v", e.Err)
	}
	return fmt.Sprintf("github rate limit exceeded until %s: %v", e.ResetTime.Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Endpoint documents one upstream call made during a sync
type Endpoint struct {
	ID          string
	Description string
	Example     string
}

// Endpoints lists the GitHub calls a sync performs, as gh invocations
var Endpoints = []Endpoint{
	{
		ID:          "search_issues_prs",
		Description: "Search for authored or reviewed PRs in a repository over a time window",
		Example:     `gh api /search/issues -X GET -f q="is:pr author:LOGIN repo:OWNER/REPO updated:>=ISO_DATE"`,
	},
	{
		ID:          "repos_get",
		Description: "Fetch repository metadata",
		Example:     "gh api repos/OWNER/REPO -X GET",
	},
	{
		ID:          "pulls_list_commits",
		Description: "List commits for a PR",
		Example:     "gh api repos/OWNER/REPO/pulls/PR_NUMBER/commits -X GET --paginate",
	},
	{
		ID:          "pulls_list_files",
		Description: "List files touched in a PR",
		Example:     "gh api repos/OWNER/REPO/pulls/PR_NUMBER/files -X GET --paginate",
	},
	{
		ID:          "pulls_list_reviews",
		Description: "List code review submissions on a PR",
		Example:     "gh api repos/OWNER/REPO/pulls/PR_NUMBER/reviews -X GET --paginate",
	},
	{
		ID:          "pulls_list_review_comments",
		Description: "List inline review comments on a PR",
		Example:     "gh api repos/OWNER/REPO/pulls/PR_NUMBER/comments -X GET --paginate",
	},
	{
		ID:          "issues_list_events",
		Description: "List timeline events for a PR (review requests, labels, merges)",
		Example:     "gh api repos/OWNER/REPO/issues/PR_NUMBER/events -X GET --paginate",
	},
}
