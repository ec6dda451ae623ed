package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// RESTClient talks to the GitHub REST API directly with a token
type RESTClient struct {
	client  *github.Client
	retrier *Retrier
}

// NewRESTClient creates a new GitHub API client
func NewRESTClient(token string, retrier *Retrier) *RESTClient {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &RESTClient{client: github.NewClient(tc), retrier: retrier}
}

// SetBaseURL points the client at a GitHub Enterprise or test server
func (c *RESTClient) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid GitHub API URL %q: %w", raw, err)
	}
	c.client.BaseURL = u
	return nil
}

// GetRepository gets a repository by owner and name
func (c *RESTClient) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	var repo *github.Repository
	err := c.retrier.Do(ctx, "repos/"+owner+"/"+name, func(ctx context.Context) error {
		var err error
		repo, _, err = c.client.Repositories.Get(ctx, owner, name)
		return convertRESTError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// SearchIssues runs an issue search and follows every result page
func (c *RESTClient) SearchIssues(ctx context.Context, query string) ([]*github.Issue, error) {
	items := make([]*github.Issue, 0)
	opts := &github.SearchOptions{
		Sort:  "updated",
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: PerPage,
		},
	}

	for {
		var result *github.IssuesSearchResult
		var resp *github.Response
		err := c.retrier.Do(ctx, "/search/issues", func(ctx context.Context) error {
			var err error
			result, resp, err = c.client.Search.Issues(ctx, query, opts)
			return convertRESTError(err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search issues: %w", err)
		}

		items = append(items, result.Issues...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return items, nil
}

// ListPullCommits lists every commit on a pull request
func (c *RESTClient) ListPullCommits(ctx context.Context, owner, name string, number int) ([]*github.RepositoryCommit, error) {
	return collectPages(ctx, c, pullPath(owner, name, number, "commits"),
		func(ctx context.Context, opts *github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
			return c.client.PullRequests.ListCommits(ctx, owner, name, number, opts)
		})
}

// ListPullFiles lists every file changed by a pull request
func (c *RESTClient) ListPullFiles(ctx context.Context, owner, name string, number int) ([]*github.CommitFile, error) {
	return collectPages(ctx, c, pullPath(owner, name, number, "files"),
		func(ctx context.Context, opts *github.ListOptions) ([]*github.CommitFile, *github.Response, error) {
			return c.client.PullRequests.ListFiles(ctx, owner, name, number, opts)
		})
}

// ListPullReviews lists every review submitted on a pull request
func (c *RESTClient) ListPullReviews(ctx context.Context, owner, name string, number int) ([]*github.PullRequestReview, error) {
	return collectPages(ctx, c, pullPath(owner, name, number, "reviews"),
		func(ctx context.Context, opts *github.ListOptions) ([]*github.PullRequestReview, *github.Response, error) {
			return c.client.PullRequests.ListReviews(ctx, owner, name, number, opts)
		})
}

// ListPullReviewComments lists every inline review comment on a pull request
func (c *RESTClient) ListPullReviewComments(ctx context.Context, owner, name string, number int) ([]*github.PullRequestComment, error) {
	return collectPages(ctx, c, pullPath(owner, name, number, "comments"),
		func(ctx context.Context, opts *github.ListOptions) ([]*github.PullRequestComment, *github.Response, error) {
			return c.client.PullRequests.ListComments(ctx, owner, name, number, &github.PullRequestListCommentsOptions{
				ListOptions: *opts,
			})
		})
}

// ListIssueEvents lists every timeline event on a pull request's issue
func (c *RESTClient) ListIssueEvents(ctx context.Context, owner, name string, number int) ([]*github.IssueEvent, error) {
	return collectPages(ctx, c, fmt.Sprintf("repos/%s/%s/issues/%d/events", owner, name, number),
		func(ctx context.Context, opts *github.ListOptions) ([]*github.IssueEvent, *github.Response, error) {
			return c.client.Issues.ListIssueEvents(ctx, owner, name, number, opts)
		})
}

func collectPages[T any](
	ctx context.Context,
	c *RESTClient,
	op string,
	fetch func(ctx context.Context, opts *github.ListOptions) ([]T, *github.Response, error),
) ([]T, error) {
	all := make([]T, 0)
	opts := &github.ListOptions{PerPage: PerPage}

	for {
		var page []T
		var resp *github.Response
		err := c.retrier.Do(ctx, op, func(ctx context.Context) error {
			var err error
			page, resp, err = fetch(ctx, opts)
			return convertRESTError(err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", op, err)
		}

		all = append(all, page...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// convertRESTError maps go-github errors onto the retry classification
func convertRESTError(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitError{ResetTime: rateErr.Rate.Reset.Time, Err: err}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var reset time.Time
		if abuseErr.RetryAfter != nil {
			reset = time.Now().Add(*abuseErr.RetryAfter)
		}
		return &RateLimitError{ResetTime: reset, Err: err}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return fmt.Errorf("%w: %w", &HTTPError{StatusCode: respErr.Response.StatusCode, Message: respErr.Message}, err)
	}

	return err
}
