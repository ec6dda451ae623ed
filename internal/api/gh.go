package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/devimpact/devimpact-cli/internal/runner"
	"github.com/google/go-github/v57/github"
)

var ghHTTPStatusPattern = regexp.MustCompile(`HTTP (\d{3})`)

// GHClient talks to GitHub through the gh CLI, reusing its authentication
type GHClient struct {
	runner  runner.Runner
	retrier *Retrier
	binary  string
}

// NewGHClient creates a client that shells out to gh
func NewGHClient(r runner.Runner, retrier *Retrier) *GHClient {
	return &GHClient{runner: r, retrier: retrier, binary: "gh"}
}

// CheckInstalled verifies gh is available and returns its version line
func (c *GHClient) CheckInstalled(ctx context.Context) (string, error) {
	res, err := c.runner.Run(ctx, c.binary, "--version")
	if err != nil {
		return "", fmt.Errorf("gh CLI not found, install it from https://cli.github.com/: %w", err)
	}
	firstLine, _, _ := strings.Cut(string(res.Stdout), "\n")
	return strings.TrimSpace(firstLine), nil
}

// CheckAuth verifies gh has a logged in account
func (c *GHClient) CheckAuth(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.binary, "auth", "status"); err != nil {
		return fmt.Errorf("gh is not authenticated, run `gh auth login` first: %w", err)
	}
	return nil
}

// ViewerLogin returns the login gh is authenticated as
func (c *GHClient) ViewerLogin(ctx context.Context) (string, error) {
	var login string
	err := c.retrier.Do(ctx, "/user", func(ctx context.Context) error {
		res, err := c.runner.Run(ctx, c.binary, "api", "/user", "--jq", ".login")
		if err != nil {
			return classifyGHError(err)
		}
		login = strings.TrimSpace(string(res.Stdout))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read GitHub user via gh: %w", err)
	}
	if login == "" {
		return "", errors.New("could not determine GitHub login from gh, is auth configured correctly?")
	}
	return login, nil
}

// GetRepository gets a repository by owner and name
func (c *GHClient) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	out, err := c.get(ctx, fmt.Sprintf("repos/%s/%s", owner, name), nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	var repo github.Repository
	if err := json.Unmarshal(out, &repo); err != nil {
		return nil, fmt.Errorf("%w: repository %s/%s: %v", ErrMalformedPayload, owner, name, err)
	}
	return &repo, nil
}

// SearchIssues runs an issue search and follows every result page
func (c *GHClient) SearchIssues(ctx context.Context, query string) ([]*github.Issue, error) {
	params := []string{
		"q=" + query,
		"sort=updated",
		"order=desc",
		"per_page=" + strconv.Itoa(PerPage),
	}
	out, err := c.get(ctx, "/search/issues", params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	pages, err := decodePages[github.IssuesSearchResult](out)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	items := make([]*github.Issue, 0)
	for _, page := range pages {
		items = append(items, page.Issues...)
	}
	return items, nil
}

// ListPullCommits lists every commit on a pull request
func (c *GHClient) ListPullCommits(ctx context.Context, owner, name string, number int) ([]*github.RepositoryCommit, error) {
	return listAll[*github.RepositoryCommit](ctx, c, pullPath(owner, name, number, "commits"))
}

// ListPullFiles lists every file changed by a pull request
func (c *GHClient) ListPullFiles(ctx context.Context, owner, name string, number int) ([]*github.CommitFile, error) {
	return listAll[*github.CommitFile](ctx, c, pullPath(owner, name, number, "files"))
}

// ListPullReviews lists every review submitted on a pull request
func (c *GHClient) ListPullReviews(ctx context.Context, owner, name string, number int) ([]*github.PullRequestReview, error) {
	return listAll[*github.PullRequestReview](ctx, c, pullPath(owner, name, number, "reviews"))
}

// ListPullReviewComments lists every inline review comment on a pull request
func (c *GHClient) ListPullReviewComments(ctx context.Context, owner, name string, number int) ([]*github.PullRequestComment, error) {
	return listAll[*github.PullRequestComment](ctx, c, pullPath(owner, name, number, "comments"))
}

// ListIssueEvents lists every timeline event on a pull request's issue
func (c *GHClient) ListIssueEvents(ctx context.Context, owner, name string, number int) ([]*github.IssueEvent, error) {
	return listAll[*github.IssueEvent](ctx, c, fmt.Sprintf("repos/%s/%s/issues/%d/events", owner, name, number))
}

func listAll[T any](ctx context.Context, c *GHClient, path string) ([]T, error) {
	out, err := c.get(ctx, path, []string{"per_page=" + strconv.Itoa(PerPage)}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	pages, err := decodePages[[]T](out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	items := make([]T, 0)
	for _, page := range pages {
		items = append(items, page...)
	}
	return items, nil
}

func (c *GHClient) get(ctx context.Context, path string, params []string, paginate bool) ([]byte, error) {
	args := []string{"api", path, "-X", "GET", "-H", "Accept: application/vnd.github+json"}
	for _, p := range params {
		args = append(args, "-f", p)
	}
	if paginate {
		args = append(args, "--paginate")
	}

	var out []byte
	err := c.retrier.Do(ctx, path, func(ctx context.Context) error {
		res, err := c.runner.Run(ctx, c.binary, args...)
		if err != nil {
			return classifyGHError(err)
		}
		out = res.Stdout
		return nil
	})
	return out, err
}

// decodePages decodes gh --paginate output, which is one JSON document per page
// written back to back.
func decodePages[T any](data []byte) ([]T, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var pages []T
	for {
		var page T
		if err := dec.Decode(&page); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// classifyGHError turns a failed gh invocation into a typed upstream error
func classifyGHError(err error) error {
	var exitErr *runner.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}

	lower := strings.ToLower(exitErr.Stderr)
	if strings.Contains(lower, "rate limit") {
		return &RateLimitError{Err: err}
	}

	if m := ghHTTPStatusPattern.FindStringSubmatch(exitErr.Stderr); m != nil {
		code, _ := strconv.Atoi(m[1])
		return fmt.Errorf("%w: %w", &HTTPError{StatusCode: code, Message: strings.TrimSpace(exitErr.Stderr)}, err)
	}
	return err
}

func pullPath(owner, name string, number int, resource string) string {
	return fmt.Sprintf("repos/%s/%s/pulls/%d/%s", owner, name, number, resource)
}
