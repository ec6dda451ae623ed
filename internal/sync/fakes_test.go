package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/devimpact/devimpact-cli/internal/models"
	"github.com/google/go-github/v57/github"
)

type fakeClient struct {
	mu    gosync.Mutex
	calls []string

	repos    map[string]*github.Repository
	authored map[string][]*github.Issue
	reviewed map[string][]*github.Issue

	searchErr  error
	hydrateErr map[int]error

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	delay       time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		repos:      map[string]*github.Repository{},
		authored:   map[string][]*github.Issue{},
		reviewed:   map[string][]*github.Issue{},
		hydrateErr: map[int]error{},
	}
}

func (f *fakeClient) addRepo(fullName string, id int64) {
	owner, name, _ := strings.Cut(fullName, "/")
	f.repos[fullName] = &github.Repository{
		ID:       github.Int64(id),
		Name:     github.String(name),
		FullName: github.String(fullName),
		Owner:    &github.User{Login: github.String(owner)},
		Private:  github.Bool(false),
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeClient) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	f.record("repo " + owner + "/" + name)
	repo, ok := f.repos[owner+"/"+name]
	if !ok {
		return nil, errors.New("github responded with HTTP 404: Not Found")
	}
	return repo, nil
}

func (f *fakeClient) SearchIssues(ctx context.Context, query string) ([]*github.Issue, error) {
	f.record("search " + query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	repo := queryRepo(query)
	if strings.HasPrefix(query, "is:pr -author:") {
		return f.reviewed[repo], nil
	}
	return f.authored[repo], nil
}

func queryRepo(query string) string {
	for _, field := range strings.Fields(query) {
		if repo, ok := strings.CutPrefix(field, "repo:"); ok {
			return repo
		}
	}
	return ""
}

func (f *fakeClient) enter(kind string, number int) error {
	f.record(fmt.Sprintf("%s #%d", kind, number))
	current := f.inFlight.Add(1)
	for {
		peak := f.maxInFlight.Load()
		if current <= peak || f.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.inFlight.Add(-1)
	return f.hydrateErr[number]
}

func (f *fakeClient) ListPullCommits(ctx context.Context, owner, name string, number int) ([]*github.RepositoryCommit, error) {
	if err := f.enter("commits", number); err != nil {
		return nil, err
	}
	return []*github.RepositoryCommit{{SHA: github.String(fmt.Sprintf("sha-%d", number))}}, nil
}

func (f *fakeClient) ListPullFiles(ctx context.Context, owner, name string, number int) ([]*github.CommitFile, error) {
	if err := f.enter("files", number); err != nil {
		return nil, err
	}
	return []*github.CommitFile{{Filename: github.String("main.go")}}, nil
}

func (f *fakeClient) ListPullReviews(ctx context.Context, owner, name string, number int) ([]*github.PullRequestReview, error) {
	if err := f.enter("reviews", number); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeClient) ListPullReviewComments(ctx context.Context, owner, name string, number int) ([]*github.PullRequestComment, error) {
	if err := f.enter("review_comments", number); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeClient) ListIssueEvents(ctx context.Context, owner, name string, number int) ([]*github.IssueEvent, error) {
	if err := f.enter("events", number); err != nil {
		return nil, err
	}
	return []*github.IssueEvent{{Event: github.String("merged")}}, nil
}

type fakeBackend struct {
	mu        gosync.Mutex
	status    *models.CliStatus
	statusErr error
	pushes    []models.SyncPayload
	pushErrAt int
}

func (b *fakeBackend) Status(ctx context.Context) (*models.CliStatus, error) {
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	return b.status, nil
}

func (b *fakeBackend) PushSync(ctx context.Context, payload *models.SyncPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pushErrAt > 0 && len(b.pushes)+1 == b.pushErrAt {
		return errors.New("backend responded with 500")
	}
	b.pushes = append(b.pushes, *payload)
	return nil
}

type fakeJournal struct {
	started  []string
	windows  []models.SyncWindow
	repos    []models.RepoSyncRecord
	finished map[string]error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{finished: map[string]error{}}
}

func (j *fakeJournal) StartRun(runID string, startedAt time.Time) error {
	j.started = append(j.started, runID)
	return nil
}

func (j *fakeJournal) RecordWindow(runID string, window models.SyncWindow) error {
	j.windows = append(j.windows, window)
	return nil
}

func (j *fakeJournal) RecordRepository(runID string, rec models.RepoSyncRecord) error {
	j.repos = append(j.repos, rec)
	return nil
}

func (j *fakeJournal) FinishRun(runID string, finishedAt time.Time, runErr error) error {
	j.finished[runID] = runErr
	return nil
}

func pr(number int, title string) *github.Issue {
	return &github.Issue{
		Number: github.Int(number),
		Title:  github.String(title),
		State:  github.String("closed"),
		PullRequestLinks: &github.PullRequestLinks{
			URL: github.String(fmt.Sprintf("https://api.github.com/repos/acme/api/pulls/%d", number)),
		},
	}
}

func prRange(from, to int) []*github.Issue {
	var issues []*github.Issue
	for n := from; n <= to; n++ {
		issues = append(issues, pr(n, fmt.Sprintf("PR %d", n)))
	}
	return issues
}
